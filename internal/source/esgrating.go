package source

import (
	"context"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/esglend/verify-cli/internal/model"
)

// ESGRatingProvider reads third-party ESG pillar scores for listed borrowers.
// It is the only provider that serves all three KPI categories, returning the
// pillar score matching the KPI under verification.
type ESGRatingProvider struct {
	client  *HTTPClient
	baseURL string
	apiKey  string
	now     func() time.Time
}

// NewESGRatingProvider creates the ESG ratings provider.
func NewESGRatingProvider(client *HTTPClient, baseURL, apiKey string) *ESGRatingProvider {
	return &ESGRatingProvider{client: client, baseURL: baseURL, apiKey: apiKey, now: time.Now}
}

func (p *ESGRatingProvider) Name() string { return "esg_ratings" }

func (p *ESGRatingProvider) Configured() error {
	if p.apiKey == "" {
		return &MisconfiguredError{Provider: p.Name(), Missing: "api key"}
	}
	if p.baseURL == "" {
		return &MisconfiguredError{Provider: p.Name(), Missing: "base url"}
	}
	return nil
}

type esgRatingResponse struct {
	Symbol             string  `json:"symbol"`
	EnvironmentalScore float64 `json:"environmental_score"`
	SocialScore        float64 `json:"social_score"`
	GovernanceScore    float64 `json:"governance_score"`
	AsOf               string  `json:"as_of"`
}

func (p *ESGRatingProvider) Fetch(ctx context.Context, params Params) (RawReading, error) {
	if params.Symbol == "" {
		return RawReading{}, &ConfigurationError{Provider: p.Name(), Reason: "missing ticker symbol"}
	}

	q := url.Values{}
	q.Set("function", "ESG")
	q.Set("symbol", params.Symbol)
	q.Set("apikey", p.apiKey)

	var resp esgRatingResponse
	if err := p.client.GetJSON(ctx, p.baseURL+"/query?"+q.Encode(), &resp); err != nil {
		return RawReading{}, err
	}

	var value float64
	switch model.KPICategory(params.Series) {
	case model.CategorySocial:
		value = resp.SocialScore
	case model.CategoryGovernance:
		value = resp.GovernanceScore
	default:
		value = resp.EnvironmentalScore
	}
	if value == 0 {
		return RawReading{}, eris.Errorf("source: no esg rating for %s", params.Symbol)
	}

	ts := p.now().UTC()
	if parsed, err := time.Parse("2006-01-02", resp.AsOf); err == nil {
		ts = parsed
	}

	return RawReading{
		Value:     value,
		Unit:      "score",
		Timestamp: ts,
	}, nil
}
