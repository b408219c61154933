package source

import (
	"context"
	"net/url"
	"time"
)

// NumericProvider reads published numeric series (workforce statistics, board
// composition disclosures) from a generic facts endpoint keyed by series name.
// Social and governance KPIs without a dedicated provider land here.
type NumericProvider struct {
	client  *HTTPClient
	baseURL string
}

// NewNumericProvider creates the numeric facts provider.
func NewNumericProvider(client *HTTPClient, baseURL string) *NumericProvider {
	return &NumericProvider{client: client, baseURL: baseURL}
}

func (p *NumericProvider) Name() string { return "numeric_facts" }

func (p *NumericProvider) Configured() error {
	if p.baseURL == "" {
		return &MisconfiguredError{Provider: p.Name(), Missing: "base url"}
	}
	return nil
}

type numericResponse struct {
	Series    string  `json:"series"`
	Value     float64 `json:"value"`
	Unit      string  `json:"unit"`
	Timestamp string  `json:"timestamp"`
}

func (p *NumericProvider) Fetch(ctx context.Context, params Params) (RawReading, error) {
	if params.Series == "" {
		return RawReading{}, &ConfigurationError{Provider: p.Name(), Reason: "missing series name"}
	}

	endpoint := p.baseURL + "/series/" + url.PathEscape(params.Series) + "/latest"
	var resp numericResponse
	if err := p.client.GetJSON(ctx, endpoint, &resp); err != nil {
		return RawReading{}, err
	}

	ts, err := time.Parse(time.RFC3339, resp.Timestamp)
	if err != nil {
		ts = time.Now().UTC()
	}

	return RawReading{
		Value:     resp.Value,
		Unit:      resp.Unit,
		Timestamp: ts,
	}, nil
}
