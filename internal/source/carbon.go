package source

import (
	"context"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

// CarbonProvider reads regional grid carbon intensity from the UK Carbon
// Intensity API. Energy-mix and emissions-intensity KPIs are verified against
// the grid serving the borrower's postcode.
type CarbonProvider struct {
	client  *HTTPClient
	baseURL string
}

// NewCarbonProvider creates the grid carbon intensity provider. The API is
// open, so only a base URL is required.
func NewCarbonProvider(client *HTTPClient, baseURL string) *CarbonProvider {
	return &CarbonProvider{client: client, baseURL: baseURL}
}

func (p *CarbonProvider) Name() string { return "carbon_intensity" }

func (p *CarbonProvider) Configured() error {
	if p.baseURL == "" {
		return &MisconfiguredError{Provider: p.Name(), Missing: "base url"}
	}
	return nil
}

type carbonResponse struct {
	Data []struct {
		Data []struct {
			From      string `json:"from"`
			Intensity struct {
				Forecast float64  `json:"forecast"`
				Actual   *float64 `json:"actual"`
			} `json:"intensity"`
		} `json:"data"`
	} `json:"data"`
}

func (p *CarbonProvider) Fetch(ctx context.Context, params Params) (RawReading, error) {
	if params.Postcode == "" {
		return RawReading{}, &ConfigurationError{Provider: p.Name(), Reason: "missing postcode"}
	}

	endpoint := p.baseURL + "/regional/postcode/" + url.PathEscape(params.Postcode)
	var resp carbonResponse
	if err := p.client.GetJSON(ctx, endpoint, &resp); err != nil {
		return RawReading{}, err
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Data) == 0 {
		return RawReading{}, eris.New("source: carbon intensity returned no periods")
	}

	period := resp.Data[0].Data[0]
	value := period.Intensity.Forecast
	if period.Intensity.Actual != nil {
		value = *period.Intensity.Actual
	}

	ts, err := time.Parse("2006-01-02T15:04Z", period.From)
	if err != nil {
		ts = time.Now().UTC()
	}

	return RawReading{
		Value:     value,
		Unit:      "gCO2/kWh",
		Timestamp: ts,
	}, nil
}
