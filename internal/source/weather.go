package source

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

// WeatherProvider reads ambient air quality from the OpenWeatherMap air
// pollution endpoint. It anchors environmental KPIs such as local emissions
// and air quality covenants to conditions at the borrower facility.
type WeatherProvider struct {
	client  *HTTPClient
	baseURL string
	apiKey  string
}

// NewWeatherProvider creates the air quality provider.
func NewWeatherProvider(client *HTTPClient, baseURL, apiKey string) *WeatherProvider {
	return &WeatherProvider{client: client, baseURL: baseURL, apiKey: apiKey}
}

func (p *WeatherProvider) Name() string { return "openweathermap" }

func (p *WeatherProvider) Configured() error {
	if p.apiKey == "" {
		return &MisconfiguredError{Provider: p.Name(), Missing: "api key"}
	}
	if p.baseURL == "" {
		return &MisconfiguredError{Provider: p.Name(), Missing: "base url"}
	}
	return nil
}

type airPollutionResponse struct {
	List []struct {
		Dt   int64 `json:"dt"`
		Main struct {
			AQI int `json:"aqi"`
		} `json:"main"`
		Components struct {
			PM25 float64 `json:"pm2_5"`
		} `json:"components"`
	} `json:"list"`
}

func (p *WeatherProvider) Fetch(ctx context.Context, params Params) (RawReading, error) {
	if len(params.Coord) < 2 {
		return RawReading{}, &ConfigurationError{Provider: p.Name(), Reason: "missing facility location"}
	}

	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%.4f", params.Coord.Y()))
	q.Set("lon", fmt.Sprintf("%.4f", params.Coord.X()))
	q.Set("appid", p.apiKey)

	var resp airPollutionResponse
	if err := p.client.GetJSON(ctx, p.baseURL+"/air_pollution?"+q.Encode(), &resp); err != nil {
		return RawReading{}, err
	}
	if len(resp.List) == 0 {
		return RawReading{}, eris.New("source: weather returned no observations")
	}

	obs := resp.List[0]
	return RawReading{
		Value:     obs.Components.PM25,
		Unit:      "ug/m3",
		Timestamp: time.Unix(obs.Dt, 0).UTC(),
	}, nil
}
