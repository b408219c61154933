package source

import (
	"context"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// Roughly one degree of latitude in kilometers; good enough for a coarse
// bounding box at facility scale.
const kmPerDegree = 111.0

// SatelliteProvider counts active fire detections near the borrower facility
// using the NASA FIRMS area API. Deforestation and land-use KPIs are checked
// against it.
type SatelliteProvider struct {
	client  *HTTPClient
	baseURL string
	apiKey  string
	now     func() time.Time
}

// NewSatelliteProvider creates the fire detection provider.
func NewSatelliteProvider(client *HTTPClient, baseURL, apiKey string) *SatelliteProvider {
	return &SatelliteProvider{client: client, baseURL: baseURL, apiKey: apiKey, now: time.Now}
}

func (p *SatelliteProvider) Name() string { return "nasa_firms" }

func (p *SatelliteProvider) Configured() error {
	if p.apiKey == "" {
		return &MisconfiguredError{Provider: p.Name(), Missing: "api key"}
	}
	if p.baseURL == "" {
		return &MisconfiguredError{Provider: p.Name(), Missing: "base url"}
	}
	return nil
}

// bbox expands the facility coordinate into a query bounding box of
// radiusKm per side.
func bbox(coord geom.Coord, radiusKm float64) *geom.Bounds {
	delta := radiusKm / kmPerDegree
	b := geom.NewBounds(geom.XY)
	b.Set(coord.X()-delta, coord.Y()-delta, coord.X()+delta, coord.Y()+delta)
	return b
}

func (p *SatelliteProvider) Fetch(ctx context.Context, params Params) (RawReading, error) {
	if len(params.Coord) < 2 {
		return RawReading{}, &ConfigurationError{Provider: p.Name(), Reason: "missing facility location"}
	}
	days := params.Days
	if days <= 0 {
		days = 7
	}
	radius := params.RadiusKm
	if radius <= 0 {
		radius = 50
	}

	b := bbox(params.Coord, radius)
	area := fmt.Sprintf("%.4f,%.4f,%.4f,%.4f", b.Min(0), b.Min(1), b.Max(0), b.Max(1))
	url := fmt.Sprintf("%s/area/csv/%s/VIIRS_SNPP_NRT/%s/%d", p.baseURL, p.apiKey, area, days)

	body, err := p.client.GetBody(ctx, url)
	if err != nil {
		return RawReading{}, err
	}

	records, err := csv.NewReader(strings.NewReader(string(body))).ReadAll()
	if err != nil {
		return RawReading{}, eris.Wrap(err, "source: parse firms csv")
	}

	// First row is the header; an empty or header-only payload means zero
	// detections in the window.
	count := 0
	if len(records) > 1 {
		count = len(records) - 1
	}

	return RawReading{
		Value:     float64(count),
		Unit:      "detections",
		Timestamp: p.now().UTC(),
	}, nil
}
