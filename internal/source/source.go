// Package source implements the external data provider gateway. Each KPI
// category maps to a set of providers; the gateway degrades per provider from
// a live call to cached data to a deterministic simulator, so a verification
// run always gets a full set of readings.
package source

import (
	"context"
	"time"

	"github.com/twpayne/go-geom"
)

// Params carries the request inputs a provider needs to locate a reading.
// Providers pick the fields they understand and ignore the rest.
type Params struct {
	// Coord is the borrower facility location as [longitude, latitude].
	Coord geom.Coord

	// Postcode for regional grid data lookups.
	Postcode string

	// Symbol is the borrower's listed ticker, when available.
	Symbol string

	// Series names the metric series being requested (derived from the KPI).
	Series string

	// RadiusKm bounds area queries around Coord.
	RadiusKm float64

	// Days bounds the observation window for time-ranged queries.
	Days int
}

// RawReading is a provider response before the gateway attaches reliability
// and provenance.
type RawReading struct {
	Value     float64
	Unit      string
	Timestamp time.Time
}

// Provider is one external data source. Implementations must be safe for
// concurrent use; the gateway fans out across providers from multiple
// goroutines.
type Provider interface {
	// Name returns the catalogue key for this provider.
	Name() string

	// Configured reports whether the provider has the credentials and
	// endpoints it needs for live calls. A misconfigured provider is held on
	// the fallback path rather than failing runs.
	Configured() error

	// Fetch performs one live call. Transport failures are classified by the
	// resilience package and absorbed by the gateway's fallback ladder; a
	// missing required parameter is a *ConfigurationError and propagates.
	Fetch(ctx context.Context, p Params) (RawReading, error)
}
