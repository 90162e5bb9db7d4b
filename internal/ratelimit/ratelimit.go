// Package ratelimit provides per-(tier, customer_id) token-bucket rate
// limiting for the gateway's ingress stage.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Tier names.
const (
	TierTrial     = "trial"
	TierPaid      = "paid"
	TierGovernor  = "governor"
)

// TierRatesPerHour is the spec's documented per-tier bucket capacity.
var TierRatesPerHour = map[string]int{
	TierTrial:    100,
	TierPaid:     1000,
	TierGovernor: 10000,
}

// Limiter keys a token bucket by (tier, customer_id), lazily creating
// buckets on first use and sizing each bucket's burst to the tier's
// full hourly allotment.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	perTier  map[string]int
}

// NewLimiter builds a rate limiter. A nil perTier uses TierRatesPerHour.
func NewLimiter(perTier map[string]int) *Limiter {
	if perTier == nil {
		perTier = TierRatesPerHour
	}
	return &Limiter{
		buckets: make(map[string]*rate.Limiter),
		perTier: perTier,
	}
}

// Allow reports whether one request for (tier, customerID) may proceed,
// consuming one token from that tenant's bucket if so.
func (l *Limiter) Allow(tier, customerID string) bool {
	return l.bucketFor(tier, customerID).Allow()
}

func (l *Limiter) bucketFor(tier, customerID string) *rate.Limiter {
	key := tier + ":" + customerID

	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[key]; ok {
		return b
	}

	perHour := l.perTier[tier]
	if perHour <= 0 {
		perHour = TierRatesPerHour[TierPaid]
	}
	// Refill at perHour tokens per hour, with burst equal to the full
	// hourly allotment so a tenant can use its whole budget in a burst
	// at the top of the window.
	ratePerSecond := rate.Limit(float64(perHour) / 3600.0)
	b := rate.NewLimiter(ratePerSecond, perHour)
	l.buckets[key] = b
	return b
}
