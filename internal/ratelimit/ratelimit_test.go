package ratelimit_test

import (
	"testing"

	"github.com/agentmold/gateway/internal/ratelimit"
)

func TestAllow_BurstUpToHourlyAllotmentThenDenies(t *testing.T) {
	l := ratelimit.NewLimiter(map[string]int{ratelimit.TierTrial: 3})

	for i := 0; i < 3; i++ {
		if !l.Allow(ratelimit.TierTrial, "cust-1") {
			t.Fatalf("Allow() call %d = false, want true within burst allotment", i+1)
		}
	}
	if l.Allow(ratelimit.TierTrial, "cust-1") {
		t.Error("Allow() after exhausting burst = true, want false")
	}
}

func TestAllow_BucketsAreIndependentPerCustomer(t *testing.T) {
	l := ratelimit.NewLimiter(map[string]int{ratelimit.TierTrial: 1})

	if !l.Allow(ratelimit.TierTrial, "cust-1") {
		t.Fatal("Allow() first call for cust-1 = false, want true")
	}
	if l.Allow(ratelimit.TierTrial, "cust-1") {
		t.Error("Allow() second call for cust-1 = true, want false (bucket exhausted)")
	}
	if !l.Allow(ratelimit.TierTrial, "cust-2") {
		t.Error("Allow() for a different customer = false, want true (independent bucket)")
	}
}

func TestAllow_BucketsAreIndependentPerTier(t *testing.T) {
	l := ratelimit.NewLimiter(map[string]int{ratelimit.TierTrial: 1, ratelimit.TierPaid: 1})

	if !l.Allow(ratelimit.TierTrial, "cust-1") {
		t.Fatal("Allow() trial tier = false, want true")
	}
	if !l.Allow(ratelimit.TierPaid, "cust-1") {
		t.Error("Allow() paid tier for same customer = false, want true (independent bucket)")
	}
}

func TestNewLimiter_NilPerTierUsesDefaults(t *testing.T) {
	l := ratelimit.NewLimiter(nil)
	if !l.Allow(ratelimit.TierGovernor, "cust-1") {
		t.Error("Allow() with default governor tier = false, want true on first call")
	}
}
