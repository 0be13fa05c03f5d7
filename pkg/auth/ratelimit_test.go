package auth

import (
	"context"
	"errors"
	"testing"
)

func TestInProcessLimiterBurst(t *testing.T) {
	l := NewInProcessLimiter(map[string]TierConfig{
		"basic": {RequestsPerMinute: 60, Burst: 3},
	}, 0)
	id := &Identity{Subject: "alice", ServiceTier: "basic"}

	for i := range 3 {
		if err := l.Allow(context.Background(), id); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	if err := l.Allow(context.Background(), id); !errors.Is(err, ErrTooManyRequests) {
		t.Fatalf("request over burst: err = %v, want ErrTooManyRequests", err)
	}

	// Buckets are per subject.
	if err := l.Allow(context.Background(), &Identity{Subject: "bob", ServiceTier: "basic"}); err != nil {
		t.Errorf("other subject limited: %v", err)
	}
}

func TestInProcessLimiterDefaults(t *testing.T) {
	unlimited := NewInProcessLimiter(nil, 0)
	for range 100 {
		if err := unlimited.Allow(context.Background(), &Identity{Subject: "a"}); err != nil {
			t.Fatalf("zero rate limited a request: %v", err)
		}
	}

	// Unknown tiers fall back to the default rate, burst equals the rate.
	l := NewInProcessLimiter(map[string]TierConfig{"gold": {RequestsPerMinute: 1000}}, 2)
	id := &Identity{Subject: "a", ServiceTier: "bronze"}
	_ = l.Allow(context.Background(), id)
	_ = l.Allow(context.Background(), id)
	if err := l.Allow(context.Background(), id); !errors.Is(err, ErrTooManyRequests) {
		t.Errorf("err = %v, want ErrTooManyRequests", err)
	}
}
