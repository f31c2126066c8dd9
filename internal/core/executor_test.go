package core

import "testing"

func TestExecutorRateLimitDisabledByDefault(t *testing.T) {
	e := NewExecutor(NewRegistry(), NewMultiLevelCache(8), NewStateStore(), nil, nil, 0, 0)
	if l := e.limiterFor("session-a"); l != nil {
		t.Error("expected no limiter when constructed with ratePerSecond<=0")
	}
}

func TestExecutorSetRateLimitEnablesLimiting(t *testing.T) {
	e := NewExecutor(NewRegistry(), NewMultiLevelCache(8), NewStateStore(), nil, nil, 0, 0)
	if l := e.limiterFor("session-a"); l != nil {
		t.Fatal("expected no limiter before SetRateLimit")
	}

	e.SetRateLimit(10, 5)

	l := e.limiterFor("session-a")
	if l == nil {
		t.Fatal("expected a limiter to exist after SetRateLimit with a positive rate")
	}
	if l.Limit() != 10 {
		t.Errorf("expected limit 10, got %v", l.Limit())
	}
	if l.Burst() != 5 {
		t.Errorf("expected burst 5, got %d", l.Burst())
	}
}

func TestExecutorSetRateLimitUpdatesExistingLimiters(t *testing.T) {
	e := NewExecutor(NewRegistry(), NewMultiLevelCache(8), NewStateStore(), nil, nil, 1, 1)

	l := e.limiterFor("session-a")
	if l == nil {
		t.Fatal("expected a limiter to exist with a positive initial rate")
	}

	e.SetRateLimit(100, 50)

	updated := e.limiterFor("session-a")
	if updated != l {
		t.Fatal("expected SetRateLimit to update the existing limiter in place, not replace it")
	}
	if updated.Limit() != 100 {
		t.Errorf("expected updated limit 100, got %v", updated.Limit())
	}
	if updated.Burst() != 50 {
		t.Errorf("expected updated burst 50, got %d", updated.Burst())
	}
}

func TestExecutorSetRateLimitCanDisable(t *testing.T) {
	e := NewExecutor(NewRegistry(), NewMultiLevelCache(8), NewStateStore(), nil, nil, 5, 5)
	e.limiterFor("session-a") // materialize a limiter under the initial rate

	e.SetRateLimit(0, 0)

	// An already-materialized limiter is updated to rate 0 and stays in the
	// map, but limiterFor returns nil for every session key, old or new,
	// since rateLimit<=0 short-circuits before the map is consulted.
	if l := e.limiterFor("session-b"); l != nil {
		t.Error("expected no limiter for a new session once rate is disabled")
	}
}
