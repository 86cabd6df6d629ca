package metrics

import (
	"sync"
	"testing"
)

func TestIncRateLimitDrop(t *testing.T) {
	Reset()

	IncRateLimitDrop("events")
	IncRateLimitDrop("")
	IncRateLimitDrop("global")

	s := Take()
	if s.RateLimitDrops != 3 {
		t.Fatalf("expected 3 drops, got %d", s.RateLimitDrops)
	}
	if s.RateLimitByPrefix["global"] != 2 {
		t.Fatalf("empty prefix should count as global, got %v", s.RateLimitByPrefix)
	}
	if s.RateLimitByPrefix["events"] != 1 {
		t.Fatalf("expected 1 events drop, got %v", s.RateLimitByPrefix)
	}
}

func TestActionOutcomesConcurrent(t *testing.T) {
	Reset()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			IncActionOutcome("ADD_TAG", "success")
			IncRecursionDenied("cycle")
		}()
	}
	wg.Wait()
	IncRuleResolutionFailure()

	s := Take()
	if s.Actions["ADD_TAG:success"] != 50 {
		t.Fatalf("expected 50 outcomes, got %d", s.Actions["ADD_TAG:success"])
	}
	if s.RecursionDenied["cycle"] != 50 {
		t.Fatalf("expected 50 denials, got %d", s.RecursionDenied["cycle"])
	}
	if s.RuleResolutionFailures != 1 {
		t.Fatalf("expected 1 resolution failure, got %d", s.RuleResolutionFailures)
	}

	// snapshots are copies
	s.Actions["ADD_TAG:success"] = 0
	if Take().Actions["ADD_TAG:success"] != 50 {
		t.Fatal("snapshot aliased internal state")
	}
}
