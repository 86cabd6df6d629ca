package metrics

import (
	"sync"
	"sync/atomic"
)

// automationStats holds engine counters. Kept simple/thread-safe for use from
// the engine, middlewares and exposition.
type automationStats struct {
	mu               sync.Mutex
	actions          map[string]uint64 // "<ACTION_TYPE>:<status>" -> count
	recursionDenied  map[string]uint64 // reason -> count
	resolutionFailed uint64
	rateLimitTotal   uint64
	rateLimitByPath  map[string]uint64
}

var st automationStats

// IncActionOutcome counts one action execution attempt.
func IncActionOutcome(actionType, status string) {
	st.mu.Lock()
	if st.actions == nil {
		st.actions = make(map[string]uint64)
	}
	st.actions[actionType+":"+status]++
	st.mu.Unlock()
}

// IncRecursionDenied counts one synthetic event dropped by the recursion guard.
func IncRecursionDenied(reason string) {
	st.mu.Lock()
	if st.recursionDenied == nil {
		st.recursionDenied = make(map[string]uint64)
	}
	st.recursionDenied[reason]++
	st.mu.Unlock()
}

func IncRuleResolutionFailure() {
	atomic.AddUint64(&st.resolutionFailed, 1)
}

// IncRateLimitDrop increments drop counters for the given prefix.
// Use prefix "global" for global limiter rejections.
func IncRateLimitDrop(prefix string) {
	if prefix == "" {
		prefix = "global"
	}
	atomic.AddUint64(&st.rateLimitTotal, 1)
	st.mu.Lock()
	if st.rateLimitByPath == nil {
		st.rateLimitByPath = make(map[string]uint64)
	}
	st.rateLimitByPath[prefix]++
	st.mu.Unlock()
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Actions                map[string]uint64 `json:"actions"`
	RecursionDenied        map[string]uint64 `json:"recursion_denied"`
	RuleResolutionFailures uint64            `json:"rule_resolution_failures"`
	RateLimitDrops         uint64            `json:"rate_limit_drops"`
	RateLimitByPrefix      map[string]uint64 `json:"rate_limit_by_prefix"`
}

// Take returns a copy of the current counters.
func Take() Snapshot {
	s := Snapshot{
		RuleResolutionFailures: atomic.LoadUint64(&st.resolutionFailed),
		RateLimitDrops:         atomic.LoadUint64(&st.rateLimitTotal),
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	s.Actions = copyCounts(st.actions)
	s.RecursionDenied = copyCounts(st.recursionDenied)
	s.RateLimitByPrefix = copyCounts(st.rateLimitByPath)
	return s
}

func copyCounts(in map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Reset zeroes every counter. Tests only.
func Reset() {
	st.mu.Lock()
	st.actions = nil
	st.recursionDenied = nil
	st.rateLimitByPath = nil
	st.mu.Unlock()
	atomic.StoreUint64(&st.resolutionFailed, 0)
	atomic.StoreUint64(&st.rateLimitTotal, 0)
}
