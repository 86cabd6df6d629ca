package automation

// DefaultMaxDepth caps the length of a recursion chain.
const DefaultMaxDepth = 5

// RecursionGuard decides whether a synthetic re-trigger may be dispatched.
//
// It catches two failure shapes:
//   - cycles: A -> B -> A, where a trigger type would re-enter its own chain
//   - runaway depth: A -> B -> C -> ... beyond MaxDepth distinct hops
//
// The guard holds no per-dispatch state; the chain travels with the dispatch.
type RecursionGuard struct {
	maxDepth int
}

func NewRecursionGuard(maxDepth int) *RecursionGuard {
	if maxDepth < 1 {
		maxDepth = DefaultMaxDepth
	}
	return &RecursionGuard{maxDepth: maxDepth}
}

func (g *RecursionGuard) MaxDepth() int { return g.maxDepth }

// Admit returns nil when next may be dispatched after chain, otherwise a
// *RecursionLimitExceededError. Depth is checked before cycles.
func (g *RecursionGuard) Admit(chain Chain, next TriggerType) error {
	if len(chain) >= g.maxDepth {
		return &RecursionLimitExceededError{Chain: chain, Proposed: next, Reason: DenyDepth, MaxDepth: g.maxDepth}
	}
	if chain.Contains(next) {
		return &RecursionLimitExceededError{Chain: chain, Proposed: next, Reason: DenyCycle, MaxDepth: g.maxDepth}
	}
	return nil
}
