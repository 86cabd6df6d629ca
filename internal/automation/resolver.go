package automation

import (
	"context"
	"sort"
)

// Resolver loads the rules eligible for one incoming event.
type Resolver struct {
	store RuleStore
}

func NewResolver(store RuleStore) *Resolver {
	return &Resolver{store: store}
}

// FindCandidateRules returns the active rules on boardID whose trigger type
// equals triggerType, with actions sorted by Order. Ties keep their stored
// order. A store failure returns no rules and a *RuleResolutionError.
func (r *Resolver) FindCandidateRules(ctx context.Context, triggerType TriggerType, boardID, workspaceID string) ([]Rule, error) {
	rules, err := r.store.FindActiveRules(ctx, triggerType, boardID, workspaceID)
	if err != nil {
		return nil, &RuleResolutionError{TriggerType: triggerType, BoardID: boardID, Err: err}
	}

	candidates := make([]Rule, 0, len(rules))
	for _, rule := range rules {
		if !rule.Active || rule.Trigger.Type != triggerType {
			continue
		}
		if rule.BoardID != boardID {
			continue
		}
		if workspaceID != "" && rule.WorkspaceID != "" && rule.WorkspaceID != workspaceID {
			continue
		}
		rule.Actions = sortActions(rule.Actions)
		candidates = append(candidates, rule)
	}
	return candidates, nil
}

func sortActions(actions []Action) []Action {
	sorted := make([]Action, len(actions))
	copy(sorted, actions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Order < sorted[j].Order
	})
	return sorted
}
