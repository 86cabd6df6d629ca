package automation

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes persisted as the prefix of activity error messages.
const (
	CodeRuleResolution  = "RULE_RESOLUTION"
	CodeActionConfig    = "ACTION_CONFIG"
	CodeActionExecution = "ACTION_EXECUTION"
	CodeRecursionLimit  = "RECURSION_LIMIT"
	CodeConditionConfig = "CONDITION_CONFIG"
)

// RuleResolutionError means candidate rules could not be loaded. It is the
// only error Process returns to its caller.
type RuleResolutionError struct {
	TriggerType TriggerType
	BoardID     string
	Err         error
}

func (e *RuleResolutionError) Error() string {
	return fmt.Sprintf("%s: load rules for %s on board %s: %v", CodeRuleResolution, e.TriggerType, e.BoardID, e.Err)
}

func (e *RuleResolutionError) Unwrap() error { return e.Err }

func (e *RuleResolutionError) Code() string { return CodeRuleResolution }

// ActionConfigError means a handler's required config or context field is
// missing or malformed.
type ActionConfigError struct {
	ActionType ActionType
	Field      string
	Reason     string
	Err        error
}

func (e *ActionConfigError) Error() string {
	msg := fmt.Sprintf("%s: %s", CodeActionConfig, e.ActionType)
	if e.Field != "" {
		msg += " field " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ActionConfigError) Unwrap() error { return e.Err }

func (e *ActionConfigError) Code() string { return CodeActionConfig }

func missingField(t ActionType, field string) *ActionConfigError {
	return &ActionConfigError{ActionType: t, Field: field, Reason: "required"}
}

// ActionExecutionError means the collaborator call failed or timed out.
type ActionExecutionError struct {
	ActionType ActionType
	Timeout    bool
	Err        error
}

func (e *ActionExecutionError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s: %s timed out: %v", CodeActionExecution, e.ActionType, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", CodeActionExecution, e.ActionType, e.Err)
}

func (e *ActionExecutionError) Unwrap() error { return e.Err }

func (e *ActionExecutionError) Code() string { return CodeActionExecution }

// DenyReason says why the recursion guard refused a synthetic event.
type DenyReason string

const (
	DenyDepth DenyReason = "depth"
	DenyCycle DenyReason = "cycle"
)

// RecursionLimitExceededError is produced when a synthetic re-trigger would
// exceed the depth cap or revisit a trigger type already in its chain.
type RecursionLimitExceededError struct {
	Chain    Chain
	Proposed TriggerType
	Reason   DenyReason
	MaxDepth int
}

func (e *RecursionLimitExceededError) Error() string {
	parts := make([]string, len(e.Chain))
	for i, t := range e.Chain {
		parts[i] = string(t)
	}
	chain := strings.Join(parts, " -> ")
	if e.Reason == DenyCycle {
		return fmt.Sprintf("%s: RecursionLimitExceeded: %s already in chain [%s]", CodeRecursionLimit, e.Proposed, chain)
	}
	return fmt.Sprintf("%s: RecursionLimitExceeded: depth %d reached at %s (chain [%s])", CodeRecursionLimit, e.MaxDepth, e.Proposed, chain)
}

func (e *RecursionLimitExceededError) Code() string { return CodeRecursionLimit }

// ConditionConfigError means a trigger's condition map holds a value of the
// wrong type for its key.
type ConditionConfigError struct {
	TriggerType TriggerType
	Err         error
}

func (e *ConditionConfigError) Error() string {
	return fmt.Sprintf("%s: %s: %v", CodeConditionConfig, e.TriggerType, e.Err)
}

func (e *ConditionConfigError) Unwrap() error { return e.Err }

func (e *ConditionConfigError) Code() string { return CodeConditionConfig }

// IsRuleResolutionError reports whether err is a RuleResolutionError.
func IsRuleResolutionError(err error) bool {
	var re *RuleResolutionError
	return errors.As(err, &re)
}

// IsActionConfigError reports whether err is an ActionConfigError.
func IsActionConfigError(err error) bool {
	var ce *ActionConfigError
	return errors.As(err, &ce)
}

// IsActionExecutionError reports whether err is an ActionExecutionError.
func IsActionExecutionError(err error) bool {
	var ee *ActionExecutionError
	return errors.As(err, &ee)
}

// IsRecursionLimitExceeded reports whether err is a RecursionLimitExceededError.
func IsRecursionLimitExceeded(err error) bool {
	var re *RecursionLimitExceededError
	return errors.As(err, &re)
}

// IsConditionConfigError reports whether err is a ConditionConfigError.
func IsConditionConfigError(err error) bool {
	var ce *ConditionConfigError
	return errors.As(err, &ce)
}
