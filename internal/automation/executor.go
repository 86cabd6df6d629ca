package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultActionTimeout bounds a single handler invocation.
const DefaultActionTimeout = 10 * time.Second

var errBreakerOpen = errors.New("collaborator circuit open")

// ActionResult is the outcome of one action of one rule execution.
type ActionResult struct {
	Action    Action
	Status    ActivityStatus
	Err       error
	Retrigger *SyntheticEvent
}

// Executor runs a rule's actions in ascending order. A failed action is
// recorded and skipped; later actions still run and earlier ones are not
// rolled back.
type Executor struct {
	registry *Registry
	collab   Collaborators
	activity *ActivityLogger
	breakers *breakerSet
	timeout  time.Duration
	logger   *logrus.Logger
	tracer   trace.Tracer
}

// Run executes rule's actions against evt. Once ctx is done, actions that
// have not started are abandoned; an action already running is allowed to
// finish under its own timeout.
func (x *Executor) Run(ctx context.Context, rule Rule, evt EventContext) []ActionResult {
	actions := sortActions(rule.Actions)
	results := make([]ActionResult, 0, len(actions))

	for i, action := range actions {
		if err := ctx.Err(); err != nil {
			x.logger.WithFields(logrus.Fields{
				"rule_id":   rule.ID,
				"abandoned": len(actions) - i,
			}).Warnf("automation: dispatch budget exhausted, skipping remaining actions: %v", err)
			break
		}

		res := x.runAction(ctx, rule, action, evt)
		if res.Err != nil {
			x.logger.WithFields(logrus.Fields{
				"rule_id": rule.ID,
				"action":  action.Type,
				"order":   action.Order,
			}).Warnf("automation: action failed: %v", res.Err)
			x.activity.failure(ctx, rule, &action, res.Err)
		} else {
			x.activity.success(ctx, rule, action)
		}
		results = append(results, res)
	}
	return results
}

func (x *Executor) runAction(ctx context.Context, rule Rule, action Action, evt EventContext) ActionResult {
	ctx, span := x.tracer.Start(ctx, "automation.action",
		trace.WithAttributes(
			attribute.String("automation.rule_id", rule.ID),
			attribute.String("automation.action", string(action.Type)),
			attribute.Int("automation.order", action.Order),
		))
	defer span.End()

	res := ActionResult{Action: action, Status: ActivitySuccess}
	out, err := x.apply(ctx, action, evt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		res.Status = ActivityFailure
		res.Err = err
		return res
	}
	res.Retrigger = out.Retrigger
	return res
}

func (x *Executor) apply(ctx context.Context, action Action, evt EventContext) (Outcome, error) {
	h, ok := x.registry.Lookup(action.Type)
	if !ok {
		return Outcome{}, &ActionConfigError{ActionType: action.Type, Reason: "no handler registered"}
	}

	cb := x.breakers.forAction(action.Type)
	if cb != nil && !cb.Allow() {
		return Outcome{}, &ActionExecutionError{ActionType: action.Type, Err: errBreakerOpen}
	}

	out, err := x.invoke(ctx, h, action, evt)
	if err != nil && !IsActionConfigError(err) && !IsActionExecutionError(err) {
		err = &ActionExecutionError{ActionType: action.Type, Err: err}
	}

	if cb != nil {
		switch {
		case err == nil:
			cb.OnSuccess()
		case IsActionExecutionError(err):
			cb.OnFailure()
		}
	}
	return out, err
}

// invoke calls h under the action timeout. The caller's cancellation does
// not reach the handler.
func (x *Executor) invoke(ctx context.Context, h Handler, action Action, evt EventContext) (Outcome, error) {
	actx := context.WithoutCancel(ctx)
	if x.timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(actx, x.timeout)
		defer cancel()
	}

	type result struct {
		out Outcome
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: &ActionExecutionError{ActionType: action.Type, Err: fmt.Errorf("handler panic: %v", r)}}
			}
		}()
		out, err := h(actx, action.Config, evt, x.collab)
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) {
			var ee *ActionExecutionError
			if !errors.As(r.err, &ee) {
				return r.out, &ActionExecutionError{ActionType: action.Type, Timeout: true, Err: r.err}
			}
			ee.Timeout = true
		}
		return r.out, r.err
	case <-actx.Done():
		return Outcome{}, &ActionExecutionError{ActionType: action.Type, Timeout: true, Err: actx.Err()}
	}
}
