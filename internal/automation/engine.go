package automation

import (
	"context"
	"time"

	"kanflow/internal/metrics"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// DefaultRuleConcurrency is how many rules of one dispatch may run at once.
const DefaultRuleConcurrency = 4

// Dispatcher is the single entry point feature code calls when a domain
// event occurs.
type Dispatcher interface {
	Process(ctx context.Context, triggerType TriggerType, evt EventContext, boardID, workspaceID string) error
}

// Engine resolves, filters and executes rules for incoming events, feeding
// synthetic re-triggers back through the recursion guard.
type Engine struct {
	resolver        *Resolver
	executor        *Executor
	guard           *RecursionGuard
	activity        *ActivityLogger
	breakers        *breakerSet
	ledger          OccurrenceLedger
	logger          *logrus.Logger
	tracer          trace.Tracer
	concurrency     int
	dispatchTimeout time.Duration
	now             func() time.Time
}

type options struct {
	logger          *logrus.Logger
	registry        *Registry
	maxDepth        int
	actionTimeout   time.Duration
	dispatchTimeout time.Duration
	concurrency     int
	breaker         *BreakerConfig
	ledger          OccurrenceLedger
	now             func() time.Time
	tracer          trace.Tracer
}

// Option configures an Engine.
type Option func(*options)

func WithLogger(logger *logrus.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegistry replaces the built-in handler registry.
func WithRegistry(r *Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithMaxDepth sets the recursion chain cap. Values below 1 use DefaultMaxDepth.
func WithMaxDepth(n int) Option {
	return func(o *options) { o.maxDepth = n }
}

// WithActionTimeout bounds each handler call. Zero disables the bound.
func WithActionTimeout(d time.Duration) Option {
	return func(o *options) { o.actionTimeout = d }
}

// WithDispatchTimeout bounds a whole root dispatch. Work not yet started when
// it expires is abandoned.
func WithDispatchTimeout(d time.Duration) Option {
	return func(o *options) { o.dispatchTimeout = d }
}

func WithRuleConcurrency(n int) Option {
	return func(o *options) { o.concurrency = n }
}

// WithCircuitBreaker enables one breaker per collaborator kind.
func WithCircuitBreaker(cfg BreakerConfig) Option {
	return func(o *options) { o.breaker = &cfg }
}

// WithOccurrenceLedger makes events carrying an OccurrenceKey fire each
// rule at most once per key. Without a ledger the key is ignored.
func WithOccurrenceLedger(l OccurrenceLedger) Option {
	return func(o *options) { o.ledger = l }
}

// WithClock overrides the time source used for condition windows and
// calendar placement.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// New builds an engine over the given stores and collaborators.
func New(rules RuleStore, activities ActivityStore, collab Collaborators, opts ...Option) *Engine {
	o := options{
		maxDepth:      DefaultMaxDepth,
		actionTimeout: DefaultActionTimeout,
		concurrency:   DefaultRuleConcurrency,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logrus.New()
	}
	if o.registry == nil {
		o.registry = newRegistry(o.now)
	}
	if o.concurrency < 1 {
		o.concurrency = 1
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer("kanflow.automation")
	}

	var breakers *breakerSet
	if o.breaker != nil {
		breakers = newBreakerSet(*o.breaker, o.now)
	}

	activity := NewActivityLogger(activities, o.logger)
	activity.now = o.now

	return &Engine{
		resolver: NewResolver(rules),
		executor: &Executor{
			registry: o.registry,
			collab:   collab,
			activity: activity,
			breakers: breakers,
			timeout:  o.actionTimeout,
			logger:   o.logger,
			tracer:   o.tracer,
		},
		guard:           NewRecursionGuard(o.maxDepth),
		activity:        activity,
		breakers:        breakers,
		ledger:          o.ledger,
		logger:          o.logger,
		tracer:          o.tracer,
		concurrency:     o.concurrency,
		dispatchTimeout: o.dispatchTimeout,
		now:             o.now,
	}
}

// Process dispatches one root event. It returns a *RuleResolutionError when
// candidate rules cannot be loaded and nil otherwise; action failures only
// surface as activity records.
func (e *Engine) Process(ctx context.Context, triggerType TriggerType, evt EventContext, boardID, workspaceID string) error {
	if e.dispatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.dispatchTimeout)
		defer cancel()
	}
	return e.process(ctx, triggerType, evt, boardID, workspaceID, Chain{triggerType})
}

// MaxDepth returns the configured recursion cap.
func (e *Engine) MaxDepth() int { return e.guard.MaxDepth() }

// BreakerStates reports collaborator breaker states by kind.
func (e *Engine) BreakerStates() map[string]string { return e.breakers.States() }

func (e *Engine) process(ctx context.Context, triggerType TriggerType, evt EventContext, boardID, workspaceID string, chain Chain) error {
	ctx, span := e.tracer.Start(ctx, "automation.process",
		trace.WithAttributes(
			attribute.String("automation.trigger", string(triggerType)),
			attribute.String("automation.board_id", boardID),
			attribute.Int("automation.depth", len(chain)),
		))
	defer span.End()

	if evt.BoardID == "" {
		evt.BoardID = boardID
	}
	if evt.WorkspaceID == "" {
		evt.WorkspaceID = workspaceID
	}

	rules, err := e.resolver.FindCandidateRules(ctx, triggerType, boardID, workspaceID)
	if err != nil {
		metrics.IncRuleResolutionFailure()
		span.RecordError(err)
		e.logger.WithFields(logrus.Fields{
			"trigger":      triggerType,
			"board_id":     boardID,
			"workspace_id": workspaceID,
		}).Errorf("automation: %v", err)
		return err
	}
	if len(rules) == 0 {
		return nil
	}

	now := e.now()
	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for _, rule := range rules {
		if ctx.Err() != nil {
			e.logger.WithField("trigger", triggerType).Warn("automation: dispatch budget exhausted, skipping remaining rules")
			break
		}
		rule := rule
		g.Go(func() error {
			e.runRule(ctx, rule, evt, chain, now)
			return nil
		})
	}
	_ = g.Wait()
	return nil
}

func (e *Engine) runRule(ctx context.Context, rule Rule, evt EventContext, chain Chain, now time.Time) {
	log := e.logger.WithFields(logrus.Fields{
		"rule_id":  rule.ID,
		"trigger":  rule.Trigger.Type,
		"board_id": rule.BoardID,
	})

	conds, unknown, err := DecodeConditions(rule.Trigger.Type, rule.Trigger.Conditions)
	if err != nil {
		log.Warnf("automation: invalid conditions: %v", err)
		e.activity.failure(ctx, rule, nil, err)
		return
	}
	if len(unknown) > 0 {
		log.Debugf("automation: ignoring unknown condition keys %v", unknown)
	}
	if !conds.Matches(evt, now) {
		log.Debug("automation: conditions not met")
		return
	}
	if evt.OccurrenceKey != "" && e.ledger != nil {
		first, err := e.ledger.Claim(ctx, rule.ID, evt.OccurrenceKey)
		if err != nil {
			log.Warnf("automation: failed to claim occurrence %s: %v", evt.OccurrenceKey, err)
			return
		}
		if !first {
			log.Debugf("automation: occurrence %s already handled", evt.OccurrenceKey)
			return
		}
	}

	ctx, span := e.tracer.Start(ctx, "automation.rule",
		trace.WithAttributes(attribute.String("automation.rule_id", rule.ID)))
	defer span.End()

	log.Infof("automation: rule %q matched", rule.Name)
	for _, res := range e.executor.Run(ctx, rule, evt) {
		if res.Retrigger != nil {
			e.retrigger(ctx, rule, res.Action, *res.Retrigger, chain)
		}
	}
}

// retrigger admits a synthetic event through the guard and dispatches it one
// level deeper. A denial drops only this branch.
func (e *Engine) retrigger(ctx context.Context, rule Rule, source Action, se SyntheticEvent, chain Chain) {
	if err := e.guard.Admit(chain, se.Type); err != nil {
		if re, ok := err.(*RecursionLimitExceededError); ok {
			metrics.IncRecursionDenied(string(re.Reason))
		}
		e.logger.WithFields(logrus.Fields{
			"rule_id": rule.ID,
			"action":  source.Type,
			"chain":   chain,
		}).Warnf("automation: %v", err)
		e.recordBranchFailure(ctx, rule, source, err)
		return
	}
	if ctx.Err() != nil {
		e.logger.WithField("trigger", se.Type).Warn("automation: dispatch budget exhausted, dropping synthetic event")
		return
	}
	if err := e.process(ctx, se.Type, se.Context, rule.BoardID, rule.WorkspaceID, chain.Extend(se.Type)); err != nil {
		e.recordBranchFailure(ctx, rule, source, err)
	}
}

func (e *Engine) recordBranchFailure(ctx context.Context, rule Rule, source Action, err error) {
	t := source.Type
	msg := err.Error()
	e.activity.Record(ctx, Activity{
		AutomationID: rule.ID,
		WorkspaceID:  rule.WorkspaceID,
		BoardID:      rule.BoardID,
		TriggerType:  rule.Trigger.Type,
		ActionType:   &t,
		Status:       ActivityFailure,
		Error:        &msg,
	})
}
