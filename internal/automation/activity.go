package automation

import (
	"context"
	"time"

	"kanflow/internal/metrics"

	"github.com/sirupsen/logrus"
)

// ActivityLogger persists one record per execution attempt. Write failures
// are logged and dropped; they never abort the action pipeline.
type ActivityLogger struct {
	store  ActivityStore
	logger *logrus.Logger
	now    func() time.Time
}

func NewActivityLogger(store ActivityStore, logger *logrus.Logger) *ActivityLogger {
	if logger == nil {
		logger = logrus.New()
	}
	return &ActivityLogger{store: store, logger: logger, now: time.Now}
}

// Record appends a. ActionType and Error may be nil for trigger-level
// records. Record does not count action outcomes; branch failures such as
// recursion denials are counted by their own metric.
func (l *ActivityLogger) Record(ctx context.Context, a Activity) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = l.now()
	}
	if l.store == nil {
		return
	}
	// The pipeline's own deadline must not stop the record of its outcome.
	if err := l.store.AppendActivity(context.WithoutCancel(ctx), a); err != nil {
		l.logger.WithFields(logrus.Fields{
			"automation_id": a.AutomationID,
			"trigger":       a.TriggerType,
			"status":        a.Status,
		}).Warnf("automation: record activity failed: %v", err)
	}
}

func (l *ActivityLogger) success(ctx context.Context, rule Rule, action Action) {
	t, order := action.Type, action.Order
	metrics.IncActionOutcome(string(t), string(ActivitySuccess))
	l.Record(ctx, Activity{
		AutomationID: rule.ID,
		WorkspaceID:  rule.WorkspaceID,
		BoardID:      rule.BoardID,
		TriggerType:  rule.Trigger.Type,
		ActionType:   &t,
		ActionOrder:  &order,
		Status:       ActivitySuccess,
	})
}

func (l *ActivityLogger) failure(ctx context.Context, rule Rule, action *Action, err error) {
	msg := err.Error()
	a := Activity{
		AutomationID: rule.ID,
		WorkspaceID:  rule.WorkspaceID,
		BoardID:      rule.BoardID,
		TriggerType:  rule.Trigger.Type,
		Status:       ActivityFailure,
		Error:        &msg,
	}
	if action != nil {
		t, order := action.Type, action.Order
		a.ActionType = &t
		a.ActionOrder = &order
		metrics.IncActionOutcome(string(t), string(ActivityFailure))
	}
	l.Record(ctx, a)
}
