package services

import (
	"context"
	"fmt"
	"time"

	"kanflow/internal/automation"
	"kanflow/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// DueDateSweeper periodically raises DUE_DATE_APPROACHING for open cards
// due within the sweep horizon. The horizon is the widest daysBeforeDue of
// any active rule, and never shorter than lookahead. Every event carries an
// occurrence key for (card, due date) so the engine fires each rule once per
// due date; changing the due date re-arms every rule.
type DueDateSweeper struct {
	db         *gorm.DB
	logger     *logrus.Logger
	dispatcher automation.Dispatcher
	lookahead  time.Duration
	now        func() time.Time
	tracer     trace.Tracer
}

func NewDueDateSweeper(db *gorm.DB, logger *logrus.Logger, dispatcher automation.Dispatcher, lookahead time.Duration) *DueDateSweeper {
	if logger == nil {
		logger = logrus.New()
	}
	if lookahead <= 0 {
		lookahead = 24 * time.Hour
	}
	return &DueDateSweeper{
		db:         db,
		logger:     logger,
		dispatcher: dispatcher,
		lookahead:  lookahead,
		now:        time.Now,
		tracer:     otel.Tracer("kanflow.due_dates"),
	}
}

// StartDueDateSweep 启动到期提醒扫描
func (s *DueDateSweeper) StartDueDateSweep(ctx context.Context, interval time.Duration) {
	s.logger.Info("Starting due date sweep")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Due date sweep stopped")
			return
		case <-ticker.C:
			if n, err := s.SweepOnce(ctx); err != nil {
				s.logger.Errorf("Due date sweep error: %v", err)
			} else if n > 0 {
				s.logger.Infof("Due date sweep dispatched %d cards", n)
			}
		}
	}
}

// DueOccurrenceKey identifies one due date of one card.
func DueOccurrenceKey(cardID string, due time.Time) string {
	return "due:" + cardID + "@" + due.UTC().Format(time.RFC3339)
}

// horizon 取所有启用规则中最大的 daysBeforeDue
func (s *DueDateSweeper) horizon(ctx context.Context) (time.Duration, error) {
	var rows []models.AutomationRule
	err := s.db.WithContext(ctx).Select("id", "conditions").
		Where("trigger_type = ? AND active = ?", string(automation.TriggerDueDateApproaching), true).
		Find(&rows).Error
	if err != nil {
		return 0, fmt.Errorf("failed to load due date rules: %w", err)
	}

	h := s.lookahead
	for _, r := range rows {
		conds, _, err := automation.DecodeConditions(automation.TriggerDueDateApproaching, r.Conditions)
		if err != nil {
			s.logger.Debugf("Skipping rule %s for sweep horizon: %v", r.ID, err)
			continue
		}
		dc, ok := conds.(*automation.DueDateApproachingConditions)
		if !ok {
			continue
		}
		if w, set := dc.Window(); set && w > h {
			h = w
		}
	}
	return h, nil
}

// SweepOnce dispatches every open card due within the horizon and returns the
// number of cards dispatched. Which rules actually fire is decided per rule
// by the engine's window check and occurrence ledger.
func (s *DueDateSweeper) SweepOnce(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "due_dates.sweep")
	defer span.End()

	horizon, err := s.horizon(ctx)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	now := s.now()
	var cards []models.Card
	err = s.db.WithContext(ctx).
		Where("due_date > ? AND due_date <= ?", now, now.Add(horizon)).
		Where("status NOT IN ?", []string{"done", "archived"}).
		Order("due_date ASC").
		Find(&cards).Error
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to get approaching cards: %w", err)
	}
	span.SetAttributes(
		attribute.Int("due_dates.candidates", len(cards)),
		attribute.String("due_dates.horizon", horizon.String()),
	)

	dispatched := 0
	for i := range cards {
		if ctx.Err() != nil {
			break
		}
		card := cards[i]
		dispatched++
		if s.dispatcher == nil {
			continue
		}
		evt := automation.EventContext{
			CardID:        card.ID,
			ListID:        card.ListID,
			Title:         card.Title,
			Status:        card.Status,
			Priority:      card.Priority,
			AssigneeID:    card.AssigneeID,
			DueDate:       card.DueDate,
			OccurrenceKey: DueOccurrenceKey(card.ID, *card.DueDate),
		}
		if err := s.dispatcher.Process(ctx, automation.TriggerDueDateApproaching, evt, card.BoardID, card.WorkspaceID); err != nil {
			s.logger.WithField("card_id", card.ID).Errorf("automation dispatch failed: %v", err)
		}
	}
	return dispatched, nil
}
