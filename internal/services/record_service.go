package services

import (
	"context"
	"fmt"
	"time"

	"kanflow/internal/automation"
	"kanflow/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CalendarService stores calendar events created by automations.
type CalendarService struct {
	db *gorm.DB
}

func NewCalendarService(db *gorm.DB) *CalendarService {
	return &CalendarService{db: db}
}

func (s *CalendarService) CreateEvent(ctx context.Context, e automation.CalendarEvent) error {
	return s.db.WithContext(ctx).Create(&models.CalendarEvent{
		WorkspaceID: e.WorkspaceID,
		BoardID:     e.BoardID,
		CardID:      e.CardID,
		Title:       e.Title,
		StartsAt:    e.StartsAt,
		EndsAt:      e.EndsAt,
		CreatedAt:   time.Now(),
	}).Error
}

// AuditLogService appends human-readable audit entries.
type AuditLogService struct {
	db *gorm.DB
}

func NewAuditLogService(db *gorm.DB) *AuditLogService {
	return &AuditLogService{db: db}
}

func (s *AuditLogService) AppendAudit(ctx context.Context, e automation.AuditEntry) error {
	return s.db.WithContext(ctx).Create(&models.AuditLog{
		WorkspaceID: e.WorkspaceID,
		BoardID:     e.BoardID,
		CardID:      e.CardID,
		UserID:      e.UserID,
		Message:     e.Message,
		CreatedAt:   time.Now(),
	}).Error
}

// OccurrenceLedger records which rules already fired for an occurrence key,
// so a recurring sweep fires each rule once per occurrence.
type OccurrenceLedger struct {
	db *gorm.DB
}

func NewOccurrenceLedger(db *gorm.DB) *OccurrenceLedger {
	return &OccurrenceLedger{db: db}
}

func (l *OccurrenceLedger) Claim(ctx context.Context, ruleID, key string) (bool, error) {
	res := l.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&models.AutomationOccurrence{
		RuleID:        ruleID,
		OccurrenceKey: key,
		CreatedAt:     time.Now(),
	})
	if res.Error != nil {
		return false, fmt.Errorf("failed to claim occurrence: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}
