package services

import (
	"context"
	"fmt"
	"time"

	"kanflow/internal/automation"
	"kanflow/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// NotificationService stores in-app notifications and pushes them to live
// connections when a hub is attached.
type NotificationService struct {
	db     *gorm.DB
	hub    *NotificationHub
	logger *logrus.Logger
}

func NewNotificationService(db *gorm.DB, hub *NotificationHub, logger *logrus.Logger) *NotificationService {
	if logger == nil {
		logger = logrus.New()
	}
	return &NotificationService{db: db, hub: hub, logger: logger}
}

// Notify implements automation.Notifier. An empty UserID addresses every
// watcher of the board.
func (s *NotificationService) Notify(ctx context.Context, n automation.Notification) error {
	row := &models.Notification{
		WorkspaceID: n.WorkspaceID,
		BoardID:     n.BoardID,
		UserID:      n.UserID,
		CardID:      n.CardID,
		Message:     n.Message,
		CreatedAt:   time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to store notification: %w", err)
	}

	if s.hub != nil {
		s.hub.Push(WebSocketMessage{
			Type:    "notification",
			Data:    row,
			UserID:  n.UserID,
			BoardID: n.BoardID,
		})
	}
	return nil
}

// ListForUser returns a user's notifications, newest first.
func (s *NotificationService) ListForUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if unreadOnly {
		query = query.Where("read_at IS NULL")
	}
	var out []models.Notification
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
