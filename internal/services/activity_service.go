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

// ActivityService persists the automation execution log.
type ActivityService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewActivityService(db *gorm.DB, logger *logrus.Logger) *ActivityService {
	if logger == nil {
		logger = logrus.New()
	}
	return &ActivityService{db: db, logger: logger}
}

// ActivityListRequest 执行记录查询
type ActivityListRequest struct {
	AutomationID string     `form:"automation_id"`
	BoardID      string     `form:"board_id"`
	WorkspaceID  string     `form:"workspace_id"`
	Status       string     `form:"status"`
	TriggerType  string     `form:"trigger_type"`
	DateFrom     *time.Time `form:"date_from" time_format:"2006-01-02T15:04:05Z07:00"`
	DateTo       *time.Time `form:"date_to" time_format:"2006-01-02T15:04:05Z07:00"`
	Page         int        `form:"page"`
	PageSize     int        `form:"page_size"`
}

// AppendActivity implements automation.ActivityStore.
func (s *ActivityService) AppendActivity(ctx context.Context, a automation.Activity) error {
	row := &models.AutomationActivity{
		AutomationID: a.AutomationID,
		WorkspaceID:  a.WorkspaceID,
		BoardID:      a.BoardID,
		TriggerType:  string(a.TriggerType),
		ActionOrder:  a.ActionOrder,
		Status:       string(a.Status),
		Error:        a.Error,
		CreatedAt:    a.CreatedAt,
	}
	if a.ActionType != nil {
		t := string(*a.ActionType)
		row.ActionType = &t
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(row).Error
}

// ListActivities returns activities newest first.
func (s *ActivityService) ListActivities(ctx context.Context, req *ActivityListRequest) ([]models.AutomationActivity, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.AutomationActivity{})
	if req.AutomationID != "" {
		query = query.Where("automation_id = ?", req.AutomationID)
	}
	if req.BoardID != "" {
		query = query.Where("board_id = ?", req.BoardID)
	}
	if req.WorkspaceID != "" {
		query = query.Where("workspace_id = ?", req.WorkspaceID)
	}
	if req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}
	if req.TriggerType != "" {
		query = query.Where("trigger_type = ?", req.TriggerType)
	}
	if req.DateFrom != nil {
		query = query.Where("created_at >= ?", *req.DateFrom)
	}
	if req.DateTo != nil {
		query = query.Where("created_at <= ?", *req.DateTo)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count activities: %w", err)
	}

	pageSize := req.PageSize
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}
	page := req.Page
	if page < 1 {
		page = 1
	}

	var out []models.AutomationActivity
	err := query.Order("created_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&out).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list activities: %w", err)
	}
	return out, total, nil
}
