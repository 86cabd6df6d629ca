package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"kanflow/internal/automation"
	"kanflow/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// ErrRuleNotFound is returned when a rule id does not exist.
var ErrRuleNotFound = errors.New("automation rule not found")

// RuleService stores automation rules and serves them to the engine.
type RuleService struct {
	db     *gorm.DB
	logger *logrus.Logger
	tracer trace.Tracer
}

func NewRuleService(db *gorm.DB, logger *logrus.Logger) *RuleService {
	if logger == nil {
		logger = logrus.New()
	}
	return &RuleService{db: db, logger: logger, tracer: otel.Tracer("kanflow.rules")}
}

// RuleActionRequest is one action in a create request.
type RuleActionRequest struct {
	Type   string                 `json:"type" binding:"required"`
	Order  *int                   `json:"order"`
	Config map[string]interface{} `json:"config"`
}

// RuleCreateRequest 创建规则请求
type RuleCreateRequest struct {
	Name        string                 `json:"name" binding:"required"`
	Description string                 `json:"description"`
	WorkspaceID string                 `json:"workspace_id"`
	BoardID     string                 `json:"board_id" binding:"required"`
	TriggerType string                 `json:"trigger_type" binding:"required"`
	Conditions  map[string]interface{} `json:"conditions"`
	Actions     []RuleActionRequest    `json:"actions" binding:"required,min=1"`
	Active      *bool                  `json:"active"`
	CreatedBy   string                 `json:"created_by"`
}

// RuleListRequest filters ListRules.
type RuleListRequest struct {
	BoardID     string `form:"board_id"`
	WorkspaceID string `form:"workspace_id"`
	TriggerType string `form:"trigger_type"`
	Active      *bool  `form:"active"`
	Page        int    `form:"page"`
	PageSize    int    `form:"page_size"`
}

// FindActiveRules implements automation.RuleStore.
func (s *RuleService) FindActiveRules(ctx context.Context, triggerType automation.TriggerType, boardID, workspaceID string) ([]automation.Rule, error) {
	ctx, span := s.tracer.Start(ctx, "rules.find_active")
	defer span.End()

	query := s.db.WithContext(ctx).
		Preload("Actions", func(db *gorm.DB) *gorm.DB { return db.Order("sort_order ASC, seq ASC") }).
		Where("trigger_type = ? AND board_id = ? AND active = ?", string(triggerType), boardID, true)
	if workspaceID != "" {
		query = query.Where("workspace_id = ? OR workspace_id = ''", workspaceID)
	}

	var rows []models.AutomationRule
	if err := query.Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	rules := make([]automation.Rule, 0, len(rows))
	for i := range rows {
		rules = append(rules, ToRule(&rows[i]))
	}
	span.SetAttributes(attribute.Int("rules.count", len(rules)))
	return rules, nil
}

// ToRule converts a stored rule into the engine's representation.
func ToRule(m *models.AutomationRule) automation.Rule {
	actions := make([]automation.Action, 0, len(m.Actions))
	for _, a := range m.Actions {
		actions = append(actions, automation.Action{
			ID:     a.ID,
			Type:   automation.ActionType(a.Type),
			Order:  a.Order,
			Config: map[string]interface{}(a.Config),
		})
	}
	return automation.Rule{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		BoardID:     m.BoardID,
		WorkspaceID: m.WorkspaceID,
		Active:      m.Active,
		Trigger: automation.Trigger{
			Type:       automation.TriggerType(m.TriggerType),
			Conditions: map[string]interface{}(m.Conditions),
		},
		Actions: actions,
	}
}

// CreateRule validates and stores a rule with its actions. Conditions must
// decode for the trigger type; unknown condition keys are accepted.
func (s *RuleService) CreateRule(ctx context.Context, req *RuleCreateRequest) (*models.AutomationRule, error) {
	ctx, span := s.tracer.Start(ctx, "rules.create")
	defer span.End()

	if req == nil {
		return nil, fmt.Errorf("request required")
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("name required")
	}
	trigger := automation.TriggerType(req.TriggerType)
	if !trigger.IsValid() {
		return nil, fmt.Errorf("unsupported trigger type: %s", req.TriggerType)
	}
	if _, _, err := automation.DecodeConditions(trigger, req.Conditions); err != nil {
		return nil, err
	}
	if len(req.Actions) == 0 {
		return nil, fmt.Errorf("at least one action required")
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	rule := &models.AutomationRule{
		Name:        req.Name,
		Description: req.Description,
		WorkspaceID: req.WorkspaceID,
		BoardID:     req.BoardID,
		TriggerType: req.TriggerType,
		Conditions:  models.JSONMap(req.Conditions),
		Active:      active,
		CreatedBy:   req.CreatedBy,
	}
	for i, a := range req.Actions {
		at := automation.ActionType(a.Type)
		if !at.IsValid() {
			return nil, fmt.Errorf("unsupported action type: %s", a.Type)
		}
		order := i
		if a.Order != nil {
			order = *a.Order
		}
		rule.Actions = append(rule.Actions, models.AutomationAction{
			Type:   a.Type,
			Order:  order,
			Seq:    i,
			Config: models.JSONMap(a.Config),
		})
	}

	if err := s.db.WithContext(ctx).Create(rule).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}
	s.logger.Infof("Created automation rule %s (%s) on board %s", rule.ID, rule.TriggerType, rule.BoardID)
	return rule, nil
}

// GetRule loads one rule with its actions.
func (s *RuleService) GetRule(ctx context.Context, id string) (*models.AutomationRule, error) {
	var rule models.AutomationRule
	err := s.db.WithContext(ctx).
		Preload("Actions", func(db *gorm.DB) *gorm.DB { return db.Order("sort_order ASC, seq ASC") }).
		First(&rule, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// ListRules 返回规则列表
func (s *RuleService) ListRules(ctx context.Context, req *RuleListRequest) ([]models.AutomationRule, int64, error) {
	ctx, span := s.tracer.Start(ctx, "rules.list")
	defer span.End()

	query := s.db.WithContext(ctx).Model(&models.AutomationRule{})
	if req.BoardID != "" {
		query = query.Where("board_id = ?", req.BoardID)
	}
	if req.WorkspaceID != "" {
		query = query.Where("workspace_id = ?", req.WorkspaceID)
	}
	if req.TriggerType != "" {
		query = query.Where("trigger_type = ?", req.TriggerType)
	}
	if req.Active != nil {
		query = query.Where("active = ?", *req.Active)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("failed to count rules: %w", err)
	}

	if req.PageSize > 0 {
		page := req.Page
		if page < 1 {
			page = 1
		}
		query = query.Offset((page - 1) * req.PageSize).Limit(req.PageSize)
	}

	var rules []models.AutomationRule
	err := query.
		Preload("Actions", func(db *gorm.DB) *gorm.DB { return db.Order("sort_order ASC, seq ASC") }).
		Order("created_at DESC, id DESC").
		Find(&rules).Error
	if err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("failed to list rules: %w", err)
	}
	return rules, total, nil
}

// SetActive toggles a rule. Inactive rules are never evaluated.
func (s *RuleService) SetActive(ctx context.Context, id string, active bool) (*models.AutomationRule, error) {
	result := s.db.WithContext(ctx).Model(&models.AutomationRule{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"active": active, "updated_at": time.Now()})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrRuleNotFound
	}
	return s.GetRule(ctx, id)
}

// DeleteRule removes a rule and its actions. Activity history is kept.
func (s *RuleService) DeleteRule(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("rule_id = ?", id).Delete(&models.AutomationAction{}).Error; err != nil {
			return err
		}
		result := tx.Delete(&models.AutomationRule{}, "id = ?", id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrRuleNotFound
		}
		return nil
	})
}
