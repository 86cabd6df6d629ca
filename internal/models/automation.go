package models

import (
	"time"

	"gorm.io/gorm"
)

// AutomationRule 看板自动化规则：一个触发器 + 有序动作
type AutomationRule struct {
	ID          string             `gorm:"primaryKey;size:36" json:"id"`
	Name        string             `gorm:"not null" json:"name"`
	Description string             `gorm:"type:text" json:"description"`
	WorkspaceID string             `gorm:"index;size:36" json:"workspace_id"`
	BoardID     string             `gorm:"index:idx_rule_lookup;size:36;not null" json:"board_id"`
	TriggerType string             `gorm:"index:idx_rule_lookup;not null" json:"trigger_type"`
	Conditions  JSONMap            `gorm:"type:text" json:"conditions"`
	Active      bool               `gorm:"index:idx_rule_lookup" json:"active"`
	CreatedBy   string             `gorm:"size:36" json:"created_by"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
	Actions     []AutomationAction `gorm:"foreignKey:RuleID;constraint:OnDelete:CASCADE" json:"actions"`
}

func (r *AutomationRule) BeforeCreate(*gorm.DB) error { newID(&r.ID); return nil }

// AutomationAction 规则中的一个动作
type AutomationAction struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	RuleID    string    `gorm:"index;size:36;not null" json:"rule_id"`
	Type      string    `gorm:"not null" json:"type"`
	Order     int       `gorm:"column:sort_order;default:0" json:"order"`
	Seq       int       `gorm:"default:0" json:"-"` // position in the submitted list, breaks order ties
	Config    JSONMap   `gorm:"type:text" json:"config"`
	CreatedAt time.Time `json:"created_at"`
}

func (a *AutomationAction) BeforeCreate(*gorm.DB) error { newID(&a.ID); return nil }

// AutomationActivity 执行记录（只追加）
type AutomationActivity struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	AutomationID string    `gorm:"index;size:36" json:"automation_id"`
	WorkspaceID  string    `gorm:"index;size:36" json:"workspace_id"`
	BoardID      string    `gorm:"index;size:36" json:"board_id"`
	TriggerType  string    `json:"trigger_type"`
	ActionType   *string   `json:"action_type"`
	ActionOrder  *int      `json:"action_order"`
	Status       string    `gorm:"index" json:"status"` // success, failure
	Error        *string   `gorm:"type:text" json:"error"`
	CreatedAt    time.Time `gorm:"index" json:"created_at"`
}

// AutomationOccurrence 规则对某次事件（如某张卡片的某个截止时间）已触发的记录
type AutomationOccurrence struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	RuleID        string    `gorm:"uniqueIndex:idx_rule_occurrence;size:36;not null" json:"rule_id"`
	OccurrenceKey string    `gorm:"uniqueIndex:idx_rule_occurrence;size:191;not null" json:"occurrence_key"`
	CreatedAt     time.Time `json:"created_at"`
}
