package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JSONMap is a free-form object persisted as a JSON text column.
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *JSONMap) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*m = JSONMap{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported JSONMap source %T", value)
	}
	if len(raw) == 0 {
		*m = JSONMap{}
		return nil
	}
	out := JSONMap{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*m = out
	return nil
}

func newID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

// 看板
type Board struct {
	ID          string         `gorm:"primaryKey;size:36" json:"id"`
	WorkspaceID string         `gorm:"index;size:36" json:"workspace_id"`
	Name        string         `gorm:"not null" json:"name"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`

	Lists []List `gorm:"foreignKey:BoardID" json:"lists,omitempty"`
}

func (b *Board) BeforeCreate(*gorm.DB) error { newID(&b.ID); return nil }

type List struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	BoardID   string    `gorm:"index;size:36" json:"board_id"`
	Name      string    `gorm:"not null" json:"name"`
	Position  int       `gorm:"default:0" json:"position"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (l *List) BeforeCreate(*gorm.DB) error { newID(&l.ID); return nil }

type Card struct {
	ID          string         `gorm:"primaryKey;size:36" json:"id"`
	WorkspaceID string         `gorm:"index;size:36" json:"workspace_id"`
	BoardID     string         `gorm:"index;size:36;not null" json:"board_id"`
	ListID      string         `gorm:"index;size:36" json:"list_id"`
	Title       string         `gorm:"not null" json:"title"`
	Description string         `gorm:"type:text" json:"description"`
	Status      string         `gorm:"default:'open'" json:"status"`
	Priority    string         `gorm:"default:'medium'" json:"priority"` // low, medium, high, urgent
	AssigneeID  string         `gorm:"index;size:36" json:"assignee_id"`
	CreatedBy   string         `gorm:"size:36" json:"created_by"`
	DueDate     *time.Time     `gorm:"index" json:"due_date"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`

	Tasks       []Task       `gorm:"foreignKey:CardID" json:"tasks,omitempty"`
	Tags        []CardTag    `gorm:"foreignKey:CardID" json:"tags,omitempty"`
	Comments    []Comment    `gorm:"foreignKey:CardID" json:"comments,omitempty"`
	Attachments []Attachment `gorm:"foreignKey:CardID" json:"attachments,omitempty"`
}

func (c *Card) BeforeCreate(*gorm.DB) error { newID(&c.ID); return nil }

type Task struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"`
	CardID      string     `gorm:"index;size:36;not null" json:"card_id"`
	Title       string     `gorm:"not null" json:"title"`
	Completed   bool       `gorm:"default:false" json:"completed"`
	CompletedAt *time.Time `json:"completed_at"`
	CompletedBy string     `gorm:"size:36" json:"completed_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (t *Task) BeforeCreate(*gorm.DB) error { newID(&t.ID); return nil }

type CardTag struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CardID    string    `gorm:"uniqueIndex:idx_card_tag;size:36" json:"card_id"`
	Name      string    `gorm:"uniqueIndex:idx_card_tag" json:"name"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"created_at"`
}

type Comment struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CardID    string    `gorm:"index;size:36;not null" json:"card_id"`
	UserID    string    `gorm:"size:36" json:"user_id"`
	Content   string    `gorm:"type:text" json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func (c *Comment) BeforeCreate(*gorm.DB) error { newID(&c.ID); return nil }

type Attachment struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CardID    string    `gorm:"index;size:36;not null" json:"card_id"`
	UserID    string    `gorm:"size:36" json:"user_id"`
	FileName  string    `json:"file_name"`
	FileType  string    `json:"file_type"`
	Size      int64     `json:"size"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

func (a *Attachment) BeforeCreate(*gorm.DB) error { newID(&a.ID); return nil }

// 站内通知；UserID 为空表示面向整个看板
type Notification struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	WorkspaceID string     `gorm:"index;size:36" json:"workspace_id"`
	BoardID     string     `gorm:"index;size:36" json:"board_id"`
	UserID      string     `gorm:"index;size:36" json:"user_id"`
	CardID      string     `gorm:"size:36" json:"card_id"`
	Message     string     `gorm:"type:text" json:"message"`
	ReadAt      *time.Time `json:"read_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

type CalendarEvent struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	WorkspaceID string    `gorm:"index;size:36" json:"workspace_id"`
	BoardID     string    `gorm:"index;size:36" json:"board_id"`
	CardID      string    `gorm:"index;size:36" json:"card_id"`
	Title       string    `gorm:"not null" json:"title"`
	StartsAt    time.Time `gorm:"index" json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	CreatedAt   time.Time `json:"created_at"`
}

type AuditLog struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	WorkspaceID string    `gorm:"index;size:36" json:"workspace_id"`
	BoardID     string    `gorm:"index;size:36" json:"board_id"`
	CardID      string    `gorm:"index;size:36" json:"card_id"`
	UserID      string    `gorm:"size:36" json:"user_id"`
	Message     string    `gorm:"type:text" json:"message"`
	CreatedAt   time.Time `json:"created_at"`
}

// 邮件发件箱
type EmailMessage struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	To        string     `gorm:"column:recipient;not null" json:"to"`
	Subject   string     `json:"subject"`
	Body      string     `gorm:"type:text" json:"body"`
	Status    string     `gorm:"index;default:'queued'" json:"status"` // queued, sent, failed
	Error     string     `gorm:"type:text" json:"error,omitempty"`
	SentAt    *time.Time `json:"sent_at"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// All returns every persisted model in migration order.
func All() []interface{} {
	return []interface{}{
		&Board{}, &List{}, &Card{}, &Task{}, &CardTag{}, &Comment{}, &Attachment{},
		&Notification{}, &CalendarEvent{}, &AuditLog{}, &EmailMessage{},
		&AutomationRule{}, &AutomationAction{}, &AutomationActivity{}, &AutomationOccurrence{},
	}
}
