package automation

import (
	"context"
	"time"
)

// RuleStore reads committed rules. Implementations return rules with trigger
// and actions loaded.
type RuleStore interface {
	FindActiveRules(ctx context.Context, triggerType TriggerType, boardID, workspaceID string) ([]Rule, error)
}

// ActivityStore appends execution records.
type ActivityStore interface {
	AppendActivity(ctx context.Context, activity Activity) error
}

// OccurrenceLedger remembers which rules already fired for an occurrence.
// Claim reports true only for the first claim of (ruleID, key).
type OccurrenceLedger interface {
	Claim(ctx context.Context, ruleID, key string) (bool, error)
}

// BoardMutator applies card mutations. Each call is atomic for one card.
type BoardMutator interface {
	UpdateCardStatus(ctx context.Context, cardID, status string) error
	UpdateCardPriority(ctx context.Context, cardID, priority string) error
	// MoveCard moves the card and returns the list it was moved from.
	MoveCard(ctx context.Context, cardID, targetListID string) (string, error)
	AssignCard(ctx context.Context, cardID, userID string) error
	CreateTasks(ctx context.Context, cardID string, titles []string) error
	AddTag(ctx context.Context, cardID, tag, color string) error
}

type Notification struct {
	WorkspaceID string
	BoardID     string
	UserID      string
	CardID      string
	Message     string
}

// Notifier enqueues an in-app notification.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type Email struct {
	To      string
	Subject string
	Body    string
}

// Mailer sends an email.
type Mailer interface {
	SendEmail(ctx context.Context, email Email) error
}

type CalendarEvent struct {
	WorkspaceID string
	BoardID     string
	CardID      string
	Title       string
	StartsAt    time.Time
	EndsAt      time.Time
}

// CalendarWriter creates a calendar event tied to a card.
type CalendarWriter interface {
	CreateEvent(ctx context.Context, event CalendarEvent) error
}

type AuditEntry struct {
	WorkspaceID string
	BoardID     string
	CardID      string
	UserID      string
	Message     string
}

// AuditLogWriter appends a human-readable audit entry.
type AuditLogWriter interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
}

// Collaborators bundles the side-effect targets handed to action handlers.
type Collaborators struct {
	Board    BoardMutator
	Notifier Notifier
	Mailer   Mailer
	Calendar CalendarWriter
	Audit    AuditLogWriter
}
