package automation

import (
	"time"
)

// TriggerType is the closed set of domain events a rule can react to.
type TriggerType string

const (
	TriggerCardCreated        TriggerType = "CARD_CREATED"
	TriggerCardMoved          TriggerType = "CARD_MOVED"
	TriggerCardUpdated        TriggerType = "CARD_UPDATED"
	TriggerTaskCompleted      TriggerType = "TASK_COMPLETED"
	TriggerAllTasksCompleted  TriggerType = "ALL_TASKS_COMPLETED"
	TriggerCommentAdded       TriggerType = "COMMENT_ADDED"
	TriggerUserMentioned      TriggerType = "USER_MENTIONED"
	TriggerAttachmentAdded    TriggerType = "ATTACHMENT_ADDED"
	TriggerDueDateApproaching TriggerType = "DUE_DATE_APPROACHING"
	TriggerCardAssigned       TriggerType = "CARD_ASSIGNED"
)

// TriggerTypes lists every supported trigger type.
func TriggerTypes() []TriggerType {
	return []TriggerType{
		TriggerCardCreated,
		TriggerCardMoved,
		TriggerCardUpdated,
		TriggerTaskCompleted,
		TriggerAllTasksCompleted,
		TriggerCommentAdded,
		TriggerUserMentioned,
		TriggerAttachmentAdded,
		TriggerDueDateApproaching,
		TriggerCardAssigned,
	}
}

func (t TriggerType) IsValid() bool {
	for _, v := range TriggerTypes() {
		if v == t {
			return true
		}
	}
	return false
}

// ActionType is the closed set of side effects a rule can perform.
type ActionType string

const (
	ActionUpdateCardStatus    ActionType = "UPDATE_CARD_STATUS"
	ActionAssignUser          ActionType = "ASSIGN_USER"
	ActionSendNotification    ActionType = "SEND_NOTIFICATION"
	ActionCreateTasks         ActionType = "CREATE_TASKS"
	ActionAddTag              ActionType = "ADD_TAG"
	ActionCreateCalendarEvent ActionType = "CREATE_CALENDAR_EVENT"
	ActionCreateAuditLog      ActionType = "CREATE_AUDIT_LOG"
	ActionMoveCard            ActionType = "MOVE_CARD"
	ActionUpdateCardPriority  ActionType = "UPDATE_CARD_PRIORITY"
	ActionSendEmail           ActionType = "SEND_EMAIL"
)

// ActionTypes lists every supported action type.
func ActionTypes() []ActionType {
	return []ActionType{
		ActionUpdateCardStatus,
		ActionAssignUser,
		ActionSendNotification,
		ActionCreateTasks,
		ActionAddTag,
		ActionCreateCalendarEvent,
		ActionCreateAuditLog,
		ActionMoveCard,
		ActionUpdateCardPriority,
		ActionSendEmail,
	}
}

func (a ActionType) IsValid() bool {
	for _, v := range ActionTypes() {
		if v == a {
			return true
		}
	}
	return false
}

// Rule is a committed automation: one trigger and its ordered actions,
// scoped to a single board.
type Rule struct {
	ID          string
	Name        string
	Description string
	BoardID     string
	WorkspaceID string
	Active      bool
	Trigger     Trigger
	Actions     []Action
}

// Trigger pairs an event type with its raw condition map. The map is decoded
// into a typed condition set for Type by DecodeConditions.
type Trigger struct {
	Type       TriggerType
	Conditions map[string]interface{}
}

// Action is one ordered step of a rule. Config is decoded by the handler
// registered for Type.
type Action struct {
	ID     string
	Type   ActionType
	Order  int
	Config map[string]interface{}
}

// EventContext describes the occurrence that raised a trigger. Fields that do
// not apply to a trigger type are left zero.
type EventContext struct {
	BoardID           string     `json:"boardId,omitempty"`
	WorkspaceID       string     `json:"workspaceId,omitempty"`
	CardID            string     `json:"cardId,omitempty"`
	ListID            string     `json:"listId,omitempty"`
	SourceListID      string     `json:"sourceListId,omitempty"`
	DestinationListID string     `json:"destinationListId,omitempty"`
	UserID            string     `json:"userId,omitempty"`
	AssigneeID        string     `json:"assigneeId,omitempty"`
	TaskID            string     `json:"taskId,omitempty"`
	CommentID         string     `json:"commentId,omitempty"`
	CommentText       string     `json:"commentText,omitempty"`
	MentionedUser     string     `json:"mentionedUser,omitempty"`
	AttachmentID      string     `json:"attachmentId,omitempty"`
	FileType          string     `json:"fileType,omitempty"`
	Title             string     `json:"title,omitempty"`
	Status            string     `json:"status,omitempty"`
	Priority          string     `json:"priority,omitempty"`
	DueDate           *time.Time `json:"dueDate,omitempty"`
	UpdatedFields     []string   `json:"updatedFields,omitempty"`

	// OccurrenceKey names a recurring occurrence such as one card's due date.
	// When set, each rule fires at most once per key. Synthetic events never
	// carry it.
	OccurrenceKey string `json:"-"`
}

// ActivityStatus is the outcome of one execution attempt.
type ActivityStatus string

const (
	ActivitySuccess ActivityStatus = "success"
	ActivityFailure ActivityStatus = "failure"
)

// Activity is an append-only record of one rule execution attempt. ActionType
// is nil for trigger-level records.
type Activity struct {
	AutomationID string
	WorkspaceID  string
	BoardID      string
	TriggerType  TriggerType
	ActionType   *ActionType
	ActionOrder  *int
	Status       ActivityStatus
	Error        *string
	CreatedAt    time.Time
}

// SyntheticEvent is a domain event produced by an action that must be fed
// back into the dispatcher.
type SyntheticEvent struct {
	Type    TriggerType
	Context EventContext
}

// Chain is the sequence of trigger types leading from a root event to the
// current dispatch, root first.
type Chain []TriggerType

// Contains reports whether t already appears in the chain.
func (c Chain) Contains(t TriggerType) bool {
	for _, v := range c {
		if v == t {
			return true
		}
	}
	return false
}

// Extend returns a new chain with t appended. The receiver is not modified.
func (c Chain) Extend(t TriggerType) Chain {
	next := make(Chain, len(c), len(c)+1)
	copy(next, c)
	return append(next, t)
}
