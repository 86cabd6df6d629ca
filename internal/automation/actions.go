package automation

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type UpdateCardStatusConfig struct {
	Status string `mapstructure:"status"`
}

func (c UpdateCardStatusConfig) Validate() error {
	if strings.TrimSpace(c.Status) == "" {
		return missingField(ActionUpdateCardStatus, "status")
	}
	return nil
}

type AssignUserConfig struct {
	UserID string `mapstructure:"userId"`
}

func (c AssignUserConfig) Validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return missingField(ActionAssignUser, "userId")
	}
	return nil
}

// SendNotificationConfig notifies UserID, or the acting user of the event
// when UserID is empty, or the board when neither is known.
type SendNotificationConfig struct {
	Message string `mapstructure:"message"`
	UserID  string `mapstructure:"userId"`
}

func (c SendNotificationConfig) Validate() error {
	if strings.TrimSpace(c.Message) == "" {
		return missingField(ActionSendNotification, "message")
	}
	return nil
}

type CreateTasksConfig struct {
	Tasks []string `mapstructure:"tasks"`
}

func (c CreateTasksConfig) Validate() error {
	n := 0
	for _, t := range c.Tasks {
		if strings.TrimSpace(t) != "" {
			n++
		}
	}
	if n == 0 {
		return missingField(ActionCreateTasks, "tasks")
	}
	return nil
}

type AddTagConfig struct {
	Tag   string `mapstructure:"tag"`
	Color string `mapstructure:"color"`
}

func (c AddTagConfig) Validate() error {
	if strings.TrimSpace(c.Tag) == "" {
		return missingField(ActionAddTag, "tag")
	}
	return nil
}

// CreateCalendarEventConfig places the event on the card's due date when
// known, otherwise OffsetDays from now. Title falls back to the card title.
type CreateCalendarEventConfig struct {
	Title           string `mapstructure:"title"`
	OffsetDays      int    `mapstructure:"offsetDays"`
	DurationMinutes int    `mapstructure:"durationMinutes"`
}

func (c CreateCalendarEventConfig) Validate() error {
	if c.DurationMinutes < 0 {
		return &ActionConfigError{ActionType: ActionCreateCalendarEvent, Field: "durationMinutes", Reason: "must not be negative"}
	}
	return nil
}

type CreateAuditLogConfig struct {
	Message string `mapstructure:"message"`
}

func (c CreateAuditLogConfig) Validate() error {
	if strings.TrimSpace(c.Message) == "" {
		return missingField(ActionCreateAuditLog, "message")
	}
	return nil
}

type MoveCardConfig struct {
	TargetListID string `mapstructure:"targetListId"`
}

func (c MoveCardConfig) Validate() error {
	if strings.TrimSpace(c.TargetListID) == "" {
		return missingField(ActionMoveCard, "targetListId")
	}
	return nil
}

type UpdateCardPriorityConfig struct {
	Priority string `mapstructure:"priority"`
}

func (c UpdateCardPriorityConfig) Validate() error {
	if strings.TrimSpace(c.Priority) == "" {
		return missingField(ActionUpdateCardPriority, "priority")
	}
	return nil
}

type SendEmailConfig struct {
	To      string `mapstructure:"to"`
	Subject string `mapstructure:"subject"`
	Body    string `mapstructure:"body"`
}

func (c SendEmailConfig) Validate() error {
	if strings.TrimSpace(c.To) == "" {
		return missingField(ActionSendEmail, "to")
	}
	if strings.TrimSpace(c.Subject) == "" {
		return missingField(ActionSendEmail, "subject")
	}
	return nil
}

type validator interface {
	Validate() error
}

// decodeConfig fills cfg from raw and validates it. Unknown keys are ignored.
func decodeConfig(t ActionType, raw map[string]interface{}, cfg validator) error {
	if _, err := decodeInto(raw, cfg); err != nil {
		return &ActionConfigError{ActionType: t, Reason: "malformed config", Err: err}
	}
	return cfg.Validate()
}

func requireCard(t ActionType, evt EventContext) error {
	if evt.CardID == "" {
		return &ActionConfigError{ActionType: t, Field: "cardId", Reason: "missing from event context"}
	}
	return nil
}

func execErr(t ActionType, err error) error {
	if err == nil {
		return nil
	}
	return &ActionExecutionError{ActionType: t, Err: err}
}

func notConfigured(t ActionType, what string) error {
	return &ActionExecutionError{ActionType: t, Err: fmt.Errorf("%s not configured", what)}
}

// expand replaces {{placeholders}} with event context values.
func expand(s string, evt EventContext) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return strings.NewReplacer(
		"{{cardId}}", evt.CardID,
		"{{title}}", evt.Title,
		"{{userId}}", evt.UserID,
		"{{boardId}}", evt.BoardID,
		"{{listId}}", evt.ListID,
		"{{mentionedUser}}", evt.MentionedUser,
		"{{assigneeId}}", evt.AssigneeID,
	).Replace(s)
}

func updateCardStatus(ctx context.Context, raw map[string]interface{}, evt EventContext, c Collaborators) (Outcome, error) {
	var cfg UpdateCardStatusConfig
	if err := decodeConfig(ActionUpdateCardStatus, raw, &cfg); err != nil {
		return Outcome{}, err
	}
	if err := requireCard(ActionUpdateCardStatus, evt); err != nil {
		return Outcome{}, err
	}
	if c.Board == nil {
		return Outcome{}, notConfigured(ActionUpdateCardStatus, "board mutator")
	}
	if err := c.Board.UpdateCardStatus(ctx, evt.CardID, cfg.Status); err != nil {
		return Outcome{}, execErr(ActionUpdateCardStatus, err)
	}
	next := cardContext(evt)
	next.Status = cfg.Status
	next.UpdatedFields = []string{"status"}
	return Outcome{Retrigger: &SyntheticEvent{Type: TriggerCardUpdated, Context: next}}, nil
}

func updateCardPriority(ctx context.Context, raw map[string]interface{}, evt EventContext, c Collaborators) (Outcome, error) {
	var cfg UpdateCardPriorityConfig
	if err := decodeConfig(ActionUpdateCardPriority, raw, &cfg); err != nil {
		return Outcome{}, err
	}
	if err := requireCard(ActionUpdateCardPriority, evt); err != nil {
		return Outcome{}, err
	}
	if c.Board == nil {
		return Outcome{}, notConfigured(ActionUpdateCardPriority, "board mutator")
	}
	if err := c.Board.UpdateCardPriority(ctx, evt.CardID, cfg.Priority); err != nil {
		return Outcome{}, execErr(ActionUpdateCardPriority, err)
	}
	next := cardContext(evt)
	next.Priority = cfg.Priority
	next.UpdatedFields = []string{"priority"}
	return Outcome{Retrigger: &SyntheticEvent{Type: TriggerCardUpdated, Context: next}}, nil
}

func assignUser(ctx context.Context, raw map[string]interface{}, evt EventContext, c Collaborators) (Outcome, error) {
	var cfg AssignUserConfig
	if err := decodeConfig(ActionAssignUser, raw, &cfg); err != nil {
		return Outcome{}, err
	}
	if err := requireCard(ActionAssignUser, evt); err != nil {
		return Outcome{}, err
	}
	if c.Board == nil {
		return Outcome{}, notConfigured(ActionAssignUser, "board mutator")
	}
	userID := expand(cfg.UserID, evt)
	if err := c.Board.AssignCard(ctx, evt.CardID, userID); err != nil {
		return Outcome{}, execErr(ActionAssignUser, err)
	}
	next := cardContext(evt)
	next.AssigneeID = userID
	return Outcome{Retrigger: &SyntheticEvent{Type: TriggerCardAssigned, Context: next}}, nil
}

func moveCard(ctx context.Context, raw map[string]interface{}, evt EventContext, c Collaborators) (Outcome, error) {
	var cfg MoveCardConfig
	if err := decodeConfig(ActionMoveCard, raw, &cfg); err != nil {
		return Outcome{}, err
	}
	if err := requireCard(ActionMoveCard, evt); err != nil {
		return Outcome{}, err
	}
	if c.Board == nil {
		return Outcome{}, notConfigured(ActionMoveCard, "board mutator")
	}
	source, err := c.Board.MoveCard(ctx, evt.CardID, cfg.TargetListID)
	if err != nil {
		return Outcome{}, execErr(ActionMoveCard, err)
	}
	next := cardContext(evt)
	next.SourceListID = source
	next.DestinationListID = cfg.TargetListID
	next.ListID = cfg.TargetListID
	return Outcome{Retrigger: &SyntheticEvent{Type: TriggerCardMoved, Context: next}}, nil
}

func createTasks(ctx context.Context, raw map[string]interface{}, evt EventContext, c Collaborators) (Outcome, error) {
	var cfg CreateTasksConfig
	if err := decodeConfig(ActionCreateTasks, raw, &cfg); err != nil {
		return Outcome{}, err
	}
	if err := requireCard(ActionCreateTasks, evt); err != nil {
		return Outcome{}, err
	}
	if c.Board == nil {
		return Outcome{}, notConfigured(ActionCreateTasks, "board mutator")
	}
	titles := make([]string, 0, len(cfg.Tasks))
	for _, t := range cfg.Tasks {
		if t = strings.TrimSpace(expand(t, evt)); t != "" {
			titles = append(titles, t)
		}
	}
	return Outcome{}, execErr(ActionCreateTasks, c.Board.CreateTasks(ctx, evt.CardID, titles))
}

func addTag(ctx context.Context, raw map[string]interface{}, evt EventContext, c Collaborators) (Outcome, error) {
	var cfg AddTagConfig
	if err := decodeConfig(ActionAddTag, raw, &cfg); err != nil {
		return Outcome{}, err
	}
	if err := requireCard(ActionAddTag, evt); err != nil {
		return Outcome{}, err
	}
	if c.Board == nil {
		return Outcome{}, notConfigured(ActionAddTag, "board mutator")
	}
	return Outcome{}, execErr(ActionAddTag, c.Board.AddTag(ctx, evt.CardID, expand(cfg.Tag, evt), cfg.Color))
}

func sendNotification(ctx context.Context, raw map[string]interface{}, evt EventContext, c Collaborators) (Outcome, error) {
	var cfg SendNotificationConfig
	if err := decodeConfig(ActionSendNotification, raw, &cfg); err != nil {
		return Outcome{}, err
	}
	// An empty recipient addresses the whole board.
	recipient := expand(cfg.UserID, evt)
	if recipient == "" {
		recipient = evt.UserID
	}
	if c.Notifier == nil {
		return Outcome{}, notConfigured(ActionSendNotification, "notifier")
	}
	err := c.Notifier.Notify(ctx, Notification{
		WorkspaceID: evt.WorkspaceID,
		BoardID:     evt.BoardID,
		UserID:      recipient,
		CardID:      evt.CardID,
		Message:     expand(cfg.Message, evt),
	})
	return Outcome{}, execErr(ActionSendNotification, err)
}

func sendEmail(ctx context.Context, raw map[string]interface{}, evt EventContext, c Collaborators) (Outcome, error) {
	var cfg SendEmailConfig
	if err := decodeConfig(ActionSendEmail, raw, &cfg); err != nil {
		return Outcome{}, err
	}
	if c.Mailer == nil {
		return Outcome{}, notConfigured(ActionSendEmail, "mailer")
	}
	err := c.Mailer.SendEmail(ctx, Email{
		To:      expand(cfg.To, evt),
		Subject: expand(cfg.Subject, evt),
		Body:    expand(cfg.Body, evt),
	})
	return Outcome{}, execErr(ActionSendEmail, err)
}

// createCalendarEvent uses now only when the card has no due date.
func createCalendarEvent(now func() time.Time) Handler {
	return func(ctx context.Context, raw map[string]interface{}, evt EventContext, c Collaborators) (Outcome, error) {
		var cfg CreateCalendarEventConfig
		if err := decodeConfig(ActionCreateCalendarEvent, raw, &cfg); err != nil {
			return Outcome{}, err
		}
		if err := requireCard(ActionCreateCalendarEvent, evt); err != nil {
			return Outcome{}, err
		}
		title := expand(cfg.Title, evt)
		if title == "" {
			title = evt.Title
		}
		if title == "" {
			return Outcome{}, &ActionConfigError{ActionType: ActionCreateCalendarEvent, Field: "title", Reason: "no title in config or event context"}
		}
		if c.Calendar == nil {
			return Outcome{}, notConfigured(ActionCreateCalendarEvent, "calendar writer")
		}
		start := now().AddDate(0, 0, cfg.OffsetDays)
		if evt.DueDate != nil {
			start = *evt.DueDate
		}
		duration := time.Duration(cfg.DurationMinutes) * time.Minute
		if duration == 0 {
			duration = time.Hour
		}
		err := c.Calendar.CreateEvent(ctx, CalendarEvent{
			WorkspaceID: evt.WorkspaceID,
			BoardID:     evt.BoardID,
			CardID:      evt.CardID,
			Title:       title,
			StartsAt:    start,
			EndsAt:      start.Add(duration),
		})
		return Outcome{}, execErr(ActionCreateCalendarEvent, err)
	}
}

func createAuditLog(ctx context.Context, raw map[string]interface{}, evt EventContext, c Collaborators) (Outcome, error) {
	var cfg CreateAuditLogConfig
	if err := decodeConfig(ActionCreateAuditLog, raw, &cfg); err != nil {
		return Outcome{}, err
	}
	if c.Audit == nil {
		return Outcome{}, notConfigured(ActionCreateAuditLog, "audit log writer")
	}
	err := c.Audit.AppendAudit(ctx, AuditEntry{
		WorkspaceID: evt.WorkspaceID,
		BoardID:     evt.BoardID,
		CardID:      evt.CardID,
		UserID:      evt.UserID,
		Message:     expand(cfg.Message, evt),
	})
	return Outcome{}, execErr(ActionCreateAuditLog, err)
}

// cardContext carries card identity and scope into a synthetic event.
func cardContext(evt EventContext) EventContext {
	return EventContext{
		BoardID:     evt.BoardID,
		WorkspaceID: evt.WorkspaceID,
		CardID:      evt.CardID,
		ListID:      evt.ListID,
		UserID:      evt.UserID,
		Title:       evt.Title,
		DueDate:     evt.DueDate,
	}
}
