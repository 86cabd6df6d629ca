package automation

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// Conditions is the typed condition set of one trigger type. A nil field
// means the dimension is unconstrained.
type Conditions interface {
	TriggerType() TriggerType
	Matches(evt EventContext, now time.Time) bool
}

type CardCreatedConditions struct {
	ListID *string `mapstructure:"listId"`
}

func (CardCreatedConditions) TriggerType() TriggerType { return TriggerCardCreated }

func (c CardCreatedConditions) Matches(evt EventContext, _ time.Time) bool {
	return equalOrUnset(c.ListID, evt.ListID)
}

type CardMovedConditions struct {
	FromListID *string `mapstructure:"fromListId"`
	ToListID   *string `mapstructure:"toListId"`
}

func (CardMovedConditions) TriggerType() TriggerType { return TriggerCardMoved }

func (c CardMovedConditions) Matches(evt EventContext, _ time.Time) bool {
	return equalOrUnset(c.FromListID, evt.SourceListID) &&
		equalOrUnset(c.ToListID, evt.DestinationListID)
}

type CardUpdatedConditions struct {
	Field    *string `mapstructure:"field"`
	Status   *string `mapstructure:"status"`
	Priority *string `mapstructure:"priority"`
}

func (CardUpdatedConditions) TriggerType() TriggerType { return TriggerCardUpdated }

func (c CardUpdatedConditions) Matches(evt EventContext, _ time.Time) bool {
	if c.Field != nil {
		found := false
		for _, f := range evt.UpdatedFields {
			if f == *c.Field {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return equalOrUnset(c.Status, evt.Status) && equalOrUnset(c.Priority, evt.Priority)
}

type TaskCompletedConditions struct {
	TaskID *string `mapstructure:"taskId"`
}

func (TaskCompletedConditions) TriggerType() TriggerType { return TriggerTaskCompleted }

func (c TaskCompletedConditions) Matches(evt EventContext, _ time.Time) bool {
	return equalOrUnset(c.TaskID, evt.TaskID)
}

type AllTasksCompletedConditions struct {
	ListID *string `mapstructure:"listId"`
}

func (AllTasksCompletedConditions) TriggerType() TriggerType { return TriggerAllTasksCompleted }

func (c AllTasksCompletedConditions) Matches(evt EventContext, _ time.Time) bool {
	return equalOrUnset(c.ListID, evt.ListID)
}

type CommentAddedConditions struct {
	Contains *string `mapstructure:"contains"`
}

func (CommentAddedConditions) TriggerType() TriggerType { return TriggerCommentAdded }

func (c CommentAddedConditions) Matches(evt EventContext, _ time.Time) bool {
	if c.Contains == nil {
		return true
	}
	if evt.CommentText == "" {
		return false
	}
	return strings.Contains(strings.ToLower(evt.CommentText), strings.ToLower(*c.Contains))
}

type UserMentionedConditions struct {
	MentionedUser *string `mapstructure:"mentionedUser"`
}

func (UserMentionedConditions) TriggerType() TriggerType { return TriggerUserMentioned }

func (c UserMentionedConditions) Matches(evt EventContext, _ time.Time) bool {
	return equalOrUnset(c.MentionedUser, evt.MentionedUser)
}

type AttachmentAddedConditions struct {
	FileType *string `mapstructure:"fileType"`
}

func (AttachmentAddedConditions) TriggerType() TriggerType { return TriggerAttachmentAdded }

func (c AttachmentAddedConditions) Matches(evt EventContext, _ time.Time) bool {
	if c.FileType == nil {
		return true
	}
	if evt.FileType == "" {
		return false
	}
	return normalizeFileType(*c.FileType) == normalizeFileType(evt.FileType)
}

// DueDateApproachingConditions matches while the card's due date lies within
// DaysBeforeDue days of now and has not yet passed.
type DueDateApproachingConditions struct {
	DaysBeforeDue *float64 `mapstructure:"daysBeforeDue"`
}

func (DueDateApproachingConditions) TriggerType() TriggerType { return TriggerDueDateApproaching }

// Window returns the warning window; ok is false when no daysBeforeDue is set.
func (c DueDateApproachingConditions) Window() (window time.Duration, ok bool) {
	if c.DaysBeforeDue == nil {
		return 0, false
	}
	return time.Duration(*c.DaysBeforeDue * float64(24*time.Hour)), true
}

func (c DueDateApproachingConditions) Matches(evt EventContext, now time.Time) bool {
	window, ok := c.Window()
	if !ok {
		return true
	}
	if evt.DueDate == nil {
		return false
	}
	remaining := evt.DueDate.Sub(now)
	return remaining > 0 && remaining <= window
}

type CardAssignedConditions struct {
	AssigneeID *string `mapstructure:"assigneeId"`
}

func (CardAssignedConditions) TriggerType() TriggerType { return TriggerCardAssigned }

func (c CardAssignedConditions) Matches(evt EventContext, _ time.Time) bool {
	return equalOrUnset(c.AssigneeID, evt.AssigneeID)
}

func newConditions(t TriggerType) (Conditions, error) {
	switch t {
	case TriggerCardCreated:
		return &CardCreatedConditions{}, nil
	case TriggerCardMoved:
		return &CardMovedConditions{}, nil
	case TriggerCardUpdated:
		return &CardUpdatedConditions{}, nil
	case TriggerTaskCompleted:
		return &TaskCompletedConditions{}, nil
	case TriggerAllTasksCompleted:
		return &AllTasksCompletedConditions{}, nil
	case TriggerCommentAdded:
		return &CommentAddedConditions{}, nil
	case TriggerUserMentioned:
		return &UserMentionedConditions{}, nil
	case TriggerAttachmentAdded:
		return &AttachmentAddedConditions{}, nil
	case TriggerDueDateApproaching:
		return &DueDateApproachingConditions{}, nil
	case TriggerCardAssigned:
		return &CardAssignedConditions{}, nil
	default:
		return nil, fmt.Errorf("unsupported trigger type: %s", t)
	}
}

// DecodeConditions turns a raw condition map into the typed set for t.
// Unknown keys are returned separately and never cause an error; a value of
// the wrong type for a known key does.
func DecodeConditions(t TriggerType, raw map[string]interface{}) (Conditions, []string, error) {
	target, err := newConditions(t)
	if err != nil {
		return nil, nil, &ConditionConfigError{TriggerType: t, Err: err}
	}
	unused, err := decodeInto(raw, target)
	if err != nil {
		return nil, unused, &ConditionConfigError{TriggerType: t, Err: err}
	}
	return target, unused, nil
}

// Matches reports whether evt satisfies trigger's conditions at now. It never
// errors: an undecodable condition set does not match.
func Matches(trigger Trigger, evt EventContext, now time.Time) bool {
	conds, _, err := DecodeConditions(trigger.Type, trigger.Conditions)
	if err != nil {
		return false
	}
	return conds.Matches(evt, now)
}

func decodeInto(raw map[string]interface{}, target interface{}) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Metadata:   &md,
		Result:     target,
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return md.Unused, err
	}
	return md.Unused, nil
}

func equalOrUnset(want *string, got string) bool {
	if want == nil {
		return true
	}
	if got == "" {
		return false
	}
	return *want == got
}

func normalizeFileType(s string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), ".")
}
