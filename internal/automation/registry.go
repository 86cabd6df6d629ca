package automation

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Outcome is what a handler reports besides its error. Retrigger is set when
// the action itself constitutes a new domain event.
type Outcome struct {
	Retrigger *SyntheticEvent
}

// Handler applies one action kind. It reads its config and the identifiers it
// needs from evt, and calls exactly one collaborator operation.
type Handler func(ctx context.Context, config map[string]interface{}, evt EventContext, c Collaborators) (Outcome, error)

// Registry maps each ActionType to its handler.
type Registry struct {
	mu       sync.RWMutex
	handlers map[ActionType]Handler
}

// NewRegistry returns a registry holding the built-in handler for every
// ActionType.
func NewRegistry() *Registry {
	return newRegistry(time.Now)
}

func newRegistry(now func() time.Time) *Registry {
	r := &Registry{handlers: make(map[ActionType]Handler)}
	r.handlers[ActionUpdateCardStatus] = updateCardStatus
	r.handlers[ActionAssignUser] = assignUser
	r.handlers[ActionSendNotification] = sendNotification
	r.handlers[ActionCreateTasks] = createTasks
	r.handlers[ActionAddTag] = addTag
	r.handlers[ActionCreateCalendarEvent] = createCalendarEvent(now)
	r.handlers[ActionCreateAuditLog] = createAuditLog
	r.handlers[ActionMoveCard] = moveCard
	r.handlers[ActionUpdateCardPriority] = updateCardPriority
	r.handlers[ActionSendEmail] = sendEmail
	return r
}

// Register replaces the handler for t.
func (r *Registry) Register(t ActionType, h Handler) error {
	if !t.IsValid() {
		return fmt.Errorf("unsupported action type: %s", t)
	}
	if h == nil {
		return fmt.Errorf("nil handler for %s", t)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
	return nil
}

func (r *Registry) Lookup(t ActionType) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[t]
	return h, ok
}

// Validate checks that every ActionType has a handler.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range ActionTypes() {
		if _, ok := r.handlers[t]; !ok {
			return fmt.Errorf("no handler registered for %s", t)
		}
	}
	return nil
}
