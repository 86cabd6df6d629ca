package automation

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// memRules returns every rule of the requested trigger type, active or not,
// so filtering is left to the resolver.
type memRules struct {
	mu    sync.Mutex
	rules []Rule
	err   error
	calls int
}

func (m *memRules) FindActiveRules(_ context.Context, t TriggerType, _, _ string) ([]Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	var out []Rule
	for _, r := range m.rules {
		if r.Trigger.Type == t {
			out = append(out, r)
		}
	}
	return out, nil
}

type memActivities struct {
	mu   sync.Mutex
	recs []Activity
	err  error
}

func (m *memActivities) AppendActivity(_ context.Context, a Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.recs = append(m.recs, a)
	return nil
}

func (m *memActivities) all() []Activity {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Activity, len(m.recs))
	copy(out, m.recs)
	return out
}

func (m *memActivities) forRule(id string) []Activity {
	var out []Activity
	for _, a := range m.all() {
		if a.AutomationID == id {
			out = append(out, a)
		}
	}
	return out
}

type fakeBoard struct {
	mu         sync.Mutex
	statuses   map[string]string
	priorities map[string]string
	assignees  map[string]string
	lists      map[string]string
	tasks      map[string][]string
	tags       map[string][]string
	moves      int
	err        error
}

func newFakeBoard() *fakeBoard {
	return &fakeBoard{
		statuses:   map[string]string{},
		priorities: map[string]string{},
		assignees:  map[string]string{},
		lists:      map[string]string{},
		tasks:      map[string][]string{},
		tags:       map[string][]string{},
	}
}

func (b *fakeBoard) UpdateCardStatus(_ context.Context, cardID, status string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.statuses[cardID] = status
	return nil
}

func (b *fakeBoard) UpdateCardPriority(_ context.Context, cardID, priority string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.priorities[cardID] = priority
	return nil
}

func (b *fakeBoard) MoveCard(_ context.Context, cardID, target string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return "", b.err
	}
	b.moves++
	source := b.lists[cardID]
	b.lists[cardID] = target
	return source, nil
}

func (b *fakeBoard) AssignCard(_ context.Context, cardID, userID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.assignees[cardID] = userID
	return nil
}

func (b *fakeBoard) CreateTasks(_ context.Context, cardID string, titles []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.tasks[cardID] = append(b.tasks[cardID], titles...)
	return nil
}

func (b *fakeBoard) AddTag(_ context.Context, cardID, tag, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.tags[cardID] = append(b.tags[cardID], tag)
	return nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (n *fakeNotifier) Notify(_ context.Context, msg Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type fakeMailer struct {
	mu    sync.Mutex
	sent  []Email
	calls int
	err   error
}

func (m *fakeMailer) SendEmail(_ context.Context, e Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, e)
	return nil
}

type fakeCalendar struct {
	mu     sync.Mutex
	events []CalendarEvent
}

func (c *fakeCalendar) CreateEvent(_ context.Context, e CalendarEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (a *fakeAudit) AppendAudit(_ context.Context, e AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

func (a *fakeAudit) messages() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.entries))
	for i, e := range a.entries {
		out[i] = e.Message
	}
	return out
}

type harness struct {
	rules      *memRules
	activities *memActivities
	board      *fakeBoard
	notifier   *fakeNotifier
	mailer     *fakeMailer
	calendar   *fakeCalendar
	audit      *fakeAudit
}

func newHarness(rules ...Rule) *harness {
	return &harness{
		rules:      &memRules{rules: rules},
		activities: &memActivities{},
		board:      newFakeBoard(),
		notifier:   &fakeNotifier{},
		mailer:     &fakeMailer{},
		calendar:   &fakeCalendar{},
		audit:      &fakeAudit{},
	}
}

func (h *harness) collaborators() Collaborators {
	return Collaborators{
		Board:    h.board,
		Notifier: h.notifier,
		Mailer:   h.mailer,
		Calendar: h.calendar,
		Audit:    h.audit,
	}
}

func (h *harness) engine(opts ...Option) *Engine {
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	return New(h.rules, h.activities, h.collaborators(), opts...)
}

type memLedger struct {
	mu     sync.Mutex
	claims map[string]bool
	err    error
}

func (l *memLedger) Claim(_ context.Context, ruleID, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	if l.claims == nil {
		l.claims = make(map[string]bool)
	}
	k := ruleID + "|" + key
	if l.claims[k] {
		return false, nil
	}
	l.claims[k] = true
	return true, nil
}

var errBoom = errors.New("boom")

func strPtr(s string) *string { return &s }
