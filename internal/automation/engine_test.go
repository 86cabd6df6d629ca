package automation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"kanflow/internal/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rule(id string, trigger TriggerType, conds map[string]interface{}, actions ...Action) Rule {
	return Rule{
		ID:          id,
		Name:        id,
		BoardID:     "b1",
		WorkspaceID: "w1",
		Active:      true,
		Trigger:     Trigger{Type: trigger, Conditions: conds},
		Actions:     actions,
	}
}

func act(t ActionType, order int, cfg map[string]interface{}) Action {
	return Action{ID: string(t), Type: t, Order: order, Config: cfg}
}

func TestEngine_TaskCompletedNotifies(t *testing.T) {
	h := newHarness(rule("r1", TriggerTaskCompleted, nil,
		act(ActionSendNotification, 0, map[string]interface{}{"message": "done"})))

	err := h.engine().Process(context.Background(), TriggerTaskCompleted,
		EventContext{TaskID: "t1", CardID: "c1"}, "b1", "w1")
	require.NoError(t, err)

	assert.Equal(t, 1, h.notifier.count())
	assert.Equal(t, "done", h.notifier.sent[0].Message)
	assert.Equal(t, "b1", h.notifier.sent[0].BoardID)

	recs := h.activities.all()
	require.Len(t, recs, 1)
	assert.Equal(t, ActivitySuccess, recs[0].Status)
	assert.Equal(t, "r1", recs[0].AutomationID)
	assert.Equal(t, TriggerTaskCompleted, recs[0].TriggerType)
	require.NotNil(t, recs[0].ActionType)
	assert.Equal(t, ActionSendNotification, *recs[0].ActionType)
	assert.Nil(t, recs[0].Error)
	assert.False(t, recs[0].CreatedAt.IsZero())
}

func TestEngine_DueDateWindow(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	h := newHarness(rule("r1", TriggerDueDateApproaching, map[string]interface{}{"daysBeforeDue": 2},
		act(ActionAddTag, 0, map[string]interface{}{"tag": "due-soon"})))
	e := h.engine(WithClock(func() time.Time { return now }))

	far := now.AddDate(0, 0, 3)
	require.NoError(t, e.Process(context.Background(), TriggerDueDateApproaching, EventContext{CardID: "c1", DueDate: &far}, "b1", "w1"))
	assert.Empty(t, h.activities.all())

	near := now.AddDate(0, 0, 1)
	require.NoError(t, e.Process(context.Background(), TriggerDueDateApproaching, EventContext{CardID: "c2", DueDate: &near}, "b1", "w1"))
	assert.Equal(t, []string{"due-soon"}, h.board.tags["c2"])
	assert.Len(t, h.activities.all(), 1)
}

func TestEngine_OccurrenceKeyFiresEachRuleOnce(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	h := newHarness(
		rule("wide", TriggerDueDateApproaching, map[string]interface{}{"daysBeforeDue": 3},
			act(ActionCreateAuditLog, 0, map[string]interface{}{"message": "wide"})),
		rule("narrow", TriggerDueDateApproaching, map[string]interface{}{"daysBeforeDue": 0.5},
			act(ActionCreateAuditLog, 0, map[string]interface{}{"message": "narrow"})),
	)
	ledger := &memLedger{}
	e := h.engine(WithClock(func() time.Time { return now }), WithOccurrenceLedger(ledger))

	due := now.Add(60 * time.Hour)
	evt := EventContext{CardID: "c1", DueDate: &due, OccurrenceKey: "due:c1"}
	require.NoError(t, e.Process(context.Background(), TriggerDueDateApproaching, evt, "b1", "w1"))
	require.NoError(t, e.Process(context.Background(), TriggerDueDateApproaching, evt, "b1", "w1"))
	assert.Equal(t, []string{"wide"}, h.audit.messages())

	// the narrow rule's claim is only taken once its own window opens
	now = now.Add(50 * time.Hour)
	require.NoError(t, e.Process(context.Background(), TriggerDueDateApproaching, evt, "b1", "w1"))
	assert.Equal(t, []string{"wide", "narrow"}, h.audit.messages())

	// without a key nothing is deduplicated
	evt.OccurrenceKey = ""
	require.NoError(t, e.Process(context.Background(), TriggerDueDateApproaching, evt, "b1", "w1"))
	assert.Len(t, h.audit.messages(), 4)
}

func TestEngine_OccurrenceLedgerErrorSkipsRule(t *testing.T) {
	h := newHarness(rule("r1", TriggerDueDateApproaching, nil,
		act(ActionAddTag, 0, map[string]interface{}{"tag": "due-soon"})))
	e := h.engine(WithOccurrenceLedger(&memLedger{err: errBoom}))

	require.NoError(t, e.Process(context.Background(), TriggerDueDateApproaching,
		EventContext{CardID: "c1", OccurrenceKey: "due:c1"}, "b1", "w1"))
	assert.Empty(t, h.board.tags["c1"])
	assert.Empty(t, h.activities.all())
}

func TestEngine_SelfRetriggeringMoveTerminates(t *testing.T) {
	metrics.Reset()
	h := newHarness(rule("r1", TriggerCardMoved, nil,
		act(ActionMoveCard, 0, map[string]interface{}{"targetListId": "L2"})))
	h.board.lists["c1"] = "L1"

	err := h.engine().Process(context.Background(), TriggerCardMoved,
		EventContext{CardID: "c1", SourceListID: "L0", DestinationListID: "L1"}, "b1", "w1")
	require.NoError(t, err)

	assert.Equal(t, 1, h.board.moves)
	recs := h.activities.all()
	require.Len(t, recs, 2)
	assert.Equal(t, ActivitySuccess, recs[0].Status)

	denied := recs[1]
	assert.Equal(t, ActivityFailure, denied.Status)
	require.NotNil(t, denied.Error)
	assert.Contains(t, *denied.Error, "RecursionLimitExceeded")
	require.NotNil(t, denied.ActionType)
	assert.Equal(t, ActionMoveCard, *denied.ActionType)

	snap := metrics.Take()
	assert.Equal(t, uint64(1), snap.RecursionDenied["cycle"])
	// the move itself succeeded; the denied branch is not an action failure
	assert.Equal(t, uint64(1), snap.Actions["MOVE_CARD:success"])
	assert.Zero(t, snap.Actions["MOVE_CARD:failure"])
}

func TestEngine_IndependentRulesBothRun(t *testing.T) {
	h := newHarness(
		rule("broken", TriggerCardUpdated, nil, act(ActionUpdateCardStatus, 0, map[string]interface{}{})),
		rule("tagger", TriggerCardUpdated, nil, act(ActionAddTag, 0, map[string]interface{}{"tag": "touched"})),
	)

	err := h.engine().Process(context.Background(), TriggerCardUpdated,
		EventContext{CardID: "c1", UpdatedFields: []string{"title"}}, "b1", "w1")
	require.NoError(t, err)

	broken := h.activities.forRule("broken")
	require.Len(t, broken, 1)
	assert.Equal(t, ActivityFailure, broken[0].Status)
	assert.Contains(t, *broken[0].Error, CodeActionConfig)

	tagger := h.activities.forRule("tagger")
	require.Len(t, tagger, 1)
	assert.Equal(t, ActivitySuccess, tagger[0].Status)
	assert.Equal(t, []string{"touched"}, h.board.tags["c1"])
}

func TestEngine_InactiveRulesNeverRun(t *testing.T) {
	r := rule("off", TriggerCardCreated, nil, act(ActionAddTag, 0, map[string]interface{}{"tag": "new"}))
	r.Active = false
	other := rule("other-board", TriggerCardCreated, nil, act(ActionAddTag, 0, map[string]interface{}{"tag": "new"}))
	other.BoardID = "b2"
	h := newHarness(r, other)

	require.NoError(t, h.engine().Process(context.Background(), TriggerCardCreated, EventContext{CardID: "c1"}, "b1", "w1"))
	assert.Empty(t, h.board.tags)
	assert.Empty(t, h.activities.all())
}

func TestEngine_ActionsRunInOrderWithStableTies(t *testing.T) {
	h := newHarness(rule("r1", TriggerCardCreated, nil,
		Action{ID: "a1", Type: ActionCreateAuditLog, Order: 2, Config: map[string]interface{}{"message": "second-a"}},
		Action{ID: "a2", Type: ActionCreateAuditLog, Order: 0, Config: map[string]interface{}{"message": "first"}},
		Action{ID: "a3", Type: ActionCreateAuditLog, Order: 2, Config: map[string]interface{}{"message": "second-b"}},
		Action{ID: "a4", Type: ActionCreateAuditLog, Order: 5, Config: map[string]interface{}{"message": "last"}},
	))

	require.NoError(t, h.engine().Process(context.Background(), TriggerCardCreated, EventContext{CardID: "c1"}, "b1", "w1"))
	assert.Equal(t, []string{"first", "second-a", "second-b", "last"}, h.audit.messages())

	recs := h.activities.all()
	require.Len(t, recs, 4)
	for i := 1; i < len(recs); i++ {
		assert.LessOrEqual(t, *recs[i-1].ActionOrder, *recs[i].ActionOrder)
	}
}

func TestEngine_FailedActionDoesNotStopLaterActions(t *testing.T) {
	h := newHarness(rule("r1", TriggerCommentAdded, nil,
		act(ActionAddTag, 0, map[string]interface{}{"tag": "discussed"}),
		act(ActionSendEmail, 1, map[string]interface{}{"to": "pm@example.com", "subject": "comment"}),
		act(ActionCreateAuditLog, 2, map[string]interface{}{"message": "commented"}),
	))
	h.mailer.err = errBoom

	require.NoError(t, h.engine().Process(context.Background(), TriggerCommentAdded, EventContext{CardID: "c1", CommentText: "hello"}, "b1", "w1"))

	recs := h.activities.all()
	require.Len(t, recs, 3)
	assert.Equal(t, ActivitySuccess, recs[0].Status)
	assert.Equal(t, ActivityFailure, recs[1].Status)
	assert.Contains(t, *recs[1].Error, CodeActionExecution)
	assert.Equal(t, ActivitySuccess, recs[2].Status)

	assert.Equal(t, []string{"discussed"}, h.board.tags["c1"], "earlier effects are not rolled back")
	assert.Equal(t, []string{"commented"}, h.audit.messages())
}

func TestEngine_ConditionMismatchRecordsNothing(t *testing.T) {
	h := newHarness(rule("r1", TriggerCardMoved, map[string]interface{}{"toListId": "done"},
		act(ActionUpdateCardStatus, 0, map[string]interface{}{"status": "complete"})))

	require.NoError(t, h.engine().Process(context.Background(), TriggerCardMoved,
		EventContext{CardID: "c1", SourceListID: "todo", DestinationListID: "doing"}, "b1", "w1"))
	assert.Empty(t, h.activities.all())
	assert.Empty(t, h.board.statuses)
}

func TestEngine_MalformedConditionsRecordFailure(t *testing.T) {
	h := newHarness(rule("r1", TriggerDueDateApproaching, map[string]interface{}{"daysBeforeDue": "tomorrow"},
		act(ActionAddTag, 0, map[string]interface{}{"tag": "x"})))

	require.NoError(t, h.engine().Process(context.Background(), TriggerDueDateApproaching, EventContext{CardID: "c1"}, "b1", "w1"))

	recs := h.activities.all()
	require.Len(t, recs, 1)
	assert.Equal(t, ActivityFailure, recs[0].Status)
	assert.Nil(t, recs[0].ActionType)
	assert.Contains(t, *recs[0].Error, CodeConditionConfig)
	assert.Empty(t, h.board.tags)
}

func TestEngine_ResolutionFailureReturned(t *testing.T) {
	h := newHarness()
	h.rules.err = errors.New("connection refused")

	err := h.engine().Process(context.Background(), TriggerCardCreated, EventContext{CardID: "c1"}, "b1", "w1")
	require.Error(t, err)
	assert.True(t, IsRuleResolutionError(err))
	assert.Contains(t, err.Error(), "connection refused")
	assert.Empty(t, h.activities.all())
}

func TestEngine_CascadeAcrossTriggerTypes(t *testing.T) {
	h := newHarness(
		rule("status", TriggerCardCreated, nil, act(ActionUpdateCardStatus, 0, map[string]interface{}{"status": "triage"})),
		rule("assign", TriggerCardUpdated, map[string]interface{}{"field": "status", "status": "triage"},
			act(ActionAssignUser, 0, map[string]interface{}{"userId": "lead"})),
		rule("notify", TriggerCardAssigned, map[string]interface{}{"assigneeId": "lead"},
			act(ActionSendNotification, 0, map[string]interface{}{"message": "assigned {{cardId}}", "userId": "{{assigneeId}}"})),
	)

	require.NoError(t, h.engine().Process(context.Background(), TriggerCardCreated, EventContext{CardID: "c1"}, "b1", "w1"))

	assert.Equal(t, "triage", h.board.statuses["c1"])
	assert.Equal(t, "lead", h.board.assignees["c1"])
	require.Equal(t, 1, h.notifier.count())
	assert.Equal(t, "lead", h.notifier.sent[0].UserID)
	assert.Equal(t, "assigned c1", h.notifier.sent[0].Message)
}

func TestEngine_DepthCapStopsLongChains(t *testing.T) {
	h := newHarness(
		rule("r1", TriggerCardCreated, nil, act(ActionUpdateCardStatus, 0, map[string]interface{}{"status": "open"})),
		rule("r2", TriggerCardUpdated, nil, act(ActionAssignUser, 0, map[string]interface{}{"userId": "u1"})),
		rule("r3", TriggerCardAssigned, nil, act(ActionMoveCard, 0, map[string]interface{}{"targetListId": "L9"})),
		rule("r4", TriggerCardMoved, nil, act(ActionUpdateCardPriority, 0, map[string]interface{}{"priority": "high"})),
	)

	require.NoError(t, h.engine(WithMaxDepth(3)).Process(context.Background(), TriggerCardCreated, EventContext{CardID: "c1"}, "b1", "w1"))

	assert.Equal(t, 1, h.board.moves)
	assert.Empty(t, h.board.priorities, "CARD_MOVED is past the depth cap")

	denied := h.activities.forRule("r3")
	require.Len(t, denied, 2)
	assert.Equal(t, ActivityFailure, denied[1].Status)
	assert.Contains(t, *denied[1].Error, "depth 3")
}

func TestEngine_ActionTimeout(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(ActionSendEmail, func(ctx context.Context, _ map[string]interface{}, _ EventContext, _ Collaborators) (Outcome, error) {
		<-ctx.Done()
		return Outcome{}, ctx.Err()
	}))
	h := newHarness(rule("r1", TriggerCardCreated, nil,
		act(ActionSendEmail, 0, nil),
		act(ActionAddTag, 1, map[string]interface{}{"tag": "after"}),
	))

	e := h.engine(WithRegistry(reg), WithActionTimeout(20*time.Millisecond))
	require.NoError(t, e.Process(context.Background(), TriggerCardCreated, EventContext{CardID: "c1"}, "b1", "w1"))

	recs := h.activities.all()
	require.Len(t, recs, 2)
	assert.Equal(t, ActivityFailure, recs[0].Status)
	assert.Contains(t, *recs[0].Error, "timed out")
	assert.Equal(t, ActivitySuccess, recs[1].Status)
}

func TestEngine_HandlerPanicBecomesFailure(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(ActionAddTag, func(context.Context, map[string]interface{}, EventContext, Collaborators) (Outcome, error) {
		panic("nil card")
	}))
	h := newHarness(rule("r1", TriggerCardCreated, nil, act(ActionAddTag, 0, nil)))

	require.NoError(t, h.engine(WithRegistry(reg)).Process(context.Background(), TriggerCardCreated, EventContext{CardID: "c1"}, "b1", "w1"))
	recs := h.activities.all()
	require.Len(t, recs, 1)
	assert.Contains(t, *recs[0].Error, "handler panic")
}

func TestEngine_CircuitBreakerFailsFast(t *testing.T) {
	h := newHarness(rule("r1", TriggerCardCreated, nil,
		act(ActionSendEmail, 0, map[string]interface{}{"to": "a@example.com", "subject": "new card"})))
	h.mailer.err = errBoom

	e := h.engine(WithCircuitBreaker(BreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour}))
	for i := 0; i < 3; i++ {
		require.NoError(t, e.Process(context.Background(), TriggerCardCreated, EventContext{CardID: "c1"}, "b1", "w1"))
	}

	assert.Equal(t, 2, h.mailer.calls)
	recs := h.activities.all()
	require.Len(t, recs, 3)
	assert.Contains(t, *recs[2].Error, "circuit open")
	assert.Equal(t, "open", e.BreakerStates()["mailer"])
}

func TestEngine_CanceledContextStartsNoWork(t *testing.T) {
	h := newHarness(rule("r1", TriggerCardCreated, nil, act(ActionAddTag, 0, map[string]interface{}{"tag": "x"})))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, h.engine().Process(ctx, TriggerCardCreated, EventContext{CardID: "c1"}, "b1", "w1"))
	assert.Empty(t, h.board.tags)
	assert.Empty(t, h.activities.all())
}

func TestEngine_ActivityStoreFailureDoesNotAbort(t *testing.T) {
	h := newHarness(rule("r1", TriggerCardCreated, nil,
		act(ActionAddTag, 0, map[string]interface{}{"tag": "one"}),
		act(ActionAddTag, 1, map[string]interface{}{"tag": "two"}),
	))
	h.activities.err = errBoom

	require.NoError(t, h.engine().Process(context.Background(), TriggerCardCreated, EventContext{CardID: "c1"}, "b1", "w1"))
	assert.Equal(t, []string{"one", "two"}, h.board.tags["c1"])
}

func TestEngine_RulesRunConcurrently(t *testing.T) {
	var running, peak int32
	reg := NewRegistry()
	require.NoError(t, reg.Register(ActionCreateAuditLog, func(context.Context, map[string]interface{}, EventContext, Collaborators) (Outcome, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return Outcome{}, nil
	}))

	var rules []Rule
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		rules = append(rules, rule(id, TriggerCardCreated, nil, act(ActionCreateAuditLog, 0, nil)))
	}
	h := newHarness(rules...)

	e := h.engine(WithRegistry(reg), WithRuleConcurrency(2))
	require.NoError(t, e.Process(context.Background(), TriggerCardCreated, EventContext{CardID: "c1"}, "b1", "w1"))

	assert.Len(t, h.activities.all(), 6)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}
