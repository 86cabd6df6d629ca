package services

import (
	"context"
	"testing"

	"kanflow/internal/automation"
	"kanflow/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type stack struct {
	db     *gorm.DB
	rules  *RuleService
	cards  *CardService
	engine *automation.Engine
}

func newStack(t *testing.T, opts ...automation.Option) *stack {
	t.Helper()
	db := newTestDB(t)
	log := quietLogger()
	rules := NewRuleService(db, log)
	engine := automation.New(rules, NewActivityService(db, log), automation.Collaborators{
		Board:    NewBoardService(db, log),
		Notifier: NewNotificationService(db, nil, log),
		Mailer:   NewMailService(db, log, MailConfig{}),
		Calendar: NewCalendarService(db),
		Audit:    NewAuditLogService(db),
	}, append([]automation.Option{
		automation.WithLogger(log),
		automation.WithOccurrenceLedger(NewOccurrenceLedger(db)),
	}, opts...)...)
	cards := NewCardService(db, log)
	cards.SetAutomation(engine)
	return &stack{db: db, rules: rules, cards: cards, engine: engine}
}

func (s *stack) rule(t *testing.T, trigger string, conds map[string]interface{}, actions ...RuleActionRequest) string {
	t.Helper()
	r, err := s.rules.CreateRule(context.Background(), &RuleCreateRequest{
		Name:        trigger,
		WorkspaceID: "w1",
		BoardID:     "b1",
		TriggerType: trigger,
		Conditions:  conds,
		Actions:     actions,
	})
	require.NoError(t, err)
	return r.ID
}

func TestAutomation_MoveToDoneCascades(t *testing.T) {
	s := newStack(t)
	moved := s.rule(t, "CARD_MOVED", map[string]interface{}{"toListId": "done"},
		RuleActionRequest{Type: "UPDATE_CARD_STATUS", Config: map[string]interface{}{"status": "done"}},
		RuleActionRequest{Type: "SEND_NOTIFICATION", Config: map[string]interface{}{"message": "{{title}} shipped"}},
	)
	updated := s.rule(t, "CARD_UPDATED", map[string]interface{}{"field": "status", "status": "done"},
		RuleActionRequest{Type: "ADD_TAG", Config: map[string]interface{}{"tag": "shipped"}},
		RuleActionRequest{Type: "CREATE_AUDIT_LOG", Config: map[string]interface{}{"message": "closed {{cardId}}"}},
	)

	card := seedCard(t, s.db, &models.Card{ListID: "doing", Title: "Release"})
	_, err := s.cards.MoveCard(context.Background(), card.ID, "done", "u1")
	require.NoError(t, err)

	got, err := s.cards.GetCard(context.Background(), card.ID)
	require.NoError(t, err)
	assert.Equal(t, "done", got.Status)
	require.Len(t, got.Tags, 1)
	assert.Equal(t, "shipped", got.Tags[0].Name)

	var notes []models.Notification
	require.NoError(t, s.db.Find(&notes).Error)
	require.Len(t, notes, 1)
	assert.Equal(t, "Release shipped", notes[0].Message)
	assert.Equal(t, "u1", notes[0].UserID)

	var audit models.AuditLog
	require.NoError(t, s.db.First(&audit).Error)
	assert.Equal(t, "closed "+card.ID, audit.Message)

	var movedActs, updatedActs []models.AutomationActivity
	require.NoError(t, s.db.Where("automation_id = ?", moved).Order("id").Find(&movedActs).Error)
	require.NoError(t, s.db.Where("automation_id = ?", updated).Order("id").Find(&updatedActs).Error)
	require.Len(t, movedActs, 2)
	require.Len(t, updatedActs, 2)
	for _, a := range append(movedActs, updatedActs...) {
		assert.Equal(t, "success", a.Status)
		assert.Equal(t, "b1", a.BoardID)
	}
	assert.Equal(t, "CARD_UPDATED", updatedActs[0].TriggerType)
}

func TestAutomation_SelfCycleStopsAtRecursionGuard(t *testing.T) {
	s := newStack(t)
	id := s.rule(t, "CARD_MOVED", nil,
		RuleActionRequest{Type: "MOVE_CARD", Config: map[string]interface{}{"targetListId": "archive"}},
	)
	card := seedCard(t, s.db, &models.Card{ListID: "todo"})

	_, err := s.cards.MoveCard(context.Background(), card.ID, "doing", "u1")
	require.NoError(t, err)

	got, err := s.cards.GetCard(context.Background(), card.ID)
	require.NoError(t, err)
	assert.Equal(t, "archive", got.ListID)

	var acts []models.AutomationActivity
	require.NoError(t, s.db.Where("automation_id = ?", id).Order("id").Find(&acts).Error)
	require.Len(t, acts, 2)
	assert.Equal(t, "success", acts[0].Status)
	assert.Equal(t, "failure", acts[1].Status)
	require.NotNil(t, acts[1].Error)
	assert.Contains(t, *acts[1].Error, "RecursionLimitExceeded")
	require.NotNil(t, acts[1].ActionType)
	assert.Equal(t, "MOVE_CARD", *acts[1].ActionType)
	assert.Nil(t, acts[1].ActionOrder)
}

func TestAutomation_FailingActionDoesNotBlockSiblings(t *testing.T) {
	s := newStack(t)
	s.rule(t, "COMMENT_ADDED", map[string]interface{}{"contains": "urgent"},
		RuleActionRequest{Type: "UPDATE_CARD_PRIORITY", Config: map[string]interface{}{}},
		RuleActionRequest{Type: "ADD_TAG", Config: map[string]interface{}{"tag": "escalated"}},
	)
	card := seedCard(t, s.db, &models.Card{})

	_, err := s.cards.AddComment(context.Background(), card.ID, "u1", "this is URGENT")
	require.NoError(t, err)

	got, err := s.cards.GetCard(context.Background(), card.ID)
	require.NoError(t, err)
	require.Len(t, got.Tags, 1)

	var failures []models.AutomationActivity
	require.NoError(t, s.db.Where("status = ?", "failure").Find(&failures).Error)
	require.Len(t, failures, 1)
	assert.Contains(t, *failures[0].Error, automation.CodeActionConfig)
}

func TestAutomation_SyntheticEventsFollowWholeRule(t *testing.T) {
	s := newStack(t)
	s.rule(t, "CARD_MOVED", nil,
		RuleActionRequest{Type: "UPDATE_CARD_STATUS", Config: map[string]interface{}{"status": "review"}},
		RuleActionRequest{Type: "CREATE_AUDIT_LOG", Config: map[string]interface{}{"message": "moved {{cardId}}"}},
	)
	s.rule(t, "CARD_UPDATED", nil,
		RuleActionRequest{Type: "CREATE_AUDIT_LOG", Config: map[string]interface{}{"message": "updated {{cardId}}"}},
	)

	card := seedCard(t, s.db, &models.Card{ListID: "todo"})
	_, err := s.cards.MoveCard(context.Background(), card.ID, "doing", "u1")
	require.NoError(t, err)

	// the CARD_UPDATED rule runs only after every action of the moving rule
	var audit []models.AuditLog
	require.NoError(t, s.db.Order("id").Find(&audit).Error)
	require.Len(t, audit, 2)
	assert.Equal(t, "moved "+card.ID, audit[0].Message)
	assert.Equal(t, "updated "+card.ID, audit[1].Message)
}
