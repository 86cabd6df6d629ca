package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"kanflow/internal/automation"
	"kanflow/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB opens a private in-memory database. Shared cache with a single
// connection keeps every goroutine on the same schema.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func seedCard(t *testing.T, db *gorm.DB, card *models.Card) *models.Card {
	t.Helper()
	if card.BoardID == "" {
		card.BoardID = "b1"
	}
	if card.WorkspaceID == "" {
		card.WorkspaceID = "w1"
	}
	if card.Title == "" {
		card.Title = "card"
	}
	if card.Status == "" {
		card.Status = "open"
	}
	if card.Priority == "" {
		card.Priority = "medium"
	}
	if err := db.Create(card).Error; err != nil {
		t.Fatalf("failed to seed card: %v", err)
	}
	return card
}

type dispatched struct {
	Trigger automation.TriggerType
	Event   automation.EventContext
	BoardID string
}

// recordingDispatcher captures Process calls.
type recordingDispatcher struct {
	mu    sync.Mutex
	calls []dispatched
	err   error
}

func (d *recordingDispatcher) Process(_ context.Context, t automation.TriggerType, evt automation.EventContext, boardID, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, dispatched{Trigger: t, Event: evt, BoardID: boardID})
	return d.err
}

func (d *recordingDispatcher) triggers() []automation.TriggerType {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]automation.TriggerType, 0, len(d.calls))
	for _, c := range d.calls {
		out = append(out, c.Trigger)
	}
	return out
}

var errBoomService = errors.New("boom")
