package cli

import (
	"fmt"

	"kanflow/internal/automation"
	"kanflow/internal/config"
	"kanflow/internal/services"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	gormtracing "gorm.io/plugin/opentelemetry/tracing"
)

// openDB connects to postgres and applies the pool settings.
func openDB(cfg *config.Config) (*gorm.DB, error) {
	level := logger.Warn
	if cfg.Log.Level == "debug" {
		level = logger.Info
	}
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{Logger: logger.Default.LogMode(level)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	// GORM OTel 插件
	if cfg.Monitoring.Tracing.Enabled {
		if err := db.Use(gormtracing.NewPlugin()); err != nil {
			logrus.Warnf("gorm tracing plugin: %v", err)
		}
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	return db, nil
}

// stack is the wired service graph shared by run, dispatch and sweep.
type stack struct {
	db            *gorm.DB
	hub           *services.NotificationHub
	rules         *services.RuleService
	activities    *services.ActivityService
	notifications *services.NotificationService
	cards         *services.CardService
	engine        *automation.Engine
	sweeper       *services.DueDateSweeper
}

func buildStack(cfg *config.Config, db *gorm.DB, log *logrus.Logger) *stack {
	hub := services.NewNotificationHub()
	hub.SetDB(db)

	s := &stack{
		db:            db,
		hub:           hub,
		rules:         services.NewRuleService(db, log),
		activities:    services.NewActivityService(db, log),
		notifications: services.NewNotificationService(db, hub, log),
		cards:         services.NewCardService(db, log),
	}

	ac := cfg.Automation
	opts := []automation.Option{
		automation.WithLogger(log),
		automation.WithMaxDepth(ac.MaxDepth),
		automation.WithActionTimeout(ac.ActionTimeout),
		automation.WithDispatchTimeout(ac.DispatchTimeout),
		automation.WithRuleConcurrency(ac.RuleConcurrency),
		automation.WithOccurrenceLedger(services.NewOccurrenceLedger(db)),
	}
	if ac.CircuitBreaker.Enabled {
		opts = append(opts, automation.WithCircuitBreaker(automation.BreakerConfig{
			MaxFailures:     ac.CircuitBreaker.MaxFailures,
			ResetTimeout:    ac.CircuitBreaker.ResetTimeout,
			HalfOpenMaxReqs: ac.CircuitBreaker.HalfOpenMaxReqs,
		}))
	}

	s.engine = automation.New(s.rules, s.activities, automation.Collaborators{
		Board:    services.NewBoardService(db, log),
		Notifier: s.notifications,
		Mailer: services.NewMailService(db, log, services.MailConfig{
			RelayURL: cfg.Mail.RelayURL,
			From:     cfg.Mail.From,
			Timeout:  cfg.Mail.Timeout,
		}),
		Calendar: services.NewCalendarService(db),
		Audit:    services.NewAuditLogService(db),
	}, opts...)

	s.cards.SetAutomation(s.engine)
	s.sweeper = services.NewDueDateSweeper(db, log, s.engine, ac.SweepLookahead())
	return s
}

// loadForCommand is the common prologue of the one-shot subcommands.
func loadForCommand() (*config.Config, *gorm.DB) {
	cfg := config.Load()
	if err := config.InitLogger(cfg); err != nil {
		logrus.Fatalf("Failed to initialize logger: %v", err)
	}
	db, err := openDB(cfg)
	if err != nil {
		logrus.Fatalf("%v", err)
	}
	return cfg, db
}
