package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"kanflow/internal/automation"
	"kanflow/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"
)

// MailConfig configures outbound email.
type MailConfig struct {
	RelayURL string
	From     string
	Timeout  time.Duration
}

// MailService records every message in an outbox and, when a relay is
// configured, hands it to the relay over HTTP.
type MailService struct {
	db     *gorm.DB
	logger *logrus.Logger
	cfg    MailConfig
	client *http.Client
}

type relayRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func NewMailService(db *gorm.DB, logger *logrus.Logger, cfg MailConfig) *MailService {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &MailService{
		db:     db,
		logger: logger,
		cfg:    cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// SendEmail implements automation.Mailer.
func (s *MailService) SendEmail(ctx context.Context, email automation.Email) error {
	msg := &models.EmailMessage{
		To:      email.To,
		Subject: email.Subject,
		Body:    email.Body,
		Status:  "queued",
	}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("failed to queue email: %w", err)
	}
	if s.cfg.RelayURL == "" {
		return nil
	}

	if err := s.relay(ctx, email); err != nil {
		s.logger.Warnf("mail relay failed for message %d: %v", msg.ID, err)
		s.db.WithContext(context.WithoutCancel(ctx)).Model(msg).
			Updates(map[string]interface{}{"status": "failed", "error": err.Error()})
		return err
	}
	now := time.Now()
	return s.db.WithContext(ctx).Model(msg).
		Updates(map[string]interface{}{"status": "sent", "sent_at": &now}).Error
}

func (s *MailService) relay(ctx context.Context, email automation.Email) error {
	tracer := otel.Tracer("kanflow/mail")
	ctx, span := tracer.Start(ctx, "MailService.relay")
	span.SetAttributes(attribute.String("mail.to", email.To))
	defer span.End()

	body, err := json.Marshal(relayRequest{From: s.cfg.From, To: email.To, Subject: email.Subject, Body: email.Body})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.RelayURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		span.SetStatus(codes.Error, resp.Status)
		return fmt.Errorf("relay returned %s: %s", resp.Status, bytes.TrimSpace(snippet))
	}
	return nil
}
