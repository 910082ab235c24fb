package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mailgun/mailgun-go/v4"
)

// Config holds the Mailgun delivery settings.
type Config struct {
	MailgunDomain string
	MailgunAPIKey string
	FromEmail     string
	FromName      string
	Enabled       bool
}

// IsConfigured reports whether Mailgun delivery can be attempted.
func (c Config) IsConfigured() bool {
	return c.Enabled && c.MailgunDomain != "" && c.MailgunAPIKey != "" && c.FromEmail != ""
}

// MailgunSender delivers through the Mailgun API.
type MailgunSender struct {
	cfg    Config
	client *mailgun.MailgunImpl
	log    *slog.Logger
}

// NewMailgunSender creates a sender. It fails when cfg is incomplete.
func NewMailgunSender(cfg Config, log *slog.Logger) (*MailgunSender, error) {
	if !cfg.IsConfigured() {
		return nil, errors.New("socialq/email: mailgun is not configured")
	}
	return &MailgunSender{
		cfg:    cfg,
		client: mailgun.NewMailgun(cfg.MailgunDomain, cfg.MailgunAPIKey),
		log:    log.With("component", "email.mailgun"),
	}, nil
}

// Send delivers one message.
func (s *MailgunSender) Send(ctx context.Context, to, subject, html string) error {
	from := s.cfg.FromEmail
	if s.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.cfg.FromName, s.cfg.FromEmail)
	}

	message := s.client.NewMessage(from, subject, "", to)
	message.SetHtml(html)

	_, messageID, err := s.client.Send(ctx, message)
	if err != nil {
		return fmt.Errorf("mailgun: %w", err)
	}

	s.log.Info("email sent",
		slog.String("to", to),
		slog.String("message_id", messageID),
	)
	return nil
}

// LogSender logs messages instead of delivering them. It stands in for
// Mailgun in development.
type LogSender struct {
	log *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(log *slog.Logger) *LogSender {
	return &LogSender{log: log.With("component", "email.log")}
}

// Send logs the message.
func (s *LogSender) Send(_ context.Context, to, subject, html string) error {
	s.log.Info("email not delivered, mailgun disabled",
		slog.String("to", to),
		slog.String("subject", subject),
		slog.Int("html_bytes", len(html)),
	)
	return nil
}

// NewSender returns a MailgunSender when cfg is complete and a LogSender
// otherwise.
func NewSender(cfg Config, log *slog.Logger) Sender {
	if s, err := NewMailgunSender(cfg, log); err == nil {
		return s
	}
	return NewLogSender(log)
}
