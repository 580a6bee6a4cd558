package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

var (
	// ErrTransportNotConfigured means the selected mail transport is missing
	// credentials. Dispatch refuses to run rather than failing every email.
	ErrTransportNotConfigured = errors.New("mail transport not configured")

	// ErrNoRecipient is the failure recorded for a business without an
	// email address.
	ErrNoRecipient = errors.New("no recipient address")

	// ErrRecipientRejected marks a send the transport refused for this one
	// message or address, such as an SMTP 550 on RCPT. It fails the email
	// but says nothing about the health of the transport.
	ErrRecipientRejected = errors.New("recipient rejected")
)

func recipientRejected(err error) error {
	return fmt.Errorf("%w: %w", ErrRecipientRejected, err)
}

// Message is one outbound email.
type Message struct {
	To         string
	Subject    string
	Body       string
	TrackingID string
}

// Sender delivers a message. Any returned error fails the email. Errors
// scoped to one recipient wrap ErrRecipientRejected; anything else is
// treated as a transport fault.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// TransportConfig selects and configures a mail transport.
type TransportConfig struct {
	Transport string // smtp, ses, sendgrid, log
	From      string
	FromName  string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string

	SendGridAPIKey string
	SendGridHost   string

	AWSRegion string
}

// NewSender builds the configured transport. Missing credentials return an
// error wrapping ErrTransportNotConfigured.
func NewSender(ctx context.Context, cfg TransportConfig, logger *zap.Logger) (Sender, error) {
	switch strings.ToLower(cfg.Transport) {
	case "smtp":
		return NewSMTPSender(SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.From,
			FromName: cfg.FromName,
		}, logger)
	case "ses":
		return NewSESSender(ctx, SESConfig{
			Region:    cfg.AWSRegion,
			FromEmail: cfg.From,
			FromName:  cfg.FromName,
		}, logger)
	case "sendgrid":
		return NewSendGridSender(SendGridConfig{
			APIKey:   cfg.SendGridAPIKey,
			Host:     cfg.SendGridHost,
			From:     cfg.From,
			FromName: cfg.FromName,
		}, logger)
	case "log":
		return NewLogSender(logger), nil
	case "":
		return nil, fmt.Errorf("MAIL_TRANSPORT is empty: %w", ErrTransportNotConfigured)
	default:
		return nil, fmt.Errorf("unknown mail transport %q: %w", cfg.Transport, ErrTransportNotConfigured)
	}
}

// LogSender only logs messages. It is for local development.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.Info("email logged (development transport)",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("tracking_id", msg.TrackingID),
		zap.Int("body_length", len(msg.Body)),
	)
	return nil
}

func (s *LogSender) Name() string { return "log" }
