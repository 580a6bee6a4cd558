package worker

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

type SendGridConfig struct {
	APIKey   string
	Host     string // empty means the public API
	From     string
	FromName string
}

// SendGridSender delivers through the SendGrid v3 mail API.
type SendGridSender struct {
	client *sendgrid.Client
	from   *mail.Email
	logger *zap.Logger
}

func NewSendGridSender(cfg SendGridConfig, logger *zap.Logger) (*SendGridSender, error) {
	if cfg.APIKey == "" || cfg.From == "" {
		return nil, fmt.Errorf("sendgrid needs SENDGRID_API_KEY and MAIL_FROM: %w", ErrTransportNotConfigured)
	}

	client := sendgrid.NewSendClient(cfg.APIKey)
	if cfg.Host != "" {
		req := sendgrid.GetRequest(cfg.APIKey, "/v3/mail/send", cfg.Host)
		req.Method = "POST"
		client = &sendgrid.Client{Request: req}
	}

	return &SendGridSender{
		client: client,
		from:   mail.NewEmail(cfg.FromName, cfg.From),
		logger: logger,
	}, nil
}

func (s *SendGridSender) Name() string { return "sendgrid" }

// messageScoped reports a 4xx that rejects this request's content or
// address. Auth failures, throttling and 5xx are transport faults.
func messageScoped(status int) bool {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
		return false
	}
	return status >= 400 && status < 500
}

func (s *SendGridSender) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}

	message := mail.NewSingleEmail(s.from, msg.Subject, mail.NewEmail("", msg.To), msg.Body, "")
	if msg.TrackingID != "" {
		message.SetCustomArg("tracking_id", msg.TrackingID)
	}

	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid send failed: %w", err)
	}
	if response.StatusCode >= 400 {
		err := fmt.Errorf("sendgrid returned status %d: %s", response.StatusCode, response.Body)
		if messageScoped(response.StatusCode) {
			return recipientRejected(err)
		}
		return err
	}

	s.logger.Info("email sent via sendgrid",
		zap.String("to", msg.To),
		zap.String("tracking_id", msg.TrackingID),
		zap.Int("status", response.StatusCode),
	)
	return nil
}
