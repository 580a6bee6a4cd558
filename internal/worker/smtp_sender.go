package worker

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// SMTPSender delivers over SMTP, upgrading with STARTTLS when the server
// offers it.
type SMTPSender struct {
	config SMTPConfig
	logger *zap.Logger
}

func NewSMTPSender(cfg SMTPConfig, logger *zap.Logger) (*SMTPSender, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, fmt.Errorf("smtp needs SMTP_HOST and MAIL_FROM: %w", ErrTransportNotConfigured)
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPSender{config: cfg, logger: logger}, nil
}

func (s *SMTPSender) Name() string { return "smtp" }

// Send dials, authenticates and writes one message. The context deadline
// bounds the whole exchange.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}

	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: s.config.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if s.config.Username != "" {
		auth := smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(s.config.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		if rcptRefused(err) {
			err = recipientRejected(err)
		}
		return fmt.Errorf("smtp rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(s.buildMessage(msg)); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		if permanentReply(err) {
			err = recipientRejected(err)
		}
		return fmt.Errorf("smtp send failed: %w", err)
	}
	_ = client.Quit()

	s.logger.Info("email sent via smtp",
		zap.String("to", msg.To),
		zap.String("tracking_id", msg.TrackingID),
	)
	return nil
}

func (s *SMTPSender) buildMessage(msg Message) []byte {
	from := mail.Address{Name: s.config.FromName, Address: s.config.From}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from.String())
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", headerSafe(msg.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	if msg.TrackingID != "" {
		fmt.Fprintf(&b, "X-Outreach-Tracking-ID: %s\r\n", msg.TrackingID)
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(msg.Body, "\r\n", "\n"), "\n", "\r\n"))
	return []byte(b.String())
}

// rcptRefused reports a reply to RCPT that refuses this mailbox only: any
// 5xx, or a 45x mailbox-level deferral. A 421 closes the whole session and
// stays a transport fault.
func rcptRefused(err error) bool {
	var reply *textproto.Error
	if !errors.As(err, &reply) {
		return false
	}
	return reply.Code >= 500 || (reply.Code >= 450 && reply.Code < 460)
}

// permanentReply reports a 5xx reply to the end of DATA, a rejection of
// this message.
func permanentReply(err error) bool {
	var reply *textproto.Error
	return errors.As(err, &reply) && reply.Code >= 500
}

// headerSafe drops line breaks so a subject cannot inject headers.
func headerSafe(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}
