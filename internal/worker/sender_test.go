package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/outreach/internal/circuitbreaker"
)

type mockSES struct {
	input *ses.SendEmailInput
	err   error
}

func (m *mockSES) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	m.input = params
	if m.err != nil {
		return nil, m.err
	}
	return &ses.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
}

func TestNewSender_Selection(t *testing.T) {
	logger := zap.NewNop()
	ctx := context.Background()

	tests := []struct {
		name    string
		cfg     TransportConfig
		want    string
		wantErr bool
	}{
		{"smtp", TransportConfig{Transport: "smtp", SMTPHost: "mail.local", From: "me@example.com"}, "smtp", false},
		{"smtp missing host", TransportConfig{Transport: "smtp", From: "me@example.com"}, "", true},
		{"sendgrid", TransportConfig{Transport: "SendGrid", SendGridAPIKey: "SG.x", From: "me@example.com"}, "sendgrid", false},
		{"sendgrid missing key", TransportConfig{Transport: "sendgrid", From: "me@example.com"}, "", true},
		{"ses missing from", TransportConfig{Transport: "ses", AWSRegion: "us-east-1"}, "", true},
		{"log", TransportConfig{Transport: "log"}, "log", false},
		{"empty", TransportConfig{}, "", true},
		{"unknown", TransportConfig{Transport: "pigeon"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender, err := NewSender(ctx, tt.cfg, logger)
			if tt.wantErr {
				if !errors.Is(err, ErrTransportNotConfigured) {
					t.Fatalf("expected ErrTransportNotConfigured, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if sender.Name() != tt.want {
				t.Errorf("Name: got %s, want %s", sender.Name(), tt.want)
			}
		})
	}
}

func TestSESSender_Send(t *testing.T) {
	mock := &mockSES{}
	sender := newSESSender(mock, SESConfig{Region: "us-east-1", FromEmail: "hello@example.com", FromName: "Outreach"}, zap.NewNop())

	err := sender.Send(context.Background(), Message{
		To:         "owner@bakery.test",
		Subject:    "Website for Rosa's Bakery",
		Body:       "Dear Rosa",
		TrackingID: "trk-1",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	in := mock.input
	if got := aws.ToString(in.Source); got != `"Outreach" <hello@example.com>` {
		t.Errorf("Source: got %s", got)
	}
	if in.Destination.ToAddresses[0] != "owner@bakery.test" {
		t.Errorf("ToAddresses: got %v", in.Destination.ToAddresses)
	}
	if got := aws.ToString(in.Message.Body.Text.Data); got != "Dear Rosa" {
		t.Errorf("Body: got %s", got)
	}
	if len(in.Tags) != 1 || aws.ToString(in.Tags[0].Value) != "trk-1" {
		t.Errorf("Tags: got %+v", in.Tags)
	}
}

func TestSESSender_Errors(t *testing.T) {
	mock := &mockSES{err: errors.New("throttled")}
	sender := newSESSender(mock, SESConfig{Region: "us-east-1", FromEmail: "hello@example.com"}, zap.NewNop())

	err := sender.Send(context.Background(), Message{To: "a@b.test"})
	if err == nil {
		t.Fatal("expected error from SES")
	}
	if errors.Is(err, ErrRecipientRejected) {
		t.Errorf("service error should count as a transport fault: %v", err)
	}

	mock.err = &types.MessageRejected{Message: aws.String("Email address is not verified")}
	if err := sender.Send(context.Background(), Message{To: "a@b.test"}); !errors.Is(err, ErrRecipientRejected) {
		t.Fatalf("expected ErrRecipientRejected, got %v", err)
	}
	if err := sender.Send(context.Background(), Message{}); !errors.Is(err, ErrNoRecipient) {
		t.Fatalf("expected ErrNoRecipient, got %v", err)
	}
}

func TestSendGridSender_Send(t *testing.T) {
	var body map[string]any
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if r.URL.Path != "/v3/mail/send" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sender, err := NewSendGridSender(SendGridConfig{APIKey: "SG.test", Host: server.URL, From: "hello@example.com"}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSendGridSender: %v", err)
	}

	err = sender.Send(context.Background(), Message{To: "owner@bakery.test", Subject: "Hi", Body: "Body", TrackingID: "trk-9"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if auth != "Bearer SG.test" {
		t.Errorf("Authorization: got %q", auth)
	}
	args, _ := body["custom_args"].(map[string]any)
	if args["tracking_id"] != "trk-9" {
		t.Errorf("custom_args: got %v", body["custom_args"])
	}
}

func TestSendGridSender_ErrorStatus(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		rejected bool
	}{
		{"bad address", http.StatusBadRequest, true},
		{"payload too large", http.StatusRequestEntityTooLarge, true},
		{"bad key", http.StatusUnauthorized, false},
		{"forbidden", http.StatusForbidden, false},
		{"throttled", http.StatusTooManyRequests, false},
		{"outage", http.StatusServiceUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"errors":[{"message":"nope"}]}`))
			}))
			defer server.Close()

			sender, _ := NewSendGridSender(SendGridConfig{APIKey: "SG.test", Host: server.URL, From: "hello@example.com"}, zap.NewNop())
			err := sender.Send(context.Background(), Message{To: "bad", Subject: "Hi", Body: "Body"})
			if err == nil || !strings.Contains(err.Error(), fmt.Sprintf("status %d", tt.status)) {
				t.Fatalf("expected status error, got %v", err)
			}
			if got := errors.Is(err, ErrRecipientRejected); got != tt.rejected {
				t.Errorf("recipient rejected: got %v, want %v", got, tt.rejected)
			}
		})
	}
}

func TestSMTPSender_BuildMessage(t *testing.T) {
	sender, err := NewSMTPSender(SMTPConfig{Host: "mail.local", From: "hello@example.com", FromName: "Outreach"}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSMTPSender: %v", err)
	}
	if sender.config.Port != 587 {
		t.Errorf("default port: got %d", sender.config.Port)
	}

	raw := string(sender.buildMessage(Message{
		To:         "owner@bakery.test",
		Subject:    "Hello\r\nBcc: victim@example.com",
		Body:       "line one\nline two",
		TrackingID: "trk-3",
	}))
	if strings.Contains(raw, "\r\nBcc:") {
		t.Error("subject line breaks must not create headers")
	}
	if !strings.Contains(raw, "X-Outreach-Tracking-ID: trk-3\r\n") {
		t.Error("missing tracking header")
	}
	if !strings.HasSuffix(raw, "line one\r\nline two") {
		t.Errorf("body not CRLF normalized: %q", raw)
	}
}

// fakeSMTP answers one SMTP session per connection. RCPT for any address
// in refuse gets a 550.
func fakeSMTP(t *testing.T, refuse map[string]bool) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSMTP(conn, refuse)
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func serveSMTP(conn net.Conn, refuse map[string]bool) {
	defer conn.Close()
	tp := textproto.NewConn(conn)
	_ = tp.PrintfLine("220 fake ESMTP")
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		verb := strings.ToUpper(strings.SplitN(line, " ", 2)[0])
		switch {
		case verb == "EHLO" || verb == "HELO":
			_ = tp.PrintfLine("250 fake")
		case verb == "MAIL":
			_ = tp.PrintfLine("250 OK")
		case verb == "RCPT":
			addr := strings.Trim(strings.TrimPrefix(line, "RCPT TO:"), "<> ")
			if refuse[addr] {
				_ = tp.PrintfLine("550 5.1.1 mailbox unavailable")
			} else {
				_ = tp.PrintfLine("250 OK")
			}
		case verb == "DATA":
			_ = tp.PrintfLine("354 go ahead")
			if _, err := tp.ReadDotBytes(); err != nil {
				return
			}
			_ = tp.PrintfLine("250 queued")
		case verb == "QUIT":
			_ = tp.PrintfLine("221 bye")
			return
		default:
			_ = tp.PrintfLine("250 OK")
		}
	}
}

func TestSMTPSender_RefusedRecipient(t *testing.T) {
	port := fakeSMTP(t, map[string]bool{"gone@bakery.test": true})
	sender, err := NewSMTPSender(SMTPConfig{Host: "127.0.0.1", Port: port, From: "hello@example.com"}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSMTPSender: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = sender.Send(ctx, Message{To: "gone@bakery.test", Subject: "Hi", Body: "Body"})
	if !errors.Is(err, ErrRecipientRejected) {
		t.Fatalf("expected ErrRecipientRejected, got %v", err)
	}
	if !strings.Contains(err.Error(), "550") {
		t.Errorf("reason should keep the server reply: %v", err)
	}

	if err := sender.Send(ctx, Message{To: "owner@bakery.test", Subject: "Hi", Body: "Body"}); err != nil {
		t.Fatalf("healthy recipient: %v", err)
	}
}

func TestSMTPReplyClassification(t *testing.T) {
	tests := []struct {
		code      int
		rcpt      bool
		permanent bool
	}{
		{550, true, true},
		{553, true, true},
		{452, true, false},
		{421, false, false},
		{451, true, false},
	}
	for _, tt := range tests {
		err := fmt.Errorf("wrapped: %w", &textproto.Error{Code: tt.code, Msg: "reply"})
		if got := rcptRefused(err); got != tt.rcpt {
			t.Errorf("rcptRefused(%d): got %v, want %v", tt.code, got, tt.rcpt)
		}
		if got := permanentReply(err); got != tt.permanent {
			t.Errorf("permanentReply(%d): got %v, want %v", tt.code, got, tt.permanent)
		}
	}
	if rcptRefused(errors.New("connection reset")) {
		t.Error("a network error is not a refusal")
	}
}

func TestSMTPSender_DialFailureHonoursContext(t *testing.T) {
	sender, _ := NewSMTPSender(SMTPConfig{Host: "127.0.0.1", Port: 1, From: "hello@example.com"}, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := sender.Send(ctx, Message{To: "a@b.test"}); err == nil {
		t.Fatal("expected dial error")
	}
	if err := sender.Send(ctx, Message{}); !errors.Is(err, ErrNoRecipient) {
		t.Fatalf("expected ErrNoRecipient, got %v", err)
	}
}

func TestProtectedSender_NoRecipientKeepsCircuitClosed(t *testing.T) {
	breaker := circuitbreaker.New(circuitbreaker.Config{Name: "fake", MaxFailures: 1}, zap.NewNop())
	inner := &fakeSender{failFor: map[string]error{"": ErrNoRecipient}}
	sender := NewProtectedSender(inner, breaker, zap.NewNop())

	if err := sender.Send(context.Background(), Message{}); !errors.Is(err, ErrNoRecipient) {
		t.Fatalf("expected ErrNoRecipient, got %v", err)
	}
	if breaker.State() != circuitbreaker.StateClosed {
		t.Fatalf("breaker state: got %s, want closed", breaker.State())
	}

	inner.failFor["x@y.test"] = errors.New("timeout")
	_ = sender.Send(context.Background(), Message{To: "x@y.test"})
	if breaker.State() != circuitbreaker.StateOpen {
		t.Fatalf("breaker state: got %s, want open", breaker.State())
	}

	err := sender.Send(context.Background(), Message{To: "ok@y.test"})
	if !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if sender.Name() != "fake" {
		t.Errorf("Name: got %s", sender.Name())
	}
}

func TestProtectedSender_RejectedRecipientKeepsCircuitClosed(t *testing.T) {
	breaker := circuitbreaker.New(circuitbreaker.Config{Name: "fake", MaxFailures: 1}, zap.NewNop())
	inner := &fakeSender{failFor: map[string]error{
		"gone@y.test": recipientRejected(errors.New("550 mailbox unavailable")),
	}}
	sender := NewProtectedSender(inner, breaker, zap.NewNop())

	for i := 0; i < 3; i++ {
		if err := sender.Send(context.Background(), Message{To: "gone@y.test"}); !errors.Is(err, ErrRecipientRejected) {
			t.Fatalf("expected ErrRecipientRejected, got %v", err)
		}
	}
	if breaker.State() != circuitbreaker.StateClosed {
		t.Fatalf("breaker state: got %s, want closed", breaker.State())
	}
	if err := sender.Send(context.Background(), Message{To: "ok@y.test"}); err != nil {
		t.Fatalf("healthy recipient: %v", err)
	}
}

func TestLogSender_HonoursCancel(t *testing.T) {
	sender := NewLogSender(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	if err := sender.Send(ctx, Message{To: "a@b.test"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	cancel()
	if err := sender.Send(ctx, Message{To: "a@b.test"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
