package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lalithlochan/outreach/internal/circuitbreaker"
	"github.com/lalithlochan/outreach/internal/db"
	"github.com/lalithlochan/outreach/internal/metrics"
	"github.com/lalithlochan/outreach/internal/sns"
)

// Store is the part of the repository a dispatch pass needs.
type Store interface {
	DueEmails(ctx context.Context, now time.Time, limit int) ([]db.DueEmail, error)
	MarkEmailSent(ctx context.Context, emailID int64, at time.Time) error
	MarkEmailFailed(ctx context.Context, emailID int64, reason string) error
}

// Quota hands out daily send slots. Take returns false once the day's cap
// is used up. Release returns a slot taken for a send that never reached
// the transport.
type Quota interface {
	Take(ctx context.Context, now time.Time) (bool, error)
	Release(ctx context.Context, now time.Time) error
}

// OutcomePublisher receives the sent and failed rows of a pass.
type OutcomePublisher interface {
	PublishOutcomes(ctx context.Context, events []sns.EmailOutcome) (int, error)
}

// Lifecycle moves campaigns along once their emails change state.
type Lifecycle interface {
	RefreshStatuses(ctx context.Context) error
}

type Config struct {
	SendTimeout   time.Duration
	BatchSize     int     // 0 sends every due row
	RatePerSecond float64 // 0 disables pacing
}

// Result counts what one pass did with each due row.
type Result struct {
	Sent     int `json:"sent"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
	Deferred int `json:"deferred"`
}

func (r Result) Total() int {
	return r.Sent + r.Failed + r.Skipped + r.Deferred
}

type Worker struct {
	store     Store
	sender    Sender
	config    Config
	quota     Quota
	publisher OutcomePublisher
	lifecycle Lifecycle
	limiter   *rate.Limiter
	now       func() time.Time
	logger    *zap.Logger
}

type Option func(*Worker)

func WithQuota(q Quota) Option {
	return func(w *Worker) { w.quota = q }
}

func WithPublisher(p OutcomePublisher) Option {
	return func(w *Worker) { w.publisher = p }
}

func WithLifecycle(l Lifecycle) Option {
	return func(w *Worker) { w.lifecycle = l }
}

func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// New returns a dispatcher. A nil sender is allowed so the process can
// start without mail credentials; RunDueEmails then fails with
// ErrTransportNotConfigured.
func New(store Store, sender Sender, cfg Config, logger *zap.Logger, opts ...Option) *Worker {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}

	w := &Worker{
		store:  store,
		sender: sender,
		config: cfg,
		now:    time.Now,
		logger: logger,
	}
	if cfg.RatePerSecond > 0 {
		w.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// RunDueEmails sends every scheduled email whose time has come. Each row is
// recorded on its own, so a failed send never stops the pass and running
// it twice never sends a row twice.
//
// Once ctx is cancelled the email in flight is finished and recorded and
// the rest are left scheduled.
func (w *Worker) RunDueEmails(ctx context.Context) (Result, error) {
	var res Result
	if w.sender == nil {
		return res, ErrTransportNotConfigured
	}

	start := time.Now()
	due, err := w.store.DueEmails(ctx, w.now(), w.config.BatchSize)
	if err != nil {
		metrics.RecordDispatchPass("error", time.Since(start))
		return res, fmt.Errorf("load due emails: %w", err)
	}
	if len(due) == 0 {
		metrics.RecordDispatchPass("empty", time.Since(start))
		return res, nil
	}

	w.logger.Info("dispatch pass started",
		zap.Int("due", len(due)),
		zap.String("transport", w.sender.Name()),
	)

	events := make([]sns.EmailOutcome, 0, len(due))
	for i, email := range due {
		release, reason := w.gate(ctx, email)
		if reason != "" {
			res.Deferred = len(due) - i
			w.logger.Warn("dispatch pass stopped early",
				zap.String("reason", reason),
				zap.Int("deferred", res.Deferred),
			)
			break
		}

		event, outcome := w.deliver(ctx, email)
		if outcome == outcomeDeferred {
			release()
			res.Deferred = len(due) - i
			w.logger.Warn("transport circuit open, leaving remaining emails scheduled",
				zap.Int("deferred", res.Deferred),
			)
			break
		}

		switch outcome {
		case outcomeSent:
			res.Sent++
			events = append(events, event)
		case outcomeFailed:
			res.Failed++
			events = append(events, event)
		default:
			res.Skipped++
		}
		metrics.RecordDispatchOutcome(string(outcome))
	}
	for range res.Deferred {
		metrics.RecordDispatchOutcome(string(outcomeDeferred))
	}

	// the rest of the pass must not be lost to a shutdown
	after := context.WithoutCancel(ctx)
	w.publish(after, events)

	var refreshErr error
	if w.lifecycle != nil && res.Sent+res.Failed > 0 {
		if err := w.lifecycle.RefreshStatuses(after); err != nil {
			refreshErr = fmt.Errorf("refresh campaign statuses: %w", err)
			w.logger.Error("failed to refresh campaign statuses", zap.Error(err))
		}
	}

	result := "ok"
	if res.Deferred > 0 {
		result = "partial"
	}
	metrics.RecordDispatchPass(result, time.Since(start))

	w.logger.Info("dispatch pass finished",
		zap.Int("sent", res.Sent),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
		zap.Int("deferred", res.Deferred),
		zap.Duration("duration", time.Since(start)),
	)
	return res, refreshErr
}

type outcome string

const (
	outcomeSent     outcome = "sent"
	outcomeFailed   outcome = "failed"
	outcomeSkipped  outcome = "skipped"
	outcomeDeferred outcome = "deferred"
)

// gate decides whether the next email may go out. A non-empty reason ends
// the pass. A row without a recipient fails without a transport call, so
// it takes no quota slot and waits for no pacing token. release gives the
// slot back when the transport is never called.
func (w *Worker) gate(ctx context.Context, email db.DueEmail) (release func(), reason string) {
	release = func() {}
	if ctx.Err() != nil {
		return release, "stopping"
	}
	if email.Recipient == "" {
		return release, ""
	}

	if w.quota != nil {
		day := w.now()
		ok, err := w.quota.Take(ctx, day)
		if err != nil {
			w.logger.Error("daily quota check failed", zap.Error(err))
			return release, "quota unavailable"
		}
		if !ok {
			return release, "daily send cap reached"
		}
		release = func() {
			if err := w.quota.Release(context.WithoutCancel(ctx), day); err != nil {
				w.logger.Warn("failed to return unused quota slot", zap.Int64("email_id", email.ID), zap.Error(err))
			}
		}
	}
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			release()
			return func() {}, "stopping"
		}
	}
	return release, ""
}

func (w *Worker) deliver(ctx context.Context, email db.DueEmail) (sns.EmailOutcome, outcome) {
	event := sns.EmailOutcome{
		EmailID:    email.ID,
		CampaignID: email.CampaignID,
		BusinessID: email.BusinessID,
		TrackingID: email.TrackingID,
		EmailType:  string(email.Type),
	}

	// the send and its bookkeeping outlive a cancelled pass
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.config.SendTimeout)
	defer cancel()

	var sendErr error
	if email.Recipient == "" {
		sendErr = ErrNoRecipient
	} else {
		started := time.Now()
		sendErr = w.sender.Send(sendCtx, Message{
			To:         email.Recipient,
			Subject:    email.Subject,
			Body:       email.Content,
			TrackingID: email.TrackingID,
		})
		metrics.RecordSendDuration(w.sender.Name(), time.Since(started))
	}

	if errors.Is(sendErr, circuitbreaker.ErrCircuitOpen) {
		return event, outcomeDeferred
	}

	recordCtx := context.WithoutCancel(ctx)
	event.At = w.now().UTC()

	if sendErr == nil {
		if err := w.store.MarkEmailSent(recordCtx, email.ID, event.At); err != nil {
			return event, w.recordError(email, err)
		}
		event.Outcome = sns.OutcomeSent
		w.logger.Info("email sent",
			zap.Int64("email_id", email.ID),
			zap.Int64("campaign_id", email.CampaignID),
			zap.String("type", string(email.Type)),
		)
		return event, outcomeSent
	}

	reason := failureReason(sendErr, sendCtx, w.config.SendTimeout)
	if err := w.store.MarkEmailFailed(recordCtx, email.ID, reason); err != nil {
		return event, w.recordError(email, err)
	}
	event.Outcome = sns.OutcomeFailed
	event.Reason = reason
	w.logger.Warn("email failed",
		zap.Int64("email_id", email.ID),
		zap.Int64("campaign_id", email.CampaignID),
		zap.String("business", email.BusinessName),
		zap.String("reason", reason),
	)
	return event, outcomeFailed
}

// recordError handles a row whose outcome could not be stored. It stays
// scheduled and the next pass picks it up again.
func (w *Worker) recordError(email db.DueEmail, err error) outcome {
	if errors.Is(err, db.ErrConflict) {
		w.logger.Debug("email already handled by another pass", zap.Int64("email_id", email.ID))
	} else {
		w.logger.Error("failed to record email outcome",
			zap.Int64("email_id", email.ID),
			zap.Error(err),
		)
	}
	return outcomeSkipped
}

func failureReason(err error, sendCtx context.Context, timeout time.Duration) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(sendCtx.Err(), context.DeadlineExceeded) {
		return fmt.Sprintf("send timed out after %s", timeout)
	}
	return err.Error()
}

func (w *Worker) publish(ctx context.Context, events []sns.EmailOutcome) {
	if w.publisher == nil || len(events) == 0 {
		return
	}
	n, err := w.publisher.PublishOutcomes(ctx, events)
	if err != nil {
		w.logger.Warn("failed to publish email outcomes",
			zap.Int("published", n),
			zap.Int("total", len(events)),
			zap.Error(err),
		)
	}
}
