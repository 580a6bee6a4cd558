package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/lalithlochan/outreach/internal/metrics"
	"github.com/lalithlochan/outreach/internal/redis"
)

const (
	dispatchLockName  = "dispatch"
	analyticsLockName = "analytics"
)

// ErrRunnerStarted is returned by a second Start.
var ErrRunnerStarted = errors.New("runner already started")

type Dispatcher interface {
	RunDueEmails(ctx context.Context) (Result, error)
}

type Analytics interface {
	UpdateAnalytics(ctx context.Context, now time.Time) (int, error)
}

type RunnerConfig struct {
	DispatchInterval time.Duration
	AnalyticsCron    string // standard five-field expression, UTC
}

// Runner owns the background schedule: a dispatch pass on every tick and
// an analytics snapshot on a cron schedule. Passes never overlap, in this
// process or, with a locker, across processes sharing Redis.
type Runner struct {
	dispatcher Dispatcher
	analytics  Analytics
	locker     *redis.Locker
	config     RunnerConfig
	logger     *zap.Logger
	now        func() time.Time

	passMu sync.Mutex

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	cron    *cron.Cron
	done    chan struct{}
}

// NewRunner builds a stopped runner. analytics and locker may be nil.
func NewRunner(dispatcher Dispatcher, analytics Analytics, locker *redis.Locker, cfg RunnerConfig, logger *zap.Logger) *Runner {
	if cfg.DispatchInterval <= 0 {
		cfg.DispatchInterval = time.Hour
	}
	if cfg.AnalyticsCron == "" {
		cfg.AnalyticsCron = "0 9 * * *"
	}
	return &Runner{
		dispatcher: dispatcher,
		analytics:  analytics,
		locker:     locker,
		config:     cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Start runs one dispatch pass right away and then one per interval until
// Stop is called or ctx ends.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return ErrRunnerStarted
	}

	loopCtx, cancel := context.WithCancel(ctx)

	c := cron.New(cron.WithLocation(time.UTC))
	if r.analytics != nil {
		if _, err := c.AddFunc(r.config.AnalyticsCron, func() {
			if _, err := r.UpdateAnalytics(loopCtx); err != nil && !errors.Is(err, redis.ErrLockHeld) {
				r.logger.Error("scheduled analytics failed", zap.Error(err))
			}
		}); err != nil {
			cancel()
			return fmt.Errorf("parse analytics schedule %q: %w", r.config.AnalyticsCron, err)
		}
	}

	r.started = true
	r.cancel = cancel
	r.cron = c
	r.done = make(chan struct{})

	c.Start()
	go r.loop(loopCtx, r.done)

	r.logger.Info("runner started",
		zap.Duration("dispatch_interval", r.config.DispatchInterval),
		zap.String("analytics_cron", r.config.AnalyticsCron),
	)
	return nil
}

// Stop cancels the loop and waits for it. A pass in progress finishes the
// email it is sending and leaves the rest scheduled.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	cancel, c, done := r.cancel, r.cron, r.done
	r.mu.Unlock()

	cancel()
	<-c.Stop().Done()
	<-done
	r.logger.Info("runner stopped")
}

func (r *Runner) loop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	r.tick(ctx)

	ticker := time.NewTicker(r.config.DispatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	_, err := r.Dispatch(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, redis.ErrLockHeld):
		r.logger.Info("dispatch skipped, another process holds the lock")
	default:
		r.logger.Error("dispatch pass failed", zap.Error(err))
	}
}

// Dispatch runs one pass now, serialized with the scheduled ones. With a
// locker it returns redis.ErrLockHeld when another process is dispatching.
func (r *Runner) Dispatch(ctx context.Context) (Result, error) {
	r.passMu.Lock()
	defer r.passMu.Unlock()

	passCtx, release, err := r.acquire(ctx, dispatchLockName)
	if err != nil {
		if errors.Is(err, redis.ErrLockHeld) {
			metrics.RecordDispatchPass("lock_held", 0)
		}
		return Result{}, err
	}
	defer release()

	res, err := r.dispatcher.RunDueEmails(passCtx)
	if err == nil && ctx.Err() == nil {
		if cause := context.Cause(passCtx); cause != nil {
			err = fmt.Errorf("dispatch stopped early: %w", cause)
		}
	}
	return res, err
}

// UpdateAnalytics snapshots every live campaign for today.
func (r *Runner) UpdateAnalytics(ctx context.Context) (int, error) {
	if r.analytics == nil {
		return 0, errors.New("analytics not configured")
	}
	r.passMu.Lock()
	defer r.passMu.Unlock()

	passCtx, release, err := r.acquire(ctx, analyticsLockName)
	if err != nil {
		return 0, err
	}
	defer release()

	return r.analytics.UpdateAnalytics(passCtx, r.now())
}

// acquire takes the named lock and keeps it alive while the returned
// context is in use. The context ends early if the lock is lost.
func (r *Runner) acquire(ctx context.Context, name string) (context.Context, func(), error) {
	if r.locker == nil {
		return ctx, func() {}, nil
	}
	lock, err := r.locker.Acquire(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	kept, stop := lock.Keep(ctx)
	return kept, func() {
		stop()
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			r.logger.Warn("failed to release lock", zap.String("lock", name), zap.Error(err))
		}
	}, nil
}
