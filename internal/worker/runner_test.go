package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/lalithlochan/outreach/internal/redis"
)

type countingDispatcher struct {
	mu      sync.Mutex
	passes  int
	active  int
	overlap bool
	started chan struct{}
	hold    time.Duration
}

func (d *countingDispatcher) RunDueEmails(ctx context.Context) (Result, error) {
	d.mu.Lock()
	d.passes++
	d.active++
	if d.active > 1 {
		d.overlap = true
	}
	if d.started != nil && d.passes == 1 {
		close(d.started)
	}
	d.mu.Unlock()

	time.Sleep(d.hold)

	d.mu.Lock()
	d.active--
	d.mu.Unlock()
	return Result{Sent: 1}, nil
}

func (d *countingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.passes
}

type stubAnalytics struct {
	calls int
	at    time.Time
}

func (a *stubAnalytics) UpdateAnalytics(ctx context.Context, now time.Time) (int, error) {
	a.calls++
	a.at = now
	return 2, nil
}

func TestRunner_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := &countingDispatcher{started: make(chan struct{})}
	r := NewRunner(d, &stubAnalytics{}, nil, RunnerConfig{DispatchInterval: 10 * time.Millisecond}, zap.NewNop())

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Start(context.Background()); !errors.Is(err, ErrRunnerStarted) {
		t.Fatalf("second Start: got %v, want ErrRunnerStarted", err)
	}

	select {
	case <-d.started:
	case <-time.After(time.Second):
		t.Fatal("first pass did not run at start")
	}

	deadline := time.Now().Add(time.Second)
	for d.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	r.Stop()

	if d.count() < 3 {
		t.Fatalf("expected ticker passes, got %d", d.count())
	}
	after := d.count()
	time.Sleep(30 * time.Millisecond)
	if d.count() != after {
		t.Fatal("passes continued after Stop")
	}

	// stopping twice is harmless
	r.Stop()
}

func TestRunner_InvalidCron(t *testing.T) {
	r := NewRunner(&countingDispatcher{}, &stubAnalytics{}, nil, RunnerConfig{AnalyticsCron: "every morning"}, zap.NewNop())
	if err := r.Start(context.Background()); err == nil {
		r.Stop()
		t.Fatal("expected cron parse error")
	}
}

func TestRunner_PassesDoNotOverlap(t *testing.T) {
	d := &countingDispatcher{hold: 20 * time.Millisecond}
	r := NewRunner(d, nil, nil, RunnerConfig{}, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Dispatch(context.Background())
		}()
	}
	wg.Wait()

	if d.overlap {
		t.Fatal("dispatch passes overlapped")
	}
	if d.count() != 4 {
		t.Errorf("passes: got %d, want 4", d.count())
	}
}

func TestRunner_SkipsWhenLockHeld(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	locker := redis.NewLocker(redis.NewFromClient(rdb, zap.NewNop()), time.Minute, zap.NewNop())
	held, err := locker.Acquire(context.Background(), dispatchLockName)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	d := &countingDispatcher{}
	r := NewRunner(d, nil, locker, RunnerConfig{}, zap.NewNop())

	if _, err := r.Dispatch(context.Background()); !errors.Is(err, redis.ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}
	if d.count() != 0 {
		t.Fatal("pass ran without the lock")
	}

	_ = held.Release(context.Background())
	res, err := r.Dispatch(context.Background())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Sent != 1 {
		t.Errorf("result: got %+v", res)
	}
}

func TestRunner_UpdateAnalytics(t *testing.T) {
	a := &stubAnalytics{}
	r := NewRunner(&countingDispatcher{}, a, nil, RunnerConfig{}, zap.NewNop())
	r.now = func() time.Time { return noon }

	n, err := r.UpdateAnalytics(context.Background())
	if err != nil {
		t.Fatalf("UpdateAnalytics: %v", err)
	}
	if n != 2 || a.calls != 1 || !a.at.Equal(noon) {
		t.Fatalf("got n=%d calls=%d at=%v", n, a.calls, a.at)
	}

	bare := NewRunner(&countingDispatcher{}, nil, nil, RunnerConfig{}, zap.NewNop())
	if _, err := bare.UpdateAnalytics(context.Background()); err == nil {
		t.Fatal("expected error without analytics")
	}
}

func newTestLocker(t *testing.T, ttl time.Duration) (*redis.Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return redis.NewLocker(redis.NewFromClient(rdb, zap.NewNop()), ttl, zap.NewNop()), mr
}

type dispatchFunc func(ctx context.Context) (Result, error)

func (f dispatchFunc) RunDueEmails(ctx context.Context) (Result, error) { return f(ctx) }

func TestRunner_LockOutlivesLongPass(t *testing.T) {
	locker, mr := newTestLocker(t, 300*time.Millisecond)

	var heldByOther error
	pass := dispatchFunc(func(ctx context.Context) (Result, error) {
		// Redis time runs with the wall clock; the pass outlasts the TTL
		for i := 0; i < 8; i++ {
			time.Sleep(50 * time.Millisecond)
			mr.FastForward(50 * time.Millisecond)
		}
		_, heldByOther = locker.Acquire(context.Background(), dispatchLockName)
		return Result{Sent: 1}, ctx.Err()
	})
	r := NewRunner(pass, nil, locker, RunnerConfig{}, zap.NewNop())

	res, err := r.Dispatch(context.Background())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Sent != 1 {
		t.Errorf("result: got %+v", res)
	}
	if !errors.Is(heldByOther, redis.ErrLockHeld) {
		t.Fatalf("second acquire during the pass: got %v, want ErrLockHeld", heldByOther)
	}
	if _, err := locker.Acquire(context.Background(), dispatchLockName); err != nil {
		t.Fatalf("lock should be free after the pass: %v", err)
	}
}

func TestRunner_LostLockStopsPass(t *testing.T) {
	locker, mr := newTestLocker(t, 300*time.Millisecond)

	pass := dispatchFunc(func(ctx context.Context) (Result, error) {
		// the key expires before the first refresh
		mr.FastForward(time.Second)
		select {
		case <-ctx.Done():
			return Result{Sent: 2, Deferred: 3}, nil
		case <-time.After(5 * time.Second):
			return Result{}, errors.New("pass kept running after the lock was lost")
		}
	})
	r := NewRunner(pass, nil, locker, RunnerConfig{}, zap.NewNop())

	res, err := r.Dispatch(context.Background())
	if !errors.Is(err, redis.ErrLockLost) {
		t.Fatalf("expected ErrLockLost, got %v", err)
	}
	if res != (Result{Sent: 2, Deferred: 3}) {
		t.Errorf("result: got %+v", res)
	}
}
