package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newBreaker(maxFailures int, recovery time.Duration) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	cb := New(Config{
		Name:            "smtp",
		MaxFailures:     maxFailures,
		RecoveryTimeout: recovery,
		Now:             clock.Now,
	}, zap.NewNop())
	return cb, clock
}

func trip(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		cb.Allow()
		cb.RecordFailure()
	}
}

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb, _ := newBreaker(3, time.Minute)
	if cb.State() != StateClosed {
		t.Fatalf("expected closed, got %s", cb.State())
	}
	for i := 0; i < 10; i++ {
		if !cb.Allow() {
			t.Fatalf("request %d should be allowed", i)
		}
	}
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb, _ := newBreaker(3, time.Minute)

	trip(cb, 2)
	if cb.State() != StateClosed {
		t.Fatalf("two failures should not open, got %s", cb.State())
	}
	trip(cb, 1)
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}
	if cb.Allow() {
		t.Fatal("open circuit should reject")
	}
}

func TestCircuitBreaker_SuccessResetsStreak(t *testing.T) {
	cb, _ := newBreaker(3, time.Minute)

	trip(cb, 2)
	cb.Allow()
	cb.RecordSuccess()
	trip(cb, 2)

	if cb.State() != StateClosed {
		t.Fatal("success should have reset the failure streak")
	}
}

func TestCircuitBreaker_HalfOpenTrial(t *testing.T) {
	tests := []struct {
		name      string
		trialErr  bool
		wantState State
	}{
		{"trial call succeeds", false, StateClosed},
		{"trial call fails", true, StateOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, clock := newBreaker(2, 30*time.Second)
			trip(cb, 2)

			clock.Advance(29 * time.Second)
			if cb.Allow() {
				t.Fatal("should still reject before the recovery timeout")
			}

			clock.Advance(time.Second)
			if !cb.Allow() {
				t.Fatal("should allow a trial call after the recovery timeout")
			}
			if cb.State() != StateHalfOpen {
				t.Fatalf("expected half-open, got %s", cb.State())
			}
			if cb.Allow() {
				t.Fatal("only one trial call is allowed while half-open")
			}

			if tt.trialErr {
				cb.RecordFailure()
			} else {
				cb.RecordSuccess()
			}
			if cb.State() != tt.wantState {
				t.Fatalf("expected %s, got %s", tt.wantState, cb.State())
			}
		})
	}
}

func TestCircuitBreaker_Do(t *testing.T) {
	cb, _ := newBreaker(2, time.Minute)
	down := errors.New("connection refused")

	calls := 0
	fail := func() error { calls++; return down }

	if err := cb.Do(fail); !errors.Is(err, down) {
		t.Fatalf("expected transport error, got %v", err)
	}
	_ = cb.Do(fail)

	err := cb.Do(fail)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("fn should not run while open, ran %d times", calls)
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	var transitions []string
	cb := New(Config{
		Name:            "ses",
		MaxFailures:     1,
		RecoveryTimeout: time.Second,
		Now:             clock.Now,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, name+":"+from.String()+">"+to.String())
		},
	}, zap.NewNop())

	trip(cb, 1)
	clock.Advance(time.Second)
	cb.Allow()
	cb.RecordSuccess()

	want := []string{"ses:closed>open", "ses:open>half-open", "ses:half-open>closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newBreaker(2, time.Hour)
	trip(cb, 2)

	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after reset, got %s", cb.State())
	}
	if !cb.Allow() {
		t.Fatal("should allow after reset")
	}
}

func TestCircuitBreaker_Stats(t *testing.T) {
	cb, _ := newBreaker(5, time.Minute)
	cb.Allow()
	cb.RecordSuccess()
	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordSuccess()

	stats := cb.Stats()
	if stats.Name != "smtp" {
		t.Fatalf("name = %s", stats.Name)
	}
	if stats.TotalRequests != 3 || stats.TotalSuccesses != 2 || stats.TotalFailures != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.LastFailure == "" {
		t.Fatal("last failure should be set")
	}
}

func TestCircuitBreaker_DefaultConfig(t *testing.T) {
	cfg := DefaultConfig("svc")
	if cfg.MaxFailures != 5 {
		t.Fatalf("max_failures = %d", cfg.MaxFailures)
	}
	if cfg.RecoveryTimeout != 30*time.Second {
		t.Fatalf("recovery_timeout = %v", cfg.RecoveryTimeout)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d) = %s, want %s", tt.s, got, tt.want)
		}
	}
}
