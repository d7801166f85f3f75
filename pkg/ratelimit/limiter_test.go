package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestLimiter(t *testing.T, q Quota) (*MemoryLimiter, *fakeClock) {
	t.Helper()

	limiter, err := NewMemoryLimiter(q)
	if err != nil {
		t.Fatalf("NewMemoryLimiter() error = %v", err)
	}
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	limiter.now = clock.Now
	return limiter, clock
}

func TestNewMemoryLimiter_InvalidQuota(t *testing.T) {
	if _, err := NewMemoryLimiter(Quota{}); err == nil {
		t.Error("Expected error for zero quota")
	}
}

func TestMemoryLimiter_Reserve(t *testing.T) {
	limiter, clock := newTestLimiter(t, Quota{Limit: 3, Window: time.Hour})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		wait, err := limiter.Reserve(ctx)
		if err != nil {
			t.Fatalf("Reserve() error = %v", err)
		}
		if wait != 0 {
			t.Fatalf("Reserve() #%d wait = %v, want 0", i+1, wait)
		}
		clock.Advance(10 * time.Minute)
	}

	// Window holds t=0,10,20; now is t=30. Oldest frees at t=60.
	wait, err := limiter.Reserve(ctx)
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if wait != 30*time.Minute {
		t.Errorf("Reserve() wait = %v, want 30m", wait)
	}
	if used := limiter.State().Used; used != 3 {
		t.Errorf("Used = %d, want 3 (rejected reservation must not count)", used)
	}

	clock.Advance(30 * time.Minute)
	wait, err = limiter.Reserve(ctx)
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if wait != 0 {
		t.Errorf("Reserve() after window roll wait = %v, want 0", wait)
	}

	state := limiter.State()
	if state.Used != 3 {
		t.Errorf("Used = %d, want 3", state.Used)
	}
	if want := clock.now.Add(-50 * time.Minute); !state.OldestAt.Equal(want) {
		t.Errorf("OldestAt = %v, want %v", state.OldestAt, want)
	}
}

func TestMemoryLimiter_RollingWindow(t *testing.T) {
	limiter, clock := newTestLimiter(t, Quota{Limit: 2, Window: time.Minute})
	ctx := context.Background()

	limiter.Reserve(ctx)
	limiter.Reserve(ctx)
	clock.Advance(2 * time.Minute)

	if state := limiter.State(); state.Used != 0 {
		t.Errorf("Used after window expiry = %d, want 0", state.Used)
	}
}

// stubLimiter returns scripted Reserve results.
type stubLimiter struct {
	waits []time.Duration
	err   error
	calls int
}

func (s *stubLimiter) Reserve(context.Context) (time.Duration, error) {
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	if len(s.waits) == 0 {
		return 0, nil
	}
	wait := s.waits[0]
	s.waits = s.waits[1:]
	return wait, nil
}

func TestWait_Suspends(t *testing.T) {
	stub := &stubLimiter{waits: []time.Duration{20 * time.Millisecond, 0}}

	start := time.Now()
	if err := Wait(context.Background(), stub, 0); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("Wait() returned after %v, want >= 20ms", elapsed)
	}
	if stub.calls != 2 {
		t.Errorf("Reserve calls = %d, want 2", stub.calls)
	}
}

func TestWait_MaxWaitRejects(t *testing.T) {
	stub := &stubLimiter{waits: []time.Duration{time.Hour}}

	err := Wait(context.Background(), stub, time.Second)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("Wait() error = %v, want ErrQuotaExceeded", err)
	}
}

func TestWait_ContextCancelled(t *testing.T) {
	stub := &stubLimiter{waits: []time.Duration{time.Hour}}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := Wait(ctx, stub, 0)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestWait_ReserveError(t *testing.T) {
	backendErr := errors.New("backend down")
	stub := &stubLimiter{err: backendErr}

	err := Wait(context.Background(), stub, 0)
	if !errors.Is(err, backendErr) {
		t.Errorf("Wait() error = %v, want wrapped backend error", err)
	}
}

func TestWait_MemoryLimiter(t *testing.T) {
	limiter, err := NewMemoryLimiter(Quota{Limit: 2, Window: 30 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewMemoryLimiter() error = %v", err)
	}
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := Wait(ctx, limiter, 0); err != nil {
			t.Fatalf("Wait() #%d error = %v", i+1, err)
		}
	}

	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("third request admitted after %v, want it to wait for the window", elapsed)
	}
}
