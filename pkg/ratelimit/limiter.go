package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for quota enforcement.
var (
	quotaUsed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "docketsync_quota_used",
		Help: "Requests counted in the current quota window by backend",
	}, []string{"backend"})

	quotaWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docketsync_quota_waits_total",
		Help: "Total number of times a request was suspended waiting for quota",
	})

	quotaWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "docketsync_quota_wait_seconds",
		Help:    "Time spent suspended waiting for quota",
		Buckets: []float64{0.1, 1, 10, 60, 300, 900, 1800, 3600},
	})

	quotaRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docketsync_quota_rejections_total",
		Help: "Total number of local quota rejections (wait longer than allowed)",
	})
)

// ErrQuotaExceeded is returned by Wait when the next free slot is further
// away than the caller is willing to wait.
var ErrQuotaExceeded = errors.New("local request quota exceeded")

// Limiter hands out request slots from a rolling window.
type Limiter interface {
	// Reserve claims a slot if one is free and returns 0. Otherwise nothing
	// is claimed and the returned duration is the time until a slot frees.
	Reserve(ctx context.Context) (time.Duration, error)
}

// Wait blocks until l grants a slot. A maxWait of 0 waits as long as needed;
// otherwise ErrQuotaExceeded is returned once the accumulated wait would
// exceed maxWait.
func Wait(ctx context.Context, l Limiter, maxWait time.Duration) error {
	var waited time.Duration

	for {
		wait, err := l.Reserve(ctx)
		if err != nil {
			return fmt.Errorf("reserve quota slot: %w", err)
		}
		if wait <= 0 {
			if waited > 0 {
				quotaWaitSeconds.Observe(waited.Seconds())
			}
			return nil
		}

		if maxWait > 0 && waited+wait > maxWait {
			quotaRejectionsTotal.Inc()
			return fmt.Errorf("%w: next slot in %s", ErrQuotaExceeded, wait)
		}

		quotaWaitsTotal.Inc()
		log.Warn().
			Dur("wait", wait).
			Msg("Request quota exhausted - waiting for a free slot")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		waited += wait
	}
}

// MemoryLimiter is a process-local rolling-window limiter.
type MemoryLimiter struct {
	mu     sync.Mutex
	quota  Quota
	stamps []time.Time
	now    func() time.Time
}

// NewMemoryLimiter creates a limiter enforcing q within this process.
func NewMemoryLimiter(q Quota) (*MemoryLimiter, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return &MemoryLimiter{
		quota: q,
		now:   time.Now,
	}, nil
}

// Reserve implements Limiter.
func (m *MemoryLimiter) Reserve(_ context.Context) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.evict(now)

	if len(m.stamps) < m.quota.Limit {
		m.stamps = append(m.stamps, now)
		quotaUsed.WithLabelValues("memory").Set(float64(len(m.stamps)))
		return 0, nil
	}

	return m.state().TimeUntilSlot(now), nil
}

// State returns the current window usage.
func (m *MemoryLimiter) State() QuotaState {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.evict(m.now())
	return m.state()
}

func (m *MemoryLimiter) state() QuotaState {
	s := QuotaState{
		Used:   len(m.stamps),
		Limit:  m.quota.Limit,
		Window: m.quota.Window,
	}
	if len(m.stamps) > 0 {
		s.OldestAt = m.stamps[0]
	}
	return s
}

// evict drops requests that fell out of the window ending at now.
func (m *MemoryLimiter) evict(now time.Time) {
	cutoff := now.Add(-m.quota.Window)
	i := 0
	for i < len(m.stamps) && !m.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		m.stamps = append(m.stamps[:0], m.stamps[i:]...)
	}
}
