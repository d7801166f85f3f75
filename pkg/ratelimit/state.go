// Package ratelimit enforces a rolling-window request quota shared by every
// outbound call of the process. Callers that exceed the quota are suspended
// until the oldest request in the window ages out.
package ratelimit

import (
	"fmt"
	"time"
)

// Defaults for the provider quota: 1000 requests per rolling hour.
const (
	DefaultLimit  = 1000
	DefaultWindow = time.Hour
)

// RedisKeyPrefix namespaces the sorted sets holding shared quota windows.
const RedisKeyPrefix = "docketsync:quota:"

// Quota is the maximum number of requests allowed within Window.
type Quota struct {
	Limit  int
	Window time.Duration
}

// DefaultQuota returns the provider's documented quota.
func DefaultQuota() Quota {
	return Quota{
		Limit:  DefaultLimit,
		Window: DefaultWindow,
	}
}

// Validate checks that the quota can admit at least one request.
func (q Quota) Validate() error {
	if q.Limit <= 0 {
		return fmt.Errorf("quota limit must be > 0 (got %d)", q.Limit)
	}
	if q.Window <= 0 {
		return fmt.Errorf("quota window must be > 0 (got %s)", q.Window)
	}
	return nil
}

// QuotaState is a point-in-time view of a quota window.
type QuotaState struct {
	// Used is the number of requests counted in the current window.
	Used int

	// Limit is the configured maximum for the window.
	Limit int

	// OldestAt is when the oldest counted request was made.
	// Zero when the window is empty.
	OldestAt time.Time

	// Window is the rolling window length.
	Window time.Duration
}

// Remaining returns how many requests may still be issued right now.
func (s QuotaState) Remaining() int {
	if s.Used >= s.Limit {
		return 0
	}
	return s.Limit - s.Used
}

// IsExhausted returns true if the next request would have to wait.
func (s QuotaState) IsExhausted() bool {
	return s.Remaining() == 0
}

// TimeUntilSlot returns how long a caller must wait at now before a slot
// frees. Returns 0 if a slot is available.
func (s QuotaState) TimeUntilSlot(now time.Time) time.Duration {
	if !s.IsExhausted() || s.OldestAt.IsZero() {
		return 0
	}
	wait := s.OldestAt.Add(s.Window).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}
