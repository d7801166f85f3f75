package client

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.InitialBackoff != 1*time.Second {
		t.Errorf("InitialBackoff = %v, want 1s", config.InitialBackoff)
	}
	if config.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2.0", config.BackoffMultiplier)
	}
	if config.MaxBackoff != 0 {
		t.Errorf("MaxBackoff = %v, want 0 (uncapped)", config.MaxBackoff)
	}
	if config.MaxElapsed != 1*time.Hour {
		t.Errorf("MaxElapsed = %v, want 1h", config.MaxElapsed)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestRetryConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		config RetryConfig
	}{
		{name: "zero backoff", config: RetryConfig{BackoffMultiplier: 2, MaxElapsed: time.Second}},
		{name: "shrinking multiplier", config: RetryConfig{InitialBackoff: time.Second, BackoffMultiplier: 0.5, MaxElapsed: time.Second}},
		{name: "zero budget", config: RetryConfig{InitialBackoff: time.Second, BackoffMultiplier: 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.config.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func classifyAs(class ErrorClass) func(error) ErrorClass {
	return func(error) ErrorClass { return class }
}

func TestRetryWithBackoff_Success(t *testing.T) {
	callCount := 0
	fn := func() error {
		callCount++
		return nil
	}

	err := retryWithBackoff(context.Background(), fastRetry(time.Second), zerolog.Nop(), fn, classifyAs(ErrorClassNetwork))

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
}

func TestRetryWithBackoff_SuccessAfterRetry(t *testing.T) {
	callCount := 0
	fn := func() error {
		callCount++
		if callCount < 3 {
			return errors.New("temporary error")
		}
		return nil
	}

	config := RetryConfig{
		InitialBackoff:    10 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxElapsed:        time.Second,
	}

	start := time.Now()
	err := retryWithBackoff(context.Background(), config, zerolog.Nop(), fn, classifyAs(ErrorClassTimeout))
	duration := time.Since(start)

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("Expected 3 calls, got %d", callCount)
	}
	// 10ms then 20ms, no jitter
	if duration < 30*time.Millisecond {
		t.Errorf("Expected at least 30ms of backoff, got %v", duration)
	}
}

func TestRetryWithBackoff_BudgetExhausted(t *testing.T) {
	callCount := 0
	testErr := errors.New("persistent error")
	fn := func() error {
		callCount++
		return testErr
	}

	config := RetryConfig{
		InitialBackoff:    5 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxElapsed:        40 * time.Millisecond,
	}

	start := time.Now()
	err := retryWithBackoff(context.Background(), config, zerolog.Nop(), fn, classifyAs(ErrorClassRateLimit))
	duration := time.Since(start)

	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("Expected ErrRetryExhausted, got %v", err)
	}
	if !errors.Is(err, testErr) {
		t.Errorf("Expected last error to be wrapped, got %v", err)
	}
	// delays 5, 10, 20, then the remaining ~5ms of the budget
	if callCount < 4 || callCount > 6 {
		t.Errorf("Expected 4-6 calls within a 40ms budget, got %d", callCount)
	}
	if duration < 40*time.Millisecond {
		t.Errorf("Expected the whole budget to be used, got %v", duration)
	}
	if duration > 200*time.Millisecond {
		t.Errorf("Backoff overran the budget: %v", duration)
	}
}

func TestRetryWithBackoff_NonRetryableClasses(t *testing.T) {
	for _, class := range []ErrorClass{ErrorClassClient, ErrorClassServer, ""} {
		t.Run(string(class), func(t *testing.T) {
			callCount := 0
			testErr := errors.New("not transient")
			fn := func() error {
				callCount++
				return testErr
			}

			err := retryWithBackoff(context.Background(), fastRetry(time.Second), zerolog.Nop(), fn, classifyAs(class))

			if callCount != 1 {
				t.Errorf("Expected 1 call (no retry), got %d", callCount)
			}
			if errors.Is(err, ErrRetryExhausted) {
				t.Error("Should not return ErrRetryExhausted when no retry was attempted")
			}
			if !errors.Is(err, testErr) {
				t.Errorf("Expected original error, got %v", err)
			}
		})
	}
}

func TestRetryWithBackoff_MaxBackoffCaps(t *testing.T) {
	callCount := 0
	fn := func() error {
		callCount++
		if callCount < 4 {
			return errors.New("temporary error")
		}
		return nil
	}

	config := RetryConfig{
		InitialBackoff:    5 * time.Millisecond,
		BackoffMultiplier: 10.0,
		MaxBackoff:        10 * time.Millisecond,
		MaxElapsed:        time.Second,
	}

	start := time.Now()
	if err := retryWithBackoff(context.Background(), config, zerolog.Nop(), fn, classifyAs(ErrorClassNetwork)); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	// uncapped would be 5 + 50 + 500ms
	if duration := time.Since(start); duration > 300*time.Millisecond {
		t.Errorf("MaxBackoff not applied, took %v", duration)
	}
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	callCount := 0
	fn := func() error {
		callCount++
		if callCount == 1 {
			cancel()
		}
		return errors.New("temporary error")
	}

	config := RetryConfig{
		InitialBackoff:    time.Second,
		BackoffMultiplier: 2.0,
		MaxElapsed:        time.Hour,
	}

	err := retryWithBackoff(ctx, config, zerolog.Nop(), fn, classifyAs(ErrorClassNetwork))

	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("Expected ErrContextCancelled, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call before cancellation, got %d", callCount)
	}
}

func TestRetryWithBackoff_LogsThroughGivenLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := zerolog.New(buf).With().Str("component", "fetcher").Logger()

	callCount := 0
	fn := func() error {
		callCount++
		if callCount < 2 {
			return errors.New("temporary error")
		}
		return nil
	}

	if err := retryWithBackoff(context.Background(), fastRetry(time.Second), logger, fn, classifyAs(ErrorClassNetwork)); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	output := buf.String()
	for _, want := range []string{`"component":"fetcher"`, "Retrying request after backoff", "Request succeeded after retry"} {
		if !strings.Contains(output, want) {
			t.Errorf("output = %q, want %q", output, want)
		}
	}
}
