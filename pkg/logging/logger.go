// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the log destination (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger. Components derive their
// loggers from it with NewLogger or log.With().
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(output).With().Timestamp().Str("service", "docket-sync").Logger()
	log.Logger = logger

	return logger
}

// ValidLevel reports whether level names a supported log level.
func ValidLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Response bodies
//   - Cursor moves between listing pages
//   - Per-record reconciliation without changes
//   - Store writes
//
// Info: Normal operation events
//   - Response status and headers of every attempt
//   - Listing pages fetched
//   - Records that changed
//   - Watermark installation and resume
//   - Run start and finish, report publication
//
// Warn: Warning conditions that don't prevent operation
//   - Retry attempts (timeout, network, quota, 429)
//   - Quota suspensions
//
// Error: Error conditions requiring attention
//   - Non-success provider statuses (body passed through)
//   - Exhausted retry budget
//   - Fatal crawl aborts, configuration errors
//
// Context Fields:
//   - component: fetcher, quota, crawler, store, report, cli
//   - endpoint: provider endpoint label (comments, comments/{id})
//   - status: HTTP status code
//   - error_class: client, server, rate_limit, quota, timeout, network
//   - docket_id: crawl target
//   - page: listing page number
//   - watermark: lastModifiedDate lower bound
//   - id: record id
//   - outcome: created, changed, unchanged
