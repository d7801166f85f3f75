package client

import (
	"errors"
	"fmt"
	"net"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when a transient failure persists past the
	// retry budget. It is fatal for the caller.
	ErrRetryExhausted = errors.New("retry budget exhausted")

	// ErrContextCancelled is returned when the context is cancelled while a
	// request is waiting for quota or backing off.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrDecode is returned by GetJSON when the body cannot be decoded into the
	// requested shape.
	ErrDecode = errors.New("decode response body")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors other than 429.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents a remote 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassQuota represents a local quota rejection.
	ErrorClassQuota ErrorClass = "quota"

	// ErrorClassTimeout represents request timeouts.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassNetwork represents connection failures.
	ErrorClassNetwork ErrorClass = "network"
)

// FetchError is a classified request failure.
type FetchError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassRateLimit, ErrorClassQuota, ErrorClassTimeout, ErrorClassNetwork:
		return true
	default:
		// 4xx and 5xx bodies are handed to the caller instead
		return false
	}
}

// classifyStatus maps an HTTP status to an error class. 2xx and 3xx yield "".
func classifyStatus(statusCode int) ErrorClass {
	switch {
	case statusCode == 429:
		return ErrorClassRateLimit
	case statusCode >= 400 && statusCode < 500:
		return ErrorClassClient
	case statusCode >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// classOf extracts the class of a FetchError anywhere in err's chain.
func classOf(err error) ErrorClass {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.ErrorClass
	}
	return ""
}

// classifyTransportError separates timeouts from other connection failures.
func classifyTransportError(err error) ErrorClass {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorClassTimeout
	}
	return ErrorClassNetwork
}
