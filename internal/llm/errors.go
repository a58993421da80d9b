package llm

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies an invocation failure for retry and fallback decisions.
type Kind string

const (
	KindTransport  Kind = "transport"
	KindAuth       Kind = "auth"
	KindRateLimit  Kind = "rate-limit"
	KindServer     Kind = "server"
	KindBadRequest Kind = "bad-request"
	KindEmpty      Kind = "empty"
	KindCanceled   Kind = "canceled"
)

// Error is the recorded diagnostic of a failed invocation.
type Error struct {
	Provider   string
	Kind       Kind
	Status     int
	Message    string
	RetryAfter time.Duration
	Attempts   int
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Provider, e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether another attempt on the same provider may succeed.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTransport, KindRateLimit, KindServer:
		return true
	}
	return false
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func classifyStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusRequestTimeout:
		return KindTransport
	case status >= 500:
		return KindServer
	default:
		return KindBadRequest
	}
}
