package providers

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Kind classifies provider and orchestration failures. The kind decides
// whether a call is retried and how the REST layer maps the failure.
type Kind string

const (
	KindProviderAuth      Kind = "provider_auth"
	KindProviderRateLimit Kind = "provider_rate_limit"
	KindProviderTimeout   Kind = "provider_timeout"
	KindProviderOverload  Kind = "provider_overloaded"
	KindModelNotFound     Kind = "model_not_found"
	KindCostLimitExceeded Kind = "cost_limit_exceeded"
	KindInsufficientModels Kind = "insufficient_models"
	KindConsensus         Kind = "consensus"
	KindConfig            Kind = "config"
	KindStorage           Kind = "storage"
)

// Error is the typed error used at every provider and engine boundary.
type Error struct {
	Kind       Kind
	ProviderID string        // provider that produced the error, if any
	Msg        string
	RetryAfter time.Duration // server-hinted delay for rate limits
	Limit      float64       // configured hard limit (cost errors)
	Current    float64       // running total after the breaching call
	Err        error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.ProviderID != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.ProviderID, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError constructs a typed error with a formatted message.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapError wraps err under the given kind, preserving the chain.
func WrapError(kind Kind, providerID string, err error) *Error {
	return &Error{Kind: kind, ProviderID: providerID, Err: err}
}

// CostLimitError reports a hard cost limit breach with the running total.
func CostLimitError(limit, current float64) *Error {
	return &Error{
		Kind:    KindCostLimitExceeded,
		Msg:     fmt.Sprintf("cost limit $%.4f exceeded (current $%.4f)", limit, current),
		Limit:   limit,
		Current: current,
	}
}

// AsError extracts a *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// KindOf returns the kind of err, or "" if it carries no typed kind.
func KindOf(err error) Kind {
	if pe, ok := AsError(err); ok {
		return pe.Kind
	}
	return ""
}

// IsRetryable reports whether the error is transient: rate limits, timeouts,
// and overloaded providers are retried; everything else propagates.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindProviderRateLimit, KindProviderTimeout, KindProviderOverload:
		return true
	}
	return false
}

// StatusError captures a raw HTTP status from a provider response before the
// adapter maps it into a Kind.
type StatusError struct {
	StatusCode     int
	Body           string
	RetryAfterSecs int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// ParseRetryAfter parses a Retry-After header value (delta-seconds form).
func (e *StatusError) ParseRetryAfter(header string) {
	if header == "" {
		return
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		e.RetryAfterSecs = secs
	}
}

// MapStatus translates an HTTP-level error into the typed taxonomy. Vendor
// quirks beyond status codes stay inside the individual adapters.
func MapStatus(providerID string, err error) error {
	var se *StatusError
	if !errors.As(err, &se) {
		return WrapError(KindProviderTimeout, providerID, err)
	}
	switch {
	case se.StatusCode == 401 || se.StatusCode == 403:
		return WrapError(KindProviderAuth, providerID, se)
	case se.StatusCode == 404:
		return WrapError(KindModelNotFound, providerID, se)
	case se.StatusCode == 429:
		pe := WrapError(KindProviderRateLimit, providerID, se)
		pe.RetryAfter = time.Duration(se.RetryAfterSecs) * time.Second
		return pe
	case se.StatusCode == 408 || se.StatusCode == 504:
		return WrapError(KindProviderTimeout, providerID, se)
	case se.StatusCode == 529 || se.StatusCode == 503:
		return WrapError(KindProviderOverload, providerID, se)
	case se.StatusCode >= 500:
		return WrapError(KindProviderOverload, providerID, se)
	}
	// Remaining 4xx are malformed-request class: not retryable.
	return WrapError(KindConfig, providerID, se)
}
