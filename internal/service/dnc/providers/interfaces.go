package providers

import (
	"context"
	"time"
)

// Checker queries one remote do-not-call list for a canonical phone.
//
// Check never returns a Go error. Any failure resolves to a fail-open result
// with IsOnList false and Err describing the degradation, so that a broken
// list can never block outreach on its own.
type Checker interface {
	Check(ctx context.Context, phone string) CheckResult
	Name() string
}

// CheckResult is the outcome of a single list lookup.
type CheckResult struct {
	IsOnList bool
	Reason   string
	Expiry   *time.Time
	Err      error
}

// Degraded reports whether the result is a fail-open placeholder rather than
// an authoritative answer from the list.
func (r CheckResult) Degraded() bool {
	return r.Err != nil
}

// failOpen builds the placeholder result for a failed lookup.
func failOpen(err error) CheckResult {
	return CheckResult{IsOnList: false, Err: err}
}

// ProviderError represents provider-specific errors
type ProviderError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Provider string `json:"provider"`
	Retry    bool   `json:"retry"`
}

func (e *ProviderError) Error() string {
	return e.Provider + ": " + e.Message
}

// Standard error codes
const (
	ErrCodeConnectionFailed     = "CONNECTION_FAILED"
	ErrCodeAuthenticationFailed = "AUTH_FAILED"
	ErrCodeRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
	ErrCodeInvalidResponse      = "INVALID_RESPONSE"
	ErrCodeTimeout              = "TIMEOUT"
	ErrCodeProviderUnavailable  = "PROVIDER_UNAVAILABLE"
	ErrCodeCircuitOpen          = "CIRCUIT_OPEN"
)

// ErrorCode extracts the provider error code from err, or "" when err is not
// a ProviderError.
func ErrorCode(err error) string {
	var pe *ProviderError
	if asProviderError(err, &pe) {
		return pe.Code
	}
	return ""
}
