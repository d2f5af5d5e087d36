package gateway

import (
	"errors"
	"fmt"
	"time"
)

// Machine-readable error codes surfaced in response envelopes.
const (
	CodeAuthRequired      = "auth_required"
	CodeAuthInvalid       = "auth_invalid"
	CodeAuthMisconfigured = "auth_misconfigured"
	CodeAuthUnauthorized  = "auth_unauthorized_app"
	CodeRateLimited       = "rate_limited"
	CodeSpendCapExceeded  = "spend_cap_exceeded"
	CodeValidationFailed  = "validation_failed"
	CodeKindNotFound      = "kind_not_found"
	CodeNoAPIKey          = "no_api_key"
	CodeProviderError     = "provider_error"
	CodeProviderTimeout   = "provider_timeout"
	CodeProviderTripped   = "provider_unavailable"
	CodeCapabilityDenied  = "capability_denied"
	CodeNotFound          = "not_found"
	CodeInternal          = "internal"
)

// Sentinel errors for the gateway domain.
var (
	ErrAuthRequired      = errors.New("authentication required")
	ErrAuthInvalid       = errors.New("invalid credentials")
	ErrAuthMisconfigured = errors.New("server authentication not configured")
	ErrUnauthorizedApp   = errors.New("application not authorized")
	ErrSessionExpired    = errors.New("invalid or expired session token")
	ErrKindNotFound      = errors.New("model kind not found")
	ErrNoAPIKey          = errors.New("no api key configured for provider")
	ErrNotFound          = errors.New("not found")
	ErrNotImplemented    = errors.New("not implemented")
	// ErrUpstreamUnavailable is returned without calling the provider when
	// its circuit breaker is open.
	ErrUpstreamUnavailable = errors.New("provider temporarily unavailable")
)

// ValidationError is a 400 with a human-readable message.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Invalid returns a ValidationError with a formatted message.
func Invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// RateLimitError is a 429 carrying the window reset.
type RateLimitError struct {
	ResetInSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, reset in %ds", e.ResetInSeconds)
}

// SpendCapError is a 429 for a breached cost ceiling.
type SpendCapError struct {
	Period     string // daily | weekly | monthly
	LimitUSD   float64
	CurrentUSD float64
	ResetAt    time.Time // next window boundary
}

func (e *SpendCapError) Error() string {
	return fmt.Sprintf("%s spend limit reached ($%.2f of $%.2f)", e.Period, e.CurrentUSD, e.LimitUSD)
}

// CapabilityError is a 403 for a tower capability denial.
type CapabilityError struct {
	Agent      string
	Capability string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("capability %q denied for agent %q", e.Capability, e.Agent)
}
