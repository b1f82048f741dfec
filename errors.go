package aeroauth

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEngineNotReady is returned when the Engine is used before Build
	// completed successfully.
	ErrEngineNotReady = errors.New("engine not ready")

	// ErrInvalidCredentials covers unknown email and wrong password alike,
	// so callers cannot probe which emails exist.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrAccountLocked is returned when the persistent lockout flag is set.
	// It never clears on its own; an administrative unlock is required.
	ErrAccountLocked = errors.New("account locked")

	// ErrAccountUnverified is returned for self-registered accounts whose
	// email address has not been confirmed.
	ErrAccountUnverified = errors.New("email not verified")

	// ErrRateLimitExceeded is the sentinel wrapped by RateLimitError.
	ErrRateLimitExceeded = errors.New("too many failed attempts")

	// ErrInvalidMFACode is returned for a wrong TOTP or backup code.
	ErrInvalidMFACode = errors.New("invalid mfa code")

	// ErrMFANotConfigured is returned when an MFA operation needs an
	// enrolled secret and none exists.
	ErrMFANotConfigured = errors.New("mfa not configured")

	// ErrMFAAttemptsExceeded is returned when code validation for a
	// principal is in cooldown.
	ErrMFAAttemptsExceeded = errors.New("too many mfa attempts")

	// ErrUnsupportedProvider is returned for a provider the Engine has no
	// verifier for.
	ErrUnsupportedProvider = errors.New("unsupported auth provider")

	// ErrProviderAuthFailure is returned when an external provider rejects
	// or cannot confirm an access token.
	ErrProviderAuthFailure = errors.New("provider token rejected")

	// ErrProviderEmailConflict is returned when a social login resolves to
	// an email already registered under a different provider.
	ErrProviderEmailConflict = errors.New("email registered with another provider")

	// ErrCaptchaRejected is returned when the captcha challenge fails.
	ErrCaptchaRejected = errors.New("captcha verification failed")

	// ErrTokenInvalid is returned for malformed, tampered or wrong-purpose
	// tokens.
	ErrTokenInvalid = errors.New("token invalid")

	// ErrTokenExpired is returned for a structurally valid token past its
	// expiry. Distinct from ErrTokenInvalid so callers can prompt a refresh.
	ErrTokenExpired = errors.New("token expired")

	// ErrInfrastructure is returned when a backing store or network
	// dependency failed. Detail goes to the logger, never to the caller.
	ErrInfrastructure = errors.New("infrastructure failure")
)

// RateLimitError reports a blocked identifier together with the time left
// until the window expires. It unwraps to ErrRateLimitExceeded.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many failed attempts, retry in %s", e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimitExceeded }

// infraError wraps a backend failure under ErrInfrastructure, keeping the
// cause for logs while the sentinel is all callers can observe.
func infraError(err error) error {
	return fmt.Errorf("%w: %v", ErrInfrastructure, err)
}
