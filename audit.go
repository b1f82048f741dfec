package aeroauth

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/halcyonair/aeroauth/internal/audit"
)

// AuditEvent and AuditSink are the public names of the audit contract; the
// buffering machinery lives in internal/audit.
type (
	AuditEvent = audit.Event
	AuditSink  = audit.Sink
)

// NewAuditChannelSink returns a sink buffering events for a consumer
// goroutine; read them from Events().
func NewAuditChannelSink(buffer int) *audit.ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewAuditJSONSink returns a sink writing one JSON event per line to w.
func NewAuditJSONSink(w io.Writer) *audit.JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

const (
	auditEventLoginSuccess      = "login_success"
	auditEventLoginFailure      = "login_failure"
	auditEventLoginRateLimited  = "login_rate_limited"
	auditEventCaptchaRejected   = "captcha_rejected"
	auditEventAccountLocked     = "account_locked"
	auditEventMFARequired       = "mfa_required"
	auditEventMFASuccess        = "mfa_success"
	auditEventMFAFailure        = "mfa_failure"
	auditEventMFASetup          = "mfa_setup_requested"
	auditEventMFAEnabled        = "mfa_enabled"
	auditEventMFADisabled       = "mfa_disabled"
	auditEventBackupCodeUsed    = "backup_code_used"
	auditEventBackupCodesRotate = "backup_codes_regenerated"
	auditEventSocialProvisioned = "social_account_provisioned"
	auditEventProviderRejected  = "provider_token_rejected"
	auditEventRefreshSuccess    = "refresh_success"
	auditEventRefreshInvalid    = "refresh_invalid"
	auditEventLogout            = "logout"
)

// auditErrorCode collapses an engine error into a stable short code so sinks
// never see raw error strings.
func auditErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrAccountLocked):
		return "account_locked"
	case errors.Is(err, ErrAccountUnverified):
		return "account_unverified"
	case errors.Is(err, ErrRateLimitExceeded):
		return "rate_limited"
	case errors.Is(err, ErrInvalidMFACode):
		return "mfa_invalid"
	case errors.Is(err, ErrMFANotConfigured):
		return "mfa_not_configured"
	case errors.Is(err, ErrMFAAttemptsExceeded):
		return "mfa_attempts_exceeded"
	case errors.Is(err, ErrUnsupportedProvider):
		return "unsupported_provider"
	case errors.Is(err, ErrProviderAuthFailure):
		return "provider_rejected"
	case errors.Is(err, ErrProviderEmailConflict):
		return "provider_email_conflict"
	case errors.Is(err, ErrCaptchaRejected):
		return "captcha_rejected"
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrTokenInvalid):
		return "token_invalid"
	default:
		return "internal_error"
	}
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	p *Principal,
	provider Provider,
	err error,
	metadata map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}
	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Provider:  provider.String(),
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Error:     auditErrorCode(err),
		Metadata:  metadata,
	}
	if p != nil {
		event.PrincipalID = p.ID
		event.Email = p.Email
		event.Role = p.Role.String()
	}
	e.audit.Emit(ctx, event)
}

// AuditDropped reports how many audit events were discarded because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}
