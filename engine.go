package aeroauth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/halcyonair/aeroauth/internal/audit"
	"github.com/halcyonair/aeroauth/internal/limiters"
	"github.com/halcyonair/aeroauth/internal/rate"
	"github.com/halcyonair/aeroauth/internal/stores"
	"github.com/halcyonair/aeroauth/password"
	"github.com/halcyonair/aeroauth/token"
)

// Engine is the authentication orchestrator. Construct it with Builder; a
// built Engine is immutable and safe for concurrent use.
type Engine struct {
	config Config
	logger logrus.FieldLogger

	principals PrincipalStore
	secrets    MFASecretStore
	captcha    CaptchaVerifier

	tokens       *token.Manager
	passwords    *password.Hasher
	totp         *totpManager
	rateLimiter  *rate.Limiter
	mfaLimiter   *limiters.MFALimiter
	refreshStore *stores.RefreshStore

	verifiers map[Provider]credentialVerifier

	metrics *Metrics
	audit   *audit.Dispatcher

	ready bool
}

// Login authenticates an email/password request.
//
// The sequence is fixed: captcha gate, rate-limit check, credential
// verification, MFA decision, token issuance. When the account requires a
// second factor and the request carries no code, the result is the challenge
// shape (Success=false, RequiresMFA=true) and no failure is recorded
// anywhere: asking for the second factor is not a failed attempt.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*AuthResult, error) {
	if e == nil || !e.ready {
		return nil, ErrEngineNotReady
	}
	if err := e.checkCaptcha(ctx, req.CaptchaToken); err != nil {
		e.metricInc(MetricCaptchaRejected)
		e.emitAudit(ctx, auditEventCaptchaRejected, false, nil, ProviderEmail, err, nil)
		return nil, err
	}

	email := normalizeEmail(req.Email)
	if err := e.checkRateLimit(ctx, email); err != nil {
		e.metricInc(MetricLoginRateLimited)
		e.emitAudit(ctx, auditEventLoginRateLimited, false, nil, ProviderEmail, err,
			map[string]string{"identifier": email})
		return nil, err
	}

	p, err := e.verifiers[ProviderEmail].verify(ctx, credentials{email: email, password: req.Password})
	if err != nil {
		if attackerObservable(err) {
			e.recordRateFailure(ctx, email)
		}
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, p, ProviderEmail, err,
			map[string]string{"identifier": email})
		return nil, err
	}

	return e.finishLogin(ctx, p, req.MFACode, email, ProviderEmail)
}

// LoginSocial authenticates with an access token from an external provider.
// Unknown tokens have no stable identifier to rate-limit on, so the login
// rate limiter is not consulted on this path; provider rejections are still
// audited and counted.
func (e *Engine) LoginSocial(ctx context.Context, provider Provider, req SocialLoginRequest) (*AuthResult, error) {
	if e == nil || !e.ready {
		return nil, ErrEngineNotReady
	}
	if provider == ProviderEmail {
		return nil, ErrUnsupportedProvider
	}
	if err := e.checkCaptcha(ctx, req.CaptchaToken); err != nil {
		e.metricInc(MetricCaptchaRejected)
		e.emitAudit(ctx, auditEventCaptchaRejected, false, nil, provider, err, nil)
		return nil, err
	}

	verifier, ok := e.verifiers[provider]
	if !ok {
		return nil, ErrUnsupportedProvider
	}
	p, err := verifier.verify(ctx, credentials{accessToken: req.AccessToken})
	if err != nil {
		if errors.Is(err, ErrProviderAuthFailure) {
			e.metricInc(MetricProviderFailure)
			e.emitAudit(ctx, auditEventProviderRejected, false, nil, provider, err, nil)
		} else {
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditEventLoginFailure, false, p, provider, err, nil)
		}
		return nil, err
	}

	result, err := e.finishLogin(ctx, p, req.MFACode, "", provider)
	if err == nil && result.Success {
		e.metricInc(MetricSocialLoginSuccess)
	}
	return result, err
}

// VerifyMFA completes a challenge issued by a prior login. The session token
// must be a live mfa_session token; wrong codes are recorded against both
// the persistent lockout counter and the login rate limiter.
func (e *Engine) VerifyMFA(ctx context.Context, req MFARequest) (*AuthResult, error) {
	if e == nil || !e.ready {
		return nil, ErrEngineNotReady
	}

	claims, err := e.tokens.Parse(req.SessionToken)
	if err != nil {
		return nil, mapTokenError(err)
	}
	if claims.Purpose != token.PurposeMFASession {
		return nil, ErrTokenInvalid
	}

	role, _ := ParseRole(claims.Role)
	p, err := e.principals.FindByEmail(ctx, role, claims.Email)
	if err != nil {
		return nil, e.infra("principal lookup", err)
	}
	if p == nil || p.ID != claims.Subject {
		return nil, ErrTokenInvalid
	}
	if p.AccountLocked {
		return nil, ErrAccountLocked
	}

	if err := e.validateMFACode(ctx, p, req.Code); err != nil {
		if errors.Is(err, ErrInvalidMFACode) {
			e.recordAuthFailure(ctx, p, p.Email)
		}
		e.metricInc(MetricMFAFailure)
		e.emitAudit(ctx, auditEventMFAFailure, false, p, p.Provider, err, nil)
		return nil, err
	}
	e.metricInc(MetricMFASuccess)
	e.emitAudit(ctx, auditEventMFASuccess, true, p, p.Provider, nil, nil)

	return e.completeLogin(ctx, p, p.Email, p.Provider)
}

// Refresh exchanges a live refresh token for a new pair. Rotation is strict:
// the presented token is revoked and a replayed one is rejected.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil || !e.ready {
		return nil, ErrEngineNotReady
	}

	claims, err := e.tokens.Parse(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, mapTokenError(err)
	}
	if claims.Purpose != token.PurposeRefresh {
		e.metricInc(MetricRefreshFailure)
		return nil, ErrTokenInvalid
	}

	active, err := e.refreshStore.Active(ctx, claims.ID)
	if err != nil {
		return nil, e.infra("refresh store", err)
	}
	if !active {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, nil, ProviderEmail, ErrTokenInvalid,
			map[string]string{"subject": claims.Subject})
		return nil, ErrTokenInvalid
	}

	role, _ := ParseRole(claims.Role)
	pair, err := e.issuePair(ctx, claims.Subject, claims.Email, role)
	if err != nil {
		return nil, err
	}
	if _, err := e.refreshStore.Revoke(ctx, claims.ID); err != nil {
		// old token stays valid until its TTL; not worth failing the rotation
		e.logger.WithError(err).Warn("revoking rotated refresh token failed")
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, nil, ProviderEmail, nil,
		map[string]string{"subject": claims.Subject})
	return pair, nil
}

// Logout revokes the refresh token. An already-expired token is a successful
// logout; a malformed one is not.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if e == nil || !e.ready {
		return ErrEngineNotReady
	}

	claims, err := e.tokens.Parse(refreshToken)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return nil
		}
		return ErrTokenInvalid
	}
	if claims.Purpose != token.PurposeRefresh {
		return ErrTokenInvalid
	}

	if _, err := e.refreshStore.Revoke(ctx, claims.ID); err != nil {
		return e.infra("refresh store", err)
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, nil, ProviderEmail, nil,
		map[string]string{"subject": claims.Subject})
	return nil
}

// ValidateAccess parses and verifies an access token. An unknown role claim
// degrades to RoleUser rather than failing, so a tampered role can only
// lose privilege.
func (e *Engine) ValidateAccess(tokenString string) (*TokenInfo, error) {
	if e == nil || !e.ready {
		return nil, ErrEngineNotReady
	}
	claims, err := e.tokens.Parse(tokenString)
	if err != nil {
		return nil, mapTokenError(err)
	}
	if claims.Purpose != token.PurposeAccess {
		return nil, ErrTokenInvalid
	}
	role, _ := ParseRole(claims.Role)
	return &TokenInfo{Subject: claims.Subject, Email: claims.Email, Role: role}, nil
}

// LoginAttemptsRemaining reports how many failures the email has left in the
// current window.
func (e *Engine) LoginAttemptsRemaining(ctx context.Context, email string) (int, error) {
	if e == nil || !e.ready {
		return 0, ErrEngineNotReady
	}
	n, err := e.rateLimiter.RemainingAttempts(ctx, normalizeEmail(email))
	if err != nil {
		return 0, e.infra("rate limiter", err)
	}
	return n, nil
}

// LoginBlockRemaining reports the time left on an active block, zero when
// the email is not blocked.
func (e *Engine) LoginBlockRemaining(ctx context.Context, email string) (time.Duration, error) {
	if e == nil || !e.ready {
		return 0, ErrEngineNotReady
	}
	d, err := e.rateLimiter.BlockTimeRemaining(ctx, normalizeEmail(email))
	if err != nil {
		return 0, e.infra("rate limiter", err)
	}
	return d, nil
}

// Close flushes and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// finishLogin runs the MFA decision after credentials verified, then hands
// off to completeLogin.
func (e *Engine) finishLogin(ctx context.Context, p *Principal, mfaCode, identifier string, provider Provider) (*AuthResult, error) {
	// SUPERADMIN always goes through the second factor, enrolled or not
	requiresMFA := p.MFAEnabled || p.Role == RoleSuperadmin

	if requiresMFA && mfaCode == "" {
		session, err := e.tokens.IssueMFASession(p.ID, p.Email, p.Role.String())
		if err != nil {
			return nil, e.infra("mfa session token", err)
		}
		e.metricInc(MetricMFARequired)
		e.emitAudit(ctx, auditEventMFARequired, false, p, provider, nil, nil)
		return &AuthResult{
			RequiresMFA:     true,
			MFASessionToken: session,
			Email:           p.Email,
		}, nil
	}

	if requiresMFA {
		if err := e.validateMFACode(ctx, p, mfaCode); err != nil {
			if errors.Is(err, ErrInvalidMFACode) {
				e.recordAuthFailure(ctx, p, identifier)
			}
			e.metricInc(MetricMFAFailure)
			e.emitAudit(ctx, auditEventMFAFailure, false, p, provider, err, nil)
			return nil, err
		}
		e.metricInc(MetricMFASuccess)
	}

	return e.completeLogin(ctx, p, identifier, provider)
}

// completeLogin is the success tail shared by every path: reset counters,
// stamp the login, persist, clear the rate window, issue the pair.
func (e *Engine) completeLogin(ctx context.Context, p *Principal, identifier string, provider Provider) (*AuthResult, error) {
	p.FailedAttempts = 0
	p.LastLoginAt = time.Now().UTC()
	saved, err := e.principals.Save(ctx, p)
	if err != nil {
		return nil, e.infra("principal save", err)
	}

	if identifier != "" {
		if err := e.rateLimiter.ClearAttempts(ctx, identifier); err != nil {
			e.logger.WithError(err).Warn("clearing rate limit entry failed")
		}
	}

	pair, err := e.issuePair(ctx, saved.ID, saved.Email, saved.Role)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, saved, provider, nil, nil)
	return &AuthResult{
		Success: true,
		Email:   saved.Email,
		Tokens:  pair,
	}, nil
}

// issuePair signs a token pair and records the refresh jti in the allowlist.
func (e *Engine) issuePair(ctx context.Context, subject, email string, role Role) (*TokenPair, error) {
	pair, err := e.tokens.IssuePair(subject, email, role.String())
	if err != nil {
		return nil, e.infra("token issuance", err)
	}
	if err := e.refreshStore.Save(ctx, pair.RefreshID, subject, e.config.Token.RefreshTTL); err != nil {
		return nil, e.infra("refresh store", err)
	}
	return &TokenPair{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    pair.ExpiresIn,
	}, nil
}

// checkCaptcha gates the request when a verifier is configured.
func (e *Engine) checkCaptcha(ctx context.Context, captchaToken string) error {
	if e.captcha == nil {
		return nil
	}
	ok, err := e.captcha.Verify(ctx, captchaToken)
	if err != nil {
		return e.infra("captcha verifier", err)
	}
	if !ok {
		return ErrCaptchaRejected
	}
	return nil
}

// checkRateLimit fails the request with a RateLimitError while the
// identifier is blocked.
func (e *Engine) checkRateLimit(ctx context.Context, identifier string) error {
	blocked, err := e.rateLimiter.IsBlocked(ctx, identifier)
	if err != nil {
		return e.infra("rate limiter", err)
	}
	if !blocked {
		return nil
	}
	retry, err := e.rateLimiter.BlockTimeRemaining(ctx, identifier)
	if err != nil {
		retry = e.config.RateLimit.BlockWindow
	}
	return &RateLimitError{RetryAfter: retry}
}

// recordRateFailure counts a failed attempt in the transient window. Best
// effort: a limiter outage must not mask the real auth error.
func (e *Engine) recordRateFailure(ctx context.Context, identifier string) {
	if identifier == "" {
		return
	}
	if err := e.rateLimiter.RecordFailedAttempt(ctx, identifier); err != nil {
		e.logger.WithError(err).Warn("recording failed attempt failed")
	}
}

// recordAuthFailure feeds both lockout mechanisms: the principal's
// persistent counter and, when an identifier exists, the rate window.
func (e *Engine) recordAuthFailure(ctx context.Context, p *Principal, identifier string) {
	p.FailedAttempts++
	if p.FailedAttempts >= e.config.Lockout.Threshold && !p.AccountLocked {
		p.AccountLocked = true
		e.metricInc(MetricAccountLockout)
		e.emitAudit(ctx, auditEventAccountLocked, false, p, p.Provider, ErrAccountLocked, nil)
	}
	if _, err := e.principals.Save(ctx, p); err != nil {
		e.logger.WithError(err).Warn("persisting failed attempt counter failed")
	}
	e.recordRateFailure(ctx, identifier)
}

// attackerObservable reports whether a login error is one the caller caused
// and can see, as opposed to an internal failure. Only observable errors
// count against the rate window.
func attackerObservable(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrAccountLocked) ||
		errors.Is(err, ErrAccountUnverified) ||
		errors.Is(err, ErrInvalidMFACode)
}

// lookupByEmail probes the tiers in fixed order; the first hit wins even if
// the same email exists in a later tier.
func (e *Engine) lookupByEmail(ctx context.Context, email string) (*Principal, error) {
	for _, tier := range lookupOrder {
		p, err := e.principals.FindByEmail(ctx, tier, email)
		if err != nil {
			return nil, e.infra("principal lookup", err)
		}
		if p != nil {
			return p, nil
		}
	}
	return nil, nil
}

// infra logs the cause and returns the opaque sentinel.
func (e *Engine) infra(what string, err error) error {
	e.logger.WithError(err).WithField("component", what).Error("infrastructure failure")
	return infraError(err)
}

func mapTokenError(err error) error {
	if errors.Is(err, token.ErrExpired) {
		return ErrTokenExpired
	}
	return ErrTokenInvalid
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
