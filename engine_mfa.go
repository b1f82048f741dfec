package aeroauth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/halcyonair/aeroauth/internal/limiters"
)

const backupCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// SetupMFA starts enrollment for a principal: a fresh secret and backup
// code set are generated and stored unverified, replacing any previous
// unconfirmed enrollment. The secret and plaintext codes are returned once;
// only hashes are kept.
func (e *Engine) SetupMFA(ctx context.Context, principalID string, tier Role) (*MFASetup, error) {
	if e == nil || !e.ready {
		return nil, ErrEngineNotReady
	}
	if e.secrets == nil {
		return nil, ErrMFANotConfigured
	}

	p, err := e.principalByID(ctx, principalID, tier)
	if err != nil {
		return nil, err
	}

	_, secretB32, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, e.infra("totp secret", err)
	}
	codes, hashes, err := e.generateBackupCodes()
	if err != nil {
		return nil, e.infra("backup codes", err)
	}

	record := &MFASecret{
		PrincipalID: p.ID,
		Role:        tier,
		Secret:      secretB32,
		BackupCodes: hashes,
	}
	if err := e.secrets.Save(ctx, record); err != nil {
		return nil, e.infra("mfa secret save", err)
	}

	e.emitAudit(ctx, auditEventMFASetup, true, p, p.Provider, nil, nil)
	return &MFASetup{
		Secret:      secretB32,
		QRCodeURL:   e.totp.QRCodeURL(secretB32, p.Email),
		BackupCodes: codes,
	}, nil
}

// ConfirmMFA proves the authenticator was provisioned by validating a first
// code, then marks the secret verified and flips the principal's MFAEnabled
// flag. Until confirmation, logins do not demand a second factor.
func (e *Engine) ConfirmMFA(ctx context.Context, principalID string, tier Role, code string) error {
	if e == nil || !e.ready {
		return ErrEngineNotReady
	}
	if e.secrets == nil {
		return ErrMFANotConfigured
	}

	p, err := e.principalByID(ctx, principalID, tier)
	if err != nil {
		return err
	}
	record, err := e.secrets.Find(ctx, p.ID, tier)
	if err != nil {
		return e.infra("mfa secret lookup", err)
	}
	if record == nil {
		return ErrMFANotConfigured
	}

	ok, err := e.totp.VerifyCode(record.Secret, code)
	if err != nil {
		return e.infra("totp verify", err)
	}
	if !ok {
		return ErrInvalidMFACode
	}

	record.Verified = true
	if err := e.secrets.Save(ctx, record); err != nil {
		return e.infra("mfa secret save", err)
	}
	p.MFAEnabled = true
	if _, err := e.principals.Save(ctx, p); err != nil {
		return e.infra("principal save", err)
	}

	e.metricInc(MetricMFAEnrolled)
	e.emitAudit(ctx, auditEventMFAEnabled, true, p, p.Provider, nil, nil)
	return nil
}

// DisableMFA removes the enrollment after a current code is validated.
// SUPERADMIN logins keep demanding a second factor by policy regardless.
func (e *Engine) DisableMFA(ctx context.Context, principalID string, tier Role, code string) error {
	if e == nil || !e.ready {
		return ErrEngineNotReady
	}
	if e.secrets == nil {
		return ErrMFANotConfigured
	}

	p, err := e.principalByID(ctx, principalID, tier)
	if err != nil {
		return err
	}
	if err := e.validateMFACode(ctx, p, code); err != nil {
		return err
	}

	if err := e.secrets.Delete(ctx, p.ID, tier); err != nil {
		return e.infra("mfa secret delete", err)
	}
	p.MFAEnabled = false
	if _, err := e.principals.Save(ctx, p); err != nil {
		return e.infra("principal save", err)
	}

	e.metricInc(MetricMFADisabled)
	e.emitAudit(ctx, auditEventMFADisabled, true, p, p.Provider, nil, nil)
	return nil
}

// MFAStatusFor reports enrollment state for a principal.
func (e *Engine) MFAStatusFor(ctx context.Context, principalID string, tier Role) (*MFAStatus, error) {
	if e == nil || !e.ready {
		return nil, ErrEngineNotReady
	}

	status := &MFAStatus{RequiredByPolicy: tier == RoleSuperadmin}
	if e.secrets == nil {
		return status, nil
	}
	record, err := e.secrets.Find(ctx, principalID, tier)
	if err != nil {
		return nil, e.infra("mfa secret lookup", err)
	}
	if record == nil {
		return status, nil
	}
	status.Enrolled = true
	status.Confirmed = record.Verified
	status.BackupCodesLeft = len(record.BackupCodes)
	return status, nil
}

// RegenerateBackupCodes replaces the backup code set after a current code is
// validated. The previous codes stop working immediately.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, principalID string, tier Role, code string) ([]string, error) {
	if e == nil || !e.ready {
		return nil, ErrEngineNotReady
	}
	if e.secrets == nil {
		return nil, ErrMFANotConfigured
	}

	p, err := e.principalByID(ctx, principalID, tier)
	if err != nil {
		return nil, err
	}
	if err := e.validateMFACode(ctx, p, code); err != nil {
		return nil, err
	}

	record, err := e.secrets.Find(ctx, p.ID, tier)
	if err != nil {
		return nil, e.infra("mfa secret lookup", err)
	}
	if record == nil || !record.Verified {
		return nil, ErrMFANotConfigured
	}

	codes, hashes, err := e.generateBackupCodes()
	if err != nil {
		return nil, e.infra("backup codes", err)
	}
	record.BackupCodes = hashes
	if err := e.secrets.Save(ctx, record); err != nil {
		return nil, e.infra("mfa secret save", err)
	}

	e.metricInc(MetricBackupCodesRegenerated)
	e.emitAudit(ctx, auditEventBackupCodesRotate, true, p, p.Provider, nil, nil)
	return codes, nil
}

// validateMFACode checks a TOTP or backup code for the principal, behind
// the per-principal attempt limiter. A matched backup code is consumed.
func (e *Engine) validateMFACode(ctx context.Context, p *Principal, code string) error {
	if e.secrets == nil {
		return ErrMFANotConfigured
	}

	if err := e.mfaLimiter.Check(ctx, p.ID); err != nil {
		if errors.Is(err, limiters.ErrMFARateLimited) {
			e.metricInc(MetricMFAAttemptsExceeded)
			return ErrMFAAttemptsExceeded
		}
		return e.infra("mfa limiter", err)
	}

	record, err := e.secrets.Find(ctx, p.ID, p.Role)
	if err != nil {
		return e.infra("mfa secret lookup", err)
	}
	if record == nil || !record.Verified {
		return ErrMFANotConfigured
	}

	code = strings.ToUpper(strings.TrimSpace(code))
	switch {
	case len(code) == e.config.TOTP.Digits && allDigits(code):
		ok, err := e.totp.VerifyCode(record.Secret, code)
		if err != nil {
			return e.infra("totp verify", err)
		}
		if ok {
			e.resetMFALimiter(ctx, p.ID)
			return nil
		}
	case len(code) == e.config.MFA.BackupCodeLength:
		consumed, err := e.consumeBackupCode(ctx, record, code)
		if err != nil {
			return err
		}
		if consumed {
			e.resetMFALimiter(ctx, p.ID)
			e.metricInc(MetricBackupCodeUsed)
			e.emitAudit(ctx, auditEventBackupCodeUsed, true, p, p.Provider, nil,
				map[string]string{"remaining": fmt.Sprintf("%d", len(record.BackupCodes))})
			return nil
		}
	}

	if err := e.mfaLimiter.RecordFailure(ctx, p.ID); err != nil &&
		!errors.Is(err, limiters.ErrMFARateLimited) {
		e.logger.WithError(err).Warn("recording mfa failure failed")
	}
	return ErrInvalidMFACode
}

// consumeBackupCode removes a matching code hash from the set. Each code
// works exactly once.
func (e *Engine) consumeBackupCode(ctx context.Context, record *MFASecret, code string) (bool, error) {
	digest := sha256.Sum256([]byte(code))
	for i, stored := range record.BackupCodes {
		if subtle.ConstantTimeCompare(stored, digest[:]) == 1 {
			record.BackupCodes = append(record.BackupCodes[:i], record.BackupCodes[i+1:]...)
			if err := e.secrets.Save(ctx, record); err != nil {
				return false, e.infra("mfa secret save", err)
			}
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) generateBackupCodes() ([]string, [][]byte, error) {
	count := e.config.MFA.BackupCodeCount
	length := e.config.MFA.BackupCodeLength

	codes := make([]string, 0, count)
	hashes := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		code, err := randomCode(length)
		if err != nil {
			return nil, nil, err
		}
		digest := sha256.Sum256([]byte(code))
		codes = append(codes, code)
		hashes = append(hashes, digest[:])
	}
	return codes, hashes, nil
}

// randomCode draws uniformly from the backup code alphabet using rejection
// sampling, so no character is favored by modulo bias.
func randomCode(length int) (string, error) {
	const max = byte(len(backupCodeAlphabet)) // 36
	limit := byte(256 - 256%int(max))

	out := make([]byte, 0, length)
	buf := make([]byte, length*2)
	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, backupCodeAlphabet[b%max])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}

func (e *Engine) principalByID(ctx context.Context, principalID string, tier Role) (*Principal, error) {
	p, err := e.principals.FindByID(ctx, tier, principalID)
	if err != nil {
		return nil, e.infra("principal lookup", err)
	}
	if p == nil {
		return nil, ErrInvalidCredentials
	}
	return p, nil
}

func (e *Engine) resetMFALimiter(ctx context.Context, principalID string) {
	if err := e.mfaLimiter.Reset(ctx, principalID); err != nil {
		e.logger.WithError(err).Warn("resetting mfa limiter failed")
	}
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
