package aeroauth

import (
	"errors"
	"time"
)

// Config holds every tunable of the Engine. Start from DefaultConfig and
// override what you need; Build validates the result.
type Config struct {
	Token     TokenConfig
	RateLimit RateLimitConfig
	Lockout   LockoutConfig
	TOTP      TOTPConfig
	MFA       MFAConfig
	Password  PasswordConfig
	Refresh   RefreshConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

// TokenConfig configures JWT issuance. Secret must be at least 32 bytes;
// tokens are signed with HMAC-SHA-512.
type TokenConfig struct {
	Secret        []byte
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	MFASessionTTL time.Duration
}

// RateLimitConfig configures the per-identifier login limiter. The window is
// fixed: its TTL starts at the first failed attempt and is never refreshed,
// so a block always ends BlockWindow after the first failure.
type RateLimitConfig struct {
	MaxAttempts int
	BlockWindow time.Duration
	RedisPrefix string
}

// LockoutConfig configures the persistent per-principal failure counter.
type LockoutConfig struct {
	Threshold int
}

// TOTPConfig configures code generation and verification. Period is in
// seconds. Skew is the number of adjacent steps accepted on each side of the
// current one; widening it past 1 defeats the point of time-based codes.
type TOTPConfig struct {
	Issuer string
	Digits int
	Period int
	Skew   int

	// QRBaseURL is the external QR render endpoint the provisioning URI is
	// wrapped in. QRSize is the image edge in pixels.
	QRBaseURL string
	QRSize    int
}

// MFAConfig configures backup codes and the code-attempt cooldown.
type MFAConfig struct {
	BackupCodeCount  int
	BackupCodeLength int
	MaxCodeAttempts  int
	AttemptWindow    time.Duration
	RedisPrefix      string
}

// PasswordConfig carries argon2id parameters.
type PasswordConfig struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// RefreshConfig configures the refresh-token allowlist.
type RefreshConfig struct {
	RedisPrefix string
}

// AuditConfig configures the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int

	// DropIfFull makes emission non-blocking: events beyond the buffer are
	// counted and discarded instead of stalling logins.
	DropIfFull bool
}

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

// DefaultConfig returns the policy the engine ships with: 5 attempts per 15
// minute window, 1h/7d/5m token lifetimes, 6-digit 30s TOTP with a one-step
// window, 10 backup codes of 8 characters.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			Issuer:        "aeroauth",
			AccessTTL:     time.Hour,
			RefreshTTL:    7 * 24 * time.Hour,
			MFASessionTTL: 5 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			MaxAttempts: 5,
			BlockWindow: 15 * time.Minute,
			RedisPrefix: "aa:rl",
		},
		Lockout: LockoutConfig{
			Threshold: 5,
		},
		TOTP: TOTPConfig{
			Issuer:    "aeroauth",
			Digits:    6,
			Period:    30,
			Skew:      1,
			QRBaseURL: "https://api.qrserver.com/v1/create-qr-code/",
			QRSize:    200,
		},
		MFA: MFAConfig{
			BackupCodeCount:  10,
			BackupCodeLength: 8,
			MaxCodeAttempts:  5,
			AttemptWindow:    time.Minute,
			RedisPrefix:      "aa:mfa",
		},
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		Refresh: RefreshConfig{
			RedisPrefix: "aa:rt",
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate checks the config for values the engine cannot run with.
func (c *Config) Validate() error {
	if len(c.Token.Secret) < 32 {
		return errors.New("config: token secret must be at least 32 bytes")
	}
	if c.Token.AccessTTL <= 0 || c.Token.RefreshTTL <= 0 || c.Token.MFASessionTTL <= 0 {
		return errors.New("config: token TTLs must be positive")
	}
	if c.RateLimit.MaxAttempts <= 0 {
		return errors.New("config: rate limit max attempts must be positive")
	}
	if c.RateLimit.BlockWindow <= 0 {
		return errors.New("config: rate limit block window must be positive")
	}
	if c.Lockout.Threshold <= 0 {
		return errors.New("config: lockout threshold must be positive")
	}
	if c.TOTP.Digits < 6 || c.TOTP.Digits > 8 {
		return errors.New("config: totp digits must be 6..8")
	}
	if c.TOTP.Period <= 0 {
		return errors.New("config: totp period must be positive")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 1 {
		return errors.New("config: totp skew must be 0 or 1")
	}
	if c.MFA.BackupCodeCount < 0 || c.MFA.BackupCodeLength < 6 {
		return errors.New("config: backup code length must be at least 6")
	}
	if c.MFA.MaxCodeAttempts <= 0 || c.MFA.AttemptWindow <= 0 {
		return errors.New("config: mfa attempt limiter values must be positive")
	}
	if c.Password.Memory == 0 || c.Password.Time == 0 || c.Password.Parallelism == 0 ||
		c.Password.SaltLength == 0 || c.Password.KeyLength == 0 {
		return errors.New("config: password parameters must be positive")
	}
	return nil
}
