package aeroauth

import (
	"context"
	"time"
)

// Role is the authorization tier a principal belongs to. The tiers are
// disjoint: an email may exist in more than one tier, and lookups resolve
// in order USER, ADMIN, SUPERADMIN with the first hit authoritative.
type Role uint8

const (
	RoleUser Role = iota
	RoleAdmin
	RoleSuperadmin
)

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "ADMIN"
	case RoleSuperadmin:
		return "SUPERADMIN"
	default:
		return "USER"
	}
}

// ParseRole maps a role claim back to a Role. Unknown values report ok=false;
// callers fall back to RoleUser so a tampered claim can never escalate.
func ParseRole(s string) (Role, bool) {
	switch s {
	case "USER":
		return RoleUser, true
	case "ADMIN":
		return RoleAdmin, true
	case "SUPERADMIN":
		return RoleSuperadmin, true
	default:
		return RoleUser, false
	}
}

// lookupOrder is the tier probe order for email logins.
var lookupOrder = [...]Role{RoleUser, RoleAdmin, RoleSuperadmin}

// Provider identifies how a principal's credentials are verified.
type Provider uint8

const (
	ProviderEmail Provider = iota
	ProviderGoogle
	ProviderFacebook
)

func (p Provider) String() string {
	switch p {
	case ProviderGoogle:
		return "GOOGLE"
	case ProviderFacebook:
		return "FACEBOOK"
	default:
		return "EMAIL"
	}
}

// Principal is the engine's view of an account record. The engine never
// persists principals itself; it reads and writes them through the
// caller-implemented PrincipalStore.
type Principal struct {
	ID            string
	Email         string
	Name          string
	Role          Role
	Provider      Provider
	ProviderID    string // subject id at the external provider, empty for EMAIL
	PasswordHash  string // PHC-format argon2id hash
	EmailVerified bool
	MFAEnabled    bool

	// AccountLocked is the persistent lockout flag. It is set when
	// FailedAttempts reaches the configured threshold and is only cleared
	// by an administrative action outside this engine.
	AccountLocked  bool
	FailedAttempts int

	LastLoginAt time.Time // zero value means never logged in
}

// PrincipalStore is the persistence contract the host application implements.
// Find methods return (nil, nil) when no record exists; errors are reserved
// for infrastructure failures and are never shown to callers of the engine.
type PrincipalStore interface {
	// FindByEmail looks up a principal within a single tier.
	FindByEmail(ctx context.Context, tier Role, email string) (*Principal, error)

	// FindByID looks up a principal by id within a single tier.
	FindByID(ctx context.Context, tier Role, id string) (*Principal, error)

	// FindByProvider looks up a principal by external provider subject id.
	FindByProvider(ctx context.Context, provider Provider, providerID string) (*Principal, error)

	// Save inserts or updates a principal and returns the stored record
	// (with ID assigned on insert).
	Save(ctx context.Context, p *Principal) (*Principal, error)

	// ExistsByEmail reports whether any tier holds the email.
	ExistsByEmail(ctx context.Context, email string) (bool, error)
}

// MFASecret is an enrolled (or pending) TOTP secret for one principal.
type MFASecret struct {
	PrincipalID string
	Role        Role
	Secret      string // Base32, no padding
	Verified    bool

	// BackupCodes holds SHA-256 digests of the unused single-use codes.
	// Plaintext codes are returned to the caller exactly once, at
	// generation time.
	BackupCodes [][]byte
}

// MFASecretStore persists MFA enrollment state, keyed by principal id and
// tier. Find returns (nil, nil) when the principal has no enrollment.
type MFASecretStore interface {
	Find(ctx context.Context, principalID string, tier Role) (*MFASecret, error)
	Save(ctx context.Context, s *MFASecret) error
	Delete(ctx context.Context, principalID string, tier Role) error
}

// Identity is the normalized result of introspecting an external provider
// access token.
type Identity struct {
	ID    string
	Email string
	Name  string
}

// TokenIntrospector validates a provider access token and resolves the
// identity behind it. Implementations for Google and Facebook live in the
// providers package; any error is treated as a rejected token.
type TokenIntrospector interface {
	Resolve(ctx context.Context, accessToken string) (*Identity, error)
}

// CaptchaVerifier checks a captcha response token. A (false, nil) result is
// a rejected challenge; errors are infrastructure failures.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token string) (bool, error)
}

// LoginRequest carries an email/password login attempt. MFACode is optional;
// when the account requires MFA and the code is absent the engine answers
// with a challenge instead of tokens.
type LoginRequest struct {
	Email        string
	Password     string
	MFACode      string
	CaptchaToken string
}

// SocialLoginRequest carries a provider access token obtained by the client
// from Google or Facebook.
type SocialLoginRequest struct {
	AccessToken  string
	MFACode      string
	CaptchaToken string
}

// MFARequest completes a challenge issued by a prior login attempt.
type MFARequest struct {
	SessionToken string
	Code         string
}

// TokenPair is a signed access/refresh token set.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	TokenType    string // always "Bearer"
	ExpiresIn    int64  // access token lifetime in seconds
}

// AuthResult is the outcome of a login. Success=false with RequiresMFA=true
// is the challenge shape: the caller must follow up with VerifyMFA (or retry
// login with a code) using the short-lived MFASessionToken.
type AuthResult struct {
	Success         bool
	RequiresMFA     bool
	MFASessionToken string
	Email           string
	Tokens          *TokenPair
}

// TokenInfo is the validated content of an access token.
type TokenInfo struct {
	Subject string
	Email   string
	Role    Role
}

// MFASetup is returned by SetupMFA. Secret and BackupCodes are shown to the
// user once and never retrievable again.
type MFASetup struct {
	Secret      string
	QRCodeURL   string
	BackupCodes []string
}

// MFAStatus reports a principal's enrollment state.
type MFAStatus struct {
	Enrolled         bool // a secret exists, possibly unconfirmed
	Confirmed        bool
	BackupCodesLeft  int
	RequiredByPolicy bool // true for SUPERADMIN regardless of enrollment
}
