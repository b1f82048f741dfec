// Package token issues and parses the engine's JWTs. One signing scheme
// (HMAC-SHA-512) backs three purposes: access, refresh and the short-lived
// mfa_session challenge token, each with its own expiry policy.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Purpose tags what a token may be used for. Parse returns the claim as-is;
// callers must check it before honoring the token.
type Purpose string

const (
	PurposeAccess     Purpose = "access"
	PurposeRefresh    Purpose = "refresh"
	PurposeMFASession Purpose = "mfa_session"
)

var (
	// ErrExpired is returned for a well-formed token past its expiry.
	ErrExpired = errors.New("token expired")

	// ErrMalformed is returned for anything else the parser rejects:
	// garbage input, wrong algorithm, bad signature.
	ErrMalformed = errors.New("token malformed")
)

// Config holds the signing key and per-purpose lifetimes.
type Config struct {
	Secret        []byte
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	MFASessionTTL time.Duration
}

// Claims is the payload of every token the manager signs.
type Claims struct {
	Email   string  `json:"email"`
	Role    string  `json:"role"`
	Purpose Purpose `json:"purpose"`
	jwt.RegisteredClaims
}

// Pair is a freshly issued access/refresh token set. RefreshID is the jti of
// the refresh token, for callers keeping a revocation list.
type Pair struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64
	RefreshID    string
}

// Manager signs and parses tokens. Safe for concurrent use.
type Manager struct {
	config Config
	now    func() time.Time
}

// NewManager validates the config and returns a Manager. The secret must be
// at least 32 bytes.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Secret) < 32 {
		return nil, errors.New("token: secret must be at least 32 bytes")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 || cfg.MFASessionTTL <= 0 {
		return nil, errors.New("token: TTLs must be positive")
	}
	return &Manager{config: cfg, now: time.Now}, nil
}

// IssuePair signs an access and a refresh token for the subject.
func (m *Manager) IssuePair(subject, email, role string) (*Pair, error) {
	access, _, err := m.sign(subject, email, role, PurposeAccess, m.config.AccessTTL)
	if err != nil {
		return nil, err
	}
	refresh, refreshID, err := m.sign(subject, email, role, PurposeRefresh, m.config.RefreshTTL)
	if err != nil {
		return nil, err
	}
	return &Pair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(m.config.AccessTTL / time.Second),
		RefreshID:    refreshID,
	}, nil
}

// IssueMFASession signs the short-lived challenge token handed out when a
// login needs a second factor.
func (m *Manager) IssueMFASession(subject, email, role string) (string, error) {
	tok, _, err := m.sign(subject, email, role, PurposeMFASession, m.config.MFASessionTTL)
	return tok, err
}

func (m *Manager) sign(subject, email, role string, purpose Purpose, ttl time.Duration) (string, string, error) {
	now := m.now()
	id := uuid.NewString()
	claims := Claims{
		Email:   email,
		Role:    role,
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Issuer:    m.config.Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(m.config.Secret)
	if err != nil {
		return "", "", fmt.Errorf("token: sign: %w", err)
	}
	return signed, id, nil
}

// Parse verifies the signature and expiry and returns the claims. Expiry is
// reported as ErrExpired, every other rejection as ErrMalformed.
func (m *Manager) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) { return m.config.Secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithIssuer(m.config.Issuer),
		jwt.WithTimeFunc(func() time.Time { return m.now() }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return claims, nil
}

// Validate reports whether the token parses cleanly.
func (m *Manager) Validate(tokenString string) bool {
	_, err := m.Parse(tokenString)
	return err == nil
}

// Subject returns the sub claim of a valid token.
func (m *Manager) Subject(tokenString string) (string, error) {
	claims, err := m.Parse(tokenString)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// Email returns the email claim of a valid token.
func (m *Manager) Email(tokenString string) (string, error) {
	claims, err := m.Parse(tokenString)
	if err != nil {
		return "", err
	}
	return claims.Email, nil
}

// Role returns the role claim of a valid token, uninterpreted. Callers map
// it to their own tier type and must treat unknown values as the least
// privileged one.
func (m *Manager) Role(tokenString string) (string, error) {
	claims, err := m.Parse(tokenString)
	if err != nil {
		return "", err
	}
	return claims.Role, nil
}
