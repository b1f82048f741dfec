package aeroauth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const totpSecretBytes = 20

// b32 is the RFC 4648 alphabet without padding, the format authenticator
// apps expect in otpauth URIs.
var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// totpManager implements RFC 6238 time-based codes over RFC 4226 HOTP with
// HMAC-SHA-1. Verification accepts at most one step of clock skew on each
// side; the window is a config invariant, not a tunable to widen.
type totpManager struct {
	config TOTPConfig
	now    func() time.Time
}

func newTOTPManager(cfg TOTPConfig) *totpManager {
	return &totpManager{config: cfg, now: time.Now}
}

// GenerateSecret returns 20 bytes of CSPRNG output and its Base32 encoding.
func (m *totpManager) GenerateSecret() ([]byte, string, error) {
	secret := make([]byte, totpSecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return nil, "", fmt.Errorf("totp: generate secret: %w", err)
	}
	return secret, b32.EncodeToString(secret), nil
}

// ProvisionURI builds the otpauth:// URI encoding the secret and the
// engine's code parameters for the given account label.
func (m *totpManager) ProvisionURI(secretBase32, account string) string {
	issuer := m.config.Issuer
	label := url.PathEscape(issuer) + ":" + url.PathEscape(account)
	q := url.Values{}
	q.Set("secret", secretBase32)
	q.Set("issuer", issuer)
	q.Set("algorithm", "SHA1")
	q.Set("digits", strconv.Itoa(m.config.Digits))
	q.Set("period", strconv.Itoa(m.config.Period))
	return "otpauth://totp/" + label + "?" + q.Encode()
}

// QRCodeURL wraps the provisioning URI in the external QR render endpoint.
func (m *totpManager) QRCodeURL(secretBase32, account string) string {
	q := url.Values{}
	q.Set("size", fmt.Sprintf("%dx%d", m.config.QRSize, m.config.QRSize))
	q.Set("data", m.ProvisionURI(secretBase32, account))
	return m.config.QRBaseURL + "?" + q.Encode()
}

// VerifyCode checks a submitted code against the current step and the
// configured skew. Candidate comparison is constant-time per candidate.
func (m *totpManager) VerifyCode(secretBase32, code string) (bool, error) {
	code = strings.TrimSpace(code)
	if len(code) != m.config.Digits {
		return false, nil
	}
	secret, err := b32.DecodeString(strings.ToUpper(secretBase32))
	if err != nil {
		return false, fmt.Errorf("totp: malformed secret: %w", err)
	}

	counter := m.now().Unix() / int64(m.config.Period)
	for skew := -int64(m.config.Skew); skew <= int64(m.config.Skew); skew++ {
		candidate := hotpCode(secret, uint64(counter+skew), m.config.Digits)
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(code)) == 1 {
			return true, nil
		}
	}
	return false, nil
}

// codeAt returns the code for an arbitrary instant. Used by tests to mint
// codes without guessing the wall clock.
func (m *totpManager) codeAt(secretBase32 string, at time.Time) (string, error) {
	secret, err := b32.DecodeString(strings.ToUpper(secretBase32))
	if err != nil {
		return "", fmt.Errorf("totp: malformed secret: %w", err)
	}
	return hotpCode(secret, uint64(at.Unix()/int64(m.config.Period)), m.config.Digits), nil
}

// hotpCode computes an RFC 4226 HOTP value: HMAC-SHA-1 over the big-endian
// counter, dynamic truncation on the low nibble of the final byte, then the
// low 31 bits reduced modulo 10^digits and zero-padded.
func hotpCode(secret []byte, counter uint64, digits int) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, secret)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	value := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	mod := uint32(1)
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", digits, value%mod)
}
