package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	recaptchaVerifyURL = "https://www.google.com/recaptcha/api/siteverify"

	// recaptchaTestSecret is Google's published always-pass secret for
	// automated testing. Verification short-circuits to success so test
	// environments never call out.
	recaptchaTestSecret = "6LeIxAcTAAAAAGG-vFI1TnRWxMZNFuojJ4WifJWe"
)

// RecaptchaConfig configures the verifier.
type RecaptchaConfig struct {
	Secret string

	// VerifyURL overrides the siteverify endpoint, for tests.
	VerifyURL string

	HTTPClient *http.Client
}

// Recaptcha verifies reCAPTCHA v2 response tokens through the siteverify
// endpoint.
type Recaptcha struct {
	secret     string
	verifyURL  string
	httpClient *http.Client
}

func NewRecaptcha(cfg RecaptchaConfig) (*Recaptcha, error) {
	if cfg.Secret == "" {
		return nil, errors.New("providers: recaptcha secret required")
	}
	r := &Recaptcha{
		secret:     cfg.Secret,
		verifyURL:  cfg.VerifyURL,
		httpClient: cfg.HTTPClient,
	}
	if r.verifyURL == "" {
		r.verifyURL = recaptchaVerifyURL
	}
	if r.httpClient == nil {
		r.httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return r, nil
}

// Verify checks the response token. With the published test secret it
// always reports success without a network call.
func (r *Recaptcha) Verify(ctx context.Context, captchaToken string) (bool, error) {
	if r.secret == recaptchaTestSecret {
		return true, nil
	}
	if captchaToken == "" {
		return false, nil
	}

	form := url.Values{}
	form.Set("secret", r.secret)
	form.Set("response", captchaToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.verifyURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("providers: recaptcha verify: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("providers: recaptcha status %d", resp.StatusCode)
	}

	var body struct {
		Success    bool     `json:"success"`
		ErrorCodes []string `json:"error-codes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("providers: recaptcha decode: %w", err)
	}
	return body.Success, nil
}
