// Package providers contains ready-made TokenIntrospector and
// CaptchaVerifier implementations for the external services the engine
// integrates with. All of them take injectable endpoints and HTTP clients
// so tests can point them at local servers.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/halcyonair/aeroauth"
)

const (
	googleIssuer      = "https://accounts.google.com"
	googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
)

// GoogleConfig configures the Google introspector. Only ClientID is
// required; the zero values of the rest select the production endpoints.
type GoogleConfig struct {
	ClientID string

	// UserInfoURL overrides the userinfo endpoint, for tests.
	UserInfoURL string

	// HTTPClient is used for userinfo calls. Defaults to a client with a
	// 10s timeout.
	HTTPClient *http.Client

	// SkipDiscovery disables OIDC issuer discovery, leaving only the
	// userinfo path. Tests use this to avoid network access at
	// construction time.
	SkipDiscovery bool
}

// Google resolves Google credentials two ways, the order the tokens arrive
// in practice: first as an OIDC ID token verified against Google's keys,
// then as an opaque OAuth2 access token sent to the userinfo endpoint.
type Google struct {
	verifier    *oidc.IDTokenVerifier
	userInfoURL string
	httpClient  *http.Client
}

// NewGoogle discovers Google's OIDC configuration and returns the
// introspector.
func NewGoogle(ctx context.Context, cfg GoogleConfig) (*Google, error) {
	if cfg.ClientID == "" && !cfg.SkipDiscovery {
		return nil, errors.New("providers: google client id required")
	}

	g := &Google{
		userInfoURL: cfg.UserInfoURL,
		httpClient:  cfg.HTTPClient,
	}
	if g.userInfoURL == "" {
		g.userInfoURL = googleUserInfoURL
	}
	if g.httpClient == nil {
		g.httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	if !cfg.SkipDiscovery {
		provider, err := oidc.NewProvider(ctx, googleIssuer)
		if err != nil {
			return nil, fmt.Errorf("providers: google discovery: %w", err)
		}
		g.verifier = provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})
	}
	return g, nil
}

// Resolve validates the token and returns the identity behind it.
func (g *Google) Resolve(ctx context.Context, accessToken string) (*aeroauth.Identity, error) {
	if accessToken == "" {
		return nil, errors.New("providers: empty google token")
	}

	if g.verifier != nil {
		if identity, err := g.resolveIDToken(ctx, accessToken); err == nil {
			return identity, nil
		}
	}
	return g.resolveUserInfo(ctx, accessToken)
}

func (g *Google) resolveIDToken(ctx context.Context, rawIDToken string) (*aeroauth.Identity, error) {
	idToken, err := g.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, err
	}
	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, err
	}
	if !claims.EmailVerified || claims.Email == "" {
		return nil, errors.New("providers: google id token without verified email")
	}
	return &aeroauth.Identity{ID: idToken.Subject, Email: claims.Email, Name: claims.Name}, nil
}

func (g *Google) resolveUserInfo(ctx context.Context, accessToken string) (*aeroauth.Identity, error) {
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	client := &http.Client{
		Timeout:   g.httpClient.Timeout,
		Transport: &oauth2.Transport{Base: g.httpClient.Transport, Source: source},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("providers: google userinfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("providers: google userinfo status %d", resp.StatusCode)
	}

	var body struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("providers: google userinfo decode: %w", err)
	}
	if body.Sub == "" || body.Email == "" {
		return nil, errors.New("providers: google userinfo incomplete")
	}
	return &aeroauth.Identity{ID: body.Sub, Email: body.Email, Name: body.Name}, nil
}
