package aeroauth

import (
	"context"
	"errors"
	"testing"
)

func googleEnv(t *testing.T, identity *Identity, resolveErr error) *testEnv {
	t.Helper()
	return newTestEngine(t, func(b *Builder) {
		b.WithIntrospector(ProviderGoogle, &staticIntrospector{identity: identity, err: resolveErr})
	})
}

func TestSocialLoginProvisionsUserOnFirstSight(t *testing.T) {
	env := googleEnv(t, &Identity{ID: "goog-123", Email: "new@halcyonair.com", Name: "New User"}, nil)
	ctx := context.Background()

	result, err := env.engine.LoginSocial(ctx, ProviderGoogle, SocialLoginRequest{AccessToken: "tok"})
	if err != nil {
		t.Fatalf("LoginSocial failed: %v", err)
	}
	if !result.Success || result.Tokens == nil {
		t.Fatalf("expected success with tokens, got %+v", result)
	}

	p, err := env.principals.FindByProvider(ctx, ProviderGoogle, "goog-123")
	if err != nil || p == nil {
		t.Fatalf("provisioned principal not found: %v", err)
	}
	if p.Role != RoleUser {
		t.Fatalf("provisioned accounts must be USER, got %v", p.Role)
	}
	if !p.EmailVerified {
		t.Fatal("provider-vouched email must count as verified")
	}
	if p.PasswordHash == "" {
		t.Fatal("expected an unusable password hash")
	}

	// the random hash must not let anyone in through the email path
	_, err = env.engine.Login(ctx, LoginRequest{Email: "new@halcyonair.com", Password: ""})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("email login against social account must fail, got %v", err)
	}

	snap := env.engine.MetricsSnapshot()
	if snap[MetricSocialProvisioned] != 1 || snap[MetricSocialLoginSuccess] != 1 {
		t.Fatalf("unexpected counters: %+v", snap)
	}
}

func TestSocialLoginSecondVisitReusesAccount(t *testing.T) {
	env := googleEnv(t, &Identity{ID: "goog-123", Email: "new@halcyonair.com", Name: "New User"}, nil)
	ctx := context.Background()

	if _, err := env.engine.LoginSocial(ctx, ProviderGoogle, SocialLoginRequest{AccessToken: "tok"}); err != nil {
		t.Fatalf("first login failed: %v", err)
	}
	if _, err := env.engine.LoginSocial(ctx, ProviderGoogle, SocialLoginRequest{AccessToken: "tok"}); err != nil {
		t.Fatalf("second login failed: %v", err)
	}

	if n := env.engine.MetricsSnapshot()[MetricSocialProvisioned]; n != 1 {
		t.Fatalf("expected exactly one provision, got %d", n)
	}
}

func TestSocialLoginEmailConflict(t *testing.T) {
	env := googleEnv(t, &Identity{ID: "goog-999", Email: "alice@halcyonair.com"}, nil)
	seedVerifiedUser(t, env, "alice@halcyonair.com", "correct-horse-battery")

	_, err := env.engine.LoginSocial(context.Background(), ProviderGoogle,
		SocialLoginRequest{AccessToken: "tok"})
	if !errors.Is(err, ErrProviderEmailConflict) {
		t.Fatalf("expected ErrProviderEmailConflict, got %v", err)
	}
}

func TestSocialLoginRejectedToken(t *testing.T) {
	env := googleEnv(t, nil, errors.New("introspection says no"))
	ctx := context.Background()

	_, err := env.engine.LoginSocial(ctx, ProviderGoogle, SocialLoginRequest{AccessToken: "bad"})
	if !errors.Is(err, ErrProviderAuthFailure) {
		t.Fatalf("expected ErrProviderAuthFailure, got %v", err)
	}
	if n := env.engine.MetricsSnapshot()[MetricProviderFailure]; n != 1 {
		t.Fatalf("expected provider failure counter, got %d", n)
	}
}

func TestSocialLoginUnknownProvider(t *testing.T) {
	env := newTestEngine(t)

	_, err := env.engine.LoginSocial(context.Background(), ProviderFacebook,
		SocialLoginRequest{AccessToken: "tok"})
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider without an introspector, got %v", err)
	}

	_, err = env.engine.LoginSocial(context.Background(), ProviderEmail,
		SocialLoginRequest{AccessToken: "tok"})
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("EMAIL is not a social provider, got %v", err)
	}
}

func TestSocialLoginLockedAccount(t *testing.T) {
	env := googleEnv(t, &Identity{ID: "goog-123", Email: "locked@halcyonair.com"}, nil)
	env.seedPrincipal(t, Principal{
		Email:         "locked@halcyonair.com",
		Role:          RoleUser,
		Provider:      ProviderGoogle,
		ProviderID:    "goog-123",
		EmailVerified: true,
		AccountLocked: true,
	}, "")

	_, err := env.engine.LoginSocial(context.Background(), ProviderGoogle,
		SocialLoginRequest{AccessToken: "tok"})
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}
}

func TestSocialLoginWithMFAEnabledGetsChallenge(t *testing.T) {
	env := googleEnv(t, &Identity{ID: "goog-123", Email: "mfa@halcyonair.com"}, nil)
	p := env.seedPrincipal(t, Principal{
		Email:         "mfa@halcyonair.com",
		Role:          RoleUser,
		Provider:      ProviderGoogle,
		ProviderID:    "goog-123",
		EmailVerified: true,
	}, "")
	secret, _ := env.enrollMFA(t, p)
	ctx := context.Background()

	challenge, err := env.engine.LoginSocial(ctx, ProviderGoogle, SocialLoginRequest{AccessToken: "tok"})
	if err != nil {
		t.Fatalf("LoginSocial failed: %v", err)
	}
	if !challenge.RequiresMFA || challenge.MFASessionToken == "" {
		t.Fatalf("expected challenge, got %+v", challenge)
	}

	result, err := env.engine.VerifyMFA(ctx, MFARequest{
		SessionToken: challenge.MFASessionToken,
		Code:         codeForNow(t, env.engine, secret),
	})
	if err != nil || !result.Success {
		t.Fatalf("completing social MFA failed: %v", err)
	}
}
