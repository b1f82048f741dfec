package aeroauth

import (
	"context"
	"errors"
	"testing"
)

func TestMFAEnabledLoginWithoutCodeReturnsChallenge(t *testing.T) {
	env := newTestEngine(t)
	p := seedVerifiedUser(t, env, "alice@halcyonair.com", "correct-horse-battery")
	env.enrollMFA(t, p)
	ctx := context.Background()

	result, err := env.engine.Login(ctx, LoginRequest{
		Email:    "alice@halcyonair.com",
		Password: "correct-horse-battery",
	})
	if err != nil {
		t.Fatalf("challenge must not be an error: %v", err)
	}
	if result.Success || !result.RequiresMFA {
		t.Fatalf("expected challenge shape, got %+v", result)
	}
	if result.MFASessionToken == "" || result.Email != "alice@halcyonair.com" {
		t.Fatalf("challenge missing session token or email: %+v", result)
	}
	if result.Tokens != nil {
		t.Fatal("challenge must not carry tokens")
	}

	// the challenge is not a failed attempt for either mechanism
	remaining, err := env.engine.LoginAttemptsRemaining(ctx, "alice@halcyonair.com")
	if err != nil || remaining != 5 {
		t.Fatalf("challenge consumed rate attempts: %d / %v", remaining, err)
	}
	stored := env.principals.get(t, p.ID)
	if stored.FailedAttempts != 0 {
		t.Fatalf("challenge incremented FailedAttempts: %d", stored.FailedAttempts)
	}
}

func TestVerifyMFACompletesChallenge(t *testing.T) {
	env := newTestEngine(t)
	p := seedVerifiedUser(t, env, "alice@halcyonair.com", "correct-horse-battery")
	secret, _ := env.enrollMFA(t, p)
	ctx := context.Background()

	challenge, err := env.engine.Login(ctx, LoginRequest{
		Email:    "alice@halcyonair.com",
		Password: "correct-horse-battery",
	})
	if err != nil || !challenge.RequiresMFA {
		t.Fatalf("expected challenge, got %v / %+v", err, challenge)
	}

	result, err := env.engine.VerifyMFA(ctx, MFARequest{
		SessionToken: challenge.MFASessionToken,
		Code:         codeForNow(t, env.engine, secret),
	})
	if err != nil {
		t.Fatalf("VerifyMFA failed: %v", err)
	}
	if !result.Success || result.Tokens == nil {
		t.Fatalf("expected tokens after MFA, got %+v", result)
	}

	info, err := env.engine.ValidateAccess(result.Tokens.AccessToken)
	if err != nil || info.Subject != p.ID {
		t.Fatalf("access token invalid after MFA: %v", err)
	}
}

func TestLoginWithInlineMFACode(t *testing.T) {
	env := newTestEngine(t)
	p := seedVerifiedUser(t, env, "alice@halcyonair.com", "correct-horse-battery")
	secret, _ := env.enrollMFA(t, p)

	result, err := env.engine.Login(context.Background(), LoginRequest{
		Email:    "alice@halcyonair.com",
		Password: "correct-horse-battery",
		MFACode:  codeForNow(t, env.engine, secret),
	})
	if err != nil || !result.Success {
		t.Fatalf("inline code login failed: %v", err)
	}
}

func TestWrongMFACodeRecordsBothMechanisms(t *testing.T) {
	env := newTestEngine(t)
	p := seedVerifiedUser(t, env, "alice@halcyonair.com", "correct-horse-battery")
	env.enrollMFA(t, p)
	ctx := context.Background()

	_, err := env.engine.Login(ctx, LoginRequest{
		Email:    "alice@halcyonair.com",
		Password: "correct-horse-battery",
		MFACode:  "000000",
	})
	if !errors.Is(err, ErrInvalidMFACode) {
		t.Fatalf("expected ErrInvalidMFACode, got %v", err)
	}

	remaining, err := env.engine.LoginAttemptsRemaining(ctx, "alice@halcyonair.com")
	if err != nil || remaining != 4 {
		t.Fatalf("wrong code must consume a rate attempt: %d / %v", remaining, err)
	}
	stored := env.principals.get(t, p.ID)
	if stored.FailedAttempts != 1 {
		t.Fatalf("wrong code must increment FailedAttempts: %d", stored.FailedAttempts)
	}
}

func TestMFACodeAttemptLimiter(t *testing.T) {
	// fewer allowed guesses than the lockout threshold, so the limiter
	// fires while the account is still usable
	env := newTestEngine(t, func(b *Builder) {
		b.config.MFA.MaxCodeAttempts = 3
	})
	p := seedVerifiedUser(t, env, "alice@halcyonair.com", "correct-horse-battery")
	env.enrollMFA(t, p)
	ctx := context.Background()

	challenge, err := env.engine.Login(ctx, LoginRequest{
		Email:    "alice@halcyonair.com",
		Password: "correct-horse-battery",
	})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		_, err = env.engine.VerifyMFA(ctx, MFARequest{
			SessionToken: challenge.MFASessionToken,
			Code:         "000000",
		})
		if !errors.Is(err, ErrInvalidMFACode) {
			t.Fatalf("guess %d: expected ErrInvalidMFACode, got %v", i+1, err)
		}
	}

	_, err = env.engine.VerifyMFA(ctx, MFARequest{
		SessionToken: challenge.MFASessionToken,
		Code:         "000000",
	})
	if !errors.Is(err, ErrMFAAttemptsExceeded) {
		t.Fatalf("expected ErrMFAAttemptsExceeded after burst, got %v", err)
	}
}

func TestSuperadminAlwaysChallenged(t *testing.T) {
	env := newTestEngine(t)
	root := env.seedPrincipal(t, Principal{
		Email:         "root@halcyonair.com",
		Role:          RoleSuperadmin,
		Provider:      ProviderEmail,
		EmailVerified: true,
		// MFAEnabled deliberately false: policy overrides enrollment
	}, "superadmin-password-1")
	ctx := context.Background()

	result, err := env.engine.Login(ctx, LoginRequest{
		Email:    "root@halcyonair.com",
		Password: "superadmin-password-1",
	})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !result.RequiresMFA || result.Success {
		t.Fatalf("superadmin must always be challenged, got %+v", result)
	}

	// with no enrollment, the challenge cannot be completed
	_, err = env.engine.VerifyMFA(ctx, MFARequest{
		SessionToken: result.MFASessionToken,
		Code:         "123456",
	})
	if !errors.Is(err, ErrMFANotConfigured) {
		t.Fatalf("expected ErrMFANotConfigured, got %v", err)
	}

	// after enrollment the flow completes
	secret, _ := env.enrollMFA(t, root)
	result, err = env.engine.Login(ctx, LoginRequest{
		Email:    "root@halcyonair.com",
		Password: "superadmin-password-1",
		MFACode:  codeForNow(t, env.engine, secret),
	})
	if err != nil || !result.Success {
		t.Fatalf("superadmin login with code failed: %v", err)
	}
}

func TestBackupCodeLoginConsumesCode(t *testing.T) {
	env := newTestEngine(t)
	p := seedVerifiedUser(t, env, "alice@halcyonair.com", "correct-horse-battery")
	_, codes := env.enrollMFA(t, p)
	if len(codes) != 10 {
		t.Fatalf("expected 10 backup codes, got %d", len(codes))
	}
	for _, c := range codes {
		if len(c) != 8 {
			t.Fatalf("expected 8-char backup codes, got %q", c)
		}
	}
	ctx := context.Background()

	result, err := env.engine.Login(ctx, LoginRequest{
		Email:    "alice@halcyonair.com",
		Password: "correct-horse-battery",
		MFACode:  codes[0],
	})
	if err != nil || !result.Success {
		t.Fatalf("backup code login failed: %v", err)
	}

	status, err := env.engine.MFAStatusFor(ctx, p.ID, RoleUser)
	if err != nil {
		t.Fatalf("MFAStatusFor failed: %v", err)
	}
	if status.BackupCodesLeft != 9 {
		t.Fatalf("expected 9 codes left, got %d", status.BackupCodesLeft)
	}

	// the same code must not work twice
	_, err = env.engine.Login(ctx, LoginRequest{
		Email:    "alice@halcyonair.com",
		Password: "correct-horse-battery",
		MFACode:  codes[0],
	})
	if !errors.Is(err, ErrInvalidMFACode) {
		t.Fatalf("reused backup code must fail, got %v", err)
	}
}

func TestVerifyMFARejectsWrongTokenPurpose(t *testing.T) {
	env := newTestEngine(t)
	p := seedVerifiedUser(t, env, "alice@halcyonair.com", "correct-horse-battery")
	env.enrollMFA(t, p)
	ctx := context.Background()

	// an access token is not an MFA session token
	pair, err := env.engine.tokens.IssuePair(p.ID, p.Email, p.Role.String())
	if err != nil {
		t.Fatalf("IssuePair failed: %v", err)
	}
	_, err = env.engine.VerifyMFA(ctx, MFARequest{SessionToken: pair.AccessToken, Code: "123456"})
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for wrong purpose, got %v", err)
	}

	_, err = env.engine.VerifyMFA(ctx, MFARequest{SessionToken: "garbage", Code: "123456"})
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for garbage, got %v", err)
	}
}
