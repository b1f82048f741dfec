// Package aeroauth is an embeddable authentication engine for applications
// with tiered accounts (USER, ADMIN, SUPERADMIN) and social sign-in.
//
// # Components
//
//   - [Builder] / [Engine] — fluent construction, then a concurrency-safe
//     orchestrator for Login, LoginSocial, VerifyMFA, Refresh, Logout and
//     ValidateAccess.
//   - [PrincipalStore] / [MFASecretStore] — persistence contracts the host
//     application implements; the engine owns no database.
//   - [TokenIntrospector] / [CaptchaVerifier] — external-service contracts,
//     with ready-made Google, Facebook and reCAPTCHA implementations in the
//     providers subpackage.
//
// # Lockout model
//
// Two mechanisms gate logins independently. A Redis fixed window blocks an
// email for 15 minutes after 5 failed attempts and expires on its own. The
// principal's own FailedAttempts counter persists across windows and sets
// AccountLocked at the threshold; that flag only clears through an
// administrative action outside this engine.
//
// # Architecture boundaries
//
// The root package is the only public API surface besides token, password
// and providers. Everything under internal/ is coordination detail: rate
// windows, the MFA attempt limiter, the refresh-token allowlist and audit
// dispatch. Redis is required; account persistence is not provided.
package aeroauth
