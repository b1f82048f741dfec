package aeroauth

import "context"

// credentials carries whichever secret the provider path needs: email and
// password for EMAIL, a provider access token for the social providers.
type credentials struct {
	email       string
	password    string
	accessToken string
}

// credentialVerifier resolves a request's credentials to a principal, one
// implementation per provider. The Engine dispatches through its verifier
// map keyed by Provider; nothing ever switches on concrete types.
type credentialVerifier interface {
	verify(ctx context.Context, cred credentials) (*Principal, error)
}

// emailVerifier authenticates against the stored argon2id hash.
type emailVerifier struct {
	engine *Engine
}

func (v *emailVerifier) verify(ctx context.Context, cred credentials) (*Principal, error) {
	e := v.engine

	p, err := e.lookupByEmail(ctx, cred.email)
	if err != nil {
		return nil, err
	}
	if p == nil {
		// same answer as a wrong password, so emails cannot be probed
		return nil, ErrInvalidCredentials
	}
	if p.AccountLocked {
		return p, ErrAccountLocked
	}
	// social accounts are created verified; only self-registered ones gate
	// on email confirmation
	if p.Provider == ProviderEmail && !p.EmailVerified {
		return p, ErrAccountUnverified
	}

	ok, err := e.passwords.Verify(cred.password, p.PasswordHash)
	if err != nil {
		// unparseable stored hash; treat as mismatch, keep the cause in logs
		e.logger.WithError(err).WithField("principal", p.ID).Warn("stored password hash rejected")
		ok = false
	}
	if !ok {
		e.recordAuthFailure(ctx, p, "")
		return p, ErrInvalidCredentials
	}

	if needs, err := e.passwords.NeedsRehash(p.PasswordHash); err == nil && needs {
		if rehashed, err := e.passwords.Hash(cred.password); err == nil {
			p.PasswordHash = rehashed
		}
	}
	return p, nil
}

// socialVerifier authenticates a provider access token, provisioning a USER
// account on first sight of a provider subject.
type socialVerifier struct {
	engine       *Engine
	provider     Provider
	introspector TokenIntrospector
}

func (v *socialVerifier) verify(ctx context.Context, cred credentials) (*Principal, error) {
	e := v.engine

	identity, err := v.introspector.Resolve(ctx, cred.accessToken)
	if err != nil {
		e.logger.WithError(err).WithField("provider", v.provider.String()).
			Debug("provider token introspection failed")
		return nil, ErrProviderAuthFailure
	}
	if identity == nil || identity.ID == "" || identity.Email == "" {
		return nil, ErrProviderAuthFailure
	}

	p, err := e.principals.FindByProvider(ctx, v.provider, identity.ID)
	if err != nil {
		return nil, e.infra("principal lookup", err)
	}
	if p == nil {
		p, err = v.provision(ctx, identity)
		if err != nil {
			return nil, err
		}
	}
	if p.AccountLocked {
		return p, ErrAccountLocked
	}
	return p, nil
}

// provision creates a USER account for a first-time social identity. The
// account carries a random unusable password and counts as email-verified:
// the provider vouched for the address.
func (v *socialVerifier) provision(ctx context.Context, identity *Identity) (*Principal, error) {
	e := v.engine

	taken, err := e.principals.ExistsByEmail(ctx, normalizeEmail(identity.Email))
	if err != nil {
		return nil, e.infra("principal lookup", err)
	}
	if taken {
		return nil, ErrProviderEmailConflict
	}

	hash, err := e.passwords.RandomUnusable()
	if err != nil {
		return nil, e.infra("password hash", err)
	}

	p := &Principal{
		Email:         normalizeEmail(identity.Email),
		Name:          identity.Name,
		Role:          RoleUser,
		Provider:      v.provider,
		ProviderID:    identity.ID,
		PasswordHash:  hash,
		EmailVerified: true,
	}
	saved, err := e.principals.Save(ctx, p)
	if err != nil {
		return nil, e.infra("principal save", err)
	}

	e.metricInc(MetricSocialProvisioned)
	e.emitAudit(ctx, auditEventSocialProvisioned, true, saved, v.provider, nil, nil)
	return saved, nil
}
