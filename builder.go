package aeroauth

import (
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/halcyonair/aeroauth/internal/audit"
	"github.com/halcyonair/aeroauth/internal/limiters"
	"github.com/halcyonair/aeroauth/internal/rate"
	"github.com/halcyonair/aeroauth/internal/stores"
	"github.com/halcyonair/aeroauth/password"
	"github.com/halcyonair/aeroauth/token"
)

// Builder assembles an Engine. Configure it once, call Build once; the
// resulting Engine is immutable and safe for concurrent use.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	principals    PrincipalStore
	secrets       MFASecretStore
	introspectors map[Provider]TokenIntrospector
	captcha       CaptchaVerifier
	auditSink     AuditSink
	logger        logrus.FieldLogger

	built bool
}

// New returns a Builder carrying DefaultConfig.
func New() *Builder {
	return &Builder{
		config:        DefaultConfig(),
		introspectors: make(map[Provider]TokenIntrospector),
	}
}

// WithConfig replaces the whole config.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithTokenSecret sets the JWT signing key without replacing the rest of the
// config.
func (b *Builder) WithTokenSecret(secret []byte) *Builder {
	b.config.Token.Secret = secret
	return b
}

// WithRedis sets the client backing the rate limiters and the refresh-token
// allowlist. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithPrincipalStore sets the account persistence implementation. Required.
func (b *Builder) WithPrincipalStore(store PrincipalStore) *Builder {
	b.principals = store
	return b
}

// WithMFASecretStore sets the MFA enrollment persistence. Required when any
// MFA operation will be used.
func (b *Builder) WithMFASecretStore(store MFASecretStore) *Builder {
	b.secrets = store
	return b
}

// WithIntrospector registers the token introspector for a social provider.
// Providers without one are rejected with ErrUnsupportedProvider at login.
func (b *Builder) WithIntrospector(p Provider, introspector TokenIntrospector) *Builder {
	b.introspectors[p] = introspector
	return b
}

// WithCaptchaVerifier enables the captcha gate on every login. Without one,
// captcha tokens are ignored.
func (b *Builder) WithCaptchaVerifier(v CaptchaVerifier) *Builder {
	b.captcha = v
	return b
}

// WithAuditSink sets where audit events are delivered.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the structured logger. Defaults to the logrus standard
// logger.
func (b *Builder) WithLogger(logger logrus.FieldLogger) *Builder {
	b.logger = logger
	return b
}

// Build validates the configuration and wires the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.principals == nil {
		return nil, errors.New("principal store required")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tokens, err := token.NewManager(token.Config{
		Secret:        cfg.Token.Secret,
		Issuer:        cfg.Token.Issuer,
		AccessTTL:     cfg.Token.AccessTTL,
		RefreshTTL:    cfg.Token.RefreshTTL,
		MFASessionTTL: cfg.Token.MFASessionTTL,
	})
	if err != nil {
		return nil, err
	}

	passwords, err := password.New(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	e := &Engine{
		config:     cfg,
		logger:     logger,
		principals: b.principals,
		secrets:    b.secrets,
		captcha:    b.captcha,
		tokens:     tokens,
		passwords:  passwords,
		totp:       newTOTPManager(cfg.TOTP),
		rateLimiter: rate.New(b.redis, rate.Config{
			MaxAttempts: cfg.RateLimit.MaxAttempts,
			BlockWindow: cfg.RateLimit.BlockWindow,
			Prefix:      cfg.RateLimit.RedisPrefix,
		}),
		mfaLimiter: limiters.NewMFALimiter(b.redis, limiters.MFAConfig{
			MaxAttempts: cfg.MFA.MaxCodeAttempts,
			Window:      cfg.MFA.AttemptWindow,
			Prefix:      cfg.MFA.RedisPrefix,
		}),
		refreshStore: stores.NewRefreshStore(b.redis, cfg.Refresh.RedisPrefix),
		metrics:      NewMetrics(cfg.Metrics),
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink),
	}

	e.verifiers = map[Provider]credentialVerifier{
		ProviderEmail: &emailVerifier{engine: e},
	}
	for provider, introspector := range b.introspectors {
		if provider == ProviderEmail {
			continue
		}
		e.verifiers[provider] = &socialVerifier{
			engine:       e,
			provider:     provider,
			introspector: introspector,
		}
	}

	e.ready = true
	b.built = true
	return e, nil
}
