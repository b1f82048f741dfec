package aeroauth

import (
	"context"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var testTokenSecret = []byte("0123456789abcdef0123456789abcdef0123456789abcdef")

// memoryPrincipalStore is the in-memory PrincipalStore used across the
// engine tests. Records are copied on the way in and out so test code and
// engine code never alias the same struct.
type memoryPrincipalStore struct {
	mu      sync.Mutex
	seq     int
	records map[string]*Principal
}

func newMemoryPrincipalStore() *memoryPrincipalStore {
	return &memoryPrincipalStore{records: make(map[string]*Principal)}
}

func (s *memoryPrincipalStore) FindByEmail(_ context.Context, tier Role, email string) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.records {
		if p.Role == tier && p.Email == email {
			return copyPrincipal(p), nil
		}
	}
	return nil, nil
}

func (s *memoryPrincipalStore) FindByID(_ context.Context, tier Role, id string) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.records[id]
	if !ok || p.Role != tier {
		return nil, nil
	}
	return copyPrincipal(p), nil
}

func (s *memoryPrincipalStore) FindByProvider(_ context.Context, provider Provider, providerID string) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.records {
		if p.Provider == provider && p.ProviderID == providerID {
			return copyPrincipal(p), nil
		}
	}
	return nil, nil
}

func (s *memoryPrincipalStore) Save(_ context.Context, p *Principal) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := copyPrincipal(p)
	if stored.ID == "" {
		s.seq++
		stored.ID = "p" + strconv.Itoa(s.seq)
	}
	s.records[stored.ID] = stored
	return copyPrincipal(stored), nil
}

func (s *memoryPrincipalStore) ExistsByEmail(_ context.Context, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.records {
		if p.Email == email {
			return true, nil
		}
	}
	return false, nil
}

// get returns the stored record for assertions.
func (s *memoryPrincipalStore) get(t *testing.T, id string) *Principal {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.records[id]
	if !ok {
		t.Fatalf("no principal with id %q", id)
	}
	return copyPrincipal(p)
}

func copyPrincipal(p *Principal) *Principal {
	c := *p
	return &c
}

type secretKey struct {
	id   string
	tier Role
}

type memorySecretStore struct {
	mu      sync.Mutex
	records map[secretKey]*MFASecret
}

func newMemorySecretStore() *memorySecretStore {
	return &memorySecretStore{records: make(map[secretKey]*MFASecret)}
}

func (s *memorySecretStore) Find(_ context.Context, principalID string, tier Role) (*MFASecret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[secretKey{principalID, tier}]
	if !ok {
		return nil, nil
	}
	return copySecret(rec), nil
}

func (s *memorySecretStore) Save(_ context.Context, rec *MFASecret) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[secretKey{rec.PrincipalID, rec.Role}] = copySecret(rec)
	return nil
}

func (s *memorySecretStore) Delete(_ context.Context, principalID string, tier Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, secretKey{principalID, tier})
	return nil
}

func copySecret(rec *MFASecret) *MFASecret {
	c := *rec
	c.BackupCodes = make([][]byte, len(rec.BackupCodes))
	for i, b := range rec.BackupCodes {
		c.BackupCodes[i] = append([]byte(nil), b...)
	}
	return &c
}

// staticIntrospector answers every Resolve with a fixed identity or error.
type staticIntrospector struct {
	identity *Identity
	err      error
}

func (s *staticIntrospector) Resolve(context.Context, string) (*Identity, error) {
	return s.identity, s.err
}

// staticCaptcha answers every Verify with a fixed verdict.
type staticCaptcha struct {
	ok  bool
	err error
}

func (s *staticCaptcha) Verify(context.Context, string) (bool, error) {
	return s.ok, s.err
}

type testEnv struct {
	engine     *Engine
	redis      *miniredis.Miniredis
	principals *memoryPrincipalStore
	secrets    *memorySecretStore
}

func newTestEngine(t *testing.T, opts ...func(*Builder)) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	principals := newMemoryPrincipalStore()
	secrets := newMemorySecretStore()

	b := New().
		WithTokenSecret(testTokenSecret).
		WithRedis(client).
		WithPrincipalStore(principals).
		WithMFASecretStore(secrets).
		WithLogger(logger)
	for _, opt := range opts {
		opt(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{engine: engine, redis: mr, principals: principals, secrets: secrets}
}

// seedPrincipal stores an account with the given password already hashed.
func (env *testEnv) seedPrincipal(t *testing.T, p Principal, plainPassword string) *Principal {
	t.Helper()
	if plainPassword != "" {
		hash, err := env.engine.passwords.Hash(plainPassword)
		if err != nil {
			t.Fatalf("hashing seed password failed: %v", err)
		}
		p.PasswordHash = hash
	}
	saved, err := env.principals.Save(context.Background(), &p)
	if err != nil {
		t.Fatalf("seeding principal failed: %v", err)
	}
	return saved
}

// enrollMFA runs the full enrollment for a seeded principal and returns the
// secret and the plaintext backup codes.
func (env *testEnv) enrollMFA(t *testing.T, p *Principal) (string, []string) {
	t.Helper()
	setup, err := env.engine.SetupMFA(context.Background(), p.ID, p.Role)
	if err != nil {
		t.Fatalf("SetupMFA failed: %v", err)
	}
	code := codeForNow(t, env.engine, setup.Secret)
	if err := env.engine.ConfirmMFA(context.Background(), p.ID, p.Role, code); err != nil {
		t.Fatalf("ConfirmMFA failed: %v", err)
	}
	return setup.Secret, setup.BackupCodes
}

// codeForNow mints the currently valid code for a secret.
func codeForNow(t *testing.T, e *Engine, secret string) string {
	t.Helper()
	code, err := e.totp.codeAt(secret, time.Now())
	if err != nil {
		t.Fatalf("minting code failed: %v", err)
	}
	return code
}
