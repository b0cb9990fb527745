package authcore

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/MrEthical07/authcore/identity"
	"github.com/MrEthical07/authcore/notify"
)

const testPassword = "correct-password-123"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type mailbox struct {
	mu   sync.Mutex
	msgs []notify.Message
	fail atomic.Bool
}

func (m *mailbox) Send(_ context.Context, msg notify.Message) error {
	if m.fail.Load() {
		return errors.New("smtp down")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msg)
	return nil
}

func (m *mailbox) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs)
}

var tokenPattern = regexp.MustCompile(`token=(\S+)`)

// lastToken returns the token from the newest mail sent to addr.
func (m *mailbox) lastToken(t *testing.T, addr string) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.msgs) - 1; i >= 0; i-- {
		if m.msgs[i].To != addr {
			continue
		}
		match := tokenPattern.FindStringSubmatch(m.msgs[i].Text)
		if match == nil {
			t.Fatalf("mail to %s carries no token link: %q", addr, m.msgs[i].Text)
		}
		token, err := url.QueryUnescape(match[1])
		if err != nil {
			t.Fatalf("unescape token: %v", err)
		}
		return token
	}
	t.Fatalf("no mail sent to %s", addr)
	return ""
}

type countingStore struct {
	identity.Store
	calls atomic.Int64
}

func (s *countingStore) Get(ctx context.Context, id string) (*identity.Identity, error) {
	s.calls.Add(1)
	return s.Store.Get(ctx, id)
}

func (s *countingStore) FindBy(ctx context.Context, field identity.Field, value string) (*identity.Identity, error) {
	s.calls.Add(1)
	return s.Store.FindBy(ctx, field, value)
}

func (s *countingStore) Update(ctx context.Context, id string, mutate func(*identity.Identity) error) (*identity.Identity, error) {
	s.calls.Add(1)
	return s.Store.Update(ctx, id, mutate)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("access-secret-0123456789abcdef0123")
	cfg.JWT.RefreshSecret = []byte("refresh-secret-0123456789abcdef012")
	cfg.Password.BcryptCost = bcrypt.MinCost
	cfg.Notification.BaseURL = "https://app.test"
	return cfg
}

type testEnv struct {
	engine *Engine
	mail   *mailbox
	clock  *testClock
}

func newTestEnv(t testing.TB, opts ...func(*Builder)) *testEnv {
	t.Helper()
	env := &testEnv{mail: &mailbox{}, clock: newTestClock()}
	b := New().
		WithConfig(testConfig()).
		WithNotifier(env.mail).
		WithClock(env.clock.Now)
	for _, opt := range opts {
		opt(b)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

func newTestEngine(t testing.TB, opts ...func(*Builder)) *Engine {
	t.Helper()
	return newTestEnv(t, opts...).engine
}

// registerVerified creates an identity and marks its email verified directly in
// the store.
func registerVerified(t testing.TB, engine *Engine, handle, email string) *User {
	t.Helper()
	res, err := engine.Register(context.Background(), RegisterRequest{
		Handle:   handle,
		Email:    email,
		Password: testPassword,
		FullName: "Test " + handle,
	})
	if err != nil {
		t.Fatalf("register %s: %v", handle, err)
	}
	_, err = engine.store.Update(context.Background(), res.User.ID, func(ident *identity.Identity) error {
		ident.EmailVerified = true
		return nil
	})
	if err != nil {
		t.Fatalf("verify %s: %v", handle, err)
	}
	return &res.User
}
