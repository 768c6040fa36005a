package rentauth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/rentauth/credential"
	"github.com/MrEthical07/rentauth/internal"
	"github.com/MrEthical07/rentauth/otp"
	"github.com/MrEthical07/rentauth/permission"
	"github.com/MrEthical07/rentauth/token"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

const testPassword = "correct-horse-battery"

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu     sync.Mutex
	codes  map[string]string
	events map[string][]SecurityEventType
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{
		codes:  make(map[string]string),
		events: make(map[string][]SecurityEventType),
	}
}

func (n *recordingNotifier) NotifyOTP(_ context.Context, user credential.User, purpose otp.Purpose, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.codes[user.ID+"|"+string(purpose)] = code
	return nil
}

func (n *recordingNotifier) NotifySecurityEvent(_ context.Context, user credential.User, event SecurityEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events[user.ID] = append(n.events[user.ID], event.Type)
	return nil
}

func (n *recordingNotifier) code(t *testing.T, userID string, purpose otp.Purpose) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	c, ok := n.codes[userID+"|"+string(purpose)]
	if !ok {
		t.Fatalf("no %s code delivered to %s", purpose, userID)
	}
	return c
}

func (n *recordingNotifier) sawEvent(userID string, kind SecurityEventType) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events[userID] {
		if e == kind {
			return true
		}
	}
	return false
}

// flakyRepo fails activity writes on demand.
type flakyRepo struct {
	*credential.MemoryRepository
	failActivity atomic.Bool
	// failUserByIDOnce makes the next UserByID call fail.
	failUserByIDOnce atomic.Bool
}

func (r *flakyRepo) UserByID(ctx context.Context, userID string) (credential.User, error) {
	if r.failUserByIDOnce.CompareAndSwap(true, false) {
		return credential.User{}, errors.New("users table offline")
	}
	return r.MemoryRepository.UserByID(ctx, userID)
}

func (r *flakyRepo) AppendActivity(ctx context.Context, a credential.Activity) error {
	if r.failActivity.Load() {
		return errors.New("activity table offline")
	}
	return r.MemoryRepository.AppendActivity(ctx, a)
}

type harness struct {
	engine   *Engine
	repo     *flakyRepo
	graph    *permission.Graph
	tokens   *token.MemoryStore
	notifier *recordingNotifier
	clock    *fakeClock
	redis    *miniredis.Miniredis
}

func testConfig(t testing.TB) Config {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	cfg.OTP.Secret = strings.Repeat("k", 32)
	cfg.Password.Argon2.Memory = 8 * 1024
	cfg.Password.Argon2.Time = 1
	cfg.Password.Argon2.Parallelism = 1
	cfg.Metrics.Enabled = true
	return cfg
}

func newHarness(t testing.TB, mutate func(*Config)) *harness {
	t.Helper()
	return newHarnessWithSink(t, mutate, nil)
}

func newHarnessWithSink(t testing.TB, mutate func(*Config), sink AuditSink) *harness {
	t.Helper()
	cfg := testConfig(t)
	if mutate != nil {
		mutate(&cfg)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := &harness{
		repo:     &flakyRepo{MemoryRepository: credential.NewMemoryRepository()},
		tokens:   token.NewMemoryStore(),
		notifier: newRecordingNotifier(),
		clock:    &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		redis:    mr,
	}
	h.graph = permission.NewGraph(permission.NewMemoryStore(h.repo))

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialRepository(h.repo).
		WithRBAC(h.graph).
		WithTokenStore(h.tokens).
		WithNotifier(h.notifier).
		WithAuditSink(sink).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		WithClock(h.clock.Now).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(engine.Close)
	h.engine = engine
	return h
}

func (h *harness) addUser(t testing.TB, username string, verified bool) credential.User {
	t.Helper()
	ctx := context.Background()
	u, err := h.engine.credentials.CreateUser(ctx, username, username+"@example.com", testPassword)
	if err != nil {
		t.Fatalf("create %s: %v", username, err)
	}
	if verified {
		if err := h.engine.credentials.MarkVerified(ctx, u.ID); err != nil {
			t.Fatalf("verify %s: %v", username, err)
		}
		u.Verified = true
	}
	return u
}

// grant creates role and perms if missing, links them and assigns the role.
func (h *harness) grant(t testing.TB, userID, role string, perms ...string) {
	t.Helper()
	ctx := context.Background()
	if _, err := h.graph.CreateRole(ctx, role, ""); err != nil && !errors.Is(err, permission.ErrConflict) {
		t.Fatalf("create role: %v", err)
	}
	for _, p := range perms {
		if _, err := h.graph.CreatePermission(ctx, p, ""); err != nil && !errors.Is(err, permission.ErrConflict) {
			t.Fatalf("create permission: %v", err)
		}
		if err := h.graph.GrantPermission(ctx, role, p); err != nil {
			t.Fatalf("grant: %v", err)
		}
	}
	if err := h.graph.AssignRole(ctx, userID, role); err != nil {
		t.Fatalf("assign: %v", err)
	}
}

func (h *harness) login(t testing.TB, identifier string) *TokenPair {
	t.Helper()
	pair, err := h.engine.Login(context.Background(), identifier, testPassword)
	if err != nil {
		t.Fatalf("login %s: %v", identifier, err)
	}
	return pair
}

func TestLoginRefreshAcceptedExactlyOnce(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	alice := h.addUser(t, "alice", true)

	pair := h.login(t, "alice")
	if pair.UserID != alice.ID || pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("unexpected pair: %+v", pair)
	}

	next, err := h.engine.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatal("refresh must rotate the token")
	}

	_, err = h.engine.Refresh(ctx, pair.RefreshToken)
	if !errors.Is(err, ErrTokenRevokedOrRotated) {
		t.Fatalf("replay must be ErrTokenRevokedOrRotated, got %v", err)
	}
	if Classify(err) != ClassUnauthenticated || Retryable(err) {
		t.Fatalf("replay must be final 401, got class %s", Classify(err))
	}
}

func TestRefreshReuseRevokesEverySession(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	alice := h.addUser(t, "alice", true)

	phone := h.login(t, "alice")
	laptop := h.login(t, "alice")

	rotated, err := h.engine.Refresh(ctx, phone.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := h.engine.Refresh(ctx, phone.RefreshToken); !errors.Is(err, ErrTokenRevokedOrRotated) {
		t.Fatalf("expected reuse rejection, got %v", err)
	}

	for _, tok := range []string{rotated.RefreshToken, laptop.RefreshToken} {
		if _, err := h.engine.Refresh(ctx, tok); !errors.Is(err, ErrTokenRevokedOrRotated) {
			t.Fatalf("sibling must be revoked, got %v", err)
		}
	}
	if n, _ := h.engine.ActiveSessions(ctx, alice.ID); n != 0 {
		t.Fatalf("expected 0 active sessions, got %d", n)
	}
	if !h.notifier.sawEvent(alice.ID, SecurityEventRefreshReuse) {
		t.Fatal("owner must be notified of reuse")
	}
	if got := h.engine.MetricsSnapshot().Counters[MetricRefreshReuseDetected]; got != 1 {
		t.Fatalf("expected one reuse metric, got %d", got)
	}
}

func TestRefreshReuseWithoutRevokeAll(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Refresh.RevokeAllOnReuse = false })
	ctx := context.Background()
	h.addUser(t, "alice", true)

	pair := h.login(t, "alice")
	next, err := h.engine.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := h.engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenRevokedOrRotated) {
		t.Fatalf("expected reuse rejection, got %v", err)
	}
	if _, err := h.engine.Refresh(ctx, next.RefreshToken); err != nil {
		t.Fatalf("successor must survive when revoke-all is off: %v", err)
	}
}

func TestRefreshRejections(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.addUser(t, "alice", true)
	pair := h.login(t, "alice")

	if _, err := h.engine.Refresh(ctx, "not a token"); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected ErrTokenMalformed, got %v", err)
	}
	unknown, err := internal.NewRefreshSecret()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.Refresh(ctx, unknown.String()); !errors.Is(err, ErrTokenRevokedOrRotated) {
		t.Fatalf("unknown token must be ErrTokenRevokedOrRotated, got %v", err)
	}

	h.clock.Advance(15 * 24 * time.Hour)
	if _, err := h.engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestRefreshRejectsDeactivatedAccount(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	alice := h.addUser(t, "alice", true)
	pair := h.login(t, "alice")

	// Deactivate behind the engine's back so the token row is still live.
	if err := h.repo.SetActive(ctx, alice.ID, false, h.clock.Now()); err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}
	if n, _ := h.engine.ActiveSessions(ctx, alice.ID); n != 0 {
		t.Fatalf("presented token must be revoked, %d live", n)
	}
}

func TestRefreshRetryAfterAccountLookupFailure(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	alice := h.addUser(t, "alice", true)
	phone := h.login(t, "alice")
	laptop := h.login(t, "alice")

	h.repo.failUserByIDOnce.Store(true)
	_, err := h.engine.Refresh(ctx, phone.RefreshToken)
	if !errors.Is(err, ErrStorageUnavailable) || !Retryable(err) {
		t.Fatalf("expected retryable ErrStorageUnavailable, got %v", err)
	}

	next, err := h.engine.Refresh(ctx, phone.RefreshToken)
	if err != nil {
		t.Fatalf("retry with the same token: %v", err)
	}
	if _, err := h.engine.Refresh(ctx, laptop.RefreshToken); err != nil {
		t.Fatalf("other device after retry: %v", err)
	}
	if _, err := h.engine.Refresh(ctx, next.RefreshToken); err != nil {
		t.Fatalf("successor after retry: %v", err)
	}
	if n, _ := h.engine.ActiveSessions(ctx, alice.ID); n != 2 {
		t.Fatalf("expected 2 active sessions, got %d", n)
	}
	if h.notifier.sawEvent(alice.ID, SecurityEventRefreshReuse) {
		t.Fatal("a transient failure must not look like theft")
	}
	if got := h.engine.MetricsSnapshot().Counters[MetricRefreshReuseDetected]; got != 0 {
		t.Fatalf("expected no reuse metric, got %d", got)
	}
}

func TestLoginRejectionsAreIndistinguishable(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.RateLimit.MaxLoginAttempts = 0 })
	ctx := context.Background()
	h.addUser(t, "alice", true)

	_, errUnknown := h.engine.Login(ctx, "mallory", testPassword)
	_, errWrong := h.engine.Login(ctx, "alice", "wrong-password-123")
	_, errEmpty := h.engine.Login(ctx, "alice", "")
	for _, err := range []error{errUnknown, errWrong, errEmpty} {
		if !errors.Is(err, ErrInvalidCredentials) || err.Error() != ErrInvalidCredentials.Error() {
			t.Fatalf("expected bare ErrInvalidCredentials, got %v", err)
		}
	}

	rows := h.repo.Activity()
	if len(rows) != 3 {
		t.Fatalf("every attempt must be logged, got %d rows", len(rows))
	}
	if rows[0].UserID != "" || rows[0].Action != credential.ActionLoginFailed {
		t.Fatalf("unknown identifier row: %+v", rows[0])
	}
}

func TestLoginAccountStatus(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.addUser(t, "pending", false)
	off := h.addUser(t, "retired", true)
	if err := h.engine.SetAccountActive(ctx, off.ID, false); err != nil {
		t.Fatal(err)
	}

	if _, err := h.engine.Login(ctx, "pending", testPassword); !errors.Is(err, ErrAccountUnverified) {
		t.Fatalf("expected ErrAccountUnverified, got %v", err)
	}
	if _, err := h.engine.Login(ctx, "retired", testPassword); !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}
	if StatusCode(ErrAccountInactive) != 403 || StatusCode(ErrAccountUnverified) != 403 {
		t.Fatal("account status errors must map to 403")
	}
}

func TestLoginUnverifiedAllowedWhenPolicyOff(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Login.RequireVerified = false })
	h.addUser(t, "pending", false)
	h.login(t, "pending")
}

func TestLoginIdentifierCaseInsensitive(t *testing.T) {
	h := newHarness(t, nil)
	alice := h.addUser(t, "alice", true)

	for _, id := range []string{"ALICE", " alice ", "Alice@Example.com"} {
		if pair := h.login(t, id); pair.UserID != alice.ID {
			t.Fatalf("%q resolved to %s", id, pair.UserID)
		}
	}
}

func TestLoginRateLimited(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.RateLimit.MaxLoginAttempts = 2 })
	ctx := context.Background()
	h.addUser(t, "alice", true)

	for i := 0; i < 2; i++ {
		if _, err := h.engine.Login(ctx, "alice", "wrong-password-123"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	_, err := h.engine.Login(ctx, "alice", testPassword)
	if !errors.Is(err, ErrLoginRateLimited) || StatusCode(err) != 429 {
		t.Fatalf("expected ErrLoginRateLimited, got %v", err)
	}

	h.redis.FastForward(16 * time.Minute)
	h.login(t, "alice")
}

func TestLoginActivityWriteFailureIssuesNothing(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	alice := h.addUser(t, "alice", true)

	h.repo.failActivity.Store(true)
	_, err := h.engine.Login(ctx, "alice", testPassword)
	if !errors.Is(err, ErrStorageUnavailable) || !Retryable(err) {
		t.Fatalf("expected retryable ErrStorageUnavailable, got %v", err)
	}
	if n, _ := h.engine.ActiveSessions(ctx, alice.ID); n != 0 {
		t.Fatalf("no token may be issued without an activity row, got %d", n)
	}

	// Rejections still report the rejection.
	if _, err := h.engine.Login(ctx, "alice", "wrong-password-123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if got := h.engine.MetricsSnapshot().Counters[MetricActivityWriteFailure]; got != 2 {
		t.Fatalf("expected 2 activity failures, got %d", got)
	}
}

func TestLoginUpgradesLegacyHash(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	legacy, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.repo.CreateUser(ctx, credential.User{
		ID: "legacy-1", Username: "legacy", Email: "legacy@example.com",
		PasswordHash: string(legacy), Active: true, Verified: true,
	}); err != nil {
		t.Fatal(err)
	}

	h.login(t, "legacy")
	u, _ := h.repo.UserByID(ctx, "legacy-1")
	if !strings.HasPrefix(u.PasswordHash, "$argon2id$") {
		t.Fatalf("hash not upgraded: %q", u.PasswordHash)
	}
	h.login(t, "legacy")
	if got := h.engine.MetricsSnapshot().Counters[MetricPasswordHashUpgraded]; got != 1 {
		t.Fatalf("expected one upgrade, got %d", got)
	}
}

func TestAuthorizeHostScenario(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	alice := h.addUser(t, "alice", true)
	h.grant(t, alice.ID, "host", "property:edit")

	pair := h.login(t, "alice")
	uid, err := h.engine.Authorize(ctx, pair.AccessToken, "property:edit")
	if err != nil || uid != alice.ID {
		t.Fatalf("expected alice allowed, got %q %v", uid, err)
	}
	_, err = h.engine.Authorize(ctx, pair.AccessToken, "payment:refund")
	if !errors.Is(err, ErrPermissionDenied) || StatusCode(err) != 403 {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestAuthorizeSeesEdgeChanges(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	alice := h.addUser(t, "alice", true)
	h.grant(t, alice.ID, "host", "property:edit")
	pair := h.login(t, "alice")

	if _, err := h.engine.Authorize(ctx, pair.AccessToken, "property:edit"); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	if err := h.graph.RevokePermission(ctx, "host", "property:edit"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.Authorize(ctx, pair.AccessToken, "property:edit"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("revoked permission still allowed: %v", err)
	}

	h.grant(t, alice.ID, "cleaner", "property:inspect")
	if _, err := h.engine.Authorize(ctx, pair.AccessToken, "property:inspect"); err != nil {
		t.Fatalf("new grant not visible: %v", err)
	}
}

func TestAuthorizeDefaultSeesDeactivationImmediately(t *testing.T) {
	if DefaultConfig().Authorize.UseTokenSnapshot {
		t.Fatal("token snapshot must be off by default")
	}
	h := newHarness(t, nil)
	ctx := context.Background()
	alice := h.addUser(t, "alice", true)
	h.grant(t, alice.ID, "host", "property:edit")
	pair := h.login(t, "alice")

	if err := h.engine.SetAccountActive(ctx, alice.ID, false); err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.Authorize(ctx, pair.AccessToken, "property:edit"); err == nil {
		t.Fatal("deactivated account still authorized with a live access token")
	}
}

func TestAuthorizeSnapshotLagsRevocation(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Authorize.UseTokenSnapshot = true })
	ctx := context.Background()
	alice := h.addUser(t, "alice", true)
	h.grant(t, alice.ID, "host", "property:edit")
	pair := h.login(t, "alice")

	if err := h.graph.RevokeRole(ctx, alice.ID, "host"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.Authorize(ctx, pair.AccessToken, "property:edit"); err != nil {
		t.Fatalf("snapshot grants until expiry: %v", err)
	}
	next, err := h.engine.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := h.engine.Authorize(ctx, next.AccessToken, "property:edit"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("refreshed token must carry the new snapshot, got %v", err)
	}
}

func TestAuthorizeSnapshotFallsBackToLiveGraph(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Authorize.UseTokenSnapshot = true })
	ctx := context.Background()
	alice := h.addUser(t, "alice", true)
	h.grant(t, alice.ID, "host", "property:edit")
	pair := h.login(t, "alice")

	h.grant(t, alice.ID, "host", "booking:cancel")
	if _, err := h.engine.Authorize(ctx, pair.AccessToken, "booking:cancel"); err != nil {
		t.Fatalf("grant after issue must be visible through the live graph: %v", err)
	}
}

func TestAuthorizeHighPrivilegeIgnoresSnapshot(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Authorize.UseTokenSnapshot = true
		c.Authorize.HighPrivilege = []string{"payment:refund"}
	})
	ctx := context.Background()
	bob := h.addUser(t, "bob", true)
	h.grant(t, bob.ID, "finance", "payment:refund")
	pair := h.login(t, "bob")

	if _, err := h.engine.Authorize(ctx, pair.AccessToken, "payment:refund"); err != nil {
		t.Fatalf("allowed before revoke: %v", err)
	}
	if err := h.graph.RevokeRole(ctx, bob.ID, "finance"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.Authorize(ctx, pair.AccessToken, "payment:refund"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("snapshot must not grant high-privilege permissions: %v", err)
	}

	h.grant(t, bob.ID, "finance")
	if err := h.repo.SetActive(ctx, bob.ID, false, h.clock.Now()); err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.Authorize(ctx, pair.AccessToken, "payment:refund"); !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}
}

func TestAuthorizeTokenRejections(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	alice := h.addUser(t, "alice", true)
	h.grant(t, alice.ID, "host", "property:edit")
	pair := h.login(t, "alice")

	parts := strings.Split(pair.AccessToken, ".")
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	forged := parts[0] + "." + parts[1] + "." + string(sig)

	cases := []struct {
		name  string
		token string
		perm  string
		want  error
	}{
		{"garbage", "garbage", "property:edit", ErrTokenMalformed},
		{"forged", forged, "property:edit", ErrTokenSignatureInvalid},
		{"empty permission", pair.AccessToken, "", ErrInvalidRequest},
	}
	for _, tc := range cases {
		if _, err := h.engine.Authorize(ctx, tc.token, tc.perm); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	h.clock.Advance(16 * time.Minute)
	if _, err := h.engine.Authorize(ctx, pair.AccessToken, "property:edit"); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if _, err := h.engine.Authorize(ctx, forged, "property:edit"); !errors.Is(err, ErrTokenSignatureInvalid) {
		t.Fatalf("signature is checked before expiry, got %v", err)
	}
}

func TestLogoutIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.addUser(t, "alice", true)
	pair := h.login(t, "alice")

	if err := h.engine.Logout(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := h.engine.Logout(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("second logout must succeed: %v", err)
	}
	if _, err := h.engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenRevokedOrRotated) {
		t.Fatalf("logged-out token refreshed: %v", err)
	}
	if err := h.engine.Logout(ctx, "%%%"); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected ErrTokenMalformed, got %v", err)
	}
}

func TestLogoutEverywhereTwice(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	alice := h.addUser(t, "alice", true)
	h.login(t, "alice")
	h.login(t, "alice")

	for i := 0; i < 2; i++ {
		if err := h.engine.LogoutEverywhere(ctx, alice.ID); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if n, _ := h.engine.ActiveSessions(ctx, alice.ID); n != 0 {
			t.Fatalf("call %d left %d sessions", i, n)
		}
	}
	if err := h.engine.LogoutEverywhere(ctx, ""); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestMaxActiveSessionsEvictsOldest(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Refresh.MaxActivePerUser = 2 })
	ctx := context.Background()
	alice := h.addUser(t, "alice", true)

	first := h.login(t, "alice")
	h.clock.Advance(time.Second)
	h.login(t, "alice")
	h.clock.Advance(time.Second)
	h.login(t, "alice")

	if n, _ := h.engine.ActiveSessions(ctx, alice.ID); n != 2 {
		t.Fatalf("expected 2 sessions, got %d", n)
	}
	if _, err := h.engine.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrTokenRevokedOrRotated) {
		t.Fatalf("oldest session must be evicted, got %v", err)
	}
}

func TestPurgeExpiredTokens(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Refresh.Retention = time.Hour })
	ctx := context.Background()
	h.addUser(t, "alice", true)
	pair := h.login(t, "alice")
	if err := h.engine.Logout(ctx, pair.RefreshToken); err != nil {
		t.Fatal(err)
	}

	if n, err := h.engine.PurgeExpiredTokens(ctx); err != nil || n != 0 {
		t.Fatalf("fresh tombstone purged: %d %v", n, err)
	}
	h.clock.Advance(2 * time.Hour)
	if n, err := h.engine.PurgeExpiredTokens(ctx); err != nil || n != 1 {
		t.Fatalf("expected 1 purged, got %d %v", n, err)
	}
}

func TestConcurrentLoginsDistinctUsers(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Password.UpgradeOnLogin = false })
	ctx := context.Background()

	// bcrypt at MinCost keeps a thousand verifications fast.
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	const n = 1000
	names := make([]string, n)
	for i := range names {
		names[i] = "user-" + strconv.Itoa(i)
		if err := h.repo.CreateUser(ctx, credential.User{
			ID: "id-" + strconv.Itoa(i), Username: names[i], Email: names[i] + "@example.com",
			PasswordHash: string(hash), Active: true, Verified: true,
		}); err != nil {
			t.Fatal(err)
		}
	}

	pairs := make([]*TokenPair, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			pairs[i], errs[i] = h.engine.Login(ctx, names[i], testPassword)
		}(i)
	}
	wg.Wait()

	seen := make(map[string]struct{}, n)
	for i, p := range pairs {
		if errs[i] != nil {
			t.Fatalf("login %d: %v", i, errs[i])
		}
		if p.UserID != "id-"+strconv.Itoa(i) {
			t.Fatalf("login %d got user %s", i, p.UserID)
		}
		if _, dup := seen[p.RefreshToken]; dup {
			t.Fatalf("duplicate refresh token at %d", i)
		}
		seen[p.RefreshToken] = struct{}{}

		secret, err := internal.DecodeRefreshToken(p.RefreshToken)
		if err != nil {
			t.Fatal(err)
		}
		rec, err := h.tokens.Lookup(ctx, secret.Hash())
		if err != nil || rec.UserID != p.UserID {
			t.Fatalf("row for login %d missing or cross-linked: %+v", i, rec)
		}
		if c, _ := h.engine.ActiveSessions(ctx, p.UserID); c != 1 {
			t.Fatalf("user %s has %d rows", p.UserID, c)
		}
	}
}

func TestAuditEventsCarryNoSecrets(t *testing.T) {
	sink := NewChannelSink(64)
	h := newHarnessWithSink(t, func(c *Config) { c.Audit.Enabled = true }, sink)
	ctx := WithClientIP(WithUserAgent(context.Background(), "test-agent"), "203.0.113.7")
	h.addUser(t, "alice", true)

	if _, err := h.engine.Login(ctx, "alice", "wrong-password-123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatal(err)
	}
	pair, err := h.engine.Login(ctx, "alice", testPassword)
	if err != nil {
		t.Fatal(err)
	}

	var got []AuditEvent
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case ev := <-sink.Events():
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("only %d events delivered", len(got))
		}
	}
	if got[0].Type != auditEventLoginFailure || got[0].Error != string(auditErrInvalidCredentials) {
		t.Fatalf("unexpected failure event: %+v", got[0])
	}
	if got[1].Type != auditEventLoginSuccess || !got[1].Success || got[1].IP != "203.0.113.7" || got[1].UserAgent != "test-agent" {
		t.Fatalf("unexpected success event: %+v", got[1])
	}
	for _, ev := range got {
		for _, v := range ev.Metadata {
			if v == testPassword || v == "wrong-password-123" || v == pair.RefreshToken {
				t.Fatalf("secret leaked into audit metadata: %+v", ev)
			}
		}
	}

	rows := h.repo.Activity()
	if last := rows[len(rows)-1]; last.IP != "203.0.113.7" || last.Action != credential.ActionLogin {
		t.Fatalf("activity row missing request context: %+v", last)
	}
}

func TestAuthorizeRejectionIsAudited(t *testing.T) {
	sink := NewChannelSink(64)
	h := newHarnessWithSink(t, func(c *Config) { c.Audit.Enabled = true }, sink)
	ctx := context.Background()
	alice := h.addUser(t, "alice", true)
	h.grant(t, alice.ID, "host", "property:edit")
	pair := h.login(t, "alice")

	if _, err := h.engine.Authorize(ctx, "garbage", "property:edit"); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected ErrTokenMalformed, got %v", err)
	}
	h.clock.Advance(16 * time.Minute)
	if _, err := h.engine.Authorize(ctx, pair.AccessToken, "property:edit"); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}

	var rejected []AuditEvent
	timeout := time.After(2 * time.Second)
	for len(rejected) < 2 {
		select {
		case ev := <-sink.Events():
			if ev.Type == auditEventAuthorizeRejected {
				rejected = append(rejected, ev)
			}
		case <-timeout:
			t.Fatalf("only %d rejection events delivered", len(rejected))
		}
	}
	want := []AuditErrorCode{auditErrTokenInvalid, auditErrTokenExpired}
	for i, ev := range rejected {
		if ev.Success || ev.Error != string(want[i]) || ev.Metadata["permission"] != "property:edit" {
			t.Fatalf("event %d: unexpected %+v", i, ev)
		}
	}
}

func TestBuildRequiresCollaborators(t *testing.T) {
	cfg := testConfig(t)
	if _, err := New().WithConfig(cfg).Build(); err == nil {
		t.Fatal("expected error without redis")
	}
	bad := cfg
	bad.OTP.Secret = "short"
	if _, err := New().WithConfig(bad).Build(); err == nil {
		t.Fatal("expected validation error")
	}

	var nilEngine *Engine
	if _, err := nilEngine.Login(context.Background(), "a", "b"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
}

func TestSecurityReportReflectsConfig(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Refresh.MaxActivePerUser = 3
		c.Login.LockoutEnabled = true
		c.Authorize.HighPrivilege = []string{"user:deactivate"}
	})
	r := h.engine.SecurityReport()
	if r.SigningAlgorithm != "EdDSA" || r.AccessTTL != 15*time.Minute || r.RefreshTTL != 14*24*time.Hour {
		t.Fatalf("unexpected token settings %+v", r)
	}
	if !r.SessionCapActive || r.MaxActiveSessions != 3 || !r.LockoutActive || r.HighPrivilegeCount != 1 {
		t.Fatalf("unexpected posture %+v", r)
	}
	if !r.ReuseRevokesAllSessions || !r.EmailVerificationActive || r.Argon2.Memory != 8*1024 {
		t.Fatalf("defaults not carried %+v", r)
	}
	var nilEngine *Engine
	if nilEngine.SecurityReport() != (SecurityReport{}) {
		t.Fatal("nil engine must report zero value")
	}
}
