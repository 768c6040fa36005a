// Command rentauth-loadtest drives concurrent logins, authorizations and
// refresh rotations through a fully wired Engine and reports latency
// percentiles. It also checks that every login produced exactly one live
// refresh token and that no token value was ever issued twice.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"flag"
	"fmt"
	"io"
	"log/slog"
	mrand "math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/MrEthical07/rentauth"
	"github.com/MrEthical07/rentauth/credential"
	"github.com/MrEthical07/rentauth/permission"
	"github.com/MrEthical07/rentauth/token"
)

const (
	loadPassword   = "load-test-passw0rd"
	loadPermission = "listing:create"
)

type userState struct {
	id   string
	name string
	mu   sync.Mutex
	pair *rentauth.TokenPair
}

func main() {
	var (
		users       = flag.Int("users", 2000, "number of accounts to seed and log in")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		ops         = flag.Int("ops", 20000, "operations per phase (authorize, refresh)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		storeKind   = flag.String("tokens", "memory", "refresh token store: memory or redis")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
		os.Exit(2)
	}
	if *storeKind != "memory" && *storeKind != "redis" {
		fmt.Fprintln(os.Stderr, "tokens must be memory or redis")
		os.Exit(2)
	}

	ctx := context.Background()
	client, cleanup, err := connectRedis(*redisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	engine, repo, err := buildEngine(client, *storeKind)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	fmt.Printf("seeding %d users...\n", *users)
	startSeed := time.Now()
	states, err := seed(ctx, engine, repo, *users)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	seen := newTokenSet()
	loginStats := runLoginPhase(ctx, engine, states, *concurrency, seen)
	if err := checkOneRowPerLogin(ctx, engine, states); err != nil {
		fmt.Fprintf(os.Stderr, "invariant violated: %v\n", err)
		os.Exit(1)
	}
	authorizeStats := runAuthorizePhase(ctx, engine, states, *ops, *concurrency)
	refreshStats := runRefreshPhase(ctx, engine, states, *ops, *concurrency, seen)
	if dup := seen.duplicates.Load(); dup > 0 {
		fmt.Fprintf(os.Stderr, "invariant violated: %d duplicate refresh tokens\n", dup)
		os.Exit(1)
	}

	fmt.Println("---- results ----")
	printStats("login", loginStats)
	printStats("authorize", authorizeStats)
	printStats("refresh", refreshStats)
	snap := engine.MetricsSnapshot()
	fmt.Printf("counters: %v\n", snap.Counters)
}

func connectRedis(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}
	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

func buildEngine(client redis.UniversalClient, storeKind string) (*rentauth.Engine, *credential.MemoryRepository, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	cfg := rentauth.DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	cfg.OTP.Secret = strings.Repeat("L", 32)
	cfg.Password.UpgradeOnLogin = false
	cfg.Metrics.Enabled = true

	repo := credential.NewMemoryRepository()
	graph := permission.NewGraph(permission.NewMemoryStore(repo))
	b := rentauth.New().
		WithConfig(cfg).
		WithRedis(client).
		WithCredentialRepository(repo).
		WithRBAC(graph).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if storeKind == "memory" {
		b = b.WithTokenStore(token.NewMemoryStore())
	}
	engine, err := b.Build()
	if err != nil {
		return nil, nil, err
	}
	return engine, repo, nil
}

// seed inserts verified accounts straight into the repository with a
// MinCost bcrypt hash, so the login phase measures the engine rather than
// the password KDF.
func seed(ctx context.Context, engine *rentauth.Engine, repo *credential.MemoryRepository, n int) ([]*userState, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(loadPassword), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}
	graph := engine.RBAC()
	if _, err := graph.CreateRole(ctx, "host", "lists properties"); err != nil {
		return nil, err
	}
	if _, err := graph.CreatePermission(ctx, loadPermission, ""); err != nil {
		return nil, err
	}
	if err := graph.GrantPermission(ctx, "host", loadPermission); err != nil {
		return nil, err
	}

	states := make([]*userState, n)
	now := time.Now()
	for i := range states {
		s := &userState{id: "load-" + strconv.Itoa(i), name: "load" + strconv.Itoa(i)}
		if err := repo.CreateUser(ctx, credential.User{
			ID:           s.id,
			Username:     s.name,
			Email:        s.name + "@load.test",
			PasswordHash: string(hash),
			Active:       true,
			Verified:     true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}); err != nil {
			return nil, err
		}
		if err := graph.AssignRole(ctx, s.id, "host"); err != nil {
			return nil, err
		}
		states[i] = s
	}
	return states, nil
}

type tokenSet struct {
	mu         sync.Mutex
	values     map[string]struct{}
	duplicates atomic.Int64
}

func newTokenSet() *tokenSet { return &tokenSet{values: make(map[string]struct{})} }

func (s *tokenSet) add(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.values[v]; dup {
		s.duplicates.Add(1)
		return
	}
	s.values[v] = struct{}{}
}

type recorder struct {
	mu        sync.Mutex
	latencies []time.Duration
	failures  atomic.Int64
}

func (r *recorder) observe(d time.Duration, err error) {
	if err != nil {
		r.failures.Add(1)
	}
	r.mu.Lock()
	r.latencies = append(r.latencies, d)
	r.mu.Unlock()
}

// run spreads ops calls of fn over concurrency workers.
func run(ops, concurrency int, fn func(r *mrand.Rand, i int) error) phaseStats {
	var (
		wg     sync.WaitGroup
		cursor atomic.Int64
		rec    = &recorder{latencies: make([]time.Duration, 0, ops)}
	)
	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := mrand.New(mrand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(cursor.Add(1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := fn(r, i)
				rec.observe(time.Since(t0), err)
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), rec.latencies, rec.failures.Load())
}

func runLoginPhase(ctx context.Context, engine *rentauth.Engine, states []*userState, concurrency int, seen *tokenSet) phaseStats {
	return run(len(states), concurrency, func(_ *mrand.Rand, i int) error {
		s := states[i]
		pair, err := engine.Login(ctx, s.name, loadPassword)
		if err != nil {
			return err
		}
		if pair.UserID != s.id {
			return fmt.Errorf("login for %s returned user %s", s.id, pair.UserID)
		}
		seen.add(pair.RefreshToken)
		s.mu.Lock()
		s.pair = pair
		s.mu.Unlock()
		return nil
	})
}

func checkOneRowPerLogin(ctx context.Context, engine *rentauth.Engine, states []*userState) error {
	for _, s := range states {
		if s.pair == nil {
			return fmt.Errorf("user %s has no token pair", s.id)
		}
		n, err := engine.ActiveSessions(ctx, s.id)
		if err != nil {
			return err
		}
		if n != 1 {
			return fmt.Errorf("user %s has %d active refresh tokens after one login", s.id, n)
		}
	}
	return nil
}

func runAuthorizePhase(ctx context.Context, engine *rentauth.Engine, states []*userState, ops, concurrency int) phaseStats {
	return run(ops, concurrency, func(r *mrand.Rand, _ int) error {
		s := states[r.Intn(len(states))]
		s.mu.Lock()
		access := s.pair.AccessToken
		s.mu.Unlock()
		_, err := engine.Authorize(ctx, access, loadPermission)
		return err
	})
}

func runRefreshPhase(ctx context.Context, engine *rentauth.Engine, states []*userState, ops, concurrency int, seen *tokenSet) phaseStats {
	return run(ops, concurrency, func(r *mrand.Rand, _ int) error {
		s := states[r.Intn(len(states))]
		s.mu.Lock()
		defer s.mu.Unlock()
		pair, err := engine.Refresh(ctx, s.pair.RefreshToken)
		if err != nil {
			return err
		}
		seen.add(pair.RefreshToken)
		s.pair = pair
		return nil
	})
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
