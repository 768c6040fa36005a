package rentauth

import (
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/rentauth/credential"
	"github.com/MrEthical07/rentauth/internal/audit"
	"github.com/MrEthical07/rentauth/internal/limiters"
	"github.com/MrEthical07/rentauth/internal/rate"
	"github.com/MrEthical07/rentauth/jwt"
	"github.com/MrEthical07/rentauth/otp"
	"github.com/MrEthical07/rentauth/password"
	"github.com/MrEthical07/rentauth/permission"
	"github.com/MrEthical07/rentauth/session"
	"github.com/MrEthical07/rentauth/token"
	"github.com/redis/go-redis/v9"
)

// Builder collects the engine's collaborators. A Builder builds once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	credentials credential.Repository
	graph       *permission.Graph
	rbacStore   permission.Store
	tokenStore  token.Store

	notifier  Notifier
	logger    *slog.Logger
	auditSink AuditSink
	now       func() time.Time

	built bool
}

// New starts a Builder from DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client for OTP replay markers, throttling counters and,
// unless WithTokenStore is used, refresh tokens.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithCredentialRepository(repo credential.Repository) *Builder {
	b.credentials = repo
	return b
}

// WithRBAC injects a ready graph. It takes precedence over WithRBACStore.
func (b *Builder) WithRBAC(graph *permission.Graph) *Builder {
	b.graph = graph
	return b
}

// WithRBACStore builds a graph over store with Config.RBAC.CacheSize.
func (b *Builder) WithRBACStore(store permission.Store) *Builder {
	b.rbacStore = store
	return b
}

// WithTokenStore overrides the Redis-backed refresh token store.
func (b *Builder) WithTokenStore(store token.Store) *Builder {
	b.tokenStore = store
	return b
}

func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets where audit events go when Config.Audit.Enabled.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock replaces time.Now in every component. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.credentials == nil {
		return nil, errors.New("credential repository required")
	}
	if b.graph == nil && b.rbacStore == nil {
		return nil, errors.New("RBAC graph or store required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := b.notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}

	// -------- CREDENTIALS --------
	hasher, err := password.New(cfg.Password.Argon2)
	if err != nil {
		return nil, err
	}
	credentials, err := credential.NewStore(b.credentials, hasher, credential.WithClock(now))
	if err != nil {
		return nil, err
	}

	// -------- RBAC --------
	graph := b.graph
	if graph == nil {
		graph = permission.NewGraph(b.rbacStore, permission.WithCacheSize(cfg.RBAC.CacheSize))
	}

	// -------- TOKENS --------
	jm, err := jwt.NewManager(jwt.Config{
		Algorithm:  cfg.JWT.Algorithm,
		AccessTTL:  cfg.JWT.AccessTTL(),
		PrivateKey: cfg.JWT.PrivateKey,
		PublicKey:  cfg.JWT.PublicKey,
		Issuer:     cfg.JWT.Issuer,
		Audience:   cfg.JWT.Audience,
		Leeway:     cfg.JWT.Leeway,
		KeyID:      cfg.JWT.KeyID,
		Now:        now,
	})
	if err != nil {
		return nil, err
	}
	store := b.tokenStore
	if store == nil {
		store = session.NewStore(b.redis, session.Config{
			Prefix:    cfg.Refresh.RedisPrefix,
			Retention: cfg.Refresh.Retention,
		})
	}

	engine := &Engine{
		config:      cfg,
		logger:      logger,
		now:         now,
		credentials: credentials,
		rbac:        graph,
		notifier:    notifier,
	}

	tokens, err := token.NewService(token.Config{
		RefreshTTL:       cfg.Refresh.TTL(),
		RevokeAllOnReuse: cfg.Refresh.RevokeAllOnReuse,
		MaxActivePerUser: cfg.Refresh.MaxActivePerUser,
		RefreshSubject:   engine.refreshSubject,
		Now:              now,
	}, jm, store, engine.subject)
	if err != nil {
		return nil, err
	}
	engine.tokens = tokens

	// -------- OTP --------
	verifier, err := otp.New(otp.Config{
		Secret:        []byte(cfg.OTP.Secret),
		Digits:        cfg.OTP.Digits,
		TTL:           cfg.OTP.TTL,
		Skew:          cfg.OTP.Skew,
		Lookback:      cfg.OTP.Lookback,
		Algorithm:     cfg.OTP.Algorithm,
		MaxAttempts:   cfg.OTP.MaxAttempts,
		MaxRequests:   cfg.OTP.MaxRequests,
		RequestWindow: cfg.OTP.RequestWindow,
		Now:           now,
	}, b.redis)
	if err != nil {
		return nil, err
	}
	engine.otp = verifier

	// -------- THROTTLING --------
	engine.limiter = rate.New(b.redis, rate.Config{
		EnableIPThrottle: cfg.RateLimit.EnableIPThrottle,
		MaxLoginAttempts: cfg.RateLimit.MaxLoginAttempts,
		LoginCooldown:    cfg.RateLimit.LoginCooldown,
	})
	engine.registration = limiters.NewRegistrationLimiter(b.redis, limiters.RegistrationConfig{
		EnableIdentifierThrottle: true,
		EnableIPThrottle:         cfg.RateLimit.EnableIPThrottle,
		MaxAttempts:              cfg.RateLimit.RegisterMaxAttempts,
		Cooldown:                 cfg.RateLimit.RegisterCooldown,
	})
	engine.lockout = limiters.NewLockoutLimiter(b.redis, limiters.LockoutConfig{
		Enabled:   cfg.Login.LockoutEnabled,
		Threshold: cfg.Login.LockoutThreshold,
		Window:    cfg.Login.LockoutWindow,
	})

	// -------- OBSERVABILITY --------
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	engine.highPrivilege = make(map[string]struct{}, len(cfg.Authorize.HighPrivilege))
	for _, p := range cfg.Authorize.HighPrivilege {
		engine.highPrivilege[p] = struct{}{}
	}

	report := engine.SecurityReport()
	logger.Info("rentauth engine built",
		slog.String("signing_algorithm", report.SigningAlgorithm),
		slog.Duration("access_ttl", report.AccessTTL),
		slog.Duration("refresh_ttl", report.RefreshTTL),
		slog.Bool("reuse_revokes_all", report.ReuseRevokesAllSessions),
		slog.Bool("lockout", report.LockoutActive),
		slog.Bool("token_snapshot", report.TokenSnapshotActive),
	)

	b.built = true
	return engine, nil
}
