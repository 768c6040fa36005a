package rentauth

import (
	"crypto"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/rentauth/jwt"
	"github.com/MrEthical07/rentauth/password"
)

// Config is the full engine configuration. Every field has an env tag read
// by LoadConfigFromEnv under the RENTAUTH_ prefix; DefaultConfig mirrors the
// envDefault values.
type Config struct {
	JWT       JWTConfig       `envPrefix:"JWT_"`
	Refresh   RefreshConfig   `envPrefix:"REFRESH_"`
	OTP       OTPConfig       `envPrefix:"OTP_"`
	Password  PasswordConfig  `envPrefix:"PASSWORD_"`
	Login     LoginConfig     `envPrefix:"LOGIN_"`
	RateLimit RateLimitConfig `envPrefix:"RATE_LIMIT_"`
	Authorize AuthorizeConfig `envPrefix:"AUTHORIZE_"`
	RBAC      RBACConfig      `envPrefix:"RBAC_"`
	Account   AccountConfig   `envPrefix:"ACCOUNT_"`
	Audit     AuditConfig     `envPrefix:"AUDIT_"`
	Metrics   MetricsConfig   `envPrefix:"METRICS_"`
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig selects the signing algorithm and keys. Keys are either set
// directly or loaded from the PEM paths by LoadConfigFromEnv.
type JWTConfig struct {
	Algorithm            jwt.Algorithm `env:"ALGORITHM" envDefault:"EdDSA"`
	PrivateKeyPath       string        `env:"PRIVATE_KEY_PATH"`
	PrivateKeyPassphrase string        `env:"PRIVATE_KEY_PASSPHRASE"`
	PublicKeyPath        string        `env:"PUBLIC_KEY_PATH"`
	AccessTTLMinutes     int           `env:"ACCESS_TTL_MINUTES" envDefault:"15"`
	Issuer               string        `env:"ISSUER" envDefault:"rentauth"`
	Audience             string        `env:"AUDIENCE"`
	Leeway               time.Duration `env:"LEEWAY" envDefault:"0s"`
	KeyID                string        `env:"KEY_ID"`

	// PrivateKey and PublicKey are never read from the environment.
	PrivateKey crypto.Signer
	PublicKey  crypto.PublicKey
}

func (c JWTConfig) AccessTTL() time.Duration {
	return time.Duration(c.AccessTTLMinutes) * time.Minute
}

/*
====================================
REFRESH CONFIG
====================================
*/

type RefreshConfig struct {
	TTLDays int `env:"TTL_DAYS" envDefault:"14"`
	// RevokeAllOnReuse revokes every active token of a user when one of
	// their rotated tokens is presented again.
	RevokeAllOnReuse bool `env:"REVOKE_ALL_ON_REUSE" envDefault:"true"`
	// MaxActivePerUser caps concurrent sessions; 0 is unlimited. The oldest
	// active token is revoked to make room.
	MaxActivePerUser int `env:"MAX_ACTIVE_PER_USER" envDefault:"0"`
	// Retention is how long dead rows are kept for reuse detection before
	// PurgeExpiredTokens removes them.
	Retention   time.Duration `env:"RETENTION" envDefault:"168h"`
	RedisPrefix string        `env:"REDIS_PREFIX" envDefault:"ra"`
}

func (c RefreshConfig) TTL() time.Duration {
	return time.Duration(c.TTLDays) * 24 * time.Hour
}

/*
====================================
OTP CONFIG
====================================
*/

type OTPConfig struct {
	// Secret is the master key per-user code secrets derive from. At least
	// 32 bytes.
	Secret        string        `env:"SECRET"`
	Digits        int           `env:"DIGITS" envDefault:"6"`
	TTL           time.Duration `env:"TTL" envDefault:"5m"`
	Skew          int           `env:"SKEW" envDefault:"1"`
	Lookback      int           `env:"LOOKBACK" envDefault:"2"`
	Algorithm     string        `env:"ALGORITHM" envDefault:"SHA1"`
	MaxAttempts   int           `env:"MAX_ATTEMPTS" envDefault:"5"`
	MaxRequests   int           `env:"MAX_REQUESTS" envDefault:"5"`
	RequestWindow time.Duration `env:"REQUEST_WINDOW" envDefault:"15m"`
}

/*
====================================
PASSWORD CONFIG
====================================
*/

type PasswordConfig struct {
	Argon2 password.Config `envPrefix:"ARGON2_"`
	// UpgradeOnLogin re-hashes legacy bcrypt and weaker argon2id hashes
	// after a successful login.
	UpgradeOnLogin bool `env:"UPGRADE_ON_LOGIN" envDefault:"true"`
}

/*
====================================
LOGIN CONFIG
====================================
*/

type LoginConfig struct {
	RequireVerified bool `env:"REQUIRE_VERIFIED" envDefault:"true"`
	// RequireOTP turns Login into a two-step flow completed by LoginWithOTP.
	RequireOTP bool `env:"REQUIRE_OTP" envDefault:"false"`

	// Lockout deactivates an account after LockoutThreshold wrong passwords
	// inside LockoutWindow.
	LockoutEnabled   bool          `env:"LOCKOUT_ENABLED" envDefault:"false"`
	LockoutThreshold int           `env:"LOCKOUT_THRESHOLD" envDefault:"10"`
	LockoutWindow    time.Duration `env:"LOCKOUT_WINDOW" envDefault:"1h"`
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

type RateLimitConfig struct {
	MaxLoginAttempts    int           `env:"MAX_LOGIN_ATTEMPTS" envDefault:"5"`
	LoginCooldown       time.Duration `env:"LOGIN_COOLDOWN" envDefault:"15m"`
	EnableIPThrottle    bool          `env:"ENABLE_IP_THROTTLE" envDefault:"false"`
	RegisterMaxAttempts int           `env:"REGISTER_MAX_ATTEMPTS" envDefault:"5"`
	RegisterCooldown    time.Duration `env:"REGISTER_COOLDOWN" envDefault:"1h"`
}

/*
====================================
AUTHORIZE CONFIG
====================================
*/

type AuthorizeConfig struct {
	// UseTokenSnapshot lets Authorize allow from the permissions embedded in
	// the access token without a graph lookup. Off by default: while on, a
	// revoked role or permission and a deactivated account keep passing
	// Authorize until the access token expires (JWT.AccessTTLMinutes), except
	// for permissions listed in HighPrivilege.
	UseTokenSnapshot bool `env:"USE_TOKEN_SNAPSHOT" envDefault:"false"`
	// HighPrivilege permissions are always checked against the live graph
	// and require the account to still be active.
	HighPrivilege []string `env:"HIGH_PRIVILEGE" envSeparator:","`
}

type RBACConfig struct {
	CacheSize int `env:"CACHE_SIZE" envDefault:"10000"`
}

type AccountConfig struct {
	// DefaultRole is assigned on registration when non-empty.
	DefaultRole string `env:"DEFAULT_ROLE"`
}

type AuditConfig struct {
	Enabled    bool `env:"ENABLED" envDefault:"false"`
	BufferSize int  `env:"BUFFER_SIZE" envDefault:"1024"`
	DropIfFull bool `env:"DROP_IF_FULL" envDefault:"true"`
}

type MetricsConfig struct {
	Enabled                 bool `env:"ENABLED" envDefault:"false"`
	EnableLatencyHistograms bool `env:"ENABLE_LATENCY_HISTOGRAMS" envDefault:"false"`
}

/*
====================================
DEFAULTS
====================================
*/

// DefaultConfig returns production defaults without keys or OTP secret.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			Algorithm:        jwt.AlgEdDSA,
			AccessTTLMinutes: 15,
			Issuer:           "rentauth",
		},
		Refresh: RefreshConfig{
			TTLDays:          14,
			RevokeAllOnReuse: true,
			Retention:        7 * 24 * time.Hour,
			RedisPrefix:      "ra",
		},
		OTP: OTPConfig{
			Digits:        6,
			TTL:           5 * time.Minute,
			Skew:          1,
			Lookback:      2,
			Algorithm:     "SHA1",
			MaxAttempts:   5,
			MaxRequests:   5,
			RequestWindow: 15 * time.Minute,
		},
		Password: PasswordConfig{
			Argon2: password.Config{
				Memory:           65536,
				Time:             3,
				Parallelism:      2,
				SaltLength:       16,
				KeyLength:        32,
				MaxPasswordBytes: 1024,
			},
			UpgradeOnLogin: true,
		},
		Login: LoginConfig{
			RequireVerified:  true,
			LockoutThreshold: 10,
			LockoutWindow:    time.Hour,
		},
		RateLimit: RateLimitConfig{
			MaxLoginAttempts:    5,
			LoginCooldown:       15 * time.Minute,
			RegisterMaxAttempts: 5,
			RegisterCooldown:    time.Hour,
		},
		RBAC: RBACConfig{
			CacheSize: 10000,
		},
		Audit: AuditConfig{
			BufferSize: 1024,
			DropIfFull: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Authorize.HighPrivilege = append([]string(nil), cfg.Authorize.HighPrivilege...)
	if len(out.Authorize.HighPrivilege) == 0 {
		out.Authorize.HighPrivilege = nil
	}
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks the configuration the engine is built from. Key material
// must already be loaded.
func (c *Config) Validate() error {
	// JWT
	switch c.JWT.Algorithm {
	case jwt.AlgEdDSA, jwt.AlgRS256, jwt.AlgES256:
	default:
		return fmt.Errorf("JWT Algorithm %q is not supported", c.JWT.Algorithm)
	}
	if c.JWT.AccessTTLMinutes <= 0 {
		return errors.New("JWT AccessTTLMinutes must be > 0")
	}
	if c.JWT.PrivateKey == nil {
		return errors.New("JWT PrivateKey is required")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Refresh
	if c.Refresh.TTLDays <= 0 {
		return errors.New("Refresh TTLDays must be > 0")
	}
	if c.Refresh.TTL() <= c.JWT.AccessTTL() {
		return errors.New("Refresh TTL must exceed the access token TTL")
	}
	if c.Refresh.MaxActivePerUser < 0 {
		return errors.New("Refresh MaxActivePerUser must be >= 0")
	}
	if c.Refresh.Retention < 0 {
		return errors.New("Refresh Retention must be >= 0")
	}
	if c.Refresh.RedisPrefix == "" {
		return errors.New("Refresh RedisPrefix must not be empty")
	}

	// OTP
	if len(c.OTP.Secret) < 32 {
		return errors.New("OTP Secret must be at least 32 bytes")
	}
	if c.OTP.MaxAttempts <= 0 {
		return errors.New("OTP MaxAttempts must be > 0")
	}
	if c.OTP.MaxRequests <= 0 {
		return errors.New("OTP MaxRequests must be > 0")
	}

	// Password
	if err := c.Password.Argon2.Validate(); err != nil {
		return fmt.Errorf("Password: %w", err)
	}

	// Login
	if c.Login.LockoutEnabled {
		if c.Login.LockoutThreshold <= 0 {
			return errors.New("Login LockoutThreshold must be > 0 when lockout is enabled")
		}
		if c.Login.LockoutWindow <= 0 {
			return errors.New("Login LockoutWindow must be > 0 when lockout is enabled")
		}
	}

	// Rate limits
	if c.RateLimit.MaxLoginAttempts < 0 || c.RateLimit.RegisterMaxAttempts < 0 {
		return errors.New("RateLimit attempt limits must be >= 0")
	}
	if c.RateLimit.MaxLoginAttempts > 0 && c.RateLimit.LoginCooldown <= 0 {
		return errors.New("RateLimit LoginCooldown must be > 0")
	}
	if c.RateLimit.RegisterMaxAttempts > 0 && c.RateLimit.RegisterCooldown <= 0 {
		return errors.New("RateLimit RegisterCooldown must be > 0")
	}

	// Authorize
	for _, p := range c.Authorize.HighPrivilege {
		if p == "" {
			return errors.New("Authorize HighPrivilege contains an empty permission")
		}
	}

	if c.RBAC.CacheSize < 0 {
		return errors.New("RBAC CacheSize must be >= 0")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}
	return nil
}
