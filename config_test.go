package rentauth

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/rentauth/jwt"
)

func TestEnvDefaultsMatchDefaultConfig(t *testing.T) {
	cfg, err := loadConfig(map[string]string{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Fatalf("env defaults drifted from DefaultConfig:\n env: %+v\n def: %+v", cfg, DefaultConfig())
	}
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	cfg, err := loadConfig(map[string]string{
		"RENTAUTH_JWT_ACCESS_TTL_MINUTES":      "5",
		"RENTAUTH_REFRESH_TTL_DAYS":            "30",
		"RENTAUTH_REFRESH_REVOKE_ALL_ON_REUSE": "false",
		"RENTAUTH_OTP_DIGITS":                  "8",
		"RENTAUTH_OTP_TTL":                     "2m",
		"RENTAUTH_PASSWORD_ARGON2_MEMORY_KB":   "16384",
		"RENTAUTH_LOGIN_REQUIRE_OTP":           "true",
		"RENTAUTH_AUTHORIZE_HIGH_PRIVILEGE":    "payment:refund,user:delete",
		"RENTAUTH_ACCOUNT_DEFAULT_ROLE":        "guest",
		"RENTAUTH_METRICS_ENABLED":             "true",
		"UNRELATED_ACCESS_TTL_MINUTES":         "99",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.JWT.AccessTTL() != 5*time.Minute || cfg.Refresh.TTL() != 30*24*time.Hour {
		t.Fatalf("ttl not read: %+v %+v", cfg.JWT, cfg.Refresh)
	}
	if cfg.Refresh.RevokeAllOnReuse || !cfg.Login.RequireOTP || !cfg.Metrics.Enabled {
		t.Fatal("booleans not read")
	}
	if cfg.OTP.Digits != 8 || cfg.OTP.TTL != 2*time.Minute || cfg.Password.Argon2.Memory != 16384 {
		t.Fatalf("nested values not read: %+v %+v", cfg.OTP, cfg.Password)
	}
	if !reflect.DeepEqual(cfg.Authorize.HighPrivilege, []string{"payment:refund", "user:delete"}) {
		t.Fatalf("high privilege list: %v", cfg.Authorize.HighPrivilege)
	}
	if cfg.Account.DefaultRole != "guest" {
		t.Fatalf("default role: %q", cfg.Account.DefaultRole)
	}
}

func TestLoadConfigBadValue(t *testing.T) {
	if _, err := loadConfig(map[string]string{"RENTAUTH_OTP_TTL": "soon"}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadConfigReadsKeyFiles(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	privPath := filepath.Join(dir, "jwt.key")
	pubPath := filepath.Join(dir, "jwt.pub")
	if err := os.WriteFile(privPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(pubPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(map[string]string{
		"RENTAUTH_JWT_PRIVATE_KEY_PATH":       privPath,
		"RENTAUTH_JWT_PUBLIC_KEY_PATH":        pubPath,
		"RENTAUTH_JWT_PRIVATE_KEY_PASSPHRASE": "unused",
		"RENTAUTH_OTP_SECRET":                 strings.Repeat("s", 32),
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.JWT.PrivateKey == nil || cfg.JWT.PublicKey == nil {
		t.Fatal("keys not loaded")
	}
	if cfg.JWT.PrivateKeyPassphrase != "" {
		t.Fatal("passphrase must be cleared after loading")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("loaded config must validate: %v", err)
	}

	if _, err := loadConfig(map[string]string{"RENTAUTH_JWT_PRIVATE_KEY_PATH": filepath.Join(dir, "missing")}); err == nil {
		t.Fatal("expected error for missing key file")
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no private key", func(c *Config) { c.JWT.PrivateKey = nil }},
		{"symmetric algorithm", func(c *Config) { c.JWT.Algorithm = jwt.Algorithm("HS256") }},
		{"zero access ttl", func(c *Config) { c.JWT.AccessTTLMinutes = 0 }},
		{"refresh not longer than access", func(c *Config) { c.JWT.AccessTTLMinutes = 60 * 24; c.Refresh.TTLDays = 1 }},
		{"short otp secret", func(c *Config) { c.OTP.Secret = "tiny" }},
		{"weak argon2", func(c *Config) { c.Password.Argon2.Memory = 1024 }},
		{"lockout without threshold", func(c *Config) { c.Login.LockoutEnabled = true; c.Login.LockoutThreshold = 0 }},
		{"negative session cap", func(c *Config) { c.Refresh.MaxActivePerUser = -1 }},
		{"empty high privilege", func(c *Config) { c.Authorize.HighPrivilege = []string{""} }},
		{"audit without buffer", func(c *Config) { c.Audit.Enabled = true; c.Audit.BufferSize = 0 }},
	}
	for _, tc := range cases {
		cfg := testConfig(t)
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}

	cfg := testConfig(t)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config must validate: %v", err)
	}
}

func TestWithConfigCopiesSlices(t *testing.T) {
	cfg := testConfig(t)
	cfg.Authorize.HighPrivilege = []string{"payment:refund"}
	b := New().WithConfig(cfg)
	cfg.Authorize.HighPrivilege[0] = "mutated"
	if b.config.Authorize.HighPrivilege[0] != "payment:refund" {
		t.Fatal("builder must not alias caller slices")
	}
}
