package jwt

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"strings"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func newEdManager(t *testing.T, mutate func(*Config)) (*Manager, ed25519.PrivateKey) {
	t.Helper()
	_, priv := newEdKeys(t)
	cfg := Config{AccessTTL: 15 * time.Minute, PrivateKey: priv, Issuer: "rentauth", Audience: "api"}
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m, priv
}

func TestIssueAndVerify(t *testing.T) {
	m, _ := newEdManager(t, nil)

	token, issued, err := m.Issue("user-1", []string{"host"}, []string{"property:edit"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := m.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID() != "user-1" || claims.ID != issued.ID {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if _, err := uuid.Parse(claims.ID); err != nil {
		t.Fatalf("jti is not a uuid: %q", claims.ID)
	}
	if !claims.HasPermission("property:edit") || claims.HasPermission("payment:refund") {
		t.Fatalf("unexpected permission snapshot: %v", claims.Permissions)
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	m, _ := newEdManager(t, nil)

	now := time.Now()
	token, _, err := m.issueAt("user-1", nil, nil, now.Add(-time.Hour), time.Hour-time.Second)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(token); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestVerifyRejectionReasons(t *testing.T) {
	m, _ := newEdManager(t, nil)
	other, _ := newEdManager(t, nil)

	foreign, _, err := other.Issue("user-1", nil, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	foreignExpired, _, err := other.issueAt("user-1", nil, nil, time.Now().Add(-time.Hour), time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	hs := gjwt.NewWithClaims(gjwt.SigningMethodHS256, gjwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	hsToken, err := hs.SignedString([]byte("secret-secret-secret-secret"))
	if err != nil {
		t.Fatalf("sign hs256: %v", err)
	}

	cases := []struct {
		name  string
		token string
		want  error
	}{
		{"garbage", "not.a.jwt", ErrMalformed},
		{"empty", "", ErrMalformed},
		{"two segments", "eyJhbGciOiJFZERTQSJ9.eyJzdWIiOiJ4In0", ErrMalformed},
		{"foreign key", foreign, ErrSignatureInvalid},
		{"foreign key expired", foreignExpired, ErrSignatureInvalid},
		{"symmetric algorithm", hsToken, ErrSignatureInvalid},
		{"alg none", "eyJhbGciOiJub25lIn0.eyJzdWIiOiJ0ZXN0In0.", ErrSignatureInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := m.Verify(tc.token); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestVerifyStructuralChecks(t *testing.T) {
	m, priv := newEdManager(t, nil)
	now := time.Now()

	sign := func(c Claims) string {
		t.Helper()
		s, err := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, c).SignedString(priv)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}
	base := gjwt.RegisteredClaims{
		Issuer:    "rentauth",
		Audience:  gjwt.ClaimStrings{"api"},
		IssuedAt:  gjwt.NewNumericDate(now),
		ExpiresAt: gjwt.NewNumericDate(now.Add(time.Minute)),
	}

	noSub := base
	noSub.ID = uuid.NewString()
	if _, err := m.Verify(sign(Claims{RegisteredClaims: noSub})); !errors.Is(err, ErrMalformed) {
		t.Fatalf("missing sub: expected ErrMalformed, got %v", err)
	}

	badJTI := base
	badJTI.Subject = "user-1"
	badJTI.ID = "not-a-uuid"
	if _, err := m.Verify(sign(Claims{RegisteredClaims: badJTI})); !errors.Is(err, ErrMalformed) {
		t.Fatalf("bad jti: expected ErrMalformed, got %v", err)
	}

	noExp := base
	noExp.Subject = "user-1"
	noExp.ID = uuid.NewString()
	noExp.ExpiresAt = nil
	if _, err := m.Verify(sign(Claims{RegisteredClaims: noExp})); !errors.Is(err, ErrMalformed) {
		t.Fatalf("missing exp: expected ErrMalformed, got %v", err)
	}

	wrongIssuer := base
	wrongIssuer.Subject = "user-1"
	wrongIssuer.ID = uuid.NewString()
	wrongIssuer.Issuer = "other"
	if _, err := m.Verify(sign(Claims{RegisteredClaims: wrongIssuer})); !errors.Is(err, ErrMalformed) {
		t.Fatalf("wrong issuer: expected ErrMalformed, got %v", err)
	}
}

func TestVerifyLeewayNeverExtendsExpiry(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	for _, leeway := range []time.Duration{0, 30 * time.Second, 2 * time.Minute} {
		m, _ := newEdManager(t, func(c *Config) {
			c.Leeway = leeway
			c.Now = func() time.Time { return now }
		})

		cases := []struct {
			name     string
			issuedAt time.Time
			ttl      time.Duration
			want     error
		}{
			{"one second past exp", now.Add(-61 * time.Second), time.Minute, ErrExpired},
			{"exactly at exp", now.Add(-time.Minute), time.Minute, ErrExpired},
			{"one second before exp", now.Add(-59 * time.Second), time.Minute, nil},
		}
		for _, tc := range cases {
			tok, _, err := m.issueAt("user-1", nil, nil, tc.issuedAt, tc.ttl)
			if err != nil {
				t.Fatalf("issue: %v", err)
			}
			_, err = m.Verify(tok)
			if (tc.want == nil && err != nil) || (tc.want != nil && !errors.Is(err, tc.want)) {
				t.Fatalf("leeway %s, %s: got %v, want %v", leeway, tc.name, err, tc.want)
			}
		}
	}
}

func TestVerifyLeewayCoversNotBefore(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	ahead := now.Add(20 * time.Second)

	strict, _ := newEdManager(t, func(c *Config) { c.Now = func() time.Time { return now } })
	tok, _, err := strict.issueAt("user-1", nil, nil, ahead, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := strict.Verify(tok); !errors.Is(err, ErrMalformed) {
		t.Fatalf("nbf ahead without leeway: expected ErrMalformed, got %v", err)
	}

	lenient, _ := newEdManager(t, func(c *Config) {
		c.Leeway = 30 * time.Second
		c.Now = func() time.Time { return now }
	})
	tok, _, err = lenient.issueAt("user-1", nil, nil, ahead, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := lenient.Verify(tok); err != nil {
		t.Fatalf("nbf within leeway: %v", err)
	}
}

func TestVerifyKeyRotationByKid(t *testing.T) {
	oldPub, oldPriv := newEdKeys(t)
	newPub, newPriv := newEdKeys(t)

	oldSigner, err := NewManager(Config{AccessTTL: time.Minute, PrivateKey: oldPriv, KeyID: "k1"})
	if err != nil {
		t.Fatalf("old signer: %v", err)
	}
	current, err := NewManager(Config{
		AccessTTL:  time.Minute,
		PrivateKey: newPriv,
		KeyID:      "k2",
		VerifyKeys: map[string]crypto.PublicKey{"k1": oldPub, "k2": newPub},
	})
	if err != nil {
		t.Fatalf("current manager: %v", err)
	}

	legacy, _, err := oldSigner.Issue("user-1", nil, nil)
	if err != nil {
		t.Fatalf("issue legacy: %v", err)
	}
	if _, err := current.Verify(legacy); err != nil {
		t.Fatalf("expected token signed by previous key to verify: %v", err)
	}

	fresh, _, err := current.Issue("user-1", nil, nil)
	if err != nil {
		t.Fatalf("issue fresh: %v", err)
	}
	if _, err := oldSigner.Verify(fresh); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected unknown kid to be rejected as signature failure, got %v", err)
	}
}

func TestNewManagerRejectsBadConfig(t *testing.T) {
	edPub, _ := newEdKeys(t)
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa key: %v", err)
	}

	cases := []struct {
		name string
		cfg  Config
	}{
		{"zero ttl", Config{PublicKey: edPub}},
		{"no keys", Config{AccessTTL: time.Minute}},
		{"unknown algorithm", Config{AccessTTL: time.Minute, Algorithm: "HS256", PublicKey: edPub}},
		{"key mismatch", Config{AccessTTL: time.Minute, Algorithm: AlgEdDSA, PrivateKey: rsaKey}},
		{"rsa with ed key", Config{AccessTTL: time.Minute, Algorithm: AlgRS256, PublicKey: edPub}},
		{"leeway too large", Config{AccessTTL: time.Minute, PublicKey: edPub, Leeway: time.Hour}},
		{"kid not in verify set", Config{AccessTTL: time.Minute, KeyID: "k9", VerifyKeys: map[string]crypto.PublicKey{"k1": edPub}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewManager(tc.cfg); err == nil {
				t.Fatal("expected config rejection")
			}
		})
	}
}

func TestVerifyOnlyManagerCannotIssue(t *testing.T) {
	pub, _ := newEdKeys(t)
	m, err := NewManager(Config{AccessTTL: time.Minute, PublicKey: pub})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, _, err := m.Issue("user-1", nil, nil); !errors.Is(err, ErrNoSigningKey) {
		t.Fatalf("expected ErrNoSigningKey, got %v", err)
	}
}

func pkcs8PEM(t *testing.T, key any) []byte {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal pkcs8: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

func pkixPEM(t *testing.T, key any) []byte {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		t.Fatalf("marshal pkix: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

func TestPEMKeysForEachAlgorithm(t *testing.T) {
	_, edPriv := newEdKeys(t)
	rsaPriv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa key: %v", err)
	}
	ecPriv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("ec key: %v", err)
	}

	cases := []struct {
		alg  Algorithm
		priv crypto.Signer
	}{
		{AlgEdDSA, edPriv},
		{AlgRS256, rsaPriv},
		{AlgES256, ecPriv},
	}
	for _, tc := range cases {
		t.Run(string(tc.alg), func(t *testing.T) {
			signer, err := ParsePrivateKey(tc.alg, pkcs8PEM(t, tc.priv), "")
			if err != nil {
				t.Fatalf("parse private: %v", err)
			}
			pub, err := ParsePublicKey(tc.alg, pkixPEM(t, tc.priv.Public()))
			if err != nil {
				t.Fatalf("parse public: %v", err)
			}

			issuer, err := NewManager(Config{Algorithm: tc.alg, AccessTTL: time.Minute, PrivateKey: signer})
			if err != nil {
				t.Fatalf("issuer: %v", err)
			}
			verifier, err := NewManager(Config{Algorithm: tc.alg, AccessTTL: time.Minute, PublicKey: pub})
			if err != nil {
				t.Fatalf("verifier: %v", err)
			}

			token, _, err := issuer.Issue("user-1", nil, nil)
			if err != nil {
				t.Fatalf("issue: %v", err)
			}
			if !strings.Contains(token, ".") {
				t.Fatalf("unexpected token: %q", token)
			}
			if _, err := verifier.Verify(token); err != nil {
				t.Fatalf("verify: %v", err)
			}
		})
	}
}

func TestParsePrivateKeyWithPassphrase(t *testing.T) {
	_, priv := newEdKeys(t)
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	//nolint:staticcheck
	block, err := x509.EncryptPEMBlock(rand.Reader, "PRIVATE KEY", der, []byte("correct horse"), x509.PEMCipherAES256)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	encrypted := pem.EncodeToMemory(block)

	if _, err := ParsePrivateKey(AlgEdDSA, encrypted, ""); !errors.Is(err, ErrPassphraseRequired) {
		t.Fatalf("expected ErrPassphraseRequired, got %v", err)
	}
	if _, err := ParsePrivateKey(AlgEdDSA, encrypted, "wrong horse"); err == nil {
		t.Fatal("expected wrong passphrase to fail")
	}
	signer, err := ParsePrivateKey(AlgEdDSA, encrypted, "correct horse")
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !signer.Public().(ed25519.PublicKey).Equal(priv.Public()) {
		t.Fatal("decrypted key does not match original")
	}
}
