package jwt

import (
	"crypto"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Algorithm names an asymmetric JWS algorithm. Shared-secret algorithms are
// deliberately absent: verifiers only ever hold public keys.
type Algorithm string

const (
	AlgEdDSA Algorithm = "EdDSA"
	AlgRS256 Algorithm = "RS256"
	AlgES256 Algorithm = "ES256"
)

var (
	// ErrMalformed reports a token that cannot be decoded or lacks required claims.
	ErrMalformed = errors.New("jwt: malformed token")
	// ErrSignatureInvalid reports a signature that does not verify under any trusted key.
	ErrSignatureInvalid = errors.New("jwt: signature invalid")
	// ErrExpired reports a correctly signed token past its expiry.
	ErrExpired = errors.New("jwt: token expired")
	// ErrUnsupportedAlgorithm reports an Algorithm outside AlgEdDSA, AlgRS256, AlgES256.
	ErrUnsupportedAlgorithm = errors.New("jwt: unsupported algorithm")
	// ErrNoSigningKey is returned by Issue on a verify-only Manager.
	ErrNoSigningKey = errors.New("jwt: manager has no signing key")
)

// Config is consumed once by NewManager.
type Config struct {
	Algorithm  Algorithm
	AccessTTL  time.Duration
	PrivateKey crypto.Signer
	PublicKey  crypto.PublicKey
	Issuer     string
	Audience   string
	// Leeway tolerates clock skew on nbf and iat. Expiry is always exact.
	Leeway time.Duration
	// KeyID is stamped into the kid header of issued tokens.
	KeyID string
	// VerifyKeys, when set, selects the verification key by kid. Used during
	// key rotation so tokens signed by the previous key keep verifying.
	VerifyKeys map[string]crypto.PublicKey
	// MaxFutureIAT rejects tokens claiming to be issued further ahead than this.
	MaxFutureIAT time.Duration
	Now          func() time.Time
}

// Claims is the access token payload. Subject carries the user ID and ID the
// token's unique jti. Roles and Permissions are a snapshot at issue time and
// are advisory only.
type Claims struct {
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"perms,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the subject claim.
func (c *Claims) UserID() string { return c.Subject }

// HasPermission reports whether the embedded snapshot grants name.
func (c *Claims) HasPermission(name string) bool {
	for _, p := range c.Permissions {
		if p == name {
			return true
		}
	}
	return false
}

// Manager signs and verifies access tokens.
type Manager struct {
	config Config
	method jwt.SigningMethod
}

// NewManager validates cfg and the key material against the algorithm.
// A nil PrivateKey yields a verify-only manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	if cfg.Algorithm == "" {
		cfg.Algorithm = AlgEdDSA
	}

	method, err := signingMethod(cfg.Algorithm)
	if err != nil {
		return nil, err
	}

	if cfg.PrivateKey != nil {
		if err := checkKeyType(cfg.Algorithm, cfg.PrivateKey.Public()); err != nil {
			return nil, err
		}
		if cfg.PublicKey == nil {
			cfg.PublicKey = cfg.PrivateKey.Public()
		}
	}
	if cfg.PublicKey == nil && len(cfg.VerifyKeys) == 0 {
		return nil, fmt.Errorf("%s requires public key or verify key set", cfg.Algorithm)
	}
	if cfg.PublicKey != nil {
		if err := checkKeyType(cfg.Algorithm, cfg.PublicKey); err != nil {
			return nil, err
		}
	}
	for kid, key := range cfg.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return nil, errors.New("verify key map contains empty kid")
		}
		if err := checkKeyType(cfg.Algorithm, key); err != nil {
			return nil, fmt.Errorf("verify key for kid %q: %w", kid, err)
		}
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}

	return &Manager{config: cfg, method: method}, nil
}

// TTL returns the configured access token lifetime.
func (m *Manager) TTL() time.Duration { return m.config.AccessTTL }

// Issue signs a fresh access token for userID.
func (m *Manager) Issue(userID string, roles, permissions []string) (string, *Claims, error) {
	if m.config.PrivateKey == nil {
		return "", nil, ErrNoSigningKey
	}
	return m.issueAt(userID, roles, permissions, m.config.Now(), m.config.AccessTTL)
}

func (m *Manager) issueAt(userID string, roles, permissions []string, now time.Time, ttl time.Duration) (string, *Claims, error) {
	if userID == "" {
		return "", nil, errors.New("jwt: empty subject")
	}
	claims := &Claims{
		Roles:       roles,
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.NewString(),
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if m.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.config.Audience}
	}

	token := jwt.NewWithClaims(m.method, claims)
	if m.config.KeyID != "" {
		token.Header["kid"] = m.config.KeyID
	}
	signed, err := token.SignedString(m.config.PrivateKey)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// Verify checks the signature, then expiry and the remaining time-based
// claims, then the claim structure. Every failure wraps exactly one of
// ErrSignatureInvalid, ErrExpired or ErrMalformed.
func (m *Manager) Verify(tokenStr string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithTimeFunc(m.config.Now),
		jwt.WithExpirationRequired(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}
	if m.config.Audience != "" {
		options = append(options, jwt.WithAudience(m.config.Audience))
	}

	claims := &Claims{}
	_, err := jwt.NewParser(options...).ParseWithClaims(tokenStr, claims, m.keyFunc)
	if err != nil {
		return nil, classify(err)
	}
	// The parser widens exp by the leeway as well.
	if !m.config.Now().Before(claims.ExpiresAt.Time) {
		return nil, fmt.Errorf("%w: %v", ErrExpired, jwt.ErrTokenExpired)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrMalformed)
	}
	if _, err := uuid.Parse(claims.ID); err != nil {
		return nil, fmt.Errorf("%w: jti is not a uuid", ErrMalformed)
	}
	if claims.IssuedAt != nil && claims.IssuedAt.After(m.config.Now().Add(m.config.MaxFutureIAT+m.config.Leeway)) {
		return nil, fmt.Errorf("%w: iat too far in the future", ErrMalformed)
	}
	return claims, nil
}

func (m *Manager) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != m.method.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	kid, _ := t.Header["kid"].(string)
	if len(m.config.VerifyKeys) > 0 {
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := m.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return key, nil
	}
	if m.config.KeyID != "" && kid != m.config.KeyID {
		return nil, errors.New("unknown kid")
	}
	return m.config.PublicKey, nil
}

// classify folds the parser's error tree onto the three rejection reasons.
// The parser only validates claims after the signature verified, so an
// expired error implies a genuine signature.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

func signingMethod(alg Algorithm) (jwt.SigningMethod, error) {
	switch alg {
	case AlgEdDSA:
		return jwt.SigningMethodEdDSA, nil
	case AlgRS256:
		return jwt.SigningMethodRS256, nil
	case AlgES256:
		return jwt.SigningMethodES256, nil
	default:
		return nil, ErrUnsupportedAlgorithm
	}
}
