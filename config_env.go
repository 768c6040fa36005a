package rentauth

import (
	"fmt"
	"os"

	"github.com/MrEthical07/rentauth/jwt"
	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every variable LoadConfigFromEnv reads.
const EnvPrefix = "RENTAUTH_"

// LoadConfigFromEnv reads RENTAUTH_* variables over the defaults and loads
// the JWT key files they name.
func LoadConfigFromEnv() (Config, error) {
	return loadConfig(env.ToMap(os.Environ()))
}

func loadConfig(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{
		Prefix:      EnvPrefix,
		Environment: environ,
	}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := loadKeys(&cfg.JWT); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadKeys(c *JWTConfig) error {
	if c.PrivateKeyPath != "" {
		signer, err := jwt.LoadPrivateKeyFile(c.Algorithm, c.PrivateKeyPath, c.PrivateKeyPassphrase)
		if err != nil {
			return fmt.Errorf("load JWT private key: %w", err)
		}
		c.PrivateKey = signer
	}
	if c.PublicKeyPath != "" {
		pub, err := jwt.LoadPublicKeyFile(c.Algorithm, c.PublicKeyPath)
		if err != nil {
			return fmt.Errorf("load JWT public key: %w", err)
		}
		c.PublicKey = pub
	}
	// the passphrase is only needed to decrypt the key
	c.PrivateKeyPassphrase = ""
	return nil
}
