package jwt

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

// ErrPassphraseRequired is returned when an encrypted PEM block is loaded
// without a passphrase.
var ErrPassphraseRequired = errors.New("jwt: private key is encrypted and no passphrase was given")

// LoadPrivateKeyFile reads a PEM private key from disk. An empty passphrase
// is valid for unencrypted keys.
func LoadPrivateKeyFile(alg Algorithm, path, passphrase string) (crypto.Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("jwt: read private key: %w", err)
	}
	return ParsePrivateKey(alg, raw, passphrase)
}

// LoadPublicKeyFile reads a PEM public key from disk.
func LoadPublicKeyFile(alg Algorithm, path string) (crypto.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("jwt: read public key: %w", err)
	}
	return ParsePublicKey(alg, raw)
}

// ParsePrivateKey decodes a PEM private key for alg. Legacy
// "Proc-Type: 4,ENCRYPTED" blocks are decrypted with passphrase first.
func ParsePrivateKey(alg Algorithm, pemBytes []byte, passphrase string) (crypto.Signer, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("jwt: private key is not PEM encoded")
	}
	//nolint:staticcheck // legacy encrypted PEM is the deployed key format
	if x509.IsEncryptedPEMBlock(block) {
		if passphrase == "" {
			return nil, ErrPassphraseRequired
		}
		//nolint:staticcheck
		der, err := x509.DecryptPEMBlock(block, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("jwt: decrypt private key: %w", err)
		}
		pemBytes = pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: der})
	}

	var (
		key crypto.Signer
		err error
	)
	switch alg {
	case AlgEdDSA:
		var k crypto.PrivateKey
		if k, err = jwt.ParseEdPrivateKeyFromPEM(pemBytes); err == nil {
			ed, ok := k.(ed25519.PrivateKey)
			if !ok {
				return nil, errors.New("jwt: private key is not ed25519")
			}
			key = ed
		}
	case AlgRS256:
		key, err = jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	case AlgES256:
		key, err = jwt.ParseECPrivateKeyFromPEM(pemBytes)
	default:
		return nil, ErrUnsupportedAlgorithm
	}
	if err != nil {
		return nil, fmt.Errorf("jwt: parse %s private key: %w", alg, err)
	}
	return key, nil
}

// ParsePublicKey decodes a PEM public key (or certificate) for alg.
func ParsePublicKey(alg Algorithm, pemBytes []byte) (crypto.PublicKey, error) {
	var (
		key crypto.PublicKey
		err error
	)
	switch alg {
	case AlgEdDSA:
		key, err = jwt.ParseEdPublicKeyFromPEM(pemBytes)
	case AlgRS256:
		key, err = jwt.ParseRSAPublicKeyFromPEM(pemBytes)
	case AlgES256:
		key, err = jwt.ParseECPublicKeyFromPEM(pemBytes)
	default:
		return nil, ErrUnsupportedAlgorithm
	}
	if err != nil {
		return nil, fmt.Errorf("jwt: parse %s public key: %w", alg, err)
	}
	return key, nil
}

func checkKeyType(alg Algorithm, pub crypto.PublicKey) error {
	ok := false
	switch alg {
	case AlgEdDSA:
		_, ok = pub.(ed25519.PublicKey)
	case AlgRS256:
		_, ok = pub.(*rsa.PublicKey)
	case AlgES256:
		var ec *ecdsa.PublicKey
		if ec, ok = pub.(*ecdsa.PublicKey); ok {
			ok = ec.Curve.Params().BitSize == 256
		}
	}
	if !ok {
		return fmt.Errorf("jwt: key type %T does not match %s", pub, alg)
	}
	return nil
}
