package token

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-jose/go-jose/v4"
	"github.com/smallbiznis/gatekeeper/internal/config"
	"go.uber.org/zap"
)

const (
	// SigningAlgorithm is the only algorithm the server signs or accepts.
	SigningAlgorithm = jose.ES256

	typeAccessToken = "at+jwt"
	typeIDToken     = "JWT"
)

var ErrUnsupportedKey = errors.New("signing key must be an ECDSA P-256 private key")

// KeySet holds the signing key and the signers derived from it.
type KeySet struct {
	private  *ecdsa.PrivateKey
	keyID    string
	access   jose.Signer
	identity jose.Signer
}

// NewKeySet derives the key id and signers for a P-256 key.
func NewKeySet(key *ecdsa.PrivateKey) (*KeySet, error) {
	if key == nil || key.Curve != elliptic.P256() {
		return nil, ErrUnsupportedKey
	}

	kid, err := deriveKeyID(&key.PublicKey)
	if err != nil {
		return nil, err
	}

	jwk := &jose.JSONWebKey{Key: key, KeyID: kid, Algorithm: string(SigningAlgorithm)}
	access, err := jose.NewSigner(
		jose.SigningKey{Algorithm: SigningAlgorithm, Key: jwk},
		(&jose.SignerOptions{}).WithType(typeAccessToken),
	)
	if err != nil {
		return nil, fmt.Errorf("access token signer: %w", err)
	}
	identity, err := jose.NewSigner(
		jose.SigningKey{Algorithm: SigningAlgorithm, Key: jwk},
		(&jose.SignerOptions{}).WithType(typeIDToken),
	)
	if err != nil {
		return nil, fmt.Errorf("id token signer: %w", err)
	}

	return &KeySet{private: key, keyID: kid, access: access, identity: identity}, nil
}

// LoadKeySet reads the signing key from OAUTH_SIGNING_KEY_FILE. Without a
// file an ephemeral key is generated, which invalidates all tokens on restart.
func LoadKeySet(cfg config.Config, log *zap.Logger) (*KeySet, error) {
	path := strings.TrimSpace(cfg.OAuth.SigningKeyFile)
	if path == "" {
		if cfg.IsProduction() {
			return nil, errors.New("OAUTH_SIGNING_KEY_FILE is required in production")
		}
		log.Warn("no signing key configured, generating an ephemeral key")
		key, err := GenerateKey()
		if err != nil {
			return nil, err
		}
		return NewKeySet(key)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}
	key, err := ParsePrivateKeyPEM(data)
	if err != nil {
		return nil, err
	}
	keys, err := NewKeySet(key)
	if err != nil {
		return nil, err
	}
	log.Info("signing key loaded", zap.String("kid", keys.KeyID()))
	return keys, nil
}

func (k *KeySet) KeyID() string { return k.keyID }

func (k *KeySet) Public() *ecdsa.PublicKey { return &k.private.PublicKey }

// JWKS is the public half of the key set as served on the jwks endpoint.
func (k *KeySet) JWKS() jose.JSONWebKeySet {
	return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       k.Public(),
		KeyID:     k.keyID,
		Algorithm: string(SigningAlgorithm),
		Use:       "sig",
	}}}
}

func GenerateKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

// ParsePrivateKeyPEM accepts SEC 1 ("EC PRIVATE KEY") and PKCS #8 encodings.
func ParsePrivateKeyPEM(data []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("failed to decode PEM block from signing key")
	}

	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok || key.Curve != elliptic.P256() {
		return nil, ErrUnsupportedKey
	}
	return key, nil
}

// EncodePrivateKeyPEM renders key as PKCS #8.
func EncodePrivateKeyPEM(key *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// deriveKeyID is the RFC 7638 SHA-256 thumbprint of the public key.
func deriveKeyID(pub *ecdsa.PublicKey) (string, error) {
	jwk := jose.JSONWebKey{Key: pub}
	thumbprint, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("failed to compute key thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(thumbprint), nil
}
