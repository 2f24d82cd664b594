// Package keys loads the mediator's signing key pair and publishes it as a
// JSON Web Key Set.
package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/rs/zerolog"
)

// Material is the key pair used to sign documents and health cards.
type Material struct {
	Signer      crypto.Signer
	Public      crypto.PublicKey
	Certificate *x509.Certificate
	KeyID       string
	// Ephemeral is set when the pair was generated at startup and will not
	// survive a restart.
	Ephemeral bool
}

// Load reads a PEM private key and, when publicPath is set, the matching PEM
// certificate or public key. A missing private key file yields a freshly
// generated P-256 pair so the service can still start.
func Load(privatePath, publicPath string, logger zerolog.Logger) (*Material, error) {
	privPEM, err := os.ReadFile(privatePath)
	if errors.Is(err, fs.ErrNotExist) || privatePath == "" {
		logger.Error().Str("path", privatePath).Msg("private key not found, generating an ephemeral key pair")
		m, err := Generate()
		if err != nil {
			return nil, err
		}
		m.Ephemeral = true
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}

	signer, err := ParsePrivateKey(privPEM)
	if err != nil {
		return nil, err
	}
	m, err := newMaterial(signer)
	if err != nil {
		return nil, err
	}

	if publicPath == "" {
		return m, nil
	}
	pubPEM, err := os.ReadFile(publicPath)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn().Str("path", publicPath).Msg("public key not found, deriving it from the private key")
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	pub, cert, err := ParsePublicKey(pubPEM)
	if err != nil {
		return nil, err
	}
	eq, ok := pub.(interface{ Equal(crypto.PublicKey) bool })
	if !ok || !eq.Equal(signer.Public()) {
		return nil, errors.New("public key does not match private key")
	}
	m.Certificate = cert
	return m, nil
}

// Generate creates a new P-256 key pair.
func Generate() (*Material, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return newMaterial(priv)
}

func newMaterial(signer crypto.Signer) (*Material, error) {
	m := &Material{Signer: signer, Public: signer.Public()}
	jwk := m.JWK()
	thumb, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("compute key thumbprint: %w", err)
	}
	m.KeyID = base64.RawURLEncoding.EncodeToString(thumb)
	return m, nil
}

// ParsePrivateKey decodes a PKCS#8, SEC 1 or PKCS#1 PEM private key.
func ParsePrivateKey(data []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("private key: no PEM block found")
	}

	switch block.Type {
	case "EC PRIVATE KEY":
		k, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse EC private key: %w", err)
		}
		return k, nil
	case "RSA PRIVATE KEY":
		k, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse RSA private key: %w", err)
		}
		return k, nil
	}

	k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	signer, ok := k.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("unsupported private key type: %T", k)
	}
	return signer, nil
}

// ParsePublicKey decodes a PEM X.509 certificate or PKIX public key. The
// certificate is nil for a bare public key.
func ParsePublicKey(data []byte) (crypto.PublicKey, *x509.Certificate, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, nil, errors.New("public key: no PEM block found")
	}
	if block.Type == "CERTIFICATE" {
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, nil, fmt.Errorf("parse certificate: %w", err)
		}
		return cert.PublicKey, cert, nil
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("parse public key: %w", err)
	}
	return pub, nil, nil
}

// WritePEM stores the pair as PKCS#8 and PKIX PEM files.
func (m *Material) WritePEM(privatePath, publicPath string) error {
	privDER, err := x509.MarshalPKCS8PrivateKey(m.Signer)
	if err != nil {
		return fmt.Errorf("marshal private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(m.Public)
	if err != nil {
		return fmt.Errorf("marshal public key: %w", err)
	}
	if err := os.WriteFile(privatePath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}), 0o600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	if err := os.WriteFile(publicPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}), 0o644); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}
	return nil
}

// Algorithm returns the JWS algorithm matching the key type.
func (m *Material) Algorithm() string {
	switch k := m.Public.(type) {
	case *ecdsa.PublicKey:
		switch k.Curve {
		case elliptic.P384():
			return "ES384"
		case elliptic.P521():
			return "ES512"
		}
		return "ES256"
	case *rsa.PublicKey:
		return "RS256"
	case ed25519.PublicKey:
		return "EdDSA"
	}
	return ""
}

// JWK returns the public half as a signing JSON Web Key.
func (m *Material) JWK() jose.JSONWebKey {
	jwk := jose.JSONWebKey{
		Key:       m.Public,
		KeyID:     m.KeyID,
		Algorithm: m.Algorithm(),
		Use:       "sig",
	}
	if m.Certificate != nil {
		jwk.Certificates = []*x509.Certificate{m.Certificate}
	}
	return jwk
}

// JWKS returns a key set holding the public signing key.
func (m *Material) JWKS() jose.JSONWebKeySet {
	return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{m.JWK()}}
}
