package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoad_MissingFilesGeneratesEphemeralPair(t *testing.T) {
	dir := t.TempDir()
	m, err := Load(filepath.Join(dir, "missing.pem"), filepath.Join(dir, "missing.pub"), zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.Ephemeral {
		t.Error("expected ephemeral key material")
	}
	if m.Algorithm() != "ES256" {
		t.Errorf("expected ES256, got %s", m.Algorithm())
	}
	if m.KeyID == "" {
		t.Error("expected a key id")
	}
}

func TestWritePEMThenLoad(t *testing.T) {
	dir := t.TempDir()
	priv, pub := filepath.Join(dir, "key.pem"), filepath.Join(dir, "key.pub")

	generated, err := Generate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := generated.WritePEM(priv, pub); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loaded, err := Load(priv, pub, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.Ephemeral {
		t.Error("expected persisted key material")
	}
	if loaded.KeyID != generated.KeyID {
		t.Errorf("expected same key id, got %s and %s", loaded.KeyID, generated.KeyID)
	}
}

func TestLoad_SEC1WithCertificate(t *testing.T) {
	dir := t.TempDir()
	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)

	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	priv := filepath.Join(dir, "ec.pem")
	_ = os.WriteFile(priv, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), 0o600)

	tmpl := &x509.Certificate{SerialNumber: big.NewInt(1)}
	certDER, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cert := filepath.Join(dir, "cert.pem")
	_ = os.WriteFile(cert, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}), 0o644)

	m, err := Load(priv, cert, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Certificate == nil {
		t.Error("expected certificate to be kept")
	}
}

func TestLoad_MismatchedPublicKey(t *testing.T) {
	dir := t.TempDir()
	a, _ := Generate()
	b, _ := Generate()
	_ = a.WritePEM(filepath.Join(dir, "a.pem"), filepath.Join(dir, "a.pub"))
	_ = b.WritePEM(filepath.Join(dir, "b.pem"), filepath.Join(dir, "b.pub"))

	if _, err := Load(filepath.Join(dir, "a.pem"), filepath.Join(dir, "b.pub"), zerolog.Nop()); err == nil {
		t.Fatal("expected mismatch error")
	}
}

func TestJWKS(t *testing.T) {
	m, _ := Generate()
	raw, err := json.Marshal(m.JWKS())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var set struct {
		Keys []map[string]interface{} `json:"keys"`
	}
	if err := json.Unmarshal(raw, &set); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(set.Keys) != 1 {
		t.Fatalf("expected 1 key, got %d", len(set.Keys))
	}
	k := set.Keys[0]
	if k["kty"] != "EC" || k["crv"] != "P-256" || k["alg"] != "ES256" || k["use"] != "sig" {
		t.Errorf("unexpected JWK %v", k)
	}
	if k["kid"] != m.KeyID {
		t.Errorf("expected kid %s, got %v", m.KeyID, k["kid"])
	}
	if _, ok := k["d"]; ok {
		t.Error("private component must not be published")
	}
}

func TestGenerate_KeyIDIsThumbprint(t *testing.T) {
	m, err := Generate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	jwk := m.JWK()
	thumb, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := base64.RawURLEncoding.EncodeToString(thumb); m.KeyID != want {
		t.Errorf("expected kid %s, got %s", want, m.KeyID)
	}
}
