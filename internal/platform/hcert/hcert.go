// Package hcert issues electronic health certificates in the HC1 format:
// a CWT signed as COSE_Sign1, zlib-compressed and base45-encoded behind an
// "HC1:" prefix.
package hcert

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zlib"
	"github.com/veraison/go-cose"

	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/keys"
)

// Prefix starts every HC1 QR payload.
const Prefix = "HC1:"

// CWT claim keys.
const (
	ClaimIssuer   = 1
	ClaimExpires  = 4
	ClaimIssuedAt = 6
	ClaimHCert    = -260
)

// Keys inside the hcert claim.
const (
	HCertEUDCC = 1
	HCertDVC   = -6
)

// DefaultValidity is the exp - iat span of issued certificates.
const DefaultValidity = 365 * 24 * time.Hour

var ErrMalformed = errors.New("malformed HC1 payload")

// Claims is the decoded content of an HC1 certificate.
type Claims struct {
	Issuer   string
	IssuedAt time.Time
	Expires  time.Time
	KeyID    []byte
	// HCert is the hcert claim keyed by certificate kind.
	HCert map[int]interface{}
}

// Issuer signs HC1 certificates with the mediator key.
type Issuer struct {
	signer   cose.Signer
	alg      cose.Algorithm
	public   crypto.PublicKey
	kid      []byte
	country  string
	validity time.Duration
	now      func() time.Time
	enc      cbor.EncMode
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithValidity overrides DefaultValidity.
func WithValidity(d time.Duration) Option {
	return func(i *Issuer) { i.validity = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

// NewIssuer returns an issuer signing for country (the CWT iss claim).
func NewIssuer(m *keys.Material, country string, opts ...Option) (*Issuer, error) {
	alg, err := algorithm(m.Public)
	if err != nil {
		return nil, err
	}
	signer, err := cose.NewSigner(alg, m.Signer)
	if err != nil {
		return nil, fmt.Errorf("cose signer: %w", err)
	}
	kid, err := KeyID(m)
	if err != nil {
		return nil, err
	}
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor encoder: %w", err)
	}
	i := &Issuer{
		signer:   signer,
		alg:      alg,
		public:   m.Public,
		kid:      kid,
		country:  country,
		validity: DefaultValidity,
		now:      time.Now,
		enc:      enc,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// KeyID is the first 8 bytes of the SHA-256 of the signing certificate, or
// of the PKIX public key when there is no certificate.
func KeyID(m *keys.Material) ([]byte, error) {
	der := []byte(nil)
	if m.Certificate != nil {
		der = m.Certificate.Raw
	} else {
		var err error
		if der, err = x509.MarshalPKIXPublicKey(m.Public); err != nil {
			return nil, fmt.Errorf("marshal public key: %w", err)
		}
	}
	sum := sha256.Sum256(der)
	return sum[:8], nil
}

// Issue signs payload under the given hcert key and returns the HC1 string.
func (i *Issuer) Issue(hcertKey int, payload interface{}) (string, error) {
	iat := i.now().UTC()
	claims := map[int]interface{}{
		ClaimIssuedAt: iat.Unix(),
		ClaimExpires:  iat.Add(i.validity).Unix(),
		ClaimHCert:    map[int]interface{}{hcertKey: payload},
	}
	if i.country != "" {
		claims[ClaimIssuer] = i.country
	}
	cwt, err := i.enc.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("encode cwt: %w", err)
	}

	headers := cose.Headers{
		Protected: cose.ProtectedHeader{
			cose.HeaderLabelAlgorithm: i.alg,
			cose.HeaderLabelKeyID:     i.kid,
		},
	}
	signed, err := cose.Sign1(rand.Reader, i.signer, headers, cwt, nil)
	if err != nil {
		return "", fmt.Errorf("sign cwt: %w", err)
	}

	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return "", fmt.Errorf("compress: %w", err)
	}
	if _, err := w.Write(signed); err != nil {
		return "", fmt.Errorf("compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("compress: %w", err)
	}
	return Prefix + encodeBase45(buf.Bytes()), nil
}

// Verify checks an HC1 string against the issuer key and decodes its claims.
func (i *Issuer) Verify(qr string) (*Claims, error) {
	return Verify(qr, i.public)
}

// Verify checks an HC1 string against pub and decodes its claims.
func Verify(qr string, pub crypto.PublicKey) (*Claims, error) {
	body, ok := strings.CutPrefix(qr, Prefix)
	if !ok {
		return nil, fmt.Errorf("%w: missing %s prefix", ErrMalformed, Prefix)
	}
	compressed, err := decodeBase45(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	defer r.Close()
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	alg, err := msg.Headers.Protected.Algorithm()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	verifier, err := cose.NewVerifier(alg, pub)
	if err != nil {
		return nil, fmt.Errorf("cose verifier: %w", err)
	}
	if err := msg.Verify(nil, verifier); err != nil {
		return nil, fmt.Errorf("verify HC1: %w", err)
	}

	var cwt struct {
		Issuer   string              `cbor:"1,keyasint,omitempty"`
		Expires  int64               `cbor:"4,keyasint"`
		IssuedAt int64               `cbor:"6,keyasint"`
		HCert    map[int]interface{} `cbor:"-260,keyasint"`
	}
	if err := cbor.Unmarshal(msg.Payload, &cwt); err != nil {
		return nil, fmt.Errorf("%w: cwt: %v", ErrMalformed, err)
	}
	kid, _ := msg.Headers.Protected[cose.HeaderLabelKeyID].([]byte)
	return &Claims{
		Issuer:   cwt.Issuer,
		IssuedAt: time.Unix(cwt.IssuedAt, 0).UTC(),
		Expires:  time.Unix(cwt.Expires, 0).UTC(),
		KeyID:    kid,
		HCert:    cwt.HCert,
	}, nil
}

func algorithm(pub crypto.PublicKey) (cose.Algorithm, error) {
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		switch k.Curve {
		case elliptic.P384():
			return cose.AlgorithmES384, nil
		case elliptic.P521():
			return cose.AlgorithmES512, nil
		}
		return cose.AlgorithmES256, nil
	case *rsa.PublicKey:
		return cose.AlgorithmPS256, nil
	case ed25519.PublicKey:
		return cose.AlgorithmEdDSA, nil
	}
	return 0, fmt.Errorf("unsupported key type %T", pub)
}
