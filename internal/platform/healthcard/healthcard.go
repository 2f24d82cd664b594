// Package healthcard issues compact, deflated JWS credentials in the SMART
// Health Card format and renders them as numeric QR payloads.
package healthcard

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/klauspost/compress/flate"

	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/keys"
)

// Credential types.
const (
	TypeHealthCard   = "https://smarthealth.cards#health-card"
	TypeImmunization = "https://smarthealth.cards#immunization"
	TypeDVC          = "https://smart.who.int/icvp#dvc"
)

// FHIRVersion is recorded in every credential subject.
const FHIRVersion = "4.0.1"

// QRPrefix starts every numeric QR payload.
const QRPrefix = "shc:/"

var ErrMalformed = errors.New("malformed health card")

// Credential is the vc claim.
type Credential struct {
	Type              []string               `json:"type"`
	CredentialSubject map[string]interface{} `json:"credentialSubject"`
}

// Claims is the JWS payload of a health card.
type Claims struct {
	VC Credential `json:"vc"`
	jwt.RegisteredClaims
}

type header struct {
	Alg string `json:"alg"`
	Zip string `json:"zip"`
	Kid string `json:"kid"`
}

// Issuer signs health cards with the mediator key.
type Issuer struct {
	keys   *keys.Material
	issuer string
	now    func() time.Time
}

// NewIssuer creates an issuer identified by the iss URL.
func NewIssuer(m *keys.Material, issuer string) *Issuer {
	return &Issuer{keys: m, issuer: issuer, now: time.Now}
}

// Issue signs a credential of the given types.
func (i *Issuer) Issue(types []string, subject map[string]interface{}) (string, error) {
	claims := Claims{
		VC: Credential{Type: types, CredentialSubject: subject},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			NotBefore: jwt.NewNumericDate(i.now()),
		},
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	deflated, err := deflate(payload)
	if err != nil {
		return "", err
	}

	method := jwt.GetSigningMethod(i.keys.Algorithm())
	if method == nil {
		return "", fmt.Errorf("unsupported signing algorithm %q", i.keys.Algorithm())
	}
	hdr, err := json.Marshal(header{Alg: method.Alg(), Zip: "DEF", Kid: i.keys.KeyID})
	if err != nil {
		return "", fmt.Errorf("marshal header: %w", err)
	}

	signingString := encode(hdr) + "." + encode(deflated)
	sig, err := method.Sign(signingString, i.keys.Signer)
	if err != nil {
		return "", fmt.Errorf("sign health card: %w", err)
	}
	return signingString + "." + encode(sig), nil
}

// IssueBundle signs a FHIR Bundle as a SMART Health Card.
func (i *Issuer) IssueBundle(bundle map[string]interface{}, types ...string) (string, error) {
	return i.Issue(append([]string{TypeHealthCard}, types...), map[string]interface{}{
		"fhirVersion": FHIRVersion,
		"fhirBundle":  bundle,
	})
}

// Verify checks a health card against the issuer key and returns its claims.
func (i *Issuer) Verify(token string) (*Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformed, len(parts))
	}

	rawHdr, err := decode(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformed, err)
	}
	var hdr header
	if err := json.Unmarshal(rawHdr, &hdr); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformed, err)
	}
	method := jwt.GetSigningMethod(hdr.Alg)
	if method == nil {
		return nil, fmt.Errorf("%w: unknown alg %q", ErrMalformed, hdr.Alg)
	}
	sig, err := decode(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %v", ErrMalformed, err)
	}
	if err := method.Verify(parts[0]+"."+parts[1], sig, i.keys.Public); err != nil {
		return nil, fmt.Errorf("verify health card: %w", err)
	}

	deflated, err := decode(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformed, err)
	}
	payload := deflated
	if hdr.Zip == "DEF" {
		if payload, err = inflate(deflated); err != nil {
			return nil, fmt.Errorf("%w: payload: %v", ErrMalformed, err)
		}
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: claims: %v", ErrMalformed, err)
	}
	return &claims, nil
}

// Numeric encodes a JWS as a numeric-mode QR payload: every character c
// becomes the two digits of c-45.
func Numeric(token string) string {
	var b strings.Builder
	b.Grow(len(QRPrefix) + 2*len(token))
	b.WriteString(QRPrefix)
	for _, c := range token {
		fmt.Fprintf(&b, "%02d", c-45)
	}
	return b.String()
}

// FromNumeric reverses Numeric.
func FromNumeric(qr string) (string, error) {
	digits := strings.TrimPrefix(qr, QRPrefix)
	if len(digits) == len(qr) || len(digits)%2 != 0 {
		return "", fmt.Errorf("%w: not a numeric QR payload", ErrMalformed)
	}
	out := make([]byte, 0, len(digits)/2)
	for i := 0; i < len(digits); i += 2 {
		hi, lo := digits[i]-'0', digits[i+1]-'0'
		if hi > 9 || lo > 9 {
			return "", fmt.Errorf("%w: non-digit at %d", ErrMalformed, i)
		}
		out = append(out, hi*10+lo+45)
	}
	return string(out), nil
}

func encode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func decode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

func deflate(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}
	if _, err := w.Write(b); err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}
	return buf.Bytes(), nil
}

func inflate(b []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(b))
	defer r.Close()
	return io.ReadAll(r)
}
