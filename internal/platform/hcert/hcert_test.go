package hcert

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/keys"
)

func TestBase45(t *testing.T) {
	tests := []struct {
		plain   string
		encoded string
	}{
		{"AB", "BB8"},
		{"Hello!!", "%69 VD92EX0"},
		{"base-45", "UJCLQE7W581"},
		{"ietf!", "QED8WEX0"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.plain, func(t *testing.T) {
			if got := encodeBase45([]byte(tt.plain)); got != tt.encoded {
				t.Errorf("encode: expected %q, got %q", tt.encoded, got)
			}
			got, err := decodeBase45(tt.encoded)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tt.plain {
				t.Errorf("decode: expected %q, got %q", tt.plain, got)
			}
		})
	}
}

func TestDecodeBase45_Invalid(t *testing.T) {
	for _, in := range []string{"GGW", "A", "abc"} {
		if _, err := decodeBase45(in); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}

func TestIssueThenVerify(t *testing.T) {
	m, err := keys.Generate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	issued := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer, err := NewIssuer(m, "XY", WithClock(func() time.Time { return issued }))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	qr, err := issuer.Issue(HCertDVC, map[string]interface{}{"n": "Ana Perez", "ndt": "2024-01-15"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(qr, Prefix) {
		t.Fatalf("expected %s prefix, got %q", Prefix, qr)
	}
	if strings.Trim(qr[len(Prefix):], base45Alphabet) != "" {
		t.Errorf("expected only base45 characters after prefix")
	}

	claims, err := issuer.Verify(qr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.Issuer != "XY" {
		t.Errorf("expected issuer XY, got %q", claims.Issuer)
	}
	if !claims.IssuedAt.Equal(issued) {
		t.Errorf("expected iat %v, got %v", issued, claims.IssuedAt)
	}
	if !claims.Expires.Equal(issued.Add(DefaultValidity)) {
		t.Errorf("expected exp one year later, got %v", claims.Expires)
	}
	kid, err := KeyID(m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(claims.KeyID) != string(kid) || len(kid) != 8 {
		t.Errorf("expected 8 byte kid %x, got %x", kid, claims.KeyID)
	}
	dvc, ok := claims.HCert[HCertDVC].(map[interface{}]interface{})
	if !ok {
		t.Fatalf("expected DVC claim map, got %T", claims.HCert[HCertDVC])
	}
	if dvc["n"] != "Ana Perez" {
		t.Errorf("expected name Ana Perez, got %v", dvc["n"])
	}
}

func TestVerify_RejectsOtherKey(t *testing.T) {
	m, _ := keys.Generate()
	other, _ := keys.Generate()
	issuer, err := NewIssuer(m, "XY")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	qr, err := issuer.Issue(HCertDVC, map[string]interface{}{"n": "Ana"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := Verify(qr, other.Public); err == nil {
		t.Fatal("expected signature verification to fail")
	}
}

func TestVerify_Malformed(t *testing.T) {
	m, _ := keys.Generate()
	for _, qr := range []string{"shc:/1234", "HC1:abc", "HC1:BB8"} {
		if _, err := Verify(qr, m.Public); !errors.Is(err, ErrMalformed) {
			t.Errorf("%q: expected ErrMalformed, got %v", qr, err)
		}
	}
}
