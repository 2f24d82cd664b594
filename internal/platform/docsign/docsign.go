// Package docsign produces and checks detached signatures over the RFC 8785
// canonical form of a FHIR document Bundle.
package docsign

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/fhir"
)

// Coding of the signature type attached to signed documents.
const (
	SignatureSystem = "urn:iso-astm:E1762-95:2013"
	SignatureCode   = "1.2.840.10065.1.12.1.5"
)

// ErrNotSigned is returned when a resource is not a document Bundle carrying
// signature data.
var ErrNotSigned = errors.New("not a signed document")

// excluded fields never take part in the signed bytes. meta and id are
// assigned by the repository on every write.
var excluded = map[string]bool{"meta": true, "id": true, "signature": true}

// Canonicalize returns the JCS serialization of doc without meta, id and
// signature. doc is not modified.
func Canonicalize(doc map[string]interface{}) ([]byte, error) {
	stripped := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		if excluded[k] {
			continue
		}
		stripped[k] = v
	}
	raw, err := json.Marshal(stripped)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize document: %w", err)
	}
	return out, nil
}

// Sign signs the canonical form of doc and returns the base64 signature.
// ECDSA signers produce ASN.1 DER signatures, RSA signers PKCS#1 v1.5, both
// over a SHA-256 digest. Ed25519 signs the canonical bytes directly.
func Sign(signer crypto.Signer, doc map[string]interface{}) (string, error) {
	payload, err := Canonicalize(doc)
	if err != nil {
		return "", err
	}

	var sig []byte
	if _, ok := signer.Public().(ed25519.PublicKey); ok {
		sig, err = signer.Sign(rand.Reader, payload, crypto.Hash(0))
	} else {
		digest := sha256.Sum256(payload)
		sig, err = signer.Sign(rand.Reader, digest[:], crypto.SHA256)
	}
	if err != nil {
		return "", fmt.Errorf("sign document: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// NewSignature builds the signature block recorded on a signed document.
func NewSignature(issuer, when, data string) fhir.Signature {
	return fhir.Signature{
		Type: []fhir.Coding{{System: SignatureSystem, Code: SignatureCode}},
		When: when,
		Who:  fhir.Reference{Identifier: &fhir.Identifier{Value: issuer}},
		Data: data,
	}
}

// Attach stores sig on doc as a generic map.
func Attach(doc map[string]interface{}, sig fhir.Signature) error {
	raw, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("marshal signature: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("unmarshal signature: %w", err)
	}
	doc["signature"] = m
	return nil
}

// SignatureData returns the base64 signature carried by a signed document.
func SignatureData(doc map[string]interface{}) (string, error) {
	if !fhir.IsResource(doc, fhir.ResourceBundle) {
		return "", fmt.Errorf("%w: resourceType %q", ErrNotSigned, fhir.ResourceType(doc))
	}
	if t, _ := doc["type"].(string); t != fhir.BundleTypeDocument {
		return "", fmt.Errorf("%w: bundle type %q", ErrNotSigned, t)
	}
	sig, ok := doc["signature"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("%w: no signature block", ErrNotSigned)
	}
	data, _ := sig["data"].(string)
	if data == "" {
		return "", fmt.Errorf("%w: empty signature data", ErrNotSigned)
	}
	return data, nil
}

// Verify recomputes the canonical form of doc and checks its signature with
// pub. A signature that does not match yields false with a nil error.
func Verify(pub crypto.PublicKey, doc map[string]interface{}) (bool, error) {
	data, err := SignatureData(doc)
	if err != nil {
		return false, err
	}
	sig, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return false, nil
	}
	payload, err := Canonicalize(doc)
	if err != nil {
		return false, err
	}
	digest := sha256.Sum256(payload)

	switch pk := pub.(type) {
	case *ecdsa.PublicKey:
		return ecdsa.VerifyASN1(pk, digest[:], sig), nil
	case *rsa.PublicKey:
		return rsa.VerifyPKCS1v15(pk, crypto.SHA256, digest[:], sig) == nil, nil
	case ed25519.PublicKey:
		return ed25519.Verify(pk, payload, sig), nil
	default:
		return false, fmt.Errorf("unsupported key type: %T", pub)
	}
}
