package certificate

import (
	"crypto"
	"errors"

	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/docsign"
	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/fhir"
	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/telemetry"
)

// Verifier checks signed documents against the issuer public key.
type Verifier struct {
	public  crypto.PublicKey
	metrics *telemetry.Metrics
}

// NewVerifier returns a Verifier for pub. m may be nil.
func NewVerifier(pub crypto.PublicKey, m *telemetry.Metrics) *Verifier {
	return &Verifier{public: pub, metrics: m}
}

// Verify reports whether doc carries a valid signature. A mismatch is
// false with a nil error; a document that is not signed at all is a
// structure error.
func (v *Verifier) Verify(doc map[string]interface{}) (bool, error) {
	ok, err := docsign.Verify(v.public, doc)
	switch {
	case errors.Is(err, docsign.ErrNotSigned):
		v.metrics.IncrementVerification("unsigned")
		return false, &Error{
			Kind:   KindValidation,
			Code:   fhir.IssueTypeStructure,
			Reason: ReasonNotSigned,
			Detail: "The resource need to be a Bundle resource of type document with a signature data",
			Err:    err,
		}
	case err != nil:
		return false, transportError(ReasonSign, err)
	case ok:
		v.metrics.IncrementVerification("valid")
	default:
		v.metrics.IncrementVerification("invalid")
	}
	return ok, nil
}
