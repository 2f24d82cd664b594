package certificate

import (
	"context"

	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/docsign"
	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/fhir"
)

// sign attaches a detached signature over the canonical stored document
// and persists the signed version.
func (p *Pipeline) sign(ctx context.Context, r *run) error {
	id := fhir.ResourceID(r.document)
	if id == "" {
		return lookupError(ReasonSign, "stored document has no id")
	}

	data, err := docsign.Sign(p.signer, r.document)
	if err != nil {
		return transportError(ReasonSign, err)
	}

	signed := make(map[string]interface{}, len(r.document)+1)
	for k, v := range r.document {
		if k == "meta" {
			continue
		}
		signed[k] = v
	}
	signed["id"] = id
	sig := docsign.NewSignature(r.cctx.CoreDataSet.IssuerIdentifier(), r.cctx.Timestamp(), data)
	if err := docsign.Attach(signed, sig); err != nil {
		return transportError(ReasonSign, err)
	}

	stored, err := p.repo.Update(ctx, fhir.ResourceBundle, id, signed)
	if err != nil {
		return transportError(ReasonSign, err)
	}
	r.signed = stored
	return nil
}
