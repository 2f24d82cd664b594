package certificate

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/fhir"
)

// HCIDLinkPrefix prefixes the hcid in the document's publication link.
const HCIDLinkPrefix = "urn:HCID:"

// compose projects the committed Composition into a document, stamps it
// and stores it as a new Bundle.
func (p *Pipeline) compose(ctx context.Context, r *run) error {
	compID, ok := compositionID(r.bundle, r.committed)
	if !ok {
		return missingDependency(ReasonMissingComposition, "Missing Composition in addBundle.")
	}

	doc, err := p.repo.Document(ctx, compID)
	if err != nil {
		return transportError(ReasonCompose, err)
	}

	cds := r.cctx.CoreDataSet
	docID := cds.DDCCID()
	if docID == "" {
		docID = uuid.New().String()
	}

	entries := fhir.SnapshotEntries(r.bundle.Entry)
	docEntries := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		m := map[string]interface{}{"resource": e.Resource}
		if e.FullURL != "" {
			m["fullUrl"] = e.FullURL
		}
		docEntries = append(docEntries, m)
	}

	doc["id"] = docID
	doc["identifier"] = map[string]interface{}{
		"system": p.cfg.DocumentIdentifierSystem,
		"value":  docID,
	}
	doc["link"] = []interface{}{map[string]interface{}{
		"relation": "publication",
		"url":      HCIDLinkPrefix + cds.HCID(),
	}}
	doc["entry"] = docEntries
	doc["timestamp"] = r.cctx.Timestamp()
	delete(doc, "total")

	resp, err := p.repo.Submit(ctx, &fhir.Bundle{
		ResourceType: fhir.ResourceBundle,
		Type:         fhir.BundleTypeTransaction,
		Entry: []fhir.BundleEntry{{
			FullURL:  "urn:uuid:" + docID,
			Resource: doc,
			Request: &fhir.BundleRequest{
				Method: http.MethodPut,
				URL:    fhir.FormatReference(fhir.ResourceBundle, docID),
			},
		}},
	})
	if err != nil {
		return transportError(ReasonCompose, err)
	}
	if len(resp.Entry) == 0 || resp.Entry[0].Response == nil || resp.Entry[0].Response.Location == "" {
		return lookupError(ReasonCompose, "document transaction returned no location")
	}

	stored, err := p.repo.Read(ctx, resp.Entry[0].Response.Location)
	if err != nil {
		return transportError(ReasonCompose, err)
	}
	if !fhir.IsResource(stored, fhir.ResourceBundle) {
		return lookupError(ReasonCompose, "stored document is a "+fhir.ResourceType(stored))
	}
	r.document = stored
	r.logger.Info().Str("document_id", fhir.ResourceID(stored)).Msg("document stored")
	return nil
}
