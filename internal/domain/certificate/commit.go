package certificate

import (
	"context"
	"fmt"

	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/fhir"
)

// commit submits the merged bundle as one transaction. Atomicity belongs
// to the repository; nothing is retried.
func (p *Pipeline) commit(ctx context.Context, r *run) error {
	tx := &fhir.Bundle{
		ResourceType: fhir.ResourceBundle,
		ID:           r.bundle.ID,
		Type:         fhir.BundleTypeTransaction,
		Entry:        r.bundle.Entry,
	}
	resp, err := p.repo.Submit(ctx, tx)
	if err != nil {
		return transportError(ReasonCommit, err)
	}
	if len(resp.Entry) != len(tx.Entry) {
		return lookupError(ReasonCommit, fmt.Sprintf("transaction response has %d entries, submitted %d", len(resp.Entry), len(tx.Entry)))
	}
	r.committed = resp

	// Every record now exists; a concurrent run for the same patient can
	// resolve it.
	p.release(ctx, r)
	r.logger.Info().Int("entries", len(resp.Entry)).Msg("transaction committed")
	return nil
}

// committedID returns the repository id of the i-th submitted entry. The
// transaction response location wins over the assembled id, since a POST
// entry is stored under a server-assigned id.
func committedID(bundle, committed *fhir.Bundle, i int) string {
	if committed != nil && i < len(committed.Entry) && committed.Entry[i].Response != nil {
		if _, id := fhir.ParseEntryURL(committed.Entry[i].Response.Location); id != "" {
			return id
		}
	}
	return fhir.ResourceID(bundle.Entry[i].Resource)
}

// compositionID returns the repository id of the committed Composition.
func compositionID(bundle, committed *fhir.Bundle) (string, bool) {
	for i := range bundle.Entry {
		if !fhir.IsResource(bundle.Entry[i].Resource, fhir.ResourceComposition) {
			continue
		}
		id := committedID(bundle, committed, i)
		return id, id != ""
	}
	return "", false
}
