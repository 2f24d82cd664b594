package certificate

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/fhir"
)

// cleanupKinds are the working resources reclaimed once the signed
// document is stored.
var cleanupKinds = []string{
	fhir.ResourceComposition,
	fhir.ResourceImmunizationRecommendation,
	fhir.ResourceImmunization,
	fhir.ResourceDocumentReference,
	fhir.ResourceOrganization,
	fhir.ResourcePatient,
}

type expungeTarget struct {
	resourceType string
	id           string
}

// cleanupTargets picks the first committed entry of each cleanup kind,
// addressed by the id the repository stored it under.
func cleanupTargets(bundle, committed *fhir.Bundle) []expungeTarget {
	var targets []expungeTarget
	for _, kind := range cleanupKinds {
		for i := range bundle.Entry {
			if !fhir.IsResource(bundle.Entry[i].Resource, kind) {
				continue
			}
			if id := committedID(bundle, committed, i); id != "" {
				targets = append(targets, expungeTarget{resourceType: kind, id: id})
			}
			break
		}
	}
	return targets
}

// cleanup expunges the working resources concurrently. A failed expunge is
// logged and counted and never reaches the caller or the other expunges.
func (p *Pipeline) cleanup(ctx context.Context, r *run) error {
	// The signed document is already stored; a cancelled request must not
	// leave the working copies behind.
	ctx = context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(p.cfg.CleanupConcurrency)
	for _, t := range cleanupTargets(r.bundle, r.committed) {
		g.Go(func() error {
			if err := p.repo.Expunge(ctx, t.resourceType, t.id); err != nil {
				p.metrics.IncrementExpungeFailure(t.resourceType)
				r.logger.Warn().Err(err).
					Str("resource_type", t.resourceType).
					Str("id", t.id).
					Msg("expunge failed")
				return nil
			}
			r.logger.Debug().Str("resource_type", t.resourceType).Str("id", t.id).Msg("expunged")
			return nil
		})
	}
	return g.Wait()
}
