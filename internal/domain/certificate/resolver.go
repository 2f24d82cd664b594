package certificate

import (
	"context"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/fhir"
)

// Resolver looks up records that already exist in the repository. A miss,
// a malformed result or a failed call all resolve to nil.
type Resolver struct {
	repo   Repository
	logger zerolog.Logger
}

// NewResolver returns a Resolver searching repo.
func NewResolver(repo Repository, logger zerolog.Logger) *Resolver {
	return &Resolver{repo: repo, logger: logger}
}

// ResolveOrganization finds the issuing organization by name. Plain name
// search is a case-insensitive prefix match, so the name is compared again
// on the result.
func (r *Resolver) ResolveOrganization(ctx context.Context, issuer string) map[string]interface{} {
	if issuer == "" {
		return nil
	}
	return r.first(ctx, fhir.ResourceOrganization, url.Values{"name:exact": {issuer}}, func(org map[string]interface{}) bool {
		name, _ := org["name"].(string)
		return name == issuer
	})
}

// ResolvePatient finds the patient by business identifier ("value" or
// "system|value").
func (r *Resolver) ResolvePatient(ctx context.Context, identifier string) map[string]interface{} {
	if identifier == "" {
		return nil
	}
	return r.first(ctx, fhir.ResourcePatient, url.Values{"identifier": {identifier}}, nil)
}

// ResolveFolder finds the patient's health folder List keyed by hcid.
func (r *Resolver) ResolveFolder(ctx context.Context, folderSystem, hcid string) map[string]interface{} {
	if hcid == "" {
		return nil
	}
	return r.first(ctx, fhir.ResourceList, url.Values{"identifier": {folderSystem + "|" + hcid}}, nil)
}

// first returns the first search match of resourceType accepted by keep,
// or the first match when keep is nil.
func (r *Resolver) first(ctx context.Context, resourceType string, query url.Values, keep func(map[string]interface{}) bool) map[string]interface{} {
	result, err := r.repo.Search(ctx, resourceType, query)
	if err != nil {
		r.logger.Warn().Err(err).Str("resource_type", resourceType).Msg("lookup failed, treating as not found")
		return nil
	}
	match := fhir.FirstMatch(result, resourceType)
	if keep != nil && match != nil && !keep(match) {
		match = nil
		for _, e := range result.Entry[1:] {
			if fhir.IsResource(e.Resource, resourceType) && keep(e.Resource) {
				match = e.Resource
				break
			}
		}
	}
	if match == nil || fhir.ResourceID(match) == "" {
		return nil
	}
	r.logger.Info().Str("resource_type", resourceType).Str("id", fhir.ResourceID(match)).Msg("existing record found")
	return match
}
