package certificate

import (
	"net/http"

	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/fhir"
)

// Merge rewrites the assembled bundle in place so Patient and Organization
// entries update the resolved records instead of creating new ones. The
// folder is never rewritten. A bundle without a Patient or a Composition
// entry cannot be committed.
func Merge(bundle *fhir.Bundle, resolved Resolved) error {
	patient, ok := fhir.FirstEntryOfType(bundle.Entry, fhir.ResourcePatient)
	if !ok {
		return missingDependency(ReasonMissingPatient, "Missing Patient in addBundle.")
	}
	if _, ok := fhir.FirstEntryOfType(bundle.Entry, fhir.ResourceComposition); !ok {
		return missingDependency(ReasonMissingComposition, "Missing Composition in addBundle.")
	}

	if resolved.Patient != nil {
		retarget(bundle.Entry, patient, fhir.ResourceID(resolved.Patient))
	}
	if resolved.Organization != nil {
		if org, ok := fhir.FirstEntryOfType(bundle.Entry, fhir.ResourceOrganization); ok {
			retarget(bundle.Entry, org, fhir.ResourceID(resolved.Organization))
		}
	}
	return nil
}

// retarget points entry at an existing id and rewrites references to the
// generated id elsewhere in the bundle.
func retarget(entries []fhir.BundleEntry, entry *fhir.BundleEntry, id string) {
	resourceType := fhir.ResourceType(entry.Resource)
	oldID := fhir.ResourceID(entry.Resource)

	entry.Resource["id"] = id
	entry.Request = &fhir.BundleRequest{
		Method: http.MethodPut,
		URL:    fhir.FormatReference(resourceType, id),
	}

	if oldID == "" || oldID == id {
		return
	}
	from := fhir.FormatReference(resourceType, oldID)
	to := fhir.FormatReference(resourceType, id)
	for i := range entries {
		rewriteReferences(entries[i].Resource, from, to)
	}
}

func rewriteReferences(node interface{}, from, to string) {
	switch v := node.(type) {
	case map[string]interface{}:
		for k, child := range v {
			if k == "reference" {
				if ref, ok := child.(string); ok && ref == from {
					v[k] = to
				}
				continue
			}
			rewriteReferences(child, from, to)
		}
	case []interface{}:
		for _, child := range v {
			rewriteReferences(child, from, to)
		}
	}
}
