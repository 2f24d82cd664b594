package certificate

import (
	"context"
	"net/url"

	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/fhir"
)

// Repository is the subset of the FHIR repository API the pipeline uses.
// *fhirclient.Client satisfies it.
type Repository interface {
	Search(ctx context.Context, resourceType string, query url.Values) (*fhir.Bundle, error)
	Read(ctx context.Context, location string) (map[string]interface{}, error)
	Document(ctx context.Context, compositionID string) (map[string]interface{}, error)
	Submit(ctx context.Context, bundle *fhir.Bundle) (*fhir.Bundle, error)
	Update(ctx context.Context, resourceType, id string, resource map[string]interface{}) (map[string]interface{}, error)
	Expunge(ctx context.Context, resourceType, id string) error
}

// Normalizer turns intake records into core data sets.
type Normalizer interface {
	Normalize(ctx context.Context, kind Kind, questionnaireResponse map[string]interface{}) (CoreDataSet, error)
	NormalizeIPS(ctx context.Context, ips map[string]interface{}) ([]CoreDataSet, error)
}

// Assembler expands a core data set into the resources to commit.
type Assembler interface {
	Assemble(ctx context.Context, cds CoreDataSet) (*fhir.Bundle, error)
}

// Enricher attaches rendered artifacts to bundle entries in place.
// *healthcard.Enricher satisfies it.
type Enricher interface {
	Enrich(ctx context.Context, entries []fhir.BundleEntry, hcid string) error
}
