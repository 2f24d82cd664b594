package certificate

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/fhir"
	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/fhirclient"
	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/fhirclient/fhirtest"
	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/keys"
)

const (
	testFolderSystem   = "http://example.org/folder"
	testDocumentSystem = "http://example.org/ddcc-document"
)

var testNow = time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)

func coreDataSet(identifier, issuer, hcid string) CoreDataSet {
	cds := CoreDataSet{
		"resourceType": "DDCCVSCoreDataSet",
		"name":         "Jane Doe",
		"certificate": map[string]interface{}{
			"issuer": map[string]interface{}{"identifier": map[string]interface{}{"value": issuer}},
			"hcid":   map[string]interface{}{"value": hcid},
		},
	}
	if identifier != "" {
		cds["identifier"] = identifier
	}
	return cds
}

// stubAssembler builds the bundle a CoreDataSetVSToAddBundle map would: one
// resource of each kind, created by id with PUT. With post set, entries are
// created with POST and the repository picks the ids.
type stubAssembler struct {
	skip map[string]bool
	post bool
	err  error
}

func (a *stubAssembler) Assemble(_ context.Context, cds CoreDataSet) (*fhir.Bundle, error) {
	if a.err != nil {
		return nil, a.err
	}
	ids := map[string]string{}
	for _, rt := range []string{
		fhir.ResourcePatient, fhir.ResourceOrganization, fhir.ResourceImmunization,
		fhir.ResourceDocumentReference, fhir.ResourceComposition, fhir.ResourceList,
	} {
		ids[rt] = uuid.New().String()
	}
	resources := []map[string]interface{}{
		{
			"resourceType": fhir.ResourcePatient,
			"id":           ids[fhir.ResourcePatient],
			"identifier":   []interface{}{map[string]interface{}{"value": cds.PatientIdentifier()}},
			"name":         []interface{}{map[string]interface{}{"text": "Jane Doe"}},
		},
		{
			"resourceType": fhir.ResourceOrganization,
			"id":           ids[fhir.ResourceOrganization],
			"name":         cds.IssuerIdentifier(),
		},
		{
			"resourceType": fhir.ResourceImmunization,
			"id":           ids[fhir.ResourceImmunization],
			"status":       "completed",
			"patient":      map[string]interface{}{"reference": "Patient/" + ids[fhir.ResourcePatient]},
		},
		{
			"resourceType": fhir.ResourceDocumentReference,
			"id":           ids[fhir.ResourceDocumentReference],
			"status":       "current",
			"subject":      map[string]interface{}{"reference": "Patient/" + ids[fhir.ResourcePatient]},
		},
		{
			"resourceType": fhir.ResourceComposition,
			"id":           ids[fhir.ResourceComposition],
			"status":       "final",
			"subject":      map[string]interface{}{"reference": "Patient/" + ids[fhir.ResourcePatient]},
			"author":       []interface{}{map[string]interface{}{"reference": "Organization/" + ids[fhir.ResourceOrganization]}},
		},
		{
			"resourceType": fhir.ResourceList,
			"id":           ids[fhir.ResourceList],
			"identifier":   []interface{}{map[string]interface{}{"system": testFolderSystem, "value": cds.HCID()}},
			"code":         map[string]interface{}{"coding": []interface{}{map[string]interface{}{"code": "folder"}}},
		},
	}

	b := &fhir.Bundle{ResourceType: fhir.ResourceBundle, Type: fhir.BundleTypeTransaction}
	for _, res := range resources {
		rt := fhir.ResourceType(res)
		if a.skip[rt] {
			continue
		}
		req := &fhir.BundleRequest{Method: http.MethodPut, URL: fhir.FormatReference(rt, fhir.ResourceID(res))}
		if a.post {
			req = &fhir.BundleRequest{Method: http.MethodPost, URL: rt}
		}
		b.Entry = append(b.Entry, fhir.BundleEntry{
			FullURL:  "urn:uuid:" + fhir.ResourceID(res),
			Resource: res,
			Request:  req,
		})
	}
	return b, nil
}

type stubEnricher struct {
	err    error
	called bool
}

func (e *stubEnricher) Enrich(_ context.Context, entries []fhir.BundleEntry, hcid string) error {
	e.called = true
	if e.err != nil {
		return e.err
	}
	if ref, ok := fhir.FirstEntryOfType(entries, fhir.ResourceDocumentReference); ok {
		ref.Resource["content"] = []interface{}{map[string]interface{}{
			"attachment": map[string]interface{}{"contentType": "text/plain", "data": "c2hjOi8w", "title": "QR " + hcid},
		}}
	}
	return nil
}

type testEnv struct {
	srv      *fhirtest.Server
	keys     *keys.Material
	pipeline *Pipeline
}

func newTestEnv(t *testing.T, assembler Assembler, opts ...Option) *testEnv {
	t.Helper()
	srv := fhirtest.NewServer()
	t.Cleanup(srv.Close)

	m, err := keys.Generate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	repo := fhirclient.New(srv.BaseURL(), zerolog.Nop(), fhirclient.WithTimeout(5*time.Second))
	p := NewPipeline(repo, assembler, m.Signer, Config{
		FolderIdentifierSystem:   testFolderSystem,
		DocumentIdentifierSystem: testDocumentSystem,
		CleanupConcurrency:       2,
	}, zerolog.Nop(), opts...)
	return &testEnv{srv: srv, keys: m, pipeline: p}
}

func (env *testEnv) run(t *testing.T, cds CoreDataSet) (*Result, error) {
	t.Helper()
	return env.pipeline.Run(context.Background(), NewContext(KindDDCC, DDCCVersion, cds, testNow))
}

func committedOf(res *Result, resourceType string) (CommittedEntry, bool) {
	for _, c := range res.Committed {
		if c.ResourceType == resourceType {
			return c, true
		}
	}
	return CommittedEntry{}, false
}

func asError(t *testing.T, err error) *Error {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error")
	}
	e, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	return e
}
