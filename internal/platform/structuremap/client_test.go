package structuremap

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestTransform(t *testing.T) {
	var gotSource, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSource = r.URL.Query().Get("source")
		gotContentType = r.Header.Get("Content-Type")
		var in map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&in)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"resourceType": "Bundle", "echo": in["resourceType"]})
	}))
	defer srv.Close()

	c := New(srv.URL+"/matchboxv3/fhir", time.Second, zerolog.Nop())
	source := MapURL("http://worldhealthorganization.github.io/ddcc/", "CoreDataSetVSToAddBundle")
	out, err := c.Transform(context.Background(), source, map[string]interface{}{"resourceType": "QuestionnaireResponse"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["echo"] != "QuestionnaireResponse" {
		t.Errorf("unexpected output %v", out)
	}
	if gotSource != "http://worldhealthorganization.github.io/ddcc/StructureMap/CoreDataSetVSToAddBundle" {
		t.Errorf("unexpected source %q", gotSource)
	}
	if gotContentType != "application/fhir+json;fhirVersion=4.0" {
		t.Errorf("unexpected content type %q", gotContentType)
	}
}

func TestTransform_OperationOutcome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"resourceType":"OperationOutcome","issue":[{"severity":"error","code":"processing","diagnostics":"map not found"}]}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second, zerolog.Nop()).Transform(context.Background(), "urn:map", map[string]interface{}{})
	if !errors.Is(err, ErrTransform) {
		t.Fatalf("expected ErrTransform, got %v", err)
	}
}
