package fhirclient_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/fhir"
	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/fhirclient"
	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/fhirclient/fhirtest"
)

func newClient(t *testing.T) (*fhirclient.Client, *fhirtest.Server) {
	t.Helper()
	srv := fhirtest.NewServer()
	t.Cleanup(srv.Close)
	return fhirclient.New(srv.BaseURL(), zerolog.Nop(), fhirclient.WithTimeout(5*time.Second)), srv
}

func TestSearch_ByIdentifier(t *testing.T) {
	c, srv := newClient(t)
	srv.Seed(map[string]interface{}{
		"resourceType": "Patient",
		"id":           "p1",
		"identifier":   []interface{}{map[string]interface{}{"system": "urn:ids", "value": "P123"}},
	})

	res, err := c.Search(context.Background(), "Patient", url.Values{"identifier": {"P123"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := fhir.FirstMatch(res, "Patient"); fhir.ResourceID(got) != "p1" {
		t.Errorf("expected p1, got %v", got)
	}

	res, err = c.Search(context.Background(), "Patient", url.Values{"identifier": {"urn:other|P123"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fhir.FirstMatch(res, "Patient") != nil {
		t.Error("expected no match for a different system")
	}
}

func TestSubmit_TransactionAssignsLocations(t *testing.T) {
	c, srv := newClient(t)

	resp, err := c.Submit(context.Background(), &fhir.Bundle{
		ResourceType: "Bundle",
		Type:         fhir.BundleTypeTransaction,
		Entry: []fhir.BundleEntry{{
			Resource: map[string]interface{}{"resourceType": "Patient"},
			Request:  &fhir.BundleRequest{Method: "PUT", URL: "Patient/abc"},
		}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Type != fhir.BundleTypeTransactionResponse {
		t.Errorf("expected transaction-response, got %s", resp.Type)
	}
	if resp.Entry[0].Response == nil || resp.Entry[0].Response.Location != "Patient/abc/_history/1" {
		t.Errorf("unexpected response entry: %+v", resp.Entry[0].Response)
	}
	if _, ok := srv.Get("Patient", "abc"); !ok {
		t.Error("expected Patient/abc to be stored")
	}
}

func TestRead_Location(t *testing.T) {
	c, srv := newClient(t)
	srv.Seed(map[string]interface{}{"resourceType": "Bundle", "id": "b1", "type": "document"})

	res, err := c.Read(context.Background(), "Bundle/b1/_history/1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fhir.ResourceID(res) != "b1" {
		t.Errorf("expected b1, got %v", res["id"])
	}
}

func TestRemoteErrorCarriesDiagnostics(t *testing.T) {
	c, srv := newClient(t)
	srv.FailExpunge["Patient"] = true

	err := c.Expunge(context.Background(), "Patient", "p1")
	var remote *fhirclient.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if remote.Status != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", remote.Status)
	}
	if remote.Diagnostics != "expunge failed for Patient" {
		t.Errorf("unexpected diagnostics %q", remote.Diagnostics)
	}
}

func TestUpdate_UnexpectedResource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", fhir.ContentType)
		_, _ = w.Write([]byte(`{"resourceType":"OperationOutcome","issue":[{"severity":"error","code":"processing","diagnostics":"boom"}]}`))
	}))
	defer srv.Close()

	c := fhirclient.New(srv.URL, zerolog.Nop())
	_, err := c.Update(context.Background(), "Bundle", "b1", map[string]interface{}{"resourceType": "Bundle"})
	if !errors.Is(err, fhirclient.ErrUnexpectedResource) {
		t.Fatalf("expected ErrUnexpectedResource, got %v", err)
	}
}

func TestCallDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := fhirclient.New(srv.URL, zerolog.Nop(), fhirclient.WithTimeout(50*time.Millisecond))
	start := time.Now()
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("expected deadline error")
	}
	if time.Since(start) > time.Second {
		t.Errorf("call was not bounded by its deadline")
	}
}

func TestWaitReady(t *testing.T) {
	c, _ := newClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.WaitReady(ctx, 10*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
