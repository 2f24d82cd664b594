package healthfolder

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/fhir"
	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/openhim"
)

func TestHandler_Routes(t *testing.T) {
	svc, srv := newTestService(t)
	srv.Seed(folder("l1", "HC1", FolderCode))
	seedCertificate(srv, fhir.ContentType)

	e := echo.New()
	NewHandler(svc, openhim.New(true, "")).RegisterRoutes(e.Group("/ddcc"))

	tests := []struct {
		name         string
		path         string
		wantStatus   int
		resourceType string
	}{
		{"folder search", "/ddcc/List?identifier=" + folderSystem + "|HC1", http.StatusOK, fhir.ResourceBundle},
		{"certificate", "/ddcc/DocumentReference/ref-1", http.StatusOK, fhir.ResourceBundle},
		{"missing certificate", "/ddcc/DocumentReference/nope", http.StatusBadRequest, fhir.ResourceOperationOutcome},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			var body map[string]interface{}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if body["resourceType"] != tt.resourceType {
				t.Errorf("expected %s, got %v", tt.resourceType, body["resourceType"])
			}
		})
	}
}

func TestHandler_CertificateErrorDiagnostics(t *testing.T) {
	svc, srv := newTestService(t)
	seedCertificate(srv, "image/png")

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ddcc/DocumentReference/ref-1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("ref-1")

	if err := NewHandler(svc, openhim.New(true, "")).GetCertificate(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := fhir.OutcomeDiagnostics(body); got != "Could not retrieve DDCCVSDocument" {
		t.Errorf("unexpected diagnostics %q", got)
	}
}
