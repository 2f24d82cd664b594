package openhim

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestWrap_Standalone(t *testing.T) {
	w := New(true, "urn:mediator:ddcc")
	body := map[string]string{"resourceType": "Bundle"}
	if got := w.Wrap(200, body, ""); got.(map[string]string)["resourceType"] != "Bundle" {
		t.Errorf("expected body unchanged, got %v", got)
	}
}

func TestWrap_Envelope(t *testing.T) {
	w := New(false, "urn:mediator:ddcc")
	w.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	env, ok := w.Wrap(http.StatusBadRequest, "boom", "").(Envelope)
	if !ok {
		t.Fatal("expected an Envelope")
	}
	if env.URN != "urn:mediator:ddcc" {
		t.Errorf("unexpected urn %q", env.URN)
	}
	if env.Status != StatusFailed {
		t.Errorf("expected Failed, got %s", env.Status)
	}
	if env.Response.Status != http.StatusBadRequest || env.Response.Headers["content-type"] != "application/json" {
		t.Errorf("unexpected response %+v", env.Response)
	}
	if env.Properties["property"] != "Primary Route" {
		t.Errorf("unexpected properties %v", env.Properties)
	}
}

func TestJSON_WritesEnvelope(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	w := New(false, "urn:mediator:ddcc")
	if err := w.JSON(c, http.StatusOK, map[string]string{"resourceType": "Bundle"}, "application/fhir+json"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get("Content-Type") != ContentType {
		t.Errorf("unexpected content type %q", rec.Header().Get("Content-Type"))
	}
	var got map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["status"] != StatusSuccessful {
		t.Errorf("expected Successful, got %v", got["status"])
	}
}
