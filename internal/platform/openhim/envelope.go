// Package openhim wraps responses in the OpenHIM mediator envelope when the
// mediator runs behind an OpenHIM core.
package openhim

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Transaction statuses understood by the OpenHIM console.
const (
	StatusSuccessful = "Successful"
	StatusCompleted  = "Completed"
	StatusFailed     = "Failed"
)

// ContentType is the media type of a wrapped response.
const ContentType = "application/json+openhim"

// Response is the orchestrated response recorded by OpenHIM.
type Response struct {
	Status    int               `json:"status"`
	Headers   map[string]string `json:"headers"`
	Body      interface{}       `json:"body"`
	Timestamp time.Time         `json:"timestamp"`
}

// Envelope is the mediator response body.
type Envelope struct {
	URN        string            `json:"x-mediator-urn"`
	Status     string            `json:"status"`
	Response   Response          `json:"response"`
	Properties map[string]string `json:"properties"`
}

// Wrapper renders handler results, wrapped or raw.
type Wrapper struct {
	standalone bool
	urn        string
	now        func() time.Time
}

// New creates a wrapper. A standalone wrapper writes bodies unchanged.
func New(standalone bool, urn string) *Wrapper {
	return &Wrapper{standalone: standalone, urn: urn, now: time.Now}
}

// Wrap returns body or its envelope.
func (w *Wrapper) Wrap(status int, body interface{}, contentType string) interface{} {
	if w.standalone {
		return body
	}
	txStatus := StatusSuccessful
	if status >= http.StatusBadRequest {
		txStatus = StatusFailed
	}
	if contentType == "" {
		contentType = echo.MIMEApplicationJSON
	}
	return Envelope{
		URN:    w.urn,
		Status: txStatus,
		Response: Response{
			Status:    status,
			Headers:   map[string]string{"content-type": contentType},
			Body:      body,
			Timestamp: w.now().UTC(),
		},
		Properties: map[string]string{"property": "Primary Route"},
	}
}

// JSON writes body with status, wrapped when not standalone.
func (w *Wrapper) JSON(c echo.Context, status int, body interface{}, contentType string) error {
	if w.standalone {
		if contentType == "" {
			contentType = echo.MIMEApplicationJSON
		}
		c.Response().Header().Set(echo.HeaderContentType, contentType)
		return c.JSON(status, body)
	}
	c.Response().Header().Set(echo.HeaderContentType, ContentType)
	return c.JSON(status, w.Wrap(status, body, contentType))
}
