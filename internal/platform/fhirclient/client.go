// Package fhirclient talks to the backing FHIR repository over HTTP. Every
// call runs under its own deadline and is traced through otelhttp.
package fhirclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/fhir"
)

// DefaultTimeout bounds a single repository round trip.
const DefaultTimeout = 30 * time.Second

// ErrUnexpectedResource is returned when the repository answers with a
// resource type other than the one the operation expects.
var ErrUnexpectedResource = errors.New("unexpected resource")

// RemoteError is a non-2xx answer from the repository.
type RemoteError struct {
	Method      string
	URL         string
	Status      int
	Diagnostics string
}

func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.Status)
	if e.Diagnostics != "" {
		msg += ": " + e.Diagnostics
	}
	return msg
}

// Client is a minimal FHIR REST client scoped to what the mediator needs.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	logger  zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default traced HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-call deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New creates a client for the repository rooted at baseURL.
func New(baseURL string, logger zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/") + "/",
		http:    &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		timeout: DefaultTimeout,
		logger:  logger.With().Str("component", "fhirclient").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the repository root with a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Search runs GET {type}?{query} and returns the searchset Bundle.
func (c *Client) Search(ctx context.Context, resourceType string, query url.Values) (*fhir.Bundle, error) {
	path := resourceType
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	res, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if err := expect(res, fhir.ResourceBundle); err != nil {
		return nil, err
	}
	return fhir.BundleFromMap(res)
}

// Read fetches a resource by relative location ("Type/id[/_history/v]") or
// absolute URL.
func (c *Client) Read(ctx context.Context, location string) (map[string]interface{}, error) {
	res, err := c.do(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("%w: empty body for %s", ErrUnexpectedResource, location)
	}
	return res, nil
}

// Document fetches the document projection of a Composition.
func (c *Client) Document(ctx context.Context, compositionID string) (map[string]interface{}, error) {
	res, err := c.do(ctx, http.MethodGet, fhir.FormatReference(fhir.ResourceComposition, compositionID)+"/$document", nil)
	if err != nil {
		return nil, err
	}
	if err := expect(res, fhir.ResourceBundle); err != nil {
		return nil, err
	}
	return res, nil
}

// Submit posts a batch or transaction Bundle to the repository root.
func (c *Client) Submit(ctx context.Context, bundle *fhir.Bundle) (*fhir.Bundle, error) {
	res, err := c.do(ctx, http.MethodPost, "", bundle)
	if err != nil {
		return nil, err
	}
	if err := expect(res, fhir.ResourceBundle); err != nil {
		return nil, err
	}
	return fhir.BundleFromMap(res)
}

// Update runs PUT {type}/{id} and returns the stored resource.
func (c *Client) Update(ctx context.Context, resourceType, id string, resource map[string]interface{}) (map[string]interface{}, error) {
	res, err := c.do(ctx, http.MethodPut, fhir.FormatReference(resourceType, id), resource)
	if err != nil {
		return nil, err
	}
	if err := expect(res, resourceType); err != nil {
		return nil, err
	}
	return res, nil
}

// Expunge hard-deletes a resource and purges its history.
func (c *Client) Expunge(ctx context.Context, resourceType, id string) error {
	_, err := c.do(ctx, http.MethodDelete, fhir.FormatReference(resourceType, id)+"?_expunge=true", nil)
	return err
}

// Ping checks that the repository answers its capability statement.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.do(ctx, http.MethodGet, "metadata", nil)
	if err != nil {
		return err
	}
	return expect(res, "CapabilityStatement")
}

// WaitReady polls Ping until it succeeds or ctx is done.
func (c *Client) WaitReady(ctx context.Context, interval time.Duration) error {
	for {
		err := c.Ping(ctx)
		if err == nil {
			c.logger.Info().Str("base_url", c.baseURL).Msg("FHIR server online")
			return nil
		}
		c.logger.Warn().Err(err).Msg("waiting for FHIR server")

		select {
		case <-ctx.Done():
			return fmt.Errorf("FHIR server not ready: %w", ctx.Err())
		case <-time.After(interval):
		}
	}
}

func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + strings.TrimPrefix(path, "/")
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.resolve(path)

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s %s body: %w", method, target, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, target, err)
	}
	req.Header.Set("Content-Type", fhir.ContentType)
	req.Header.Set("Accept", fhir.ContentType)
	req.Header.Set("Cache-Control", "no-cache")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s %s response: %w", method, target, err)
	}

	c.logger.Debug().
		Str("method", method).
		Str("url", target).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("repository call")

	var res map[string]interface{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &res); err != nil {
			if resp.StatusCode >= http.StatusMultipleChoices {
				return nil, &RemoteError{Method: method, URL: target, Status: resp.StatusCode, Diagnostics: http.StatusText(resp.StatusCode)}
			}
			return nil, fmt.Errorf("decode %s %s response: %w", method, target, err)
		}
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		diag := fhir.OutcomeDiagnostics(res)
		if diag == "" {
			diag = http.StatusText(resp.StatusCode)
		}
		return nil, &RemoteError{Method: method, URL: target, Status: resp.StatusCode, Diagnostics: diag}
	}
	return res, nil
}

func expect(res map[string]interface{}, resourceType string) error {
	got := fhir.ResourceType(res)
	if got == resourceType {
		return nil
	}
	if got == fhir.ResourceOperationOutcome {
		return fmt.Errorf("%w: %s", ErrUnexpectedResource, fhir.OutcomeDiagnostics(res))
	}
	return fmt.Errorf("%w: expected %s, got %q", ErrUnexpectedResource, resourceType, got)
}
