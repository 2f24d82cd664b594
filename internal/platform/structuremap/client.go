// Package structuremap calls a matchbox StructureMap $transform endpoint.
package structuremap

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

const contentType = "application/fhir+json;fhirVersion=4.0"

// ErrTransform is returned when the service answers with an
// OperationOutcome or a non-2xx status.
var ErrTransform = errors.New("structure map transform failed")

// Client runs transforms against one matchbox server.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	logger  zerolog.Logger
}

// New creates a client for the matchbox server rooted at baseURL.
func New(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/") + "/",
		http:    &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		timeout: timeout,
		logger:  logger.With().Str("component", "structuremap").Logger(),
	}
}

// MapURL returns the canonical URL of a map published under canonicalBase.
func MapURL(canonicalBase, name string) string {
	return strings.TrimSuffix(canonicalBase, "/") + "/StructureMap/" + name
}

// Transform runs the map identified by its canonical URL over input.
func (c *Client) Transform(ctx context.Context, source string, input interface{}) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal transform input: %w", err)
	}
	target := c.baseURL + "StructureMap/$transform?source=" + url.QueryEscape(source)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build transform request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Info().Err(err).Str("map", source).Msg("error calling structure map")
		return nil, fmt.Errorf("transform %s: %w", source, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read transform response: %w", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode transform response: %w", err)
	}

	if fhir.IsResource(out, fhir.ResourceOperationOutcome) {
		c.logger.Info().Str("map", source).Msg("structure map returned an OperationOutcome")
		return nil, fmt.Errorf("%w: %s: %s", ErrTransform, source, fhir.OutcomeDiagnostics(out))
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%w: %s: status %d", ErrTransform, source, resp.StatusCode)
	}
	return out, nil
}
