package fhir

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Bundle types used by the mediator.
const (
	BundleTypeBatch               = "batch"
	BundleTypeBatchResponse       = "batch-response"
	BundleTypeDocument            = "document"
	BundleTypeTransaction         = "transaction"
	BundleTypeTransactionResponse = "transaction-response"
	BundleTypeSearchset           = "searchset"
)

// Bundle represents a FHIR Bundle resource. Entry resources are kept as
// generic maps so fields the mediator does not model survive a round trip.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type"`
	Total        *int          `json:"total,omitempty"`
	Link         []BundleLink  `json:"link,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
	Timestamp    string        `json:"timestamp,omitempty"`
}

type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

type BundleEntry struct {
	FullURL  string                 `json:"fullUrl,omitempty"`
	Resource map[string]interface{} `json:"resource,omitempty"`
	Request  *BundleRequest         `json:"request,omitempty"`
	Response *BundleResponse        `json:"response,omitempty"`
}

type BundleRequest struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

type BundleResponse struct {
	Status       string      `json:"status"`
	Location     string      `json:"location,omitempty"`
	ETag         string      `json:"etag,omitempty"`
	LastModified string      `json:"lastModified,omitempty"`
	Outcome      interface{} `json:"outcome,omitempty"`
}

// ParseBundle decodes raw JSON into a Bundle, rejecting any other resource type.
func ParseBundle(body []byte) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(body, &b); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if b.ResourceType != ResourceBundle {
		return nil, fmt.Errorf("expected resourceType Bundle, got %q", b.ResourceType)
	}
	return &b, nil
}

// BundleFromMap converts a generic resource map into a Bundle.
func BundleFromMap(r map[string]interface{}) (*Bundle, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal bundle: %w", err)
	}
	return ParseBundle(raw)
}

// ToMap converts the Bundle back into a generic resource map.
func (b *Bundle) ToMap() (map[string]interface{}, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("marshal bundle: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal bundle: %w", err)
	}
	return m, nil
}

// FirstEntryOfType returns a pointer to the first entry whose resource has the
// given resourceType. The pointer aliases the slice element so callers may
// rewrite the entry in place. Entries without a resource are skipped.
func FirstEntryOfType(entries []BundleEntry, resourceType string) (*BundleEntry, bool) {
	for i := range entries {
		if IsResource(entries[i].Resource, resourceType) {
			return &entries[i], true
		}
	}
	return nil, false
}

// FirstMatch returns the first resource of a search result when the result is
// a non-empty Bundle whose first entry has the expected resourceType. Any other
// shape yields nil.
func FirstMatch(result *Bundle, resourceType string) map[string]interface{} {
	if result == nil || result.ResourceType != ResourceBundle {
		return nil
	}
	if result.Total != nil && *result.Total == 0 {
		return nil
	}
	if len(result.Entry) == 0 {
		return nil
	}
	if !IsResource(result.Entry[0].Resource, resourceType) {
		return nil
	}
	return result.Entry[0].Resource
}

// SnapshotEntries copies entries with their transport-only fields removed.
func SnapshotEntries(entries []BundleEntry) []BundleEntry {
	out := make([]BundleEntry, len(entries))
	for i, e := range entries {
		out[i] = BundleEntry{FullURL: e.FullURL, Resource: e.Resource}
	}
	return out
}

// NewBatchResponse creates a batch-response Bundle from entry outcomes.
func NewBatchResponse(entries []BundleEntry) *Bundle {
	return &Bundle{
		ResourceType: ResourceBundle,
		Type:         BundleTypeBatchResponse,
		Entry:        entries,
	}
}

// ParseEntryURL parses a relative FHIR URL such as a Bundle entry request url
// or a response location. It returns the resource type and the resource ID (if
// present). Version suffixes ("/_history/1") and absolute prefixes are ignored.
//
// Examples:
//
//	"Patient/123"                    -> ("Patient", "123")
//	"Bundle/abc/_history/1"          -> ("Bundle", "abc")
//	"http://srv/fhir/Patient/1"      -> ("Patient", "1")
//	"Patient?identifier=P1"          -> ("Patient", "")
func ParseEntryURL(url string) (resourceType, id string) {
	if idx := strings.Index(url, "?"); idx >= 0 {
		url = url[:idx]
	}
	if idx := strings.Index(url, "/_history"); idx >= 0 {
		url = url[:idx]
	}
	parts := strings.Split(strings.Trim(url, "/"), "/")
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[len(parts)-2], parts[len(parts)-1]
}
