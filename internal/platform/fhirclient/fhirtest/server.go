// Package fhirtest provides an in-memory FHIR repository for tests. It
// understands the subset of the REST API the mediator uses and records every
// call it receives.
package fhirtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/fhir"
)

// BasePath is the path prefix the fake repository is mounted on.
const BasePath = "/fhir/"

// Call is one request received by the fake repository.
type Call struct {
	Method string
	Path   string
	Query  url.Values
}

// Server is a fake FHIR repository backed by a map.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	resources map[string]map[string]interface{}
	versions  map[string]int
	calls     []Call

	// Failure injection. Set before the code under test runs.
	FailTransaction bool
	FailDocument    bool
	FailUpdate      bool
	FailSearch      map[string]bool
	FailExpunge     map[string]bool
}

// NewServer starts a fake repository. Close it with s.Close().
func NewServer() *Server {
	s := &Server{
		resources:   make(map[string]map[string]interface{}),
		versions:    make(map[string]int),
		FailSearch:  make(map[string]bool),
		FailExpunge: make(map[string]bool),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// BaseURL is the repository root, suitable for fhirclient.New.
func (s *Server) BaseURL() string {
	return s.URL + BasePath
}

// Seed stores a resource as if it already existed.
func (s *Server) Seed(resource map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store(clone(resource))
}

// Get returns a copy of a stored resource.
func (s *Server) Get(resourceType, id string) (map[string]interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resources[fhir.FormatReference(resourceType, id)]
	if !ok {
		return nil, false
	}
	return clone(r), true
}

// Count returns how many resources of a type are stored.
func (s *Server) Count(resourceType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key := range s.resources {
		if strings.HasPrefix(key, resourceType+"/") {
			n++
		}
	}
	return n
}

// Calls returns every recorded call in arrival order.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallsMatching filters recorded calls by method and path prefix.
func (s *Server) CallsMatching(method, pathPrefix string) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.Method == method && strings.HasPrefix(c.Path, pathPrefix) {
			out = append(out, c)
		}
	}
	return out
}

// Expunged returns the "Type/id" keys that received an expunge, sorted.
func (s *Server) Expunged() []string {
	var out []string
	for _, c := range s.CallsMatching(http.MethodDelete, "") {
		if c.Query.Get("_expunge") == "true" {
			out = append(out, c.Path)
		}
	}
	sort.Strings(out)
	return out
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, BasePath), "/")

	s.mu.Lock()
	s.calls = append(s.calls, Call{Method: r.Method, Path: path, Query: r.URL.Query()})
	s.mu.Unlock()

	parts := strings.Split(path, "/")
	switch {
	case r.Method == http.MethodGet && path == "metadata":
		writeJSON(w, http.StatusOK, map[string]interface{}{"resourceType": "CapabilityStatement", "status": "active"})
	case r.Method == http.MethodPost && path == "":
		s.handleBundle(w, r)
	case r.Method == http.MethodGet && len(parts) == 1:
		s.handleSearch(w, parts[0], r.URL.Query())
	case r.Method == http.MethodGet && len(parts) == 3 && parts[0] == fhir.ResourceComposition && parts[2] == "$document":
		s.handleDocument(w, parts[1])
	case r.Method == http.MethodGet && (len(parts) == 2 || (len(parts) == 4 && parts[2] == "_history")):
		s.handleRead(w, parts[0], parts[1])
	case r.Method == http.MethodPut && len(parts) == 2:
		s.handleUpdate(w, r, parts[0], parts[1])
	case r.Method == http.MethodDelete && len(parts) == 2:
		s.handleDelete(w, parts[0], parts[1])
	default:
		writeOutcome(w, http.StatusBadRequest, "not-supported", "unsupported request "+r.Method+" "+path)
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, resourceType string, query url.Values) {
	if s.FailSearch[resourceType] {
		writeOutcome(w, http.StatusInternalServerError, "exception", "search failure")
		return
	}

	s.mu.Lock()
	var keys []string
	for key := range s.resources {
		if strings.HasPrefix(key, resourceType+"/") {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	var entries []interface{}
	for _, key := range keys {
		res := s.resources[key]
		if matches(res, query) {
			entries = append(entries, map[string]interface{}{
				"fullUrl":  s.BaseURL() + key,
				"resource": clone(res),
			})
		}
	}
	s.mu.Unlock()

	bundle := map[string]interface{}{
		"resourceType": fhir.ResourceBundle,
		"type":         fhir.BundleTypeSearchset,
		"total":        len(entries),
	}
	if len(entries) > 0 {
		bundle["entry"] = entries
	}
	writeJSON(w, http.StatusOK, bundle)
}

func (s *Server) handleRead(w http.ResponseWriter, resourceType, id string) {
	res, ok := s.Get(resourceType, id)
	if !ok {
		writeOutcome(w, http.StatusNotFound, "not-found", fhir.FormatReference(resourceType, id)+" not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDocument(w http.ResponseWriter, id string) {
	if s.FailDocument {
		writeOutcome(w, http.StatusInternalServerError, "exception", "document generation failed")
		return
	}
	comp, ok := s.Get(fhir.ResourceComposition, id)
	if !ok {
		writeOutcome(w, http.StatusNotFound, "not-found", "Composition/"+id+" not found")
		return
	}
	entries := []interface{}{map[string]interface{}{
		"fullUrl":  s.BaseURL() + "Composition/" + id,
		"resource": comp,
	}}
	if subject, ok := comp["subject"].(map[string]interface{}); ok {
		if ref, _ := subject["reference"].(string); ref != "" {
			rt, rid := fhir.ParseEntryURL(ref)
			if res, ok := s.Get(rt, rid); ok {
				entries = append(entries, map[string]interface{}{"fullUrl": s.BaseURL() + ref, "resource": res})
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"resourceType": fhir.ResourceBundle,
		"id":           uuid.New().String(),
		"type":         fhir.BundleTypeDocument,
		"total":        len(entries),
		"entry":        entries,
	})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request, resourceType, id string) {
	if s.FailUpdate {
		writeOutcome(w, http.StatusInternalServerError, "exception", "update failed")
		return
	}
	var res map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
		writeOutcome(w, http.StatusBadRequest, "structure", err.Error())
		return
	}
	if fhir.ResourceType(res) != resourceType {
		writeOutcome(w, http.StatusBadRequest, "invalid", "resourceType mismatch")
		return
	}
	res["id"] = id

	s.mu.Lock()
	stored := s.store(res)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, stored)
}

func (s *Server) handleDelete(w http.ResponseWriter, resourceType, id string) {
	if s.FailExpunge[resourceType] {
		writeOutcome(w, http.StatusInternalServerError, "exception", "expunge failed for "+resourceType)
		return
	}
	key := fhir.FormatReference(resourceType, id)
	s.mu.Lock()
	_, ok := s.resources[key]
	delete(s.resources, key)
	delete(s.versions, key)
	s.mu.Unlock()
	if !ok {
		writeOutcome(w, http.StatusNotFound, "not-found", key+" not found")
		return
	}
	writeOutcome(w, http.StatusOK, "informational", "expunged "+key)
}

func (s *Server) handleBundle(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeOutcome(w, http.StatusBadRequest, "structure", err.Error())
		return
	}
	bundle, err := fhir.ParseBundle(raw)
	if err != nil {
		writeOutcome(w, http.StatusBadRequest, "structure", err.Error())
		return
	}
	if bundle.Type == fhir.BundleTypeTransaction && s.FailTransaction {
		writeOutcome(w, http.StatusInternalServerError, "exception", "transaction rejected")
		return
	}

	respType := fhir.BundleTypeBatchResponse
	if bundle.Type == fhir.BundleTypeTransaction {
		respType = fhir.BundleTypeTransactionResponse
	}

	s.mu.Lock()
	var out []interface{}
	for _, e := range bundle.Entry {
		if e.Request == nil || e.Resource == nil {
			out = append(out, map[string]interface{}{"response": map[string]interface{}{"status": "400 Bad Request"}})
			continue
		}
		res := clone(e.Resource)
		rt, id := fhir.ParseEntryURL(e.Request.URL)
		status := "200 OK"
		if e.Request.Method == http.MethodPost || id == "" {
			id = uuid.New().String()
			status = "201 Created"
		} else if _, exists := s.resources[fhir.FormatReference(rt, id)]; !exists {
			status = "201 Created"
		}
		res["id"] = id
		stored := s.store(res)
		meta, _ := stored["meta"].(map[string]interface{})
		out = append(out, map[string]interface{}{
			"response": map[string]interface{}{
				"status":   status,
				"location": fmt.Sprintf("%s/%s/_history/%v", rt, id, meta["versionId"]),
			},
		})
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"resourceType": fhir.ResourceBundle,
		"id":           uuid.New().String(),
		"type":         respType,
		"entry":        out,
	})
}

// store must be called with s.mu held.
func (s *Server) store(res map[string]interface{}) map[string]interface{} {
	key := fhir.FormatReference(fhir.ResourceType(res), fhir.ResourceID(res))
	s.versions[key]++
	res["meta"] = map[string]interface{}{
		"versionId":   fmt.Sprint(s.versions[key]),
		"lastUpdated": "2024-01-01T00:00:00.000Z",
	}
	s.resources[key] = res
	return clone(res)
}

// matches supports the identifier, name, name:exact and code search
// parameters. Plain name search is a case-insensitive prefix match.
func matches(res map[string]interface{}, query url.Values) bool {
	for param, values := range query {
		if strings.HasPrefix(param, "_") {
			continue
		}
		want := values[0]
		switch param {
		case "identifier":
			if !matchIdentifier(res["identifier"], want) {
				return false
			}
		case "name":
			name, _ := res["name"].(string)
			if !strings.HasPrefix(strings.ToLower(name), strings.ToLower(want)) {
				return false
			}
		case "name:exact":
			if name, _ := res["name"].(string); name != want {
				return false
			}
		case "code":
			raw, _ := json.Marshal(res["code"])
			if !strings.Contains(string(raw), `"`+want+`"`) {
				return false
			}
		default:
			if fmt.Sprint(res[param]) != want {
				return false
			}
		}
	}
	return true
}

func matchIdentifier(raw interface{}, want string) bool {
	system, value := "", want
	if i := strings.Index(want, "|"); i >= 0 {
		system, value = want[:i], want[i+1:]
	}
	var ids []interface{}
	switch v := raw.(type) {
	case []interface{}:
		ids = v
	case map[string]interface{}:
		ids = []interface{}{v}
	}
	for _, item := range ids {
		id, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		s, _ := id["system"].(string)
		v, _ := id["value"].(string)
		if v == value && (system == "" || s == system) {
			return true
		}
	}
	return false
}

func clone(r map[string]interface{}) map[string]interface{} {
	raw, _ := json.Marshal(r)
	var out map[string]interface{}
	_ = json.Unmarshal(raw, &out)
	return out
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", fhir.ContentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOutcome(w http.ResponseWriter, status int, code, diagnostics string) {
	severity := fhir.IssueSeverityError
	if status < http.StatusBadRequest {
		severity = fhir.IssueSeverityInformation
	}
	writeJSON(w, status, fhir.NewOperationOutcome(severity, code, diagnostics))
}
