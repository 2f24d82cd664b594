package fhir

import (
	"encoding/json"
	"fmt"
	"io"
)

// ContentType is the media type used for every repository exchange.
const ContentType = "application/fhir+json"

// Resource type names the mediator reads or writes.
const (
	ResourceBundle                     = "Bundle"
	ResourceComposition                = "Composition"
	ResourceDocumentReference          = "DocumentReference"
	ResourceImmunization               = "Immunization"
	ResourceImmunizationRecommendation = "ImmunizationRecommendation"
	ResourceList                       = "List"
	ResourceOperationOutcome           = "OperationOutcome"
	ResourceOrganization               = "Organization"
	ResourceParameters                 = "Parameters"
	ResourcePatient                    = "Patient"
	ResourceQuestionnaireResponse      = "QuestionnaireResponse"
)

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

type Reference struct {
	Reference  string      `json:"reference,omitempty"`
	Type       string      `json:"type,omitempty"`
	Identifier *Identifier `json:"identifier,omitempty"`
	Display    string      `json:"display,omitempty"`
}

type Identifier struct {
	Use    string `json:"use,omitempty"`
	System string `json:"system,omitempty"`
	Value  string `json:"value,omitempty"`
}

// Signature is the detached signature block carried by a signed document.
type Signature struct {
	Type []Coding  `json:"type"`
	When string    `json:"when"`
	Who  Reference `json:"who"`
	Data string    `json:"data"`
}

// OperationOutcome represents a FHIR OperationOutcome for errors.
type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

type OperationOutcomeIssue struct {
	Severity    string           `json:"severity"`
	Code        string           `json:"code"`
	Details     *CodeableConcept `json:"details,omitempty"`
	Diagnostics string           `json:"diagnostics,omitempty"`
	Expression  []string         `json:"expression,omitempty"`
}

func NewOperationOutcome(severity, code, diagnostics string) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: ResourceOperationOutcome,
		Issue: []OperationOutcomeIssue{
			{
				Severity:    severity,
				Code:        code,
				Diagnostics: diagnostics,
			},
		},
	}
}

func ErrorOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeException, diagnostics)
}

// ResourceType returns the resourceType of a generic resource map.
func ResourceType(r map[string]interface{}) string {
	rt, _ := r["resourceType"].(string)
	return rt
}

// ResourceID returns the id of a generic resource map.
func ResourceID(r map[string]interface{}) string {
	id, _ := r["id"].(string)
	return id
}

// IsResource reports whether r is a non-nil resource of the given type.
func IsResource(r map[string]interface{}, resourceType string) bool {
	return r != nil && ResourceType(r) == resourceType
}

// FormatReference creates a FHIR reference string.
func FormatReference(resourceType, id string) string {
	return resourceType + "/" + id
}

// OutcomeDiagnostics joins the diagnostics of every issue in a raw
// OperationOutcome map. Used when a remote service answers with an outcome
// instead of the expected resource.
func OutcomeDiagnostics(r map[string]interface{}) string {
	issues, _ := r["issue"].([]interface{})
	var msg string
	for _, raw := range issues {
		issue, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		d, _ := issue["diagnostics"].(string)
		if d == "" {
			d, _ = issue["code"].(string)
		}
		if d == "" {
			continue
		}
		if msg != "" {
			msg += "; "
		}
		msg += d
	}
	return msg
}

// DecodeResource reads a JSON resource of any type from r.
func DecodeResource(r io.Reader) (map[string]interface{}, error) {
	var res map[string]interface{}
	if err := json.NewDecoder(r).Decode(&res); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if ResourceType(res) == "" {
		return nil, fmt.Errorf("missing resourceType")
	}
	return res, nil
}
