package fhir

// OperationOutcome severity levels.
const (
	IssueSeverityFatal       = "fatal"
	IssueSeverityError       = "error"
	IssueSeverityWarning     = "warning"
	IssueSeverityInformation = "information"
)

// OperationOutcome issue type codes the mediator emits.
const (
	IssueTypeStructure = "structure"
	IssueTypeRequired  = "required"
	IssueTypeNotFound  = "not-found"
	IssueTypeException = "exception"
	IssueTypeTimeout   = "timeout"
	IssueTypeThrottled = "throttled"
)

// ThrottleOutcome creates a 429-style OperationOutcome indicating the server is
// rate-limiting the client.
func ThrottleOutcome() *OperationOutcome {
	return NewOperationOutcome(
		IssueSeverityError,
		IssueTypeThrottled,
		"Rate limit exceeded. Please retry after a delay.",
	)
}

// ToMap converts the outcome into a generic resource map so it can sit in a
// Bundle entry.
func (o *OperationOutcome) ToMap() map[string]interface{} {
	issues := make([]interface{}, 0, len(o.Issue))
	for _, is := range o.Issue {
		m := map[string]interface{}{"severity": is.Severity, "code": is.Code}
		if is.Diagnostics != "" {
			m["diagnostics"] = is.Diagnostics
		}
		issues = append(issues, m)
	}
	return map[string]interface{}{"resourceType": o.ResourceType, "issue": issues}
}
