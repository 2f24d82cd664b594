package certificate

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/fhir"
)

// ErrorKind classifies pipeline failures.
type ErrorKind int

const (
	KindValidation ErrorKind = iota + 1
	KindLookup
	KindTransport
	KindMissingDependency
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindLookup:
		return "lookup"
	case KindTransport:
		return "transport"
	case KindMissingDependency:
		return "missing-dependency"
	}
	return "unknown"
}

// Failure reasons.
const (
	ReasonInvalidSubmission    = "invalid-submission"
	ReasonUnknownQuestionnaire = "unknown-questionnaire"
	ReasonMissingIdentifier    = "missing-identifier"
	ReasonMissingPatient       = "missing-patient"
	ReasonMissingComposition   = "missing-composition"
	ReasonNotSigned            = "not-signed"
	ReasonNormalize            = "normalize"
	ReasonAssemble             = "assemble"
	ReasonLock                 = "identity-lock"
	ReasonCommit               = "commit"
	ReasonCompose              = "compose"
	ReasonSign                 = "sign"
	ReasonNotFound             = "not-found"
)

// Error is a pipeline failure carried by value to the caller. Code is the
// OperationOutcome issue code.
type Error struct {
	Kind   ErrorKind
	Code   string
	Reason string
	Detail string
	Stage  Stage
	Err    error
}

func (e *Error) Error() string {
	msg := e.Reason + ": " + e.Detail
	if e.Stage != "" {
		msg = string(e.Stage) + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Outcome renders the error as an OperationOutcome.
func (e *Error) Outcome() *fhir.OperationOutcome {
	return fhir.NewOperationOutcome(fhir.IssueSeverityError, e.Code, e.Detail)
}

// HTTPStatus maps the issue code to a response status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case fhir.IssueTypeRequired, fhir.IssueTypeStructure:
		return http.StatusBadRequest
	case fhir.IssueTypeNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func validationError(code, reason, detail string) *Error {
	return &Error{Kind: KindValidation, Code: code, Reason: reason, Detail: detail}
}

func lookupError(reason, detail string) *Error {
	return &Error{Kind: KindLookup, Code: fhir.IssueTypeException, Reason: reason, Detail: detail}
}

// transportError keeps the underlying message as the detail.
func transportError(reason string, err error) *Error {
	return &Error{Kind: KindTransport, Code: fhir.IssueTypeException, Reason: reason, Detail: err.Error(), Err: err}
}

func missingDependency(reason, detail string) *Error {
	return &Error{Kind: KindMissingDependency, Code: fhir.IssueTypeException, Reason: reason, Detail: detail}
}

// AsError returns err as an *Error, classifying unknown errors as
// transport exceptions.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return transportError("internal", err)
}

// Errorf builds a validation error for callers outside the pipeline.
func Errorf(code, reason, format string, args ...interface{}) *Error {
	return validationError(code, reason, fmt.Sprintf(format, args...))
}
