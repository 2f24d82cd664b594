package certificate

import (
	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/fhir"
)

// ExtractQuestionnaireResponse accepts a QuestionnaireResponse directly or
// wrapped in a Parameters resource under the "response" parameter.
func ExtractQuestionnaireResponse(submission map[string]interface{}) (map[string]interface{}, error) {
	switch fhir.ResourceType(submission) {
	case fhir.ResourceQuestionnaireResponse:
		return submission, nil
	case fhir.ResourceParameters:
	default:
		return nil, validationError(fhir.IssueTypeRequired, ReasonInvalidSubmission, "Invalid resource submitted.")
	}

	params, ok := submission["parameter"].([]interface{})
	if !ok {
		return nil, validationError(fhir.IssueTypeRequired, ReasonInvalidSubmission, "Invalid resource submitted.")
	}
	for _, raw := range params {
		param, ok := raw.(map[string]interface{})
		if !ok || param["name"] != "response" {
			continue
		}
		res, ok := param["resource"].(map[string]interface{})
		if !ok {
			break
		}
		if !fhir.IsResource(res, fhir.ResourceQuestionnaireResponse) {
			return nil, validationError(fhir.IssueTypeRequired, ReasonInvalidSubmission, "Invalid response resource.")
		}
		return res, nil
	}
	return nil, validationError(fhir.IssueTypeRequired, ReasonInvalidSubmission,
		"Unable to find response or immunization/hcid parameters.")
}

// KindOf returns the questionnaire kind a response answers, provided it is
// one of the supported kinds.
func KindOf(qr map[string]interface{}, supported map[Kind]string) (Kind, error) {
	questionnaire, _ := qr["questionnaire"].(string)
	kind := ParseKind(questionnaire)
	if _, ok := supported[kind]; !ok {
		return "", validationError(fhir.IssueTypeRequired, ReasonUnknownQuestionnaire,
			"Do not know how to handle "+questionnaire)
	}
	return kind, nil
}
