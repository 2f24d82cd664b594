package certificate

import (
	"context"
	"net/http"

	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/fhir"
)

// GenerateOperation is the only request a submission batch entry may carry.
const GenerateOperation = "QuestionnaireResponse/$generateHealthCertificate"

// Generator produces the resource answering one batch entry.
type Generator func(ctx context.Context, resource map[string]interface{}) (map[string]interface{}, error)

// ProcessBatch runs gen over every entry of a batch Bundle in order and
// collects a batch-response. Entries fail independently.
func ProcessBatch(ctx context.Context, batch map[string]interface{}, successStatus string, gen Generator) (*fhir.Bundle, error) {
	if t, _ := batch["type"].(string); !fhir.IsResource(batch, fhir.ResourceBundle) || t != fhir.BundleTypeBatch {
		return nil, validationError(fhir.IssueTypeStructure, ReasonInvalidSubmission, "Invalid resource submitted")
	}
	if _, ok := batch["entry"].([]interface{}); !ok {
		return nil, validationError(fhir.IssueTypeStructure, ReasonInvalidSubmission, "Invalid resource submitted")
	}
	bundle, err := fhir.BundleFromMap(batch)
	if err != nil {
		return nil, validationError(fhir.IssueTypeStructure, ReasonInvalidSubmission, "Invalid resource submitted")
	}

	out := make([]fhir.BundleEntry, 0, len(bundle.Entry))
	for _, e := range bundle.Entry {
		if e.Request == nil || e.Request.Method != http.MethodPost || e.Request.URL != GenerateOperation {
			out = append(out, fhir.BundleEntry{
				Resource: fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeNotFound, "Invalid entry resource submitted").ToMap(),
				Response: &fhir.BundleResponse{Status: "400"},
			})
			continue
		}

		res, err := gen(ctx, e.Resource)
		if err != nil {
			out = append(out, fhir.BundleEntry{
				Resource: AsError(err).Outcome().ToMap(),
				Response: &fhir.BundleResponse{Status: "500"},
			})
			continue
		}
		out = append(out, fhir.BundleEntry{
			Resource: res,
			Response: &fhir.BundleResponse{Status: successStatus},
		})
	}
	return fhir.NewBatchResponse(out), nil
}
