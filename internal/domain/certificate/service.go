package certificate

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/fhir"
)

// Service turns submissions into signed documents.
type Service struct {
	normalizer Normalizer
	pipeline   *Pipeline
	// kinds maps supported questionnaires to the version they stamp.
	kinds  map[Kind]string
	now    func() time.Time
	logger zerolog.Logger
}

func NewService(normalizer Normalizer, pipeline *Pipeline, logger zerolog.Logger) *Service {
	return &Service{
		normalizer: normalizer,
		pipeline:   pipeline,
		kinds:      map[Kind]string{KindDDCC: DDCCVersion},
		now:        time.Now,
		logger:     logger.With().Str("component", "certificate-service").Logger(),
	}
}

// Generate handles a QuestionnaireResponse or a Parameters-wrapped one.
func (s *Service) Generate(ctx context.Context, submission map[string]interface{}) (*Result, error) {
	qr, err := ExtractQuestionnaireResponse(submission)
	if err != nil {
		return nil, err
	}
	kind, err := KindOf(qr, s.kinds)
	if err != nil {
		return nil, err
	}

	cds, err := s.normalizer.Normalize(ctx, kind, qr)
	if err != nil {
		return nil, AsError(err)
	}
	if fhir.IsResource(cds, fhir.ResourceOperationOutcome) {
		return nil, lookupError(ReasonNormalize, fhir.OutcomeDiagnostics(cds))
	}

	cctx := NewContext(kind, s.kinds[kind], cds, s.now())
	cctx.QuestionnaireResponse = qr
	return s.pipeline.Run(ctx, cctx)
}

// GenerateIPS runs the pipeline once per core data set converted from an
// IPS document. Entries are independent; the outcome of the last one is
// returned.
func (s *Service) GenerateIPS(ctx context.Context, ips map[string]interface{}) (*Result, error) {
	if !fhir.IsResource(ips, fhir.ResourceBundle) {
		return nil, validationError(fhir.IssueTypeRequired, ReasonInvalidSubmission, "Invalid resource submitted.")
	}
	sets, err := s.normalizer.NormalizeIPS(ctx, ips)
	if err != nil {
		return nil, AsError(err)
	}

	var (
		last    *Result
		lastErr error
	)
	for i, cds := range sets {
		last, lastErr = s.pipeline.Run(ctx, NewContext(KindDDCC, s.kinds[KindDDCC], cds, s.now()))
		if lastErr != nil {
			s.logger.Warn().Err(lastErr).Int("entry", i).Msg("IPS entry failed")
		}
	}
	return last, lastErr
}
