package icvp

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/domain/certificate"
	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/fhir"
	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/hcert"
	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/qrimage"
)

const (
	// QRTypeSystem codes the DocumentReference as a DVC QR.
	QRTypeSystem = "http://worldhealthorganization.github.io/icvp/CodeSystem/DVC-QR-Type-CodeSystem"
	QRTypeCode   = "dvc"

	ReasonQR = "qr"

	// ContentTypeHC1 labels the raw HC1 string attached next to the image.
	ContentTypeHC1 = "text/plain"
)

// Service turns DVC questionnaire responses into QR DocumentReferences.
type Service struct {
	normalizer certificate.Normalizer
	issuer     *hcert.Issuer
	logger     zerolog.Logger
}

// NewService returns a Service signing with issuer, whose CWT iss claim
// carries the issuing country.
func NewService(normalizer certificate.Normalizer, issuer *hcert.Issuer, logger zerolog.Logger) *Service {
	return &Service{
		normalizer: normalizer,
		issuer:     issuer,
		logger:     logger.With().Str("component", "icvp").Logger(),
	}
}

// Generate normalizes qr with the DVC map, signs it as an HC1 certificate and
// returns a DocumentReference whose first attachment is the QR as a PNG.
func (s *Service) Generate(ctx context.Context, qr map[string]interface{}) (map[string]interface{}, error) {
	if !fhir.IsResource(qr, fhir.ResourceQuestionnaireResponse) {
		return nil, certificate.Errorf(fhir.IssueTypeRequired, certificate.ReasonInvalidSubmission, "Invalid resource submitted.")
	}
	if _, err := certificate.KindOf(qr, map[certificate.Kind]string{certificate.KindDVC: ""}); err != nil {
		return nil, err
	}

	model, err := s.normalizer.Normalize(ctx, certificate.KindDVC, qr)
	if err != nil {
		return nil, err
	}
	payload, err := Serialize(model)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to generate QR code")
		return nil, certificate.Errorf(fhir.IssueTypeException, ReasonQR, "%s", err.Error())
	}

	subject, err := toMap(payload)
	if err != nil {
		return nil, certificate.Errorf(fhir.IssueTypeException, ReasonQR, "%s", err.Error())
	}
	hc1, err := s.issuer.Issue(hcert.HCertDVC, subject)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to generate QR code")
		return nil, certificate.Errorf(fhir.IssueTypeException, ReasonQR, "%s", err.Error())
	}
	png, err := qrimage.PNG(hc1, 0)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to generate QR code")
		return nil, certificate.Errorf(fhir.IssueTypeException, ReasonQR, "%s", err.Error())
	}

	s.logger.Info().Str("name", payload.Name).Msg("generated DVC QR")
	return map[string]interface{}{
		"resourceType": fhir.ResourceDocumentReference,
		"status":       "current",
		"type": map[string]interface{}{
			"coding": []interface{}{map[string]interface{}{"system": QRTypeSystem, "code": QRTypeCode}},
		},
		"content": []interface{}{
			map[string]interface{}{"attachment": map[string]interface{}{
				"contentType": qrimage.ContentTypePNG,
				"data":        base64.StdEncoding.EncodeToString(png),
			}},
			map[string]interface{}{"attachment": map[string]interface{}{
				"contentType": ContentTypeHC1,
				"data":        base64.StdEncoding.EncodeToString([]byte(hc1)),
			}},
		},
	}, nil
}

func toMap(p *Payload) (map[string]interface{}, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	return out, json.Unmarshal(raw, &out)
}
