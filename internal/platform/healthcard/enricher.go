package healthcard

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/fhir"
	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/qrimage"
)

// Attachment content types written by the enricher.
const (
	ContentTypeHealthCard = "application/smart-health-card"
	ContentTypeQR         = "text/plain"
)

// Enricher attaches a signed health card to every DocumentReference of a
// bundle about to be committed.
type Enricher struct {
	issuer *Issuer
}

func NewEnricher(issuer *Issuer) *Enricher {
	return &Enricher{issuer: issuer}
}

// Enrich signs the Patient and its Immunizations as a health card and adds
// the card, its QR payload, the rendered QR image and a printable PDF to each
// DocumentReference's content.
func (e *Enricher) Enrich(ctx context.Context, entries []fhir.BundleEntry, hcid string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var docRefs []*fhir.BundleEntry
	var cardEntries []interface{}
	var patient map[string]interface{}
	var lines []string
	for i := range entries {
		res := entries[i].Resource
		switch fhir.ResourceType(res) {
		case fhir.ResourceDocumentReference:
			docRefs = append(docRefs, &entries[i])
		case fhir.ResourcePatient:
			patient = res
			cardEntries = append(cardEntries, cardEntry(len(cardEntries), res))
		case fhir.ResourceImmunization:
			cardEntries = append(cardEntries, cardEntry(len(cardEntries), res))
			lines = append(lines, doseLine(res))
		}
	}
	if len(docRefs) == 0 {
		return nil
	}
	if patient == nil {
		return errors.New("health card needs a Patient entry")
	}

	token, err := e.issuer.IssueBundle(map[string]interface{}{
		"resourceType": fhir.ResourceBundle,
		"type":         "collection",
		"entry":        cardEntries,
	}, TypeImmunization)
	if err != nil {
		return err
	}
	file, err := json.Marshal(map[string]interface{}{"verifiableCredential": []string{token}})
	if err != nil {
		return fmt.Errorf("marshal health card file: %w", err)
	}

	numeric := Numeric(token)
	png, err := qrimage.PNG(numeric, 0)
	if err != nil {
		return err
	}
	lines = append([]string{"HCID: " + hcid, "Name: " + patientName(patient)}, lines...)
	pdf, err := qrimage.PDF("Vaccination Certificate", lines, png)
	if err != nil {
		return err
	}

	attachments := []interface{}{
		map[string]interface{}{"attachment": map[string]interface{}{
			"contentType": ContentTypeHealthCard,
			"title":       "HCID " + hcid,
			"data":        base64.StdEncoding.EncodeToString(file),
		}},
		map[string]interface{}{"attachment": map[string]interface{}{
			"contentType": ContentTypeQR,
			"title":       "QR " + hcid,
			"data":        base64.StdEncoding.EncodeToString([]byte(numeric)),
		}},
		map[string]interface{}{"attachment": map[string]interface{}{
			"contentType": qrimage.ContentTypePNG,
			"title":       "QR image " + hcid,
			"data":        base64.StdEncoding.EncodeToString(png),
			"url":         qrimage.DataURL(png),
		}},
		map[string]interface{}{"attachment": map[string]interface{}{
			"contentType": qrimage.ContentTypePDF,
			"title":       "Certificate " + hcid,
			"data":        base64.StdEncoding.EncodeToString(pdf),
		}},
	}
	for _, ref := range docRefs {
		content, _ := ref.Resource["content"].([]interface{})
		ref.Resource["content"] = append(content, attachments...)
	}
	return nil
}

// cardEntry strips a resource down for the QR payload.
func cardEntry(n int, res map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(res))
	for k, v := range res {
		switch k {
		case "id", "meta", "text":
			continue
		}
		out[k] = v
	}
	return map[string]interface{}{
		"fullUrl":  fmt.Sprintf("resource:%d", n),
		"resource": out,
	}
}

func patientName(p map[string]interface{}) string {
	names, _ := p["name"].([]interface{})
	if len(names) == 0 {
		return ""
	}
	name, _ := names[0].(map[string]interface{})
	if text, ok := name["text"].(string); ok && text != "" {
		return text
	}
	var parts []string
	given, _ := name["given"].([]interface{})
	for _, g := range given {
		if s, ok := g.(string); ok {
			parts = append(parts, s)
		}
	}
	if family, ok := name["family"].(string); ok {
		parts = append(parts, family)
	}
	return strings.Join(parts, " ")
}

func doseLine(imm map[string]interface{}) string {
	vaccine := ""
	if code, ok := imm["vaccineCode"].(map[string]interface{}); ok {
		vaccine, _ = code["text"].(string)
		if codings, ok := code["coding"].([]interface{}); vaccine == "" && ok && len(codings) > 0 {
			if c, ok := codings[0].(map[string]interface{}); ok {
				vaccine, _ = c["code"].(string)
			}
		}
	}
	date, _ := imm["occurrenceDateTime"].(string)
	return strings.TrimSpace("Dose: " + vaccine + " " + date)
}
