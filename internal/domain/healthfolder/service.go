// Package healthfolder serves the read side of the mediator: the patient
// health folder search (ITI-66) and certificate retrieval (ITI-68).
package healthfolder

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/fhir"
	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/pkg/pagination"
)

// FolderCode is the List.code every health folder carries.
const FolderCode = "folder"

// Retrieval failures. Both answer 400.
var (
	ErrFolderSearch      = errors.New("could not retrieve health folder")
	ErrDocumentReference = errors.New("Could not retrieve DocumentReference")
	ErrDocument          = errors.New("Could not retrieve DDCCVSDocument")
)

// Repository is the slice of the FHIR client the read side needs.
type Repository interface {
	Search(ctx context.Context, resourceType string, query url.Values) (*fhir.Bundle, error)
	Read(ctx context.Context, location string) (map[string]interface{}, error)
	BaseURL() string
}

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "healthfolder").Logger()}
}

// Folders searches List resources with code=folder. Paging is passed to
// the repository as _count/_offset and the returned links point back at
// basePath.
func (s *Service) Folders(ctx context.Context, basePath string, query url.Values) (*fhir.Bundle, error) {
	p := pagination.FromQuery(query)
	filters := p.Apply(query)
	filters.Set("code", FolderCode)

	s.logger.Info().Str("query", filters.Encode()).Msg("retrieve health folder")
	bundle, err := s.repo.Search(ctx, fhir.ResourceList, filters)
	if err != nil {
		s.logger.Info().Err(err).Msg("did not receive expected List bundle")
		return nil, fmt.Errorf("%w: %v", ErrFolderSearch, err)
	}

	if bundle.Total != nil {
		filters.Del("_count")
		filters.Del("_offset")
		bundle.Link = p.FHIRLinks(basePath, filters, *bundle.Total)
	}
	return bundle, nil
}

// Certificate resolves a DocumentReference and fetches the signed document
// its first attachment points to.
func (s *Service) Certificate(ctx context.Context, id string) (map[string]interface{}, error) {
	log := s.logger.With().Str("document_reference", id).Logger()
	log.Info().Msg("retrieve certificate")

	ref, err := s.repo.Read(ctx, fhir.FormatReference(fhir.ResourceDocumentReference, id))
	if err != nil || !fhir.IsResource(ref, fhir.ResourceDocumentReference) {
		log.Info().Err(err).Msg("did not receive expected DocumentReference")
		return nil, ErrDocumentReference
	}

	location, contentType := attachment(ref)
	if location == "" || contentType != fhir.ContentType {
		log.Info().Str("content_type", contentType).Msg("DocumentReference has no FHIR document attachment")
		return nil, ErrDocument
	}
	if !s.inRepository(location) {
		log.Warn().Str("url", location).Msg("attachment points outside the repository")
		return nil, ErrDocument
	}

	doc, err := s.repo.Read(ctx, location)
	if err != nil || !fhir.IsResource(doc, fhir.ResourceBundle) {
		log.Info().Err(err).Str("url", location).Msg("did not receive expected document")
		return nil, ErrDocument
	}
	return doc, nil
}

// inRepository reports whether location is relative or an absolute URL
// under the repository base.
func (s *Service) inRepository(location string) bool {
	u, err := url.Parse(location)
	if err != nil {
		return false
	}
	if u.Scheme == "" && u.Host == "" {
		return true
	}
	return strings.HasPrefix(location, s.repo.BaseURL())
}

func attachment(ref map[string]interface{}) (location, contentType string) {
	content, _ := ref["content"].([]interface{})
	if len(content) == 0 {
		return "", ""
	}
	first, _ := content[0].(map[string]interface{})
	att, _ := first["attachment"].(map[string]interface{})
	location, _ = att["url"].(string)
	contentType, _ = att["contentType"].(string)
	return location, contentType
}
