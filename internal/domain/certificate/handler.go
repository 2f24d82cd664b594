package certificate

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-jose/go-jose/v4"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/fhir"
	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/openhim"
)

type Handler struct {
	svc      *Service
	verifier *Verifier
	jwks     jose.JSONWebKeySet
	wrap     *openhim.Wrapper
	logger   zerolog.Logger
}

func NewHandler(svc *Service, verifier *Verifier, jwks jose.JSONWebKeySet, wrap *openhim.Wrapper, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, verifier: verifier, jwks: jwks, wrap: wrap, logger: logger}
}

// RegisterRoutes mounts the DDCC endpoints on g, normally the /ddcc group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("", h.SubmitBatch)
	g.POST("/", h.SubmitBatch)
	g.POST("/"+GenerateOperation, h.GenerateHealthCertificate)
	g.POST("/submitIPS", h.SubmitIPS)
	g.POST("/Bundle/$signValidation", h.SignValidation)
	g.GET("/shc_issuer/.well-known/jwks.json", h.JWKS)
}

// SubmitBatch handles a batch of $generateHealthCertificate requests.
func (h *Handler) SubmitBatch(c echo.Context) error {
	h.logger.Info().Msg("submit health event endpoint triggered")
	batch, err := h.readResource(c)
	if err != nil {
		return h.fail(c, err)
	}
	resp, err := ProcessBatch(c.Request().Context(), batch, "201", h.generate)
	if err != nil {
		return h.fail(c, err)
	}
	return h.wrap.JSON(c, http.StatusOK, resp, fhir.ContentType)
}

func (h *Handler) GenerateHealthCertificate(c echo.Context) error {
	h.logger.Info().Msg("generate health certificate endpoint triggered")
	submission, err := h.readResource(c)
	if err != nil {
		return h.fail(c, err)
	}
	doc, err := h.generate(c.Request().Context(), submission)
	if err != nil {
		return h.fail(c, err)
	}
	return h.wrap.JSON(c, http.StatusOK, doc, fhir.ContentType)
}

func (h *Handler) SubmitIPS(c echo.Context) error {
	h.logger.Info().Msg("submit IPS endpoint triggered")
	ips, err := h.readResource(c)
	if err != nil {
		return h.fail(c, err)
	}
	res, err := h.svc.GenerateIPS(c.Request().Context(), ips)
	if err != nil {
		return h.fail(c, err)
	}
	return h.wrap.JSON(c, http.StatusOK, res.Document, fhir.ContentType)
}

// SignValidation answers Parameters{result} for a signed document, or 412
// when the input is not a signed document.
func (h *Handler) SignValidation(c echo.Context) error {
	doc, err := h.readResource(c)
	if err != nil {
		return h.fail(c, err)
	}
	ok, err := h.verifier.Verify(doc)
	if err != nil {
		e := AsError(err)
		if e.Reason == ReasonNotSigned {
			return h.wrap.JSON(c, http.StatusPreconditionFailed, e.Outcome(), fhir.ContentType)
		}
		return h.fail(c, e)
	}
	h.logger.Info().Bool("verified", ok).Msg("signature checked")
	return h.wrap.JSON(c, http.StatusOK, map[string]interface{}{
		"resourceType": fhir.ResourceParameters,
		"parameter": []interface{}{
			map[string]interface{}{"name": "result", "valueBoolean": ok},
		},
	}, "application/json")
}

// JWKS publishes the health card issuer keys.
func (h *Handler) JWKS(c echo.Context) error {
	return h.wrap.JSON(c, http.StatusOK, h.jwks, "application/json")
}

func (h *Handler) generate(ctx context.Context, submission map[string]interface{}) (map[string]interface{}, error) {
	res, err := h.svc.Generate(ctx, submission)
	if err != nil {
		return nil, err
	}
	return res.Document, nil
}

func (h *Handler) readResource(c echo.Context) (map[string]interface{}, error) {
	return ReadSubmission(c)
}

func (h *Handler) fail(c echo.Context, err error) error {
	return WriteError(c, h.wrap, err)
}

// ReadSubmission decodes the request body as a FHIR resource. Oversized
// bodies keep their echo status; anything unparsable is a structure error.
func ReadSubmission(c echo.Context) (map[string]interface{}, error) {
	res, err := fhir.DecodeResource(c.Request().Body)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return nil, he
		}
		return nil, validationError(fhir.IssueTypeStructure, ReasonInvalidSubmission, "Invalid resource submitted: "+err.Error())
	}
	return res, nil
}

// WriteError renders err as an OperationOutcome with its mapped status.
func WriteError(c echo.Context, wrap *openhim.Wrapper, err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	e := AsError(err)
	return wrap.JSON(c, e.HTTPStatus(), e.Outcome(), fhir.ContentType)
}
