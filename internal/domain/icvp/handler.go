package icvp

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/domain/certificate"
	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/fhir"
	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/openhim"
)

type Handler struct {
	svc    *Service
	wrap   *openhim.Wrapper
	logger zerolog.Logger
}

func NewHandler(svc *Service, wrap *openhim.Wrapper, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, wrap: wrap, logger: logger}
}

// RegisterRoutes mounts the DVC endpoints on the /icvp group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("", h.SubmitBatch)
	g.POST("/", h.SubmitBatch)
	g.POST("/"+certificate.GenerateOperation, h.GenerateHealthCertificate)
}

func (h *Handler) SubmitBatch(c echo.Context) error {
	h.logger.Info().Msg("submit DVC batch endpoint triggered")
	batch, err := certificate.ReadSubmission(c)
	if err != nil {
		return certificate.WriteError(c, h.wrap, err)
	}
	resp, err := certificate.ProcessBatch(c.Request().Context(), batch, "200", h.svc.Generate)
	if err != nil {
		return certificate.WriteError(c, h.wrap, err)
	}
	return h.wrap.JSON(c, http.StatusOK, resp, fhir.ContentType)
}

func (h *Handler) GenerateHealthCertificate(c echo.Context) error {
	h.logger.Info().Msg("generate DVC endpoint triggered")
	qr, err := certificate.ReadSubmission(c)
	if err != nil {
		return certificate.WriteError(c, h.wrap, err)
	}
	ref, err := h.svc.Generate(c.Request().Context(), qr)
	if err != nil {
		return certificate.WriteError(c, h.wrap, err)
	}
	return h.wrap.JSON(c, http.StatusOK, ref, fhir.ContentType)
}
