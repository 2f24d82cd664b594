package healthfolder

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/fhir"
	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/openhim"
)

type Handler struct {
	svc  *Service
	wrap *openhim.Wrapper
}

func NewHandler(svc *Service, wrap *openhim.Wrapper) *Handler {
	return &Handler{svc: svc, wrap: wrap}
}

// RegisterRoutes mounts the read endpoints on the /ddcc group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/List", h.SearchFolders)
	g.GET("/DocumentReference/:id", h.GetCertificate)
}

// SearchFolders implements ITI-66.
func (h *Handler) SearchFolders(c echo.Context) error {
	bundle, err := h.svc.Folders(c.Request().Context(), c.Request().URL.Path, c.QueryParams())
	if err != nil {
		return h.fail(c, err)
	}
	return h.wrap.JSON(c, http.StatusOK, bundle, fhir.ContentType)
}

// GetCertificate implements ITI-68.
func (h *Handler) GetCertificate(c echo.Context) error {
	doc, err := h.svc.Certificate(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return h.wrap.JSON(c, http.StatusOK, doc, fhir.ContentType)
}

func (h *Handler) fail(c echo.Context, err error) error {
	outcome := fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeNotFound, err.Error())
	return h.wrap.JSON(c, http.StatusBadRequest, outcome, fhir.ContentType)
}
