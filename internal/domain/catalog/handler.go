package catalog

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/imaging/internal/platform/apperr"
	"github.com/ehr/imaging/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/catalogs", auth.RequireCapability(auth.OpReadCatalog))
	g.GET("/billing-codes/viewer", h.BillingCodeViewer)
	g.GET("/:kind", h.List)
	g.POST("/:kind", h.Create)
	g.PATCH("/:kind/:id/active", h.SetActive, auth.RequireCapability(auth.OpManageCatalog))
}

func (h *Handler) List(c echo.Context) error {
	kind, err := ParseKind(c.Param("kind"))
	if err != nil {
		return err
	}
	f := Filter{
		StaffType: StaffType(c.QueryParam("staff_type")),
		Search:    c.QueryParam("search"),
	}
	if v := c.QueryParam("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			return apperr.Validation("active must be true or false")
		}
		f.Active = &active
	}
	if v := c.QueryParam("exam_type"); v != "" {
		if f.ExamType, err = ParseExamType(v); err != nil {
			return err
		}
	}
	items, err := h.svc.List(c.Request().Context(), kind, f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Create(c echo.Context) error {
	kind, err := ParseKind(c.Param("kind"))
	if err != nil {
		return err
	}
	var it Item
	if err := c.Bind(&it); err != nil {
		return apperr.Validation("invalid request body")
	}
	it.Kind = kind
	if it.ExamType != "" {
		if it.ExamType, err = ParseExamType(string(it.ExamType)); err != nil {
			return err
		}
	}
	if err := h.svc.Create(c.Request().Context(), &it); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, it)
}

type activeRequest struct {
	Active *bool `json:"active"`
}

func (h *Handler) SetActive(c echo.Context) error {
	kind, err := ParseKind(c.Param("kind"))
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid id")
	}
	var req activeRequest
	if err := c.Bind(&req); err != nil || req.Active == nil {
		return apperr.Validation("active is required")
	}
	it, err := h.svc.SetActive(c.Request().Context(), kind, id, *req.Active)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, it)
}

func (h *Handler) BillingCodeViewer(c echo.Context) error {
	t, err := ParseExamType(c.QueryParam("exam_type"))
	if err != nil {
		return err
	}
	sheet, err := h.svc.BillingCodes(c.Request().Context(), t)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sheet)
}
