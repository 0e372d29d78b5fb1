package reporting

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ehr/imaging/internal/domain/catalog"
	"github.com/ehr/imaging/internal/platform/apperr"
	"github.com/ehr/imaging/internal/platform/auth"
	"github.com/ehr/imaging/pkg/civil"
)

// Handler provides HTTP handlers for the reporting API.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/reports", auth.RequireCapability(auth.OpReadReports))
	g.GET("/general", h.General)
	g.GET("/monthly-series", h.MonthlySeries)
	g.GET("/type-comparison", h.TypeComparison)
	g.GET("/top-requesters", h.TopRequesters)
	g.GET("/coverage", h.Coverage)
	g.GET("/monthly-summary", h.MonthlySummary)
	g.GET("/patients/:rut", h.PatientHistory)
}

func intParam(c echo.Context, name string) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperr.Validation("%s must be an integer", name)
	}
	return n, nil
}

func dateParam(c echo.Context, name string) (*civil.Date, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	d, err := civil.ParseDate(v)
	if err != nil {
		return nil, apperr.Validation("%s must be a YYYY-MM-DD date", name)
	}
	return &d, nil
}

// scopeParams reads from, to, year, month and exam_type; each is optional
// and they combine freely.
func scopeParams(c echo.Context) (Scope, error) {
	var (
		sc  Scope
		err error
	)
	if sc.From, err = dateParam(c, "from"); err != nil {
		return Scope{}, err
	}
	if sc.To, err = dateParam(c, "to"); err != nil {
		return Scope{}, err
	}
	if sc.Year, err = intParam(c, "year"); err != nil {
		return Scope{}, err
	}
	if sc.Month, err = intParam(c, "month"); err != nil {
		return Scope{}, err
	}
	if v := c.QueryParam("exam_type"); v != "" {
		if sc.Type, err = catalog.ParseExamType(v); err != nil {
			return Scope{}, err
		}
	}
	return sc, nil
}

// scoped adapts a measure over a Scope into a handler.
func scoped[T any](measure func(ctx context.Context, sc Scope) (T, error)) echo.HandlerFunc {
	return func(c echo.Context) error {
		sc, err := scopeParams(c)
		if err != nil {
			return err
		}
		out, err := measure(c.Request().Context(), sc)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, out)
	}
}

func (h *Handler) General(c echo.Context) error {
	return scoped(h.svc.General)(c)
}

func (h *Handler) MonthlySeries(c echo.Context) error {
	return scoped(h.svc.MonthlySeries)(c)
}

func (h *Handler) TypeComparison(c echo.Context) error {
	return scoped(h.svc.TypeComparison)(c)
}

func (h *Handler) TopRequesters(c echo.Context) error {
	limit, err := intParam(c, "limit")
	if err != nil {
		return err
	}
	return scoped(func(ctx context.Context, sc Scope) (*Series, error) {
		return h.svc.TopRequesters(ctx, sc, limit)
	})(c)
}

func (h *Handler) Coverage(c echo.Context) error {
	return scoped(h.svc.CoverageDistribution)(c)
}

func (h *Handler) MonthlySummary(c echo.Context) error {
	return scoped(h.svc.MonthlySummary)(c)
}

func (h *Handler) PatientHistory(c echo.Context) error {
	out, err := h.svc.PatientHistory(c.Request().Context(), c.Param("rut"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}
