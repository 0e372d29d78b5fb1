package exam

import (
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/imaging/internal/domain/catalog"
	"github.com/ehr/imaging/internal/platform/apperr"
	"github.com/ehr/imaging/internal/platform/auth"
	"github.com/ehr/imaging/pkg/civil"
	"github.com/ehr/imaging/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/exams", auth.RequireCapability(auth.OpReadExam))
	g.GET("/review", h.ListFlagged, auth.RequireCapability(auth.OpReviewExam))
	g.PATCH("/:id/review", h.SetReview, auth.RequireCapability(auth.OpReviewExam))
	g.POST("/:type", h.Register, auth.RequireCapability(auth.OpCreateExam))
	g.GET("/:type", h.List)
	g.GET("/:type/:id", h.Get)
	g.PUT("/:type/:id", h.Update)
	g.DELETE("/:type/:id", h.Delete)
}

func pathType(c echo.Context) (catalog.ExamType, error) {
	return catalog.ParseExamType(c.Param("type"))
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid id")
	}
	return id, nil
}

func readBody(c echo.Context) ([]byte, error) {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, apperr.Validation("read request body: %v", err)
	}
	return body, nil
}

func (h *Handler) Register(c echo.Context) error {
	t, err := pathType(c)
	if err != nil {
		return err
	}
	body, err := readBody(c)
	if err != nil {
		return err
	}
	reg, err := DecodeRegistration(t, body)
	if err != nil {
		return err
	}
	e, err := h.svc.Register(c.Request().Context(), reg)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, e)
}

func parseDateParam(c echo.Context, name string) (*civil.Date, error) {
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

func parseIntParam(c echo.Context, name string) (int, error) {
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

func (h *Handler) List(c echo.Context) error {
	t, err := pathType(c)
	if err != nil {
		return err
	}
	f := Filter{PatientNationalID: c.QueryParam("patient_national_id")}
	if f.From, err = parseDateParam(c, "from"); err != nil {
		return err
	}
	if f.To, err = parseDateParam(c, "to"); err != nil {
		return err
	}
	if f.Month, err = parseIntParam(c, "month"); err != nil {
		return err
	}
	if f.Year, err = parseIntParam(c, "year"); err != nil {
		return err
	}

	pg, err := pagination.FromContext(c)
	if err != nil {
		return err
	}
	exams, total, err := h.svc.List(c.Request().Context(), t, f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewPage(exams, total, pg))
}

func (h *Handler) Get(c echo.Context) error {
	t, err := pathType(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	e, err := h.svc.Get(c.Request().Context(), t, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) Update(c echo.Context) error {
	t, err := pathType(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	body, err := readBody(c)
	if err != nil {
		return err
	}
	ch, err := DecodeChange(t, body)
	if err != nil {
		return err
	}
	e, err := h.svc.Update(c.Request().Context(), t, id, ch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) Delete(c echo.Context) error {
	t, err := pathType(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.svc.SoftDelete(c.Request().Context(), t, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type reviewRequest struct {
	InReview *bool `json:"in_review"`
	Reason   string `json:"reason"`
}

func (h *Handler) SetReview(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req reviewRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	if req.InReview == nil {
		return apperr.Validation("in_review is required")
	}
	st, err := h.svc.SetReviewFlag(c.Request().Context(), id, *req.InReview, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

type flaggedResponse struct {
	Total int        `json:"total"`
	Exams []*Flagged `json:"exams"`
}

func (h *Handler) ListFlagged(c echo.Context) error {
	var t catalog.ExamType
	if v := c.QueryParam("exam_type"); v != "" {
		var err error
		if t, err = catalog.ParseExamType(v); err != nil {
			return err
		}
	}
	out, err := h.svc.ListFlagged(c.Request().Context(), t)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, flaggedResponse{Total: len(out), Exams: out})
}
