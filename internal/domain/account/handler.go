package account

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/imaging/internal/platform/apperr"
	"github.com/ehr/imaging/internal/platform/auth"
	"github.com/ehr/imaging/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterPublicRoutes mounts the unauthenticated /auth endpoints.
func (h *Handler) RegisterPublicRoutes(e *echo.Echo) {
	g := e.Group("/auth")
	g.POST("/login", h.Login)
	g.POST("/register-admin", h.RegisterAdmin)
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	me := api.Group("/users/me")
	me.GET("", h.Me)
	me.PUT("", h.UpdateMe)
	me.POST("/first-password", h.FirstPassword)
	me.POST("/password", h.ChangePassword)
	me.DELETE("", h.DeleteMe)

	admin := api.Group("/users", auth.RequireCapability(auth.OpManageAccounts))
	admin.POST("", h.Create)
	admin.GET("", h.List)
	admin.GET("/:id/exams", h.ExamsOf)
	admin.PATCH("/:id/toggle", h.Toggle)
	admin.DELETE("/:id", h.Delete)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	if req.Email == "" || req.Password == "" {
		return apperr.Validation("email and password are required")
	}
	out, err := h.svc.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

type registerAdminRequest struct {
	NewAccount
	AdminSecret string `json:"admin_secret"`
}

func (h *Handler) RegisterAdmin(c echo.Context) error {
	var req registerAdminRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	a, err := h.svc.RegisterAdmin(c.Request().Context(), req.NewAccount, req.AdminSecret)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) Me(c echo.Context) error {
	a, err := h.svc.Me(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) UpdateMe(c echo.Context) error {
	var ch ProfileChanges
	if err := c.Bind(&ch); err != nil {
		return apperr.Validation("invalid request body")
	}
	a, err := h.svc.UpdateMe(c.Request().Context(), ch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

type passwordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (h *Handler) FirstPassword(c echo.Context) error {
	var req passwordRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	if err := h.svc.FirstPassword(c.Request().Context(), req.NewPassword); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "password updated"})
}

func (h *Handler) ChangePassword(c echo.Context) error {
	var req passwordRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	if err := h.svc.ChangePassword(c.Request().Context(), req.CurrentPassword, req.NewPassword); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "password updated"})
}

type confirmRequest struct {
	Password string `json:"password"`
}

func (h *Handler) DeleteMe(c echo.Context) error {
	var req confirmRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	if err := h.svc.DeleteMe(c.Request().Context(), req.Password); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Create(c echo.Context) error {
	var in NewAccount
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body")
	}
	a, err := h.svc.CreateStandard(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) List(c echo.Context) error {
	f := ListFilter{Role: auth.Role(c.QueryParam("role")), Search: c.QueryParam("search")}
	if v := c.QueryParam("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			return apperr.Validation("active must be true or false")
		}
		f.Active = &active
	}
	pg, err := pagination.FromContext(c)
	if err != nil {
		return err
	}
	accounts, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewPage(accounts, total, pg))
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid id")
	}
	return id, nil
}

func (h *Handler) ExamsOf(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	pg, err := pagination.FromContext(c)
	if err != nil {
		return err
	}
	out, err := h.svc.ExamsOf(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Toggle(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Toggle(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	cascade := false
	if v := c.QueryParam("cascade_exams"); v != "" {
		if cascade, err = strconv.ParseBool(v); err != nil {
			return apperr.Validation("cascade_exams must be true or false")
		}
	}
	if err := h.svc.Delete(c.Request().Context(), id, cascade); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
