package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/imaging/internal/platform/apperr"
)

type mockLookup struct {
	actors map[uuid.UUID]Actor
	err    error
}

func (m *mockLookup) LookupActor(_ context.Context, id uuid.UUID) (Actor, error) {
	if m.err != nil {
		return Actor{}, m.err
	}
	a, ok := m.actors[id]
	if !ok {
		return Actor{}, apperr.NotFound("account %s not found", id)
	}
	return a, nil
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func runAuth(t *testing.T, header string, lookup ActorLookup) (echo.Context, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/exams/ct", nil)
	if header != "" {
		req.Header.Set(echo.HeaderAuthorization, header)
	}
	c := e.NewContext(req, httptest.NewRecorder())
	mw := Authenticate(NewTokenIssuer(testSecret, time.Hour), lookup, nil)
	return c, mw(okHandler)(c)
}

func TestAuthenticate_MissingHeader(t *testing.T) {
	_, err := runAuth(t, "", &mockLookup{})
	if !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
}

func TestAuthenticate_InvalidFormat(t *testing.T) {
	for _, header := range []string{"Token abc123", "Bearer", "Bearer ", "Basic dXNlcjpwYXNz"} {
		t.Run(header, func(t *testing.T) {
			_, err := runAuth(t, header, &mockLookup{})
			if !errors.Is(err, apperr.ErrUnauthenticated) {
				t.Fatalf("expected unauthenticated, got %v", err)
			}
		})
	}
}

func TestAuthenticate_InvalidToken(t *testing.T) {
	_, err := runAuth(t, "Bearer not.a.jwt", &mockLookup{})
	if !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
}

func TestAuthenticate_ValidToken(t *testing.T) {
	id := uuid.New()
	lookup := &mockLookup{actors: map[uuid.UUID]Actor{id: {ID: id, Role: RoleStandard, Active: true}}}
	token, _, err := NewTokenIssuer(testSecret, time.Hour).Issue(id, RoleStandard)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	c, err := runAuth(t, "Bearer "+token, lookup)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	actor, ok := ActorFromContext(c.Request().Context())
	if !ok || actor.ID != id {
		t.Fatalf("expected actor %s on context, got %+v", id, actor)
	}
	if c.Get("actor_id") != id.String() {
		t.Errorf("expected actor_id on echo context")
	}
}

func TestAuthenticate_RoleComesFromAccount(t *testing.T) {
	id := uuid.New()
	lookup := &mockLookup{actors: map[uuid.UUID]Actor{id: {ID: id, Role: RoleStandard, Active: true}}}
	token, _, _ := NewTokenIssuer(testSecret, time.Hour).Issue(id, RoleAdministrator)

	c, err := runAuth(t, "Bearer "+token, lookup)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	actor, _ := ActorFromContext(c.Request().Context())
	if actor.Role != RoleStandard {
		t.Errorf("expected stored role to win over token claim, got %s", actor.Role)
	}
}

func TestAuthenticate_Deactivated(t *testing.T) {
	id := uuid.New()
	lookup := &mockLookup{actors: map[uuid.UUID]Actor{id: {ID: id, Role: RoleAdministrator, Active: false}}}
	token, _, _ := NewTokenIssuer(testSecret, time.Hour).Issue(id, RoleAdministrator)

	_, err := runAuth(t, "Bearer "+token, lookup)
	if !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if apperr.ReasonOf(err) != apperr.ReasonAccountDeactivated {
		t.Errorf("expected deactivated reason")
	}
}

func TestAuthenticate_UnknownAccount(t *testing.T) {
	token, _, _ := NewTokenIssuer(testSecret, time.Hour).Issue(uuid.New(), RoleStandard)
	_, err := runAuth(t, "Bearer "+token, &mockLookup{})
	if !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
}

func TestAuthenticate_LookupFailure(t *testing.T) {
	token, _, _ := NewTokenIssuer(testSecret, time.Hour).Issue(uuid.New(), RoleStandard)
	boom := errors.New("connection refused")
	_, err := runAuth(t, "Bearer "+token, &mockLookup{err: boom})
	if !errors.Is(err, boom) {
		t.Fatalf("expected lookup error to propagate, got %v", err)
	}
}

func TestAuthenticate_Skipper(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), httptest.NewRecorder())
	c.SetPath("/health")
	mw := Authenticate(NewTokenIssuer(testSecret, time.Hour), &mockLookup{}, AuthSkipper)
	if err := mw(okHandler)(c); err != nil {
		t.Fatalf("expected public path to skip auth, got %v", err)
	}
}

func TestAuthSkipper(t *testing.T) {
	e := echo.New()
	tests := []struct {
		method, route string
		want          bool
	}{
		{http.MethodPost, "/auth/login", true},
		{http.MethodGet, "/health/db", true},
		{http.MethodOptions, "/api/v1/exams/:type", true},
		{http.MethodGet, "/api/v1/exams/:type", false},
		{http.MethodGet, "/auth/login/extra", false},
	}
	for _, tt := range tests {
		c := e.NewContext(httptest.NewRequest(tt.method, "/", nil), httptest.NewRecorder())
		c.SetPath(tt.route)
		if got := AuthSkipper(c); got != tt.want {
			t.Errorf("%s %s: got %v, want %v", tt.method, tt.route, got, tt.want)
		}
	}
}

func TestRequireCapability(t *testing.T) {
	tests := []struct {
		name  string
		actor *Actor
		want  error
	}{
		{"no actor", nil, apperr.ErrUnauthenticated},
		{"standard", &Actor{ID: uuid.New(), Role: RoleStandard, Active: true}, apperr.ErrForbidden},
		{"administrator", &Actor{ID: uuid.New(), Role: RoleAdministrator, Active: true}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/reports/export", nil)
			if tt.actor != nil {
				req = req.WithContext(WithActor(req.Context(), *tt.actor))
			}
			c := e.NewContext(req, httptest.NewRecorder())
			err := RequireCapability(OpExport)(okHandler)(c)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestIsPublicPath(t *testing.T) {
	for _, p := range []string{"/health", "/health/db", "/auth/login", "/auth/register-admin"} {
		if !IsPublicPath(p) {
			t.Errorf("expected %s to be public", p)
		}
	}
	for _, p := range []string{"/api/v1/patients", "/", "/auth/login/extra"} {
		if IsPublicPath(p) {
			t.Errorf("expected %s to be protected", p)
		}
	}
}
