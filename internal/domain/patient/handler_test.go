package patient

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/ehr/imaging/internal/platform/apperr"
	"github.com/ehr/imaging/pkg/pagination"
)

func newTestHandler() (*Handler, *echo.Echo) {
	svc, _ := newTestService()
	return NewHandler(svc), echo.New()
}

func TestHandler_Create(t *testing.T) {
	h, e := newTestHandler()

	body := `{"national_id":"12.345.678-5","full_name":"Ana Pérez","birth_date":"1990-03-02"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/patients", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(asStandard())
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Create(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var p Patient
	_ = json.Unmarshal(rec.Body.Bytes(), &p)
	if p.NationalID != "123456785" || p.BirthDate == nil {
		t.Errorf("unexpected patient %+v", p)
	}
}

func TestHandler_Create_BadDate(t *testing.T) {
	h, e := newTestHandler()

	body := `{"national_id":"12345678-5","full_name":"Ana Pérez","birth_date":"02/03/1990"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/patients", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(asStandard())
	c := e.NewContext(req, httptest.NewRecorder())

	if err := h.Create(c); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestHandler_GetAndList(t *testing.T) {
	h, e := newTestHandler()
	p, _ := h.svc.FindOrCreate(asStandard(), "12345678-5", "Ana Pérez", nil)
	_, _ = h.svc.FindOrCreate(asStandard(), "11111111-1", "Luis Rojas", nil)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if err := h.Get(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/patients?search=rojas&limit=10", nil), rec)
	if err := h.List(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp pagination.Page[*Patient]
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 1 || resp.Limit != 10 || len(resp.Data) != 1 {
		t.Errorf("unexpected page %+v", resp)
	}
}

func TestHandler_Get_InvalidID(t *testing.T) {
	h, e := newTestHandler()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("42")
	if err := h.Get(c); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestHandler_Autocomplete(t *testing.T) {
	h, e := newTestHandler()
	_, _ = h.svc.FindOrCreate(asStandard(), "12345678-5", "Ana Pérez", date(2000, 6, 15))

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("rut")
	c.SetParamValues("12.345.678-5")
	if err := h.Autocomplete(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var out Lookup
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	if out.Age == nil || *out.Age != 24 {
		t.Errorf("expected age 24 on the birthday, got %v", out.Age)
	}
}

func TestHandler_Delete(t *testing.T) {
	h, e := newTestHandler()
	p, _ := h.svc.FindOrCreate(asStandard(), "12345678-5", "Ana Pérez", nil)

	req := httptest.NewRequest(http.MethodDelete, "/", nil).WithContext(asAdmin())
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if err := h.Delete(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}
