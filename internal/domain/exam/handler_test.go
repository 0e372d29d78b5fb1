package exam

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/imaging/internal/platform/apperr"
)

func newTestHandler() (*Handler, *echo.Echo, testEnv) {
	env := newTestEnv()
	return NewHandler(env.svc), echo.New(), env
}

const ctBody = `{
	"patient_national_id": "12.345.678-5",
	"patient_name": "Ana Pérez",
	"realization_date": "2024-06-14",
	"attention": "URGENCIA",
	"coverage_plan_id": "0b7d3f0e-8a47-4c1e-9d0c-1f6a3f0a2b11",
	"origin_id": "1c9e2d4a-5b6f-4a7e-8c9d-0e1f2a3b4c5d",
	"specific_exam_id": "2d0f3e5b-6c7a-4b8f-9d0e-1f2a3b4c5d6e",
	"billing_code_id": "3e1a4f6c-7d8b-4c9a-8e0f-2a3b4c5d6e7f",
	"contract": "Empresa Externa",
	"request_date": "2024-06-13",
	"realization_time": "08:45",
	"birth_date": "1980-01-31",
	"stroke_code": true,
	"ges": false,
	"contrast": true,
	"renal_function": "sin creatinina"
}`

func TestHandler_RegisterCT(t *testing.T) {
	h, e, _ := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/exams/ct", strings.NewReader(ctBody))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(asStandard())
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("type")
	c.SetParamValues("ct")

	require.NoError(t, h.Register(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "CT", got["exam_type"])
	assert.Equal(t, "EMERGENCY", got["attention"])
	assert.Equal(t, "EXTERNAL", got["contract"])
	detail := got["detail"].(map[string]interface{})
	assert.Equal(t, "08:45", detail["realization_time"])
	assert.EqualValues(t, 44, detail["age"])
}

func TestHandler_UnknownType(t *testing.T) {
	h, e, _ := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/exams/mri", strings.NewReader(`{}`))
	req = req.WithContext(asStandard())
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("type")
	c.SetParamValues("mri")

	assert.Error(t, h.Register(c))
}

func TestHandler_ListAndBadQuery(t *testing.T) {
	h, e, env := newTestHandler()
	reg, err := DecodeRegistration("CT", []byte(ctBody))
	require.NoError(t, err)
	_, err = env.svc.Register(asStandard(), reg)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/exams/ct?year=2024&month=6", nil)
	req = req.WithContext(asStandard())
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("type")
	c.SetParamValues("ct")
	require.NoError(t, h.List(c))
	assert.Contains(t, rec.Body.String(), `"total":1`)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/exams/ct?from=14-06-2024", nil)
	req = req.WithContext(asStandard())
	c = e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("type")
	c.SetParamValues("ct")
	assert.ErrorIs(t, h.List(c), apperr.ErrValidation)
}

func TestHandler_Review(t *testing.T) {
	h, e, env := newTestHandler()
	reg, err := DecodeRegistration("CT", []byte(ctBody))
	require.NoError(t, err)
	ex, err := env.svc.Register(asStandard(), reg)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/exams/"+ex.ID.String()+"/review",
		strings.NewReader(`{"in_review":true,"reason":"check contrast"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(asAdmin())
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(ex.ID.String())
	require.NoError(t, h.SetReview(c))

	var st ReviewState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.True(t, st.InReview)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/exams/review", nil)
	req = req.WithContext(asAdmin())
	rec = httptest.NewRecorder()
	require.NoError(t, h.ListFlagged(e.NewContext(req, rec)))
	assert.Contains(t, rec.Body.String(), `"total":1`)
	assert.Contains(t, rec.Body.String(), "check contrast")
}

func TestHandler_DeleteNotFound(t *testing.T) {
	h, e, _ := newTestHandler()

	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	req = req.WithContext(asAdmin())
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("type", "id")
	c.SetParamValues("us", uuid.NewString())
	assert.ErrorIs(t, h.Delete(c), apperr.ErrNotFound)
}
