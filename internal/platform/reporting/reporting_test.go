package reporting

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/imaging/internal/domain/catalog"
	"github.com/ehr/imaging/internal/domain/exam"
	"github.com/ehr/imaging/internal/platform/apperr"
	"github.com/ehr/imaging/internal/platform/auth"
	"github.com/ehr/imaging/pkg/civil"
)

type call struct {
	dim   Dimension
	scope Scope
}

type mockRepo struct {
	counts   map[Dimension][]Count
	patients int
	top      []Count
	coverage []Count
	patient  *PatientRef
	history  []HistoryEntry
	calls    []call
	topLimit int
	topScope Scope
	covScope Scope
}

func (m *mockRepo) CountBy(_ context.Context, dim Dimension, s Scope) ([]Count, error) {
	m.calls = append(m.calls, call{dim, s})
	return m.counts[dim], nil
}

func (m *mockRepo) DistinctPatients(context.Context, Scope) (int, error) { return m.patients, nil }

func (m *mockRepo) TopRequesters(_ context.Context, s Scope, limit int) ([]Count, error) {
	m.topLimit = limit
	m.topScope = s
	return m.top, nil
}

func (m *mockRepo) CoverageDistribution(_ context.Context, s Scope) ([]Count, error) {
	m.covScope = s
	return m.coverage, nil
}

func (m *mockRepo) PatientByNationalID(_ context.Context, nid string) (*PatientRef, error) {
	if m.patient == nil || m.patient.NationalID != nid {
		return nil, pgx.ErrNoRows
	}
	return m.patient, nil
}

func (m *mockRepo) PatientExams(context.Context, uuid.UUID) ([]HistoryEntry, error) {
	return m.history, nil
}

func asStandard() context.Context {
	return auth.WithActor(context.Background(), auth.Actor{ID: uuid.New(), Role: auth.RoleStandard, Active: true})
}

func TestGeneral_ZeroFilled(t *testing.T) {
	repo := &mockRepo{counts: map[Dimension][]Count{
		ByType:      {{Key: "CT", Total: 4}, {Key: "US", Total: 1}},
		ByAttention: {{Key: "EMERGENCY", Total: 5}},
	}, patients: 3}
	svc := NewService(repo)

	out, err := svc.General(asStandard(), Scope{})
	require.NoError(t, err)
	assert.Equal(t, 5, out.Total)
	assert.Equal(t, 3, out.DistinctPatients)
	assert.Equal(t, map[catalog.ExamType]int{catalog.ExamCT: 4, catalog.ExamXRay: 0, catalog.ExamUltrasound: 1}, out.ByType)
	assert.Equal(t, 0, out.ByAttention[exam.AttentionOpen])
	assert.Equal(t, 5, out.ByAttention[exam.AttentionEmergency])
}

func TestGeneral_BadRange(t *testing.T) {
	svc := NewService(&mockRepo{})
	from := civil.Date{Year: 2024, Month: 5, Day: 2}
	to := civil.Date{Year: 2024, Month: 5, Day: 1}
	_, err := svc.General(asStandard(), Scope{From: &from, To: &to})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestMonthlySeries(t *testing.T) {
	repo := &mockRepo{counts: map[Dimension][]Count{
		ByMonth: {{Key: "1", Total: 7}, {Key: "2", Total: 3}, {Key: "12", Total: 1}},
	}}
	svc := NewService(repo)

	out, err := svc.MonthlySeries(asStandard(), Scope{Year: 2024, Type: catalog.ExamXRay})
	require.NoError(t, err)
	require.Len(t, out.Data, 12)
	assert.Equal(t, []int{7, 3, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}, out.Data)
	assert.Zero(t, out.Data[2], "an empty March stays zero")
	assert.Equal(t, "Mar", out.Labels[2])
	assert.Equal(t, "XRAY", out.ExamType)
	assert.Equal(t, Scope{Year: 2024, Type: catalog.ExamXRay}, repo.calls[0].scope)

	all, err := svc.MonthlySeries(asStandard(), Scope{Year: 2024})
	require.NoError(t, err)
	assert.Equal(t, "ALL", all.ExamType)

	_, err = svc.MonthlySeries(asStandard(), Scope{})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = svc.MonthlySeries(asStandard(), Scope{Year: 2024, Month: 3})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestMonthlySeries_EmptyYear(t *testing.T) {
	svc := NewService(&mockRepo{})
	out, err := svc.MonthlySeries(asStandard(), Scope{Year: 2023})
	require.NoError(t, err)
	assert.Equal(t, make([]int, 12), out.Data)
}

func TestTypeComparison(t *testing.T) {
	repo := &mockRepo{counts: map[Dimension][]Count{ByType: {{Key: "US", Total: 2}}}}
	svc := NewService(repo)

	out, err := svc.TypeComparison(asStandard(), Scope{Year: 2024, Month: 6})
	require.NoError(t, err)
	assert.Equal(t, []string{"TAC", "RX", "ECO"}, out.Labels)
	assert.Equal(t, []int{0, 0, 2}, out.Data)
	assert.Equal(t, "6/2024", out.Period)

	_, err = svc.TypeComparison(asStandard(), Scope{Year: 2024, Month: 13})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestTopRequesters_Limit(t *testing.T) {
	repo := &mockRepo{top: []Count{{Key: "Dr. Vera", Total: 9}, {Key: "Dra. Muñoz", Total: 4}}}
	svc := NewService(repo)

	out, err := svc.TopRequesters(asStandard(), Scope{Year: 2024}, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultTopLimit, repo.topLimit)
	assert.Equal(t, []string{"Dr. Vera", "Dra. Muñoz"}, out.Labels)
	assert.Equal(t, "2024", out.Period)

	for _, bad := range []int{-1, 51} {
		_, err := svc.TopRequesters(asStandard(), Scope{Year: 2024}, bad)
		assert.ErrorIs(t, err, apperr.ErrValidation, "limit %d", bad)
	}
}

func TestCoverageDistribution_Empty(t *testing.T) {
	svc := NewService(&mockRepo{})
	out, err := svc.CoverageDistribution(asStandard(), Scope{Year: 2024})
	require.NoError(t, err)
	assert.Empty(t, out.Labels)
	assert.NotNil(t, out.Data)
}

func TestMeasures_AcceptAnyFilterCombination(t *testing.T) {
	repo := &mockRepo{}
	svc := NewService(repo)
	from := civil.Date{Year: 2024, Month: 3, Day: 1}
	to := civil.Date{Year: 2024, Month: 3, Day: 15}

	general := Scope{From: &from, To: &to, Type: catalog.ExamUltrasound}
	_, err := svc.General(asStandard(), general)
	require.NoError(t, err)
	for _, c := range repo.calls {
		assert.Equal(t, general, c.scope, "dimension %s", c.dim)
	}

	comparison := Scope{Month: 3}
	out, err := svc.TypeComparison(asStandard(), comparison)
	require.NoError(t, err)
	assert.Equal(t, comparison, repo.calls[len(repo.calls)-1].scope)
	assert.Equal(t, "3/*", out.Period)

	top := Scope{From: &from, Type: catalog.ExamCT}
	_, err = svc.TopRequesters(asStandard(), top, 5)
	require.NoError(t, err)
	assert.Equal(t, top, repo.topScope)

	coverage := Scope{Year: 2024, Month: 3, To: &to, Type: catalog.ExamXRay}
	series, err := svc.CoverageDistribution(asStandard(), coverage)
	require.NoError(t, err)
	assert.Equal(t, coverage, repo.covScope)
	assert.Equal(t, "3/2024 ..2024-03-15", series.Period)

	seriesScope := Scope{Year: 2024, From: &from, Type: catalog.ExamCT}
	_, err = svc.MonthlySeries(asStandard(), seriesScope)
	require.NoError(t, err)
	assert.Equal(t, seriesScope, repo.calls[len(repo.calls)-1].scope)

	summary := Scope{Year: 2024, Month: 3, Type: catalog.ExamCT}
	_, err = svc.MonthlySummary(asStandard(), summary)
	require.NoError(t, err)
	assert.Equal(t, summary, repo.calls[len(repo.calls)-1].scope)
}

func TestScope_Validation(t *testing.T) {
	svc := NewService(&mockRepo{})
	for name, sc := range map[string]Scope{
		"month": {Month: 13},
		"year":  {Year: 12},
		"type":  {Type: "MRI"},
	} {
		_, err := svc.CoverageDistribution(asStandard(), sc)
		assert.ErrorIs(t, err, apperr.ErrValidation, name)
	}

	_, err := svc.TopRequesters(asStandard(), Scope{Type: catalog.ExamUltrasound}, 0)
	assert.ErrorIs(t, err, apperr.ErrValidation, "requesters exist only on CT")
}

func TestMonthlySummary(t *testing.T) {
	repo := &mockRepo{counts: map[Dimension][]Count{
		ByType:     {{Key: "CT", Total: 2}},
		ByContract: {{Key: "INSTITUTIONAL", Total: 2}},
	}}
	svc := NewService(repo)

	out, err := svc.MonthlySummary(asStandard(), Scope{Year: 2024, Month: 3})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Total)
	assert.Equal(t, 0, out.ByContract[exam.ContractExternal])
	assert.Equal(t, 2, out.ByContract[exam.ContractInstitutional])
	assert.Len(t, out.ByAttention, 3)

	_, err = svc.MonthlySummary(asStandard(), Scope{Year: 2024})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestPatientHistory(t *testing.T) {
	repo := &mockRepo{
		patient: &PatientRef{ID: uuid.New(), NationalID: "123456785", FullName: "Ana Pérez"},
		history: []HistoryEntry{
			{ID: uuid.New(), Type: catalog.ExamCT},
			{ID: uuid.New(), Type: catalog.ExamCT},
			{ID: uuid.New(), Type: catalog.ExamUltrasound},
		},
	}
	svc := NewService(repo)

	out, err := svc.PatientHistory(asStandard(), "12.345.678-5")
	require.NoError(t, err)
	assert.Equal(t, 3, out.Total)
	assert.Equal(t, 2, out.ByType[catalog.ExamCT])
	assert.Equal(t, 0, out.ByType[catalog.ExamXRay])

	_, err = svc.PatientHistory(asStandard(), "11.111.111-1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestReports_RequireActor(t *testing.T) {
	svc := NewService(&mockRepo{})
	_, err := svc.General(context.Background(), Scope{})
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
}

func TestHandler_ScopeParams(t *testing.T) {
	repo := &mockRepo{}
	h := NewHandler(NewService(repo))
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports/coverage?from=2024-01-01&to=2024-06-30&month=2&exam_type=eco", nil)
	req = req.WithContext(asStandard())
	rec := httptest.NewRecorder()
	require.NoError(t, h.Coverage(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, repo.covScope.From)
	require.NotNil(t, repo.covScope.To)
	assert.Equal(t, civil.Date{Year: 2024, Month: 1, Day: 1}, *repo.covScope.From)
	assert.Equal(t, civil.Date{Year: 2024, Month: 6, Day: 30}, *repo.covScope.To)
	assert.Equal(t, 2, repo.covScope.Month)
	assert.Zero(t, repo.covScope.Year)
	assert.Equal(t, catalog.ExamUltrasound, repo.covScope.Type)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/reports/top-requesters?year=2024&limit=3", nil)
	req = req.WithContext(asStandard())
	require.NoError(t, h.TopRequesters(e.NewContext(req, httptest.NewRecorder())))
	assert.Equal(t, 3, repo.topLimit)
	assert.Equal(t, Scope{Year: 2024}, repo.topScope)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/reports/general?from=yesterday", nil)
	req = req.WithContext(asStandard())
	err := h.General(e.NewContext(req, httptest.NewRecorder()))
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestHandler_MonthlySeries(t *testing.T) {
	h := NewHandler(NewService(&mockRepo{}))
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports/monthly-series?year=2024&exam_type=tac", nil)
	req = req.WithContext(asStandard())
	rec := httptest.NewRecorder()
	require.NoError(t, h.MonthlySeries(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"exam_type":"CT"`)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/reports/monthly-series?year=abc", nil)
	req = req.WithContext(asStandard())
	err := h.MonthlySeries(e.NewContext(req, httptest.NewRecorder()))
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
