package reporting

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/ehr/imaging/internal/domain/catalog"
	"github.com/ehr/imaging/internal/domain/exam"
	"github.com/ehr/imaging/internal/domain/rut"
	"github.com/ehr/imaging/internal/platform/apperr"
	"github.com/ehr/imaging/internal/platform/auth"
	"github.com/ehr/imaging/internal/platform/db"
	"github.com/ehr/imaging/pkg/civil"
)

const (
	DefaultTopLimit = 10
	MaxTopLimit     = 50
)

// MonthLabels are the x-axis labels of a monthly series.
var MonthLabels = []string{"Ene", "Feb", "Mar", "Abr", "May", "Jun", "Jul", "Ago", "Sep", "Oct", "Nov", "Dic"}

// Dimension is a column exams can be grouped by.
type Dimension string

const (
	ByType      Dimension = "exam_type"
	ByAttention Dimension = "attention"
	ByContract  Dimension = "contract"
	ByMonth     Dimension = "month"
)

// Scope selects the live exams a measure runs over. Zero fields do not
// restrict.
type Scope struct {
	From  *civil.Date
	To    *civil.Date
	Year  int
	Month int
	Type  catalog.ExamType
}

// Count is one group of a grouped measure.
type Count struct {
	Key   string
	Total int
}

func (s Scope) validate() error {
	if s.From != nil && s.To != nil && s.From.After(*s.To) {
		return apperr.Validation("date range start %s is after end %s", s.From, s.To)
	}
	if s.Year != 0 && (s.Year < 1900 || s.Year > 9999) {
		return apperr.Validation("invalid year %d", s.Year)
	}
	if s.Month != 0 && (s.Month < 1 || s.Month > 12) {
		return apperr.Validation("month must be between 1 and 12")
	}
	if s.Type != "" && !s.Type.Valid() {
		return apperr.Validation("exam_type must be one of CT, XRAY, US")
	}
	return nil
}

// String labels the calendar part of the scope: "M/YYYY", "YYYY", a date
// range, or empty when nothing restricts it.
func (s Scope) String() string {
	var parts []string
	switch {
	case s.Year != 0 && s.Month != 0:
		parts = append(parts, fmt.Sprintf("%d/%d", s.Month, s.Year))
	case s.Year != 0:
		parts = append(parts, strconv.Itoa(s.Year))
	case s.Month != 0:
		parts = append(parts, fmt.Sprintf("%d/*", s.Month))
	}
	if s.From != nil || s.To != nil {
		from, to := "", ""
		if s.From != nil {
			from = s.From.String()
		}
		if s.To != nil {
			to = s.To.String()
		}
		parts = append(parts, from+".."+to)
	}
	return strings.Join(parts, " ")
}

// PatientRef identifies the patient of a history report.
type PatientRef struct {
	ID         uuid.UUID   `json:"-"`
	NationalID string      `json:"national_id"`
	FullName   string      `json:"full_name"`
	BirthDate  *civil.Date `json:"birth_date"`
}

// HistoryEntry is one exam in a patient's timeline.
type HistoryEntry struct {
	ID              uuid.UUID        `json:"id"`
	Type            catalog.ExamType `json:"exam_type"`
	RealizationDate civil.Date       `json:"realization_date"`
	Attention       exam.Attention   `json:"attention"`
}

// Repository evaluates measures over live exams.
type Repository interface {
	CountBy(ctx context.Context, dim Dimension, s Scope) ([]Count, error)
	DistinctPatients(ctx context.Context, s Scope) (int, error)
	// TopRequesters counts CT exams per requesting physician, largest first.
	TopRequesters(ctx context.Context, s Scope, limit int) ([]Count, error)
	// CoverageDistribution counts exams per coverage plan, largest first.
	CoverageDistribution(ctx context.Context, s Scope) ([]Count, error)
	PatientByNationalID(ctx context.Context, nationalID string) (*PatientRef, error)
	// PatientExams lists a patient's live exams, newest realization first.
	PatientExams(ctx context.Context, patientID uuid.UUID) ([]HistoryEntry, error)
}

type GeneralStats struct {
	ByType           map[catalog.ExamType]int `json:"by_type"`
	Total            int                      `json:"total"`
	DistinctPatients int                      `json:"distinct_patients"`
	ByAttention      map[exam.Attention]int   `json:"by_attention"`
}

// Series is chart-ready data: Data[i] belongs to Labels[i].
type Series struct {
	Labels []string `json:"labels"`
	Data   []int    `json:"data"`
	Period string   `json:"period,omitempty"`
	// ExamType is set on monthly series; "ALL" means every modality.
	ExamType string `json:"exam_type,omitempty"`
}

type MonthlySummary struct {
	Period      string                   `json:"period"`
	Total       int                      `json:"total"`
	ByType      map[catalog.ExamType]int `json:"by_type"`
	ByAttention map[exam.Attention]int   `json:"by_attention"`
	ByContract  map[exam.Contract]int    `json:"by_contract"`
}

type PatientHistory struct {
	Patient *PatientRef              `json:"patient"`
	Total   int                      `json:"total"`
	ByType  map[catalog.ExamType]int `json:"by_type"`
	History []HistoryEntry           `json:"history"`
}

// Service aggregates exam statistics. Every result is zero-filled so empty
// periods render as zeros rather than missing keys.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func authorize(ctx context.Context) error {
	_, err := auth.AuthorizeContext(ctx, auth.OpReadReports)
	return err
}

func typeCounts(rows []Count) (map[catalog.ExamType]int, int) {
	out := make(map[catalog.ExamType]int, len(catalog.ExamTypes))
	for _, t := range catalog.ExamTypes {
		out[t] = 0
	}
	total := 0
	for _, r := range rows {
		out[catalog.ExamType(r.Key)] += r.Total
		total += r.Total
	}
	return out, total
}

func attentionCounts(rows []Count) map[exam.Attention]int {
	out := map[exam.Attention]int{exam.AttentionOpen: 0, exam.AttentionClosed: 0, exam.AttentionEmergency: 0}
	for _, r := range rows {
		out[exam.Attention(r.Key)] += r.Total
	}
	return out
}

func contractCounts(rows []Count) map[exam.Contract]int {
	out := map[exam.Contract]int{exam.ContractExternal: 0, exam.ContractInstitutional: 0}
	for _, r := range rows {
		out[exam.Contract(r.Key)] += r.Total
	}
	return out
}

// General counts exams by type and attention and the distinct patients
// attended within the scope.
func (s *Service) General(ctx context.Context, sc Scope) (*GeneralStats, error) {
	if err := authorize(ctx); err != nil {
		return nil, err
	}
	if err := sc.validate(); err != nil {
		return nil, err
	}

	byType, err := s.repo.CountBy(ctx, ByType, sc)
	if err != nil {
		return nil, fmt.Errorf("count by type: %w", err)
	}
	byAttention, err := s.repo.CountBy(ctx, ByAttention, sc)
	if err != nil {
		return nil, fmt.Errorf("count by attention: %w", err)
	}
	patients, err := s.repo.DistinctPatients(ctx, sc)
	if err != nil {
		return nil, fmt.Errorf("count patients: %w", err)
	}

	types, total := typeCounts(byType)
	return &GeneralStats{
		ByType:           types,
		Total:            total,
		DistinctPatients: patients,
		ByAttention:      attentionCounts(byAttention),
	}, nil
}

// MonthlySeries returns twelve buckets, January first. The scope must name
// a year and no month; a date range or type narrows the buckets.
func (s *Service) MonthlySeries(ctx context.Context, sc Scope) (*Series, error) {
	if err := authorize(ctx); err != nil {
		return nil, err
	}
	if sc.Year == 0 {
		return nil, apperr.Validation("year is required")
	}
	if sc.Month != 0 {
		return nil, apperr.Validation("a monthly series spans the whole year; drop month")
	}
	if err := sc.validate(); err != nil {
		return nil, err
	}

	rows, err := s.repo.CountBy(ctx, ByMonth, sc)
	if err != nil {
		return nil, fmt.Errorf("count by month: %w", err)
	}
	data := make([]int, 12)
	for _, r := range rows {
		m, err := strconv.Atoi(r.Key)
		if err != nil || m < 1 || m > 12 {
			return nil, fmt.Errorf("unexpected month bucket %q", r.Key)
		}
		data[m-1] += r.Total
	}
	label := "ALL"
	if sc.Type != "" {
		label = string(sc.Type)
	}
	return &Series{Labels: MonthLabels, Data: data, Period: sc.String(), ExamType: label}, nil
}

// TypeComparison counts exams per modality in display order.
func (s *Service) TypeComparison(ctx context.Context, sc Scope) (*Series, error) {
	if err := authorize(ctx); err != nil {
		return nil, err
	}
	if err := sc.validate(); err != nil {
		return nil, err
	}
	rows, err := s.repo.CountBy(ctx, ByType, sc)
	if err != nil {
		return nil, fmt.Errorf("count by type: %w", err)
	}
	counts, _ := typeCounts(rows)
	out := &Series{Labels: []string{}, Data: []int{}, Period: sc.String()}
	for _, t := range catalog.ExamTypes {
		out.Labels = append(out.Labels, t.Label())
		out.Data = append(out.Data, counts[t])
	}
	return out, nil
}

func ranking(rows []Count, sc Scope) *Series {
	out := &Series{Labels: []string{}, Data: []int{}, Period: sc.String()}
	for _, r := range rows {
		out.Labels = append(out.Labels, r.Key)
		out.Data = append(out.Data, r.Total)
	}
	return out
}

// TopRequesters ranks requesting physicians by CT exams. limit 0 means
// DefaultTopLimit. Only CT records a requesting physician, so any other
// type in the scope is rejected.
func (s *Service) TopRequesters(ctx context.Context, sc Scope, limit int) (*Series, error) {
	if err := authorize(ctx); err != nil {
		return nil, err
	}
	if err := sc.validate(); err != nil {
		return nil, err
	}
	if sc.Type != "" && sc.Type != catalog.ExamCT {
		return nil, apperr.Validation("requesting physicians are only recorded on CT exams")
	}
	if limit == 0 {
		limit = DefaultTopLimit
	}
	if limit < 1 || limit > MaxTopLimit {
		return nil, apperr.Validation("limit must be between 1 and %d", MaxTopLimit)
	}
	rows, err := s.repo.TopRequesters(ctx, sc, limit)
	if err != nil {
		return nil, fmt.Errorf("top requesters: %w", err)
	}
	return ranking(rows, sc), nil
}

// CoverageDistribution counts exams per coverage plan, largest first.
func (s *Service) CoverageDistribution(ctx context.Context, sc Scope) (*Series, error) {
	if err := authorize(ctx); err != nil {
		return nil, err
	}
	if err := sc.validate(); err != nil {
		return nil, err
	}
	rows, err := s.repo.CoverageDistribution(ctx, sc)
	if err != nil {
		return nil, fmt.Errorf("coverage distribution: %w", err)
	}
	return ranking(rows, sc), nil
}

// MonthlySummary breaks one month down by type, attention and contract. The
// scope must name a year and a month.
func (s *Service) MonthlySummary(ctx context.Context, sc Scope) (*MonthlySummary, error) {
	if err := authorize(ctx); err != nil {
		return nil, err
	}
	if sc.Year == 0 || sc.Month == 0 {
		return nil, apperr.Validation("year and month are required")
	}
	if err := sc.validate(); err != nil {
		return nil, err
	}

	byType, err := s.repo.CountBy(ctx, ByType, sc)
	if err != nil {
		return nil, fmt.Errorf("count by type: %w", err)
	}
	byAttention, err := s.repo.CountBy(ctx, ByAttention, sc)
	if err != nil {
		return nil, fmt.Errorf("count by attention: %w", err)
	}
	byContract, err := s.repo.CountBy(ctx, ByContract, sc)
	if err != nil {
		return nil, fmt.Errorf("count by contract: %w", err)
	}

	types, total := typeCounts(byType)
	return &MonthlySummary{
		Period:      sc.String(),
		Total:       total,
		ByType:      types,
		ByAttention: attentionCounts(byAttention),
		ByContract:  contractCounts(byContract),
	}, nil
}

// PatientHistory returns a patient's exam timeline and per-type counts.
func (s *Service) PatientHistory(ctx context.Context, nationalID string) (*PatientHistory, error) {
	if err := authorize(ctx); err != nil {
		return nil, err
	}
	nid := rut.Normalize(nationalID)
	p, err := s.repo.PatientByNationalID(ctx, nid)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("patient %s not found", nationalID)
		}
		return nil, fmt.Errorf("find patient: %w", err)
	}
	entries, err := s.repo.PatientExams(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("patient exams: %w", err)
	}

	byType, _ := typeCounts(nil)
	for _, e := range entries {
		byType[e.Type]++
	}
	if entries == nil {
		entries = []HistoryEntry{}
	}
	return &PatientHistory{Patient: p, Total: len(entries), ByType: byType, History: entries}, nil
}
