package exam

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/imaging/internal/domain/catalog"
	"github.com/ehr/imaging/internal/platform/apperr"
	"github.com/ehr/imaging/pkg/civil"
)

// Attention is how the patient was attended.
type Attention string

const (
	AttentionOpen      Attention = "OPEN"
	AttentionClosed    Attention = "CLOSED"
	AttentionEmergency Attention = "EMERGENCY"
)

// ParseAttention accepts the canonical value or the department label.
func ParseAttention(s string) (Attention, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "OPEN", "ABIERTA":
		return AttentionOpen, nil
	case "CLOSED", "CERRADA":
		return AttentionClosed, nil
	case "EMERGENCY", "URGENCIA":
		return AttentionEmergency, nil
	}
	return "", apperr.Validation("attention must be one of OPEN, CLOSED, EMERGENCY")
}

func (a Attention) Valid() bool {
	return a == AttentionOpen || a == AttentionClosed || a == AttentionEmergency
}

func (a Attention) Label() string {
	switch a {
	case AttentionOpen:
		return "Abierta"
	case AttentionClosed:
		return "Cerrada"
	case AttentionEmergency:
		return "Urgencia"
	}
	return string(a)
}

// Contract is who performed the exam.
type Contract string

const (
	ContractExternal      Contract = "EXTERNAL"
	ContractInstitutional Contract = "INSTITUTIONAL"
)

func ParseContract(s string) (Contract, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "EXTERNAL", "EMPRESA EXTERNA":
		return ContractExternal, nil
	case "INSTITUTIONAL", "INSTITUCIONAL":
		return ContractInstitutional, nil
	}
	return "", apperr.Validation("contract must be one of EXTERNAL, INSTITUTIONAL")
}

func (c Contract) Valid() bool {
	return c == ContractExternal || c == ContractInstitutional
}

func (c Contract) Label() string {
	switch c {
	case ContractExternal:
		return "Empresa Externa"
	case ContractInstitutional:
		return "Institucional"
	}
	return string(c)
}

// PatientSummary identifies the patient on exam views.
type PatientSummary struct {
	ID         uuid.UUID `json:"id"`
	NationalID string    `json:"national_id"`
	FullName   string    `json:"full_name"`
}

// Exam is the shared record of every modality. Detail holds exactly one
// modality-specific payload and determines the exam type.
type Exam struct {
	ID              uuid.UUID      `json:"id"`
	Patient         PatientSummary `json:"patient"`
	RealizationDate civil.Date     `json:"realization_date"`
	Attention       Attention      `json:"attention"`
	CoveragePlanID  uuid.UUID      `json:"coverage_plan_id"`
	OriginID        uuid.UUID      `json:"origin_id"`
	SpecificExamID  uuid.UUID      `json:"specific_exam_id"`
	BillingCodeID   uuid.UUID      `json:"billing_code_id"`
	Contract        Contract       `json:"contract"`
	Month           int            `json:"month"`
	Year            int            `json:"year"`
	InReview        bool           `json:"in_review"`
	ReviewReason    *string        `json:"review_reason,omitempty"`
	CreatedBy       *uuid.UUID     `json:"created_by,omitempty"`
	UpdatedBy       *uuid.UUID     `json:"updated_by,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       *time.Time     `json:"-"`
	Detail          Detail         `json:"detail"`
}

func (e *Exam) Type() catalog.ExamType {
	if e.Detail == nil {
		return ""
	}
	return e.Detail.Type()
}

func (e Exam) MarshalJSON() ([]byte, error) {
	type alias Exam
	return json.Marshal(struct {
		Type catalog.ExamType `json:"exam_type"`
		alias
	}{e.Type(), alias(e)})
}

// derive recomputes every field that is a function of other fields.
func (e *Exam) derive() {
	e.Month = int(e.RealizationDate.Month)
	e.Year = e.RealizationDate.Year
	if ct, ok := e.Detail.(*CTDetail); ok {
		ct.Age = nil
		if ct.BirthDate != nil {
			age := e.RealizationDate.YearsSince(*ct.BirthDate)
			ct.Age = &age
		}
	}
}

// Validate checks the shared fields and the cross-field rules of the detail.
func (e *Exam) Validate() error {
	if e.Detail == nil {
		return apperr.Validation("exam detail is required")
	}
	if e.RealizationDate.IsZero() {
		return apperr.Validation("realization_date is required")
	}
	if !e.Attention.Valid() {
		return apperr.Validation("attention must be one of OPEN, CLOSED, EMERGENCY")
	}
	if !e.Contract.Valid() {
		return apperr.Validation("contract must be one of EXTERNAL, INSTITUTIONAL")
	}
	for name, id := range map[string]uuid.UUID{
		"coverage_plan_id": e.CoveragePlanID,
		"origin_id":        e.OriginID,
		"specific_exam_id": e.SpecificExamID,
		"billing_code_id":  e.BillingCodeID,
	} {
		if id == uuid.Nil {
			return apperr.Validation("%s is required", name)
		}
	}
	if e.Month < 1 || e.Month > 12 {
		return apperr.Validation("month %d out of range", e.Month)
	}
	return e.Detail.validate(e)
}

// ReviewState is the outcome of flagging or unflagging an exam.
type ReviewState struct {
	ExamID   uuid.UUID `json:"exam_id"`
	InReview bool      `json:"in_review"`
	Reason   *string   `json:"reason"`
}

// Flagged is a row of the review queue.
type Flagged struct {
	ID              uuid.UUID        `json:"id"`
	Type            catalog.ExamType `json:"exam_type"`
	RealizationDate civil.Date       `json:"realization_date"`
	Reason          *string          `json:"review_reason"`
	CreatedBy       *uuid.UUID       `json:"created_by"`
	CreatedAt       time.Time        `json:"created_at"`
}

// Filter narrows exam listings. Zero values match everything. An unknown
// patient national ID matches nothing.
type Filter struct {
	From              *civil.Date
	To                *civil.Date
	PatientNationalID string
	Month             int
	Year              int
	CreatedBy         *uuid.UUID
}

func (f Filter) validate() error {
	if f.Month != 0 && (f.Month < 1 || f.Month > 12) {
		return apperr.Validation("month must be between 1 and 12")
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return apperr.Validation("date range start %s is after end %s", f.From, f.To)
	}
	return nil
}

// Summary is the type-independent view of an exam.
type Summary struct {
	ID              uuid.UUID        `json:"id"`
	Type            catalog.ExamType `json:"exam_type"`
	RealizationDate civil.Date       `json:"realization_date"`
	PatientID       uuid.UUID        `json:"patient_id"`
	CreatedAt       time.Time        `json:"created_at"`
}
