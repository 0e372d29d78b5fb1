package catalog

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/imaging/internal/platform/apperr"
	"github.com/ehr/imaging/internal/platform/auth"
)

// Kind identifies a reference table. The value doubles as its URL segment.
type Kind string

const (
	KindCoveragePlan Kind = "coverage-plans"
	KindOrigin       Kind = "origins"
	KindBillingCode  Kind = "billing-codes"
	KindProtocol     Kind = "protocols"
	KindDiagnosis    Kind = "diagnoses"
	KindStaff        Kind = "staff"
	KindSpecificExam Kind = "specific-exams"
)

type kindSpec struct {
	table   string
	nameCol string
	// scoped tables carry an exam_type column.
	scoped     bool
	coded      bool
	staffTyped bool
	orderBy    string
	maxName    int
	minName    int
	createOp   auth.Operation
}

var kinds = map[Kind]kindSpec{
	KindCoveragePlan: {table: "coverage_plan", nameCol: "name", orderBy: "name", minName: 1, maxName: 50, createOp: auth.OpManageCatalog},
	KindOrigin:       {table: "origin", nameCol: "name", orderBy: "name", minName: 1, maxName: 100, createOp: auth.OpCreateCatalog},
	KindBillingCode:  {table: "billing_code", nameCol: "description", scoped: true, coded: true, orderBy: "code", minName: 1, createOp: auth.OpManageCatalog},
	KindProtocol:     {table: "ct_protocol", nameCol: "name", orderBy: "name", minName: 1, maxName: 150, createOp: auth.OpCreateCatalog},
	KindDiagnosis:    {table: "diagnosis", nameCol: "name", orderBy: "name", minName: 1, createOp: auth.OpCreateCatalog},
	KindStaff:        {table: "staff_member", nameCol: "name", staffTyped: true, orderBy: "name", minName: 3, maxName: 150, createOp: auth.OpCreateCatalog},
	KindSpecificExam: {table: "specific_exam", nameCol: "name", scoped: true, orderBy: "name", minName: 3, maxName: 200, createOp: auth.OpCreateCatalog},
}

// Kinds lists the reference tables in route registration order.
var Kinds = []Kind{KindCoveragePlan, KindOrigin, KindBillingCode, KindProtocol, KindDiagnosis, KindStaff, KindSpecificExam}

func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(s))
	if _, ok := kinds[k]; !ok {
		return "", apperr.NotFound("unknown catalog %q", s)
	}
	return k, nil
}

// StaffType classifies members of staff.
type StaffType string

const (
	StaffTechnologist StaffType = "TM"
	StaffTechnician   StaffType = "TP"
	StaffPhysician    StaffType = "MEDICO"
	StaffSecretary    StaffType = "SECRETARIA"
	StaffGeneral      StaffType = "GENERAL"
)

func (s StaffType) Valid() bool {
	switch s {
	case StaffTechnologist, StaffTechnician, StaffPhysician, StaffSecretary, StaffGeneral:
		return true
	}
	return false
}

// Item is one row of any reference table. Code is set for billing codes,
// ExamType for billing codes and specific exams, StaffType for staff. For
// billing codes Name holds the code description.
type Item struct {
	ID        uuid.UUID `json:"id"`
	Kind      Kind      `json:"kind"`
	Name      string    `json:"name"`
	Code      string    `json:"code,omitempty"`
	ExamType  ExamType  `json:"exam_type,omitempty"`
	StaffType StaffType `json:"staff_type,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter narrows a catalog listing. Zero values match everything.
type Filter struct {
	Active    *bool
	ExamType  ExamType
	StaffType StaffType
	Search    string
}

// Validate normalizes the item in place and checks the fields its kind needs.
func (it *Item) Validate() error {
	ks, ok := kinds[it.Kind]
	if !ok {
		return apperr.Validation("unknown catalog %q", it.Kind)
	}

	it.Name = strings.TrimSpace(it.Name)
	if n := len([]rune(it.Name)); n < ks.minName || (ks.maxName > 0 && n > ks.maxName) {
		if ks.maxName > 0 {
			return apperr.Validation("name must be between %d and %d characters", ks.minName, ks.maxName)
		}
		return apperr.Validation("name is required")
	}

	if ks.scoped {
		if !it.ExamType.Valid() {
			return apperr.Validation("exam_type must be one of CT, XRAY, US")
		}
	} else {
		it.ExamType = ""
	}

	if ks.coded {
		it.Code = strings.TrimSpace(it.Code)
		if it.Code == "" || len(it.Code) > 20 {
			return apperr.Validation("code is required and at most 20 characters")
		}
	} else {
		it.Code = ""
	}

	if ks.staffTyped {
		if !it.StaffType.Valid() {
			return apperr.Validation("staff_type must be one of TM, TP, MEDICO, SECRETARIA, GENERAL")
		}
	} else {
		it.StaffType = ""
	}
	return nil
}

// BillingCodeSheet is the read-only reference list of active billing codes
// for one modality.
type BillingCodeSheet struct {
	ExamType ExamType      `json:"exam_type"`
	Total    int           `json:"total"`
	Codes    []BillingLine `json:"codes"`
}

type BillingLine struct {
	ID          uuid.UUID `json:"id"`
	Code        string    `json:"code"`
	Description string    `json:"description"`
}
