package exam

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/ehr/imaging/internal/domain/catalog"
	"github.com/ehr/imaging/internal/platform/apperr"
	"github.com/ehr/imaging/pkg/civil"
)

// Common carries the shared exam fields of a request. On registration the
// non-optional ones must be present; on update only present fields apply.
type Common struct {
	RealizationDate *civil.Date `json:"realization_date"`
	Attention       *string     `json:"attention"`
	CoveragePlanID  *uuid.UUID  `json:"coverage_plan_id"`
	OriginID        *uuid.UUID  `json:"origin_id"`
	SpecificExamID  *uuid.UUID  `json:"specific_exam_id"`
	BillingCodeID   *uuid.UUID  `json:"billing_code_id"`
	Contract        *string     `json:"contract"`
}

func (c Common) apply(e *Exam) error {
	if c.RealizationDate != nil {
		e.RealizationDate = *c.RealizationDate
	}
	if c.Attention != nil {
		a, err := ParseAttention(*c.Attention)
		if err != nil {
			return err
		}
		e.Attention = a
	}
	if c.Contract != nil {
		ct, err := ParseContract(*c.Contract)
		if err != nil {
			return err
		}
		e.Contract = ct
	}
	setID(&e.CoveragePlanID, c.CoveragePlanID)
	setID(&e.OriginID, c.OriginID)
	setID(&e.SpecificExamID, c.SpecificExamID)
	setID(&e.BillingCodeID, c.BillingCodeID)
	return nil
}

func setID(dst *uuid.UUID, v *uuid.UUID) {
	if v != nil {
		*dst = *v
	}
}

func setRef(dst **uuid.UUID, v *uuid.UUID) {
	if v != nil {
		id := *v
		*dst = &id
	}
}

// Fields is the modality-specific part of a request.
type Fields interface {
	Type() catalog.ExamType
	// build creates a new detail, requiring every mandatory field.
	build() (Detail, error)
	// merge applies the present fields onto a copy of d.
	merge(d Detail) (Detail, error)
}

type CTFields struct {
	RequestDate           *civil.Date  `json:"request_date"`
	RealizationTime       *civil.Clock `json:"realization_time"`
	BirthDate             *civil.Date  `json:"birth_date"`
	FacilityStatus        *string      `json:"facility_status"`
	ProtocolID            *uuid.UUID   `json:"protocol_id"`
	StrokeCode            *bool        `json:"stroke_code"`
	GES                   *bool        `json:"ges"`
	Contrast              *bool        `json:"contrast"`
	RenalFunction         *string      `json:"renal_function"`
	Premedicated          *bool        `json:"premedicated"`
	DiagnosisID           *uuid.UUID   `json:"diagnosis_id"`
	RequestingPhysicianID *uuid.UUID   `json:"requesting_physician_id"`
	TechnologistID        *uuid.UUID   `json:"technologist_id"`
	TechnicianID          *uuid.UUID   `json:"technician_id"`
	SecretaryID           *uuid.UUID   `json:"secretary_id"`
	Note                  *string      `json:"note"`
}

func (*CTFields) Type() catalog.ExamType { return catalog.ExamCT }

func (f *CTFields) build() (Detail, error) {
	switch {
	case f.RequestDate == nil:
		return nil, apperr.Validation("request_date is required")
	case f.RealizationTime == nil:
		return nil, apperr.Validation("realization_time is required")
	case f.StrokeCode == nil:
		return nil, apperr.Validation("stroke_code is required")
	case f.GES == nil:
		return nil, apperr.Validation("ges is required")
	case f.Contrast == nil:
		return nil, apperr.Validation("contrast is required")
	}
	return f.merge(&CTDetail{})
}

func (f *CTFields) merge(d Detail) (Detail, error) {
	cur, ok := d.(*CTDetail)
	if !ok {
		return nil, apperr.Validation("exam is not a %s exam", catalog.ExamCT)
	}
	out := *cur
	if f.RequestDate != nil {
		out.RequestDate = *f.RequestDate
	}
	if f.RealizationTime != nil {
		out.RealizationTime = *f.RealizationTime
	}
	if f.BirthDate != nil {
		out.BirthDate = f.BirthDate
	}
	if f.FacilityStatus != nil {
		out.FacilityStatus = f.FacilityStatus
	}
	if f.StrokeCode != nil {
		out.StrokeCode = *f.StrokeCode
	}
	if f.GES != nil {
		out.GES = *f.GES
	}
	if f.Contrast != nil {
		out.Contrast = *f.Contrast
	}
	if f.RenalFunction != nil {
		out.RenalFunction = f.RenalFunction
	}
	if f.Premedicated != nil {
		out.Premedicated = f.Premedicated
	}
	if f.Note != nil {
		out.Note = f.Note
	}
	setRef(&out.ProtocolID, f.ProtocolID)
	setRef(&out.DiagnosisID, f.DiagnosisID)
	setRef(&out.RequestingPhysicianID, f.RequestingPhysicianID)
	setRef(&out.TechnologistID, f.TechnologistID)
	setRef(&out.TechnicianID, f.TechnicianID)
	setRef(&out.SecretaryID, f.SecretaryID)
	return &out, nil
}

type XRayFields struct {
	RealizationTime *civil.Clock `json:"realization_time"`
	TechnologistID  *uuid.UUID   `json:"technologist_id"`
}

func (*XRayFields) Type() catalog.ExamType { return catalog.ExamXRay }

func (f *XRayFields) build() (Detail, error) {
	if f.RealizationTime == nil {
		return nil, apperr.Validation("realization_time is required")
	}
	return f.merge(&XRayDetail{})
}

func (f *XRayFields) merge(d Detail) (Detail, error) {
	cur, ok := d.(*XRayDetail)
	if !ok {
		return nil, apperr.Validation("exam is not a %s exam", catalog.ExamXRay)
	}
	out := *cur
	if f.RealizationTime != nil {
		out.RealizationTime = *f.RealizationTime
	}
	setRef(&out.TechnologistID, f.TechnologistID)
	return &out, nil
}

type UltrasoundFields struct {
	DiagnosisID     *uuid.UUID `json:"diagnosis_id"`
	PerformedByID   *uuid.UUID `json:"performed_by_id"`
	TranscribedByID *uuid.UUID `json:"transcribed_by_id"`
}

func (*UltrasoundFields) Type() catalog.ExamType { return catalog.ExamUltrasound }

func (f *UltrasoundFields) build() (Detail, error) {
	return f.merge(&UltrasoundDetail{})
}

func (f *UltrasoundFields) merge(d Detail) (Detail, error) {
	cur, ok := d.(*UltrasoundDetail)
	if !ok {
		return nil, apperr.Validation("exam is not a %s exam", catalog.ExamUltrasound)
	}
	out := *cur
	setRef(&out.DiagnosisID, f.DiagnosisID)
	setRef(&out.PerformedByID, f.PerformedByID)
	setRef(&out.TranscribedByID, f.TranscribedByID)
	return &out, nil
}

// NewFields returns an empty Fields value for t.
func NewFields(t catalog.ExamType) (Fields, error) {
	switch t {
	case catalog.ExamCT:
		return &CTFields{}, nil
	case catalog.ExamXRay:
		return &XRayFields{}, nil
	case catalog.ExamUltrasound:
		return &UltrasoundFields{}, nil
	}
	return nil, apperr.Validation("unknown exam type %q", t)
}

// Registration is a request to record a new exam. The patient is found by
// national ID, or registered with PatientName when unknown.
type Registration struct {
	PatientNationalID string `json:"patient_national_id"`
	PatientName       string `json:"patient_name"`
	Common
	Fields Fields `json:"-"`
}

// Change is a partial update of an existing exam.
type Change struct {
	Common
	Fields Fields `json:"-"`
}

// DecodeRegistration reads a flat JSON body holding both the shared and the
// modality-specific fields of a t exam.
func DecodeRegistration(t catalog.ExamType, body []byte) (Registration, error) {
	var reg Registration
	f, err := NewFields(t)
	if err != nil {
		return reg, err
	}
	if err := json.Unmarshal(body, &reg); err != nil {
		return reg, apperr.Validation("invalid request body: %v", err)
	}
	if err := json.Unmarshal(body, f); err != nil {
		return reg, apperr.Validation("invalid request body: %v", err)
	}
	reg.Fields = f
	return reg, nil
}

func DecodeChange(t catalog.ExamType, body []byte) (Change, error) {
	var ch Change
	f, err := NewFields(t)
	if err != nil {
		return ch, err
	}
	if err := json.Unmarshal(body, &ch); err != nil {
		return ch, apperr.Validation("invalid request body: %v", err)
	}
	if err := json.Unmarshal(body, f); err != nil {
		return ch, apperr.Validation("invalid request body: %v", err)
	}
	ch.Fields = f
	return ch, nil
}
