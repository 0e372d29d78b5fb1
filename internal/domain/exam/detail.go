package exam

import (
	"strings"

	"github.com/google/uuid"

	"github.com/ehr/imaging/internal/domain/catalog"
	"github.com/ehr/imaging/internal/platform/apperr"
	"github.com/ehr/imaging/pkg/civil"
)

// NoCreatinine is the renal-function entry used when no creatinine value was
// taken. It does not require a premedication answer.
const NoCreatinine = "sin creatinina"

// Detail is the modality-specific part of an exam. The implementations are
// CTDetail, XRayDetail and UltrasoundDetail.
type Detail interface {
	Type() catalog.ExamType
	validate(base *Exam) error
}

type CTDetail struct {
	RequestDate           civil.Date  `json:"request_date"`
	RealizationTime       civil.Clock `json:"realization_time"`
	BirthDate             *civil.Date `json:"birth_date,omitempty"`
	Age                   *int        `json:"age,omitempty"`
	FacilityStatus        *string     `json:"facility_status,omitempty"`
	ProtocolID            *uuid.UUID  `json:"protocol_id,omitempty"`
	StrokeCode            bool        `json:"stroke_code"`
	GES                   bool        `json:"ges"`
	Contrast              bool        `json:"contrast"`
	RenalFunction         *string     `json:"renal_function,omitempty"`
	Premedicated          *bool       `json:"premedicated,omitempty"`
	DiagnosisID           *uuid.UUID  `json:"diagnosis_id,omitempty"`
	RequestingPhysicianID *uuid.UUID  `json:"requesting_physician_id,omitempty"`
	TechnologistID        *uuid.UUID  `json:"technologist_id,omitempty"`
	TechnicianID          *uuid.UUID  `json:"technician_id,omitempty"`
	SecretaryID           *uuid.UUID  `json:"secretary_id,omitempty"`
	Note                  *string     `json:"note,omitempty"`
}

func (*CTDetail) Type() catalog.ExamType { return catalog.ExamCT }

// RequiresPremedication reports whether the renal-function entry is a
// measured value, which makes the premedication answer mandatory.
func (d *CTDetail) RequiresPremedication() bool {
	if d.RenalFunction == nil {
		return false
	}
	v := strings.TrimSpace(*d.RenalFunction)
	return v != "" && !strings.EqualFold(v, NoCreatinine)
}

func (d *CTDetail) validate(base *Exam) error {
	if d.RequestDate.IsZero() {
		return apperr.Validation("request_date is required")
	}
	if d.RequestDate.After(base.RealizationDate) {
		return apperr.Validation("request_date %s cannot be after realization_date %s", d.RequestDate, base.RealizationDate)
	}
	if d.BirthDate != nil && d.BirthDate.After(base.RealizationDate) {
		return apperr.Validation("birth_date %s cannot be after realization_date %s", d.BirthDate, base.RealizationDate)
	}
	if d.RequiresPremedication() && d.Premedicated == nil {
		return apperr.Validation("premedicated is required when renal_function has a measured value")
	}
	if d.FacilityStatus != nil && len([]rune(*d.FacilityStatus)) > 50 {
		return apperr.Validation("facility_status must be at most 50 characters")
	}
	if d.RenalFunction != nil && len([]rune(*d.RenalFunction)) > 50 {
		return apperr.Validation("renal_function must be at most 50 characters")
	}
	return nil
}

type XRayDetail struct {
	RealizationTime civil.Clock `json:"realization_time"`
	TechnologistID  *uuid.UUID  `json:"technologist_id,omitempty"`
}

func (*XRayDetail) Type() catalog.ExamType { return catalog.ExamXRay }

func (*XRayDetail) validate(*Exam) error { return nil }

type UltrasoundDetail struct {
	DiagnosisID     *uuid.UUID `json:"diagnosis_id,omitempty"`
	PerformedByID   *uuid.UUID `json:"performed_by_id,omitempty"`
	TranscribedByID *uuid.UUID `json:"transcribed_by_id,omitempty"`
}

func (*UltrasoundDetail) Type() catalog.ExamType { return catalog.ExamUltrasound }

func (*UltrasoundDetail) validate(*Exam) error { return nil }
