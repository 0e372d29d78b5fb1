package catalog

import (
	"strings"

	"github.com/ehr/imaging/internal/platform/apperr"
)

// ExamType is the imaging modality of an exam.
type ExamType string

const (
	ExamCT         ExamType = "CT"
	ExamXRay       ExamType = "XRAY"
	ExamUltrasound ExamType = "US"
)

// ExamTypes lists every modality in display order.
var ExamTypes = []ExamType{ExamCT, ExamXRay, ExamUltrasound}

// ParseExamType accepts the canonical value, the URL slug or the department's
// legacy label (TAC, RX, ECO), case-insensitively.
func ParseExamType(s string) (ExamType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CT", "TAC":
		return ExamCT, nil
	case "XRAY", "RX", "X-RAY":
		return ExamXRay, nil
	case "US", "ECO":
		return ExamUltrasound, nil
	}
	return "", apperr.Validation("unknown exam type %q: expected CT, XRAY or US", s)
}

func (t ExamType) Valid() bool {
	return t == ExamCT || t == ExamXRay || t == ExamUltrasound
}

// Slug is the path segment used in exam routes.
func (t ExamType) Slug() string {
	switch t {
	case ExamCT:
		return "ct"
	case ExamXRay:
		return "xray"
	case ExamUltrasound:
		return "us"
	}
	return ""
}

// Label is the department's short name for the modality.
func (t ExamType) Label() string {
	switch t {
	case ExamCT:
		return "TAC"
	case ExamXRay:
		return "RX"
	case ExamUltrasound:
		return "ECO"
	}
	return string(t)
}
