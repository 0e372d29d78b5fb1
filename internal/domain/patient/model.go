package patient

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/imaging/internal/platform/apperr"
	"github.com/ehr/imaging/pkg/civil"
)

type Patient struct {
	ID         uuid.UUID   `json:"id"`
	NationalID string      `json:"national_id"`
	FullName   string      `json:"full_name"`
	BirthDate  *civil.Date `json:"birth_date,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// Lookup is the autocomplete view: formatted national ID and current age.
type Lookup struct {
	ID         uuid.UUID   `json:"id"`
	NationalID string      `json:"national_id"`
	FullName   string      `json:"full_name"`
	BirthDate  *civil.Date `json:"birth_date,omitempty"`
	Age        *int        `json:"age,omitempty"`
}

// Changes holds the fields a caller asked to update.
type Changes struct {
	FullName  *string     `json:"full_name"`
	BirthDate *civil.Date `json:"birth_date"`
}

func normalizeName(name string) (string, error) {
	name = strings.Join(strings.Fields(name), " ")
	if n := len([]rune(name)); n < 3 || n > 200 {
		return "", apperr.Validation("full_name must be between 3 and 200 characters")
	}
	return name, nil
}

func checkBirthDate(d *civil.Date, today civil.Date) error {
	if d != nil && d.After(today) {
		return apperr.Validation("birth_date %s is in the future", d)
	}
	return nil
}
