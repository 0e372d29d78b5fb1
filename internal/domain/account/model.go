package account

import (
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/imaging/internal/domain/rut"
	"github.com/ehr/imaging/internal/platform/apperr"
	"github.com/ehr/imaging/internal/platform/auth"
)

const (
	minNameLength  = 3
	maxNameLength  = 150
	maxEmailLength = 150
	maxPhoneLength = 20
)

// Account is a person allowed to sign in.
type Account struct {
	ID                 uuid.UUID `json:"id"`
	NationalID         string    `json:"national_id"`
	FullName           string    `json:"full_name"`
	Email              string    `json:"email"`
	Phone              *string   `json:"phone,omitempty"`
	PasswordHash       string    `json:"-"`
	Role               auth.Role `json:"role"`
	Active             bool      `json:"active"`
	MustChangePassword bool      `json:"must_change_password"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (a *Account) Actor() auth.Actor {
	return auth.Actor{ID: a.ID, Role: a.Role, Active: a.Active}
}

// NewAccount is the input for creating an account.
type NewAccount struct {
	NationalID string  `json:"national_id"`
	FullName   string  `json:"full_name"`
	Email      string  `json:"email"`
	Phone      *string `json:"phone"`
	Password   string  `json:"password"`
}

// ProfileChanges is a partial update of the caller's own profile.
type ProfileChanges struct {
	FullName *string `json:"full_name"`
	Email    *string `json:"email"`
	Phone    *string `json:"phone"`
}

type ListFilter struct {
	Active *bool
	Role   auth.Role
	Search string
}

func normalizeName(s string) (string, error) {
	name := strings.Join(strings.Fields(s), " ")
	if n := len([]rune(name)); n < minNameLength || n > maxNameLength {
		return "", apperr.Validation("full_name must be between %d and %d characters", minNameLength, maxNameLength)
	}
	return name, nil
}

func normalizeEmail(s string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(s))
	if err != nil || addr.Name != "" {
		return "", apperr.Validation("invalid email address")
	}
	if len(addr.Address) > maxEmailLength {
		return "", apperr.Validation("email must be at most %d characters", maxEmailLength)
	}
	return strings.ToLower(addr.Address), nil
}

func normalizePhone(p *string) (*string, error) {
	if p == nil {
		return nil, nil
	}
	v := strings.TrimSpace(*p)
	if v == "" {
		return nil, nil
	}
	if len(v) > maxPhoneLength {
		return nil, apperr.Validation("phone must be at most %d characters", maxPhoneLength)
	}
	return &v, nil
}

func checkPassword(pw string) error {
	if len(pw) < auth.MinPasswordLength {
		return apperr.Validation("password must be at least %d characters", auth.MinPasswordLength)
	}
	return nil
}

// build validates n and returns the account it describes, without the
// password hash.
func (n NewAccount) build(role auth.Role, mustChange bool) (*Account, error) {
	nid, err := rut.Parse(n.NationalID)
	if err != nil {
		return nil, err
	}
	name, err := normalizeName(n.FullName)
	if err != nil {
		return nil, err
	}
	email, err := normalizeEmail(n.Email)
	if err != nil {
		return nil, err
	}
	phone, err := normalizePhone(n.Phone)
	if err != nil {
		return nil, err
	}
	if err := checkPassword(n.Password); err != nil {
		return nil, err
	}
	return &Account{
		NationalID:         nid,
		FullName:           name,
		Email:              email,
		Phone:              phone,
		Role:               role,
		Active:             true,
		MustChangePassword: mustChange,
	}, nil
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	Account     *Account  `json:"account"`
}
