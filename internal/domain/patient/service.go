package patient

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/imaging/internal/domain/rut"
	"github.com/ehr/imaging/internal/platform/apperr"
	"github.com/ehr/imaging/internal/platform/auth"
	"github.com/ehr/imaging/internal/platform/db"
	"github.com/ehr/imaging/pkg/civil"
)

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

func (s *Service) today() civil.Date {
	return civil.DateOf(s.now())
}

// FindOrCreate resolves a patient by national ID, registering them when the
// ID is new. A birth date fills in a missing one on an existing record but
// never overwrites a stored value. name is only needed for new patients.
func (s *Service) FindOrCreate(ctx context.Context, nationalID, name string, birth *civil.Date) (*Patient, error) {
	nid, err := rut.Parse(nationalID)
	if err != nil {
		return nil, err
	}
	if err := checkBirthDate(birth, s.today()); err != nil {
		return nil, err
	}

	p, err := s.repo.GetByNationalID(ctx, nid)
	switch {
	case err == nil:
		return s.fillBirthDate(ctx, p, birth)
	case !db.IsNoRows(err):
		return nil, fmt.Errorf("find patient: %w", err)
	}

	if name == "" {
		return nil, apperr.Validation("patient %s is not registered; full_name is required", rut.Format(nid))
	}
	if name, err = normalizeName(name); err != nil {
		return nil, err
	}

	p = &Patient{NationalID: nid, FullName: name, BirthDate: birth}
	created, err := s.repo.CreateIfAbsent(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("create patient: %w", err)
	}
	if created {
		return p, nil
	}

	// Another request registered the same ID first.
	p, err = s.repo.GetByNationalID(ctx, nid)
	if err != nil {
		return nil, fmt.Errorf("find patient after concurrent insert: %w", err)
	}
	return s.fillBirthDate(ctx, p, birth)
}

func (s *Service) fillBirthDate(ctx context.Context, p *Patient, birth *civil.Date) (*Patient, error) {
	if birth == nil || p.BirthDate != nil {
		return p, nil
	}
	p.BirthDate = birth
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("update patient birth date: %w", err)
	}
	return p, nil
}

// Create registers a patient explicitly. A known national ID is a conflict.
func (s *Service) Create(ctx context.Context, p *Patient) error {
	if _, err := auth.AuthorizeContext(ctx, auth.OpCreatePatient); err != nil {
		return err
	}
	nid, err := rut.Parse(p.NationalID)
	if err != nil {
		return err
	}
	name, err := normalizeName(p.FullName)
	if err != nil {
		return err
	}
	if err := checkBirthDate(p.BirthDate, s.today()); err != nil {
		return err
	}
	p.NationalID, p.FullName = nid, name

	created, err := s.repo.CreateIfAbsent(ctx, p)
	if err != nil {
		return fmt.Errorf("create patient: %w", err)
	}
	if !created {
		return apperr.Conflict("patient with RUT %s already exists", rut.Format(nid))
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("patient %s not found", id)
		}
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return p, nil
}

// Lookup finds a patient by national ID for form autocompletion.
func (s *Service) Lookup(ctx context.Context, nationalID string) (*Lookup, error) {
	nid := rut.Normalize(nationalID)
	p, err := s.repo.GetByNationalID(ctx, nid)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("patient %s not found", rut.Format(nid))
		}
		return nil, fmt.Errorf("lookup patient: %w", err)
	}
	out := &Lookup{ID: p.ID, NationalID: rut.Format(p.NationalID), FullName: p.FullName, BirthDate: p.BirthDate}
	if p.BirthDate != nil {
		age := s.today().YearsSince(*p.BirthDate)
		out.Age = &age
	}
	return out, nil
}

func (s *Service) List(ctx context.Context, search string, limit, offset int) ([]*Patient, int, error) {
	return s.repo.List(ctx, search, limit, offset)
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, ch Changes) (*Patient, error) {
	if _, err := auth.AuthorizeContext(ctx, auth.OpUpdatePatient); err != nil {
		return nil, err
	}
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ch.FullName != nil {
		if p.FullName, err = normalizeName(*ch.FullName); err != nil {
			return nil, err
		}
	}
	if ch.BirthDate != nil {
		if err := checkBirthDate(ch.BirthDate, s.today()); err != nil {
			return nil, err
		}
		p.BirthDate = ch.BirthDate
	}
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("update patient: %w", err)
	}
	return p, nil
}

// Delete removes a patient. Any exam row, soft-deleted or not, blocks it.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := auth.AuthorizeContext(ctx, auth.OpDeletePatient); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		switch {
		case db.IsNoRows(err):
			return apperr.NotFound("patient %s not found", id)
		case db.IsForeignKeyViolation(err):
			return apperr.Conflict("patient %s has exam records and cannot be deleted", id)
		}
		return fmt.Errorf("delete patient: %w", err)
	}
	return nil
}
