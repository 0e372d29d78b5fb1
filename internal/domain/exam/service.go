package exam

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/imaging/internal/domain/catalog"
	"github.com/ehr/imaging/internal/domain/patient"
	"github.com/ehr/imaging/internal/domain/rut"
	"github.com/ehr/imaging/internal/platform/apperr"
	"github.com/ehr/imaging/internal/platform/auth"
	"github.com/ehr/imaging/internal/platform/db"
	"github.com/ehr/imaging/pkg/civil"
)

const maxReviewReason = 500

// PatientResolver finds or registers the patient an exam belongs to.
type PatientResolver interface {
	FindOrCreate(ctx context.Context, nationalID, name string, birth *civil.Date) (*patient.Patient, error)
}

// Transactor runs a function as one unit of work. *db.TxRunner satisfies it.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	repo     Repository
	patients PatientResolver
	tx       Transactor
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, patients PatientResolver, tx Transactor, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		patients: patients,
		tx:       tx,
		logger:   logger.With().Str("component", "exam-service").Logger(),
		now:      time.Now,
	}
}

// storeErr maps database failures on writes to client errors.
func storeErr(err error, op string) error {
	var appErr *apperr.Error
	switch {
	case errors.As(err, &appErr):
		return err
	case db.IsForeignKeyViolation(err):
		return apperr.Validation("referenced record does not exist (%s)", db.ConstraintName(err))
	case db.IsCheckViolation(err):
		return apperr.Validation("invalid exam data (%s)", db.ConstraintName(err))
	}
	return fmt.Errorf("%s: %w", op, err)
}

func notFound(t catalog.ExamType, id uuid.UUID) error {
	return apperr.NotFound("%s exam %s not found", t, id)
}

// Register records a new exam. The patient is resolved inside the same
// transaction, so a failed exam insert never leaves a new patient behind.
func (s *Service) Register(ctx context.Context, reg Registration) (*Exam, error) {
	actor, err := auth.AuthorizeContext(ctx, auth.OpCreateExam)
	if err != nil {
		return nil, err
	}
	if reg.Fields == nil {
		return nil, apperr.Validation("exam fields are required")
	}
	detail, err := reg.Fields.build()
	if err != nil {
		return nil, err
	}
	e := &Exam{Detail: detail, CreatedBy: &actor.ID, UpdatedBy: &actor.ID}
	if err := reg.Common.apply(e); err != nil {
		return nil, err
	}
	e.derive()
	if err := e.Validate(); err != nil {
		return nil, err
	}

	var birth *civil.Date
	if ct, ok := detail.(*CTDetail); ok {
		birth = ct.BirthDate
	}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.patients.FindOrCreate(ctx, reg.PatientNationalID, reg.PatientName, birth)
		if err != nil {
			return err
		}
		e.Patient = PatientSummary{ID: p.ID, NationalID: p.NationalID, FullName: p.FullName}
		return s.repo.Create(ctx, e)
	})
	if err != nil {
		return nil, storeErr(err, "register exam")
	}

	s.logger.Info().
		Str("exam_id", e.ID.String()).
		Str("exam_type", string(e.Type())).
		Str("actor_id", actor.ID.String()).
		Msg("exam registered")
	return e, nil
}

func (s *Service) Get(ctx context.Context, t catalog.ExamType, id uuid.UUID) (*Exam, error) {
	if _, err := auth.AuthorizeContext(ctx, auth.OpReadExam); err != nil {
		return nil, err
	}
	e, err := s.repo.Get(ctx, t, id)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, notFound(t, id)
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}
	return e, nil
}

// List returns live exams of one type. A patient national ID that matches no
// one yields an empty page rather than an error.
func (s *Service) List(ctx context.Context, t catalog.ExamType, f Filter, limit, offset int) ([]*Exam, int, error) {
	if _, err := auth.AuthorizeContext(ctx, auth.OpReadExam); err != nil {
		return nil, 0, err
	}
	if err := f.validate(); err != nil {
		return nil, 0, err
	}
	if f.PatientNationalID != "" {
		f.PatientNationalID = rut.Normalize(f.PatientNationalID)
	}
	exams, total, err := s.repo.List(ctx, t, f, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list exams: %w", err)
	}
	return exams, total, nil
}

// Update applies a partial change. Permission is checked before existence
// so standard accounts cannot probe for exam IDs.
func (s *Service) Update(ctx context.Context, t catalog.ExamType, id uuid.UUID, ch Change) (*Exam, error) {
	actor, err := auth.AuthorizeContext(ctx, auth.OpUpdateExam)
	if err != nil {
		return nil, err
	}
	if ch.Fields == nil || ch.Fields.Type() != t {
		return nil, apperr.Validation("%s exam fields are required", t)
	}

	var out *Exam
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		e, err := s.repo.GetForUpdate(ctx, t, id)
		if err != nil {
			if db.IsNoRows(err) {
				return notFound(t, id)
			}
			return err
		}
		if err := ch.Common.apply(e); err != nil {
			return err
		}
		if e.Detail, err = ch.Fields.merge(e.Detail); err != nil {
			return err
		}
		e.derive()
		if err := e.Validate(); err != nil {
			return err
		}
		e.UpdatedBy = &actor.ID
		if err := s.repo.Update(ctx, e); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, storeErr(err, "update exam")
	}

	s.logger.Info().
		Str("exam_id", id.String()).
		Str("exam_type", string(t)).
		Str("actor_id", actor.ID.String()).
		Msg("exam updated")
	return out, nil
}

func (s *Service) SoftDelete(ctx context.Context, t catalog.ExamType, id uuid.UUID) error {
	actor, err := auth.AuthorizeContext(ctx, auth.OpDeleteExam)
	if err != nil {
		return err
	}
	if err := s.repo.SoftDelete(ctx, t, id, actor.ID, s.now().UTC()); err != nil {
		if db.IsNoRows(err) {
			return notFound(t, id)
		}
		return fmt.Errorf("delete exam: %w", err)
	}
	s.logger.Info().
		Str("exam_id", id.String()).
		Str("exam_type", string(t)).
		Str("actor_id", actor.ID.String()).
		Msg("exam deleted")
	return nil
}

// SetReviewFlag marks an exam for review or clears the mark. The reason is
// kept only while the exam is flagged.
func (s *Service) SetReviewFlag(ctx context.Context, id uuid.UUID, flagged bool, reason string) (*ReviewState, error) {
	actor, err := auth.AuthorizeContext(ctx, auth.OpReviewExam)
	if err != nil {
		return nil, err
	}
	var why *string
	if r := strings.TrimSpace(reason); flagged && r != "" {
		if len([]rune(r)) > maxReviewReason {
			return nil, apperr.Validation("reason must be at most %d characters", maxReviewReason)
		}
		why = &r
	}
	if err := s.repo.SetReview(ctx, id, flagged, why); err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("exam %s not found", id)
		}
		return nil, fmt.Errorf("set review flag: %w", err)
	}
	s.logger.Info().
		Str("exam_id", id.String()).
		Bool("in_review", flagged).
		Str("actor_id", actor.ID.String()).
		Msg("exam review flag changed")
	return &ReviewState{ExamID: id, InReview: flagged, Reason: why}, nil
}

// ListFlagged returns the review queue, newest first. An empty type lists
// every modality.
func (s *Service) ListFlagged(ctx context.Context, t catalog.ExamType) ([]*Flagged, error) {
	if _, err := auth.AuthorizeContext(ctx, auth.OpReviewExam); err != nil {
		return nil, err
	}
	if t != "" && !t.Valid() {
		return nil, apperr.Validation("unknown exam type %q", t)
	}
	out, err := s.repo.ListFlagged(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("list flagged exams: %w", err)
	}
	return out, nil
}

// CountByCreator counts every exam an account registered, soft-deleted ones
// included, so an account with any audit history cannot be dropped silently.
func (s *Service) CountByCreator(ctx context.Context, accountID uuid.UUID) (int, error) {
	n, err := s.repo.CountByCreator(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("count exams by creator: %w", err)
	}
	return n, nil
}

func (s *Service) ListByCreator(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*Summary, int, error) {
	if _, err := auth.AuthorizeContext(ctx, auth.OpManageAccounts); err != nil {
		return nil, 0, err
	}
	out, total, err := s.repo.ListByCreator(ctx, accountID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list exams by creator: %w", err)
	}
	return out, total, nil
}

// RemoveByCreator soft-deletes every live exam an account registered, on
// behalf of the actor in ctx. It joins the caller's transaction.
func (s *Service) RemoveByCreator(ctx context.Context, accountID uuid.UUID) (int, error) {
	actor, err := auth.AuthorizeContext(ctx, auth.OpManageAccounts)
	if err != nil {
		return 0, err
	}
	n, err := s.repo.SoftDeleteByCreator(ctx, accountID, actor.ID, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("delete exams by creator: %w", err)
	}
	s.logger.Info().
		Str("account_id", accountID.String()).
		Int("count", n).
		Str("actor_id", actor.ID.String()).
		Msg("exams of account deleted")
	return n, nil
}
