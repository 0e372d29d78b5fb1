package exam

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/imaging/internal/domain/catalog"
)

// Repository persists exams. Soft-deleted exams are invisible to every read
// except where noted.
type Repository interface {
	// Create writes the base row and then the detail row of e.
	Create(ctx context.Context, e *Exam) error
	Get(ctx context.Context, t catalog.ExamType, id uuid.UUID) (*Exam, error)
	// GetForUpdate is Get with the base row locked until the transaction ends.
	GetForUpdate(ctx context.Context, t catalog.ExamType, id uuid.UUID) (*Exam, error)
	// List returns one page, newest realization date first. limit <= 0
	// returns every match.
	List(ctx context.Context, t catalog.ExamType, f Filter, limit, offset int) ([]*Exam, int, error)
	Update(ctx context.Context, e *Exam) error
	SoftDelete(ctx context.Context, t catalog.ExamType, id, actorID uuid.UUID, at time.Time) error
	SetReview(ctx context.Context, id uuid.UUID, flagged bool, reason *string) error
	ListFlagged(ctx context.Context, t catalog.ExamType) ([]*Flagged, error)
	// CountByCreator counts live exams created by an account.
	CountByCreator(ctx context.Context, accountID uuid.UUID) (int, error)
	// ListByCreator lists live exams of every type created by an account,
	// newest first.
	ListByCreator(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*Summary, int, error)
	// SoftDeleteByCreator removes every live exam created by an account.
	SoftDeleteByCreator(ctx context.Context, accountID, actorID uuid.UUID, at time.Time) (int, error)
}
