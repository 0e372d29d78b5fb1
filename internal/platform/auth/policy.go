package auth

import (
	"context"

	"github.com/ehr/imaging/internal/platform/apperr"
)

// Operation names a guarded action.
type Operation string

const (
	OpCreateExam     Operation = "exam:create"
	OpReadExam       Operation = "exam:read"
	OpUpdateExam     Operation = "exam:update"
	OpDeleteExam     Operation = "exam:delete"
	OpReviewExam     Operation = "exam:review"
	OpCreatePatient  Operation = "patient:create"
	OpReadPatient    Operation = "patient:read"
	OpUpdatePatient  Operation = "patient:update"
	OpDeletePatient  Operation = "patient:delete"
	OpReadCatalog    Operation = "catalog:read"
	OpCreateCatalog  Operation = "catalog:create"
	OpManageCatalog  Operation = "catalog:manage"
	OpReadReports    Operation = "report:read"
	OpExport         Operation = "report:export"
	OpManageAccounts Operation = "account:manage"
)

// Administrators may perform every operation; this is what everyone else gets.
var standardCapabilities = map[Operation]bool{
	OpCreateExam:    true,
	OpReadExam:      true,
	OpCreatePatient: true,
	OpReadPatient:   true,
	OpUpdatePatient: true,
	OpReadCatalog:   true,
	OpCreateCatalog: true,
	OpReadReports:   true,
}

// Allow reports whether a may perform op.
func Allow(a Actor, op Operation) bool {
	if !a.Active {
		return false
	}
	if a.IsAdmin() {
		return true
	}
	return standardCapabilities[op]
}

// Authorize is Allow with the matching error kind on denial.
func Authorize(a Actor, op Operation) error {
	if !a.Active {
		return apperr.Deactivated()
	}
	if !Allow(a, op) {
		return apperr.Forbidden("%s requires the administrator role", op)
	}
	return nil
}

// AuthorizeContext authorizes the actor stored in ctx.
func AuthorizeContext(ctx context.Context, op Operation) (Actor, error) {
	a, ok := ActorFromContext(ctx)
	if !ok {
		return Actor{}, apperr.Unauthenticated("not authenticated")
	}
	if err := Authorize(a, op); err != nil {
		return Actor{}, err
	}
	return a, nil
}
