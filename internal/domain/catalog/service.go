package catalog

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ehr/imaging/internal/platform/apperr"
	"github.com/ehr/imaging/internal/platform/auth"
	"github.com/ehr/imaging/internal/platform/db"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, kind Kind, f Filter) ([]*Item, error) {
	if _, ok := kinds[kind]; !ok {
		return nil, apperr.NotFound("unknown catalog %q", kind)
	}
	if f.ExamType != "" && !f.ExamType.Valid() {
		return nil, apperr.Validation("exam_type must be one of CT, XRAY, US")
	}
	if f.StaffType != "" && !f.StaffType.Valid() {
		return nil, apperr.Validation("staff_type must be one of TM, TP, MEDICO, SECRETARIA, GENERAL")
	}
	items, err := s.repo.List(ctx, kind, f)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	return items, nil
}

// Create adds a row to a reference table. Billing codes and coverage plans
// are administrator-managed; the other tables accept entries from any user.
func (s *Service) Create(ctx context.Context, it *Item) error {
	ks, ok := kinds[it.Kind]
	if !ok {
		return apperr.NotFound("unknown catalog %q", it.Kind)
	}
	if _, err := auth.AuthorizeContext(ctx, ks.createOp); err != nil {
		return err
	}
	if err := it.Validate(); err != nil {
		return err
	}
	if err := s.repo.Create(ctx, it); err != nil {
		if db.IsUniqueViolation(err) {
			return s.duplicate(it)
		}
		return fmt.Errorf("create %s: %w", it.Kind, err)
	}
	return nil
}

func (s *Service) duplicate(it *Item) error {
	switch {
	case it.Kind == KindBillingCode:
		return apperr.Conflict("code %s already exists for %s", it.Code, it.ExamType)
	case kinds[it.Kind].scoped:
		return apperr.Conflict("%q already exists for %s", it.Name, it.ExamType)
	default:
		return apperr.Conflict("%q already exists", it.Name)
	}
}

func (s *Service) SetActive(ctx context.Context, kind Kind, id uuid.UUID, active bool) (*Item, error) {
	if _, ok := kinds[kind]; !ok {
		return nil, apperr.NotFound("unknown catalog %q", kind)
	}
	if _, err := auth.AuthorizeContext(ctx, auth.OpManageCatalog); err != nil {
		return nil, err
	}
	it, err := s.repo.SetActive(ctx, kind, id, active)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("%s entry %s not found", kind, id)
		}
		return nil, fmt.Errorf("set %s active: %w", kind, err)
	}
	return it, nil
}

// BillingCodes returns the active billing codes of one modality ordered by code.
func (s *Service) BillingCodes(ctx context.Context, t ExamType) (*BillingCodeSheet, error) {
	if !t.Valid() {
		return nil, apperr.Validation("exam_type must be one of CT, XRAY, US")
	}
	active := true
	items, err := s.repo.List(ctx, KindBillingCode, Filter{Active: &active, ExamType: t})
	if err != nil {
		return nil, fmt.Errorf("list billing codes: %w", err)
	}
	sheet := &BillingCodeSheet{ExamType: t, Total: len(items), Codes: make([]BillingLine, 0, len(items))}
	for _, it := range items {
		sheet.Codes = append(sheet.Codes, BillingLine{ID: it.ID, Code: it.Code, Description: it.Name})
	}
	return sheet, nil
}
