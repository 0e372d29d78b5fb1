package catalog

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ehr/imaging/internal/platform/apperr"
	"github.com/ehr/imaging/internal/platform/auth"
)

type mockRepo struct {
	items map[uuid.UUID]*Item
}

func newMockRepo() *mockRepo {
	return &mockRepo{items: make(map[uuid.UUID]*Item)}
}

func (m *mockRepo) List(_ context.Context, kind Kind, f Filter) ([]*Item, error) {
	var out []*Item
	for _, it := range m.items {
		if it.Kind != kind {
			continue
		}
		if f.Active != nil && it.Active != *f.Active {
			continue
		}
		if f.ExamType != "" && it.ExamType != f.ExamType {
			continue
		}
		if f.StaffType != "" && it.StaffType != f.StaffType {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(it.Name), strings.ToLower(f.Search)) {
			continue
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool {
		if kind == KindBillingCode {
			return out[i].Code < out[j].Code
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (m *mockRepo) GetByID(_ context.Context, kind Kind, id uuid.UUID) (*Item, error) {
	it, ok := m.items[id]
	if !ok || it.Kind != kind {
		return nil, pgx.ErrNoRows
	}
	return it, nil
}

func (m *mockRepo) Create(_ context.Context, it *Item) error {
	for _, existing := range m.items {
		if existing.Kind != it.Kind {
			continue
		}
		dup := false
		switch it.Kind {
		case KindBillingCode:
			dup = existing.ExamType == it.ExamType && existing.Code == it.Code
		case KindSpecificExam:
			dup = existing.ExamType == it.ExamType && existing.Name == it.Name
		case KindStaff:
		default:
			dup = existing.Name == it.Name
		}
		if dup {
			return &pgconn.PgError{Code: "23505"}
		}
	}
	it.ID = uuid.New()
	it.Active = true
	it.CreatedAt = time.Now()
	m.items[it.ID] = it
	return nil
}

func (m *mockRepo) SetActive(_ context.Context, kind Kind, id uuid.UUID, active bool) (*Item, error) {
	it, ok := m.items[id]
	if !ok || it.Kind != kind {
		return nil, pgx.ErrNoRows
	}
	it.Active = active
	return it, nil
}

func asStandard() context.Context {
	return auth.WithActor(context.Background(), auth.Actor{ID: uuid.New(), Role: auth.RoleStandard, Active: true})
}

func asAdmin() context.Context {
	return auth.WithActor(context.Background(), auth.Actor{ID: uuid.New(), Role: auth.RoleAdministrator, Active: true})
}

func TestService_CreateOrigin_AnyUser(t *testing.T) {
	svc := NewService(newMockRepo())
	it := &Item{Kind: KindOrigin, Name: "  Urgencia Adulto "}
	if err := svc.Create(asStandard(), it); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if it.ID == uuid.Nil || !it.Active {
		t.Error("expected id assigned and active")
	}
	if it.Name != "Urgencia Adulto" {
		t.Errorf("expected trimmed name, got %q", it.Name)
	}
}

func TestService_CreateBillingCode_AdminOnly(t *testing.T) {
	svc := NewService(newMockRepo())
	it := &Item{Kind: KindBillingCode, Code: "0401001", Name: "TAC de cerebro", ExamType: ExamCT}

	err := svc.Create(asStandard(), it)
	if !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden for standard user, got %v", err)
	}
	if err := svc.Create(asAdmin(), it); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestService_CreateCoveragePlan_AdminOnly(t *testing.T) {
	svc := NewService(newMockRepo())
	err := svc.Create(asStandard(), &Item{Kind: KindCoveragePlan, Name: "FONASA E"})
	if !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestService_Create_Unauthenticated(t *testing.T) {
	svc := NewService(newMockRepo())
	err := svc.Create(context.Background(), &Item{Kind: KindOrigin, Name: "Policlínico"})
	if !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
}

func TestService_Create_Duplicate(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := asStandard()
	if err := svc.Create(ctx, &Item{Kind: KindProtocol, Name: "Cerebro sin contraste"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := svc.Create(ctx, &Item{Kind: KindProtocol, Name: "Cerebro sin contraste"})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestService_CreateSpecificExam_ScopedByType(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := asStandard()
	if err := svc.Create(ctx, &Item{Kind: KindSpecificExam, Name: "Abdomen", ExamType: ExamCT}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.Create(ctx, &Item{Kind: KindSpecificExam, Name: "Abdomen", ExamType: ExamUltrasound}); err != nil {
		t.Fatalf("same name under another modality should be allowed: %v", err)
	}
	err := svc.Create(ctx, &Item{Kind: KindSpecificExam, Name: "Abdomen", ExamType: ExamCT})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestService_Create_Validation(t *testing.T) {
	svc := NewService(newMockRepo())
	tests := []struct {
		name string
		item *Item
	}{
		{"empty name", &Item{Kind: KindOrigin, Name: "   "}},
		{"short staff name", &Item{Kind: KindStaff, Name: "Al", StaffType: StaffPhysician}},
		{"bad staff type", &Item{Kind: KindStaff, Name: "Dra. Rojas", StaffType: "NURSE"}},
		{"specific exam without type", &Item{Kind: KindSpecificExam, Name: "Tórax"}},
		{"billing code without code", &Item{Kind: KindBillingCode, Name: "desc", ExamType: ExamXRay}},
		{"billing code too long", &Item{Kind: KindBillingCode, Code: strings.Repeat("9", 21), Name: "desc", ExamType: ExamXRay}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Create(asAdmin(), tt.item)
			if !errors.Is(err, apperr.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestService_Create_StaffAllowsDuplicates(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := asStandard()
	for i := 0; i < 2; i++ {
		if err := svc.Create(ctx, &Item{Kind: KindStaff, Name: "Juan Pérez", StaffType: StaffTechnologist}); err != nil {
			t.Fatalf("unexpected error on %d: %v", i, err)
		}
	}
}

func TestService_List_ActiveFilter(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	ctx := asAdmin()
	a := &Item{Kind: KindDiagnosis, Name: "Apendicitis"}
	b := &Item{Kind: KindDiagnosis, Name: "Bronquitis"}
	_ = svc.Create(ctx, a)
	_ = svc.Create(ctx, b)
	if _, err := svc.SetActive(ctx, KindDiagnosis, b.ID, false); err != nil {
		t.Fatalf("set active: %v", err)
	}

	active := true
	items, err := svc.List(ctx, KindDiagnosis, Filter{Active: &active})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || items[0].ID != a.ID {
		t.Fatalf("expected only the active diagnosis, got %d items", len(items))
	}

	all, _ := svc.List(ctx, KindDiagnosis, Filter{})
	if len(all) != 2 {
		t.Errorf("expected 2 diagnoses, got %d", len(all))
	}
}

func TestService_List_InvalidFilter(t *testing.T) {
	svc := NewService(newMockRepo())
	if _, err := svc.List(asStandard(), KindStaff, Filter{StaffType: "X"}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := svc.List(asStandard(), Kind("wards"), Filter{}); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found for unknown kind, got %v", err)
	}
}

func TestService_SetActive(t *testing.T) {
	svc := NewService(newMockRepo())
	it := &Item{Kind: KindOrigin, Name: "Hospitalizado"}
	_ = svc.Create(asStandard(), it)

	if _, err := svc.SetActive(asStandard(), KindOrigin, it.ID, false); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden for standard user, got %v", err)
	}
	got, err := svc.SetActive(asAdmin(), KindOrigin, it.ID, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Active {
		t.Error("expected entry to be inactive")
	}
	if _, err := svc.SetActive(asAdmin(), KindOrigin, uuid.New(), true); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestService_BillingCodes(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := asAdmin()
	_ = svc.Create(ctx, &Item{Kind: KindBillingCode, Code: "0401020", Name: "TAC tórax", ExamType: ExamCT})
	_ = svc.Create(ctx, &Item{Kind: KindBillingCode, Code: "0401001", Name: "TAC cerebro", ExamType: ExamCT})
	inactive := &Item{Kind: KindBillingCode, Code: "0401005", Name: "TAC cuello", ExamType: ExamCT}
	_ = svc.Create(ctx, inactive)
	_, _ = svc.SetActive(ctx, KindBillingCode, inactive.ID, false)
	_ = svc.Create(ctx, &Item{Kind: KindBillingCode, Code: "0501001", Name: "Rx tórax", ExamType: ExamXRay})

	sheet, err := svc.BillingCodes(ctx, ExamCT)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sheet.Total != 2 {
		t.Fatalf("expected 2 active CT codes, got %d", sheet.Total)
	}
	if sheet.Codes[0].Code != "0401001" || sheet.Codes[1].Code != "0401020" {
		t.Errorf("expected codes ordered by code, got %+v", sheet.Codes)
	}
	if sheet.Codes[0].Description != "TAC cerebro" {
		t.Errorf("expected description, got %q", sheet.Codes[0].Description)
	}

	if _, err := svc.BillingCodes(ctx, "MRI"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
