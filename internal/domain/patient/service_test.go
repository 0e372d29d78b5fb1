package patient

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ehr/imaging/internal/platform/apperr"
	"github.com/ehr/imaging/internal/platform/auth"
	"github.com/ehr/imaging/pkg/civil"
)

type mockRepo struct {
	byID map[uuid.UUID]*Patient
	// referenced patients fail deletion like the exam foreign key does.
	referenced map[uuid.UUID]bool
	// raceOnce registers a competing patient just before the next insert.
	raceOnce *Patient
	updates  int
}

func newMockRepo() *mockRepo {
	return &mockRepo{byID: make(map[uuid.UUID]*Patient), referenced: make(map[uuid.UUID]bool)}
}

func (m *mockRepo) find(nid string) *Patient {
	for _, p := range m.byID {
		if p.NationalID == nid {
			return p
		}
	}
	return nil
}

func (m *mockRepo) CreateIfAbsent(_ context.Context, p *Patient) (bool, error) {
	if m.raceOnce != nil {
		other := m.raceOnce
		m.raceOnce = nil
		other.ID = uuid.New()
		m.byID[other.ID] = other
	}
	if m.find(p.NationalID) != nil {
		return false, nil
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	m.byID[p.ID] = &cp
	return true, nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *p
	return &cp, nil
}

func (m *mockRepo) GetByNationalID(_ context.Context, nid string) (*Patient, error) {
	p := m.find(nid)
	if p == nil {
		return nil, pgx.ErrNoRows
	}
	cp := *p
	return &cp, nil
}

func (m *mockRepo) Update(_ context.Context, p *Patient) error {
	if _, ok := m.byID[p.ID]; !ok {
		return pgx.ErrNoRows
	}
	m.updates++
	cp := *p
	m.byID[p.ID] = &cp
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.byID[id]; !ok {
		return pgx.ErrNoRows
	}
	if m.referenced[id] {
		return &pgconn.PgError{Code: "23503"}
	}
	delete(m.byID, id)
	return nil
}

func (m *mockRepo) List(_ context.Context, search string, limit, offset int) ([]*Patient, int, error) {
	var out []*Patient
	for _, p := range m.byID {
		if search == "" || strings.Contains(strings.ToLower(p.FullName), strings.ToLower(search)) || strings.Contains(p.NationalID, search) {
			out = append(out, p)
		}
	}
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func newTestService() (*Service, *mockRepo) {
	repo := newMockRepo()
	svc := NewService(repo)
	svc.now = func() time.Time { return time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC) }
	return svc, repo
}

func asStandard() context.Context {
	return auth.WithActor(context.Background(), auth.Actor{ID: uuid.New(), Role: auth.RoleStandard, Active: true})
}

func asAdmin() context.Context {
	return auth.WithActor(context.Background(), auth.Actor{ID: uuid.New(), Role: auth.RoleAdministrator, Active: true})
}

func date(y int, m time.Month, d int) *civil.Date {
	return &civil.Date{Year: y, Month: m, Day: d}
}

func TestFindOrCreate_CreatesThenFinds(t *testing.T) {
	svc, repo := newTestService()
	ctx := asStandard()

	first, err := svc.FindOrCreate(ctx, "12.345.678-5", "Ana María Pérez", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.NationalID != "123456785" {
		t.Errorf("expected normalized national id, got %s", first.NationalID)
	}

	second, err := svc.FindOrCreate(ctx, "123456785", "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.ID != first.ID {
		t.Error("expected the same patient on the second call")
	}
	if len(repo.byID) != 1 {
		t.Errorf("expected a single patient row, got %d", len(repo.byID))
	}
}

func TestFindOrCreate_InvalidRUT(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.FindOrCreate(asStandard(), "12.345.678-9", "Ana", nil)
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestFindOrCreate_NameRequiredForNewPatient(t *testing.T) {
	svc, repo := newTestService()
	_, err := svc.FindOrCreate(asStandard(), "12345678-5", "", nil)
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(repo.byID) != 0 {
		t.Error("expected nothing to be created")
	}
}

func TestFindOrCreate_FillsMissingBirthDate(t *testing.T) {
	svc, repo := newTestService()
	ctx := asStandard()
	p, _ := svc.FindOrCreate(ctx, "12345678-5", "Ana Pérez", nil)

	got, err := svc.FindOrCreate(ctx, "12345678-5", "", date(1990, time.March, 2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.BirthDate == nil || got.BirthDate.String() != "1990-03-02" {
		t.Fatalf("expected birth date to be filled, got %v", got.BirthDate)
	}
	stored := repo.byID[p.ID]
	if stored.BirthDate == nil {
		t.Error("expected birth date persisted")
	}

	again, _ := svc.FindOrCreate(ctx, "12345678-5", "", date(1991, time.January, 1))
	if again.BirthDate.String() != "1990-03-02" {
		t.Errorf("stored birth date must not be overwritten, got %s", again.BirthDate)
	}
	if repo.updates != 1 {
		t.Errorf("expected exactly one update, got %d", repo.updates)
	}
}

func TestFindOrCreate_ConcurrentInsert(t *testing.T) {
	svc, repo := newTestService()
	repo.raceOnce = &Patient{NationalID: "123456785", FullName: "Registered Elsewhere"}

	p, err := svc.FindOrCreate(asStandard(), "12345678-5", "Ana Pérez", date(1990, time.March, 2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.FullName != "Registered Elsewhere" {
		t.Errorf("expected the concurrently created patient, got %q", p.FullName)
	}
	if p.BirthDate == nil {
		t.Error("expected birth date filled on the re-queried patient")
	}
	if len(repo.byID) != 1 {
		t.Errorf("expected one patient, got %d", len(repo.byID))
	}
}

func TestFindOrCreate_FutureBirthDate(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.FindOrCreate(asStandard(), "12345678-5", "Ana Pérez", date(2030, time.January, 1))
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreate_Duplicate(t *testing.T) {
	svc, _ := newTestService()
	ctx := asStandard()
	if err := svc.Create(ctx, &Patient{NationalID: "12.345.678-5", FullName: "Ana Pérez"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := svc.Create(ctx, &Patient{NationalID: "123456785", FullName: "Otra Persona"})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestCreate_Validation(t *testing.T) {
	svc, _ := newTestService()
	tests := []struct {
		name string
		p    Patient
	}{
		{"bad rut", Patient{NationalID: "1234", FullName: "Ana Pérez"}},
		{"short name", Patient{NationalID: "12345678-5", FullName: "Al"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.p
			if err := svc.Create(asStandard(), &p); !errors.Is(err, apperr.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestLookup(t *testing.T) {
	svc, _ := newTestService()
	ctx := asStandard()
	_, _ = svc.FindOrCreate(ctx, "12345678-5", "Ana Pérez", date(2000, time.June, 16))

	out, err := svc.Lookup(ctx, "12.345.678-5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.NationalID != "12345678-5" {
		t.Errorf("expected formatted national id, got %s", out.NationalID)
	}
	if out.Age == nil || *out.Age != 23 {
		t.Errorf("expected age 23 the day before the birthday, got %v", out.Age)
	}

	if _, err := svc.Lookup(ctx, "11111111-1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdate(t *testing.T) {
	svc, _ := newTestService()
	ctx := asStandard()
	p, _ := svc.FindOrCreate(ctx, "12345678-5", "Ana Perez", nil)

	name := "  Ana   Pérez Soto "
	got, err := svc.Update(ctx, p.ID, Changes{FullName: &name, BirthDate: date(1985, time.May, 1)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.FullName != "Ana Pérez Soto" {
		t.Errorf("expected collapsed name, got %q", got.FullName)
	}
	if got.BirthDate == nil {
		t.Error("expected birth date set")
	}

	if _, err := svc.Update(ctx, uuid.New(), Changes{FullName: &name}); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	svc, repo := newTestService()
	p, _ := svc.FindOrCreate(asStandard(), "12345678-5", "Ana Pérez", nil)
	q, _ := svc.FindOrCreate(asStandard(), "11111111-1", "Luis Rojas", nil)
	repo.referenced[q.ID] = true

	if err := svc.Delete(asStandard(), p.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden for standard user, got %v", err)
	}
	if err := svc.Delete(asAdmin(), q.ID); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict for referenced patient, got %v", err)
	}
	if err := svc.Delete(asAdmin(), p.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.Delete(asAdmin(), p.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}
