package reporting

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/imaging/internal/domain/catalog"
	"github.com/ehr/imaging/internal/domain/exam"
	"github.com/ehr/imaging/internal/platform/db"
)

// dimensionColumns maps every groupable dimension to its SQL expression.
var dimensionColumns = map[Dimension]string{
	ByType:      "b.exam_type",
	ByAttention: "b.attention",
	ByContract:  "b.contract",
	ByMonth:     "b.month::text",
}

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

// where renders the scope as a WHERE clause over exam_base aliased b.
func (s Scope) where() (string, []interface{}) {
	conds := []string{"b.deleted_at IS NULL"}
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}
	if s.From != nil {
		add("b.realization_date >= ?", *s.From)
	}
	if s.To != nil {
		add("b.realization_date <= ?", *s.To)
	}
	if s.Year != 0 {
		add("b.year = ?", s.Year)
	}
	if s.Month != 0 {
		add("b.month = ?", s.Month)
	}
	if s.Type != "" {
		add("b.exam_type = ?", string(s.Type))
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func collectCounts(rows pgx.Rows) ([]Count, error) {
	defer rows.Close()
	out := []Count{}
	for rows.Next() {
		var c Count
		if err := rows.Scan(&c.Key, &c.Total); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *repoPG) CountBy(ctx context.Context, dim Dimension, s Scope) ([]Count, error) {
	col, ok := dimensionColumns[dim]
	if !ok {
		return nil, fmt.Errorf("unknown dimension %q", dim)
	}
	where, args := s.where()
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+col+`, COUNT(*) FROM exam_base b`+where+` GROUP BY 1 ORDER BY 1`, args...)
	if err != nil {
		return nil, err
	}
	return collectCounts(rows)
}

func (r *repoPG) DistinctPatients(ctx context.Context, s Scope) (int, error) {
	where, args := s.where()
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(DISTINCT b.patient_id) FROM exam_base b`+where, args...).Scan(&n)
	return n, err
}

func (r *repoPG) TopRequesters(ctx context.Context, s Scope, limit int) ([]Count, error) {
	s.Type = catalog.ExamCT
	where, args := s.where()
	args = append(args, limit)
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT sm.name, COUNT(*) FROM exam_base b
		JOIN exam_ct d ON d.exam_id = b.id
		JOIN staff_member sm ON sm.id = d.requesting_physician_id`+where+`
		GROUP BY sm.name ORDER BY 2 DESC, 1
		LIMIT $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, err
	}
	return collectCounts(rows)
}

func (r *repoPG) CoverageDistribution(ctx context.Context, s Scope) ([]Count, error) {
	where, args := s.where()
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT cp.name, COUNT(*) FROM exam_base b
		JOIN coverage_plan cp ON cp.id = b.coverage_plan_id`+where+`
		GROUP BY cp.name ORDER BY 2 DESC, 1`, args...)
	if err != nil {
		return nil, err
	}
	return collectCounts(rows)
}

func (r *repoPG) PatientByNationalID(ctx context.Context, nationalID string) (*PatientRef, error) {
	p := &PatientRef{}
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id, national_id, full_name, birth_date FROM patient WHERE national_id = $1`, nationalID,
	).Scan(&p.ID, &p.NationalID, &p.FullName, &p.BirthDate)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *repoPG) PatientExams(ctx context.Context, patientID uuid.UUID) ([]HistoryEntry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, exam_type, realization_date, attention FROM exam_base
		WHERE patient_id = $1 AND deleted_at IS NULL
		ORDER BY realization_date DESC, created_at DESC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []HistoryEntry{}
	for rows.Next() {
		var (
			e              HistoryEntry
			typ, attention string
		)
		if err := rows.Scan(&e.ID, &typ, &e.RealizationDate, &attention); err != nil {
			return nil, err
		}
		e.Type = catalog.ExamType(typ)
		e.Attention = exam.Attention(attention)
		out = append(out, e)
	}
	return out, rows.Err()
}
