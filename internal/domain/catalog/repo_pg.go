package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/imaging/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

// cols selects the same shape from every table; columns a table lacks come
// back as empty strings.
func (s kindSpec) cols() string {
	code, examType, staffType := "''", "''", "''"
	if s.coded {
		code = "code"
	}
	if s.scoped {
		examType = "exam_type"
	}
	if s.staffTyped {
		staffType = "staff_type"
	}
	return fmt.Sprintf("id, %s, %s, %s, %s, active, created_at", s.nameCol, code, examType, staffType)
}

func scanItem(kind Kind, row pgx.Row) (*Item, error) {
	it := &Item{Kind: kind}
	var examType, staffType string
	if err := row.Scan(&it.ID, &it.Name, &it.Code, &examType, &staffType, &it.Active, &it.CreatedAt); err != nil {
		return nil, err
	}
	it.ExamType = ExamType(examType)
	it.StaffType = StaffType(staffType)
	return it, nil
}

func (r *repoPG) List(ctx context.Context, kind Kind, f Filter) ([]*Item, error) {
	ks := kinds[kind]
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Active != nil {
		add("active = $%d", *f.Active)
	}
	if f.ExamType != "" && ks.scoped {
		add("exam_type = $%d", string(f.ExamType))
	}
	if f.StaffType != "" && ks.staffTyped {
		add("staff_type = $%d", string(f.StaffType))
	}
	if f.Search != "" {
		add(ks.nameCol+" ILIKE $%d", "%"+f.Search+"%")
	}

	q := `SELECT ` + ks.cols() + ` FROM ` + ks.table
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY ` + ks.orderBy

	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []*Item{}
	for rows.Next() {
		it, err := scanItem(kind, rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *repoPG) GetByID(ctx context.Context, kind Kind, id uuid.UUID) (*Item, error) {
	ks := kinds[kind]
	return scanItem(kind, r.conn(ctx).QueryRow(ctx,
		`SELECT `+ks.cols()+` FROM `+ks.table+` WHERE id = $1`, id))
}

func (r *repoPG) Create(ctx context.Context, it *Item) error {
	ks := kinds[it.Kind]
	it.ID = uuid.New()
	it.Active = true

	cols := []string{"id", ks.nameCol, "active"}
	args := []interface{}{it.ID, it.Name, it.Active}
	if ks.coded {
		cols = append(cols, "code")
		args = append(args, it.Code)
	}
	if ks.scoped {
		cols = append(cols, "exam_type")
		args = append(args, string(it.ExamType))
	}
	if ks.staffTyped {
		cols = append(cols, "staff_type")
		args = append(args, string(it.StaffType))
	}
	placeholders := make([]string, len(args))
	for i := range args {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	return r.conn(ctx).QueryRow(ctx,
		`INSERT INTO `+ks.table+` (`+strings.Join(cols, ", ")+`) VALUES (`+strings.Join(placeholders, ", ")+`) RETURNING created_at`,
		args...,
	).Scan(&it.CreatedAt)
}

func (r *repoPG) SetActive(ctx context.Context, kind Kind, id uuid.UUID, active bool) (*Item, error) {
	ks := kinds[kind]
	return scanItem(kind, r.conn(ctx).QueryRow(ctx,
		`UPDATE `+ks.table+` SET active = $2 WHERE id = $1 RETURNING `+ks.cols(), id, active))
}
