package exam

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/imaging/internal/domain/catalog"
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

const baseCols = `b.id, p.id, p.national_id, p.full_name, b.realization_date, b.attention,
	b.coverage_plan_id, b.origin_id, b.specific_exam_id, b.billing_code_id, b.contract,
	b.month, b.year, b.in_review, b.review_reason, b.created_by, b.updated_by,
	b.created_at, b.updated_at`

// detailTable maps one Detail implementation onto its table.
type detailTable struct {
	table string
	cols  []string
	// clocks are the time-of-day columns, read back as text.
	clocks map[string]bool
	dest   func() (Detail, []interface{})
	args   func(Detail) []interface{}
}

var details = map[catalog.ExamType]detailTable{
	catalog.ExamCT: {
		table: "exam_ct",
		cols: []string{"request_date", "realization_time", "birth_date", "age", "facility_status",
			"protocol_id", "stroke_code", "ges", "contrast", "renal_function", "premedicated",
			"diagnosis_id", "requesting_physician_id", "technologist_id", "technician_id",
			"secretary_id", "note"},
		clocks: map[string]bool{"realization_time": true},
		dest: func() (Detail, []interface{}) {
			d := &CTDetail{}
			return d, []interface{}{&d.RequestDate, &d.RealizationTime, &d.BirthDate, &d.Age,
				&d.FacilityStatus, &d.ProtocolID, &d.StrokeCode, &d.GES, &d.Contrast,
				&d.RenalFunction, &d.Premedicated, &d.DiagnosisID, &d.RequestingPhysicianID,
				&d.TechnologistID, &d.TechnicianID, &d.SecretaryID, &d.Note}
		},
		args: func(x Detail) []interface{} {
			d := x.(*CTDetail)
			return []interface{}{d.RequestDate, d.RealizationTime.String(), d.BirthDate, d.Age,
				d.FacilityStatus, d.ProtocolID, d.StrokeCode, d.GES, d.Contrast,
				d.RenalFunction, d.Premedicated, d.DiagnosisID, d.RequestingPhysicianID,
				d.TechnologistID, d.TechnicianID, d.SecretaryID, d.Note}
		},
	},
	catalog.ExamXRay: {
		table:  "exam_xray",
		cols:   []string{"realization_time", "technologist_id"},
		clocks: map[string]bool{"realization_time": true},
		dest: func() (Detail, []interface{}) {
			d := &XRayDetail{}
			return d, []interface{}{&d.RealizationTime, &d.TechnologistID}
		},
		args: func(x Detail) []interface{} {
			d := x.(*XRayDetail)
			return []interface{}{d.RealizationTime.String(), d.TechnologistID}
		},
	},
	catalog.ExamUltrasound: {
		table: "exam_us",
		cols:  []string{"diagnosis_id", "performed_by_id", "transcribed_by_id"},
		dest: func() (Detail, []interface{}) {
			d := &UltrasoundDetail{}
			return d, []interface{}{&d.DiagnosisID, &d.PerformedByID, &d.TranscribedByID}
		},
		args: func(x Detail) []interface{} {
			d := x.(*UltrasoundDetail)
			return []interface{}{d.DiagnosisID, d.PerformedByID, d.TranscribedByID}
		},
	},
}

func tableFor(t catalog.ExamType) (detailTable, error) {
	dt, ok := details[t]
	if !ok {
		return detailTable{}, fmt.Errorf("no table for exam type %q", t)
	}
	return dt, nil
}

func (dt detailTable) selectCols() string {
	out := make([]string, len(dt.cols))
	for i, c := range dt.cols {
		if dt.clocks[c] {
			out[i] = "d." + c + "::text"
		} else {
			out[i] = "d." + c
		}
	}
	return strings.Join(out, ", ")
}

func (dt detailTable) from() string {
	return ` FROM exam_base b
	JOIN patient p ON p.id = b.patient_id
	JOIN ` + dt.table + ` d ON d.exam_id = b.id`
}

func scanExam(dt detailTable, row pgx.Row) (*Exam, error) {
	e := &Exam{}
	detail, dest := dt.dest()
	var attention, contract string
	base := []interface{}{&e.ID, &e.Patient.ID, &e.Patient.NationalID, &e.Patient.FullName,
		&e.RealizationDate, &attention, &e.CoveragePlanID, &e.OriginID, &e.SpecificExamID,
		&e.BillingCodeID, &contract, &e.Month, &e.Year, &e.InReview, &e.ReviewReason,
		&e.CreatedBy, &e.UpdatedBy, &e.CreatedAt, &e.UpdatedAt}
	if err := row.Scan(append(base, dest...)...); err != nil {
		return nil, err
	}
	e.Attention = Attention(attention)
	e.Contract = Contract(contract)
	e.Detail = detail
	return e, nil
}

func placeholders(from, n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = "$" + strconv.Itoa(from+i)
	}
	return strings.Join(ph, ", ")
}

func (r *repoPG) Create(ctx context.Context, e *Exam) error {
	dt, err := tableFor(e.Type())
	if err != nil {
		return err
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO exam_base (id, exam_type, patient_id, realization_date, attention,
			coverage_plan_id, origin_id, specific_exam_id, billing_code_id, contract,
			month, year, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at, updated_at`,
		e.ID, string(e.Type()), e.Patient.ID, e.RealizationDate, string(e.Attention),
		e.CoveragePlanID, e.OriginID, e.SpecificExamID, e.BillingCodeID, string(e.Contract),
		e.Month, e.Year, e.CreatedBy, e.UpdatedBy,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return err
	}

	args := append([]interface{}{e.ID}, dt.args(e.Detail)...)
	_, err = r.conn(ctx).Exec(ctx,
		`INSERT INTO `+dt.table+` (exam_id, `+strings.Join(dt.cols, ", ")+`)
		VALUES (`+placeholders(1, len(args))+`)`, args...)
	return err
}

func (r *repoPG) get(ctx context.Context, t catalog.ExamType, id uuid.UUID, lock string) (*Exam, error) {
	dt, err := tableFor(t)
	if err != nil {
		return nil, err
	}
	return scanExam(dt, r.conn(ctx).QueryRow(ctx,
		`SELECT `+baseCols+`, `+dt.selectCols()+dt.from()+`
		WHERE b.id = $1 AND b.exam_type = $2 AND b.deleted_at IS NULL`+lock,
		id, string(t)))
}

func (r *repoPG) Get(ctx context.Context, t catalog.ExamType, id uuid.UUID) (*Exam, error) {
	return r.get(ctx, t, id, "")
}

func (r *repoPG) GetForUpdate(ctx context.Context, t catalog.ExamType, id uuid.UUID) (*Exam, error) {
	return r.get(ctx, t, id, " FOR UPDATE OF b")
}

func (r *repoPG) List(ctx context.Context, t catalog.ExamType, f Filter, limit, offset int) ([]*Exam, int, error) {
	dt, err := tableFor(t)
	if err != nil {
		return nil, 0, err
	}
	where := []string{"b.exam_type = $1", "b.deleted_at IS NULL"}
	args := []interface{}{string(t)}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}
	if f.From != nil {
		add("b.realization_date >= ?", *f.From)
	}
	if f.To != nil {
		add("b.realization_date <= ?", *f.To)
	}
	if f.PatientNationalID != "" {
		add("p.national_id = ?", f.PatientNationalID)
	}
	if f.Month != 0 {
		add("b.month = ?", f.Month)
	}
	if f.Year != 0 {
		add("b.year = ?", f.Year)
	}
	if f.CreatedBy != nil {
		add("b.created_by = ?", *f.CreatedBy)
	}
	clause := ` WHERE ` + strings.Join(where, " AND ")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*)`+dt.from()+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	var page interface{}
	if limit > 0 {
		page = limit
	}
	args = append(args, page, offset)
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+baseCols+`, `+dt.selectCols()+dt.from()+clause+`
		ORDER BY b.realization_date DESC, b.created_at DESC
		LIMIT $`+strconv.Itoa(len(args)-1)+` OFFSET $`+strconv.Itoa(len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	exams := []*Exam{}
	for rows.Next() {
		e, err := scanExam(dt, rows)
		if err != nil {
			return nil, 0, err
		}
		exams = append(exams, e)
	}
	return exams, total, rows.Err()
}

func (r *repoPG) Update(ctx context.Context, e *Exam) error {
	dt, err := tableFor(e.Type())
	if err != nil {
		return err
	}
	err = r.conn(ctx).QueryRow(ctx, `
		UPDATE exam_base SET realization_date = $2, attention = $3, coverage_plan_id = $4,
			origin_id = $5, specific_exam_id = $6, billing_code_id = $7, contract = $8,
			month = $9, year = $10, updated_by = $11, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING updated_at`,
		e.ID, e.RealizationDate, string(e.Attention), e.CoveragePlanID, e.OriginID,
		e.SpecificExamID, e.BillingCodeID, string(e.Contract), e.Month, e.Year, e.UpdatedBy,
	).Scan(&e.UpdatedAt)
	if err != nil {
		return err
	}

	sets := make([]string, len(dt.cols))
	for i, c := range dt.cols {
		sets[i] = c + " = $" + strconv.Itoa(i+2)
	}
	args := append([]interface{}{e.ID}, dt.args(e.Detail)...)
	_, err = r.conn(ctx).Exec(ctx,
		`UPDATE `+dt.table+` SET `+strings.Join(sets, ", ")+` WHERE exam_id = $1`, args...)
	return err
}

func (r *repoPG) SoftDelete(ctx context.Context, t catalog.ExamType, id, actorID uuid.UUID, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE exam_base SET deleted_at = $3, updated_at = $3, updated_by = $4
		WHERE id = $1 AND exam_type = $2 AND deleted_at IS NULL`,
		id, string(t), at, actorID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *repoPG) SetReview(ctx context.Context, id uuid.UUID, flagged bool, reason *string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE exam_base SET in_review = $2, review_reason = $3
		WHERE id = $1 AND deleted_at IS NULL`,
		id, flagged, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *repoPG) ListFlagged(ctx context.Context, t catalog.ExamType) ([]*Flagged, error) {
	q := `SELECT id, exam_type, realization_date, review_reason, created_by, created_at
		FROM exam_base WHERE in_review AND deleted_at IS NULL`
	var args []interface{}
	if t != "" {
		q += ` AND exam_type = $1`
		args = append(args, string(t))
	}
	rows, err := r.conn(ctx).Query(ctx, q+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*Flagged{}
	for rows.Next() {
		f := &Flagged{}
		var typ string
		if err := rows.Scan(&f.ID, &typ, &f.RealizationDate, &f.Reason, &f.CreatedBy, &f.CreatedAt); err != nil {
			return nil, err
		}
		f.Type = catalog.ExamType(typ)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *repoPG) CountByCreator(ctx context.Context, accountID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM exam_base WHERE created_by = $1`, accountID,
	).Scan(&n)
	return n, err
}

func (r *repoPG) ListByCreator(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*Summary, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM exam_base WHERE created_by = $1 AND deleted_at IS NULL`, accountID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, exam_type, realization_date, patient_id, created_at
		FROM exam_base WHERE created_by = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, accountID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []*Summary{}
	for rows.Next() {
		s := &Summary{}
		var typ string
		if err := rows.Scan(&s.ID, &typ, &s.RealizationDate, &s.PatientID, &s.CreatedAt); err != nil {
			return nil, 0, err
		}
		s.Type = catalog.ExamType(typ)
		out = append(out, s)
	}
	return out, total, rows.Err()
}

func (r *repoPG) SoftDeleteByCreator(ctx context.Context, accountID, actorID uuid.UUID, at time.Time) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE exam_base SET deleted_at = $2, updated_at = $2, updated_by = $3
		WHERE created_by = $1 AND deleted_at IS NULL`,
		accountID, at, actorID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

