package export

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/ehr/imaging/internal/domain/catalog"
	"github.com/ehr/imaging/internal/domain/exam"
	"github.com/ehr/imaging/internal/domain/rut"
	"github.com/ehr/imaging/internal/platform/apperr"
	"github.com/ehr/imaging/internal/platform/auth"
)

const (
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	dateLayout     = "02/01/2006"
	dateTimeLayout = "02/01/2006 15:04"
)

// ExamSource lists exams of one type. A limit of zero returns every match.
type ExamSource interface {
	List(ctx context.Context, t catalog.ExamType, f exam.Filter, limit, offset int) ([]*exam.Exam, int, error)
}

// CatalogSource resolves reference-table ids to display names.
type CatalogSource interface {
	List(ctx context.Context, kind catalog.Kind, f catalog.Filter) ([]*catalog.Item, error)
}

// nameKinds are the tables exam details point into.
var nameKinds = []catalog.Kind{catalog.KindProtocol, catalog.KindDiagnosis, catalog.KindStaff}

// names maps catalog ids to their display name. Ids missing from the map
// are written as-is so a dangling reference stays visible.
type names map[uuid.UUID]string

func (n names) of(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	if name, ok := n[*id]; ok {
		return name
	}
	return id.String()
}

// sheet describes how one modality is laid out.
type sheet struct {
	headers []string
	widths  []float64
	row     func(e *exam.Exam, loc *time.Location, n names) []interface{}
}

var sheets = map[catalog.ExamType]sheet{
	catalog.ExamCT: {
		headers: []string{"ID", "Fecha Realización", "Fecha Solicitud", "Hora", "Atención",
			"Paciente RUT", "Paciente Nombre", "Edad", "Externo", "Cód. ACV", "GES",
			"Medio Contraste", "VFGE", "Premedicado", "Protocolo", "Diagnóstico",
			"Médico Solicitante", "Tecnólogo", "Técnico", "Secretaria", "Observación",
			"Contrato", "Creado el"},
		widths: []float64{38, 16, 16, 8, 12, 14, 30, 6, 14, 10, 8, 16, 14, 12, 30, 30, 30, 30, 30, 30, 30, 16, 18},
		row: func(e *exam.Exam, loc *time.Location, n names) []interface{} {
			ct := e.Detail.(*exam.CTDetail)
			return []interface{}{
				e.ID.String(),
				e.RealizationDate.Format(dateLayout),
				ct.RequestDate.Format(dateLayout),
				ct.RealizationTime.String(),
				e.Attention.Label(),
				rut.Format(e.Patient.NationalID),
				e.Patient.FullName,
				optInt(ct.Age),
				optString(ct.FacilityStatus),
				yesNo(ct.StrokeCode),
				yesNo(ct.GES),
				yesNo(ct.Contrast),
				optString(ct.RenalFunction),
				optYesNo(ct.Premedicated),
				n.of(ct.ProtocolID),
				n.of(ct.DiagnosisID),
				n.of(ct.RequestingPhysicianID),
				n.of(ct.TechnologistID),
				n.of(ct.TechnicianID),
				n.of(ct.SecretaryID),
				optString(ct.Note),
				e.Contract.Label(),
				e.CreatedAt.In(loc).Format(dateTimeLayout),
			}
		},
	},
	catalog.ExamXRay: {
		headers: []string{"ID", "Fecha Realización", "Hora", "Atención", "Paciente RUT",
			"Paciente Nombre", "Tecnólogo", "Contrato", "Creado el"},
		widths: []float64{38, 16, 8, 12, 14, 30, 30, 16, 18},
		row: func(e *exam.Exam, loc *time.Location, n names) []interface{} {
			xr := e.Detail.(*exam.XRayDetail)
			return []interface{}{
				e.ID.String(),
				e.RealizationDate.Format(dateLayout),
				xr.RealizationTime.String(),
				e.Attention.Label(),
				rut.Format(e.Patient.NationalID),
				e.Patient.FullName,
				n.of(xr.TechnologistID),
				e.Contract.Label(),
				e.CreatedAt.In(loc).Format(dateTimeLayout),
			}
		},
	},
	catalog.ExamUltrasound: {
		headers: []string{"ID", "Fecha Realización", "Mes", "Atención", "Paciente RUT",
			"Paciente Nombre", "Diagnóstico", "Realizado por", "Transcrito por", "Contrato", "Creado el"},
		widths: []float64{38, 16, 8, 12, 14, 30, 30, 30, 30, 16, 18},
		row: func(e *exam.Exam, loc *time.Location, n names) []interface{} {
			us := e.Detail.(*exam.UltrasoundDetail)
			return []interface{}{
				e.ID.String(),
				e.RealizationDate.Format(dateLayout),
				fmt.Sprintf("%d/%d", e.Month, e.Year),
				e.Attention.Label(),
				rut.Format(e.Patient.NationalID),
				e.Patient.FullName,
				n.of(us.DiagnosisID),
				n.of(us.PerformedByID),
				n.of(us.TranscribedByID),
				e.Contract.Label(),
				e.CreatedAt.In(loc).Format(dateTimeLayout),
			}
		},
	},
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func optYesNo(b *bool) string {
	if b == nil {
		return ""
	}
	return yesNo(*b)
}

func optString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optInt(n *int) interface{} {
	if n == nil {
		return ""
	}
	return *n
}

// Workbook is a generated export file.
type Workbook struct {
	Name string
	Data []byte
}

// Exporter dumps live exams into a spreadsheet with one sheet per modality.
type Exporter struct {
	exams    ExamSource
	catalogs CatalogSource
	loc      *time.Location
	now      func() time.Time
	logger   zerolog.Logger
}

// NewExporter renders timestamps in loc; nil means UTC.
func NewExporter(exams ExamSource, catalogs CatalogSource, loc *time.Location, logger zerolog.Logger) *Exporter {
	if loc == nil {
		loc = time.UTC
	}
	return &Exporter{
		exams:    exams,
		catalogs: catalogs,
		loc:      loc,
		now:      time.Now,
		logger:   logger.With().Str("component", "exam-export").Logger(),
	}
}

// FileName builds respaldo_examenes[_M_YYYY|_YYYY]_YYYYMMDD_HHMMSS.xlsx.
func FileName(year, month int, at time.Time) string {
	period := ""
	switch {
	case year != 0 && month != 0:
		period = "_" + strconv.Itoa(month) + "_" + strconv.Itoa(year)
	case year != 0:
		period = "_" + strconv.Itoa(year)
	}
	return "respaldo_examenes" + period + "_" + at.Format("20060102_150405") + ".xlsx"
}

// Export builds the workbook for the given year and month; zero values do
// not filter.
func (x *Exporter) Export(ctx context.Context, year, month int) (*Workbook, error) {
	actor, err := auth.AuthorizeContext(ctx, auth.OpExport)
	if err != nil {
		return nil, err
	}
	if month != 0 && (month < 1 || month > 12) {
		return nil, apperr.Validation("month must be between 1 and 12")
	}
	if year < 0 {
		return nil, apperr.Validation("invalid year %d", year)
	}

	n, err := x.names(ctx)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	header, err := headerStyle(f)
	if err != nil {
		return nil, err
	}

	filter := exam.Filter{Year: year, Month: month}
	rows := 0
	for i, t := range catalog.ExamTypes {
		exams, _, err := x.exams.List(ctx, t, filter, 0, 0)
		if err != nil {
			return nil, err
		}
		name := t.Label()
		if i == 0 {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				return nil, fmt.Errorf("rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("create sheet %s: %w", name, err)
		}
		if err := x.writeSheet(f, name, sheets[t], header, exams, n); err != nil {
			return nil, err
		}
		rows += len(exams)
	}
	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}

	now := x.now().In(x.loc)
	wb := &Workbook{Name: FileName(year, month, now), Data: buf.Bytes()}
	x.logger.Info().
		Str("file", wb.Name).
		Int("rows", rows).
		Str("actor_id", actor.ID.String()).
		Msg("exams exported")
	return wb, nil
}

// names loads every protocol, diagnosis and staff row, inactive ones
// included, since older exams may reference retired entries.
func (x *Exporter) names(ctx context.Context) (names, error) {
	out := names{}
	for _, k := range nameKinds {
		items, err := x.catalogs.List(ctx, k, catalog.Filter{})
		if err != nil {
			return nil, fmt.Errorf("load %s names: %w", k, err)
		}
		for _, it := range items {
			out[it.ID] = it.Name
		}
	}
	return out, nil
}

func headerStyle(f *excelize.File) (int, error) {
	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return 0, fmt.Errorf("create header style: %w", err)
	}
	return style, nil
}

func (x *Exporter) writeSheet(f *excelize.File, name string, s sheet, header int, exams []*exam.Exam, n names) error {
	headers := make([]interface{}, len(s.headers))
	for i, h := range s.headers {
		headers[i] = h
	}
	if err := f.SetSheetRow(name, "A1", &headers); err != nil {
		return fmt.Errorf("write %s header: %w", name, err)
	}
	last, err := excelize.CoordinatesToCellName(len(s.headers), 1)
	if err != nil {
		return fmt.Errorf("header range: %w", err)
	}
	if err := f.SetCellStyle(name, "A1", last, header); err != nil {
		return fmt.Errorf("style %s header: %w", name, err)
	}
	for i, w := range s.widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return fmt.Errorf("column name: %w", err)
		}
		if err := f.SetColWidth(name, col, col, w); err != nil {
			return fmt.Errorf("set column width: %w", err)
		}
	}

	for i, e := range exams {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("row cell: %w", err)
		}
		row := s.row(e, x.loc, n)
		if err := f.SetSheetRow(name, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", name, i+2, err)
		}
	}
	return nil
}

