package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/scan-attendance/internal/models"
	"github.com/noah-isme/scan-attendance/pkg/database"
)

const studentColumns = `student_id, external_id, scan_code, first_name, last_name, grad_year, email, deactivated_at_ms, created_at_ms, updated_at_ms`

// StudentStore is the roster surface available inside a transaction.
type StudentStore interface {
	FindByScanCode(ctx context.Context, code string) (*models.Student, error)
	FindActiveByExternalID(ctx context.Context, externalID string) (*models.Student, error)
	Get(ctx context.Context, id string) (*models.Student, error)
	ListActive(ctx context.Context) ([]models.Student, error)
	Insert(ctx context.Context, student *models.Student) error
	Update(ctx context.Context, student *models.Student) error
	Deactivate(ctx context.Context, id string, at time.Time) error
}

// StudentRepository manages persistence for roster records.
type StudentRepository struct {
	db  *sqlx.DB
	ext sqlx.ExtContext
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db, ext: db}
}

type studentRow struct {
	ID              string         `db:"student_id"`
	ExternalID      sql.NullString `db:"external_id"`
	ScanCode        string         `db:"scan_code"`
	FirstName       string         `db:"first_name"`
	LastName        string         `db:"last_name"`
	GradYear        int            `db:"grad_year"`
	Email           string         `db:"email"`
	DeactivatedAtMs sql.NullInt64  `db:"deactivated_at_ms"`
	CreatedAtMs     int64          `db:"created_at_ms"`
	UpdatedAtMs     int64          `db:"updated_at_ms"`
}

func (r studentRow) toModel() models.Student {
	s := models.Student{
		ID:        r.ID,
		ScanCode:  r.ScanCode,
		FirstName: r.FirstName,
		LastName:  r.LastName,
		GradYear:  r.GradYear,
		Email:     r.Email,
		Active:    !r.DeactivatedAtMs.Valid,
		CreatedAt: time.UnixMilli(r.CreatedAtMs).UTC(),
		UpdatedAt: time.UnixMilli(r.UpdatedAtMs).UTC(),
	}
	if r.ExternalID.Valid {
		ext := r.ExternalID.String
		s.ExternalID = &ext
	}
	if r.DeactivatedAtMs.Valid {
		at := time.UnixMilli(r.DeactivatedAtMs.Int64).UTC()
		s.DeactivatedAt = &at
	}
	return s
}

func newStudentRow(s *models.Student) studentRow {
	row := studentRow{
		ID:          s.ID,
		ScanCode:    s.ScanCode,
		FirstName:   s.FirstName,
		LastName:    s.LastName,
		GradYear:    s.GradYear,
		Email:       s.Email,
		CreatedAtMs: s.CreatedAt.UnixMilli(),
		UpdatedAtMs: s.UpdatedAt.UnixMilli(),
	}
	if s.ExternalID != nil && *s.ExternalID != "" {
		row.ExternalID = sql.NullString{String: *s.ExternalID, Valid: true}
	}
	if s.DeactivatedAt != nil {
		row.DeactivatedAtMs = sql.NullInt64{Int64: s.DeactivatedAt.UnixMilli(), Valid: true}
	}
	return row
}

// Transact runs fn against a store bound to a single transaction. The
// transaction commits when fn returns nil and rolls back otherwise. Calls
// made on an already tx-bound repository reuse that transaction.
func (r *StudentRepository) Transact(ctx context.Context, fn func(store StudentStore) error) (err error) {
	if r.db == nil {
		return fn(r)
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin roster tx: %w", database.Classify(err))
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&StudentRepository{ext: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit roster tx: %w", database.Classify(err))
	}
	return nil
}

// FindByScanCode resolves a code against active students only.
func (r *StudentRepository) FindByScanCode(ctx context.Context, code string) (*models.Student, error) {
	query := r.ext.Rebind(`SELECT ` + studentColumns + ` FROM students WHERE scan_code = ? AND deactivated_at_ms IS NULL`)
	return r.getOne(ctx, "find student by code", query, code)
}

// FindActiveByExternalID resolves an external roster id among active students.
func (r *StudentRepository) FindActiveByExternalID(ctx context.Context, externalID string) (*models.Student, error) {
	query := r.ext.Rebind(`SELECT ` + studentColumns + ` FROM students WHERE external_id = ? AND deactivated_at_ms IS NULL`)
	return r.getOne(ctx, "find student by external id", query, externalID)
}

// Get fetches a student by id regardless of state.
func (r *StudentRepository) Get(ctx context.Context, id string) (*models.Student, error) {
	query := r.ext.Rebind(`SELECT ` + studentColumns + ` FROM students WHERE student_id = ?`)
	return r.getOne(ctx, "get student", query, id)
}

func (r *StudentRepository) getOne(ctx context.Context, op, query string, args ...interface{}) (*models.Student, error) {
	var row studentRow
	if err := sqlx.GetContext(ctx, r.ext, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", op, database.Classify(err))
	}
	s := row.toModel()
	return &s, nil
}

// List returns students matching the provided filters plus the total count.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	conditions := []string{"1=1"}
	args := []interface{}{}

	if filter.Active != nil {
		if *filter.Active {
			conditions = append(conditions, "deactivated_at_ms IS NULL")
		} else {
			conditions = append(conditions, "deactivated_at_ms IS NOT NULL")
		}
	}
	if filter.GradYear != nil {
		conditions = append(conditions, "grad_year = ?")
		args = append(args, *filter.GradYear)
	}
	if filter.Search != "" {
		conditions = append(conditions, "(LOWER(first_name || ' ' || last_name) LIKE ? OR LOWER(email) LIKE ? OR LOWER(student_id) LIKE ?)")
		like := "%" + strings.ToLower(filter.Search) + "%"
		args = append(args, like, like, like)
	}
	where := strings.Join(conditions, " AND ")

	allowedSorts := map[string]string{
		"name":       "last_name %[1]s, first_name %[1]s",
		"grad_year":  "grad_year %[1]s, last_name %[1]s",
		"created_at": "created_at_ms %[1]s",
	}
	sortExpr, ok := allowedSorts[filter.SortBy]
	if !ok {
		sortExpr = allowedSorts["name"]
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 500 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM students WHERE %s ORDER BY %s, student_id ASC LIMIT %d OFFSET %d`,
		studentColumns, where, fmt.Sprintf(sortExpr, order), size, offset)

	var rows []studentRow
	if err := sqlx.SelectContext(ctx, r.ext, &rows, r.ext.Rebind(query), args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", database.Classify(err))
	}

	var total int
	if err := sqlx.GetContext(ctx, r.ext, &total, r.ext.Rebind("SELECT COUNT(*) FROM students WHERE "+where), args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", database.Classify(err))
	}
	return toStudents(rows), total, nil
}

// ListActive returns every active student ordered by name.
func (r *StudentRepository) ListActive(ctx context.Context) ([]models.Student, error) {
	var rows []studentRow
	query := `SELECT ` + studentColumns + ` FROM students WHERE deactivated_at_ms IS NULL ORDER BY last_name, first_name, student_id`
	if err := sqlx.SelectContext(ctx, r.ext, &rows, query); err != nil {
		return nil, fmt.Errorf("list active students: %w", database.Classify(err))
	}
	return toStudents(rows), nil
}

// ListByIDs fetches the given students regardless of state, ordered by name.
func (r *StudentRepository) ListByIDs(ctx context.Context, ids []string) ([]models.Student, error) {
	if len(ids) == 0 {
		return []models.Student{}, nil
	}
	query, args, err := sqlx.In(`SELECT `+studentColumns+` FROM students WHERE student_id IN (?) ORDER BY last_name, first_name, student_id`, ids)
	if err != nil {
		return nil, fmt.Errorf("build student id query: %w", err)
	}
	var rows []studentRow
	if err := sqlx.SelectContext(ctx, r.ext, &rows, r.ext.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list students by id: %w", database.Classify(err))
	}
	return toStudents(rows), nil
}

// Insert stores a new student. Timestamps are filled when zero.
func (r *StudentRepository) Insert(ctx context.Context, student *models.Student) error {
	now := time.Now().UTC()
	if student.CreatedAt.IsZero() {
		student.CreatedAt = now
	}
	if student.UpdatedAt.IsZero() {
		student.UpdatedAt = student.CreatedAt
	}
	student.Active = student.DeactivatedAt == nil

	const query = `INSERT INTO students (` + studentColumns + `)
VALUES (:student_id, :external_id, :scan_code, :first_name, :last_name, :grad_year, :email, :deactivated_at_ms, :created_at_ms, :updated_at_ms)`
	if _, err := sqlx.NamedExecContext(ctx, r.ext, query, newStudentRow(student)); err != nil {
		return fmt.Errorf("insert student: %w", database.Classify(err))
	}
	return nil
}

// Update writes the mutable fields of an existing student, scan code
// included. It returns sql.ErrNoRows when the id is unknown.
func (r *StudentRepository) Update(ctx context.Context, student *models.Student) error {
	student.UpdatedAt = time.Now().UTC()
	const query = `UPDATE students SET external_id = :external_id, scan_code = :scan_code, first_name = :first_name,
last_name = :last_name, grad_year = :grad_year, email = :email, updated_at_ms = :updated_at_ms
WHERE student_id = :student_id`
	res, err := sqlx.NamedExecContext(ctx, r.ext, query, newStudentRow(student))
	if err != nil {
		return fmt.Errorf("update student: %w", database.Classify(err))
	}
	return requireAffected(res, "update student")
}

// Deactivate marks an active student inactive. Deactivating an inactive
// student is a no-op; an unknown id yields sql.ErrNoRows.
func (r *StudentRepository) Deactivate(ctx context.Context, id string, at time.Time) error {
	ms := at.UTC().UnixMilli()
	res, err := r.ext.ExecContext(ctx,
		r.ext.Rebind(`UPDATE students SET deactivated_at_ms = ?, updated_at_ms = ? WHERE student_id = ? AND deactivated_at_ms IS NULL`),
		ms, ms, id)
	if err != nil {
		return fmt.Errorf("deactivate student: %w", database.Classify(err))
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return nil
}

func toStudents(rows []studentRow) []models.Student {
	out := make([]models.Student, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out
}

func requireAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, database.Classify(err))
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
