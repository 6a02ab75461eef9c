package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/scan-attendance/internal/models"
	"github.com/noah-isme/scan-attendance/pkg/database"
)

const reportColumns = `id, type, params, status, progress, result_url, created_by, created_at_ms, finished_at_ms, error_message`

// ReportRepository persists report job metadata.
type ReportRepository struct {
	db *sqlx.DB
}

// NewReportRepository constructs the repository.
func NewReportRepository(db *sqlx.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

type reportRow struct {
	ID           string                 `db:"id"`
	Type         string                 `db:"type"`
	Params       models.ReportJobParams `db:"params"`
	Status       string                 `db:"status"`
	Progress     int                    `db:"progress"`
	ResultURL    sql.NullString         `db:"result_url"`
	CreatedBy    string                 `db:"created_by"`
	CreatedAtMs  int64                  `db:"created_at_ms"`
	FinishedAtMs sql.NullInt64          `db:"finished_at_ms"`
	ErrorMessage sql.NullString         `db:"error_message"`
}

func (r reportRow) toModel() models.ReportJob {
	job := models.ReportJob{
		ID:        r.ID,
		Type:      models.ReportType(r.Type),
		Params:    r.Params,
		Status:    models.ReportStatus(r.Status),
		Progress:  r.Progress,
		CreatedBy: r.CreatedBy,
		CreatedAt: time.UnixMilli(r.CreatedAtMs).UTC(),
	}
	if r.ResultURL.Valid {
		v := r.ResultURL.String
		job.ResultURL = &v
	}
	if r.FinishedAtMs.Valid {
		t := time.UnixMilli(r.FinishedAtMs.Int64).UTC()
		job.FinishedAt = &t
	}
	if r.ErrorMessage.Valid {
		v := r.ErrorMessage.String
		job.ErrorMessage = &v
	}
	return job
}

// Create inserts a new report job row with generated defaults.
func (r *ReportRepository) Create(ctx context.Context, job *models.ReportJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = models.ReportStatusQueued
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	row := reportRow{
		ID:          job.ID,
		Type:        string(job.Type),
		Params:      job.Params,
		Status:      string(job.Status),
		Progress:    job.Progress,
		CreatedBy:   job.CreatedBy,
		CreatedAtMs: job.CreatedAt.UnixMilli(),
	}
	const query = `INSERT INTO report_jobs (` + reportColumns + `)
VALUES (:id, :type, :params, :status, :progress, :result_url, :created_by, :created_at_ms, :finished_at_ms, :error_message)`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("create report job: %w", database.Classify(err))
	}
	return nil
}

// GetByID returns a job row by its identifier, or sql.ErrNoRows.
func (r *ReportRepository) GetByID(ctx context.Context, id string) (*models.ReportJob, error) {
	var row reportRow
	if err := r.db.GetContext(ctx, &row, r.db.Rebind(`SELECT `+reportColumns+` FROM report_jobs WHERE id = ?`), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get report job: %w", database.Classify(err))
	}
	job := row.toModel()
	return &job, nil
}

// UpdateReportJobParams defines the mutable fields.
type UpdateReportJobParams struct {
	Status       *models.ReportStatus
	Progress     *int
	ResultURL    *string
	ErrorMessage *string
	FinishedAt   *time.Time
}

// Update persists the provided changes for a job row.
func (r *ReportRepository) Update(ctx context.Context, id string, params UpdateReportJobParams) error {
	set := make([]string, 0, 5)
	args := make([]interface{}, 0, 6)

	if params.Status != nil {
		set = append(set, "status = ?")
		args = append(args, string(*params.Status))
	}
	if params.Progress != nil {
		set = append(set, "progress = ?")
		args = append(args, *params.Progress)
	}
	if params.ResultURL != nil {
		set = append(set, "result_url = ?")
		args = append(args, *params.ResultURL)
	}
	if params.ErrorMessage != nil {
		set = append(set, "error_message = ?")
		args = append(args, *params.ErrorMessage)
	}
	if params.FinishedAt != nil {
		set = append(set, "finished_at_ms = ?")
		args = append(args, params.FinishedAt.UnixMilli())
	}
	if len(set) == 0 {
		return nil
	}

	query := r.db.Rebind(fmt.Sprintf("UPDATE report_jobs SET %s WHERE id = ?", strings.Join(set, ", ")))
	args = append(args, id)
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update report job: %w", database.Classify(err))
	}
	return nil
}

// ListQueued fetches queued jobs (used for cold start recovery).
func (r *ReportRepository) ListQueued(ctx context.Context, limit int) ([]models.ReportJob, error) {
	if limit <= 0 {
		limit = 20
	}
	query := r.db.Rebind(`SELECT ` + reportColumns + ` FROM report_jobs WHERE status = ? ORDER BY created_at_ms ASC LIMIT ?`)
	return r.list(ctx, "list queued report jobs", query, string(models.ReportStatusQueued), limit)
}

// ListFinishedBefore retrieves completed jobs prior to cutoff for cleanup.
func (r *ReportRepository) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ReportJob, error) {
	if limit <= 0 {
		limit = 50
	}
	query := r.db.Rebind(`SELECT ` + reportColumns + ` FROM report_jobs
WHERE status = ? AND finished_at_ms IS NOT NULL AND finished_at_ms < ? ORDER BY finished_at_ms ASC LIMIT ?`)
	return r.list(ctx, "list finished report jobs", query, string(models.ReportStatusFinished), cutoff.UnixMilli(), limit)
}

func (r *ReportRepository) list(ctx context.Context, op, query string, args ...interface{}) ([]models.ReportJob, error) {
	var rows []reportRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, database.Classify(err))
	}
	jobs := make([]models.ReportJob, 0, len(rows))
	for _, row := range rows {
		jobs = append(jobs, row.toModel())
	}
	return jobs, nil
}
