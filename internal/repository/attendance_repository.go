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

const eventColumns = `event_id, student_id, scan_code, session_date, scanned_at_ms, source, outcome, created_at_ms`

// eventOrder keeps ledger reads stable when timestamps tie.
const eventOrder = ` ORDER BY scanned_at_ms ASC, created_at_ms ASC, event_id ASC`

// AttendanceRepository is the ledger of scan events.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs an AttendanceRepository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

type eventRow struct {
	ID          string         `db:"event_id"`
	StudentID   sql.NullString `db:"student_id"`
	ScanCode    string         `db:"scan_code"`
	SessionDate string         `db:"session_date"`
	ScannedAtMs int64          `db:"scanned_at_ms"`
	Source      string         `db:"source"`
	Outcome     string         `db:"outcome"`
	CreatedAtMs int64          `db:"created_at_ms"`
}

func (r eventRow) toModel() models.AttendanceEvent {
	e := models.AttendanceEvent{
		ID:          r.ID,
		ScanCode:    r.ScanCode,
		SessionDate: r.SessionDate,
		Timestamp:   time.UnixMilli(r.ScannedAtMs).UTC(),
		Source:      models.EventSource(r.Source),
		Outcome:     models.EventOutcome(r.Outcome),
		CreatedAt:   time.UnixMilli(r.CreatedAtMs).UTC(),
	}
	if r.StudentID.Valid {
		id := r.StudentID.String
		e.StudentID = &id
	}
	return e
}

// Record appends an event. A second accepted event for the same student and
// session date fails with ErrConstraintViolation.
func (r *AttendanceRepository) Record(ctx context.Context, event *models.AttendanceEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	row := eventRow{
		ID:          event.ID,
		ScanCode:    event.ScanCode,
		SessionDate: event.SessionDate,
		ScannedAtMs: event.Timestamp.UnixMilli(),
		Source:      string(event.Source),
		Outcome:     string(event.Outcome),
		CreatedAtMs: event.CreatedAt.UnixMilli(),
	}
	if event.StudentID != nil {
		row.StudentID = sql.NullString{String: *event.StudentID, Valid: true}
	}
	const query = `INSERT INTO attendance_events (` + eventColumns + `)
VALUES (:event_id, :student_id, :scan_code, :session_date, :scanned_at_ms, :source, :outcome, :created_at_ms)`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("record attendance event: %w", database.Classify(err))
	}
	return nil
}

// Get returns a single event or sql.ErrNoRows.
func (r *AttendanceRepository) Get(ctx context.Context, id string) (*models.AttendanceEvent, error) {
	var row eventRow
	if err := r.db.GetContext(ctx, &row, r.db.Rebind(`SELECT `+eventColumns+` FROM attendance_events WHERE event_id = ?`), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get attendance event: %w", database.Classify(err))
	}
	e := row.toModel()
	return &e, nil
}

// Delete hard-deletes an event. It returns sql.ErrNoRows when the id does
// not exist.
func (r *AttendanceRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM attendance_events WHERE event_id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete attendance event: %w", database.Classify(err))
	}
	return requireAffected(res, "delete attendance event")
}

func eventWhere(filter models.EventFilter) (string, []interface{}) {
	conditions := []string{"1=1"}
	args := []interface{}{}
	if filter.StudentID != "" {
		conditions = append(conditions, "student_id = ?")
		args = append(args, filter.StudentID)
	}
	if filter.SessionDate != "" {
		conditions = append(conditions, "session_date = ?")
		args = append(args, filter.SessionDate)
	}
	if filter.From != "" {
		conditions = append(conditions, "session_date >= ?")
		args = append(args, filter.From)
	}
	if filter.To != "" {
		conditions = append(conditions, "session_date <= ?")
		args = append(args, filter.To)
	}
	if filter.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, string(filter.Outcome))
	}
	return strings.Join(conditions, " AND "), args
}

// Query returns matching events ordered by timestamp. PageSize limits the
// result; zero returns every match.
func (r *AttendanceRepository) Query(ctx context.Context, filter models.EventFilter) ([]models.AttendanceEvent, error) {
	where, args := eventWhere(filter)
	query := `SELECT ` + eventColumns + ` FROM attendance_events WHERE ` + where + eventOrder
	if filter.PageSize > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.PageSize, (page-1)*filter.PageSize)
	}

	var rows []eventRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query attendance events: %w", database.Classify(err))
	}
	events := make([]models.AttendanceEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.toModel())
	}
	return events, nil
}

// Count returns how many events match filter, ignoring pagination.
func (r *AttendanceRepository) Count(ctx context.Context, filter models.EventFilter) (int, error) {
	where, args := eventWhere(filter)
	var total int
	if err := r.db.GetContext(ctx, &total, r.db.Rebind(`SELECT COUNT(*) FROM attendance_events WHERE `+where), args...); err != nil {
		return 0, fmt.Errorf("count attendance events: %w", database.Classify(err))
	}
	return total, nil
}

// eachBatchSize bounds how many rows Each holds between round trips.
const eachBatchSize = 500

// Each streams matching events in timestamp order without loading the full
// history. Rows are read in keyset batches and fn runs with no cursor open,
// so a slow consumer never holds a connection that scans need. A non-nil
// error from fn stops iteration and is returned as is.
func (r *AttendanceRepository) Each(ctx context.Context, filter models.EventFilter, fn func(models.AttendanceEvent) error) error {
	where, args := eventWhere(filter)
	var last *eventRow
	for {
		query := `SELECT ` + eventColumns + ` FROM attendance_events WHERE ` + where
		batchArgs := append([]interface{}{}, args...)
		if last != nil {
			query += ` AND (scanned_at_ms, created_at_ms, event_id) > (?, ?, ?)`
			batchArgs = append(batchArgs, last.ScannedAtMs, last.CreatedAtMs, last.ID)
		}
		query += eventOrder + fmt.Sprintf(" LIMIT %d", eachBatchSize)

		var rows []eventRow
		if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), batchArgs...); err != nil {
			return fmt.Errorf("stream attendance events: %w", database.Classify(err))
		}
		for _, row := range rows {
			if err := fn(row.toModel()); err != nil {
				return err
			}
		}
		if len(rows) < eachBatchSize {
			return nil
		}
		last = &rows[len(rows)-1]
	}
}

// SessionDates lists the dates holding at least one accepted event within
// the inclusive range. Empty bounds are open.
func (r *AttendanceRepository) SessionDates(ctx context.Context, from, to string) ([]string, error) {
	where, args := eventWhere(models.EventFilter{From: from, To: to, Outcome: models.OutcomeAccepted})
	var dates []string
	query := `SELECT DISTINCT session_date FROM attendance_events WHERE ` + where + ` ORDER BY session_date ASC`
	if err := r.db.SelectContext(ctx, &dates, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list session dates: %w", database.Classify(err))
	}
	return dates, nil
}
