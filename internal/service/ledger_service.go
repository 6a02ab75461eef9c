package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/scan-attendance/internal/models"
	appErrors "github.com/noah-isme/scan-attendance/pkg/errors"
)

type ledgerRepository interface {
	Record(ctx context.Context, event *models.AttendanceEvent) error
	Get(ctx context.Context, id string) (*models.AttendanceEvent, error)
	Delete(ctx context.Context, id string) error
	Query(ctx context.Context, filter models.EventFilter) ([]models.AttendanceEvent, error)
	Count(ctx context.Context, filter models.EventFilter) (int, error)
	Each(ctx context.Context, filter models.EventFilter, fn func(models.AttendanceEvent) error) error
}

type studentGetter interface {
	Get(ctx context.Context, id string) (*models.Student, error)
}

// LedgerService exposes the attendance ledger: queries, operator entries
// and corrections.
type LedgerService struct {
	ledger    ledgerRepository
	students  studentGetter
	clock     *SessionClock
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewLedgerService constructs the ledger service.
func NewLedgerService(ledger ledgerRepository, students studentGetter, clock *SessionClock, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *LedgerService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = FixedSessionClock(nil, nil)
	}
	return &LedgerService{ledger: ledger, students: students, clock: clock, cache: cache, metrics: metrics, validator: validate, logger: logger}
}

// Query returns events in timestamp order. Pagination is only computed when
// filter.PageSize is set; otherwise every match is returned.
func (s *LedgerService) Query(ctx context.Context, filter models.EventFilter) ([]models.AttendanceEvent, *models.Pagination, error) {
	filter, err := normalizeEventFilter(filter)
	if err != nil {
		return nil, nil, err
	}
	events, err := s.ledger.Query(ctx, filter)
	if err != nil {
		return nil, nil, wrapStorage(err, "failed to query attendance")
	}
	if filter.PageSize <= 0 {
		return events, nil, nil
	}
	total, err := s.ledger.Count(ctx, filter)
	if err != nil {
		return nil, nil, wrapStorage(err, "failed to count attendance")
	}
	page, size := normalizePage(filter.Page, filter.PageSize, filter.PageSize)
	return events, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Each streams matching events to fn in timestamp order.
func (s *LedgerService) Each(ctx context.Context, filter models.EventFilter, fn func(models.AttendanceEvent) error) error {
	filter, err := normalizeEventFilter(filter)
	if err != nil {
		return err
	}
	filter.Page, filter.PageSize = 0, 0

	var fnErr error
	err = s.ledger.Each(ctx, filter, func(e models.AttendanceEvent) error {
		fnErr = fn(e)
		return fnErr
	})
	if err != nil {
		if fnErr != nil {
			return fnErr
		}
		return wrapStorage(err, "failed to stream attendance")
	}
	return nil
}

// Delete removes an event permanently.
func (s *LedgerService) Delete(ctx context.Context, id string) error {
	if err := s.ledger.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "attendance event not found")
		}
		return wrapStorage(err, "failed to delete attendance event")
	}
	s.cache.Bump(ctx)
	s.logger.Info("attendance event deleted", zap.String("event_id", id))
	return nil
}

// ManualRecord enters attendance for a student on a session date. It obeys
// the same one-accepted-per-day rule as scans and returns the outcome.
func (s *LedgerService) ManualRecord(ctx context.Context, req models.ManualRecordRequest) (*models.ScanOutcome, error) {
	req.StudentID = strings.TrimSpace(req.StudentID)
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid manual attendance payload")
	}
	date, err := parseSessionDate(req.SessionDate)
	if err != nil {
		return nil, err
	}

	student, err := s.students.Get(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, wrapStorage(err, "failed to load student")
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student is inactive")
	}

	ts, err := s.manualTimestamp(date, req.Timestamp)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	event := &models.AttendanceEvent{
		ID:          uuid.NewString(),
		StudentID:   &student.ID,
		ScanCode:    student.ScanCode,
		SessionDate: date,
		Timestamp:   ts.UTC(),
		Source:      models.SourceManual,
	}
	if err := commitAttendance(ctx, s.ledger, event); err != nil {
		return nil, err
	}
	s.cache.Bump(ctx)
	s.metrics.RecordScan(event.Outcome, event.Source, time.Since(start))
	s.logger.Info("manual attendance recorded",
		zap.String("event_id", event.ID),
		zap.String("student_id", student.ID),
		zap.String("session_date", date),
		zap.String("outcome", string(event.Outcome)))

	return &models.ScanOutcome{Status: event.Outcome, Student: student, Event: *event, SessionDate: date}, nil
}

// manualTimestamp picks the event time: the supplied one when it falls on
// the session date, now when the date is today, else noon of that date.
func (s *LedgerService) manualTimestamp(date string, supplied *time.Time) (time.Time, error) {
	if supplied != nil && !supplied.IsZero() {
		if s.clock.SessionDate(*supplied) != date {
			return time.Time{}, appErrors.Clone(appErrors.ErrValidation, "timestamp does not fall on the session date")
		}
		return *supplied, nil
	}
	now := s.clock.Now()
	if s.clock.SessionDate(now) == date {
		return now, nil
	}
	day, err := time.ParseInLocation(models.SessionDateLayout, date, s.clock.Location())
	if err != nil {
		return time.Time{}, validationError(err, "session date must be YYYY-MM-DD")
	}
	return day.Add(12 * time.Hour), nil
}

func normalizeEventFilter(filter models.EventFilter) (models.EventFilter, error) {
	filter.StudentID = strings.TrimSpace(filter.StudentID)
	for _, field := range []*string{&filter.SessionDate, &filter.From, &filter.To} {
		if strings.TrimSpace(*field) == "" {
			*field = ""
			continue
		}
		d, err := parseSessionDate(*field)
		if err != nil {
			return filter, err
		}
		*field = d
	}
	if filter.From != "" && filter.To != "" && filter.From > filter.To {
		return filter, appErrors.Clone(appErrors.ErrValidation, "from must not be after to")
	}
	if filter.Outcome != "" && !filter.Outcome.Valid() {
		return filter, appErrors.Clone(appErrors.ErrValidation, "unknown outcome")
	}
	if filter.PageSize > 1000 {
		filter.PageSize = 1000
	}
	return filter, nil
}
