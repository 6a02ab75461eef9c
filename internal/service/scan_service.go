package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/scan-attendance/internal/models"
	appErrors "github.com/noah-isme/scan-attendance/pkg/errors"
)

type scanStudentLookup interface {
	FindByScanCode(ctx context.Context, code string) (*models.Student, error)
}

type eventRecorder interface {
	Record(ctx context.Context, event *models.AttendanceEvent) error
}

// ScanService turns a decoded code into a recorded attendance outcome.
type ScanService struct {
	students  scanStudentLookup
	ledger    eventRecorder
	clock     *SessionClock
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewScanService constructs the scan processor.
func NewScanService(students scanStudentLookup, ledger eventRecorder, clock *SessionClock, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *ScanService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = FixedSessionClock(nil, nil)
	}
	return &ScanService{students: students, ledger: ledger, clock: clock, cache: cache, metrics: metrics, validator: validate, logger: logger}
}

// Submit resolves the code, records exactly one event and returns its
// outcome. Unknown codes and repeat scans are normal outcomes; only
// validation and storage failures are returned as errors.
func (s *ScanService) Submit(ctx context.Context, req models.ScanRequest) (*models.ScanOutcome, error) {
	start := time.Now()
	req.Code = normalizeCode(req.Code)
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid scan payload")
	}

	ts := req.Timestamp
	if ts.IsZero() {
		ts = s.clock.Now()
	}
	event := &models.AttendanceEvent{
		ID:          uuid.NewString(),
		ScanCode:    req.Code,
		SessionDate: s.clock.SessionDate(ts),
		Timestamp:   ts.UTC(),
		Source:      req.Source,
	}

	student, err := s.students.FindByScanCode(ctx, req.Code)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		student = nil
		event.Outcome = models.OutcomeUnknownCode
		if err := s.ledger.Record(ctx, event); err != nil {
			return nil, wrapStorage(err, "failed to record unknown scan")
		}
	case err != nil:
		return nil, wrapStorage(err, "failed to resolve scan code")
	default:
		event.StudentID = &student.ID
		if err := commitAttendance(ctx, s.ledger, event); err != nil {
			return nil, err
		}
	}

	s.cache.Bump(ctx)
	s.metrics.RecordScan(event.Outcome, event.Source, time.Since(start))

	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("outcome", string(event.Outcome)),
		zap.String("source", string(event.Source)),
		zap.String("session_date", event.SessionDate),
	}
	if student != nil {
		fields = append(fields, zap.String("student_id", student.ID))
	}
	s.logger.Info("scan processed", fields...)

	return &models.ScanOutcome{
		Status:      event.Outcome,
		Student:     student,
		Event:       *event,
		SessionDate: event.SessionDate,
	}, nil
}

// commitAttendance writes event as accepted. When the store reports that an
// accepted event already exists for the student and session date, the same
// submission is recorded as a duplicate instead. event is updated in place.
func commitAttendance(ctx context.Context, ledger eventRecorder, event *models.AttendanceEvent) error {
	event.Outcome = models.OutcomeAccepted
	err := ledger.Record(ctx, event)
	if err == nil {
		return nil
	}
	if !errors.Is(err, appErrors.ErrConstraintViolation) {
		return wrapStorage(err, "failed to record attendance")
	}

	event.ID = uuid.NewString()
	event.Outcome = models.OutcomeDuplicate
	event.CreatedAt = time.Time{}
	if err := ledger.Record(ctx, event); err != nil {
		return wrapStorage(err, "failed to record duplicate scan")
	}
	return nil
}
