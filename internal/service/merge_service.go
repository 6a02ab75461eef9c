package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/scan-attendance/internal/models"
	"github.com/noah-isme/scan-attendance/internal/repository"
	appErrors "github.com/noah-isme/scan-attendance/pkg/errors"
)

type mergeStudentStore interface {
	Transact(ctx context.Context, fn func(store repository.StudentStore) error) error
	Get(ctx context.Context, id string) (*models.Student, error)
}

type mergeLedger interface {
	Record(ctx context.Context, event *models.AttendanceEvent) error
	Get(ctx context.Context, id string) (*models.AttendanceEvent, error)
}

// MergeService folds another station's roster and ledger into this one.
// Students whose id already exists are left alone. Events keep their ids,
// so merging the same export twice adds nothing.
type MergeService struct {
	students   mergeStudentStore
	ledger     mergeLedger
	clock      *SessionClock
	codeLength int
	cache      *CacheService
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewMergeService constructs the merge service.
func NewMergeService(students mergeStudentStore, ledger mergeLedger, clock *SessionClock, codeLength int, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *MergeService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = FixedSessionClock(nil, nil)
	}
	return &MergeService{students: students, ledger: ledger, clock: clock, codeLength: codeLength, cache: cache, validator: validate, logger: logger}
}

// Merge imports the export. Students are added in one transaction, then
// events are recorded one by one in timestamp order. An accepted event that
// collides with one already recorded for the same student and day is kept
// as a duplicate.
func (s *MergeService) Merge(ctx context.Context, in models.StationExport) (*models.MergeReport, error) {
	for i := range in.Students {
		st := &in.Students[i]
		st.StudentID = strings.TrimSpace(st.StudentID)
		st.ScanCode = normalizeCode(st.ScanCode)
		st.FirstName = strings.TrimSpace(st.FirstName)
		st.LastName = strings.TrimSpace(st.LastName)
		st.Email = strings.TrimSpace(st.Email)
	}
	if err := s.validator.Struct(in); err != nil {
		return nil, validationError(err, "invalid station export")
	}
	if err := s.checkReferences(ctx, in); err != nil {
		return nil, err
	}

	report := &models.MergeReport{StudentsAdded: []models.Student{}}
	if err := s.mergeStudents(ctx, in, report); err != nil {
		return nil, passThrough(err, "failed to merge students")
	}

	events := append([]models.StationEvent(nil), in.Events...)
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.Before(events[j].Timestamp)
		}
		return events[i].EventID < events[j].EventID
	})
	for _, e := range events {
		if err := s.mergeEvent(ctx, e, report); err != nil {
			// Events recorded so far stay; a retry skips them by id.
			s.bump(ctx, report)
			return nil, err
		}
	}

	s.bump(ctx, report)
	s.logger.Info("station export merged",
		zap.Int("students_added", len(report.StudentsAdded)),
		zap.Int("students_skipped", report.StudentsSkipped),
		zap.Int("accepted", report.Accepted),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("unknown_codes", report.UnknownCodes),
		zap.Int("events_skipped", report.EventsSkipped))
	return report, nil
}

func (s *MergeService) bump(ctx context.Context, report *models.MergeReport) {
	if len(report.StudentsAdded) > 0 || report.Accepted+report.Duplicates+report.UnknownCodes > 0 {
		s.cache.Bump(ctx)
	}
}

// checkReferences rejects events naming a student that is neither known
// locally nor part of the export.
func (s *MergeService) checkReferences(ctx context.Context, in models.StationExport) error {
	incoming := make(map[string]struct{}, len(in.Students))
	for _, st := range in.Students {
		if _, dup := incoming[st.StudentID]; dup {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("student %s listed twice", st.StudentID))
		}
		incoming[st.StudentID] = struct{}{}
	}
	checked := make(map[string]struct{})
	for _, e := range in.Events {
		if e.StudentID == nil || e.Outcome == models.OutcomeUnknownCode {
			continue
		}
		id := *e.StudentID
		if _, ok := incoming[id]; ok {
			continue
		}
		if _, ok := checked[id]; ok {
			continue
		}
		if _, err := s.students.Get(ctx, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("event %s references unknown student %s", e.EventID, id))
			}
			return wrapStorage(err, "failed to load student")
		}
		checked[id] = struct{}{}
	}
	return nil
}

func (s *MergeService) mergeStudents(ctx context.Context, in models.StationExport, report *models.MergeReport) error {
	if len(in.Students) == 0 {
		return nil
	}
	firstSeen := make(map[string]time.Time)
	for _, e := range in.Events {
		if e.StudentID == nil {
			continue
		}
		if t, ok := firstSeen[*e.StudentID]; !ok || e.Timestamp.Before(t) {
			firstSeen[*e.StudentID] = e.Timestamp
		}
	}

	return s.students.Transact(ctx, func(store repository.StudentStore) error {
		for _, row := range in.Students {
			if _, err := store.Get(ctx, row.StudentID); err == nil {
				report.StudentsSkipped++
				continue
			} else if !errors.Is(err, sql.ErrNoRows) {
				return wrapStorage(err, "failed to load student")
			}

			student := &models.Student{
				ID:            row.StudentID,
				ScanCode:      row.ScanCode,
				FirstName:     row.FirstName,
				LastName:      row.LastName,
				GradYear:      row.GradYear,
				Email:         row.Email,
				DeactivatedAt: row.DeactivatedAt,
				CreatedAt:     s.clock.Now().UTC(),
			}
			// Membership starts no later than the first merged scan so the
			// imported history counts toward summaries.
			if t, ok := firstSeen[row.StudentID]; ok && t.Before(student.CreatedAt) {
				student.CreatedAt = t.UTC()
			}

			if row.ExternalID != nil && *row.ExternalID != "" {
				ext := *row.ExternalID
				student.ExternalID = &ext
			}

			if row.DeactivatedAt == nil {
				// An external id already held by an active local student is
				// dropped; the next roster sync settles ownership.
				if student.ExternalID != nil {
					if _, err := store.FindActiveByExternalID(ctx, *student.ExternalID); err == nil {
						student.ExternalID = nil
					} else if !errors.Is(err, sql.ErrNoRows) {
						return wrapStorage(err, "failed to check external id")
					}
				}
				if err := ensureCodeFree(ctx, store, row.ScanCode, row.StudentID); err != nil {
					if !errors.Is(err, appErrors.ErrDuplicateCode) {
						return err
					}
					fresh, err := freshScanCode(ctx, store, s.codeLength)
					if err != nil {
						return err
					}
					student.ScanCode = fresh
					report.ReplacedCodes = append(report.ReplacedCodes, models.CodeReplacement{
						StudentID:     row.StudentID,
						RequestedCode: row.ScanCode,
						AssignedCode:  fresh,
					})
				}
			}

			if err := store.Insert(ctx, student); err != nil {
				return mapRosterWriteError(err, "failed to add student")
			}
			report.StudentsAdded = append(report.StudentsAdded, *student)
		}
		return nil
	})
}

func (s *MergeService) mergeEvent(ctx context.Context, in models.StationEvent, report *models.MergeReport) error {
	if _, err := s.ledger.Get(ctx, in.EventID); err == nil {
		report.EventsSkipped++
		return nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return wrapStorage(err, "failed to check attendance event")
	}

	event := &models.AttendanceEvent{
		ID:          in.EventID,
		ScanCode:    normalizeCode(in.ScanCode),
		SessionDate: s.clock.SessionDate(in.Timestamp),
		Timestamp:   in.Timestamp.UTC(),
		Source:      in.Source,
		Outcome:     in.Outcome,
	}
	if in.StudentID == nil || in.Outcome == models.OutcomeUnknownCode {
		event.Outcome = models.OutcomeUnknownCode
		if err := s.ledger.Record(ctx, event); err != nil {
			return wrapStorage(err, "failed to merge unknown scan")
		}
		report.UnknownCodes++
		return nil
	}

	id := *in.StudentID
	event.StudentID = &id
	if in.Outcome == models.OutcomeAccepted {
		err := s.ledger.Record(ctx, event)
		if err == nil {
			report.Accepted++
			return nil
		}
		if !errors.Is(err, appErrors.ErrConstraintViolation) {
			return wrapStorage(err, "failed to merge attendance")
		}
		// The index already holds an accepted event for this student and
		// day. The id was not written, so it is reused for the duplicate.
		event.CreatedAt = time.Time{}
	}

	event.Outcome = models.OutcomeDuplicate
	if err := s.ledger.Record(ctx, event); err != nil {
		return wrapStorage(err, "failed to merge duplicate scan")
	}
	report.Duplicates++
	return nil
}
