package service

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/scan-attendance/internal/models"
	appErrors "github.com/noah-isme/scan-attendance/pkg/errors"
)

type summaryStudents interface {
	Get(ctx context.Context, id string) (*models.Student, error)
	ListActive(ctx context.Context) ([]models.Student, error)
	ListByIDs(ctx context.Context, ids []string) ([]models.Student, error)
}

type summaryLedger interface {
	Query(ctx context.Context, filter models.EventFilter) ([]models.AttendanceEvent, error)
	SessionDates(ctx context.Context, from, to string) ([]string, error)
}

// SummaryService derives per-day and per-student views from the ledger.
// Results are recomputed on every call unless the summary cache is enabled.
type SummaryService struct {
	students summaryStudents
	ledger   summaryLedger
	clock    *SessionClock
	cache    *CacheService
	logger   *zap.Logger
}

// NewSummaryService constructs the aggregator.
func NewSummaryService(students summaryStudents, ledger summaryLedger, clock *SessionClock, cache *CacheService, logger *zap.Logger) *SummaryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = FixedSessionClock(nil, nil)
	}
	return &SummaryService{students: students, ledger: ledger, clock: clock, cache: cache, logger: logger}
}

// cached looks up a summary. Cache failures degrade to a recompute; the
// returned key is empty when the generation could not be read.
func (s *SummaryService) cached(ctx context.Context, dest interface{}, parts ...string) (string, bool) {
	key, err := s.cache.Key(ctx, parts...)
	if err != nil {
		s.logger.Debug("summary cache unavailable, recomputing", zap.Error(err))
		return "", false
	}
	hit, err := s.cache.Get(ctx, key, dest)
	if err != nil {
		s.logger.Debug("summary cache read failed, recomputing", zap.String("key", key), zap.Error(err))
		return key, false
	}
	return key, hit
}

func (s *SummaryService) store(ctx context.Context, key string, summary interface{}) {
	if err := s.cache.Set(ctx, key, summary, 0); err != nil {
		s.logger.Debug("cache summary", zap.String("key", key), zap.Error(err))
	}
}

type studentTally struct {
	first *time.Time
	last  *time.Time
	count int
}

// DailySummary reports every active student as present or absent on date.
// Inactive students with an accepted event that day are listed too, flagged
// inactive. A date without events is NotFound unless active is set. The
// bool result reports a cache hit.
func (s *SummaryService) DailySummary(ctx context.Context, date string, active bool) (*models.DailySummary, bool, error) {
	date, err := parseSessionDate(date)
	if err != nil {
		return nil, false, err
	}

	var cached models.DailySummary
	key, hit := s.cached(ctx, &cached, "summary", "daily", date, strconv.FormatBool(active))
	if hit {
		return &cached, true, nil
	}

	events, err := s.ledger.Query(ctx, models.EventFilter{SessionDate: date})
	if err != nil {
		return nil, false, wrapStorage(err, "failed to load session events")
	}
	if len(events) == 0 && !active {
		return nil, false, appErrors.Clone(appErrors.ErrNotFound, "no attendance recorded for session "+date)
	}

	summary := &models.DailySummary{SessionDate: date, Students: []models.DailySummaryRow{}}
	tallies := make(map[string]*studentTally)
	accepted := make(map[string]struct{})
	for i := range events {
		e := events[i]
		switch e.Outcome {
		case models.OutcomeUnknownCode:
			summary.UnknownScans++
			continue
		case models.OutcomeDuplicate:
			summary.DuplicateScans++
		}
		if e.StudentID == nil {
			continue
		}
		t := tallies[*e.StudentID]
		if t == nil {
			t = &studentTally{}
			tallies[*e.StudentID] = t
		}
		t.count++
		ts := e.Timestamp
		if t.last == nil || ts.After(*t.last) {
			t.last = &ts
		}
		if e.Outcome == models.OutcomeAccepted {
			t.first = &ts
			accepted[*e.StudentID] = struct{}{}
		}
	}

	roster, err := s.students.ListActive(ctx)
	if err != nil {
		return nil, false, wrapStorage(err, "failed to load roster")
	}
	listed := make(map[string]struct{}, len(roster))
	for _, st := range roster {
		listed[st.ID] = struct{}{}
	}
	var former []string
	for id := range accepted {
		if _, ok := listed[id]; !ok {
			former = append(former, id)
		}
	}
	if len(former) > 0 {
		extra, err := s.students.ListByIDs(ctx, former)
		if err != nil {
			return nil, false, wrapStorage(err, "failed to load former students")
		}
		roster = append(roster, extra...)
	}

	for _, st := range roster {
		row := models.DailySummaryRow{
			StudentID: st.ID,
			Name:      st.FullName(),
			GradYear:  st.GradYear,
			Active:    st.Active,
			Status:    models.StatusAbsent,
		}
		if t := tallies[st.ID]; t != nil {
			row.ScanCount = t.count
			row.LastScanAt = t.last
			if t.first != nil {
				row.Status = models.StatusPresent
				row.FirstScanAt = t.first
			}
		}
		if row.Status == models.StatusPresent {
			summary.PresentCount++
		} else {
			summary.AbsentCount++
		}
		summary.Students = append(summary.Students, row)
	}

	s.store(ctx, key, summary)
	return summary, false, nil
}

// StudentSummary lists the student's status on every session date in the
// inclusive range. A session date is any date holding an accepted event.
// Dates before the student joined or after they were deactivated count only
// when the student attended.
func (s *SummaryService) StudentSummary(ctx context.Context, studentID, from, to string) (*models.StudentSummary, bool, error) {
	filter, err := normalizeEventFilter(models.EventFilter{StudentID: studentID, From: from, To: to, Outcome: models.OutcomeAccepted})
	if err != nil {
		return nil, false, err
	}

	student, err := s.students.Get(ctx, filter.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, false, wrapStorage(err, "failed to load student")
	}

	var cached models.StudentSummary
	key, hit := s.cached(ctx, &cached, "summary", "student", student.ID, filter.From, filter.To)
	if hit {
		return &cached, true, nil
	}

	dates, err := s.ledger.SessionDates(ctx, filter.From, filter.To)
	if err != nil {
		return nil, false, wrapStorage(err, "failed to load session dates")
	}
	events, err := s.ledger.Query(ctx, filter)
	if err != nil {
		return nil, false, wrapStorage(err, "failed to load student events")
	}
	firstScan := make(map[string]time.Time, len(events))
	for _, e := range events {
		firstScan[e.SessionDate] = e.Timestamp
	}

	joined := s.clock.SessionDate(student.CreatedAt)
	left := ""
	if student.DeactivatedAt != nil {
		left = s.clock.SessionDate(*student.DeactivatedAt)
	}

	summary := &models.StudentSummary{Student: *student, From: filter.From, To: filter.To, Days: []models.StudentDay{}}
	for _, d := range dates {
		if ts, ok := firstScan[d]; ok {
			ts := ts
			summary.Days = append(summary.Days, models.StudentDay{SessionDate: d, Status: models.StatusPresent, FirstScanAt: &ts})
			summary.PresentCount++
			continue
		}
		if d < joined || (left != "" && d > left) {
			continue
		}
		summary.Days = append(summary.Days, models.StudentDay{SessionDate: d, Status: models.StatusAbsent})
		summary.AbsentCount++
	}
	if total := summary.PresentCount + summary.AbsentCount; total > 0 {
		summary.Percent = math.Round(float64(summary.PresentCount)/float64(total)*1000) / 10
	}

	s.store(ctx, key, summary)
	return summary, false, nil
}
