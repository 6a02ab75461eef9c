package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/scan-attendance/internal/models"
	"github.com/noah-isme/scan-attendance/internal/repository"
	"github.com/noah-isme/scan-attendance/pkg/config"
	"github.com/noah-isme/scan-attendance/pkg/database"
)

var clubZone = time.FixedZone("club", -5*60*60)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type testEnv struct {
	clock     *manualClock
	students  *repository.StudentRepository
	events    *repository.AttendanceRepository
	roster    *RosterService
	scans     *ScanService
	ledger    *LedgerService
	summaries *SummaryService
	reconcile *ReconcileService
}

func at(date string, hour, minute int) time.Time {
	d, err := time.ParseInLocation(models.SessionDateLayout, date, clubZone)
	if err != nil {
		panic(err)
	}
	return d.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func newTestEnv(t *testing.T, cache *CacheService) *testEnv {
	t.Helper()
	db, err := database.Open(context.Background(), config.DatabaseConfig{
		Driver: config.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "attendance.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mc := &manualClock{now: at("2024-09-01", 12, 0)}
	clock := FixedSessionClock(clubZone, mc.Now)
	validate := validator.New()
	logger := zap.NewNop()
	students := repository.NewStudentRepository(db)
	events := repository.NewAttendanceRepository(db)

	return &testEnv{
		clock:     mc,
		students:  students,
		events:    events,
		roster:    NewRosterService(students, clock, 6, cache, validate, logger),
		scans:     NewScanService(students, events, clock, cache, nil, validate, logger),
		ledger:    NewLedgerService(events, students, clock, cache, nil, validate, logger),
		summaries: NewSummaryService(students, events, clock, cache, logger),
		reconcile: NewReconcileService(students, clock, 6, cache, nil, validate, logger),
	}
}

func (e *testEnv) addStudent(t *testing.T, id, code, first, last string) *models.Student {
	t.Helper()
	st, created, err := e.roster.Upsert(context.Background(), models.UpsertStudentRequest{
		StudentID: id,
		ScanCode:  code,
		FirstName: first,
		LastName:  last,
		GradYear:  2026,
		Email:     first + "@example.org",
	})
	require.NoError(t, err)
	require.True(t, created)
	return st
}

func (e *testEnv) scan(t *testing.T, code string, ts time.Time) *models.ScanOutcome {
	t.Helper()
	out, err := e.scans.Submit(context.Background(), models.ScanRequest{Code: code, Timestamp: ts, Source: models.SourceCamera})
	require.NoError(t, err)
	return out
}
