package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/scan-attendance/internal/middleware"
	"github.com/noah-isme/scan-attendance/internal/models"
	"github.com/noah-isme/scan-attendance/internal/service"
	appErrors "github.com/noah-isme/scan-attendance/pkg/errors"
)

func newGinContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

type envelope struct {
	Data  json.RawMessage        `json:"data"`
	Error *appErrors.Error       `json:"error"`
	Meta  map[string]interface{} `json:"meta"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

type scanServiceMock struct {
	got models.ScanRequest
	out *models.ScanOutcome
	err error
}

func (m *scanServiceMock) Submit(ctx context.Context, req models.ScanRequest) (*models.ScanOutcome, error) {
	m.got = req
	return m.out, m.err
}

func TestScanHandlerSubmit(t *testing.T) {
	svc := &scanServiceMock{out: &models.ScanOutcome{Status: models.OutcomeAccepted, SessionDate: "2024-09-03"}}
	h := NewScanHandler(svc)

	c, w := newGinContext(http.MethodPost, "/api/v1/scans", []byte(`{"code":"A7K2Q9","source":"camera"}`))
	h.Submit(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "A7K2Q9", svc.got.Code)
	assert.Equal(t, models.SourceCamera, svc.got.Source)
	assert.Contains(t, w.Body.String(), `"status":"accepted"`)
}

func TestScanHandlerRejectsMalformedBody(t *testing.T) {
	h := NewScanHandler(&scanServiceMock{})

	c, w := newGinContext(http.MethodPost, "/api/v1/scans", []byte(`{"code":`))
	h.Submit(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	env := decode(t, w)
	require.NotNil(t, env.Error)
	assert.Equal(t, appErrors.ErrValidation.Code, env.Error.Code)
}

func TestScanHandlerStorageUnavailable(t *testing.T) {
	h := NewScanHandler(&scanServiceMock{err: appErrors.Clone(appErrors.ErrStorageUnavailable, "")})

	c, w := newGinContext(http.MethodPost, "/api/v1/scans", []byte(`{"code":"X","source":"manual"}`))
	h.Submit(c)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

type rosterServiceMock struct {
	filter  models.StudentFilter
	upsert  models.UpsertStudentRequest
	created bool
	ids     []string
	err     error
}

func (m *rosterServiceMock) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error) {
	m.filter = filter
	return []models.Student{{ID: "s-1"}}, &models.Pagination{Page: 1, PageSize: filter.PageSize, TotalCount: 1}, m.err
}

func (m *rosterServiceMock) Get(ctx context.Context, id string) (*models.Student, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.Student{ID: id}, nil
}

func (m *rosterServiceMock) Upsert(ctx context.Context, req models.UpsertStudentRequest) (*models.Student, bool, error) {
	m.upsert = req
	if m.err != nil {
		return nil, false, m.err
	}
	return &models.Student{ID: "generated", FirstName: req.FirstName}, m.created, nil
}

func (m *rosterServiceMock) Deactivate(ctx context.Context, id string) (*models.Student, error) {
	return &models.Student{ID: id}, m.err
}

func (m *rosterServiceMock) ReissueCode(ctx context.Context, id string) (*models.Student, error) {
	return &models.Student{ID: id, ScanCode: "NEW123"}, m.err
}

func (m *rosterServiceMock) ExportCodes(ctx context.Context, ids []string) ([]models.ScanCodeEntry, error) {
	m.ids = ids
	return []models.ScanCodeEntry{}, m.err
}

type studentSummaryMock struct {
	from, to string
}

func (m *studentSummaryMock) StudentSummary(ctx context.Context, studentID, from, to string) (*models.StudentSummary, bool, error) {
	m.from, m.to = from, to
	return &models.StudentSummary{Student: models.Student{ID: studentID}}, true, nil
}

func TestStudentHandlerListParsesFilters(t *testing.T) {
	roster := &rosterServiceMock{}
	h := NewStudentHandler(roster, &studentSummaryMock{})

	c, w := newGinContext(http.MethodGet, "/api/v1/students?search=%20ada%20&active=true&grad_year=2026&limit=10&sort=name", nil)
	h.List(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ada", roster.filter.Search)
	require.NotNil(t, roster.filter.Active)
	assert.True(t, *roster.filter.Active)
	assert.Equal(t, 10, roster.filter.PageSize)
	assert.Contains(t, w.Body.String(), `"pagination"`)
}

func TestStudentHandlerListRejectsBadBool(t *testing.T) {
	h := NewStudentHandler(&rosterServiceMock{}, &studentSummaryMock{})

	c, w := newGinContext(http.MethodGet, "/api/v1/students?active=maybe", nil)
	h.List(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStudentHandlerCreateAndUpdate(t *testing.T) {
	roster := &rosterServiceMock{created: true}
	h := NewStudentHandler(roster, &studentSummaryMock{})

	body := []byte(`{"first_name":"Ada","last_name":"Lovelace","grad_year":2026}`)
	c, w := newGinContext(http.MethodPost, "/api/v1/students", body)
	h.Create(c)
	assert.Equal(t, http.StatusCreated, w.Code)

	roster.created = false
	c, w = newGinContext(http.MethodPut, "/api/v1/students/s-9", body)
	c.Params = gin.Params{{Key: "id", Value: "s-9"}}
	h.Update(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "s-9", roster.upsert.StudentID)
}

func TestStudentHandlerDuplicateCode(t *testing.T) {
	h := NewStudentHandler(&rosterServiceMock{err: appErrors.Clone(appErrors.ErrDuplicateCode, "")}, &studentSummaryMock{})

	c, w := newGinContext(http.MethodPost, "/api/v1/students", []byte(`{"first_name":"A","last_name":"B","grad_year":2026,"scan_code":"TAKEN1"}`))
	h.Create(c)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "DUPLICATE_CODE", decode(t, w).Error.Code)
}

func TestStudentHandlerCodesSplitsIDs(t *testing.T) {
	roster := &rosterServiceMock{}
	h := NewStudentHandler(roster, &studentSummaryMock{})

	c, w := newGinContext(http.MethodGet, "/api/v1/students/codes?ids=a,%20b,,c", nil)
	h.Codes(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"a", "b", "c"}, roster.ids)
}

func TestStudentHandlerSummaryCarriesCacheMeta(t *testing.T) {
	summaries := &studentSummaryMock{}
	h := NewStudentHandler(&rosterServiceMock{}, summaries)

	c, w := newGinContext(http.MethodGet, "/api/v1/students/s-1/summary?from=2024-09-01&to=2024-09-30", nil)
	c.Params = gin.Params{{Key: "id", Value: "s-1"}}
	middleware.WithResponseMeta()(c)
	h.Summary(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2024-09-01", summaries.from)
	env := decode(t, w)
	assert.Equal(t, true, env.Meta["cache_hit"])
	assert.Contains(t, env.Meta, "processing_time_ms")
}

type ledgerServiceMock struct {
	filter  models.EventFilter
	manual  models.ManualRecordRequest
	deleted string
	err     error
}

func (m *ledgerServiceMock) Query(ctx context.Context, filter models.EventFilter) ([]models.AttendanceEvent, *models.Pagination, error) {
	m.filter = filter
	return []models.AttendanceEvent{}, nil, m.err
}

func (m *ledgerServiceMock) ManualRecord(ctx context.Context, req models.ManualRecordRequest) (*models.ScanOutcome, error) {
	m.manual = req
	if m.err != nil {
		return nil, m.err
	}
	return &models.ScanOutcome{Status: models.OutcomeAccepted, SessionDate: req.SessionDate}, nil
}

func (m *ledgerServiceMock) Delete(ctx context.Context, id string) error {
	m.deleted = id
	return m.err
}

func TestAttendanceHandlerQueryFilters(t *testing.T) {
	ledger := &ledgerServiceMock{}
	h := NewAttendanceHandler(ledger)

	c, w := newGinContext(http.MethodGet, "/api/v1/attendance?student_id=s-1&from=2024-09-01&to=2024-09-30&outcome=duplicate&page=2&limit=25", nil)
	h.Query(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.EventFilter{
		StudentID: "s-1",
		From:      "2024-09-01",
		To:        "2024-09-30",
		Outcome:   models.OutcomeDuplicate,
		Page:      2,
		PageSize:  25,
	}, ledger.filter)
}

func TestAttendanceHandlerManualAndDelete(t *testing.T) {
	ledger := &ledgerServiceMock{}
	h := NewAttendanceHandler(ledger)

	c, w := newGinContext(http.MethodPost, "/api/v1/attendance/manual", []byte(`{"student_id":"s-1","session_date":"2024-09-03"}`))
	h.ManualRecord(c)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "s-1", ledger.manual.StudentID)

	c, w = newGinContext(http.MethodDelete, "/api/v1/attendance/evt-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "evt-1"}}
	h.Delete(c)
	assert.Equal(t, http.StatusNoContent, c.Writer.Status())
	assert.Equal(t, "evt-1", ledger.deleted)
	assert.Empty(t, w.Body.String())
}

func TestAttendanceHandlerDeleteMissing(t *testing.T) {
	h := NewAttendanceHandler(&ledgerServiceMock{err: appErrors.Clone(appErrors.ErrNotFound, "event not found")})

	c, w := newGinContext(http.MethodDelete, "/api/v1/attendance/nope", nil)
	c.Params = gin.Params{{Key: "id", Value: "nope"}}
	h.Delete(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

type dailySummaryMock struct {
	date   string
	active bool
}

func (m *dailySummaryMock) DailySummary(ctx context.Context, date string, active bool) (*models.DailySummary, bool, error) {
	m.date, m.active = date, active
	return &models.DailySummary{SessionDate: date}, false, nil
}

func TestSessionHandlerDailySummary(t *testing.T) {
	summaries := &dailySummaryMock{}
	h := NewSessionHandler(summaries)

	c, w := newGinContext(http.MethodGet, "/api/v1/sessions/2024-09-03/summary?active=true", nil)
	c.Params = gin.Params{{Key: "date", Value: "2024-09-03"}}
	middleware.WithResponseMeta()(c)
	h.DailySummary(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2024-09-03", summaries.date)
	assert.True(t, summaries.active)
	assert.Equal(t, false, decode(t, w).Meta["cache_hit"])
}

type reconcileServiceMock struct {
	rows int
}

func (m *reconcileServiceMock) Reconcile(ctx context.Context, snapshot models.RosterSnapshot) (*models.DiffReport, error) {
	m.rows = len(snapshot.Rows)
	return &models.DiffReport{}, nil
}

func TestRosterHandlerReconcile(t *testing.T) {
	svc := &reconcileServiceMock{}
	h := NewRosterHandler(svc)

	body := []byte(`{"rows":[{"first_name":"A","last_name":"B","grad_year":2026},{"first_name":"C","last_name":"D","grad_year":2027}]}`)
	c, w := newGinContext(http.MethodPost, "/api/v1/roster/reconcile", body)
	h.Reconcile(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, svc.rows)
}

type mergeServiceMock struct {
	got models.StationExport
	err error
}

func (m *mergeServiceMock) Merge(ctx context.Context, in models.StationExport) (*models.MergeReport, error) {
	m.got = in
	if m.err != nil {
		return nil, m.err
	}
	return &models.MergeReport{StudentsAdded: []models.Student{}, Accepted: len(in.Events)}, nil
}

func TestStationHandlerMerge(t *testing.T) {
	svc := &mergeServiceMock{}
	h := NewStationHandler(svc)

	body := []byte(`{"students":[],"events":[{"event_id":"e1","student_id":"S1","scan_code":"ABC123","timestamp":"2024-09-10T13:00:00Z","source":"camera","outcome":"accepted"}]}`)
	c, w := newGinContext(http.MethodPost, "/api/v1/stations/merge", body)
	h.Merge(c)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, svc.got.Events, 1)
	assert.Equal(t, "e1", svc.got.Events[0].EventID)
	assert.Contains(t, w.Body.String(), `"accepted":1`)
}

func TestStationHandlerMergeValidationError(t *testing.T) {
	h := NewStationHandler(&mergeServiceMock{err: appErrors.Clone(appErrors.ErrValidation, "event e1 references unknown student S9")})

	c, w := newGinContext(http.MethodPost, "/api/v1/stations/merge", []byte(`{"events":[]}`))
	h.Merge(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	env := decode(t, w)
	require.NotNil(t, env.Error)
	assert.Equal(t, appErrors.ErrValidation.Code, env.Error.Code)
}

type reportServiceMock struct {
	actor    string
	download *service.ReportDownload
	err      error
}

func (m *reportServiceMock) CreateJob(ctx context.Context, req models.CreateReportRequest, actor string) (*models.ReportJob, error) {
	m.actor = actor
	return &models.ReportJob{ID: "job-1", Type: req.Type, Status: models.ReportStatusQueued}, m.err
}

func (m *reportServiceMock) GetStatus(ctx context.Context, id string) (*models.ReportJob, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.ReportJob{ID: id, Status: models.ReportStatusFinished, Progress: 100}, nil
}

func (m *reportServiceMock) ResolveDownload(ctx context.Context, token string) (*service.ReportDownload, error) {
	return m.download, m.err
}

func TestReportHandlerGenerateReportUsesOperator(t *testing.T) {
	svc := &reportServiceMock{}
	h := NewReportHandler(svc)

	c, w := newGinContext(http.MethodPost, "/api/v1/reports", []byte(`{"type":"daily","format":"csv","session_date":"2024-09-03"}`))
	c.Set(middleware.ContextOperatorKey, &models.JWTClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: models.OperatorSubject}})
	h.GenerateReport(c)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, models.OperatorSubject, svc.actor)
	assert.Contains(t, w.Body.String(), `"status":"QUEUED"`)
}

func TestReportHandlerDefaultsActorToStation(t *testing.T) {
	svc := &reportServiceMock{}
	h := NewReportHandler(svc)

	c, _ := newGinContext(http.MethodPost, "/api/v1/reports", []byte(`{"type":"codes","format":"pdf"}`))
	h.GenerateReport(c)

	assert.Equal(t, "station", svc.actor)
}

func TestReportHandlerDisabled(t *testing.T) {
	h := NewReportHandler(nil)

	c, w := newGinContext(http.MethodGet, "/api/v1/reports/job-1", nil)
	h.ReportStatus(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, appErrors.ErrFeatureDisabled.Code, decode(t, w).Error.Code)
}

type nopReadCloser struct{ io.Reader }

func (nopReadCloser) Close() error { return nil }

func TestReportHandlerDownloadStreamsFile(t *testing.T) {
	svc := &reportServiceMock{download: &service.ReportDownload{
		File:      nopReadCloser{strings.NewReader("Student ID,Name\ns-1,Ada\n")},
		Filename:  "daily_2024-09-03.csv",
		Format:    models.ReportFormatCSV,
		ExpiresAt: time.Now().Add(time.Hour),
	}}
	h := NewReportHandler(svc)

	c, w := newGinContext(http.MethodGet, "/api/v1/export/token", nil)
	c.Params = gin.Params{{Key: "token", Value: "token"}}
	h.DownloadReport(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "daily_2024-09-03.csv")
	assert.Equal(t, "Student ID,Name\ns-1,Ada\n", w.Body.String())
}

func TestReportHandlerDownloadForbidden(t *testing.T) {
	h := NewReportHandler(&reportServiceMock{err: appErrors.Clone(appErrors.ErrForbidden, "invalid download token")})

	c, w := newGinContext(http.MethodGet, "/api/v1/export/bad", nil)
	h.DownloadReport(c)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

type authServiceMock struct {
	err error
}

func (m authServiceMock) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.LoginResponse{AccessToken: "jwt", ExpiresIn: 3600}, nil
}

func TestAuthHandlerLogin(t *testing.T) {
	c, w := newGinContext(http.MethodPost, "/api/v1/auth/login", []byte(`{"password":"secret"}`))
	NewAuthHandler(authServiceMock{}).Login(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"access_token":"jwt"`)

	c, w = newGinContext(http.MethodPost, "/api/v1/auth/login", []byte(`{"password":"wrong"}`))
	NewAuthHandler(authServiceMock{err: appErrors.ErrInvalidCredentials}).Login(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMetricsHandlerReady(t *testing.T) {
	healthy := PingFunc(func(ctx context.Context) error { return nil })
	broken := PingFunc(func(ctx context.Context) error { return errors.New("connection refused") })

	c, w := newGinContext(http.MethodGet, "/ready", nil)
	NewMetricsHandler(nil, map[string]Pinger{"database": healthy}).Ready(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ready"`)

	c, w = newGinContext(http.MethodGet, "/ready", nil)
	NewMetricsHandler(nil, map[string]Pinger{"database": healthy, "redis": broken}).Ready(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestMetricsHandlerPrometheus(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("scan_events_total 3\n"))
	})

	c, w := newGinContext(http.MethodGet, "/metrics", nil)
	NewMetricsHandler(metrics, nil).Prometheus(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "scan_events_total")
}
