package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/scan-attendance/internal/models"
	"github.com/noah-isme/scan-attendance/pkg/export"
	"github.com/noah-isme/scan-attendance/pkg/storage"
)

type summaryReader interface {
	DailySummary(ctx context.Context, date string, active bool) (*models.DailySummary, bool, error)
	StudentSummary(ctx context.Context, studentID, from, to string) (*models.StudentSummary, bool, error)
}

type codeExporter interface {
	ExportCodes(ctx context.Context, ids []string) ([]models.ScanCodeEntry, error)
}

type eventStreamer interface {
	Each(ctx context.Context, filter models.EventFilter, fn func(models.AttendanceEvent) error) error
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	SaveStream(filename string, r io.Reader) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ReportFormat
	ExpiresAt    time.Time
}

// ExportService builds report datasets and persists rendered files.
type ExportService struct {
	summaries summaryReader
	codes     codeExporter
	events    eventStreamer
	storage   fileStorage
	csv       csvRenderer
	pdf       pdfRenderer
	signer    *storage.SignedURLSigner
	clock     *SessionClock
	logger    *zap.Logger
	cfg       ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(summaries summaryReader, codes codeExporter, events eventStreamer, files fileStorage, signer *storage.SignedURLSigner, clock *SessionClock, cfg ExportConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if clock == nil {
		clock = FixedSessionClock(nil, nil)
	}
	return &ExportService{
		summaries: summaries,
		codes:     codes,
		events:    events,
		storage:   files,
		csv:       export.NewCSVExporter(),
		pdf:       export.NewPDFExporter(),
		signer:    signer,
		clock:     clock,
		logger:    logger,
		cfg:       cfg,
	}
}

// Generate renders the report described by job, stores it and signs a
// download URL for it.
func (s *ExportService) Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}
	filename := s.buildFilename(job)

	var (
		relPath string
		err     error
	)
	if job.Type == models.ReportTypeAttendance && job.Params.Format == models.ReportFormatCSV {
		relPath, err = s.streamAttendanceCSV(ctx, job.Params, filename)
	} else {
		relPath, err = s.renderAndSave(ctx, job, filename)
	}
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          fmt.Sprintf("%s/export/%s", prefix, token),
		Format:       job.Params.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *ExportService) renderAndSave(ctx context.Context, job *models.ReportJob, filename string) (string, error) {
	dataset, err := s.buildDataset(ctx, job)
	if err != nil {
		return "", err
	}
	var payload []byte
	switch job.Params.Format {
	case models.ReportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case models.ReportFormatPDF:
		payload, err = s.pdf.Render(dataset)
	default:
		err = fmt.Errorf("unsupported format %s", job.Params.Format)
	}
	if err != nil {
		return "", err
	}
	return s.storage.Save(filename, payload)
}

// streamAttendanceCSV pipes ledger rows straight into the stored file so
// the full history is never held in memory.
func (s *ExportService) streamAttendanceCSV(ctx context.Context, params models.ReportJobParams, filename string) (string, error) {
	pr, pw := io.Pipe()
	go func() {
		stream, err := export.NewCSVStream(pw, attendanceHeaders)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		err = s.events.Each(ctx, attendanceFilter(params), func(e models.AttendanceEvent) error {
			return stream.Write(s.attendanceRow(e))
		})
		if err == nil {
			err = stream.Close()
		}
		pw.CloseWithError(err)
	}()

	relPath, err := s.storage.SaveStream(filename, pr)
	_ = pr.Close()
	return relPath, err
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (storage.SignedToken, error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) buildFilename(job *models.ReportJob) string {
	var part string
	switch job.Type {
	case models.ReportTypeDaily:
		part = job.Params.SessionDate
	case models.ReportTypeStudent:
		part = job.Params.StudentID
	case models.ReportTypeCodes:
		part = "roster"
	case models.ReportTypeAttendance:
		part = strings.Trim(job.Params.From+"_"+job.Params.To, "_")
		if job.Params.StudentID != "" {
			part = strings.Trim(job.Params.StudentID+"_"+part, "_")
		}
	}
	timestamp := time.Now().UTC().Format("20060102_150405")
	return fmt.Sprintf("%s_%s_%s_%s.%s", job.Type, sanitizeFilename(part), timestamp, shortID(job.ID), job.Params.Format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "all"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (s *ExportService) buildDataset(ctx context.Context, job *models.ReportJob) (export.Dataset, error) {
	switch job.Type {
	case models.ReportTypeDaily:
		return s.buildDailyDataset(ctx, job.Params)
	case models.ReportTypeStudent:
		return s.buildStudentDataset(ctx, job.Params)
	case models.ReportTypeCodes:
		return s.buildCodesDataset(ctx, job.Params)
	case models.ReportTypeAttendance:
		return s.buildAttendanceDataset(ctx, job.Params)
	default:
		return export.Dataset{}, fmt.Errorf("unsupported report type %s", job.Type)
	}
}

func (s *ExportService) buildDailyDataset(ctx context.Context, params models.ReportJobParams) (export.Dataset, error) {
	summary, _, err := s.summaries.DailySummary(ctx, params.SessionDate, params.Active)
	if err != nil {
		return export.Dataset{}, err
	}
	rows := make([][]string, 0, len(summary.Students))
	for _, st := range summary.Students {
		active := "yes"
		if !st.Active {
			active = "no"
		}
		rows = append(rows, []string{
			st.StudentID,
			st.Name,
			strconv.Itoa(st.GradYear),
			string(st.Status),
			s.formatTime(st.FirstScanAt),
			s.formatTime(st.LastScanAt),
			strconv.Itoa(st.ScanCount),
			active,
		})
	}
	return export.Dataset{
		Title:   fmt.Sprintf("Attendance %s (%d present, %d absent)", summary.SessionDate, summary.PresentCount, summary.AbsentCount),
		Headers: []string{"Student ID", "Name", "Grad Year", "Status", "First Scan", "Last Scan", "Scans", "Active"},
		Rows:    rows,
	}, nil
}

func (s *ExportService) buildStudentDataset(ctx context.Context, params models.ReportJobParams) (export.Dataset, error) {
	summary, _, err := s.summaries.StudentSummary(ctx, params.StudentID, params.From, params.To)
	if err != nil {
		return export.Dataset{}, err
	}
	rows := make([][]string, 0, len(summary.Days))
	for _, d := range summary.Days {
		rows = append(rows, []string{d.SessionDate, string(d.Status), s.formatTime(d.FirstScanAt)})
	}
	return export.Dataset{
		Title: fmt.Sprintf("%s: %d of %d sessions (%.1f%%)", summary.Student.FullName(), summary.PresentCount,
			summary.PresentCount+summary.AbsentCount, summary.Percent),
		Headers: []string{"Session Date", "Status", "First Scan"},
		Rows:    rows,
	}, nil
}

func (s *ExportService) buildCodesDataset(ctx context.Context, params models.ReportJobParams) (export.Dataset, error) {
	entries, err := s.codes.ExportCodes(ctx, params.StudentIDs)
	if err != nil {
		return export.Dataset{}, err
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{e.StudentID, e.Name, e.Email, e.ScanCode})
	}
	return export.Dataset{
		Title:   "Scan Codes",
		Headers: []string{"Student ID", "Name", "Email", "Scan Code"},
		Rows:    rows,
	}, nil
}

var attendanceHeaders = []string{"Event ID", "Student ID", "Scan Code", "Session Date", "Timestamp", "Source", "Outcome"}

func (s *ExportService) buildAttendanceDataset(ctx context.Context, params models.ReportJobParams) (export.Dataset, error) {
	var rows [][]string
	err := s.events.Each(ctx, attendanceFilter(params), func(e models.AttendanceEvent) error {
		rows = append(rows, s.attendanceRow(e))
		return nil
	})
	if err != nil {
		return export.Dataset{}, err
	}
	return export.Dataset{Title: "Attendance Events", Headers: attendanceHeaders, Rows: rows}, nil
}

func attendanceFilter(params models.ReportJobParams) models.EventFilter {
	return models.EventFilter{StudentID: params.StudentID, From: params.From, To: params.To}
}

func (s *ExportService) attendanceRow(e models.AttendanceEvent) []string {
	studentID := ""
	if e.StudentID != nil {
		studentID = *e.StudentID
	}
	ts := e.Timestamp
	return []string{e.ID, studentID, e.ScanCode, e.SessionDate, s.formatTime(&ts), string(e.Source), string(e.Outcome)}
}

func (s *ExportService) formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.In(s.clock.Location()).Format(time.RFC3339)
}
