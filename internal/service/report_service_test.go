package service

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/scan-attendance/internal/models"
	"github.com/noah-isme/scan-attendance/internal/repository"
	appErrors "github.com/noah-isme/scan-attendance/pkg/errors"
	"github.com/noah-isme/scan-attendance/pkg/jobs"
	"github.com/noah-isme/scan-attendance/pkg/storage"
)

type reportRepoStub struct {
	mu   sync.Mutex
	jobs map[string]*models.ReportJob
}

func newReportRepoStub() *reportRepoStub {
	return &reportRepoStub{jobs: map[string]*models.ReportJob{}}
}

func (r *reportRepoStub) Create(ctx context.Context, job *models.ReportJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	r.jobs[job.ID] = job
	return nil
}

func (r *reportRepoStub) GetByID(ctx context.Context, id string) (*models.ReportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *job
	return &clone, nil
}

func (r *reportRepoStub) Update(ctx context.Context, id string, params repository.UpdateReportJobParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return sql.ErrNoRows
	}
	if params.Status != nil {
		job.Status = *params.Status
	}
	if params.Progress != nil {
		job.Progress = *params.Progress
	}
	if params.ResultURL != nil {
		job.ResultURL = params.ResultURL
	}
	if params.ErrorMessage != nil {
		job.ErrorMessage = params.ErrorMessage
	}
	if params.FinishedAt != nil {
		job.FinishedAt = params.FinishedAt
	}
	return nil
}

func (r *reportRepoStub) ListQueued(ctx context.Context, limit int) ([]models.ReportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var queued []models.ReportJob
	for _, job := range r.jobs {
		if job.Status == models.ReportStatusQueued {
			queued = append(queued, *job)
		}
	}
	return queued, nil
}

func (r *reportRepoStub) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ReportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var done []models.ReportJob
	for _, job := range r.jobs {
		if job.Status == models.ReportStatusFinished && job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			done = append(done, *job)
		}
	}
	return done, nil
}

type queueStub struct {
	jobs []jobs.Job
	err  error
}

func (q *queueStub) Enqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type exporterStub struct {
	result *ExportResult
	err    error
}

func (e *exporterStub) Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error) {
	return e.result, e.err
}

func TestReportCreateJobValidatesPerType(t *testing.T) {
	repo := newReportRepoStub()
	queue := &queueStub{}
	svc := NewReportService(repo, queue, nil, nil, zap.NewNop(), ReportServiceConfig{})
	ctx := context.Background()

	_, err := svc.CreateJob(ctx, models.CreateReportRequest{Type: models.ReportTypeDaily, Format: models.ReportFormatCSV}, "operator")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = svc.CreateJob(ctx, models.CreateReportRequest{Type: models.ReportTypeStudent, Format: models.ReportFormatPDF}, "operator")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = svc.CreateJob(ctx, models.CreateReportRequest{Type: "grades", Format: models.ReportFormatCSV}, "operator")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	job, err := svc.CreateJob(ctx, models.CreateReportRequest{
		Type:        models.ReportTypeDaily,
		Format:      models.ReportFormatCSV,
		SessionDate: "2024-09-10",
	}, "operator")
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusQueued, job.Status)
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, jobs.Job{ID: job.ID, Kind: "daily"}, queue.jobs[0])
}

func TestReportCreateJobMarksFailedWhenQueueFull(t *testing.T) {
	repo := newReportRepoStub()
	svc := NewReportService(repo, &queueStub{err: jobs.ErrQueueFull}, nil, nil, zap.NewNop(), ReportServiceConfig{})

	_, err := svc.CreateJob(context.Background(), models.CreateReportRequest{Type: models.ReportTypeCodes, Format: models.ReportFormatCSV}, "operator")
	require.Error(t, err)
	require.Len(t, repo.jobs, 1)
	for _, job := range repo.jobs {
		assert.Equal(t, models.ReportStatusFailed, job.Status)
	}
}

func TestReportWorkerLifecycle(t *testing.T) {
	repo := newReportRepoStub()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, &models.ReportJob{ID: "job-1", Type: models.ReportTypeCodes, Status: models.ReportStatusQueued}))

	failing := &exporterStub{err: errors.New("disk full")}
	worker := NewReportWorker(repo, failing, NewMetricsService(), 2, zap.NewNop())
	require.Error(t, worker.Handle(ctx, jobs.Job{ID: "job-1", Attempt: 0}))
	job, _ := repo.GetByID(ctx, "job-1")
	assert.Equal(t, models.ReportStatusQueued, job.Status)

	require.Error(t, worker.Handle(ctx, jobs.Job{ID: "job-1", Attempt: 2}))
	job, _ = repo.GetByID(ctx, "job-1")
	assert.Equal(t, models.ReportStatusFailed, job.Status)

	ok := &exporterStub{result: &ExportResult{URL: "/api/v1/export/tok"}}
	worker = NewReportWorker(repo, ok, nil, 2, zap.NewNop())
	require.NoError(t, worker.Handle(ctx, jobs.Job{ID: "job-1"}))
	job, _ = repo.GetByID(ctx, "job-1")
	assert.Equal(t, models.ReportStatusFinished, job.Status)
	assert.Equal(t, 100, job.Progress)
	require.NotNil(t, job.ResultURL)
	assert.Equal(t, "/api/v1/export/tok", *job.ResultURL)

	assert.NoError(t, worker.Handle(ctx, jobs.Job{ID: "vanished"}))
}

func TestReportWorkerDoesNotRetryPermanentFailures(t *testing.T) {
	repo := newReportRepoStub()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, &models.ReportJob{ID: "job-1", Type: models.ReportTypeStudent, Status: models.ReportStatusQueued}))

	worker := NewReportWorker(repo, &exporterStub{err: appErrors.Clone(appErrors.ErrNotFound, "student not found")}, nil, 3, zap.NewNop())
	assert.NoError(t, worker.Handle(ctx, jobs.Job{ID: "job-1"}))
	job, _ := repo.GetByID(ctx, "job-1")
	assert.Equal(t, models.ReportStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "student not found")
}

func TestReportResolveDownload(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addStudent(t, "S1", "ABC123", "Ada", "Lovelace")
	exporter := newExportServiceForTest(t, env)
	repo := newReportRepoStub()
	ctx := context.Background()
	svc := NewReportService(repo, &queueStub{}, exporter, nil, zap.NewNop(), ReportServiceConfig{ResultTTL: time.Hour})

	job, err := svc.CreateJob(ctx, models.CreateReportRequest{Type: models.ReportTypeCodes, Format: models.ReportFormatCSV}, "operator")
	require.NoError(t, err)
	result, err := exporter.Generate(ctx, job)
	require.NoError(t, err)

	_, err = svc.ResolveDownload(ctx, result.Token)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden), "job not finished yet")

	worker := NewReportWorker(repo, &exporterStub{result: result}, nil, 1, zap.NewNop())
	require.NoError(t, worker.Handle(ctx, jobs.Job{ID: job.ID}))

	download, err := svc.ResolveDownload(ctx, result.Token)
	require.NoError(t, err)
	defer download.File.Close()
	assert.Equal(t, filepath.Base(result.RelativePath), download.Filename)
	assert.Equal(t, models.ReportFormatCSV, download.Format)

	_, err = svc.ResolveDownload(ctx, result.Token+"x")
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	status, err := svc.GetStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusFinished, status.Status)
	_, err = svc.GetStatus(ctx, "missing")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestReportCleanupRemovesExpiredFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("secret", time.Hour)
	rel, err := store.Save("old.csv", []byte("a,b\n"))
	require.NoError(t, err)
	token, _, err := signer.Generate("job-old", rel)
	require.NoError(t, err)

	exporter := NewExportService(nil, nil, nil, store, signer, nil, ExportConfig{ResultTTL: time.Hour}, zap.NewNop())
	repo := newReportRepoStub()
	finished := time.Now().Add(-2 * time.Hour)
	url := "/api/v1/export/" + token
	repo.jobs["job-old"] = &models.ReportJob{ID: "job-old", Status: models.ReportStatusFinished, FinishedAt: &finished, ResultURL: &url}

	svc := NewReportService(repo, &queueStub{}, exporter, nil, zap.NewNop(), ReportServiceConfig{ResultTTL: time.Hour})
	svc.cleanupExpired(context.Background())

	_, err = os.Stat(filepath.Join(dir, rel))
	assert.True(t, os.IsNotExist(err))
}

func TestReportRecoverPendingJobs(t *testing.T) {
	repo := newReportRepoStub()
	repo.jobs["a"] = &models.ReportJob{ID: "a", Type: models.ReportTypeDaily, Status: models.ReportStatusQueued}
	repo.jobs["b"] = &models.ReportJob{ID: "b", Type: models.ReportTypeDaily, Status: models.ReportStatusFinished}
	queue := &queueStub{}
	svc := NewReportService(repo, queue, nil, nil, zap.NewNop(), ReportServiceConfig{})

	svc.RecoverPendingJobs(context.Background())
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, "a", queue.jobs[0].ID)
}
