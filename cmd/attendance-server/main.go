package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/scan-attendance/api/swagger"
	"github.com/noah-isme/scan-attendance/internal/handler"
	internalmiddleware "github.com/noah-isme/scan-attendance/internal/middleware"
	"github.com/noah-isme/scan-attendance/internal/repository"
	"github.com/noah-isme/scan-attendance/internal/service"
	"github.com/noah-isme/scan-attendance/pkg/cache"
	"github.com/noah-isme/scan-attendance/pkg/config"
	"github.com/noah-isme/scan-attendance/pkg/database"
	"github.com/noah-isme/scan-attendance/pkg/jobs"
	"github.com/noah-isme/scan-attendance/pkg/logger"
	corsmiddleware "github.com/noah-isme/scan-attendance/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/scan-attendance/pkg/middleware/requestid"
	"github.com/noah-isme/scan-attendance/pkg/storage"
)

// @title Scan Attendance API
// @version 1.0.0
// @description Club attendance from scanned member codes
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	clock, err := service.NewSessionClock(cfg.Attendance.Timezone)
	if err != nil {
		return err
	}

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.Cache.Enabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			// Summaries are recomputed from the store when the cache is down.
			logr.Warn("summary cache disabled", zap.String("addr", cache.Addr(cfg.Redis)), zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	validate := validator.New()
	metrics := service.NewMetricsService()

	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, logr)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Cache.TTL, cfg.Cache.KeySpace, logr, redisClient != nil)

	students := repository.NewStudentRepository(db)
	events := repository.NewAttendanceRepository(db)

	authSvc := service.NewAuthService(validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
		PasswordHash:      cfg.Operator.PasswordHash,
	})
	if !authSvc.Enabled() {
		logr.Warn("OPERATOR_PASSWORD_HASH is empty, management endpoints are unauthenticated")
	}

	rosterSvc := service.NewRosterService(students, clock, cfg.Attendance.ScanCodeLength, cacheSvc, validate, logr)
	scanSvc := service.NewScanService(students, events, clock, cacheSvc, metrics, validate, logr)
	ledgerSvc := service.NewLedgerService(events, students, clock, cacheSvc, metrics, validate, logr)
	summarySvc := service.NewSummaryService(students, events, clock, cacheSvc, logr)
	reconcileSvc := service.NewReconcileService(students, clock, cfg.Attendance.ScanCodeLength, cacheSvc, metrics, validate, logr)
	mergeSvc := service.NewMergeService(students, events, clock, cfg.Attendance.ScanCodeLength, cacheSvc, validate, logr)

	reportHandler := handler.NewReportHandler(nil)
	if cfg.Reports.Enabled {
		reportSvc, queue, err := buildReports(ctx, cfg, db, summarySvc, rosterSvc, ledgerSvc, clock, metrics, validate, logr)
		if err != nil {
			return err
		}
		defer queue.Stop()
		reportHandler = handler.NewReportHandler(reportSvc)
	}

	checks := map[string]handler.Pinger{"database": db}
	if redisClient != nil {
		checks["redis"] = handler.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, "/health", "/ready", "/metrics"))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics))
	r.Use(internalmiddleware.WithResponseMeta())

	metricsHandler := handler.NewMetricsHandler(metrics.Handler(), checks)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", handler.NewAuthHandler(authSvc).Login)
	// Signed tokens authorize downloads on their own.
	api.GET("/export/:token", reportHandler.DownloadReport)

	protected := api.Group("")
	protected.Use(internalmiddleware.Operator(authSvc))

	scanHandler := handler.NewScanHandler(scanSvc)
	protected.POST("/scans", scanHandler.Submit)

	studentHandler := handler.NewStudentHandler(rosterSvc, summarySvc)
	protected.GET("/students", studentHandler.List)
	protected.POST("/students", studentHandler.Create)
	protected.GET("/students/codes", studentHandler.Codes)
	protected.GET("/students/:id", studentHandler.Get)
	protected.PUT("/students/:id", studentHandler.Update)
	protected.DELETE("/students/:id", studentHandler.Delete)
	protected.POST("/students/:id/reissue-code", studentHandler.ReissueCode)
	protected.GET("/students/:id/summary", studentHandler.Summary)

	attendanceHandler := handler.NewAttendanceHandler(ledgerSvc)
	protected.GET("/attendance", attendanceHandler.Query)
	protected.POST("/attendance/manual", attendanceHandler.ManualRecord)
	protected.DELETE("/attendance/:id", attendanceHandler.Delete)

	protected.GET("/sessions/:date/summary", handler.NewSessionHandler(summarySvc).DailySummary)
	protected.POST("/roster/reconcile", handler.NewRosterHandler(reconcileSvc).Reconcile)
	protected.POST("/stations/merge", handler.NewStationHandler(mergeSvc).Merge)

	protected.POST("/reports", reportHandler.GenerateReport)
	protected.GET("/reports/:id", reportHandler.ReportStatus)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "db", cfg.Database.Driver, "timezone", clock.Location().String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildReports wires the report pipeline: file storage, exporter, worker
// pool and job bookkeeping. The returned queue is already running.
func buildReports(
	ctx context.Context,
	cfg *config.Config,
	db *sqlx.DB,
	summaries *service.SummaryService,
	roster *service.RosterService,
	ledger *service.LedgerService,
	clock *service.SessionClock,
	metrics *service.MetricsService,
	validate *validator.Validate,
	logr *zap.Logger,
) (*service.ReportService, *jobs.Queue, error) {
	if cfg.Reports.SignedURLSecret == "" {
		return nil, nil, errors.New("REPORTS_SIGNED_URL_SECRET is required when reports are enabled")
	}
	files, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
	if err != nil {
		return nil, nil, fmt.Errorf("report storage: %w", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)

	exporter := service.NewExportService(summaries, roster, ledger, files, signer, clock, service.ExportConfig{
		APIPrefix: cfg.APIPrefix,
		ResultTTL: cfg.Reports.SignedURLTTL,
	}, logr)

	repo := repository.NewReportRepository(db)
	worker := service.NewReportWorker(repo, exporter, metrics, cfg.Reports.WorkerRetries, logr)
	queue := jobs.NewQueue("reports", worker.Handle, jobs.QueueConfig{
		Workers:    cfg.Reports.WorkerConcurrency,
		MaxRetries: cfg.Reports.WorkerRetries,
		Logger:     logr,
	})
	queue.Start(ctx)

	reports := service.NewReportService(repo, queue, exporter, validate, logr, service.ReportServiceConfig{
		ResultTTL:       cfg.Reports.SignedURLTTL,
		CleanupInterval: cfg.Reports.CleanupInterval,
		MaxRetries:      cfg.Reports.WorkerRetries,
	})
	reports.RecoverPendingJobs(ctx)
	reports.StartCleanup(ctx)
	return reports, queue, nil
}
