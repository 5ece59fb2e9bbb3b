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

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/coop-portal-api/api/swagger"
	"github.com/noah-isme/coop-portal-api/internal/handler"
	"github.com/noah-isme/coop-portal-api/internal/middleware"
	"github.com/noah-isme/coop-portal-api/internal/models"
	"github.com/noah-isme/coop-portal-api/internal/repository"
	"github.com/noah-isme/coop-portal-api/internal/service"
	"github.com/noah-isme/coop-portal-api/pkg/cache"
	"github.com/noah-isme/coop-portal-api/pkg/config"
	"github.com/noah-isme/coop-portal-api/pkg/database"
	"github.com/noah-isme/coop-portal-api/pkg/jobs"
	"github.com/noah-isme/coop-portal-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/coop-portal-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/coop-portal-api/pkg/middleware/requestid"
	"github.com/noah-isme/coop-portal-api/pkg/storage"
)

// @title Co-op Portal API
// @version 0.1.0
// @description Co-op placement portal: hiring calendar, application lifecycle and placement matching
// @BasePath /
// @schemes http

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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect database", "error", err)
	}
	defer db.Close()

	var roundCache *repository.RoundCache
	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, round calendar cache disabled", "error", err)
	} else {
		defer redisClient.Close()
		roundCache = repository.NewRoundCache(redisClient, cfg.Calendar.CacheTTL, logr)
	}

	cycleRepo := repository.NewCycleRepository(db, roundCache)
	appRepo := repository.NewApplicationRepository(db)
	jobRepo := repository.NewJobRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	reportRepo := repository.NewReportRepository(db)

	validate := validator.New()
	metricsSvc := service.NewMetricsService()
	stageSvc := service.NewStageService(cycleRepo, logr)
	cycleSvc := service.NewCycleService(cycleRepo, logr)
	rankingValidator := service.NewRankingValidator(cfg.Matching.MaxRanked)
	statusSvc := service.NewStatusService(appRepo, jobRepo, auditRepo, stageSvc, rankingValidator,
		metricsSvc, cfg.Matching.RetryAttempts, validate, logr)
	applicationSvc := service.NewApplicationService(appRepo, auditRepo, logr)
	matchingSvc := service.NewMatchingService(db, appRepo, jobRepo, auditRepo, metricsSvc,
		cfg.Matching.MaxPasses, logr)

	var exportSvc *service.ExportService
	if cfg.Reports.Enabled {
		store, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to init report storage", "error", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)
		exportSvc = service.NewExportService(reportRepo, jobRepo, store, signer, jobs.QueueConfig{
			Workers:    cfg.Reports.WorkerConcurrency,
			MaxRetries: cfg.Reports.WorkerRetries,
		}, logr)
		exportSvc.Start(ctx)
		defer exportSvc.Stop()
	}

	if cfg.Sweeper.Enabled {
		sweeper := service.NewSweeperService(cycleRepo, stageSvc, statusSvc, matchingSvc, cfg.Sweeper.Spec, logr)
		if err := sweeper.Start(ctx); err != nil {
			logr.Sugar().Fatalw("failed to start stage sweeper", "error", err)
		}
		defer sweeper.Stop()
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	metricsHandler := handler.NewMetricsHandler(metricsSvc)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	registerRoutes(r, cfg, cycleSvc, stageSvc, statusSvc, applicationSvc, matchingSvc, exportSvc, metricsSvc)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("server shutdown failed", "error", err)
	}
	logr.Sugar().Infow("server stopped")
}

func registerRoutes(r *gin.Engine, cfg *config.Config,
	cycleSvc *service.CycleService, stageSvc *service.StageService,
	statusSvc *service.StatusService, applicationSvc *service.ApplicationService,
	matchingSvc *service.MatchingService, exportSvc *service.ExportService,
	metricsSvc *service.MetricsService) {

	cycleHandler := handler.NewCycleHandler(cycleSvc, stageSvc, metricsSvc)
	applicationHandler := handler.NewApplicationHandler(applicationSvc, statusSvc)
	jobHandler := handler.NewJobHandler(statusSvc)
	matchingHandler := handler.NewMatchingHandler(matchingSvc)

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(cfg.JWT.Secret))

	cycles := api.Group("/cycles")
	{
		cycles.GET("", cycleHandler.List)
		cycles.GET("/:id", cycleHandler.Get)
		cycles.GET("/:id/rounds", cycleHandler.Rounds)
		cycles.GET("/:id/stage", cycleHandler.Stage)
		cycles.POST("/:id/matching",
			middleware.RequireRoles(models.RoleAdmin), matchingHandler.Resolve)
		cycles.GET("/:id/results", matchingHandler.Results)
	}

	applications := api.Group("/applications")
	{
		applications.GET("", applicationHandler.List)
		applications.GET("/:id", applicationHandler.Get)
		applications.GET("/:id/history",
			middleware.RequireRoles(models.RoleEmployer, models.RoleAdmin), applicationHandler.History)
		applications.POST("/:id/transitions", applicationHandler.Transition)
	}

	jobsGroup := api.Group("/jobs", middleware.RequireRoles(models.RoleEmployer, models.RoleAdmin))
	{
		jobsGroup.GET("/:id/status", jobHandler.Status)
		jobsGroup.GET("/:id/offer-decision", jobHandler.OfferDecision)
		jobsGroup.GET("/:id/rank-decision", jobHandler.RankDecision)
	}

	if exportSvc != nil {
		reportHandler := handler.NewReportHandler(exportSvc)
		reports := api.Group("/reports", middleware.RequireRoles(models.RoleAdmin))
		{
			reports.POST("", reportHandler.Request)
			reports.GET("/:id", reportHandler.Get)
		}
		// Download authenticates through the signed token itself.
		r.GET(cfg.APIPrefix+"/reports/download", reportHandler.Download)
	}
}
