package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/NxTech4021/dl-backend-sub004/config"
	"github.com/NxTech4021/dl-backend-sub004/db"
	"github.com/NxTech4021/dl-backend-sub004/handlers"
	"github.com/NxTech4021/dl-backend-sub004/realtime"
	"github.com/NxTech4021/dl-backend-sub004/repositories"
	"github.com/NxTech4021/dl-backend-sub004/routes"
	"github.com/NxTech4021/dl-backend-sub004/services"
	"github.com/NxTech4021/dl-backend-sub004/storage"
	"github.com/NxTech4021/dl-backend-sub004/workers"
)

const migrationsDir = "migrations"

func main() {
	// Настройка логгера
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("configuration loaded", slog.Int("port", cfg.ServerPort))

	// Подключение к базе данных
	dbConn, err := db.Connect(context.Background(), cfg.DatabaseURL, 5*time.Second)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if closeErr := dbConn.Close(); closeErr != nil {
			logger.Error("failed to close database connection", slog.Any("error", closeErr))
		}
	}()
	logger.Info("database connection established")

	if err = db.RunMigrations(dbConn, migrationsDir); err != nil {
		logger.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("migrations applied")

	// Инициализация архива превью (Cloudflare R2)
	previewArchive, err := storage.NewCloudflareR2Uploader(storage.CloudflareR2UploaderConfig{
		AccountID:       cfg.R2AccountID,
		AccessKeyID:     cfg.R2AccessKeyID,
		SecretAccessKey: cfg.R2SecretAccessKey,
		BucketName:      cfg.R2BucketName,
		PublicBaseURL:   cfg.R2PublicBaseURL,
	})
	if err != nil {
		logger.Error("failed to initialize Cloudflare R2 uploader", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Cloudflare R2 uploader initialized")

	// Инициализация WebSocket Hub
	wsHub := realtime.NewHub(logger)
	go wsHub.Run()
	logger.Info("WebSocket hub started")

	// Инициализация репозиториев
	txRunner := repositories.NewTxRunner(dbConn)
	matchRepo := repositories.NewPostgresMatchRepository(dbConn)
	participantRepo := repositories.NewPostgresParticipantRepository(dbConn)
	scoreRepo := repositories.NewPostgresScoreRepository(dbConn)
	ratingRepo := repositories.NewPostgresRatingRepository(dbConn)
	disputeRepo := repositories.NewPostgresDisputeRepository(dbConn)
	queueRepo := repositories.NewPostgresQueueRepository(dbConn)
	outboxRepo := repositories.NewPostgresOutboxRepository(dbConn)
	recalcRepo := repositories.NewPostgresRecalculationRepository(dbConn)
	adjustmentRepo := services.NewPostgresAdjustmentRepository(dbConn)
	logger.Info("repositories initialized")

	// Инициализация сервисов
	seed := repositories.RatingSeed{
		Rating:     cfg.RatingSeed,
		Deviation:  cfg.RatingSeedDeviation,
		Volatility: cfg.RatingSeedVolatility,
	}
	skillModel := services.NewGlicko2Model(services.Glicko2Config{
		Tau:            cfg.RatingTau,
		DeviationFloor: cfg.RatingDeviationFloor,
	})
	ratingEngine := services.NewRatingEngine(skillModel, services.EngineConfig{
		Seed:                 seed,
		ProvisionalThreshold: cfg.ProvisionalThreshold,
		WalkoverWeight:       cfg.WalkoverWeight,
	})

	lifecycleService := services.NewMatchLifecycleService(
		txRunner, matchRepo, participantRepo, scoreRepo, disputeRepo, queueRepo, outboxRepo, logger)
	queryService := services.NewRatingQueryService(ratingRepo)
	adjustmentService := services.NewAdjustmentService(txRunner, ratingRepo, adjustmentRepo, outboxRepo, seed)
	recalcService := services.NewRecalculationService(
		txRunner, recalcRepo, matchRepo, participantRepo, ratingRepo, outboxRepo,
		ratingEngine, previewArchive,
		services.RecalcConfig{Seed: seed, PreviewTimeout: cfg.RecalcPreviewTimeout},
		logger)
	logger.Info("services initialized")

	// Фоновые воркеры
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	ratingWorker := workers.NewRatingWorker(
		txRunner, queueRepo, matchRepo, participantRepo, ratingRepo, outboxRepo,
		ratingEngine, logger, cfg.RatingWorkerInterval, cfg.RatingWorkerBatch)
	go ratingWorker.Start(workerCtx)

	outboxWorker := workers.NewOutboxWorker(outboxRepo, wsHub, logger, cfg.OutboxWorkerInterval, cfg.OutboxWorkerBatch)
	go outboxWorker.Start(workerCtx)

	sweeper, err := workers.NewRecalcSweeper(recalcService, logger, cfg.RecalcSweepInterval, cfg.RecalcSweepMaxAge)
	if err != nil {
		logger.Error("failed to create recalculation sweeper", slog.Any("error", err))
		os.Exit(1)
	}
	if err = sweeper.Start(workerCtx); err != nil {
		logger.Error("failed to start recalculation sweeper", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if stopErr := sweeper.Stop(); stopErr != nil {
			logger.Error("failed to stop recalculation sweeper", slog.Any("error", stopErr))
		}
	}()

	// Инициализация обработчиков HTTP
	router := routes.InitRoutes(routes.Handlers{
		Match:     handlers.NewMatchHandler(lifecycleService),
		Rating:    handlers.NewRatingHandler(queryService, adjustmentService),
		Recalc:    handlers.NewRecalculationHandler(recalcService),
		Dispute:   handlers.NewDisputeHandler(lifecycleService),
		WebSocket: handlers.NewWebSocketHandler(wsHub, cfg.AllowedOrigins, logger),
	}, cfg.JWTSecretKey, cfg.AllowedOrigins)
	logger.Info("routes configured")

	// Настройка и запуск HTTP-сервера
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("address", server.Addr))
		serverErrors <- server.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err = <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("server stopped gracefully")
	case sig := <-quit:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
		stopWorkers()

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancelShutdown()

		if err = server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", slog.Any("error", err))
			if closeErr := server.Close(); closeErr != nil {
				logger.Error("failed to force close server", slog.Any("error", closeErr))
			}
		} else {
			logger.Info("server shut down gracefully")
		}
	}
}
