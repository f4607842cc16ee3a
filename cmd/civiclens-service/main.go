package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"civiclens-service/internal/auth"
	"civiclens-service/internal/config"
	"civiclens-service/internal/db"
	"civiclens-service/internal/detector"
	"civiclens-service/internal/dupindex"
	httphandler "civiclens-service/internal/http"
	"civiclens-service/internal/http/middleware"
	"civiclens-service/internal/intake"
	"civiclens-service/internal/logger"
	"civiclens-service/internal/repository"
	"civiclens-service/internal/service"
	"civiclens-service/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.Environment)

	database, err := db.New(cfg, appLogger)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("failed to connect database")
	}

	reportRepo := repository.NewReportRepository(database)
	dupIndex := dupindex.New(cfg.Intake.DuplicateRadiusM)
	reportService := service.NewReportService(reportRepo, dupIndex, appLogger)

	if err := reportService.WarmIndex(context.Background()); err != nil {
		appLogger.Fatal().Err(err).Msg("failed to warm duplicate index")
	}

	// Image storage: object storage when configured, local disk otherwise.
	var images storage.ImageStore
	r2Store, err := storage.NewR2StoreFromEnv()
	switch {
	case err == nil:
		images = r2Store
		appLogger.Info().Msg("using object storage for report images")
	case errors.Is(err, storage.ErrNotConfigured):
		local, err := storage.NewLocalStore(cfg.Storage.UploadsDir)
		if err != nil {
			appLogger.Fatal().Err(err).Msg("failed to initialize local image store")
		}
		images = local
		appLogger.Info().Str("dir", local.Dir()).Msg("using local disk for report images")
	default:
		appLogger.Fatal().Err(err).Msg("failed to initialize object storage")
	}

	// The detection model is constructed once here and injected; loading is
	// asynchronous and a failed load degrades detection features instead of
	// crashing.
	model := detector.NewService(cfg.Detector.URL, appLogger)
	go func() {
		warmCtx, cancel := context.WithTimeout(context.Background(), cfg.Detector.WarmTimeout)
		defer cancel()
		model.Warm(warmCtx)
	}()

	pipeline := intake.NewPipeline(model, dupIndex, intake.Options{
		ForbiddenScore:  cfg.Intake.ForbiddenScore,
		DefaultCategory: cfg.Intake.DefaultCategory,
	}, appLogger)

	tokenParser := auth.NewParser(cfg.Auth.AccessSecret)

	handler := httphandler.NewHandler(reportService, pipeline, model, images, appLogger)
	authMiddleware := middleware.Auth(tokenParser)
	authorityMiddleware := middleware.RequireAuthority()

	uploadsDir := ""
	if local, ok := images.(*storage.LocalStore); ok {
		uploadsDir = local.Dir()
	}
	router := httphandler.NewRouter(handler, authMiddleware, authorityMiddleware, cfg.Environment, uploadsDir, database, appLogger)

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	appLogger.Info().Str("addr", addr).Msg("starting civic-lens service")

	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error().Err(err).Msg("failed to start server")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error().Err(err).Msg("server forced to shutdown")
	}

	appLogger.Info().Msg("server exited")
}
