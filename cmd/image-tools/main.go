package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/wb-go/wbf/zlog"

	"github.com/glebkudr/image-tools/internal/api/handlers/image"
	"github.com/glebkudr/image-tools/internal/api/router"
	"github.com/glebkudr/image-tools/internal/api/server"
	"github.com/glebkudr/image-tools/internal/config"
	"github.com/glebkudr/image-tools/internal/processor"
	imagesvc "github.com/glebkudr/image-tools/internal/service/image"
	filestore "github.com/glebkudr/image-tools/internal/storage/file"
	miniostore "github.com/glebkudr/image-tools/internal/storage/minio"
)

func main() {
	// Context & signals: used for graceful shutdown on system interrupts.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize logger and load application configuration.
	zlog.Init()
	cfg := config.MustLoad("./config/config.yml")

	// Initialize the transient artifact store. Directory or bucket
	// creation is an idempotent bootstrap step owned here, not by request
	// handling.
	var store imagesvc.FileStorage
	var err error

	switch cfg.Storage.Backend {
	case "minio":
		store, err = miniostore.NewStorage(
			ctx,
			cfg.Storage.Minio.Endpoint,
			cfg.Storage.Minio.AccessKey,
			cfg.Storage.Minio.SecretKey,
			cfg.Storage.Minio.BucketName,
			cfg.Storage.Minio.UseSSL,
		)
	default:
		store, err = filestore.NewStorage(cfg.Storage.BaseDir)
	}
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to initialize storage")
	}

	// Initialize processor, service layer and HTTP handler.
	p := processor.New(cfg.Watermark.FontPath)
	service := imagesvc.NewService(store, p, cfg.Server.BaseURL, cfg.Storage.CleanupDelay)

	imgHandler := image.NewHandler(service, image.Limits{
		MaxFileSize:  cfg.Upload.MaxFileSize,
		MaxBulkFiles: cfg.Upload.MaxBulkFiles,
	})

	// Start HTTP server.
	r := router.Setup(imgHandler)
	s := server.New(cfg.Server.HTTPPort, r)
	go func() {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	zlog.Logger.Info().Str("addr", cfg.Server.HTTPPort).Msg("server started")

	// Block until context is canceled (SIGINT/SIGTERM).
	<-ctx.Done()
	zlog.Logger.Info().Msg("context done")

	// Graceful shutdown with timeout for HTTP server.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	zlog.Logger.Info().Msg("shutting down server")
	if err := s.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
		zlog.Logger.Info().Msg("timeout exceeded, forcing shutdown")
	}
}
