package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EpicMandM/esxi-snapshot-service/internal/app"
	"github.com/EpicMandM/esxi-snapshot-service/internal/config"
	"github.com/EpicMandM/esxi-snapshot-service/internal/logger"
)

const shutdownTimeout = 15 * time.Second

type server struct {
	logger *logger.Logger
	app    *app.App
	http   *http.Server
}

func main() {
	s := &server{logger: logger.New()}
	defer func() { _ = s.logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.run(ctx); err != nil {
		s.logger.Error("Application error", logger.Error(err))
		os.Exit(1)
	}
}

func (s *server) run(ctx context.Context) error {
	if err := s.initialize(ctx); err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := s.app.Close(closeCtx); err != nil {
			s.logger.Error("Failed to close application", logger.Error(err))
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", logger.Action("startup"), logger.F("ADDR", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down", logger.Action("shutdown"))
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func (s *server) initialize(ctx context.Context) error {
	configPath := getEnvOrDefault("CONFIG_PATH", "./data/config.toml")
	featureCfg, err := config.LoadFeatureConfig(configPath)
	if err != nil {
		s.logger.Error("Failed to load feature config", logger.Error(err), logger.F("path", configPath))
		return err
	}

	envPath := getEnvOrDefault("ENV_FILE", ".env")
	infraCfg, err := config.LoadWithFile(envPath)
	if err != nil {
		s.logger.Error("Failed to load infrastructure config", logger.Error(err), logger.F("path", envPath))
		return err
	}

	s.app = app.New(infraCfg, featureCfg, s.logger)
	if err := s.app.Initialize(ctx); err != nil {
		s.logger.Error("Failed to initialize VMware service", logger.Error(err))
		if cerr := s.app.Close(context.WithoutCancel(ctx)); cerr != nil {
			s.logger.Warn("Failed to release partial startup", logger.Error(cerr))
		}
		return err
	}

	handler, err := s.app.Handler()
	if err != nil {
		return err
	}
	s.http = &http.Server{
		Addr:              featureCfg.Server.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
