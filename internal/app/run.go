package app

import (
	"context"
	"runtime"
	"time"

	"admission-gateway/internal/common/logging"
	"admission-gateway/internal/config"

	"github.com/joho/godotenv"
)

const shutdownTimeout = 30 * time.Second

// Bootstrap loads .env, configuration and the global logger. The returned
// function flushes and closes the log output.
func Bootstrap() (*config.Config, func(), error) {
	// Load environment variables
	_ = godotenv.Load()

	cfg := config.Load()
	closer := logging.InitGlobalLogger(cfg.LogLevel, logging.FileConfig{Path: cfg.LogFile})
	cleanup := func() {
		logging.MustSync()
		_ = closer.Close()
	}

	if err := cfg.Validate(); err != nil {
		logging.Error("Configuration validation failed", err)
		cleanup()
		return nil, nil, err
	}
	return cfg, cleanup, nil
}

// Run is the main entry point of the serve command. It serves until ctx is
// done and then shuts the server down gracefully.
func Run(ctx context.Context) error {
	cfg, cleanup, err := Bootstrap()
	if err != nil {
		return err
	}
	defer cleanup()

	logging.Info("Starting admission gateway",
		logging.Int("cpus", runtime.NumCPU()),
		logging.String("version", Version),
		logging.String("environment", cfg.Environment),
	)

	// Initialize application
	app, err := New(cfg)
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}
	defer app.Cleanup()

	srv, err := app.RunServer()
	if err != nil {
		logging.Error("Failed to configure server", err)
		return err
	}
	errCh := srv.Start()

	// Wait for cancellation or a listener failure
	select {
	case <-ctx.Done():
	case err := <-errCh:
		logging.Error("Server failed", err)
		return err
	}

	logging.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("Server forced to shutdown", err)
		return err
	}

	logging.Info("Server exited")
	return nil
}
