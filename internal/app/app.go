package app

import (
	"admission-gateway/internal/admission"
	"admission-gateway/internal/auth"
	"admission-gateway/internal/common/logging"
	"admission-gateway/internal/config"
	"admission-gateway/internal/ratelimit"
	"admission-gateway/internal/redis"
)

// App holds all the application dependencies
type App struct {
	Config       *config.Config
	RedisClient  *redis.Client
	Tuning       admission.Tuning
	Policies     *admission.PolicyTable
	Orchestrator *admission.Orchestrator
	Identifier   *admission.Identifier
	Gateway      *ratelimit.Gateway
	Auth         *auth.Auth
	Logger       logging.Logger
}

// New creates a new application instance with all dependencies
func New(cfg *config.Config) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logging.GetGlobalLogger().WithFields(logging.String("component", "app")),
	}

	// Initialize components in order of dependency
	if err := app.initializeRedis(); err != nil {
		return nil, err
	}

	if err := app.initializeAdmission(); err != nil {
		app.Cleanup()
		return nil, err
	}

	app.initializeAuth()

	return app, nil
}

// Cleanup releases all resources
func (app *App) Cleanup() {
	if app.RedisClient != nil {
		if err := app.RedisClient.Close(); err != nil {
			app.Logger.Warn("Error closing Redis client", logging.Err(err))
		}
	}
}
