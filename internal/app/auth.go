package app

import (
	"admission-gateway/internal/auth"
	"admission-gateway/internal/common/logging"
)

func (app *App) initializeAuth() {
	if app.Config.JWTSecret == "" {
		app.Logger.Info("Bearer token verification disabled (no JWT secret provided)")
		return
	}
	app.Auth = auth.New(app.Config.JWTSecret, app.RedisClient,
		app.Logger.WithFields(logging.String("component", "auth")))
	app.Logger.Info("Bearer token verification enabled")
}
