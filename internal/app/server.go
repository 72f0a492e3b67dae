package app

import (
	"net/http"
	"net/url"

	"admission-gateway/internal/common/errors"
	"admission-gateway/internal/common/logging"
	"admission-gateway/internal/handlers"
	"admission-gateway/internal/server"

	"github.com/gorilla/mux"
)

// Version is reported by the health check
var Version = "1.0.0"

// Handler builds the routed HTTP handler
func (app *App) Handler() (http.Handler, error) {
	h := handlers.New(app.RedisClient, Version, app.Logger.WithFields(logging.String("component", "handlers")))

	upstream := http.Handler(http.HandlerFunc(h.Echo))
	if app.Config.UpstreamURL != "" {
		target, err := url.Parse(app.Config.UpstreamURL)
		if err != nil || target.Scheme == "" || target.Host == "" {
			return nil, errors.ConfigError("UPSTREAM_URL must be an absolute URL").
				WithContext("upstream_url", app.Config.UpstreamURL)
		}
		upstream = h.Upstream(target)
		app.Logger.Info("Proxying admitted requests", logging.String("upstream", target.String()))
	} else {
		app.Logger.Info("No upstream configured, serving the built-in echo handler")
	}

	router := mux.NewRouter()
	SetupRoutes(router, h, app.Auth, app.Gateway, app.Config.APIPrefix, upstream)
	return router, nil
}

// RunServer creates the HTTP server with all handlers configured
func (app *App) RunServer() (*server.Server, error) {
	handler, err := app.Handler()
	if err != nil {
		return nil, err
	}
	return server.New(handler, app.Config.Port, app.Logger), nil
}
