package app

import (
	"net/http"
	"strings"

	"admission-gateway/internal/auth"
	"admission-gateway/internal/handlers"
	"admission-gateway/internal/middleware"
	"admission-gateway/internal/ratelimit"

	"github.com/gorilla/mux"
)

// SetupRoutes configures all HTTP routes for the application. Everything but
// the health check runs through bearer token identification (when enabled),
// then admission control, then rejection of bad tokens; admitted requests
// reach upstream.
func SetupRoutes(router *mux.Router, h *handlers.Handlers, authn *auth.Auth, gateway *ratelimit.Gateway, apiPrefix string, upstream http.Handler) {
	router.Use(middleware.RequestID)
	router.Use(middleware.LoggingMiddleware)

	// Health check (never admission limited)
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")

	protected := router.NewRoute().Subrouter()
	if authn != nil {
		protected.Use(authn.Middleware)
	}
	protected.Use(gateway.HTTPMiddleware)
	if authn != nil {
		protected.Use(authn.Reject)
	}

	if authn != nil {
		prefix := strings.TrimSuffix(apiPrefix, "/")
		protected.HandleFunc(prefix+"/auth/logout", authn.LogoutHandler).Methods("POST")
	}

	// Everything else is proxied
	protected.PathPrefix("/").Handler(upstream)
}
