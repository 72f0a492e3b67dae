// Package handlers serves the host surface behind admission control: the
// health check, a built-in echo endpoint and the upstream reverse proxy.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"admission-gateway/internal/admission"
	"admission-gateway/internal/circuitbreaker"
	"admission-gateway/internal/common/logging"
	"admission-gateway/internal/requestctx"
)

const healthTimeout = 2 * time.Second

// StoreHealth is the part of the shared store the health check reports on
type StoreHealth interface {
	Health(ctx context.Context) error
	BreakerStats() circuitbreaker.Stats
}

type Handlers struct {
	store   StoreHealth
	version string
	logger  logging.Logger
}

func New(store StoreHealth, version string, logger logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Handlers{
		store:   store,
		version: version,
		logger:  logger,
	}
}

// HealthCheck reports store reachability and circuit breaker state. An
// unreachable store is reported as degraded, not failed: admission keeps
// serving by failing open.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   h.version,
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := h.store.Health(ctx); err != nil {
		status["status"] = "degraded"
		status["store_status"] = "unhealthy"
		status["store_error"] = err.Error()
	} else {
		status["store_status"] = "healthy"
	}

	breaker := h.store.BreakerStats()
	status["circuit_breaker"] = breaker
	if breaker.State != circuitbreaker.StateClosed.String() {
		status["status"] = "degraded"
	}

	writeJSON(w, http.StatusOK, status)
}

// Echo describes the admitted request back to the caller
func (h *Handlers) Echo(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"method":     r.Method,
		"path":       r.URL.Path,
		"request_id": requestctx.RequestID(r.Context()),
	}
	if userID := requestctx.UserID(r.Context()); userID != "" {
		body["user_id"] = userID
	}
	if result, ok := admission.FromContext(r.Context()); ok {
		body["admission"] = map[string]interface{}{
			"limit":           result.Limit,
			"effective_limit": result.EffectiveLimit,
			"remaining":       result.Remaining,
			"reset_time":      result.ResetTime.Unix(),
			"fail_open":       result.FailOpen,
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// Upstream returns a reverse proxy to target. Admission headers set earlier
// in the chain are kept on the proxied response.
func (h *Handlers) Upstream(target *url.URL) http.Handler {
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		h.logger.WithContext(r.Context()).Error("Upstream request failed", err,
			logging.String("upstream", target.Host),
			logging.String("path", r.URL.Path),
		)
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"success": false,
			"error": map[string]string{
				"code":    "UPSTREAM_UNAVAILABLE",
				"message": "The upstream service is unavailable.",
			},
		})
	}
	return proxy
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
