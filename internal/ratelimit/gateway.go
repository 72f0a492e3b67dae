// Package ratelimit mounts admission control on an HTTP handler chain. It
// resolves the policy for each request, asks the orchestrator for a decision
// and renders rate limit headers or a 429 response.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"admission-gateway/internal/admission"
	"admission-gateway/internal/common/logging"
)

const (
	blacklistedMessage = "Access temporarily restricted due to security policy violations."
	denyDetails        = "Rate limit exceeded. Please reduce request frequency."
)

// Admitter takes one admission decision
type Admitter interface {
	Admit(ctx context.Context, req admission.Request) admission.Result
}

type Config struct {
	Enabled bool `json:"enabled"`
	// SkipPaths bypass admission entirely
	SkipPaths []string `json:"skip_paths"`
}

type Gateway struct {
	admitter   Admitter
	identifier *admission.Identifier
	policies   *admission.PolicyTable
	skip       map[string]bool
	config     *Config
	logger     logging.Logger
	now        func() time.Time
}

func NewGateway(admitter Admitter, identifier *admission.Identifier, policies *admission.PolicyTable, config *Config, logger logging.Logger) *Gateway {
	if config == nil {
		config = &Config{Enabled: true}
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	skip := make(map[string]bool, len(config.SkipPaths))
	for _, p := range config.SkipPaths {
		skip[p] = true
	}

	return &Gateway{
		admitter:   admitter,
		identifier: identifier,
		policies:   policies,
		skip:       skip,
		config:     config,
		logger:     logger,
		now:        time.Now,
	}
}

// ErrorResponse is the body of a 429 response
type ErrorResponse struct {
	Success  bool          `json:"success"`
	Error    ErrorDetail   `json:"error"`
	Metadata ErrorMetadata `json:"metadata"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
}

type ErrorMetadata struct {
	RetryAfter         int64   `json:"retry_after"`
	ResetTime          int64   `json:"reset_time"`
	SecurityLevel      string  `json:"security_level"`
	ProgressivePenalty float64 `json:"progressive_penalty"`
	Timestamp          string  `json:"timestamp"`
}

// HTTPMiddleware admits every request that is not skipped and has not been
// admitted further up the chain.
func (g *Gateway) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.config.Enabled || g.skip[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		if _, done := admission.FromContext(r.Context()); done {
			next.ServeHTTP(w, r)
			return
		}

		path := r.URL.Path
		policy := g.policies.Match(path, r.Header.Get("X-API-Key") != "")
		identity := g.identifier.Identify(r)

		result := g.admitter.Admit(r.Context(), admission.Request{
			Key:      admission.BucketKey(path, identity.Key),
			IP:       identity.IP,
			Endpoint: path,
			Limit:    policy.MaxRequests,
			Window:   policy.Window(),
		})

		setHeaders(w.Header(), policy, result)

		if !result.Allowed {
			g.deny(w, r, policy, identity, result)
			return
		}

		next.ServeHTTP(w, r.WithContext(admission.WithResult(r.Context(), &result)))
	})
}

func setHeaders(h http.Header, policy admission.Policy, result admission.Result) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(policy.MaxRequests))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetTime.Unix(), 10))
	h.Set("X-Security-Level", string(result.Security.ThreatLevel))
	if result.Security.PenaltyMultiplier > 1 {
		h.Set("X-Rate-Limit-Penalty", formatPenalty(result.Security.PenaltyMultiplier))
	}
}

func (g *Gateway) deny(w http.ResponseWriter, r *http.Request, policy admission.Policy, identity admission.Identity, result admission.Result) {
	now := g.now()
	retryAfter := result.ResetTime.Unix() - now.Unix()
	if retryAfter < 0 {
		retryAfter = 0
	}
	code := result.ErrorCode()

	g.logger.WithContext(r.Context()).Warn("Request denied by admission control",
		logging.String("client_id", identity.Key),
		logging.String("client_ip", identity.IP),
		logging.String("endpoint", r.URL.Path),
		logging.String("policy", policy.Name),
		logging.Int("limit", policy.MaxRequests),
		logging.String("error_code", code),
		logging.Int64("retry_after", retryAfter),
	)

	body := ErrorResponse{
		Success: false,
		Error: ErrorDetail{
			Code:    code,
			Message: denyMessage(policy, result),
			Details: denyDetails,
		},
		Metadata: ErrorMetadata{
			RetryAfter:         retryAfter,
			ResetTime:          result.ResetTime.Unix(),
			SecurityLevel:      string(result.Security.ThreatLevel),
			ProgressivePenalty: result.Security.PenaltyMultiplier,
			Timestamp:          now.UTC().Format(time.RFC3339),
		},
	}

	w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(body)
}

func denyMessage(policy admission.Policy, result admission.Result) string {
	switch {
	case result.Security.Blacklisted:
		return blacklistedMessage
	case result.Security.PenaltyMultiplier > 2:
		return fmt.Sprintf("Rate limit exceeded with %sx penalty due to repeated violations.",
			formatPenalty(result.Security.PenaltyMultiplier))
	default:
		return policy.Message
	}
}

func formatPenalty(multiplier float64) string {
	return strconv.FormatFloat(multiplier, 'f', 1, 64)
}
