package ratelimit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"admission-gateway/internal/admission"
	"admission-gateway/internal/config"
	store "admission-gateway/internal/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef"

type mockAdmitter struct {
	mock.Mock
}

func (m *mockAdmitter) Admit(ctx context.Context, req admission.Request) admission.Result {
	args := m.Called(req)
	return args.Get(0).(admission.Result)
}

func defaultTable(t *testing.T) *admission.PolicyTable {
	t.Helper()
	table, err := admission.NewPolicyTable(admission.DefaultPolicyFile("/api/v1", false), 1)
	require.NoError(t, err)
	return table
}

func newTestGateway(t *testing.T, admitter Admitter) *Gateway {
	t.Helper()
	identifier := admission.NewIdentifier(testSecret, config.DefaultProxyHeaders, false)
	return NewGateway(admitter, identifier, defaultTable(t), &Config{
		Enabled:   true,
		SkipPaths: config.DefaultSkipPaths,
	}, nil)
}

func okHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(h http.Handler, method, path, remote string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = remote
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestGateway_Integration(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := store.NewClient(&store.Config{Address: mr.Addr()}, nil)
	require.NoError(t, err)
	defer client.Close()

	orch := admission.NewOrchestrator(client, admission.Options{})
	handler := newTestGateway(t, orch).HTTPMiddleware(okHandler(t))

	for i := 0; i < 5; i++ {
		rec := doRequest(handler, http.MethodPost, "/api/v1/auth/login", "8.8.8.8:1000", nil)
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
		assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, strconv.Itoa(4-i), rec.Header().Get("X-RateLimit-Remaining"))
		assert.Equal(t, "low", rec.Header().Get("X-Security-Level"))
		assert.Empty(t, rec.Header().Get("X-Rate-Limit-Penalty"))
	}

	rec := doRequest(handler, http.MethodPost, "/api/v1/auth/login", "8.8.8.8:1000", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	body := decodeError(t, rec)
	assert.False(t, body.Success)
	assert.Equal(t, admission.CodeRateLimitExceeded, body.Error.Code)
	assert.Equal(t, "Too many authentication attempts. Please wait before trying again.", body.Error.Message)
	assert.Equal(t, denyDetails, body.Error.Details)
	assert.Equal(t, 1.0, body.Metadata.ProgressivePenalty)
	assert.Equal(t, "low", body.Metadata.SecurityLevel)

	// the next attempt carries the penalty
	rec = doRequest(handler, http.MethodPost, "/api/v1/auth/login", "8.8.8.8:1000", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2.0", rec.Header().Get("X-Rate-Limit-Penalty"))
	assert.Equal(t, admission.CodeProgressiveLimit, decodeError(t, rec).Error.Code)

	// other endpoints have their own bucket and policy
	rec = doRequest(handler, http.MethodGet, "/api/v1/users", "8.8.8.8:1000", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "100", rec.Header().Get("X-RateLimit-Limit"))

	rec = doRequest(handler, http.MethodGet, "/api/v1/users", "8.8.8.8:1000", map[string]string{"X-API-Key": "k"})
	assert.Equal(t, "1000", rec.Header().Get("X-RateLimit-Limit"))
}

func TestGateway_StoreDownFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := store.NewClient(&store.Config{Address: mr.Addr(), OpTimeout: 200 * time.Millisecond}, nil)
	require.NoError(t, err)
	defer client.Close()
	mr.Close()

	handler := newTestGateway(t, admission.NewOrchestrator(client, admission.Options{})).HTTPMiddleware(okHandler(t))

	for i := 0; i < 10; i++ {
		rec := doRequest(handler, http.MethodPost, "/api/v1/auth/login", "8.8.8.8:1000", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestGateway_SkipPaths(t *testing.T) {
	admitter := &mockAdmitter{}
	handler := newTestGateway(t, admitter).HTTPMiddleware(okHandler(t))

	for _, path := range []string{"/health", "/docs", "/redoc", "/openapi.json"} {
		rec := doRequest(handler, http.MethodGet, path, "8.8.8.8:1", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	}
	admitter.AssertNotCalled(t, "Admit", mock.Anything)
}

func TestGateway_Disabled(t *testing.T) {
	admitter := &mockAdmitter{}
	identifier := admission.NewIdentifier(testSecret, nil, false)
	gw := NewGateway(admitter, identifier, defaultTable(t), &Config{Enabled: false}, nil)

	rec := doRequest(gw.HTTPMiddleware(okHandler(t)), http.MethodGet, "/api/v1/users", "8.8.8.8:1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	admitter.AssertNotCalled(t, "Admit", mock.Anything)
}

func TestGateway_NoDoubleCounting(t *testing.T) {
	admitter := &mockAdmitter{}
	admitter.On("Admit", mock.Anything).Return(admission.Result{
		Allowed:   true,
		Limit:     100,
		Remaining: 99,
		ResetTime: time.Now().Add(time.Minute),
		Security:  admission.SecurityInfo{ThreatLevel: admission.ThreatLow, PenaltyMultiplier: 1},
	}).Once()

	gw := newTestGateway(t, admitter)

	var seen *admission.Result
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = admission.FromContext(r.Context())
	})
	handler := gw.HTTPMiddleware(gw.HTTPMiddleware(inner))

	doRequest(handler, http.MethodGet, "/api/v1/users", "8.8.8.8:1", nil)

	admitter.AssertNumberOfCalls(t, "Admit", 1)
	require.NotNil(t, seen)
	assert.Equal(t, 99, seen.Remaining)
}

func TestGateway_RequestShape(t *testing.T) {
	admitter := &mockAdmitter{}
	admitter.On("Admit", mock.MatchedBy(func(req admission.Request) bool {
		return req.IP == "1.1.1.1" &&
			req.Endpoint == "/api/v1/auth/forgot-password" &&
			req.Limit == 3 &&
			req.Window == time.Hour &&
			len(req.Key) > len("rate_limit::api:v1:auth:forgot-password:client:")
	})).Return(admission.Result{Allowed: true, Security: admission.SecurityInfo{ThreatLevel: admission.ThreatLow, PenaltyMultiplier: 1}})

	handler := newTestGateway(t, admitter).HTTPMiddleware(okHandler(t))
	rec := doRequest(handler, http.MethodPost, "/api/v1/auth/forgot-password", "10.0.0.1:1",
		map[string]string{"X-Forwarded-For": "1.1.1.1, 10.0.0.1"})

	assert.Equal(t, http.StatusOK, rec.Code)
	admitter.AssertExpectations(t)
}

func TestGateway_DenyMessages(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		security    admission.SecurityInfo
		reset       time.Time
		wantCode    string
		wantMessage string
		wantPenalty string
		wantRetry   string
	}{
		{
			name:        "blacklisted",
			security:    admission.SecurityInfo{ThreatLevel: admission.ThreatCritical, Blacklisted: true, PenaltyMultiplier: 1},
			reset:       now.Add(time.Hour),
			wantCode:    admission.CodeIPBlacklisted,
			wantMessage: blacklistedMessage,
			wantRetry:   "3600",
		},
		{
			name:        "heavy penalty",
			security:    admission.SecurityInfo{ThreatLevel: admission.ThreatMedium, PenaltyMultiplier: 4},
			reset:       now.Add(2 * time.Minute),
			wantCode:    admission.CodeProgressiveLimit,
			wantMessage: "Rate limit exceeded with 4.0x penalty due to repeated violations.",
			wantPenalty: "4.0",
			wantRetry:   "120",
		},
		{
			name:        "light penalty keeps policy message",
			security:    admission.SecurityInfo{ThreatLevel: admission.ThreatLow, PenaltyMultiplier: 2},
			reset:       now.Add(30 * time.Second),
			wantCode:    admission.CodeProgressiveLimit,
			wantMessage: "Too many requests. Please try again later.",
			wantPenalty: "2.0",
			wantRetry:   "30",
		},
		{
			name:        "suspicious",
			security:    admission.SecurityInfo{ThreatLevel: admission.ThreatHigh, IsSuspicious: true, PenaltyMultiplier: 8},
			reset:       now.Add(-time.Second),
			wantCode:    admission.CodeSuspiciousActivity,
			wantMessage: "Rate limit exceeded with 8.0x penalty due to repeated violations.",
			wantPenalty: "8.0",
			wantRetry:   "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			admitter := &mockAdmitter{}
			admitter.On("Admit", mock.Anything).Return(admission.Result{
				Allowed:   false,
				Limit:     100,
				ResetTime: tt.reset,
				Security:  tt.security,
			})

			gw := newTestGateway(t, admitter)
			gw.now = func() time.Time { return now }

			rec := doRequest(gw.HTTPMiddleware(okHandler(t)), http.MethodGet, "/api/v1/users", "8.8.8.8:1", nil)
			require.Equal(t, http.StatusTooManyRequests, rec.Code)
			assert.Equal(t, tt.wantRetry, rec.Header().Get("Retry-After"))
			assert.Equal(t, tt.wantPenalty, rec.Header().Get("X-Rate-Limit-Penalty"))
			assert.Equal(t, string(tt.security.ThreatLevel), rec.Header().Get("X-Security-Level"))
			assert.Equal(t, strconv.FormatInt(tt.reset.Unix(), 10), rec.Header().Get("X-RateLimit-Reset"))

			body := decodeError(t, rec)
			assert.Equal(t, tt.wantCode, body.Error.Code)
			assert.Equal(t, tt.wantMessage, body.Error.Message)
			assert.Equal(t, tt.reset.Unix(), body.Metadata.ResetTime)
			assert.Equal(t, "2025-03-01T12:00:00Z", body.Metadata.Timestamp)
		})
	}
}
