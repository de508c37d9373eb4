package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ai-gateway/internal/apierror"
	"ai-gateway/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "gateway-test-secret"

func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/ai/ask", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"user":    r.Header.Get(AuthenticatedUserHeader),
			"api_key": r.Header.Get("X-API-Key"),
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestApp(t *testing.T, settings map[string]any) (*app, http.Handler) {
	t.Helper()
	v := viper.New()
	for k, val := range settings {
		v.Set(k, val)
	}
	cfg, err := config.FromViper(v)
	require.NoError(t, err)

	a, err := newApp(t.Context(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.close)
	return a, a.routes()
}

func signHS256(t *testing.T, sub string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"aud": "authenticated",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	s, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func do(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGateway_Health(t *testing.T) {
	up := newUpstream(t)
	_, h := newTestApp(t, map[string]any{"upstream_url": up.URL})

	rec := do(h, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestGateway_Status(t *testing.T) {
	up := newUpstream(t)
	_, h := newTestApp(t, map[string]any{
		"upstream_url":             up.URL,
		"auth.secret":              testSecret,
		"ai.rate_limit_per_minute": 7,
		"ai.rate_limit_per_hour":   70,
	})

	rec := do(h, httptest.NewRequest(http.MethodGet, "/api/ai/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Limit-Minute"))

	var body statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.UpstreamReachable)
	assert.True(t, body.RequireAuth)
	assert.True(t, body.AuthConfigured)
	assert.False(t, body.DistributedRateLimit)
	assert.Equal(t, rateLimitsStatus{PerMinute: 7, PerHour: 70}, body.RateLimits)
}

func TestGateway_ProxyForwardsVerifiedUser(t *testing.T) {
	up := newUpstream(t)
	_, h := newTestApp(t, map[string]any{
		"upstream_url": up.URL,
		"auth.secret":  testSecret,
	})

	req := httptest.NewRequest(http.MethodPost, "/api/ai/ask", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer "+signHS256(t, "user-42"))
	// valor forjado pelo cliente não pode chegar ao upstream
	req.Header.Set(AuthenticatedUserHeader, "admin")

	rec := do(h, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "user-42", body["user"])
}

func TestGateway_MissingTokenIsUnauthorized(t *testing.T) {
	up := newUpstream(t)
	_, h := newTestApp(t, map[string]any{
		"upstream_url": up.URL,
		"auth.secret":  testSecret,
	})

	rec := do(h, httptest.NewRequest(http.MethodPost, "/api/ai/ask", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var body apierror.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, apierror.CodeUnauthorized, body.Error.Code)
	assert.NotEmpty(t, body.Error.RequestID)
}

func TestGateway_APIKeyBypass(t *testing.T) {
	up := newUpstream(t)
	_, h := newTestApp(t, map[string]any{
		"upstream_url":   up.URL,
		"auth.secret":    testSecret,
		"api_secret_key": "k3y",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/ai/ask", nil)
	req.Header.Set("X-API-Key", "k3y")
	rec := do(h, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body["user"])
	assert.Empty(t, body["api_key"], "api key must not leak upstream")
}

func TestGateway_RateLimited(t *testing.T) {
	up := newUpstream(t)
	_, h := newTestApp(t, map[string]any{
		"upstream_url":             up.URL,
		"auth.required":            "false",
		"ai.rate_limit_per_minute": 1,
		"ai.rate_limit_per_hour":   10,
	})

	first := do(h, httptest.NewRequest(http.MethodPost, "/api/ai/ask", nil))
	require.Equal(t, http.StatusOK, first.Code)

	second := do(h, httptest.NewRequest(http.MethodPost, "/api/ai/ask", nil))
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "60", second.Header().Get("Retry-After"))
	assert.Equal(t, "1", second.Header().Get("X-RateLimit-Limit-Minute"))
}

func TestGateway_MetricsExposeDecisions(t *testing.T) {
	up := newUpstream(t)
	_, h := newTestApp(t, map[string]any{
		"upstream_url":  up.URL,
		"auth.required": "false",
	})

	do(h, httptest.NewRequest(http.MethodPost, "/api/ai/ask", nil))

	require.Eventually(t, func() bool {
		rec := do(h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		b, _ := io.ReadAll(rec.Body)
		return strings.Contains(string(b), `aigate_ratelimit_decisions_total{backend="local",enforced="true",result="allowed"} 1`)
	}, 2*time.Second, 20*time.Millisecond)
}

func TestGateway_UpstreamDown(t *testing.T) {
	up := newUpstream(t)
	url := up.URL
	up.Close()

	_, h := newTestApp(t, map[string]any{
		"upstream_url":  url,
		"auth.required": "false",
	})

	rec := do(h, httptest.NewRequest(http.MethodPost, "/api/ai/ask", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	status := do(h, httptest.NewRequest(http.MethodGet, "/api/ai/status", nil))
	var body statusResponse
	require.NoError(t, json.Unmarshal(status.Body.Bytes(), &body))
	assert.False(t, body.UpstreamReachable)
}

func TestNewApp_StatsRequireRedis(t *testing.T) {
	v := viper.New()
	v.Set("upstream_url", "http://127.0.0.1:1")
	v.Set("stats.enabled", "true")
	cfg, err := config.FromViper(v)
	require.NoError(t, err)

	_, err = newApp(t.Context(), cfg, zap.NewNop())
	require.Error(t, err)
}

func TestNewApp_InvalidUpstream(t *testing.T) {
	v := viper.New()
	v.Set("upstream_url", "not a url")
	cfg, err := config.FromViper(v)
	require.NoError(t, err)

	_, err = newApp(t.Context(), cfg, zap.NewNop())
	require.Error(t, err)
}
