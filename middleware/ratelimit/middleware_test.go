package ratelimit

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ai-gateway/internal/apierror"
	"ai-gateway/middleware/ratelimit/application"
	"ai-gateway/middleware/ratelimit/domain"
	"ai-gateway/middleware/ratelimit/infra"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tightService() application.Service {
	return application.Service{
		Local:  infra.NewLocalLimiter(),
		Limits: func() domain.Limits { return domain.Limits{PerMinute: 1, PerHour: 10} },
		Prefix: "test:",
	}
}

func serve(h http.Handler, remote string, headers map[string]string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "http://example/api/ai/status", nil)
	r.RemoteAddr = remote
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestMiddleware_AllowsThenRejectsSameKey(t *testing.T) {
	svc := tightService()
	stats := infra.NewMemoryStatsStore()

	calls := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})

	h := Middleware(Options{
		Limiter:             svc,
		Stats:               stats,
		AddRateLimitHeaders: true,
	})(next)

	w1 := serve(h, "10.0.0.1:1234", nil)
	require.Equal(t, http.StatusOK, w1.Code)
	assert.Equal(t, "1", w1.Header().Get(HeaderLimitPerMinute))
	assert.Equal(t, "10", w1.Header().Get(HeaderLimitPerHour))

	w2 := serve(h, "10.0.0.1:1234", nil)
	require.Equal(t, http.StatusTooManyRequests, w2.Code)
	assert.Equal(t, "60", w2.Header().Get(HeaderRetryAfter))
	assert.Equal(t, "1", w2.Header().Get(HeaderLimitPerMinute))

	var body apierror.Response
	require.NoError(t, json.NewDecoder(w2.Body).Decode(&body))
	assert.Equal(t, apierror.CodeRateLimited, body.Error.Code)
	assert.NotEmpty(t, body.Error.RequestID)

	assert.Equal(t, 1, calls)
	assert.Eventually(t, func() bool {
		return stats.Total() == infra.Counters{Allowed: 1, Denied: 1}
	}, time.Second, 5*time.Millisecond)
}

func TestMiddleware_KeyByHeader(t *testing.T) {
	h := Middleware(Options{
		Limiter:   tightService(),
		KeyHeader: "X-Api-Key",
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// duas chaves diferentes => ambos devem passar (cada chave tem seu próprio bucket)
	assert.Equal(t, http.StatusOK, serve(h, "10.0.0.1:1234", map[string]string{"X-Api-Key": "k1"}).Code)
	assert.Equal(t, http.StatusOK, serve(h, "10.0.0.1:1234", map[string]string{"X-Api-Key": "k2"}).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, "10.0.0.1:1234", map[string]string{"X-Api-Key": "k1"}).Code)
}

func TestMiddleware_DifferentAddressesAreIndependent(t *testing.T) {
	h := Middleware(Options{Limiter: tightService()})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	assert.Equal(t, http.StatusOK, serve(h, "10.0.0.1:1234", nil).Code)
	assert.Equal(t, http.StatusOK, serve(h, "10.0.0.2:1234", nil).Code)
}

func TestMiddleware_NilLimiterPassesThrough(t *testing.T) {
	h := Middleware(Options{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	assert.Equal(t, http.StatusNoContent, serve(h, "10.0.0.1:1234", nil).Code)
}

func TestWriteRateLimited_MinimumOneSecond(t *testing.T) {
	w := httptest.NewRecorder()
	WriteRateLimited(w, httptest.NewRequest(http.MethodGet, "/", nil), domain.Decision{Allowed: false})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get(HeaderRetryAfter))
}
