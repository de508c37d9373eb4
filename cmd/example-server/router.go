package main

import (
	"context"
	"encoding/json"
	"net/http"

	"ai-gateway/internal/apierror"
	"ai-gateway/internal/config"
	authapp "ai-gateway/middleware/auth/application"
	authinfra "ai-gateway/middleware/auth/infra"
	"ai-gateway/middleware/gate"
	"ai-gateway/middleware/ratelimit"
	rlapp "ai-gateway/middleware/ratelimit/application"
	"ai-gateway/middleware/ratelimit/infra"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// statsResponse é o que /stats devolve: contadores da gate desde o start.
type statsResponse struct {
	Total     infra.Counters            `json:"total"`
	ByBackend map[string]infra.Counters `json:"by_backend"`
	ByRoute   map[string]infra.Counters `json:"by_route"`
}

func newRouter(ctx context.Context, cfg *config.Config, logger *zap.Logger) http.Handler {
	local := infra.NewLocalLimiter()
	local.StartJanitor(ctx)
	limiter := rlapp.Service{Local: local, Limits: cfg.Limits, Logger: logger}
	stats := infra.NewMemoryStatsStore()

	client := &http.Client{Timeout: cfg.Auth.HTTPTimeout}
	resolver := authapp.NewResolver(authapp.Config{
		Secret:    cfg.Auth.Secret,
		IssuerURL: cfg.Auth.IssuerURL,
		PublicKey: cfg.Auth.PublicKey,
		Audiences: cfg.Auth.Audiences,
		Issuer:    cfg.Auth.Issuer,
	}, authinfra.NewJWKSCache(
		authinfra.WithJWKSURL(cfg.Auth.JWKSURL),
		authinfra.WithJWKSHTTPClient(client),
		authinfra.WithJWKSLogger(logger),
	), authinfra.NewHTTPIntrospector(client, logger), authapp.WithLogger(logger))

	g := &gate.Gate{
		Resolver: resolver,
		Limiter:  limiter,
		Required: cfg.AuthRequired(),
		Stats:    stats,
		Logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(apierror.RequestID)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, statsResponse{
			Total:     stats.Total(),
			ByBackend: stats.ByBackend(),
			ByRoute:   stats.ByRoute(),
		})
	})
	r.Group(func(r chi.Router) {
		r.Use(gate.Middleware(gate.Options{
			Gate:               g,
			TrustXForwardedFor: cfg.TrustXFF,
			Bypass:             gate.APIKeyBypass(cfg.APISecretKey),
		}))
		r.Use(ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{Max: 50}))
		r.Post("/api/ai/ask", func(w http.ResponseWriter, r *http.Request) {
			user, _ := gate.UserID(r.Context())
			writeJSON(w, map[string]string{"answer": "ok", "user": user})
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
