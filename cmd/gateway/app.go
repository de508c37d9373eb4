package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"ai-gateway/internal/apierror"
	"ai-gateway/internal/config"
	authapp "ai-gateway/middleware/auth/application"
	authinfra "ai-gateway/middleware/auth/infra"
	"ai-gateway/middleware/gate"
	"ai-gateway/middleware/ratelimit"
	rlapp "ai-gateway/middleware/ratelimit/application"
	"ai-gateway/middleware/ratelimit/domain"
	"ai-gateway/middleware/ratelimit/infra"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// AuthenticatedUserHeader leva o usuário verificado para o upstream.
	AuthenticatedUserHeader = "X-Authenticated-User"

	statusPrefix = "aigate:status:"
)

// limites do endpoint público de status (por IP)
var statusLimits = domain.Limits{PerMinute: 60, PerHour: 600}

type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	upstream *url.URL
	rdb      *redis.Client

	limiter       rlapp.Service
	statusLimiter rlapp.Service
	gate          *gate.Gate
	stats         domain.StatsStore
	probe         *http.Client
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	target, err := url.Parse(cfg.UpstreamURL)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid UPSTREAM_URL %q", cfg.UpstreamURL)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		upstream: target,
		probe:    &http.Client{Timeout: 2 * time.Second},
	}

	local := infra.NewLocalLimiter()
	local.StartJanitor(ctx)

	var distributed domain.Limiter
	if cfg.RedisURL != "" {
		rdb, err := infra.NewRedisClient(cfg.RedisURL, cfg.RedisTimeout)
		if err != nil {
			return nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, cfg.RedisTimeout)
		err = rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			// segue: o facade cai para o limiter local enquanto o Redis estiver fora
			logger.Warn("redis ping failed, rate limiting will fall back to local buckets", zap.Error(err))
		}
		a.rdb = rdb
		distributed = infra.NewRedisLimiter(rdb,
			infra.WithRedisTimeout(cfg.RedisTimeout),
			infra.WithRedisLogger(logger),
		)
	}

	stats := infra.MultiStatsStore{infra.NewPromStatsStore(reg)}
	if cfg.Stats.Enabled {
		if a.rdb == nil {
			a.close()
			return nil, errors.New("RATE_STATS_ENABLED requires REDIS_URL")
		}
		stats = append(stats, infra.NewRedisStatsStore(a.rdb,
			infra.WithStatsPrefix(cfg.Stats.Prefix),
			infra.WithStatsTTL(cfg.Stats.TTL),
			infra.WithStatsTrackKeys(cfg.Stats.TrackKeys),
		))
	}
	a.stats = stats

	a.limiter = rlapp.Service{
		Distributed: distributed,
		Local:       local,
		Limits:      cfg.Limits,
		Prefix:      rlapp.DefaultPrefix,
		Logger:      logger,
	}
	a.statusLimiter = rlapp.Service{
		Distributed: distributed,
		Local:       local,
		Limits:      func() domain.Limits { return statusLimits },
		Prefix:      statusPrefix,
		Logger:      logger,
	}

	authMetrics := authinfra.NewMetrics(reg)
	authClient := &http.Client{Timeout: cfg.Auth.HTTPTimeout}
	jwks := authinfra.NewJWKSCache(
		authinfra.WithJWKSURL(cfg.Auth.JWKSURL),
		authinfra.WithJWKSHTTPClient(authClient),
		authinfra.WithJWKSLogger(logger),
		authinfra.WithJWKSMetrics(authMetrics),
	)
	resolver := authapp.NewResolver(authapp.Config{
		Secret:    cfg.Auth.Secret,
		IssuerURL: cfg.Auth.IssuerURL,
		PublicKey: cfg.Auth.PublicKey,
		Audiences: cfg.Auth.Audiences,
		Issuer:    cfg.Auth.Issuer,
	}, jwks, authinfra.NewHTTPIntrospector(authClient, logger),
		authapp.WithLogger(logger),
		authapp.WithObserver(authMetrics),
	)

	a.gate = &gate.Gate{
		Resolver: resolver,
		Limiter:  a.limiter,
		Required: cfg.AuthRequired(),
		Stats:    a.stats,
		Logger:   logger,
	}
	return a, nil
}

func (a *app) close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
}

func (a *app) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(apierror.RequestID)
	if a.cfg.TrustXFF {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	r.Use(accessLog(a.logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	r.Route("/api/ai", func(r chi.Router) {
		// status é público, limitado só por IP
		r.With(ratelimit.Middleware(ratelimit.Options{
			Limiter:             a.statusLimiter,
			Stats:               a.stats,
			TrustXForwardedFor:  a.cfg.TrustXFF,
			AddRateLimitHeaders: true,
			Logger:              a.logger,
		})).Get("/status", a.handleStatus)

		r.Group(func(r chi.Router) {
			r.Use(gate.Middleware(gate.Options{
				Gate:               a.gate,
				TrustXForwardedFor: a.cfg.TrustXFF,
				Bypass:             gate.APIKeyBypass(a.cfg.APISecretKey),
			}))
			r.Use(ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
				Max:            a.cfg.ConcurrencyMax,
				AcquireTimeout: a.cfg.ConcurrencyTimeout,
			}))
			r.Handle("/*", a.proxy())
		})
	})
	return r
}

func (a *app) proxy() http.Handler {
	proxy := httputil.NewSingleHostReverseProxy(a.upstream)
	director := proxy.Director
	proxy.Director = func(r *http.Request) {
		director(r)
		r.Header.Del(AuthenticatedUserHeader)
		r.Header.Del(gate.APIKeyHeader)
		if id, ok := gate.UserID(r.Context()); ok {
			r.Header.Set(AuthenticatedUserHeader, id)
		}
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		a.logger.Warn("proxy error", zap.String("path", r.URL.Path), zap.Error(err))
		apierror.Write(w, r, http.StatusBadGateway, "BAD_GATEWAY", "upstream unavailable")
	}
	return proxy
}

type rateLimitsStatus struct {
	PerMinute int `json:"per_minute"`
	PerHour   int `json:"per_hour"`
}

type statusResponse struct {
	UpstreamReachable    bool             `json:"upstream_reachable"`
	RequireAuth          bool             `json:"require_auth_for_ai"`
	AuthConfigured       bool             `json:"auth_configured"`
	DistributedRateLimit bool             `json:"distributed_rate_limit"`
	RateLimits           rateLimitsStatus `json:"rate_limits"`
}

func (a *app) handleStatus(w http.ResponseWriter, r *http.Request) {
	limits := a.limiter.CurrentLimits()
	writeJSON(w, http.StatusOK, statusResponse{
		UpstreamReachable:    a.upstreamReachable(r.Context()),
		RequireAuth:          a.gate.Required,
		AuthConfigured:       a.cfg.Auth.Configured(),
		DistributedRateLimit: a.rdb != nil,
		RateLimits:           rateLimitsStatus{PerMinute: limits.PerMinute, PerHour: limits.PerHour},
	})
}

// upstreamReachable considera vivo qualquer upstream que responda ao /health sem 5xx.
func (a *app) upstreamReachable(ctx context.Context) bool {
	u := strings.TrimRight(a.upstream.String(), "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false
	}
	res, err := a.probe.Do(req)
	if err != nil {
		return false
	}
	_ = res.Body.Close()
	return res.StatusCode < http.StatusInternalServerError
}

func accessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", apierror.GetRequestID(r.Context())),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
