package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"ai-gateway/internal/apierror"
	"ai-gateway/middleware/ratelimit/domain"

	"go.uber.org/zap"
)

const (
	HeaderRetryAfter       = "Retry-After"
	HeaderLimitPerMinute   = "X-RateLimit-Limit-Minute"
	HeaderLimitPerHour     = "X-RateLimit-Limit-Hour"
	defaultStatsTimeout    = 2 * time.Second
	unknownClientAddress   = "unknown"
	forwardedForHeaderName = "X-Forwarded-For"
)

type KeyFunc func(r *http.Request) string

// Consumer é o que o middleware precisa do facade (application.Service).
type Consumer interface {
	Consume(ctx context.Context, key domain.Key, cost int) (domain.Decision, error)
}

type Options struct {
	Limiter             Consumer
	Stats               domain.StatsStore
	KeyFn               KeyFunc
	KeyHeader           string
	TrustXForwardedFor  bool
	Cost                int
	AddRateLimitHeaders bool
	Logger              *zap.Logger
}

// ClientAddress retorna o endereço do cliente: o primeiro IP do X-Forwarded-For
// quando confiável, senão o host do RemoteAddr, senão "unknown".
func ClientAddress(r *http.Request, trustXFF bool) string {
	if trustXFF {
		// pega o primeiro IP do X-Forwarded-For (cliente original)
		if xff := r.Header.Get(forwardedForHeaderName); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}

	// fallback: RemoteAddr
	remote := strings.TrimSpace(r.RemoteAddr)
	host, _, err := net.SplitHostPort(remote)
	if err == nil && host != "" {
		return host
	}
	if remote != "" {
		return remote
	}
	return unknownClientAddress
}

// DefaultKeyFunc usa o header `keyHeader` quando presente ("key:<valor>"),
// senão o endereço do cliente ("ip:<addr>").
func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return "key:" + v
			}
		}
		return "ip:" + ClientAddress(r, trustXFF)
	}
}

// SetLimitHeaders escreve as capacidades que a decisão usou.
// Decisão sem limites (nenhum limiter consultado) não gera headers.
func SetLimitHeaders(h http.Header, dec domain.Decision) {
	if dec.LimitPerMinute <= 0 || dec.LimitPerHour <= 0 {
		return
	}
	h.Set(HeaderLimitPerMinute, formatInt(dec.LimitPerMinute))
	h.Set(HeaderLimitPerHour, formatInt(dec.LimitPerHour))
}

// WriteRateLimited responde 429 com Retry-After e o envelope de erro.
func WriteRateLimited(w http.ResponseWriter, r *http.Request, dec domain.Decision) {
	secs := dec.RetryAfterSeconds()
	if secs < 1 {
		secs = 1
	}
	w.Header().Set(HeaderRetryAfter, formatInt(secs))
	apierror.Write(w, r, http.StatusTooManyRequests, apierror.CodeRateLimited,
		"rate limit exceeded, retry in "+formatInt(secs)+"s")
}

// Middleware limita por chave (endereço do cliente por padrão) usando o facade.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}
	if opts.Cost <= 0 {
		opts.Cost = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		if opts.Limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := domain.Key(opts.KeyFn(r))

			dec, err := opts.Limiter.Consume(r.Context(), key, opts.Cost)
			if err != nil {
				logger.Error("rate limit consume failed", zap.String("key", string(key)), zap.Error(err))
				apierror.Write(w, r, http.StatusInternalServerError, apierror.CodeInternal, "rate limit unavailable")
				return
			}
			if opts.AddRateLimitHeaders {
				SetLimitHeaders(w.Header(), dec)
			}

			RecordAsync(r.Context(), opts.Stats, domain.StatsEvent{
				Key:      key,
				Allowed:  dec.Allowed,
				Enforced: dec.Enforced,
				Backend:  dec.Backend,
				Method:   r.Method,
				Path:     r.URL.Path,
				At:       time.Now(),
			}, defaultStatsTimeout, logger)

			if !dec.Allowed {
				logger.Debug("request rate limited", zap.String("key", string(key)), zap.Int("retry_after", dec.RetryAfterSeconds()))
				WriteRateLimited(w, r, dec)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
