package gate

import (
	"errors"
	"net/http"

	"ai-gateway/internal/apierror"
	authdomain "ai-gateway/middleware/auth/domain"
	"ai-gateway/middleware/ratelimit"

	"go.uber.org/zap"
)

type Options struct {
	Gate               *Gate
	TrustXForwardedFor bool
	Bypass             func(*http.Request) bool
	Required           *bool
	Cost               int
}

// Middleware aplica a gate a cada requisição e põe o usuário verificado no contexto.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bypass := opts.Bypass != nil && opts.Bypass(r)
			out, err := opts.Gate.Check(r.Context(), Request{
				Authorization: r.Header.Get("Authorization"),
				ClientAddress: ratelimit.ClientAddress(r, opts.TrustXForwardedFor),
				Bypass:        bypass,
				Required:      opts.Required,
				Cost:          opts.Cost,
				Method:        r.Method,
				Path:          r.URL.Path,
			})
			if err != nil {
				opts.Gate.writeError(w, r, err)
				return
			}

			ratelimit.SetLimitHeaders(w.Header(), out.Decision)
			ctx := r.Context()
			if out.UserID != "" {
				ctx = WithUserID(ctx, out.UserID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (g *Gate) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var limited *RateLimitError
	switch {
	case errors.As(err, &limited):
		ratelimit.SetLimitHeaders(w.Header(), limited.Decision)
		ratelimit.WriteRateLimited(w, r, limited.Decision)
	case errors.Is(err, authdomain.ErrNotConfigured):
		g.logger().Error("authentication required but not configured", zap.String("path", r.URL.Path))
		apierror.Write(w, r, http.StatusInternalServerError, apierror.CodeConfigInvalid,
			"authentication is required but no verification mechanism is configured")
	case errors.Is(err, authdomain.ErrUnauthenticated):
		w.Header().Set("WWW-Authenticate", "Bearer")
		apierror.Write(w, r, http.StatusUnauthorized, apierror.CodeUnauthorized, "missing Authorization header")
	case errors.Is(err, authdomain.ErrInvalidToken), errors.Is(err, authdomain.ErrBackendUnavailable):
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		apierror.Write(w, r, http.StatusUnauthorized, apierror.CodeUnauthorized, "invalid or expired token")
	default:
		g.logger().Error("gate check failed", zap.Error(err))
		apierror.Write(w, r, http.StatusInternalServerError, apierror.CodeInternal, "internal error")
	}
}
