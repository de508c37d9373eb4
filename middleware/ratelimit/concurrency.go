package ratelimit

import (
	"errors"
	"net/http"
	"time"

	"ai-gateway/internal/apierror"
	"ai-gateway/middleware/ratelimit/application"
	"ai-gateway/middleware/ratelimit/domain"
	"ai-gateway/middleware/ratelimit/infra"
)

type ConcurrencyOptions struct {
	Max            int
	RejectStatus   int
	AcquireTimeout time.Duration
}

// ConcurrencyMiddleware limita quantas requisições passam ao mesmo tempo
// (ex.: chamadas ao upstream de IA). Max <= 0 desliga.
func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Max <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusServiceUnavailable
	}

	svc := application.ConcurrencyService{
		Pool:           infra.NewChanPool(opts.Max),
		AcquireTimeout: opts.AcquireTimeout,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			release, err := svc.Acquire(r.Context())
			if err != nil {
				if errors.Is(err, domain.ErrSaturated) {
					apierror.Write(w, r, opts.RejectStatus, apierror.CodeServiceUnavailable, "too many concurrent requests")
				}
				// cliente desistiu: não há para quem responder
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}
