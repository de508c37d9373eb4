package infra

import (
	"errors"

	"ai-gateway/middleware/auth/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics conta verificações e buscas de JWKS. Um *Metrics nil não faz nada.
type Metrics struct {
	verifications *prometheus.CounterVec
	jwksFetches   *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		verifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aigate",
			Subsystem: "auth",
			Name:      "verifications_total",
			Help:      "Bearer token verifications by strategy and result.",
		}, []string{"strategy", "result"}),
		jwksFetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aigate",
			Subsystem: "auth",
			Name:      "jwks_fetches_total",
			Help:      "JWKS document fetches by result.",
		}, []string{"result"}),
	}
}

// ObserveVerification implementa application.Observer.
func (m *Metrics) ObserveVerification(strategy domain.Strategy, err error) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(strategy.String(), resultLabel(err)).Inc()
}

func (m *Metrics) observeFetch(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.jwksFetches.WithLabelValues(result).Inc()
}

func (m *Metrics) Verifications() *prometheus.CounterVec { return m.verifications }
func (m *Metrics) JWKSFetches() *prometheus.CounterVec   { return m.jwksFetches }

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrNotConfigured):
		return "not_configured"
	case errors.Is(err, domain.ErrBackendUnavailable):
		return "backend_unavailable"
	default:
		return "invalid"
	}
}
