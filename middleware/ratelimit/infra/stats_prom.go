package infra

import (
	"context"
	"strconv"

	"ai-gateway/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PromStatsStore expõe as decisões como contador Prometheus.
// A chave do cliente não vira label (cardinalidade).
type PromStatsStore struct {
	decisions *prometheus.CounterVec
}

func NewPromStatsStore(reg prometheus.Registerer) *PromStatsStore {
	return &PromStatsStore{
		decisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "aigate",
				Subsystem: "ratelimit",
				Name:      "decisions_total",
				Help:      "Rate limit decisions by result, backend and enforcement.",
			},
			[]string{"result", "backend", "enforced"},
		),
	}
}

func (s *PromStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	result := "denied"
	if ev.Allowed {
		result = "allowed"
	}
	backend := ev.Backend
	if backend == "" {
		backend = domain.BackendNone
	}
	s.decisions.WithLabelValues(result, backend, strconv.FormatBool(ev.Enforced)).Inc()
	return nil
}

// Decisions é exposto para testes (prometheus/testutil).
func (s *PromStatsStore) Decisions() *prometheus.CounterVec { return s.decisions }
