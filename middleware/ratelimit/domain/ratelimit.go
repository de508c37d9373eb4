package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"context"
	"errors"
	"time"
)

type Key string

const (
	DefaultPerMinute = 30
	DefaultPerHour   = 300
)

// Nomes de backend reportados em Decision.Backend e nas estatísticas.
const (
	BackendLocal    = "local"
	BackendRedis    = "redis"
	BackendFallback = "local-fallback"
	BackendNone     = "none"
)

var (
	ErrEmptyKey           = errors.New("ratelimit: empty key")
	ErrInvalidCost        = errors.New("ratelimit: cost must be positive")
	ErrBackendUnavailable = errors.New("ratelimit: backend unavailable")
)

// Limits são as capacidades das duas janelas (minuto e hora).
type Limits struct {
	PerMinute int
	PerHour   int
}

func DefaultLimits() Limits {
	return Limits{PerMinute: DefaultPerMinute, PerHour: DefaultPerHour}
}

// Normalize troca valores não positivos pelos padrões.
func (l Limits) Normalize() Limits {
	if l.PerMinute <= 0 {
		l.PerMinute = DefaultPerMinute
	}
	if l.PerHour <= 0 {
		l.PerHour = DefaultPerHour
	}
	return l
}

type Decision struct {
	Allowed bool
	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Sempre em segundos inteiros, mínimo 1s quando Allowed=false.
	RetryAfter time.Duration
	// Enforced=false indica que a decisão não veio do backend autoritativo
	// (ex.: Redis fora do ar e o limiter local assumiu).
	Enforced bool
	Backend  string
	// limites efetivamente usados nesta decisão (já normalizados)
	LimitPerMinute int
	LimitPerHour   int
}

// WithLimits carimba na decisão os limites usados para tomá-la.
func (d Decision) WithLimits(l Limits) Decision {
	d.LimitPerMinute = l.PerMinute
	d.LimitPerHour = l.PerHour
	return d
}

func (d Decision) RetryAfterSeconds() int {
	return int(d.RetryAfter / time.Second)
}

// Limiter consome `cost` tokens das duas janelas de uma chave.
//
// Implementações nunca retornam erro: falha de backend vira Decision com
// Enforced=false. cost <= 0 não altera estado.
type Limiter interface {
	Consume(ctx context.Context, key Key, limits Limits, cost int) Decision
}
