package application

import (
	"context"
	"fmt"
	"strings"

	"ai-gateway/middleware/ratelimit/domain"

	"go.uber.org/zap"
)

// DefaultPrefix namespaceia as chaves do endpoint de IA.
const DefaultPrefix = "aigate:ai:"

// Service é o facade do rate limit: escolhe o backend e aplica os limites vigentes.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
//
// Com Distributed configurado, o Redis é a fonte da verdade. Se ele falhar, a
// decisão do Local é usada e marcada com Enforced=false: cada instância passa a
// limitar sozinha, então o limite global efetivo fica multiplicado pelo número
// de instâncias enquanto durar a falha.
type Service struct {
	Distributed domain.Limiter
	Local       domain.Limiter
	// Limits é lido a cada chamada; mudanças de configuração valem na hora.
	Limits func() domain.Limits
	Prefix string
	Logger *zap.Logger
}

// Consume debita `cost` da chave. Só retorna erro para entrada inválida;
// problemas de backend nunca viram erro. A decisão sempre carrega os limites
// lidos nesta chamada, qualquer que seja o backend.
func (s Service) Consume(ctx context.Context, key domain.Key, cost int) (domain.Decision, error) {
	if strings.TrimSpace(string(key)) == "" {
		return domain.Decision{}, domain.ErrEmptyKey
	}
	if cost <= 0 {
		return domain.Decision{}, fmt.Errorf("%w: got %d", domain.ErrInvalidCost, cost)
	}

	limits := s.limits()
	full := domain.Key(s.prefix() + string(key))

	if s.Distributed != nil {
		dec := s.Distributed.Consume(ctx, full, limits, cost)
		if dec.Enforced || s.Local == nil {
			return dec.WithLimits(limits), nil
		}
		s.logger().Debug("falling back to local rate limiter", zap.String("key", string(full)))
		dec = s.Local.Consume(ctx, full, limits, cost)
		dec.Enforced = false
		dec.Backend = domain.BackendFallback
		return dec.WithLimits(limits), nil
	}

	if s.Local == nil {
		return domain.Decision{Allowed: true, Backend: domain.BackendNone}.WithLimits(limits), nil
	}
	return s.Local.Consume(ctx, full, limits, cost).WithLimits(limits), nil
}

// CurrentLimits retorna os limites que a próxima chamada vai usar.
func (s Service) CurrentLimits() domain.Limits { return s.limits() }

func (s Service) limits() domain.Limits {
	if s.Limits == nil {
		return domain.DefaultLimits()
	}
	return s.Limits().Normalize()
}

func (s Service) prefix() string {
	if s.Prefix == "" {
		return DefaultPrefix
	}
	return s.Prefix
}

func (s Service) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
