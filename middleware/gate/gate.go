package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	authdomain "ai-gateway/middleware/auth/domain"
	"ai-gateway/middleware/ratelimit"
	rldomain "ai-gateway/middleware/ratelimit/domain"

	"go.uber.org/zap"
)

// ErrRateLimited é o alvo de errors.Is para *RateLimitError.
var ErrRateLimited = errors.New("gate: rate limited")

// RateLimitError carrega a decisão negada (e o Retry-After dela).
type RateLimitError struct {
	Decision rldomain.Decision
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("gate: rate limited, retry after %ds", e.Decision.RetryAfterSeconds())
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// IdentityResolver verifica bearer tokens (ex.: auth/application.Resolver).
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (authdomain.VerifiedIdentity, error)
}

// RateLimiter consome cota por chave (ex.: ratelimit/application.Service).
type RateLimiter interface {
	Consume(ctx context.Context, key rldomain.Key, cost int) (rldomain.Decision, error)
}

type Gate struct {
	Resolver IdentityResolver
	Limiter  RateLimiter
	// Required é a política padrão; Request.Required sobrescreve por endpoint.
	Required     bool
	Stats        rldomain.StatsStore
	StatsTimeout time.Duration
	Logger       *zap.Logger
}

type Request struct {
	Authorization string
	ClientAddress string
	// Bypass indica credencial de API já validada fora daqui: pula a verificação.
	Bypass   bool
	Required *bool
	Cost     int
	Method   string
	Path     string
}

type Outcome struct {
	UserID   string
	Key      rldomain.Key
	Decision rldomain.Decision
}

// ResolveIdentity extrai o bearer token do header Authorization e verifica.
//
// Com required=false qualquer falha vira chamador anônimo ("", nil).
// Com required=true: header ausente é authdomain.ErrUnauthenticated, header
// malformado ou token rejeitado é authdomain.ErrInvalidToken (ou
// ErrBackendUnavailable), e falta de configuração é authdomain.ErrNotConfigured.
func (g *Gate) ResolveIdentity(ctx context.Context, authorization string, required bool) (string, error) {
	authorization = strings.TrimSpace(authorization)
	if authorization == "" {
		if required {
			return "", fmt.Errorf("%w: missing Authorization header", authdomain.ErrUnauthenticated)
		}
		return "", nil
	}

	scheme, token, ok := strings.Cut(authorization, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
		if required {
			return "", fmt.Errorf("%w: invalid Authorization header", authdomain.ErrInvalidToken)
		}
		return "", nil
	}

	if g.Resolver == nil {
		if required {
			return "", authdomain.ErrNotConfigured
		}
		return "", nil
	}

	id, err := g.Resolver.Resolve(ctx, token)
	if err != nil {
		if required {
			return "", err
		}
		g.logger().Debug("optional auth failed, continuing anonymously", zap.Error(err))
		return "", nil
	}
	return id.UserID, nil
}

// Check faz a orquestração completa de uma chamada protegida.
// Na negação retorna *RateLimitError junto com o Outcome preenchido.
func (g *Gate) Check(ctx context.Context, req Request) (Outcome, error) {
	required := g.Required
	if req.Required != nil {
		required = *req.Required
	}

	var userID string
	if !req.Bypass {
		id, err := g.ResolveIdentity(ctx, req.Authorization, required)
		if err != nil {
			return Outcome{}, err
		}
		userID = id
	}

	out := Outcome{UserID: userID, Key: KeyFor(userID, req.ClientAddress)}
	if g.Limiter == nil {
		out.Decision = rldomain.Decision{Allowed: true, Backend: rldomain.BackendNone}
		return out, nil
	}

	cost := req.Cost
	if cost <= 0 {
		cost = 1
	}
	dec, err := g.Limiter.Consume(ctx, out.Key, cost)
	if err != nil {
		return out, err
	}
	out.Decision = dec

	ratelimit.RecordAsync(ctx, g.Stats, rldomain.StatsEvent{
		Key:      out.Key,
		Allowed:  dec.Allowed,
		Enforced: dec.Enforced,
		Backend:  dec.Backend,
		Method:   req.Method,
		Path:     req.Path,
		At:       time.Now(),
	}, g.StatsTimeout, g.logger())

	if !dec.Allowed {
		g.logger().Debug("ai request rate limited",
			zap.String("key", string(out.Key)),
			zap.Int("retry_after", dec.RetryAfterSeconds()),
			zap.Bool("enforced", dec.Enforced),
		)
		return out, &RateLimitError{Decision: dec}
	}
	return out, nil
}

// KeyFor escolhe a chave de rate limit: usuário verificado, senão endereço.
func KeyFor(userID, clientAddress string) rldomain.Key {
	if userID != "" {
		return rldomain.Key("user:" + userID)
	}
	if clientAddress == "" {
		clientAddress = "unknown"
	}
	return rldomain.Key("ip:" + clientAddress)
}

func (g *Gate) logger() *zap.Logger {
	if g.Logger == nil {
		return zap.NewNop()
	}
	return g.Logger
}
