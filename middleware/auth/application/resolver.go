package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ai-gateway/middleware/auth/domain"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

var (
	symmetricMethods  = []string{"HS256", "HS384", "HS512"}
	asymmetricMethods = []string{
		"RS256", "RS384", "RS512",
		"PS256", "PS384", "PS512",
		"ES256", "ES384", "ES512",
		"EdDSA",
	}
)

// Config descreve os mecanismos de verificação disponíveis.
// Audiences e Issuer vazios desligam a checagem correspondente.
type Config struct {
	Secret    string
	IssuerURL string
	PublicKey string
	Audiences []string
	Issuer    string
}

// KeySource resolve a chave pública de verificação pelo kid (ex.: infra.JWKSCache).
type KeySource interface {
	Key(ctx context.Context, baseURL, kid string) (any, error)
}

// Observer recebe o resultado de cada verificação (ex.: métricas).
type Observer interface {
	ObserveVerification(strategy domain.Strategy, err error)
}

type Resolver struct {
	cfg          Config
	keys         KeySource
	introspector domain.Introspector
	logger       *zap.Logger
	observer     Observer
	clock        func() time.Time
}

type Option func(*Resolver)

func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithObserver(o Observer) Option {
	return func(r *Resolver) { r.observer = o }
}

// WithClock troca o relógio usado para exp/nbf/iat.
func WithClock(clock func() time.Time) Option {
	return func(r *Resolver) {
		if clock != nil {
			r.clock = clock
		}
	}
}

func NewResolver(cfg Config, keys KeySource, introspector domain.Introspector, opts ...Option) *Resolver {
	cfg.Secret = strings.TrimSpace(cfg.Secret)
	cfg.IssuerURL = strings.TrimRight(strings.TrimSpace(cfg.IssuerURL), "/")
	cfg.PublicKey = strings.TrimSpace(cfg.PublicKey)
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)

	r := &Resolver{
		cfg:          cfg,
		keys:         keys,
		introspector: introspector,
		logger:       zap.NewNop(),
		clock:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) Capabilities() domain.Capabilities {
	return domain.Capabilities{
		Secret:    r.cfg.Secret != "",
		IssuerURL: r.cfg.IssuerURL != "",
		PublicKey: r.cfg.PublicKey != "",
	}
}

// Configured diz se existe algum mecanismo capaz de verificar tokens.
func (r *Resolver) Configured() bool { return r.Capabilities().Any() }

// Resolve verifica o token e devolve a identidade.
//
// Erros: domain.ErrInvalidToken para qualquer rejeição do token,
// domain.ErrBackendUnavailable quando JWKS/introspecção falham e
// domain.ErrNotConfigured quando não há como verificar.
func (r *Resolver) Resolve(ctx context.Context, token string) (domain.VerifiedIdentity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.VerifiedIdentity{}, fmt.Errorf("%w: empty token", domain.ErrInvalidToken)
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return domain.VerifiedIdentity{}, fmt.Errorf("%w: malformed token: %v", domain.ErrInvalidToken, err)
	}
	alg, _ := parsed.Header["alg"].(string)
	kid, _ := parsed.Header["kid"].(string)

	strategy := domain.SelectStrategy(alg, r.Capabilities())
	id, err := r.resolve(ctx, strategy, token, alg, kid)
	if r.observer != nil {
		r.observer.ObserveVerification(strategy, err)
	}
	if err != nil {
		if errors.Is(err, domain.ErrNotConfigured) {
			r.logger.Error("token verification is not configured")
		} else {
			r.logger.Debug("token rejected",
				zap.String("strategy", strategy.String()),
				zap.String("alg", alg),
				zap.Error(err),
			)
		}
		return domain.VerifiedIdentity{}, err
	}
	return id, nil
}

func (r *Resolver) resolve(ctx context.Context, strategy domain.Strategy, token, alg, kid string) (domain.VerifiedIdentity, error) {
	switch strategy {
	case domain.StrategySecret:
		methods := symmetricMethods
		if domain.IsSymmetric(alg) {
			methods = []string{alg}
		}
		claims, err := r.parse(token, methods, func(*jwt.Token) (any, error) {
			return []byte(r.cfg.Secret), nil
		})
		if err != nil {
			return domain.VerifiedIdentity{}, err
		}
		return identityFromClaims(claims)

	case domain.StrategyJWKS:
		claims, err := r.verifyJWKS(ctx, token, alg, kid)
		if err != nil {
			return domain.VerifiedIdentity{}, err
		}
		return identityFromClaims(claims)

	case domain.StrategyIntrospection:
		if r.introspector == nil {
			return domain.VerifiedIdentity{}, fmt.Errorf("%w: introspection client missing", domain.ErrNotConfigured)
		}
		userID, err := r.introspector.Introspect(ctx, r.cfg.IssuerURL, r.cfg.PublicKey, token)
		if err != nil {
			return domain.VerifiedIdentity{}, err
		}
		return domain.VerifiedIdentity{UserID: userID, Claims: map[string]any{}}, nil

	default:
		return domain.VerifiedIdentity{}, domain.ErrNotConfigured
	}
}

func (r *Resolver) verifyJWKS(ctx context.Context, token, alg, kid string) (jwt.MapClaims, error) {
	if r.keys == nil {
		return nil, fmt.Errorf("%w: key source missing", domain.ErrNotConfigured)
	}
	if kid == "" {
		return nil, fmt.Errorf("%w: token is missing kid header", domain.ErrInvalidToken)
	}

	methods := asymmetricMethods
	if domain.IsAsymmetric(alg) {
		methods = []string{alg}
	}

	var keyErr error
	claims, err := r.parse(token, methods, func(*jwt.Token) (any, error) {
		key, err := r.keys.Key(ctx, r.cfg.IssuerURL, kid)
		keyErr = err
		return key, err
	})
	if err != nil && keyErr != nil {
		return nil, keyErr
	}
	return claims, err
}

func (r *Resolver) parse(token string, methods []string, keyFunc jwt.Keyfunc) (jwt.MapClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(methods),
		jwt.WithTimeFunc(r.clock),
	}
	if r.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.cfg.Issuer))
	}

	claims := jwt.MapClaims{}
	if _, err := jwt.NewParser(opts...).ParseWithClaims(token, claims, keyFunc); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	if err := checkAudience(claims, r.cfg.Audiences); err != nil {
		return nil, err
	}
	return claims, nil
}

// checkAudience exige interseção entre o aud do token e os esperados.
// Sem audiences configuradas, não checa.
func checkAudience(claims jwt.MapClaims, expected []string) error {
	if len(expected) == 0 {
		return nil
	}
	aud, err := claims.GetAudience()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	for _, got := range aud {
		for _, want := range expected {
			if got == want {
				return nil
			}
		}
	}
	return fmt.Errorf("%w: audience mismatch", domain.ErrInvalidToken)
}

func identityFromClaims(claims jwt.MapClaims) (domain.VerifiedIdentity, error) {
	for _, name := range []string{"sub", "user_id"} {
		if s, ok := claims[name].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return domain.VerifiedIdentity{UserID: s, Claims: map[string]any(claims)}, nil
			}
		}
	}
	return domain.VerifiedIdentity{}, fmt.Errorf("%w: token has no subject", domain.ErrInvalidToken)
}
