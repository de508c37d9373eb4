package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"ai-gateway/middleware/auth/domain"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
	jose "gopkg.in/go-jose/go-jose.v2"
)

const (
	DefaultJWKSTTL = 600 * time.Second
	// DefaultJWKSPath é anexado à URL do emissor quando não há override.
	DefaultJWKSPath = "/auth/v1/certs"

	defaultForcedRefreshEvery = 30 * time.Second
	maxJWKSBodyBytes          = 1 << 20
)

// JWKSCache guarda o conjunto de chaves públicas por URL, com TTL.
//
// Só uma busca por URL fica em voo; quem chega durante a busca espera o
// resultado dela. Falha de busca nunca apaga uma entrada boa: a entrada
// vencida continua sendo servida até uma busca dar certo.
type JWKSCache struct {
	client  *http.Client
	jwksURL string
	ttl     time.Duration
	clock   func() time.Time
	logger  *zap.Logger
	metrics *Metrics
	forced  *rate.Limiter

	group   singleflight.Group
	mu      sync.RWMutex
	entries map[string]jwksEntry
}

type jwksEntry struct {
	keys      *jose.JSONWebKeySet
	fetchedAt time.Time
}

type JWKSOption func(*JWKSCache)

// WithJWKSURL fixa a URL do documento, ignorando a URL do emissor.
func WithJWKSURL(url string) JWKSOption {
	return func(c *JWKSCache) { c.jwksURL = strings.TrimSpace(url) }
}

func WithJWKSTTL(d time.Duration) JWKSOption {
	return func(c *JWKSCache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

func WithJWKSHTTPClient(client *http.Client) JWKSOption {
	return func(c *JWKSCache) {
		if client != nil {
			c.client = client
		}
	}
}

func WithJWKSClock(clock func() time.Time) JWKSOption {
	return func(c *JWKSCache) {
		if clock != nil {
			c.clock = clock
		}
	}
}

func WithJWKSLogger(logger *zap.Logger) JWKSOption {
	return func(c *JWKSCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithJWKSMetrics(m *Metrics) JWKSOption {
	return func(c *JWKSCache) { c.metrics = m }
}

// WithForcedRefreshEvery limita os refreshes disparados por kid desconhecido.
func WithForcedRefreshEvery(d time.Duration) JWKSOption {
	return func(c *JWKSCache) {
		if d > 0 {
			c.forced = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

func NewJWKSCache(opts ...JWKSOption) *JWKSCache {
	c := &JWKSCache{
		client:  &http.Client{Timeout: 5 * time.Second},
		ttl:     DefaultJWKSTTL,
		clock:   time.Now,
		logger:  zap.NewNop(),
		forced:  rate.NewLimiter(rate.Every(defaultForcedRefreshEvery), 1),
		entries: make(map[string]jwksEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URL retorna de onde o conjunto de chaves do emissor `baseURL` é buscado.
func (c *JWKSCache) URL(baseURL string) string {
	if c.jwksURL != "" {
		return c.jwksURL
	}
	return strings.TrimRight(strings.TrimSpace(baseURL), "/") + DefaultJWKSPath
}

// Get retorna o conjunto de chaves do emissor, do cache quando ainda válido.
func (c *JWKSCache) Get(ctx context.Context, baseURL string) (*jose.JSONWebKeySet, error) {
	url := c.URL(baseURL)
	if e, ok := c.lookup(url); ok && c.fresh(e) {
		return e.keys, nil
	}
	return c.refresh(ctx, url, false)
}

// Key busca a chave pública de verificação pelo kid. Um kid desconhecido
// força um refresh (limitado por WithForcedRefreshEvery) antes de falhar,
// para acompanhar rotação de chaves dentro do TTL.
func (c *JWKSCache) Key(ctx context.Context, baseURL, kid string) (any, error) {
	set, err := c.Get(ctx, baseURL)
	if err != nil {
		return nil, err
	}
	if key, ok := findKey(set, kid); ok {
		return key, nil
	}

	if !c.forced.Allow() {
		return nil, fmt.Errorf("%w: kid %q not found in JWKS", domain.ErrInvalidToken, kid)
	}

	c.logger.Info("unknown kid, refreshing JWKS", zap.String("kid", kid))
	set, err = c.refresh(ctx, c.URL(baseURL), true)
	if err != nil {
		return nil, err
	}
	if key, ok := findKey(set, kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: kid %q not found in JWKS", domain.ErrInvalidToken, kid)
}

func (c *JWKSCache) lookup(url string) (jwksEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[url]
	return e, ok
}

func (c *JWKSCache) fresh(e jwksEntry) bool {
	return c.clock().Sub(e.fetchedAt) < c.ttl
}

func (c *JWKSCache) refresh(ctx context.Context, url string, force bool) (*jose.JSONWebKeySet, error) {
	// a busca não herda o cancelamento de quem chegou primeiro: outros
	// chamadores podem estar esperando o mesmo resultado
	fetchCtx := context.WithoutCancel(ctx)

	ch := c.group.DoChan(url, func() (any, error) {
		if e, ok := c.lookup(url); ok && !force && c.fresh(e) {
			return e.keys, nil
		}

		keys, err := c.fetch(fetchCtx, url)
		if err != nil {
			c.metrics.observeFetch(err)
			if e, ok := c.lookup(url); ok {
				c.logger.Warn("JWKS refresh failed, serving stale keys",
					zap.String("url", url),
					zap.Duration("age", c.clock().Sub(e.fetchedAt)),
					zap.Error(err),
				)
				return e.keys, nil
			}
			c.logger.Warn("JWKS fetch failed", zap.String("url", url), zap.Error(err))
			return nil, err
		}
		c.metrics.observeFetch(nil)

		c.mu.Lock()
		c.entries[url] = jwksEntry{keys: keys, fetchedAt: c.clock()}
		c.mu.Unlock()
		return keys, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*jose.JSONWebKeySet), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, ctx.Err())
	}
}

func (c *JWKSCache) fetch(ctx context.Context, url string) (*jose.JSONWebKeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build JWKS request: %v", domain.ErrBackendUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch JWKS: %v", domain.ErrBackendUnavailable, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: JWKS endpoint returned %d", domain.ErrBackendUnavailable, res.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(io.LimitReader(res.Body, maxJWKSBodyBytes)).Decode(&set); err != nil {
		return nil, fmt.Errorf("%w: decode JWKS: %v", domain.ErrBackendUnavailable, err)
	}
	if set.Keys == nil {
		return nil, fmt.Errorf("%w: JWKS document has no keys", domain.ErrBackendUnavailable)
	}
	return &set, nil
}

func findKey(set *jose.JSONWebKeySet, kid string) (any, bool) {
	if set == nil {
		return nil, false
	}
	for _, k := range set.Key(kid) {
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		pub := k.Public()
		if pub.Key != nil {
			return pub.Key, true
		}
	}
	return nil, false
}
