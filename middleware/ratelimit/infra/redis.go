package infra

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"ai-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// consumeScript é o mesmo token bucket duplo de domain.BucketState, executado
// de forma atômica no Redis. Estado por chave em um hash:
// m_tokens, m_last_ms, h_tokens, h_last_ms.
//
// Retorna {allowed, retry_after_seconds}.
var consumeScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local m_cap = tonumber(ARGV[2])
local m_window_ms = tonumber(ARGV[3])
local h_cap = tonumber(ARGV[4])
local h_window_ms = tonumber(ARGV[5])
local cost = tonumber(ARGV[6])
local ttl = tonumber(ARGV[7])

local state = redis.call('HMGET', key, 'm_tokens', 'm_last_ms', 'h_tokens', 'h_last_ms')

local function refill(tokens, last, cap, window_ms)
  if tokens == nil or last == nil then
    return cap
  end
  local elapsed = now_ms - last
  if elapsed < 0 then
    elapsed = 0
  end
  tokens = tokens + elapsed * cap / window_ms
  if tokens > cap then
    tokens = cap
  end
  return tokens
end

local function wait_ms(tokens, cap, window_ms)
  if tokens >= cost then
    return 0
  end
  return (cost - tokens) * window_ms / cap
end

local m_tokens = refill(tonumber(state[1]), tonumber(state[2]), m_cap, m_window_ms)
local h_tokens = refill(tonumber(state[3]), tonumber(state[4]), h_cap, h_window_ms)

local allowed = 0
local retry = 0
if m_tokens >= cost and h_tokens >= cost then
  m_tokens = m_tokens - cost
  h_tokens = h_tokens - cost
  allowed = 1
else
  local w = math.max(wait_ms(m_tokens, m_cap, m_window_ms), wait_ms(h_tokens, h_cap, h_window_ms))
  retry = math.ceil(w / 1000 - 1e-9)
  if retry < 1 then
    retry = 1
  end
end

local m_last = tonumber(state[2])
if m_last == nil or m_last < now_ms then
  m_last = now_ms
end
local h_last = tonumber(state[4])
if h_last == nil or h_last < now_ms then
  h_last = now_ms
end

redis.call('HSET', key,
  'm_tokens', tostring(m_tokens), 'm_last_ms', tostring(m_last),
  'h_tokens', tostring(h_tokens), 'h_last_ms', tostring(h_last))
redis.call('EXPIRE', key, ttl)

return {allowed, retry}
`)

// RedisLimiter é o limiter distribuído: todas as instâncias do gateway
// compartilham o mesmo saldo por chave.
type RedisLimiter struct {
	rdb     redis.Scripter
	timeout time.Duration
	ttl     time.Duration
	clock   Clock
	logger  *zap.Logger
}

type RedisOption func(*RedisLimiter)

// WithRedisTimeout limita cada chamada ao Redis, independente do ctx do request.
func WithRedisTimeout(d time.Duration) RedisOption {
	return func(l *RedisLimiter) { l.timeout = d }
}

// WithStateTTL define a expiração do hash de estado. Deve cobrir a janela de uma hora.
func WithStateTTL(d time.Duration) RedisOption {
	return func(l *RedisLimiter) {
		if d >= domain.HourWindow {
			l.ttl = d
		}
	}
}

func WithRedisClock(c Clock) RedisOption {
	return func(l *RedisLimiter) {
		if c != nil {
			l.clock = c
		}
	}
}

func WithRedisLogger(logger *zap.Logger) RedisOption {
	return func(l *RedisLimiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func NewRedisLimiter(rdb redis.Scripter, opts ...RedisOption) *RedisLimiter {
	l := &RedisLimiter{
		rdb:     rdb,
		timeout: 3 * time.Second,
		ttl:     2 * time.Hour,
		clock:   time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Consume implementa domain.Limiter. Qualquer falha do Redis vira uma decisão
// com Enforced=false para o chamador decidir o fallback.
func (l *RedisLimiter) Consume(ctx context.Context, key domain.Key, limits domain.Limits, cost int) domain.Decision {
	dec, err := l.TryConsume(ctx, key, limits, cost)
	if err != nil {
		l.logger.Warn("distributed rate limiter unavailable",
			zap.String("key", string(key)),
			zap.Error(err),
		)
		return domain.Decision{Allowed: true, Enforced: false, Backend: domain.BackendRedis}.WithLimits(limits.Normalize())
	}
	return dec
}

// TryConsume é igual a Consume, mas expõe o erro (sempre envolvendo
// domain.ErrBackendUnavailable).
func (l *RedisLimiter) TryConsume(ctx context.Context, key domain.Key, limits domain.Limits, cost int) (domain.Decision, error) {
	limits = limits.Normalize()
	if cost <= 0 {
		return domain.Decision{Allowed: true, Enforced: true, Backend: domain.BackendRedis}.WithLimits(limits), nil
	}
	if l == nil || l.rdb == nil {
		return domain.Decision{}, fmt.Errorf("%w: redis client not configured", domain.ErrBackendUnavailable)
	}

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	res, err := consumeScript.Run(ctx, l.rdb, []string{string(key)},
		l.clock().UnixMilli(),
		limits.PerMinute, domain.MinuteWindow.Milliseconds(),
		limits.PerHour, domain.HourWindow.Milliseconds(),
		cost,
		int64(l.ttl/time.Second),
	).Result()
	if err != nil {
		return domain.Decision{}, fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}

	allowed, retry, err := parseLuaResult(res)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}

	dec := domain.Decision{Allowed: allowed, Enforced: true, Backend: domain.BackendRedis}.WithLimits(limits)
	if !allowed {
		dec.RetryAfter = domain.RetryAfterFromSeconds(float64(retry))
	}
	return dec, nil
}

func parseLuaResult(values interface{}) (bool, int64, error) {
	arr, ok := values.([]interface{})
	if !ok || len(arr) < 2 {
		return false, 0, fmt.Errorf("unexpected lua result: %v", values)
	}

	allowed, err := toInt64(arr[0])
	if err != nil {
		return false, 0, err
	}
	retry, err := toInt64(arr[1])
	if err != nil {
		return false, 0, err
	}
	return allowed == 1, retry, nil
}

func toInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected lua value type %T", value)
	}
}
