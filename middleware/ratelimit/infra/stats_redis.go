package infra

import (
	"context"
	"strings"
	"time"

	"ai-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStatsStore grava contadores em hashes do Redis (total, por minuto,
// por rota, por backend e opcionalmente por chave).
type RedisStatsStore struct {
	rdb redis.Cmdable

	prefix string
	// ttl aplica apenas em chaves de série temporal / por key.
	// total é cumulativo e não expira.
	ttl time.Duration

	bucket string // "minute" (padrão) ou "none"

	trackKeys bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

func NewRedisStatsStore(rdb redis.Cmdable, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "aigate:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	result := "denied"
	if ev.Allowed {
		result = "allowed"
	}

	pipe := s.rdb.Pipeline()

	// total é cumulativo
	s.incr(ctx, pipe, s.key("total"), result, false)
	if !ev.Enforced {
		s.incr(ctx, pipe, s.key("total"), "unenforced", false)
	}
	if ev.Backend != "" {
		s.incr(ctx, pipe, s.key("backend"), ev.Backend+":"+result, false)
	}
	if s.bucket == "minute" {
		s.incr(ctx, pipe, s.key("minute", at.UTC().Format("200601021504")), result, true)
	}
	if route := strings.TrimSpace(strings.TrimSpace(ev.Method) + " " + strings.TrimSpace(ev.Path)); route != "" {
		s.incr(ctx, pipe, s.key("route"), route+":"+result, false)
	}
	if k := strings.TrimSpace(string(ev.Key)); s.trackKeys && k != "" {
		s.incr(ctx, pipe, s.key("key", k), result, true)
	}

	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStatsStore) key(parts ...string) string {
	return s.prefix + ":" + strings.Join(parts, ":")
}

func (s *RedisStatsStore) incr(ctx context.Context, pipe redis.Pipeliner, key, field string, expire bool) {
	pipe.HIncrBy(ctx, key, field, 1)
	if expire && s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
}
