package infra

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient cria o client a partir de uma URL (redis://, rediss://).
//
// Timeouts curtos e sem retry: quando o Redis falha, o facade cai para o
// limiter local em vez de segurar a requisição.
func NewRedisClient(url string, timeout time.Duration) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	opts.DialTimeout = timeout
	opts.ReadTimeout = timeout
	opts.WriteTimeout = timeout
	opts.MaxRetries = -1
	return redis.NewClient(opts), nil
}
