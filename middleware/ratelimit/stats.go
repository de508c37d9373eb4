package ratelimit

import (
	"context"
	"time"

	"ai-gateway/middleware/ratelimit/domain"

	"go.uber.org/zap"
)

// RecordAsync grava o evento em background com prazo próprio.
// Falha só vira log; a decisão já foi tomada.
func RecordAsync(ctx context.Context, stats domain.StatsStore, ev domain.StatsEvent, timeout time.Duration, logger *zap.Logger) {
	if stats == nil {
		return
	}
	if timeout <= 0 {
		timeout = defaultStatsTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	bg := context.WithoutCancel(ctx)
	go func() {
		rctx, cancel := context.WithTimeout(bg, timeout)
		defer cancel()
		if err := stats.Record(rctx, ev); err != nil {
			logger.Warn("rate limit stats record failed", zap.Error(err))
		}
	}()
}
