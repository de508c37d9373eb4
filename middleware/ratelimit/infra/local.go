package infra

import (
	"context"
	"sync"
	"time"

	"ai-gateway/middleware/ratelimit/domain"
)

// Clock permite injetar o relógio nos testes.
type Clock func() time.Time

// LocalLimiter é a implementação em memória do token bucket duplo, por chave,
// com limpeza periódica de chaves ociosas.
//
// Vale só para o processo atual: com várias instâncias cada uma tem seu saldo.
type LocalLimiter struct {
	mu           sync.Mutex
	entries      map[string]*localEntry
	idleTTL      time.Duration
	cleanupEvery time.Duration
	clock        Clock
}

type localEntry struct {
	state    domain.BucketState
	lastSeen time.Time
}

type LocalOption func(*LocalLimiter)

// WithIdleTTL define após quanto tempo sem uso uma chave é descartada.
// Valores abaixo da janela de uma hora são elevados para ela: uma chave ociosa
// por uma hora já está com os dois buckets cheios, então descartar não muda nada.
func WithIdleTTL(d time.Duration) LocalOption {
	return func(l *LocalLimiter) { l.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) LocalOption {
	return func(l *LocalLimiter) { l.cleanupEvery = d }
}

func WithClock(c Clock) LocalOption {
	return func(l *LocalLimiter) {
		if c != nil {
			l.clock = c
		}
	}
}

func NewLocalLimiter(opts ...LocalOption) *LocalLimiter {
	l := &LocalLimiter{
		entries:      make(map[string]*localEntry),
		idleTTL:      2 * time.Hour,
		cleanupEvery: 5 * time.Minute,
		clock:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.idleTTL < domain.HourWindow {
		l.idleTTL = domain.HourWindow
	}
	return l
}

func (l *LocalLimiter) IdleTTL() time.Duration      { return l.idleTTL }
func (l *LocalLimiter) CleanupEvery() time.Duration { return l.cleanupEvery }

// Consume implementa domain.Limiter.
func (l *LocalLimiter) Consume(_ context.Context, key domain.Key, limits domain.Limits, cost int) domain.Decision {
	if cost <= 0 {
		return domain.Decision{Allowed: true, Enforced: true, Backend: domain.BackendLocal}.WithLimits(limits.Normalize())
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// relógio lido sob o lock: chamadas serializadas veem tempos crescentes
	now := l.clock()

	ent, ok := l.entries[string(key)]
	if !ok {
		ent = &localEntry{}
		l.entries[string(key)] = ent
	}
	ent.lastSeen = now

	dec := ent.state.Take(limits, cost, now)
	dec.Backend = domain.BackendLocal
	return dec
}

// Len retorna quantas chaves estão em memória.
func (l *LocalLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *LocalLimiter) Cleanup() {
	cutoff := l.clock().Add(-l.idleTTL)

	l.mu.Lock()
	defer l.mu.Unlock()

	for k, ent := range l.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(l.entries, k)
		}
	}
}

// StartJanitor inicia uma goroutine que limpa chaves inativas periodicamente.
// Pare cancelando o contexto.
func (l *LocalLimiter) StartJanitor(ctx context.Context) {
	if l.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(l.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				l.Cleanup()
			}
		}
	}()
}
