package domain

import (
	"math"
	"time"
)

const (
	MinuteWindow = time.Minute
	HourWindow   = time.Hour
)

// BucketState guarda os dois token buckets de uma chave.
//
// O valor zero representa uma chave nunca vista (buckets cheios).
type BucketState struct {
	MinuteTokens float64
	MinuteLast   time.Time
	HourTokens   float64
	HourLast     time.Time
}

// Take reabastece os dois buckets até `now` e tenta debitar `cost` de ambos.
// O débito é atômico: ou sai dos dois, ou de nenhum.
func (b *BucketState) Take(limits Limits, cost int, now time.Time) Decision {
	limits = limits.Normalize()
	minuteCap := float64(limits.PerMinute)
	hourCap := float64(limits.PerHour)

	m := refill(b.MinuteTokens, b.MinuteLast, now, minuteCap, MinuteWindow)
	h := refill(b.HourTokens, b.HourLast, now, hourCap, HourWindow)
	// o último instante nunca anda para trás, senão o intervalo seria creditado duas vezes
	b.MinuteLast = latest(b.MinuteLast, now)
	b.HourLast = latest(b.HourLast, now)

	c := float64(cost)
	if m >= c && h >= c {
		b.MinuteTokens = m - c
		b.HourTokens = h - c
		return Decision{Allowed: true, Enforced: true}.WithLimits(limits)
	}

	b.MinuteTokens = m
	b.HourTokens = h

	wait := math.Max(
		waitFor(m, c, minuteCap, MinuteWindow),
		waitFor(h, c, hourCap, HourWindow),
	)
	return Decision{Allowed: false, RetryAfter: RetryAfterFromSeconds(wait), Enforced: true}.WithLimits(limits)
}

// ceilEpsilon absorve o ruído de ponto flutuante (20.000000000000002 é 20).
const ceilEpsilon = 1e-9

// RetryAfterFromSeconds arredonda para cima e aplica o mínimo de 1s.
func RetryAfterFromSeconds(wait float64) time.Duration {
	secs := int64(math.Ceil(wait - ceilEpsilon))
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}

func latest(a, b time.Time) time.Time {
	if b.Before(a) {
		return a
	}
	return b
}

func refill(tokens float64, last, now time.Time, capacity float64, window time.Duration) float64 {
	if last.IsZero() {
		return capacity
	}
	elapsed := now.Sub(last).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	tokens += elapsed * capacity / window.Seconds()
	if tokens > capacity {
		tokens = capacity
	}
	return tokens
}

func waitFor(tokens, cost, capacity float64, window time.Duration) float64 {
	if tokens >= cost {
		return 0
	}
	return (cost - tokens) * window.Seconds() / capacity
}
