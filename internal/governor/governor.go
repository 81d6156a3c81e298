// Package governor - единая ретрай-политика для всех сетевых вызовов:
// и поиск, и выкачивание контента идут через него, чтобы backoff
// был определен и оттестирован один раз.
package governor

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kitbuilder587/research-engine/internal/engine"
)

type Kind string

const (
	KindRetryExhausted Kind = "retry_exhausted"
	KindFatal          Kind = "fatal"
)

// Error - финальная ошибка после исчерпания попыток или fatal-отказа.
type Error struct {
	Kind     Kind
	Attempts int
	LastErr  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("governor: %s after %d attempt(s): %v", e.Kind, e.Attempts, e.LastErr)
}

func (e *Error) Unwrap() error { return e.LastErr }

type Policy struct {
	MaxAttempts    int           // всего попыток, включая первую
	BaseDelay      time.Duration // база для transient
	RateLimitDelay time.Duration // база для rate_limited, больше обычной
	MaxDelay       time.Duration
	JitterFrac     float64 // доля джиттера, 0.2 = +-20%
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		BaseDelay:      500 * time.Millisecond,
		RateLimitDelay: 2 * time.Second,
		MaxDelay:       30 * time.Second,
		JitterFrac:     0.2,
	}
}

type Governor struct {
	policy  Policy
	limiter *rate.Limiter // общий пейсер исходящих запросов, опционален
	logger  *zap.Logger
}

func New(policy Policy, limiter *rate.Limiter, logger *zap.Logger) *Governor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = 500 * time.Millisecond
	}
	if policy.RateLimitDelay <= 0 {
		policy.RateLimitDelay = 2 * time.Second
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 30 * time.Second
	}
	return &Governor{policy: policy, limiter: limiter, logger: logger}
}

// Do выполняет op с ретраями по классу ошибки:
// fatal - отказ сразу, transient - экспоненциальный backoff от BaseDelay,
// rate_limited - backoff от RateLimitDelay, подсказка Retry-After провайдера
// перекрывает вычисленную задержку.
func Do[T any](ctx context.Context, g *Governor, name string, op func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= g.policy.MaxAttempts; attempt++ {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return zero, &Error{Kind: KindRetryExhausted, Attempts: attempt, LastErr: err}
			}
		}

		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		kind := engine.Classify(err)
		if kind == engine.KindFatal {
			g.logger.Warn("operation failed fatally",
				zap.String("op", name),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return zero, &Error{Kind: KindFatal, Attempts: attempt, LastErr: err}
		}

		if attempt == g.policy.MaxAttempts {
			break
		}

		delay := g.delayFor(kind, attempt, engine.RetryAfterHint(err))
		g.logger.Debug("retrying operation",
			zap.String("op", name),
			zap.Int("attempt", attempt),
			zap.String("kind", string(kind)),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return zero, &Error{Kind: KindRetryExhausted, Attempts: attempt, LastErr: lastErr}
		case <-time.After(delay):
		}
	}

	g.logger.Warn("operation retries exhausted",
		zap.String("op", name),
		zap.Int("attempts", g.policy.MaxAttempts),
		zap.Error(lastErr),
	)
	return zero, &Error{Kind: KindRetryExhausted, Attempts: g.policy.MaxAttempts, LastErr: lastErr}
}

// delayFor: base * 2^(attempt-1) с джиттером; retryAfter от провайдера важнее.
func (g *Governor) delayFor(kind engine.Kind, attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		if retryAfter > g.policy.MaxDelay {
			return g.policy.MaxDelay
		}
		return retryAfter
	}

	base := g.policy.BaseDelay
	if kind == engine.KindRateLimited {
		base = g.policy.RateLimitDelay
	}

	delay := base << (attempt - 1)
	if delay > g.policy.MaxDelay {
		delay = g.policy.MaxDelay
	}

	if g.policy.JitterFrac > 0 {
		jitter := (rand.Float64()*2 - 1) * g.policy.JitterFrac
		delay = time.Duration(float64(delay) * (1 + jitter))
	}
	return delay
}
