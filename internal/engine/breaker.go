package engine

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const (
	defaultBreakerMaxFailures uint32 = 5
	defaultBreakerTimeout            = 30 * time.Second
	defaultBreakerInterval           = 60 * time.Second
)

var ErrBreakerOpen = errors.New("engine circuit breaker is open")

type BreakerConfig struct {
	MaxFailures uint32
	Timeout     time.Duration // сколько держим разомкнутым до half-open
	Interval    time.Duration
}

// BreakerEngine оборачивает бэкенд circuit breaker-ом: после серии отказов
// запросы отбрасываются сразу, без похода в сеть. Разомкнутый breaker
// классифицируется как fatal, чтобы governor не ретраил впустую.
type BreakerEngine struct {
	inner   Engine
	breaker *gobreaker.CircuitBreaker[*Response]
	logger  *zap.Logger
}

func WithBreaker(inner Engine, cfg BreakerConfig, logger *zap.Logger) *BreakerEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = defaultBreakerMaxFailures
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultBreakerTimeout
	}
	if cfg.Interval == 0 {
		cfg.Interval = defaultBreakerInterval
	}

	name := inner.Name()
	cb := gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        "engine:" + name,
		MaxRequests: 1, // один пробный запрос в half-open
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("engine breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			// пустая выдача и fatal-конфиг не должны размыкать breaker:
			// он защищает от деградировавшего провайдера, не от кривых ключей
			return err == nil || Classify(err) == KindFatal
		},
	})

	return &BreakerEngine{inner: inner, breaker: cb, logger: logger}
}

func (b *BreakerEngine) Name() string { return b.inner.Name() }

func (b *BreakerEngine) Search(ctx context.Context, q Query) (*Response, error) {
	resp, err := b.breaker.Execute(func() (*Response, error) {
		return b.inner.Search(ctx, q)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, Fatal(b.inner.Name(), ErrBreakerOpen)
		}
		return nil, err
	}
	return resp, nil
}
