// Package resolver разворачивает косвенные ссылки поисковой выдачи
// (редиректы провайдеров, короткие ссылки) в конечные адреса.
// Ошибка разрешения никогда не всплывает наружу: URL сохраняется,
// статус становится failed, решение оставить или выкинуть - за вызывающим.
package resolver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kitbuilder587/research-engine/internal/cache/memory"
	"github.com/kitbuilder587/research-engine/internal/engine"
	"github.com/kitbuilder587/research-engine/internal/governor"
	"github.com/kitbuilder587/research-engine/internal/metrics"
)

type Status string

const (
	StatusResolved   Status = "resolved"   // ссылка развернута в конечный адрес
	StatusUnresolved Status = "unresolved" // прямая ссылка, разворачивать нечего
	StatusFailed     Status = "failed"     // развернуть не удалось, оригинал сохранен
)

// Resolved - результат бэкенда плюс конечный адрес.
type Resolved struct {
	engine.RawResult
	ResolvedURL string
	Status      Status
}

// Resolver - один вариант разрешения. CanResolve проверяет URL по паттерну
// провайдера, Resolve возвращает конечный адрес или ошибку.
type Resolver interface {
	Name() string
	CanResolve(rawURL string) bool
	Resolve(ctx context.Context, rawURL string) (string, error)
}

const (
	maxRedirectHops    = 5
	defaultConcurrency = 8
)

var errNoFinalURL = errors.New("could not determine final url")

type ManagerConfig struct {
	Timeout     time.Duration
	CacheTTL    time.Duration
	Concurrency int
}

type cacheEntry struct {
	url    string
	status Status
}

// Manager прогоняет URL через первый подходящий resolver и кеширует
// результат: одна и та же редирект-ссылка встречается в выдаче многократно.
type Manager struct {
	resolvers   []Resolver
	client      *http.Client
	gov         *governor.Governor
	cache       *memory.Cache[cacheEntry]
	cacheTTL    time.Duration
	concurrency int
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

func NewManager(cfg ManagerConfig, gov *governor.Governor, m *metrics.Metrics, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}

	// редиректы ходим руками, клиенту запрещаем: нужен контроль числа хопов
	client := &http.Client{
		Timeout: cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	mgr := &Manager{
		client:      client,
		gov:         gov,
		cache:       memory.New[cacheEntry](),
		cacheTTL:    cfg.CacheTTL,
		concurrency: cfg.Concurrency,
		logger:      logger,
		metrics:     m,
	}

	mgr.resolvers = []Resolver{
		newBaiduResolver(mgr),
		newBingResolver(),
		newGoogleResolver(),
		newDuckDuckGoResolver(),
		newShortlinkResolver(mgr),
	}
	return mgr
}

// Resolve возвращает конечный адрес и статус. Оригинальный URL никогда
// не теряется: при неудаче он же и возвращается со статусом failed.
func (m *Manager) Resolve(ctx context.Context, rawURL string) (string, Status) {
	if rawURL == "" {
		return rawURL, StatusFailed
	}

	if entry, ok := m.cache.Get(rawURL); ok {
		return entry.url, entry.status
	}

	matched := false
	for _, r := range m.resolvers {
		if !r.CanResolve(rawURL) {
			continue
		}
		matched = true

		resolved, err := r.Resolve(ctx, rawURL)
		if err != nil || resolved == "" || resolved == rawURL {
			m.logger.Debug("resolver failed",
				zap.String("resolver", r.Name()),
				zap.String("url", rawURL),
				zap.Error(err),
			)
			m.metrics.RecordResolve(r.Name(), "failed")
			continue
		}

		m.logger.Debug("url resolved",
			zap.String("resolver", r.Name()),
			zap.String("url", rawURL),
			zap.String("resolved", resolved),
		)
		m.metrics.RecordResolve(r.Name(), "resolved")
		m.cache.Set(rawURL, cacheEntry{url: resolved, status: StatusResolved}, m.cacheTTL)
		return resolved, StatusResolved
	}

	if matched {
		m.cache.Set(rawURL, cacheEntry{url: rawURL, status: StatusFailed}, m.cacheTTL)
		return rawURL, StatusFailed
	}

	// ни один паттерн не совпал - ссылка и так прямая
	return rawURL, StatusUnresolved
}

// ResolveAll разворачивает ссылки пачки результатов с ограниченным
// параллелизмом, порядок входа сохраняется.
func (m *Manager) ResolveAll(ctx context.Context, results []engine.RawResult) []Resolved {
	resolved := make([]Resolved, len(results))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)

	for i, r := range results {
		g.Go(func() error {
			finalURL, status := m.Resolve(ctx, r.URL)
			resolved[i] = Resolved{RawResult: r, ResolvedURL: finalURL, Status: status}
			return nil
		})
	}

	_ = g.Wait() // задачи ошибок не возвращают
	return resolved
}

// followRedirects руками проходит цепочку 3xx, не глубже maxRedirectHops.
// Сначала HEAD, на отказ метода - GET. Ходит через governor.
func (m *Manager) followRedirects(ctx context.Context, name, rawURL string) (string, error) {
	return governor.Do(ctx, m.gov, "resolve:"+name, func(ctx context.Context) (string, error) {
		current := rawURL
		for hop := 0; hop < maxRedirectHops; hop++ {
			location, done, err := m.step(ctx, current)
			if err != nil {
				return "", err
			}
			if done {
				if current == rawURL {
					return "", errNoFinalURL
				}
				return current, nil
			}
			current = location
		}
		return "", engine.Fatal(name, errors.New("redirect hop limit exceeded"))
	})
}

// step делает один запрос и возвращает (location, цепочка закончилась, ошибка).
func (m *Manager) step(ctx context.Context, rawURL string) (string, bool, error) {
	resp, err := m.do(ctx, http.MethodHead, rawURL)
	if err != nil {
		return "", false, engine.Transient("resolver", err)
	}
	if resp.StatusCode == http.StatusMethodNotAllowed {
		resp.Body.Close()
		resp, err = m.do(ctx, http.MethodGet, rawURL)
		if err != nil {
			return "", false, engine.Transient("resolver", err)
		}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		location := resp.Header.Get("Location")
		if location == "" {
			return "", false, errNoFinalURL
		}
		if u, err := resp.Request.URL.Parse(location); err == nil {
			location = u.String() // относительный Location
		}
		return location, false, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", false, engine.RateLimited("resolver", 0, errors.New("throttled"))
	case resp.StatusCode >= 500:
		return "", false, engine.Transient("resolver", errors.New(resp.Status))
	default:
		return "", true, nil
	}
}

func (m *Manager) do(ctx context.Context, method, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return m.client.Do(req)
}

// Stop освобождает фоновую уборку кеша.
func (m *Manager) Stop() { m.cache.Stop() }
