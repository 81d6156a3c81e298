// Package research - верхний уровень конвейера: поисковые слова уходят
// веером по бэкендам, ссылки разрешаются и дедуплицируются, по отобранным
// адресам выкачивается контент.
package research

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kitbuilder587/research-engine/internal/aggregate"
	"github.com/kitbuilder587/research-engine/internal/cache/memory"
	"github.com/kitbuilder587/research-engine/internal/config"
	"github.com/kitbuilder587/research-engine/internal/coordinator"
	"github.com/kitbuilder587/research-engine/internal/engine"
	"github.com/kitbuilder587/research-engine/internal/fetch"
	"github.com/kitbuilder587/research-engine/internal/metrics"
	"github.com/kitbuilder587/research-engine/internal/resolver"
)

// Deps - зависимости сервиса. Nil-поля заменяются безопасными заглушками,
// кроме Coordinator и Fetcher - без них сервис не собрать.
type Deps struct {
	Coordinator *coordinator.Coordinator
	Resolver    *resolver.Manager
	Fetcher     *fetch.Fetcher
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
	// Priorities: имя бэкенда -> приоритет, для ранжирования при слиянии
	Priorities map[string]int
}

type Service struct {
	cfg         config.ResearchConfig
	coordinator *coordinator.Coordinator
	resolver    *resolver.Manager
	fetcher     *fetch.Fetcher
	metrics     *metrics.Metrics
	logger      *zap.Logger
	priorities  map[string]int

	// выдача по одному слову переживает повторные запросы в рамках TTL
	termCache *memory.Cache[[]engine.RawResult]
	cacheTTL  time.Duration
}

func NewService(cfg config.ResearchConfig, cacheTTL time.Duration, deps Deps) (*Service, error) {
	if deps.Coordinator == nil {
		return nil, fmt.Errorf("research: coordinator is required")
	}
	if deps.Fetcher == nil {
		return nil, fmt.Errorf("research: fetcher is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.MaxTerms <= 0 {
		cfg.MaxTerms = 5
	}
	if cfg.MaxSelectedLinks <= 0 {
		cfg.MaxSelectedLinks = 50
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}

	return &Service{
		cfg:         cfg,
		coordinator: deps.Coordinator,
		resolver:    deps.Resolver,
		fetcher:     deps.Fetcher,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		priorities:  deps.Priorities,
		termCache:   memory.New[[]engine.RawResult](),
		cacheTTL:    cacheTTL,
	}, nil
}

// RunResearchQueries прогоняет слова через поиск, разрешение ссылок и
// дедупликацию. Слова сверх MaxTerms молча отбрасываются.
func (s *Service) RunResearchQueries(ctx context.Context, terms []string) ([]aggregate.Result, error) {
	terms = s.capTerms(terms)
	if len(terms) == 0 {
		return nil, engine.ErrEmptyTerm
	}

	raw, err := s.searchWithCache(ctx, terms)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		s.logger.Info("research produced no results", zap.Strings("terms", terms))
		return nil, nil
	}

	resolved := s.resolve(ctx, raw)

	results := aggregate.Aggregate(resolved, aggregate.Options{
		MaxResults: s.cfg.MaxSelectedLinks,
		TieBreak:   aggregate.TieBreak(s.cfg.TieBreak),
		Priorities: s.priorities,
	})
	s.metrics.RecordAggregation(len(results), len(resolved)-len(results))

	s.logger.Info("research finished",
		zap.Int("raw", len(raw)),
		zap.Int("selected", len(results)),
	)
	return results, nil
}

// searchWithCache ходит в координатор только за словами, которых нет в
// кэше, и склеивает свежую выдачу с кэшированной.
func (s *Service) searchWithCache(ctx context.Context, terms []string) ([]engine.RawResult, error) {
	var out []engine.RawResult
	var missing []string

	for _, term := range terms {
		if cached, ok := s.termCache.Get(termKey(term)); ok {
			s.logger.Debug("term cache hit", zap.String("term", term))
			out = append(out, cached...)
			continue
		}
		missing = append(missing, term)
	}

	if len(missing) == 0 {
		return out, nil
	}

	queries := make([]engine.Query, 0, len(missing))
	for _, term := range missing {
		queries = append(queries, engine.Query{Term: term, MaxResults: s.cfg.MaxResultsPerTerm})
	}

	fresh, err := s.coordinator.SearchAll(ctx, queries)
	if err != nil {
		// кэшированная часть лучше, чем ничего
		if len(out) > 0 {
			s.logger.Warn("search failed, serving cached terms only", zap.Error(err))
			return out, nil
		}
		return nil, err
	}

	byTerm := make(map[string][]engine.RawResult)
	for _, r := range fresh {
		byTerm[r.Term] = append(byTerm[r.Term], r)
	}
	for _, term := range missing {
		if batch := byTerm[term]; len(batch) > 0 {
			s.termCache.Set(termKey(term), batch, s.cacheTTL)
		}
	}

	return append(out, fresh...), nil
}

// resolve прогоняет сырые ссылки через резолвер; при выключенном
// разрешении все результаты помечаются как unresolved с исходным адресом.
func (s *Service) resolve(ctx context.Context, raw []engine.RawResult) []resolver.Resolved {
	if !s.cfg.EnableResolution || s.resolver == nil {
		out := make([]resolver.Resolved, len(raw))
		for i, r := range raw {
			out[i] = resolver.Resolved{
				RawResult:   r,
				ResolvedURL: r.URL,
				Status:      resolver.StatusUnresolved,
			}
		}
		return out
	}
	return s.resolver.ResolveAll(ctx, raw)
}

// FetchContents выкачивает контент по списку адресов. Порядок выхода
// совпадает с порядком входа, частичные сбои приходят как статусы.
func (s *Service) FetchContents(ctx context.Context, urls []string) []fetch.Content {
	out := make([]fetch.Content, len(urls))
	if len(urls) == 0 {
		return out
	}

	concurrency := s.cfg.FetchConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	if !s.cfg.EnableParallel {
		concurrency = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, u := range urls {
		g.Go(func() error {
			out[i] = s.fetcher.Fetch(ctx, u)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (s *Service) capTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		out = append(out, t)
		if len(out) == s.cfg.MaxTerms {
			break
		}
	}
	return out
}

func termKey(term string) string {
	return "term:" + strings.ToLower(term)
}

func (s *Service) Stop() {
	s.termCache.Stop()
	if s.resolver != nil {
		s.resolver.Stop()
	}
	s.fetcher.Stop()
}
