package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/time/rate"

	"github.com/kitbuilder587/research-engine/internal/config"
	"github.com/kitbuilder587/research-engine/internal/coordinator"
	"github.com/kitbuilder587/research-engine/internal/engine"
	"github.com/kitbuilder587/research-engine/internal/engine/registry"
	"github.com/kitbuilder587/research-engine/internal/fetch"
	"github.com/kitbuilder587/research-engine/internal/governor"
	"github.com/kitbuilder587/research-engine/internal/metrics"
	"github.com/kitbuilder587/research-engine/internal/ratelimit"
	"github.com/kitbuilder587/research-engine/internal/research"
	"github.com/kitbuilder587/research-engine/internal/resolver"
)

type output struct {
	URL      string   `json:"url"`
	Title    string   `json:"title,omitempty"`
	Snippet  string   `json:"snippet,omitempty"`
	Engines  []string `json:"engines"`
	Content  string   `json:"content,omitempty"`
	FetchErr string   `json:"fetch_status,omitempty"`
}

func main() {
	var (
		termsFlag = flag.String("terms", "", "comma-separated search terms")
		fetchFlag = flag.Bool("fetch", false, "fetch page content for selected links")
		limitFlag = flag.Int("limit", 0, "max selected links (0 = config default)")
	)
	flag.Parse()

	if err := run(*termsFlag, *fetchFlag, *limitFlag); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(termsArg string, doFetch bool, limit int) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if limit > 0 {
		cfg.Research.MaxSelectedLinks = limit
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	terms := splitTerms(termsArg)
	if len(terms) == 0 {
		return fmt.Errorf("no search terms: pass -terms \"foo, bar\"")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	var limiter *rate.Limiter
	if rpm := cfg.Governor.RatePerMinute; rpm > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1)
	}
	gov := governor.New(governor.Policy{
		MaxAttempts:    cfg.Governor.MaxAttempts,
		BaseDelay:      cfg.Governor.BaseDelay,
		RateLimitDelay: cfg.Governor.RateLimitDelay,
	}, limiter, logger)

	engines, err := registry.Build(cfg, engine.BreakerConfig{}, logger)
	if err != nil {
		return fmt.Errorf("build engines: %w", err)
	}

	coord := coordinator.New(engines, gov, coordinator.Config{
		Deadline:    cfg.Research.SearchTimeout,
		Concurrency: cfg.Research.SearchConcurrency,
		Parallel:    cfg.Research.EnableParallel,
	}, m, logger)

	res := resolver.NewManager(resolver.ManagerConfig{
		CacheTTL:    cfg.Cache.TTL,
		Concurrency: cfg.Research.SearchConcurrency,
	}, gov, m, logger)

	fetcher := fetch.New(fetch.Config{
		Timeout:          cfg.Research.FetchTimeout,
		MaxContentLength: cfg.Research.MaxContentLength,
	}, gov, ratelimit.New(ratelimit.Config{RequestsPerMinute: cfg.RateLimit.RequestsPerMinute}), m, logger)

	svc, err := research.NewService(cfg.Research, cfg.Cache.TTL, research.Deps{
		Coordinator: coord,
		Resolver:    res,
		Fetcher:     fetcher,
		Metrics:     m,
		Logger:      logger,
		Priorities:  cfg.Priorities(),
	})
	if err != nil {
		return err
	}
	defer svc.Stop()

	results, err := svc.RunResearchQueries(ctx, terms)
	if err != nil {
		return fmt.Errorf("research: %w", err)
	}

	out := make([]output, len(results))
	for i, r := range results {
		out[i] = output{
			URL:     r.ResolvedURL,
			Title:   r.Title,
			Snippet: r.Snippet,
			Engines: r.Engines,
		}
	}

	if doFetch {
		urls := make([]string, len(results))
		for i, r := range results {
			urls[i] = r.ResolvedURL
		}
		contents := svc.FetchContents(ctx, urls)
		for i, c := range contents {
			if c.Status == fetch.StatusOK {
				out[i].Content = c.Text
			} else {
				out[i].FetchErr = string(c.Status)
			}
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func splitTerms(arg string) []string {
	var terms []string
	for _, t := range strings.Split(arg, ",") {
		if t = strings.TrimSpace(t); t != "" {
			terms = append(terms, t)
		}
	}
	return terms
}
