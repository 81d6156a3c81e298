// Package coordinator рассылает поисковые слова по всем включенным бэкендам.
// Отказ одного бэкенда никогда не валит остальных: частичные сбои
// логируются и учитываются, наружу уходит все, что удалось собрать.
package coordinator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kitbuilder587/research-engine/internal/engine"
	"github.com/kitbuilder587/research-engine/internal/governor"
	"github.com/kitbuilder587/research-engine/internal/metrics"
)

const defaultConcurrency = 8

type Config struct {
	Deadline    time.Duration // общий дедлайн всей фазы поиска
	Concurrency int
	Parallel    bool // false - последовательный обход, контракт тот же
}

type Coordinator struct {
	engines []engine.Engine
	gov     *governor.Governor
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func New(engines []engine.Engine, gov *governor.Governor, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Coordinator{
		engines: engines,
		gov:     gov,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}
}

// task - одна пара бэкенд x поисковое слово
type task struct {
	eng   engine.Engine
	query engine.Query
}

type failure struct {
	engine string
	term   string
	err    error
}

// SearchAll выполняет все пары (бэкенд, слово) под одним дедлайном.
// Порядок результатов не определен. Ошибка возвращается только если
// не включен ни один бэкенд или все задачи провалились без единого хита.
func (c *Coordinator) SearchAll(ctx context.Context, queries []engine.Query) ([]engine.RawResult, error) {
	if len(c.engines) == 0 {
		return nil, engine.ErrNoEnginesEnabled
	}
	if len(queries) == 0 {
		return nil, nil
	}

	tasks := c.buildTasks(queries)
	if len(tasks) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Deadline)
	defer cancel()

	c.logger.Info("starting search fan-out",
		zap.Int("engines", len(c.engines)),
		zap.Int("terms", len(queries)),
		zap.Int("tasks", len(tasks)),
		zap.Bool("parallel", c.cfg.Parallel),
	)

	var (
		mu       sync.Mutex
		results  []engine.RawResult
		failures []failure
		hits     int
	)

	run := func(t task) {
		batch, err := c.runOne(ctx, t)

		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			failures = append(failures, failure{engine: t.eng.Name(), term: t.query.Term, err: err})
			return
		}
		hits += len(batch)
		results = append(results, batch...)
	}

	if c.cfg.Parallel {
		g, _ := errgroup.WithContext(ctx)
		g.SetLimit(c.cfg.Concurrency)
		for _, t := range tasks {
			g.Go(func() error {
				run(t)
				return nil // сбои изолированы, группу не отменяем
			})
		}
		_ = g.Wait()
	} else {
		for _, t := range tasks {
			run(t)
		}
	}

	c.logger.Info("search fan-out finished",
		zap.Int("results", hits),
		zap.Int("failed_tasks", len(failures)),
	)

	if len(results) == 0 && len(failures) > 0 {
		return nil, fmt.Errorf("all search tasks failed: %s", summarize(failures))
	}
	return results, nil
}

// runOne гоняет одну задачу через governor и проставляет результатам
// имя бэкенда и слово запроса.
func (c *Coordinator) runOne(ctx context.Context, t task) ([]engine.RawResult, error) {
	name := t.eng.Name()

	c.metrics.IncSearchInFlight()
	defer c.metrics.DecSearchInFlight()

	start := time.Now()
	resp, err := governor.Do(ctx, c.gov, "search:"+name, func(ctx context.Context) (*engine.Response, error) {
		return t.eng.Search(ctx, t.query)
	})
	elapsed := time.Since(start)

	if err != nil {
		c.metrics.RecordSearch(name, "error", elapsed)
		c.logger.Warn("search task failed",
			zap.String("engine", name),
			zap.String("term", t.query.Term),
			zap.Error(err),
		)
		return nil, err
	}

	c.metrics.RecordSearch(name, "success", elapsed)

	batch := resp.Results
	for i := range batch {
		batch[i].Engine = name
		batch[i].Term = t.query.Term
	}
	if t.query.MaxResults > 0 && len(batch) > t.query.MaxResults {
		batch = batch[:t.query.MaxResults]
	}
	return batch, nil
}

func (c *Coordinator) buildTasks(queries []engine.Query) []task {
	var tasks []task
	for _, q := range queries {
		if err := q.Validate(); err != nil {
			c.logger.Warn("skipping invalid query", zap.String("term", q.Term), zap.Error(err))
			continue
		}
		for _, eng := range c.engines {
			if q.EngineHint != "" && q.EngineHint != eng.Name() {
				continue
			}
			tasks = append(tasks, task{eng: eng, query: q})
		}
	}
	return tasks
}

func summarize(failures []failure) string {
	seen := make(map[string]struct{})
	var sb strings.Builder
	for _, f := range failures {
		if _, ok := seen[f.engine]; ok {
			continue
		}
		seen[f.engine] = struct{}{}
		if sb.Len() > 0 {
			sb.WriteString("; ")
		}
		fmt.Fprintf(&sb, "%s: %v", f.engine, f.err)
	}
	return sb.String()
}
