// Package mock - тестовый бэкенд с программируемыми результатами,
// ошибками и задержкой.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/kitbuilder587/research-engine/internal/engine"
)

type Engine struct {
	EngineName string
	Results    []engine.RawResult
	Err        error
	ErrScript  []error // ошибки по вызовам; после исчерпания - Err/Results
	Delay      time.Duration

	CallCount int
	LastQuery engine.Query
	AllTerms  []string

	mu sync.Mutex
}

func New(name string) *Engine {
	return &Engine{EngineName: name}
}

func (e *Engine) WithResults(results []engine.RawResult) *Engine {
	e.Results = results
	return e
}

func (e *Engine) WithError(err error) *Engine {
	e.Err = err
	return e
}

// WithErrScript задает ошибки для первых вызовов: nil в скрипте
// означает успешный вызов. Удобно для "два transient, потом успех".
func (e *Engine) WithErrScript(errs ...error) *Engine {
	e.ErrScript = errs
	return e
}

func (e *Engine) WithDelay(d time.Duration) *Engine {
	e.Delay = d
	return e
}

func (e *Engine) Name() string { return e.EngineName }

func (e *Engine) Search(ctx context.Context, q engine.Query) (*engine.Response, error) {
	e.mu.Lock()
	call := e.CallCount
	e.CallCount++
	e.LastQuery = q
	e.AllTerms = append(e.AllTerms, q.Term)
	delay := e.Delay
	err := e.Err
	if call < len(e.ErrScript) {
		err = e.ErrScript[call]
	}
	results := e.Results
	e.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	if err != nil {
		return nil, err
	}

	out := make([]engine.RawResult, len(results))
	copy(out, results)
	for i := range out {
		out[i].Engine = e.EngineName
	}
	if q.MaxResults > 0 && len(out) > q.MaxResults {
		out = out[:q.MaxResults]
	}

	return &engine.Response{Query: q.Term, Results: out}, nil
}

func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CallCount = 0
	e.LastQuery = engine.Query{}
	e.AllTerms = nil
}
