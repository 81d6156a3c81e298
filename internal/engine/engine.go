package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrEmptyTerm         = errors.New("search term cannot be empty")
	ErrInvalidMaxResults = errors.New("max results must be at least 1")
	ErrNoEnginesEnabled  = errors.New("no search engines enabled")
)

// Kind - класс ошибки бэкенда, определяет ретрай-политику
type Kind string

const (
	KindTransient   Kind = "transient"    // сеть/5xx/таймаут, можно ретраить
	KindRateLimited Kind = "rate_limited" // 429 или антибот, ретрай с большей задержкой
	KindFatal       Kind = "fatal"        // авторизация/конфиг, ретрай бессмыслен
)

// Error - ошибка одного бэкенда с классификацией.
// RetryAfter заполняется если провайдер прислал подсказку (заголовок Retry-After).
type Error struct {
	Engine     string
	Kind       Kind
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("engine %s: %s: %v", e.Engine, e.Kind, e.Err)
	}
	return fmt.Sprintf("engine %s: %s", e.Engine, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func Transient(name string, err error) *Error {
	return &Error{Engine: name, Kind: KindTransient, Err: err}
}

func RateLimited(name string, retryAfter time.Duration, err error) *Error {
	return &Error{Engine: name, Kind: KindRateLimited, RetryAfter: retryAfter, Err: err}
}

func Fatal(name string, err error) *Error {
	return &Error{Engine: name, Kind: KindFatal, Err: err}
}

// Classify определяет класс произвольной ошибки.
// Неизвестные ошибки считаем transient: сеть ненадежна, лишний ретрай дешевле потерянного бэкенда.
func Classify(err error) Kind {
	var engErr *Error
	if errors.As(err, &engErr) {
		return engErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}
	return KindTransient
}

// RetryAfterHint достает подсказку провайдера из цепочки ошибок, 0 если нет.
func RetryAfterHint(err error) time.Duration {
	var engErr *Error
	if errors.As(err, &engErr) {
		return engErr.RetryAfter
	}
	return 0
}

// Query - один поисковый запрос к одному или всем бэкендам
type Query struct {
	Term       string
	MaxResults int
	EngineHint string // если непустой - запрос идет только в этот бэкенд
}

func (q Query) Validate() error {
	if strings.TrimSpace(q.Term) == "" {
		return ErrEmptyTerm
	}
	if q.MaxResults < 1 {
		return ErrInvalidMaxResults
	}
	return nil
}

// RawResult - один хит одного бэкенда. URL может быть косвенным
// (редирект провайдера), разрешением занимается resolver.
// Rank локален для бэкенда и сравним между бэкендами только после merge в aggregate.
type RawResult struct {
	URL     string
	Title   string
	Snippet string
	Engine  string
	Rank    int
	Term    string // проставляет координатор, бэкенды не заполняют
}

type Response struct {
	Query   string
	Results []RawResult
	Elapsed time.Duration
}

// Engine - один внешний поисковый провайдер.
// Пустая выдача - это не ошибка: Search возвращает пустой Results и nil.
// Ошибки только классов transient/rate_limited/fatal через *Error.
type Engine interface {
	Name() string
	Search(ctx context.Context, q Query) (*Response, error)
}
