// Package fetch выкачивает страницы по отобранным ссылкам и достает из
// них видимый текст. Ошибка выкачивания - это данные, а не ошибка:
// вызывающий всегда получает Content со статусом.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kitbuilder587/research-engine/internal/engine"
	"github.com/kitbuilder587/research-engine/internal/engine/scrape"
	"github.com/kitbuilder587/research-engine/internal/governor"
	"github.com/kitbuilder587/research-engine/internal/metrics"
	"github.com/kitbuilder587/research-engine/internal/ratelimit"
)

type Status string

const (
	StatusOK          Status = "ok"
	StatusTimeout     Status = "timeout"
	StatusHTTPError   Status = "http_error"
	StatusParseError  Status = "parse_error"
	StatusRateLimited Status = "rate_limited"
)

// maxBodyBytes ограничивает чтение тела страницы
const maxBodyBytes = 2 << 20 // 2MB

const (
	defaultTimeout   = 30 * time.Second
	defaultMaxLength = 6000
)

type Content struct {
	URL     string
	Text    string
	Status  Status
	Elapsed time.Duration
}

type Config struct {
	Timeout          time.Duration // бюджет одного выкачивания, включая ретраи
	MaxContentLength int           // в рунах, не в байтах
}

type Fetcher struct {
	cfg     Config
	client  *http.Client
	gov     *governor.Governor
	hosts   *ratelimit.Limiter
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func New(cfg Config, gov *governor.Governor, hosts *ratelimit.Limiter, m *metrics.Metrics, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = defaultMaxLength
	}
	if gov == nil {
		gov = governor.New(governor.DefaultPolicy(), nil, logger)
	}
	if hosts == nil {
		hosts = ratelimit.New(ratelimit.Config{})
	}
	return &Fetcher{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		gov:     gov,
		hosts:   hosts,
		logger:  logger,
		metrics: m,
	}
}

// httpError - неуспешный HTTP-статус страницы
type httpError struct {
	code int
}

func (e *httpError) Error() string { return fmt.Sprintf("unexpected status %d", e.code) }

// Fetch выкачивает одну страницу. Весь бюджет (включая ретраи governor)
// ограничен cfg.Timeout, при его исчерпании возвращается статус timeout
// с пустым текстом.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) Content {
	start := time.Now()

	done := func(text string, status Status) Content {
		elapsed := time.Since(start)
		f.metrics.RecordFetch(string(status), elapsed)
		return Content{URL: rawURL, Text: text, Status: status, Elapsed: elapsed}
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return done("", StatusHTTPError)
	}
	if !f.hosts.Allow(u.Host) {
		f.logger.Debug("per-host limit hit", zap.String("host", u.Host))
		return done("", StatusRateLimited)
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	body, err := governor.Do(ctx, f.gov, "fetch:"+u.Host, func(ctx context.Context) ([]byte, error) {
		return f.get(ctx, rawURL)
	})
	if err != nil {
		status := classify(err)
		f.logger.Warn("fetch failed",
			zap.String("url", rawURL),
			zap.String("status", string(status)),
			zap.Error(err),
		)
		return done("", status)
	}

	text, err := ExtractText(body, f.cfg.MaxContentLength)
	if err != nil {
		return done("", StatusParseError)
	}
	return done(text, StatusOK)
}

func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, engine.Fatal("fetch", err)
	}
	scrape.SetBrowserHeaders(req)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, engine.Transient("fetch", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, engine.RateLimited("fetch", retryAfter(resp), &httpError{code: resp.StatusCode})
	case resp.StatusCode >= 500:
		return nil, engine.Transient("fetch", &httpError{code: resp.StatusCode})
	default:
		// 4xx по этому адресу не починится ретраем
		return nil, engine.Fatal("fetch", &httpError{code: resp.StatusCode})
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}

// retryAfter читает заголовок Retry-After (в секундах), 0 если нет.
func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// classify переводит финальную ошибку governor в статус контента.
func classify(err error) Status {
	if errors.Is(err, context.DeadlineExceeded) {
		return StatusTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return StatusTimeout
	}
	var he *httpError
	if errors.As(err, &he) {
		if he.code == http.StatusTooManyRequests {
			return StatusRateLimited
		}
		return StatusHTTPError
	}
	return StatusHTTPError
}

func (f *Fetcher) Stop() {
	f.hosts.Stop()
}
