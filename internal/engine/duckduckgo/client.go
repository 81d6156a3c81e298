// Package duckduckgo - скрейп-бэкенд поверх html.duckduckgo.com.
// Ссылки выдачи косвенные (/l/?uddg=...), их разворачивает resolver.
package duckduckgo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kitbuilder587/research-engine/internal/engine"
	"github.com/kitbuilder587/research-engine/internal/engine/scrape"
)

const Name = "duckduckgo"

var ErrBlocked = errors.New("duckduckgo served an anomaly page")

type Config struct {
	BaseURL string
	Timeout time.Duration
}

type Client struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://html.duckduckgo.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}
}

func (c *Client) Name() string { return Name }

func (c *Client) Search(ctx context.Context, q engine.Query) (*engine.Response, error) {
	if err := q.Validate(); err != nil {
		return nil, engine.Fatal(Name, err)
	}

	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/html/?q="+url.QueryEscape(q.Term), nil)
	if err != nil {
		return nil, engine.Fatal(Name, fmt.Errorf("create request: %w", err))
	}
	scrape.SetBrowserHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, engine.Transient(Name, fmt.Errorf("do request: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusForbidden:
		return nil, engine.RateLimited(Name, 0, ErrBlocked)
	case resp.StatusCode >= 500:
		return nil, engine.Transient(Name, fmt.Errorf("server error: %d", resp.StatusCode))
	default:
		return nil, engine.Transient(Name, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := scrape.ReadBody(resp.Body)
	if err != nil {
		return nil, engine.Transient(Name, fmt.Errorf("read response: %w", err))
	}

	results, err := parseResults(body, q.MaxResults)
	if err != nil {
		return nil, engine.Transient(Name, err)
	}
	if len(results) == 0 && strings.Contains(strings.ToLower(string(body)), "anomaly") {
		return nil, engine.RateLimited(Name, 0, ErrBlocked)
	}

	c.logger.Debug("duckduckgo search done",
		zap.String("term", q.Term),
		zap.Int("results", len(results)),
	)

	return &engine.Response{
		Query:   q.Term,
		Results: results,
		Elapsed: time.Since(start),
	}, nil
}

// parseResults: результаты лежат в div class="result results_links...",
// заголовок/ссылка в a.result__a, сниппет в элементе с классом result__snippet.
func parseResults(body []byte, limit int) ([]engine.RawResult, error) {
	doc, err := scrape.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	items := scrape.FindAll(doc, func(n *scrape.Node) bool {
		if !scrape.Element("div", "result")(n) {
			return false
		}
		return strings.Contains(scrape.Attr(n, "class"), "results_links")
	}, limit)

	results := make([]engine.RawResult, 0, len(items))
	for _, item := range items {
		link := scrape.Find(item, scrape.Element("a", "result__a"))
		if link == nil {
			continue
		}
		href := scrape.Attr(link, "href")
		title := scrape.Text(link)
		if href == "" || title == "" {
			continue
		}
		if strings.HasPrefix(href, "//") {
			href = "https:" + href
		}

		snippet := ""
		if sn := scrape.Find(item, scrape.Element("a", "result__snippet")); sn != nil {
			snippet = scrape.Text(sn)
		}

		results = append(results, engine.RawResult{
			URL:     href,
			Title:   title,
			Snippet: snippet,
			Engine:  Name,
			Rank:    len(results),
		})
	}
	return results, nil
}
