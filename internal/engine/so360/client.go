// Package so360 - скрейп-бэкенд поверх HTML-выдачи 360搜索 (so.com).
// Как и baidu, силен в китайском сегменте и не требует ключей.
package so360

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

const Name = "so360"

var ErrBlocked = errors.New("so360 served an anti-bot page")

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
		cfg.BaseURL = "https://www.so.com"
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
		c.baseURL+"/s?q="+url.QueryEscape(q.Term), nil)
	if err != nil {
		return nil, engine.Fatal(Name, fmt.Errorf("create request: %w", err))
	}
	scrape.SetBrowserHeaders(req)
	req.Header.Set("Referer", "https://www.so.com/")

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

	results, err := c.parseResults(body, q.MaxResults)
	if err != nil {
		return nil, engine.Transient(Name, err)
	}

	c.logger.Debug("so360 search done",
		zap.String("term", q.Term),
		zap.Int("results", len(results)),
	)

	return &engine.Response{
		Query:   q.Term,
		Results: results,
		Elapsed: time.Since(start),
	}, nil
}

// parseResults: органика в li class="res-list", заголовок в h3>a,
// сниппет в элементе с классом res-desc или res-rich. Собственные
// ссылки so.com/360.com отфильтровываются, относительные дополняются.
func (c *Client) parseResults(body []byte, limit int) ([]engine.RawResult, error) {
	doc, err := scrape.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	items := scrape.FindAll(doc, scrape.Element("li", "res-list"), limit)

	results := make([]engine.RawResult, 0, len(items))
	for _, item := range items {
		heading := scrape.Find(item, scrape.Element("h3", ""))
		if heading == nil {
			continue
		}
		link := scrape.Find(heading, scrape.Element("a", ""))
		if link == nil {
			continue
		}
		href := scrape.Attr(link, "href")
		title := scrape.Text(link)
		if href == "" || title == "" {
			continue
		}
		if strings.Contains(href, "so.com") || strings.Contains(href, "360.com") {
			continue
		}
		if strings.HasPrefix(href, "/") {
			href = c.baseURL + href
		}

		snippet := ""
		if desc := scrape.Find(item, scrape.Element("p", "res-desc")); desc != nil {
			snippet = scrape.Text(desc)
		} else if rich := scrape.Find(item, scrape.Element("div", "res-rich")); rich != nil {
			snippet = scrape.Text(rich)
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
