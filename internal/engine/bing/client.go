// Package bing - скрейп-бэкенд поверх HTML-выдачи Bing.
// Ключей не требует, но антибот может отдать проверочную страницу.
package bing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kitbuilder587/research-engine/internal/engine"
	"github.com/kitbuilder587/research-engine/internal/engine/scrape"
)

const Name = "bing"

var ErrBlocked = errors.New("bing served an anti-bot page")

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
		cfg.BaseURL = "https://www.bing.com"
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

	searchURL := c.baseURL + "/search?q=" + url.QueryEscape(q.Term) + "&count=" + strconv.Itoa(q.MaxResults)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
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
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, engine.RateLimited(Name, 0, errors.New("throttled"))
	case resp.StatusCode == http.StatusForbidden:
		// Bing банит скрейперов через 403, это throttle а не конфиг
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
	if len(results) == 0 && looksLikeCaptcha(body) {
		return nil, engine.RateLimited(Name, 0, ErrBlocked)
	}

	c.logger.Debug("bing search done",
		zap.String("term", q.Term),
		zap.Int("results", len(results)),
	)

	return &engine.Response{
		Query:   q.Term,
		Results: results,
		Elapsed: time.Since(start),
	}, nil
}

// parseResults разбирает органическую выдачу: <li class="b_algo"> с
// заголовком в h2>a и сниппетом в div.b_caption.
func parseResults(body []byte, limit int) ([]engine.RawResult, error) {
	doc, err := scrape.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	items := scrape.FindAll(doc, scrape.Element("li", "b_algo"), limit)

	results := make([]engine.RawResult, 0, len(items))
	for _, item := range items {
		heading := scrape.Find(item, scrape.Element("h2", ""))
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

		snippet := ""
		if caption := scrape.Find(item, scrape.Element("div", "b_caption")); caption != nil {
			snippet = scrape.Text(caption)
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

func looksLikeCaptcha(body []byte) bool {
	lower := strings.ToLower(string(body))
	return strings.Contains(lower, "captcha") || strings.Contains(lower, "verify you are human")
}
