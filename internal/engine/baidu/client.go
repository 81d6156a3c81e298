// Package baidu - скрейп-бэкенд поверх выдачи Baidu, сильнее всего на
// китайских запросах. Ссылки выдачи - редиректы baidu.com/link?url=...,
// настоящий адрес достает resolver.
package baidu

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

const Name = "baidu"

var ErrVerification = errors.New("baidu served a security verification page")

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
		cfg.BaseURL = "https://www.baidu.com"
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

	searchURL := c.baseURL + "/s?wd=" + url.QueryEscape(q.Term) + "&rn=" + strconv.Itoa(q.MaxResults)
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
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusForbidden:
		return nil, engine.RateLimited(Name, 0, ErrVerification)
	case resp.StatusCode >= 500:
		return nil, engine.Transient(Name, fmt.Errorf("server error: %d", resp.StatusCode))
	default:
		return nil, engine.Transient(Name, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := scrape.ReadBody(resp.Body)
	if err != nil {
		return nil, engine.Transient(Name, fmt.Errorf("read response: %w", err))
	}

	if isVerificationPage(body) {
		return nil, engine.RateLimited(Name, 0, ErrVerification)
	}

	results, err := parseResults(body, q.MaxResults)
	if err != nil {
		return nil, engine.Transient(Name, err)
	}

	c.logger.Debug("baidu search done",
		zap.String("term", q.Term),
		zap.Int("results", len(results)),
	)

	return &engine.Response{
		Query:   q.Term,
		Results: results,
		Elapsed: time.Since(start),
	}, nil
}

// parseResults: органика в div class="result c-container", заголовок в h3>a,
// сниппет в элементе с классом c-abstract или content-right.
func parseResults(body []byte, limit int) ([]engine.RawResult, error) {
	doc, err := scrape.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	items := scrape.FindAll(doc, scrape.Element("div", "c-container"), limit)

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

		snippet := ""
		if abs := scrape.Find(item, scrape.Element("div", "c-abstract")); abs != nil {
			snippet = scrape.Text(abs)
		} else if abs := scrape.Find(item, scrape.Element("span", "content-right")); abs != nil {
			snippet = scrape.Text(abs)
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

func isVerificationPage(body []byte) bool {
	s := string(body)
	return strings.Contains(s, "百度安全验证") || strings.Contains(s, "wappass.baidu.com")
}
