// Package googleapi - бэкенд поверх Google Custom Search JSON API.
// Единственный структурированный (не скрейп) бэкенд, требует api_key + cse_id.
package googleapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kitbuilder587/research-engine/internal/engine"
)

const Name = "google"

// API отдает максимум 10 результатов на запрос
const maxAPIResults = 10

var (
	ErrMissingAPIKey = errors.New("google api key is not configured")
	ErrMissingCSEID  = errors.New("google cse id is not configured")
)

type Config struct {
	APIKey  string
	CSEID   string
	BaseURL string
	Timeout time.Duration
}

type Client struct {
	apiKey  string
	cseID   string
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.googleapis.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		apiKey:  cfg.APIKey,
		cseID:   cfg.CSEID,
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}
}

func (c *Client) Name() string { return Name }

type apiResponse struct {
	Items []apiItem `json:"items"`
	Error *apiError `json:"error"`
}

type apiItem struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Client) Search(ctx context.Context, q engine.Query) (*engine.Response, error) {
	if err := q.Validate(); err != nil {
		return nil, engine.Fatal(Name, err)
	}
	if c.apiKey == "" {
		return nil, engine.Fatal(Name, ErrMissingAPIKey)
	}
	if c.cseID == "" {
		return nil, engine.Fatal(Name, ErrMissingCSEID)
	}

	num := q.MaxResults
	if num > maxAPIResults {
		num = maxAPIResults
	}

	params := url.Values{}
	params.Set("key", c.apiKey)
	params.Set("cx", c.cseID)
	params.Set("q", q.Term)
	params.Set("num", strconv.Itoa(num))

	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/customsearch/v1?"+params.Encode(), nil)
	if err != nil {
		return nil, engine.Fatal(Name, fmt.Errorf("create request: %w", err))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, engine.Transient(Name, fmt.Errorf("do request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, engine.Transient(Name, fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		// разбор ниже
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, engine.RateLimited(Name, retryAfter(resp), errors.New("quota exceeded"))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, engine.Fatal(Name, fmt.Errorf("auth rejected: status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusBadRequest:
		return nil, engine.Fatal(Name, fmt.Errorf("bad request: %s", truncate(body, 200)))
	case resp.StatusCode >= 500:
		return nil, engine.Transient(Name, fmt.Errorf("server error: %d", resp.StatusCode))
	default:
		return nil, engine.Transient(Name, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, engine.Transient(Name, fmt.Errorf("unmarshal response: %w", err))
	}
	if apiResp.Error != nil {
		return nil, engine.Fatal(Name, fmt.Errorf("api error %d: %s", apiResp.Error.Code, apiResp.Error.Message))
	}

	results := make([]engine.RawResult, 0, len(apiResp.Items))
	for i, item := range apiResp.Items {
		if item.Link == "" {
			continue
		}
		results = append(results, engine.RawResult{
			URL:     item.Link,
			Title:   item.Title,
			Snippet: item.Snippet,
			Engine:  Name,
			Rank:    i,
		})
	}

	c.logger.Debug("google search done",
		zap.String("term", q.Term),
		zap.Int("results", len(results)),
	)

	return &engine.Response{
		Query:   q.Term,
		Results: results,
		Elapsed: time.Since(start),
	}, nil
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

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}
