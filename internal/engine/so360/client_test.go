package so360

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kitbuilder587/research-engine/internal/engine"
)

const samplePage = `<!DOCTYPE html>
<html><body>
<ul class="result">
<li class="res-list">
  <h3 class="res-title"><a href="https://a.example/1">量子计算概述</a></h3>
  <p class="res-desc">第一段摘要</p>
</li>
<li class="res-list">
  <h3 class="res-title"><a href="/link?m=abc">站内跳转</a></h3>
  <div class="res-rich">富媒体摘要</div>
</li>
<li class="res-list">
  <h3 class="res-title"><a href="https://www.so.com/s?q=self">更多结果</a></h3>
</li>
</ul>
</body></html>`

func newClient(srvURL string) *Client {
	return New(Config{BaseURL: srvURL, Timeout: time.Second}, nil)
}

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "量子计算" {
			t.Errorf("q = %q, want 量子计算", r.URL.Query().Get("q"))
		}
		w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	resp, err := newClient(srv.URL).Search(context.Background(), engine.Query{Term: "量子计算", MaxResults: 8})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	// собственная ссылка so.com отфильтрована
	if len(resp.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(resp.Results))
	}
	first := resp.Results[0]
	if first.URL != "https://a.example/1" || first.Title != "量子计算概述" {
		t.Errorf("first = %+v", first)
	}
	if first.Snippet != "第一段摘要" {
		t.Errorf("snippet = %q", first.Snippet)
	}
	// относительная ссылка дополняется до базового адреса
	if resp.Results[1].URL != srv.URL+"/link?m=abc" {
		t.Errorf("relative url = %q, want %s/link?m=abc", resp.Results[1].URL, srv.URL)
	}
	if resp.Results[1].Snippet != "富媒体摘要" {
		t.Errorf("rich snippet = %q", resp.Results[1].Snippet)
	}
}

func TestSearchForbiddenIsRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).Search(context.Background(), engine.Query{Term: "x", MaxResults: 1})
	if engine.Classify(err) != engine.KindRateLimited {
		t.Fatalf("kind = %v, want rate_limited", engine.Classify(err))
	}
}

func TestSearchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).Search(context.Background(), engine.Query{Term: "x", MaxResults: 1})
	if engine.Classify(err) != engine.KindTransient {
		t.Fatalf("kind = %v, want transient", engine.Classify(err))
	}
}

func TestSearchEmptyResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><ul class="result"></ul></body></html>`))
	}))
	defer srv.Close()

	resp, err := newClient(srv.URL).Search(context.Background(), engine.Query{Term: "nothing", MaxResults: 8})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(resp.Results) != 0 {
		t.Errorf("results = %d, want 0", len(resp.Results))
	}
}
