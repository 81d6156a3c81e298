package resolver

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kitbuilder587/research-engine/internal/engine"
	"github.com/kitbuilder587/research-engine/internal/governor"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	gov := governor.New(governor.Policy{
		MaxAttempts:    2,
		BaseDelay:      time.Millisecond,
		RateLimitDelay: time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
	}, nil, nil)
	m := NewManager(ManagerConfig{Timeout: time.Second}, gov, nil, nil)
	t.Cleanup(m.Stop)
	return m
}

func TestResolveGoogleRedirect(t *testing.T) {
	m := newTestManager(t)

	got, status := m.Resolve(context.Background(),
		"https://www.google.com/url?q=https%3A%2F%2Fa.example%2Fdoc&sa=U")
	if status != StatusResolved {
		t.Fatalf("status = %q, want resolved", status)
	}
	if got != "https://a.example/doc" {
		t.Errorf("url = %q, want https://a.example/doc", got)
	}
}

func TestResolveDuckDuckGoRedirect(t *testing.T) {
	m := newTestManager(t)

	got, status := m.Resolve(context.Background(),
		"https://duckduckgo.com/l/?uddg=https%3A%2F%2Fb.example%2Fpage&rut=abc")
	if status != StatusResolved {
		t.Fatalf("status = %q, want resolved", status)
	}
	if got != "https://b.example/page" {
		t.Errorf("url = %q", got)
	}
}

func TestResolveBingBase64(t *testing.T) {
	m := newTestManager(t)

	encoded := "a1" + base64.RawURLEncoding.EncodeToString([]byte("https://c.example/article"))
	got, status := m.Resolve(context.Background(),
		"https://www.bing.com/ck/a?!&&p=xyz&u="+encoded)
	if status != StatusResolved {
		t.Fatalf("status = %q, want resolved", status)
	}
	if got != "https://c.example/article" {
		t.Errorf("url = %q, want https://c.example/article", got)
	}
}

func TestResolveBaiduDirectParam(t *testing.T) {
	m := newTestManager(t)

	got, status := m.Resolve(context.Background(),
		"https://www.baidu.com/link?url=https%3A%2F%2Fd.example%2Fnews")
	if status != StatusResolved {
		t.Fatalf("status = %q, want resolved", status)
	}
	if got != "https://d.example/news" {
		t.Errorf("url = %q", got)
	}
}

func TestResolveDirectURLUnresolved(t *testing.T) {
	m := newTestManager(t)

	got, status := m.Resolve(context.Background(), "https://plain.example/page")
	if status != StatusUnresolved {
		t.Fatalf("status = %q, want unresolved", status)
	}
	if got != "https://plain.example/page" {
		t.Errorf("url changed: %q", got)
	}
}

func TestResolveFailedKeepsOriginal(t *testing.T) {
	m := newTestManager(t)

	// паттерн bing совпал, но в u нет ни base64, ни URL
	orig := "https://www.bing.com/ck/a?u=a1%%%garbage"
	got, status := m.Resolve(context.Background(), orig)
	if status != StatusFailed {
		t.Fatalf("status = %q, want failed", status)
	}
	if got != orig {
		t.Errorf("original url must be preserved, got %q", got)
	}
}

func TestResolveEmptyURL(t *testing.T) {
	m := newTestManager(t)
	if _, status := m.Resolve(context.Background(), ""); status != StatusFailed {
		t.Fatalf("status = %q, want failed", status)
	}
}

func TestResolveCaches(t *testing.T) {
	m := newTestManager(t)
	raw := "https://www.google.com/url?q=https%3A%2F%2Fa.example%2Fdoc"

	m.Resolve(context.Background(), raw)
	if _, ok := m.cache.Get(raw); !ok {
		t.Fatal("resolution must be cached")
	}

	got, status := m.Resolve(context.Background(), raw)
	if status != StatusResolved || got != "https://a.example/doc" {
		t.Errorf("cached resolve = %q/%q", got, status)
	}
}

func TestFollowRedirects(t *testing.T) {
	var final string
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	final = srv.URL + "/final"

	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/middle", http.StatusFound)
	})
	mux.HandleFunc("/middle", func(w http.ResponseWriter, r *http.Request) {
		// относительный Location тоже должен разворачиваться
		w.Header().Set("Location", "/final")
		w.WriteHeader(http.StatusMovedPermanently)
	})
	mux.HandleFunc("/final", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	m := newTestManager(t)
	got, err := m.followRedirects(context.Background(), "test", srv.URL+"/start")
	if err != nil {
		t.Fatalf("followRedirects() error = %v", err)
	}
	if got != final {
		t.Errorf("final = %q, want %q", got, final)
	}
}

func TestFollowRedirectsHopLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, r.URL.Path+"x", http.StatusFound)
	}))
	defer srv.Close()

	m := newTestManager(t)
	if _, err := m.followRedirects(context.Background(), "test", srv.URL+"/loop"); err == nil {
		t.Fatal("expected hop limit error")
	}
}

func TestFollowRedirectsHeadFallsBackToGet(t *testing.T) {
	var sawGet bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/start" && r.Method == http.MethodHead:
			w.WriteHeader(http.StatusMethodNotAllowed)
		case r.URL.Path == "/start":
			sawGet = true
			http.Redirect(w, r, "/done", http.StatusFound)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	m := newTestManager(t)
	got, err := m.followRedirects(context.Background(), "test", srv.URL+"/start")
	if err != nil {
		t.Fatalf("followRedirects() error = %v", err)
	}
	if !sawGet {
		t.Error("405 on HEAD must fall back to GET")
	}
	if got != srv.URL+"/done" {
		t.Errorf("final = %q, want %s/done", got, srv.URL)
	}
}

func TestResolveAllPreservesOrder(t *testing.T) {
	m := newTestManager(t)

	raw := []engine.RawResult{
		{URL: "https://www.google.com/url?q=https%3A%2F%2Fa.example%2F1", Engine: "google", Rank: 0},
		{URL: "https://plain.example/2", Engine: "bing", Rank: 1},
		{URL: "https://duckduckgo.com/l/?uddg=https%3A%2F%2Fc.example%2F3", Engine: "duckduckgo", Rank: 2},
	}

	resolved := m.ResolveAll(context.Background(), raw)
	if len(resolved) != 3 {
		t.Fatalf("len = %d, want 3", len(resolved))
	}

	wantURLs := []string{"https://a.example/1", "https://plain.example/2", "https://c.example/3"}
	wantStatus := []Status{StatusResolved, StatusUnresolved, StatusResolved}
	for i := range resolved {
		if resolved[i].ResolvedURL != wantURLs[i] {
			t.Errorf("resolved[%d].ResolvedURL = %q, want %q", i, resolved[i].ResolvedURL, wantURLs[i])
		}
		if resolved[i].Status != wantStatus[i] {
			t.Errorf("resolved[%d].Status = %q, want %q", i, resolved[i].Status, wantStatus[i])
		}
		if resolved[i].Rank != raw[i].Rank {
			t.Errorf("resolved[%d] lost its source result", i)
		}
	}
}

func TestQueryParam(t *testing.T) {
	tests := []struct {
		name    string
		rawURL  string
		params  []string
		want    string
		wantErr bool
	}{
		{"first param wins", "https://x.example/?url=https%3A%2F%2Fa.example&u=https%3A%2F%2Fb.example", []string{"url", "u"}, "https://a.example", false},
		{"fallback param", "https://x.example/?u=https%3A%2F%2Fb.example", []string{"url", "u"}, "https://b.example", false},
		{"non-url value skipped", "https://x.example/?url=12345", []string{"url"}, "", true},
		{"missing", "https://x.example/", []string{"url"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := queryParam(tt.rawURL, tt.params...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
