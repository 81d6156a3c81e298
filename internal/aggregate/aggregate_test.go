package aggregate

import (
	"reflect"
	"testing"

	"github.com/kitbuilder587/research-engine/internal/engine"
	"github.com/kitbuilder587/research-engine/internal/resolver"
)

func resolved(u, eng string, rank int) resolver.Resolved {
	return resolver.Resolved{
		RawResult:   engine.RawResult{URL: u, Title: "t", Snippet: "s", Engine: eng, Rank: rank},
		ResolvedURL: u,
		Status:      resolver.StatusResolved,
	}
}

func TestAggregateDedupUnionsEngines(t *testing.T) {
	in := []resolver.Resolved{
		resolved("https://x.example/a", "baidu", 0),
		resolved("https://x.example/a", "bing", 3),
		resolved("https://y.example/b", "bing", 1),
	}

	out := Aggregate(in, Options{Priorities: map[string]int{"baidu": 1, "bing": 2}})
	if len(out) != 2 {
		t.Fatalf("expected 2 results, got %d", len(out))
	}

	want := []string{"baidu", "bing"}
	if !reflect.DeepEqual(out[0].Engines, want) {
		t.Errorf("engines = %v, want %v", out[0].Engines, want)
	}
}

func TestAggregateMergedRankTakesBestContribution(t *testing.T) {
	in := []resolver.Resolved{
		resolved("https://x.example/a", "bing", 0),  // priority 2
		resolved("https://x.example/a", "baidu", 0), // priority 1
	}

	out := Aggregate(in, Options{Priorities: map[string]int{"baidu": 1, "bing": 2}})
	if len(out) != 1 {
		t.Fatalf("expected 1 result, got %d", len(out))
	}
	if out[0].Rank != (RankKey{Priority: 1, Rank: 0}) {
		t.Errorf("rank = %+v, want {1 0}", out[0].Rank)
	}
}

func TestAggregateTrailingSlashCollapses(t *testing.T) {
	in := []resolver.Resolved{
		resolved("https://x.example/a", "baidu", 0),
		resolved("https://x.example/a/", "bing", 1),
	}

	out := Aggregate(in, Options{Priorities: map[string]int{"baidu": 1, "bing": 2}})
	if len(out) != 1 {
		t.Fatalf("expected 1 result after normalization, got %d", len(out))
	}
	if out[0].Rank != (RankKey{Priority: 1, Rank: 0}) {
		t.Errorf("rank = %+v, want contribution of priority 1", out[0].Rank)
	}
	if len(out[0].Engines) != 2 {
		t.Errorf("engines = %v, want both", out[0].Engines)
	}
}

func TestAggregateNormalization(t *testing.T) {
	cases := []struct {
		a, b string
		same bool
	}{
		{"https://X.Example/a", "https://x.example/a", true},
		{"https://x.example/a#frag", "https://x.example/a", true},
		{"https://x.example/a/", "https://x.example/a", true},
		{"https://x.example/", "https://x.example", true},
		{"https://x.example/a?p=1", "https://x.example/a", false},
		{"https://x.example/A", "https://x.example/a", false}, // путь регистрозависим
	}

	for _, c := range cases {
		got := normalizeURL(c.a) == normalizeURL(c.b)
		if got != c.same {
			t.Errorf("normalizeURL(%q) vs %q: same=%v, want %v", c.a, c.b, got, c.same)
		}
	}
}

func TestAggregateFailedSortLast(t *testing.T) {
	failed := resolver.Resolved{
		RawResult:   engine.RawResult{URL: "https://dead.example/x", Engine: "baidu", Rank: 0},
		ResolvedURL: "https://dead.example/x",
		Status:      resolver.StatusFailed,
	}
	in := []resolver.Resolved{
		failed,
		resolved("https://live.example/y", "bing", 5),
	}

	out := Aggregate(in, Options{Priorities: map[string]int{"baidu": 1, "bing": 2}})
	if len(out) != 2 {
		t.Fatalf("expected 2 results, got %d", len(out))
	}
	if out[0].ResolvedURL != "https://live.example/y" {
		t.Errorf("failed result should sort last, got first: %q", out[0].ResolvedURL)
	}
	if out[1].Resolution != resolver.StatusFailed {
		t.Errorf("last resolution = %q, want failed", out[1].Resolution)
	}
}

func TestAggregateResolvedDisplacesFailed(t *testing.T) {
	in := []resolver.Resolved{
		{
			RawResult:   engine.RawResult{URL: "https://x.example/a", Engine: "baidu", Rank: 0},
			ResolvedURL: "https://x.example/a",
			Status:      resolver.StatusFailed,
		},
		resolved("https://x.example/a", "bing", 2),
	}

	out := Aggregate(in, Options{Priorities: map[string]int{"baidu": 1, "bing": 2}})
	if len(out) != 1 {
		t.Fatalf("expected 1 result, got %d", len(out))
	}
	if out[0].Resolution != resolver.StatusResolved {
		t.Errorf("resolution = %q, want resolved", out[0].Resolution)
	}
}

func TestAggregateMaxResultsCap(t *testing.T) {
	in := []resolver.Resolved{
		resolved("https://x.example/1", "baidu", 0),
		resolved("https://x.example/2", "baidu", 1),
		resolved("https://x.example/3", "baidu", 2),
	}

	out := Aggregate(in, Options{MaxResults: 2, Priorities: map[string]int{"baidu": 1}})
	if len(out) != 2 {
		t.Fatalf("expected cap at 2, got %d", len(out))
	}
	if out[0].ResolvedURL != "https://x.example/1" {
		t.Errorf("best rank should survive the cap, got %q", out[0].ResolvedURL)
	}
}

func TestAggregateTieBreakModes(t *testing.T) {
	in := []resolver.Resolved{
		resolved("https://x.example/a", "bing", 0),  // priority 2, rank 0
		resolved("https://y.example/b", "baidu", 3), // priority 1, rank 3
	}
	priorities := map[string]int{"baidu": 1, "bing": 2}

	out := Aggregate(in, Options{TieBreak: TieBreakPriorityFirst, Priorities: priorities})
	if out[0].ResolvedURL != "https://y.example/b" {
		t.Errorf("priority_first: first = %q, want baidu result", out[0].ResolvedURL)
	}

	out = Aggregate(in, Options{TieBreak: TieBreakRankFirst, Priorities: priorities})
	if out[0].ResolvedURL != "https://x.example/a" {
		t.Errorf("rank_first: first = %q, want rank 0 result", out[0].ResolvedURL)
	}
}

func TestAggregateTiesKeepFirstSeen(t *testing.T) {
	in := []resolver.Resolved{
		resolved("https://x.example/first", "baidu", 0),
		resolved("https://x.example/second", "baidu", 0),
	}

	out := Aggregate(in, Options{Priorities: map[string]int{"baidu": 1}})
	if len(out) != 2 {
		t.Fatalf("expected 2 results, got %d", len(out))
	}
	if out[0].ResolvedURL != "https://x.example/first" {
		t.Errorf("равные ранги должны сохранять порядок появления, got %q", out[0].ResolvedURL)
	}
}

func TestAggregateUnknownEnginePriority(t *testing.T) {
	in := []resolver.Resolved{
		resolved("https://x.example/a", "mystery", 0),
		resolved("https://y.example/b", "baidu", 9),
	}

	out := Aggregate(in, Options{Priorities: map[string]int{"baidu": 1}})
	if out[0].ResolvedURL != "https://y.example/b" {
		t.Errorf("engine without priority should rank after configured ones, got %q", out[0].ResolvedURL)
	}
}
