// Package aggregate сливает результаты всех бэкендов и всех поисковых слов
// в один ранжированный список без дублей.
package aggregate

import (
	"net/url"
	"sort"
	"strings"

	"github.com/kitbuilder587/research-engine/internal/resolver"
)

// TieBreak - порядок сравнения внутри merged rank. Точное правило в
// первоисточнике не зафиксировано, поэтому выбор отдан конфигурации.
type TieBreak string

const (
	// TieBreakPriorityFirst: сначала приоритет бэкенда, потом локальный ранг
	TieBreakPriorityFirst TieBreak = "priority_first"
	// TieBreakRankFirst: сначала локальный ранг, потом приоритет бэкенда
	TieBreakRankFirst TieBreak = "rank_first"
)

// бэкенды без сконфигурированного приоритета уходят в конец
const unknownPriority = 1 << 20

type Options struct {
	MaxResults int
	TieBreak   TieBreak
	// Priorities: имя бэкенда -> приоритет (меньше = предпочтительнее)
	Priorities map[string]int
}

// RankKey - merged rank: лексикографический минимум по вкладам всех
// бэкендов, отдавших этот URL.
type RankKey struct {
	Priority int
	Rank     int
}

type Result struct {
	ResolvedURL string
	Title       string
	Snippet     string
	Engines     []string
	Rank        RankKey
	Resolution  resolver.Status
}

// Aggregate дедуплицирует по нормализованному resolved_url, объединяет
// множества бэкендов и сортирует по merged rank. Неразрешенные (failed)
// ссылки сохраняются, но уходят в хвост списка.
func Aggregate(results []resolver.Resolved, opts Options) []Result {
	if opts.TieBreak == "" {
		opts.TieBreak = TieBreakPriorityFirst
	}

	type entry struct {
		result    Result
		engineSet map[string]struct{}
		firstSeen int
	}

	byKey := make(map[string]*entry)
	order := make([]string, 0, len(results))

	for _, r := range results {
		if r.ResolvedURL == "" {
			// инвариант: пустой адрес допустим только со статусом failed
			if r.Status != resolver.StatusFailed {
				continue
			}
			r.ResolvedURL = r.URL
		}

		key := normalizeURL(r.ResolvedURL)
		rank := RankKey{Priority: priorityOf(opts.Priorities, r.Engine), Rank: r.Rank}

		e, ok := byKey[key]
		if !ok {
			e = &entry{
				result: Result{
					ResolvedURL: r.ResolvedURL,
					Title:       r.Title,
					Snippet:     r.Snippet,
					Rank:        rank,
					Resolution:  r.Status,
				},
				engineSet: make(map[string]struct{}),
				firstSeen: len(order),
			}
			byKey[key] = e
			order = append(order, key)
		}

		e.engineSet[r.Engine] = struct{}{}

		if less(rank, e.result.Rank, opts.TieBreak) {
			e.result.Rank = rank
		}
		// resolved вытесняет failed: хотя бы один бэкенд дал рабочий адрес
		if betterStatus(r.Status, e.result.Resolution) {
			e.result.Resolution = r.Status
			e.result.ResolvedURL = r.ResolvedURL
		}
		if e.result.Title == "" {
			e.result.Title = r.Title
		}
		if e.result.Snippet == "" {
			e.result.Snippet = r.Snippet
		}
	}

	entries := make([]*entry, 0, len(order))
	for _, key := range order {
		e := byKey[key]
		e.result.Engines = sortedEngines(e.engineSet)
		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		fi := entries[i].result.Resolution == resolver.StatusFailed
		fj := entries[j].result.Resolution == resolver.StatusFailed
		if fi != fj {
			return !fi
		}
		if entries[i].result.Rank != entries[j].result.Rank {
			return less(entries[i].result.Rank, entries[j].result.Rank, opts.TieBreak)
		}
		return entries[i].firstSeen < entries[j].firstSeen
	})

	merged := make([]Result, 0, len(entries))
	for _, e := range entries {
		merged = append(merged, e.result)
	}

	if opts.MaxResults > 0 && len(merged) > opts.MaxResults {
		merged = merged[:opts.MaxResults]
	}
	return merged
}

func less(a, b RankKey, tb TieBreak) bool {
	if tb == TieBreakRankFirst {
		if a.Rank != b.Rank {
			return a.Rank < b.Rank
		}
		return a.Priority < b.Priority
	}
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.Rank < b.Rank
}

func priorityOf(priorities map[string]int, engine string) int {
	if p, ok := priorities[engine]; ok {
		return p
	}
	return unknownPriority
}

func betterStatus(a, b resolver.Status) bool {
	return a != resolver.StatusFailed && b == resolver.StatusFailed
}

// normalizeURL - ключ дедупликации: схема и хост без регистра,
// путь без завершающего слеша, без фрагмента.
func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.TrimSuffix(strings.ToLower(raw), "/")
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	} else {
		u.Path = ""
	}
	return u.String()
}

func sortedEngines(set map[string]struct{}) []string {
	engines := make([]string, 0, len(set))
	for name := range set {
		engines = append(engines, name)
	}
	sort.Strings(engines)
	return engines
}
