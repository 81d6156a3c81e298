package resolver

import (
	"context"
	"encoding/base64"
	"errors"
	"net/url"
	"regexp"
	"strings"
)

var errNoEmbeddedURL = errors.New("no embedded url in query parameters")

// queryParam достает и декодирует первый из перечисленных параметров.
func queryParam(rawURL string, names ...string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	values := parsed.Query()
	for _, name := range names {
		if v := values.Get(name); v != "" {
			decoded, err := url.QueryUnescape(v)
			if err != nil {
				decoded = v
			}
			if strings.HasPrefix(decoded, "http://") || strings.HasPrefix(decoded, "https://") {
				return decoded, nil
			}
		}
	}
	return "", errNoEmbeddedURL
}

// --- Baidu: baidu.com/link?url=... ---
// Иногда настоящий адрес лежит прямо в параметре, чаще нужен проход по редиректу.

type baiduResolver struct {
	pattern *regexp.Regexp
	mgr     *Manager
}

func newBaiduResolver(mgr *Manager) *baiduResolver {
	return &baiduResolver{
		pattern: regexp.MustCompile(`(?i)baidu\.com/link`),
		mgr:     mgr,
	}
}

func (r *baiduResolver) Name() string                { return "baidu_redirect" }
func (r *baiduResolver) CanResolve(rawURL string) bool { return r.pattern.MatchString(rawURL) }

func (r *baiduResolver) Resolve(ctx context.Context, rawURL string) (string, error) {
	if direct, err := queryParam(rawURL, "url", "u", "target", "link"); err == nil {
		return direct, nil
	}
	return r.mgr.followRedirects(ctx, r.Name(), rawURL)
}

// --- Bing: bing.com/ck/a?...&u=a1<base64> ---

type bingResolver struct {
	pattern *regexp.Regexp
}

func newBingResolver() *bingResolver {
	return &bingResolver{pattern: regexp.MustCompile(`(?i)bing\.com/.*[?&]u=`)}
}

func (r *bingResolver) Name() string                  { return "bing_redirect" }
func (r *bingResolver) CanResolve(rawURL string) bool { return r.pattern.MatchString(rawURL) }

func (r *bingResolver) Resolve(_ context.Context, rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	encoded := parsed.Query().Get("u")
	if encoded == "" {
		return "", errNoEmbeddedURL
	}

	// Bing кодирует адрес в base64 с префиксом "a1"
	encoded = strings.TrimPrefix(encoded, "a1")
	if decoded, err := base64.RawURLEncoding.DecodeString(encoded); err == nil {
		if s := string(decoded); strings.HasPrefix(s, "http") {
			return s, nil
		}
	}
	if decoded, err := base64.RawStdEncoding.DecodeString(encoded); err == nil {
		if s := string(decoded); strings.HasPrefix(s, "http") {
			return s, nil
		}
	}

	// не base64 - возможно обычный URL-escape
	if unescaped, err := url.QueryUnescape(encoded); err == nil && strings.HasPrefix(unescaped, "http") {
		return unescaped, nil
	}
	return "", errNoEmbeddedURL
}

// --- Google: google.com/url?q=... ---

type googleResolver struct {
	pattern *regexp.Regexp
}

func newGoogleResolver() *googleResolver {
	return &googleResolver{pattern: regexp.MustCompile(`(?i)google\.com/url`)}
}

func (r *googleResolver) Name() string                  { return "google_redirect" }
func (r *googleResolver) CanResolve(rawURL string) bool { return r.pattern.MatchString(rawURL) }

func (r *googleResolver) Resolve(_ context.Context, rawURL string) (string, error) {
	return queryParam(rawURL, "q", "url")
}

// --- DuckDuckGo: duckduckgo.com/l/?uddg=... ---

type duckduckgoResolver struct {
	pattern *regexp.Regexp
}

func newDuckDuckGoResolver() *duckduckgoResolver {
	return &duckduckgoResolver{pattern: regexp.MustCompile(`(?i)duckduckgo\.com/l/`)}
}

func (r *duckduckgoResolver) Name() string                  { return "duckduckgo_redirect" }
func (r *duckduckgoResolver) CanResolve(rawURL string) bool { return r.pattern.MatchString(rawURL) }

func (r *duckduckgoResolver) Resolve(_ context.Context, rawURL string) (string, error) {
	return queryParam(rawURL, "uddg")
}

// --- Короткие ссылки: bit.ly, t.co и т.п. - только проход по редиректам ---

type shortlinkResolver struct {
	pattern *regexp.Regexp
	mgr     *Manager
}

func newShortlinkResolver(mgr *Manager) *shortlinkResolver {
	return &shortlinkResolver{
		pattern: regexp.MustCompile(`(?i)(bit\.ly|tinyurl\.com|t\.co|goo\.gl|short\.link|dwz\.cn|sina\.lt)/`),
		mgr:     mgr,
	}
}

func (r *shortlinkResolver) Name() string                  { return "short_url" }
func (r *shortlinkResolver) CanResolve(rawURL string) bool { return r.pattern.MatchString(rawURL) }

func (r *shortlinkResolver) Resolve(ctx context.Context, rawURL string) (string, error) {
	return r.mgr.followRedirects(ctx, r.Name(), rawURL)
}
