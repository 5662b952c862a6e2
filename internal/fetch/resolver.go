package fetch

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// minContentLength is the SPA-heuristic content-length floor; results
// shorter than this are rejected in favor of the next fetcher in chain.
const minContentLength = 100

// spaMarkers are raw-HTML substrings that strongly indicate a client-side
// rendered shell the static fetcher could not have hydrated.
var spaMarkers = []string{
	`<div id="root"></div>`,
	`<div id="__next"></div>`,
	`<div id="__next">`,
	`<div id="app"></div>`,
	`<div id="__nuxt"></div>`,
	`<noscript>You need to enable JavaScript`,
	`<noscript>Please enable JavaScript`,
	`<noscript>This app works best with JavaScript enabled`,
	`window.__INITIAL_STATE__`,
	`window.__NEXT_DATA__`,
}

// DomainRule pairs a URL glob with the fetcher that should handle matches.
// Globs support `*` (no slash), `**` (any), and literal `.`.
type DomainRule struct {
	Glob    string
	Fetcher string
}

// ErrFetchExhausted is raised when every fetcher in the fallback chain has
// been tried and none produced an acceptable result.
type ErrFetchExhausted struct {
	URL   string
	Chain []string
}

func (e *ErrFetchExhausted) Error() string {
	return fmt.Sprintf("fetch exhausted for %q after trying %s", e.URL, strings.Join(e.Chain, " -> "))
}

// ErrUnknownFetcher is raised when an explicit mode names a fetcher that
// was never registered.
type ErrUnknownFetcher struct {
	Name string
}

func (e *ErrUnknownFetcher) Error() string {
	return fmt.Sprintf("unknown fetcher %q", e.Name)
}

// FetcherResolver selects among registered Fetchers for a request, in
// priority order: explicit mode, domain rules, domain memory, fallback
// chain with SPA auto-detection. It does not own the fetchers; they are
// constructed and shared by the caller.
type FetcherResolver struct {
	fetchers map[string]Fetcher
	rules    []DomainRule
	chain    []string

	mu     sync.RWMutex
	memory map[string]string // hostname -> fetcher name
}

// NewFetcherResolver builds a resolver. An empty chain defaults to
// [static, dynamic, api] filtered to fetchers actually registered.
func NewFetcherResolver(fetchers map[string]Fetcher, rules []DomainRule, chain []string) *FetcherResolver {
	if len(chain) == 0 {
		chain = []string{"static", "dynamic", "api"}
	}
	return &FetcherResolver{
		fetchers: fetchers,
		rules:    rules,
		chain:    chain,
		memory:   make(map[string]string),
	}
}

// Resolve fetches req using the given explicit mode ("auto" to defer to
// rules/memory/chain, or a fetcher name to force it).
func (r *FetcherResolver) Resolve(ctx context.Context, req Request, mode string) (Result, error) {
	if mode != "" && !strings.EqualFold(mode, "auto") {
		f, ok := r.fetchers[mode]
		if !ok {
			return Result{}, &ErrUnknownFetcher{Name: mode}
		}
		return f.Fetch(ctx, req)
	}

	host := hostOf(req.URL)

	if name, ok := r.matchRule(req.URL); ok {
		if f, ok := r.fetchers[name]; ok {
			return f.Fetch(ctx, req)
		}
	}

	if name, ok := r.memoryLookup(host); ok {
		if f, ok := r.fetchers[name]; ok {
			result, err := f.Fetch(ctx, req)
			if err == nil && acceptable(result) {
				return result, nil
			}
		}
	}

	var tried []string
	for i, name := range r.chain {
		f, ok := r.fetchers[name]
		if !ok || !f.Supports(req) {
			continue
		}
		tried = append(tried, name)
		result, err := f.Fetch(ctx, req)
		if err != nil {
			continue
		}
		last := i == len(r.chain)-1
		if last || acceptable(result) {
			return result, nil
		}
		r.remember(host, nextFetcherName(r.chain, i))
	}

	return Result{}, &ErrFetchExhausted{URL: req.URL, Chain: tried}
}

func nextFetcherName(chain []string, i int) string {
	if i+1 < len(chain) {
		return chain[i+1]
	}
	return chain[i]
}

// acceptable applies the SPA auto-detection heuristic: short content or a
// known SPA-shell marker rejects the result so the chain continues.
func acceptable(result Result) bool {
	if len(strings.TrimSpace(result.Content)) < minContentLength {
		return false
	}
	for _, marker := range spaMarkers {
		if strings.Contains(result.RawHTML, marker) {
			return false
		}
	}
	return true
}

func (r *FetcherResolver) matchRule(url string) (string, bool) {
	lower := strings.ToLower(url)
	for _, rule := range r.rules {
		if globMatch(strings.ToLower(rule.Glob), lower) {
			return rule.Fetcher, true
		}
	}
	return "", false
}

func (r *FetcherResolver) memoryLookup(host string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.memory[host]
	return name, ok
}

func (r *FetcherResolver) remember(host, fetcherName string) {
	if host == "" {
		return
	}
	r.mu.Lock()
	r.memory[host] = fetcherName
	r.mu.Unlock()
}

func hostOf(rawURL string) string {
	withoutScheme := rawURL
	if idx := strings.Index(rawURL, "://"); idx >= 0 {
		withoutScheme = rawURL[idx+3:]
	}
	if idx := strings.IndexAny(withoutScheme, "/?#"); idx >= 0 {
		withoutScheme = withoutScheme[:idx]
	}
	return withoutScheme
}

// globMatch implements the `*` (no slash), `**` (any), and literal `.`
// glob dialect used by domain rules, by compiling the glob to an anchored
// regexp.
func globMatch(glob, url string) bool {
	re, err := compileGlob(glob)
	if err != nil {
		return false
	}
	return re.MatchString(url)
}

func compileGlob(glob string) (*regexp.Regexp, error) {
	const doubleStarPlaceholder = "\x00DOUBLESTAR\x00"
	escaped := strings.ReplaceAll(glob, "**", doubleStarPlaceholder)
	escaped = regexp.QuoteMeta(escaped)
	escaped = strings.ReplaceAll(escaped, regexp.QuoteMeta(doubleStarPlaceholder), ".*")
	escaped = strings.ReplaceAll(escaped, `\*`, "[^/]*")
	return regexp.Compile("^" + escaped + "$")
}
