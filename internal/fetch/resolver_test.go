package fetch

import (
	"context"
	"testing"
)

type stubFetcher struct {
	name     string
	supports bool
	result   Result
	err      error
}

func (s *stubFetcher) Name() string                 { return s.name }
func (s *stubFetcher) Supports(req Request) bool     { return s.supports }
func (s *stubFetcher) Fetch(ctx context.Context, req Request) (Result, error) {
	return s.result, s.err
}

func TestResolve_ExplicitMode(t *testing.T) {
	fetchers := map[string]Fetcher{
		"static": &stubFetcher{name: "static", supports: true, result: Result{Content: "hello world, this is long enough content to pass the minimum length check easily."}},
	}
	r := NewFetcherResolver(fetchers, nil, nil)
	result, err := r.Resolve(context.Background(), Request{URL: "https://example.com"}, "static")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if result.Content == "" {
		t.Fatal("expected content from explicit fetcher")
	}
}

func TestResolve_ExplicitMode_Unknown(t *testing.T) {
	r := NewFetcherResolver(map[string]Fetcher{}, nil, nil)
	_, err := r.Resolve(context.Background(), Request{URL: "https://example.com"}, "bogus")
	if err == nil {
		t.Fatal("expected error for unknown explicit fetcher")
	}
}

func TestResolve_DomainRule(t *testing.T) {
	fetchers := map[string]Fetcher{
		"api": &stubFetcher{name: "api", supports: true, result: Result{Content: "api content long enough to pass the minimum content length threshold here."}},
	}
	rules := []DomainRule{{Glob: "**api.example.com/**", Fetcher: "api"}}
	r := NewFetcherResolver(fetchers, rules, nil)
	result, err := r.Resolve(context.Background(), Request{URL: "https://api.example.com/v1/data"}, "auto")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if result.Content == "" {
		t.Fatal("expected content from rule-matched fetcher")
	}
}

func TestResolve_ChainFallsThroughOnSPAMarker(t *testing.T) {
	fetchers := map[string]Fetcher{
		"static": &stubFetcher{name: "static", supports: true, result: Result{RawHTML: `<div id="root"></div>`, Content: "short"}},
		"dynamic": &stubFetcher{name: "dynamic", supports: true, result: Result{Content: "this is the fully rendered page content which is long enough to be accepted."}},
	}
	r := NewFetcherResolver(fetchers, nil, []string{"static", "dynamic"})
	result, err := r.Resolve(context.Background(), Request{URL: "https://spa.example.com"}, "auto")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if result.FetcherUsed != "" && result.FetcherUsed != "dynamic" {
		t.Fatalf("expected dynamic fetcher result, got %+v", result)
	}

	if name, ok := r.memoryLookup("spa.example.com"); !ok || name != "dynamic" {
		t.Fatalf("expected domain memory to learn dynamic, got %q ok=%v", name, ok)
	}
}

func TestResolve_ExhaustedChain(t *testing.T) {
	r := NewFetcherResolver(map[string]Fetcher{}, nil, []string{"static"})
	_, err := r.Resolve(context.Background(), Request{URL: "https://example.com"}, "auto")
	if err == nil {
		t.Fatal("expected fetch-exhausted error")
	}
}

func TestGlobMatch(t *testing.T) {
	cases := []struct {
		glob, url string
		want      bool
	}{
		{"**.example.com**", "https://api.example.com/x", true},
		{"**", "https://anything.test/path", true},
		{"*.pdf", "https://example.com/file.pdf", false},
	}
	for _, c := range cases {
		if got := globMatch(c.glob, c.url); got != c.want {
			t.Errorf("globMatch(%q, %q) = %v, want %v", c.glob, c.url, got, c.want)
		}
	}
}
