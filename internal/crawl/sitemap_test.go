package crawl

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
)

func TestSitemapParser_CollectParsesURLSet(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<?xml version="1.0"?>
<urlset><url><loc>https://example.com/page1</loc></url><url><loc>https://example.com/page2</loc></url></urlset>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	parser := &SitemapParser{client: srv.Client()}
	var out []string
	seen := make(map[string]struct{})
	parser.collect(context.Background(), srv.URL+"/sitemap.xml", 0, nil, seen, &out, 0)

	if len(out) != 2 {
		t.Fatalf("expected 2 urls, got %d: %v", len(out), out)
	}
}

func TestSitemapParser_CollectRecursesSitemapIndex(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/index.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<?xml version="1.0"?>
<sitemapindex><sitemap><loc>` + srv.URL + `/leaf.xml</loc></sitemap></sitemapindex>`))
	})
	mux.HandleFunc("/leaf.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<?xml version="1.0"?>
<urlset><url><loc>https://example.com/leaf-page</loc></url></urlset>`))
	})

	parser := &SitemapParser{client: srv.Client()}
	var out []string
	seen := make(map[string]struct{})
	parser.collect(context.Background(), srv.URL+"/index.xml", 0, nil, seen, &out, 0)

	if len(out) != 1 || out[0] != "https://example.com/leaf-page" {
		t.Fatalf("expected the leaf sitemap's url to surface, got %v", out)
	}
}

func TestSitemapParser_CollectStopsAtMaxDepth(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	// A self-referential index would recurse forever without the depth bound.
	mux.HandleFunc("/loop.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<?xml version="1.0"?>
<sitemapindex><sitemap><loc>` + srv.URL + `/loop.xml</loc></sitemap></sitemapindex>`))
	})

	parser := &SitemapParser{client: srv.Client()}
	var out []string
	seen := make(map[string]struct{})
	parser.collect(context.Background(), srv.URL+"/loop.xml", 0, nil, seen, &out, 0)

	if len(out) != 0 {
		t.Fatalf("expected no urls from a pure index loop, got %v", out)
	}
}

func TestSitemapParser_PathFilterExcludesNonMatching(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/docs-sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<?xml version="1.0"?>
<urlset><url><loc>https://example.com/docs/a</loc></url><url><loc>https://example.com/blog/a</loc></url></urlset>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	parser := &SitemapParser{client: srv.Client()}
	filter := regexp.MustCompile(`/docs/`)
	var out []string
	seen := make(map[string]struct{})
	parser.collect(context.Background(), srv.URL+"/docs-sitemap.xml", 0, filter, seen, &out, 0)

	if len(out) != 1 || out[0] != "https://example.com/docs/a" {
		t.Fatalf("expected only the /docs/ url to survive the filter, got %v", out)
	}
}

func TestSitemapParser_MaxURLsTruncates(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<?xml version="1.0"?>
<urlset><url><loc>https://example.com/a</loc></url><url><loc>https://example.com/b</loc></url><url><loc>https://example.com/c</loc></url></urlset>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	parser := &SitemapParser{client: srv.Client()}
	var out []string
	seen := make(map[string]struct{})
	parser.collect(context.Background(), srv.URL+"/sitemap.xml", 0, nil, seen, &out, 2)

	if len(out) != 2 {
		t.Fatalf("expected truncation to 2 urls, got %d: %v", len(out), out)
	}
}

func TestExtractSitemapDirectives(t *testing.T) {
	body := []byte("User-agent: *\nSitemap: https://example.com/sitemap1.xml\nSitemap: https://example.com/sitemap2.xml\n")
	got := extractSitemapDirectives(body)
	if len(got) != 2 {
		t.Fatalf("expected 2 directives, got %v", got)
	}
}
