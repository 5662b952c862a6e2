package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/noeticlabs/noeticd/internal/chunk"
	"github.com/noeticlabs/noeticd/internal/config"
	"github.com/noeticlabs/noeticd/internal/crawl"
	"github.com/noeticlabs/noeticd/internal/eviction"
	"github.com/noeticlabs/noeticd/internal/fetch"
	"github.com/noeticlabs/noeticd/internal/mcp"
	"github.com/noeticlabs/noeticd/internal/search"
	"github.com/noeticlabs/noeticd/internal/vectorstore"
)

type apiFakeEmbedder struct{}

func (apiFakeEmbedder) Embed(context.Context, string, vectorstore.Hint) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}
func (apiFakeEmbedder) EmbedBatch(context.Context, []string, vectorstore.Hint) ([][]float32, error) {
	return nil, nil
}
func (apiFakeEmbedder) Dimension() int { return 3 }

type apiFakeStore struct {
	matches []vectorstore.VectorMatch
}

func (f *apiFakeStore) Initialize(context.Context) error                         { return nil }
func (f *apiFakeStore) Upsert(context.Context, vectorstore.VectorEntry) error     { return nil }
func (f *apiFakeStore) UpsertBatch(context.Context, []vectorstore.VectorEntry) error { return nil }
func (f *apiFakeStore) Get(context.Context, string, string) (vectorstore.VectorEntry, error) {
	return vectorstore.VectorEntry{}, vectorstore.ErrNotFound
}
func (f *apiFakeStore) Delete(context.Context, string, string) error        { return nil }
func (f *apiFakeStore) DeleteBatch(context.Context, string, []string) error { return nil }
func (f *apiFakeStore) Search(context.Context, []float32, int, float32, string, *vectorstore.MetadataFilter) ([]vectorstore.VectorMatch, error) {
	return f.matches, nil
}
func (f *apiFakeStore) DeleteByMetadata(context.Context, string, vectorstore.MetadataFilter) (int, error) {
	return len(f.matches), nil
}
func (f *apiFakeStore) Count(context.Context) (int, error)    { return len(f.matches), nil }
func (f *apiFakeStore) Promote(context.Context) (int, error)   { return 0, nil }
func (f *apiFakeStore) Close() error                            { return nil }

type apiFakeProvider struct{}

func (apiFakeProvider) Name() string                      { return "fake" }
func (apiFakeProvider) Capabilities() search.Capabilities { return search.Capabilities{} }
func (apiFakeProvider) Search(context.Context, search.Request) (search.Response, error) {
	return search.Response{Provider: "fake", Results: []search.Result{{Title: "t", URL: "https://example.com"}}}, nil
}

type apiFakeFetcher struct{}

func (apiFakeFetcher) Name() string                { return "static" }
func (apiFakeFetcher) Supports(fetch.Request) bool { return true }
func (apiFakeFetcher) Fetch(context.Context, fetch.Request) (fetch.Result, error) {
	return fetch.Result{Content: "enough content here to produce at least one chunk for the test.", Title: "Page"}, nil
}

func newTestAPIServer(t *testing.T) *Server {
	t.Helper()
	store := &apiFakeStore{matches: []vectorstore.VectorMatch{{ID: "a", Score: 0.9, Content: "hello"}}}
	embedder := apiFakeEmbedder{}
	searchSvc := search.NewService(store, embedder, apiFakeProvider{}, search.Config{}, nil)
	resolver := fetch.NewFetcherResolver(map[string]fetch.Fetcher{"static": apiFakeFetcher{}}, nil, []string{"static"})
	jobs := crawl.NewJobService(nil)
	batch := crawl.NewBatchCrawlService(resolver, chunk.NewChunker(), embedder, store, jobs, nil)
	evictSvc := eviction.NewService(store, eviction.Config{}, nil)

	srv := NewServer(&config.Config{Server: config.ServerConfig{Port: 0, ShutdownTimeout: config.Duration(time.Second)}})
	srv.RegisterAPIRoutes(mcp.Dependencies{
		Search:   searchSvc,
		Store:    store,
		Embedder: embedder,
		Chunker:  chunk.NewChunker(),
		Batch:    batch,
		Sitemap:  crawl.NewSitemapParser(0),
		Map:      crawl.NewMapService(apiFakeFetcher{}, nil),
		Jobs:     jobs,
		Eviction: evictSvc,
	})
	return srv
}

func TestAPI_Search(t *testing.T) {
	srv := newTestAPIServer(t)
	body, _ := json.Marshal(map[string]any{"query": "golang"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/search", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestAPI_SearchRequiresQuery(t *testing.T) {
	srv := newTestAPIServer(t)
	body, _ := json.Marshal(map[string]any{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/search", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAPI_BatchCrawlReturnsJobID(t *testing.T) {
	srv := newTestAPIServer(t)
	body, _ := json.Marshal(map[string]any{"urls": []string{"https://example.com/a"}})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/batch-crawl", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["jobId"] == "" {
		t.Fatal("expected a jobId in the response")
	}
}

func TestAPI_JobStatusNotFound(t *testing.T) {
	srv := newTestAPIServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nope", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestAPI_CacheFlush(t *testing.T) {
	srv := newTestAPIServer(t)
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/cache", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestAPI_NamespaceHeaderFallback(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/search", nil)
	req.Header.Set("X-Noetic-Project", "proj-a")
	rec := httptest.NewRecorder()
	c := newTestAPIServer(t).echo.NewContext(req, rec)
	if got := namespace(c, ""); got != "proj-a" {
		t.Fatalf("namespace() = %q, want %q", got, "proj-a")
	}
}
