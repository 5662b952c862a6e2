package search

import (
	"context"
	"errors"
	"testing"

	"github.com/noeticlabs/noeticd/internal/vectorstore"
)

type fakeEmbedder struct {
	vectors map[string][]float32
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string, hint vectorstore.Hint) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string, hint vectorstore.Hint) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, _ := f.Embed(ctx, t, hint)
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return 3 }

type fakeStore struct {
	vectorstore.Store
	matches    []vectorstore.VectorMatch
	searchErr  error
	upserted   []vectorstore.VectorEntry
	searchCall int
}

func (f *fakeStore) Search(ctx context.Context, vec []float32, topK int, threshold float32, namespace string, filter *vectorstore.MetadataFilter) ([]vectorstore.VectorMatch, error) {
	f.searchCall++
	return f.matches, f.searchErr
}

func (f *fakeStore) Upsert(ctx context.Context, entry vectorstore.VectorEntry) error {
	f.upserted = append(f.upserted, entry)
	return nil
}

type fakeProvider struct {
	response Response
	err      error
	called   int
}

func (f *fakeProvider) Name() string                 { return "fake" }
func (f *fakeProvider) Capabilities() Capabilities    { return Capabilities{} }
func (f *fakeProvider) Search(ctx context.Context, req Request) (Response, error) {
	f.called++
	return f.response, f.err
}

func TestService_CacheHitShortCircuitsProvider(t *testing.T) {
	store := &fakeStore{matches: []vectorstore.VectorMatch{
		{ID: "1", Score: 0.95, Content: "DuckDuckGo result snippet", Metadata: map[string]string{"title": "DuckDuckGo", "url": "https://duckduckgo.com"}},
	}}
	provider := &fakeProvider{}
	svc := NewService(store, &fakeEmbedder{}, provider, Config{}, nil)

	resp, err := svc.Search(context.Background(), Request{Query: "DuckDuckGo", MaxResults: 5}, "default")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if !resp.FromCache || resp.Provider != "cache" {
		t.Fatalf("expected cache hit, got %+v", resp)
	}
	if len(resp.Results) != 1 || resp.Results[0].Title != "DuckDuckGo" {
		t.Fatalf("expected one DuckDuckGo result, got %+v", resp.Results)
	}
	if provider.called != 0 {
		t.Fatalf("expected live provider not invoked, called %d times", provider.called)
	}
}

func TestService_CacheMissCallsProviderAndWritesBack(t *testing.T) {
	store := &fakeStore{}
	provider := &fakeProvider{response: Response{Results: []Result{{Title: "Example", URL: "https://example.com", Snippet: "a page"}}}}
	svc := NewService(store, &fakeEmbedder{}, provider, Config{}, nil)

	resp, err := svc.Search(context.Background(), Request{Query: "example"}, "default")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if resp.FromCache {
		t.Fatal("expected live response, not cache")
	}
	if provider.called != 1 {
		t.Fatalf("expected provider called once, got %d", provider.called)
	}
	if len(store.upserted) != 1 {
		t.Fatalf("expected one cache write-back, got %d", len(store.upserted))
	}
}

func TestService_CacheProbeErrorFallsThroughToProvider(t *testing.T) {
	store := &fakeStore{searchErr: errors.New("index unavailable")}
	provider := &fakeProvider{response: Response{Results: []Result{{Title: "X", URL: "https://x.test"}}}}
	svc := NewService(store, &fakeEmbedder{}, provider, Config{}, nil)

	resp, err := svc.Search(context.Background(), Request{Query: "x"}, "default")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if resp.FromCache {
		t.Fatal("expected fallthrough to live provider on cache error")
	}
}

func TestStreamIsolator_RotatesProactively(t *testing.T) {
	iso := NewStreamIsolator(3)
	start := iso.current()
	iso.MaybeRotateProactively(1)
	iso.MaybeRotateProactively(2)
	if iso.current() != start {
		t.Fatalf("expected no rotation before reaching interval, got %d", iso.current())
	}
	iso.MaybeRotateProactively(3)
	if iso.current() != start+1 {
		t.Fatalf("expected rotation at interval, got %d", iso.current())
	}
}
