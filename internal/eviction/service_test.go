package eviction

import (
	"context"
	"testing"
	"time"

	"github.com/noeticlabs/noeticd/internal/vectorstore"
)

type fakeStore struct {
	vectorstore.Store
	deletes []vectorstore.MetadataFilter
	counts  int
}

func (f *fakeStore) DeleteByMetadata(ctx context.Context, namespace string, filter vectorstore.MetadataFilter) (int, error) {
	f.deletes = append(f.deletes, filter)
	return 1, nil
}

func (f *fakeStore) Count(ctx context.Context) (int, error) {
	return f.counts, nil
}

func TestRunEviction_SweepsEveryConfiguredEntryType(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(store, Config{}, nil)

	result, err := svc.RunEviction(context.Background())
	if err != nil {
		t.Fatalf("RunEviction() error = %v", err)
	}
	for _, entryType := range []string{"search_result", "query_cache", "crawl_chunk"} {
		if n, ok := result.DeletedByType[entryType]; !ok || n != 1 {
			t.Errorf("expected a sweep for %q, got %v ok=%v", entryType, n, ok)
		}
	}
	for _, f := range store.deletes {
		if !f.AllNamespaces {
			t.Error("expected every eviction delete to set AllNamespaces")
		}
	}
}

func TestRunEviction_ShedsOldestBucketOverCap(t *testing.T) {
	store := &fakeStore{counts: 1000}
	svc := NewService(store, Config{MaxEntries: 100}, nil)

	result, err := svc.RunEviction(context.Background())
	if err != nil {
		t.Fatalf("RunEviction() error = %v", err)
	}
	if result.CapShed != 1 {
		t.Fatalf("expected cap shedding to run, got CapShed=%d", result.CapShed)
	}
}

func TestRunEviction_NoCapShedWhenUnderLimit(t *testing.T) {
	store := &fakeStore{counts: 10}
	svc := NewService(store, Config{MaxEntries: 100}, nil)

	result, err := svc.RunEviction(context.Background())
	if err != nil {
		t.Fatalf("RunEviction() error = %v", err)
	}
	if result.CapShed != 0 {
		t.Fatalf("expected no cap shedding under limit, got CapShed=%d", result.CapShed)
	}
}

func TestFlushAll_DeletesEverythingAcrossNamespaces(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(store, Config{}, nil)

	if _, err := svc.FlushAll(context.Background()); err != nil {
		t.Fatalf("FlushAll() error = %v", err)
	}
	if len(store.deletes) != 1 || !store.deletes[0].AllNamespaces {
		t.Fatalf("expected one AllNamespaces delete, got %+v", store.deletes)
	}
	if store.deletes[0].CreatedBefore.Before(time.Now()) == false {
		t.Error("expected flushAll's createdBefore to be in the future")
	}
}

func TestNewService_MergesTTLOverridesOverDefaults(t *testing.T) {
	custom := 2 * time.Hour
	svc := NewService(&fakeStore{}, Config{TTLByEntryType: map[string]time.Duration{"search_result": custom}}, nil)
	if svc.ttls["search_result"] != custom {
		t.Errorf("expected override to apply, got %v", svc.ttls["search_result"])
	}
	if svc.ttls["crawl_chunk"] != 7*24*time.Hour {
		t.Errorf("expected default to survive for unoverridden type, got %v", svc.ttls["crawl_chunk"])
	}
}
