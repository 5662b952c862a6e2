package search

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"go.uber.org/zap"

	"github.com/noeticlabs/noeticd/internal/vectorstore"
)

const (
	defaultCacheThreshold = 0.92
	cacheEntryType        = "search_result"
)

// Service implements the semantic-cache-fronted search orchestration of
// spec §4.7: embed the query, probe the vector store, fall through to the
// live provider on a miss, and write results back for next time. Cache
// write-back failures are logged, never surfaced to the caller.
type Service struct {
	store          vectorstore.Store
	embedder       vectorstore.Embedder
	provider       Provider
	cacheThreshold float32
	cacheNamespace string
	retryOnEmpty   bool
	rateLimit      time.Duration
	logger         *zap.Logger
}

// Config configures a Service.
type Config struct {
	CacheThreshold float32
	CacheNamespace string
	RetryOnEmpty   bool
	RateLimit      time.Duration
}

// NewService builds a Service. store and embedder back the semantic cache;
// provider is the active live SearchProvider.
func NewService(store vectorstore.Store, embedder vectorstore.Embedder, provider Provider, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	threshold := cfg.CacheThreshold
	if threshold <= 0 {
		threshold = defaultCacheThreshold
	}
	namespace := cfg.CacheNamespace
	if namespace == "" {
		namespace = "default"
	}
	return &Service{
		store:          store,
		embedder:       embedder,
		provider:       provider,
		cacheThreshold: threshold,
		cacheNamespace: namespace,
		retryOnEmpty:   cfg.RetryOnEmpty,
		rateLimit:      cfg.RateLimit,
		logger:         logger,
	}
}

// Search runs the cache-then-provider pipeline for req under namespace.
// An empty namespace falls back to the service's configured cache namespace.
func (s *Service) Search(ctx context.Context, req Request, namespace string) (Response, error) {
	start := time.Now()
	if namespace == "" {
		namespace = s.cacheNamespace
	}

	if !req.SkipCache {
		if resp, hit, err := s.probeCache(ctx, req, namespace); err != nil {
			s.logger.Warn("search cache probe failed", zap.Error(err))
		} else if hit {
			resp.Elapsed = time.Since(start)
			return resp, nil
		}
	}

	resp, err := s.provider.Search(ctx, req)
	if err != nil {
		return Response{}, fmt.Errorf("live search: %w", err)
	}

	if len(resp.Results) == 0 && s.retryOnEmpty {
		if rotator, ok := s.provider.(StreamRotator); ok {
			rotator.Rotate()
			if s.rateLimit > 0 {
				time.Sleep(s.rateLimit)
			}
			resp, err = s.provider.Search(ctx, req)
			if err != nil {
				return Response{}, fmt.Errorf("live search retry: %w", err)
			}
		}
	}

	s.writeBack(ctx, req, resp, namespace)

	resp.FromCache = false
	resp.Elapsed = time.Since(start)
	return resp, nil
}

func (s *Service) probeCache(ctx context.Context, req Request, namespace string) (Response, bool, error) {
	vec, err := s.embedder.Embed(ctx, req.Query, vectorstore.HintQuery)
	if err != nil {
		return Response{}, false, fmt.Errorf("embedding query: %w", err)
	}

	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = 10
	}

	matches, err := s.store.Search(ctx, vec, maxResults, s.cacheThreshold, namespace, &vectorstore.MetadataFilter{EntryType: cacheEntryType})
	if err != nil {
		return Response{}, false, fmt.Errorf("searching cache: %w", err)
	}
	if len(matches) == 0 {
		return Response{}, false, nil
	}

	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		results = append(results, Result{
			Title:   m.Metadata["title"],
			URL:     m.Metadata["url"],
			Snippet: m.Content,
			Score:   m.Score,
		})
	}

	return Response{
		Provider:  "cache",
		FromCache: true,
		Results:   results,
	}, true, nil
}

func (s *Service) writeBack(ctx context.Context, req Request, resp Response, namespace string) {
	for _, r := range resp.Results {
		text := r.Title + " " + r.Snippet
		vec, err := s.embedder.Embed(ctx, text, vectorstore.HintDocument)
		if err != nil {
			s.logger.Warn("search cache write-back embed failed", zap.Error(err), zap.String("url", r.URL))
			continue
		}
		entry := vectorstore.VectorEntry{
			ID:        cacheEntryID(namespace, req.Query, r.URL),
			Vector:    vec,
			Content:   r.Snippet,
			EntryType: cacheEntryType,
			Namespace: namespace,
			CreatedAt: time.Now(),
			Metadata: map[string]string{
				"title": r.Title,
				"url":   r.URL,
				"query": req.Query,
			},
		}
		if err := s.store.Upsert(ctx, entry); err != nil {
			s.logger.Warn("search cache write-back upsert failed", zap.Error(err), zap.String("url", r.URL))
		}
	}
}

func cacheEntryID(namespace, query, url string) string {
	h := fnv.New64a()
	h.Write([]byte(query))
	h.Write([]byte{0})
	h.Write([]byte(url))
	return fmt.Sprintf("search:%s:%x", namespace, h.Sum64())
}
