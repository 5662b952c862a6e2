package mcp

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/noeticlabs/noeticd/internal/chunk"
	"github.com/noeticlabs/noeticd/internal/crawl"
	"github.com/noeticlabs/noeticd/internal/search"
	"github.com/noeticlabs/noeticd/internal/vectorstore"
)

func (s *Server) handleWebSearch(ctx context.Context, req *mcpsdk.CallToolRequest, params *WebSearchParams) (*mcpsdk.CallToolResult, any, error) {
	if params.Query == "" {
		return nil, nil, fmt.Errorf("web_search: query is required")
	}
	maxResults := params.MaxResults
	if maxResults <= 0 {
		maxResults = 10
	}

	resp, err := s.deps.Search.Search(ctx, search.Request{
		Query:      params.Query,
		MaxResults: maxResults,
		SkipCache:  params.SkipCache,
	}, params.Namespace)
	if err != nil {
		return nil, nil, fmt.Errorf("web_search: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d result(s) from %s (cache hit: %v)\n\n", len(resp.Results), resp.Provider, resp.FromCache)
	for i, r := range resp.Results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n   %s\n\n", i+1, r.Title, r.URL, r.Snippet)
	}
	return textResult(b.String()), resp, nil
}

func (s *Server) handleCrawlPage(ctx context.Context, req *mcpsdk.CallToolRequest, params *CrawlPageParams) (*mcpsdk.CallToolResult, any, error) {
	if params.URL == "" {
		return nil, nil, fmt.Errorf("crawl_page: url is required")
	}
	page, err := s.deps.Batch.CrawlPage(ctx, params.URL, crawl.BatchConfig{
		Namespace:     params.Namespace,
		ChunkStrategy: params.ChunkStrategy,
		ChunkSize:     params.ChunkSize,
		ChunkOverlap:  params.ChunkOverlap,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("crawl_page: %w", err)
	}
	return textResult(fmt.Sprintf("Crawled %q (%q): %d chunk(s) stored", page.URL, page.Title, page.ChunkCount)), page, nil
}

func (s *Server) handleChunkContent(ctx context.Context, req *mcpsdk.CallToolRequest, params *ChunkContentParams) (*mcpsdk.CallToolResult, any, error) {
	if params.Content == "" {
		return nil, nil, fmt.Errorf("chunk_content: content is required")
	}
	chunks, err := s.deps.Chunker.Split(params.Content, chunk.Options{
		Strategy:     params.Strategy,
		MaxChunkSize: params.MaxSize,
		Overlap:      params.Overlap,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("chunk_content: %w", err)
	}
	return textResult(fmt.Sprintf("Split into %d chunk(s)", len(chunks))), chunks, nil
}

func (s *Server) handleCacheQuery(ctx context.Context, req *mcpsdk.CallToolRequest, params *CacheQueryParams) (*mcpsdk.CallToolResult, any, error) {
	if params.Query == "" {
		return nil, nil, fmt.Errorf("cache_query: query is required")
	}
	topK := params.TopK
	if topK <= 0 {
		topK = 10
	}
	vec, err := s.deps.Embedder.Embed(ctx, params.Query, vectorstore.HintQuery)
	if err != nil {
		return nil, nil, fmt.Errorf("cache_query: embedding query: %w", err)
	}

	var filter *vectorstore.MetadataFilter
	if params.EntryType != "" {
		filter = &vectorstore.MetadataFilter{EntryType: params.EntryType}
	}
	matches, err := s.deps.Store.Search(ctx, vec, topK, float32(params.Threshold), params.Namespace, filter)
	if err != nil {
		return nil, nil, fmt.Errorf("cache_query: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d match(es)\n\n", len(matches))
	for i, m := range matches {
		fmt.Fprintf(&b, "%d. [%.3f] %s\n", i+1, m.Score, truncateForDisplay(m.Content, 200))
	}
	return textResult(b.String()), matches, nil
}

func (s *Server) handleCacheEvict(ctx context.Context, req *mcpsdk.CallToolRequest, params *CacheEvictParams) (*mcpsdk.CallToolResult, any, error) {
	result, err := s.deps.Eviction.RunEviction(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("cache_evict: %w", err)
	}
	return textResult(fmt.Sprintf("Evicted %+v, cap-shed %d", result.DeletedByType, result.CapShed)), result, nil
}

func (s *Server) handleCacheFlush(ctx context.Context, req *mcpsdk.CallToolRequest, params *CacheFlushParams) (*mcpsdk.CallToolResult, any, error) {
	n, err := s.deps.Eviction.FlushAll(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("cache_flush: %w", err)
	}
	return textResult(fmt.Sprintf("Flushed %d entries", n)), n, nil
}

func (s *Server) handleBatchCrawl(ctx context.Context, req *mcpsdk.CallToolRequest, params *BatchCrawlParams) (*mcpsdk.CallToolResult, any, error) {
	if len(params.URLs) == 0 {
		return nil, nil, fmt.Errorf("batch_crawl: urls is required")
	}

	cfg := crawl.BatchConfig{
		MaxConcurrency: params.MaxConcurrency,
		Namespace:      params.Namespace,
		ChunkStrategy:  params.ChunkStrategy,
	}
	if params.RateLimitMs > 0 {
		cfg.RateLimit = time.Duration(params.RateLimitMs) * time.Millisecond
	}

	jobID, jobCtx, _ := s.deps.Jobs.Create(context.Background(), len(params.URLs))
	urls := params.URLs
	go func() {
		s.deps.Batch.Run(jobCtx, jobID, urls, cfg)
	}()

	return textResult(fmt.Sprintf("Started batch crawl job %s for %d url(s)", jobID, len(urls))), jobID, nil
}

func (s *Server) handleDiscoverSitemap(ctx context.Context, req *mcpsdk.CallToolRequest, params *DiscoverSitemapParams) (*mcpsdk.CallToolResult, any, error) {
	if params.Domain == "" {
		return nil, nil, fmt.Errorf("discover_sitemap: domain is required")
	}
	maxURLs := params.MaxURLs
	if maxURLs <= 0 {
		maxURLs = 1000
	}
	filter, err := compilePathFilter(params.PathFilter)
	if err != nil {
		return nil, nil, fmt.Errorf("discover_sitemap: %w", err)
	}

	urls, err := s.deps.Sitemap.Discover(ctx, params.Domain, maxURLs, filter)
	if err != nil {
		return nil, nil, fmt.Errorf("discover_sitemap: %w", err)
	}
	return textResult(fmt.Sprintf("Discovered %d url(s)", len(urls))), urls, nil
}

func (s *Server) handleMapSite(ctx context.Context, req *mcpsdk.CallToolRequest, params *MapSiteParams) (*mcpsdk.CallToolResult, any, error) {
	if params.SeedURL == "" {
		return nil, nil, fmt.Errorf("map_site: seed_url is required")
	}
	maxURLs := params.MaxURLs
	if maxURLs <= 0 {
		maxURLs = 100
	}
	maxDepth := params.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 2
	}
	filter, err := compilePathFilter(params.PathFilter)
	if err != nil {
		return nil, nil, fmt.Errorf("map_site: %w", err)
	}

	urls, err := s.deps.Map.Discover(ctx, params.SeedURL, crawl.MapOptions{
		MaxURLs:    maxURLs,
		MaxDepth:   maxDepth,
		PathFilter: filter,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("map_site: %w", err)
	}
	return textResult(fmt.Sprintf("Discovered %d url(s)", len(urls))), urls, nil
}

func (s *Server) handleJobStatus(ctx context.Context, req *mcpsdk.CallToolRequest, params *JobStatusParams) (*mcpsdk.CallToolResult, any, error) {
	if params.JobID == "" {
		return nil, nil, fmt.Errorf("job_status: job_id is required")
	}
	job, ok := s.deps.Jobs.Get(params.JobID)
	if !ok {
		return nil, nil, fmt.Errorf("job_status: unknown job %q", params.JobID)
	}
	return textResult(fmt.Sprintf("Job %s: %s (%d/%d completed, %d failed)", job.ID, job.Status, job.Progress.CompletedURLs, job.Progress.TotalURLs, job.Progress.FailedURLs)), job, nil
}

func (s *Server) handleJobCancel(ctx context.Context, req *mcpsdk.CallToolRequest, params *JobCancelParams) (*mcpsdk.CallToolResult, any, error) {
	if params.JobID == "" {
		return nil, nil, fmt.Errorf("job_cancel: job_id is required")
	}
	if err := s.deps.Jobs.Cancel(params.JobID); err != nil {
		return nil, nil, fmt.Errorf("job_cancel: %w", err)
	}
	return textResult(fmt.Sprintf("Cancelled job %s", params.JobID)), nil, nil
}

func (s *Server) handleCachePromote(ctx context.Context, req *mcpsdk.CallToolRequest, params *CachePromoteParams) (*mcpsdk.CallToolResult, any, error) {
	if !s.deps.AgentMode {
		return nil, nil, fmt.Errorf("cache_promote: %w", vectorstore.ErrPromoteUnavailable)
	}
	n, err := s.deps.Store.Promote(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("cache_promote: %w", err)
	}
	return textResult(fmt.Sprintf("Promoted %d entries to the shared tier", n)), n, nil
}

func compilePathFilter(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid path_filter: %w", err)
	}
	return re, nil
}

func truncateForDisplay(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

