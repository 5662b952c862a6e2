package crawl

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noeticlabs/noeticd/internal/chunk"
	"github.com/noeticlabs/noeticd/internal/fetch"
	"github.com/noeticlabs/noeticd/internal/secrets"
	"github.com/noeticlabs/noeticd/internal/vectorstore"
)

var errAllTasksFailed = errors.New("crawl: every url in the batch failed")

// chunkEntryID derives a stable vector-store id for a crawl chunk from its
// source URL and chunk index, so re-crawling a page upserts in place.
func chunkEntryID(sourceURL string, index int) string {
	h := fnv.New64a()
	h.Write([]byte(sourceURL))
	return fmt.Sprintf("crawl:%x:%d", h.Sum64(), index)
}

// BatchConfig bounds one BatchCrawlService.Run call.
type BatchConfig struct {
	MaxConcurrency int
	RateLimit      time.Duration // minimum spacing between request starts
	TaskTimeout    time.Duration
	Namespace      string
	ChunkStrategy  string
	ChunkSize      int
	ChunkOverlap   int
}

// TaskResult is one URL's outcome within a batch crawl.
type TaskResult struct {
	URL        string
	Err        error
	ChunkCount int
}

// BatchCrawlService fetches a bounded set of URLs with a worker pool,
// serializing request starts behind a single rate limiter permit, scrubs
// secrets from the fetched content, chunks and embeds each page, and
// upserts the chunks as crawl_chunk entries.
type BatchCrawlService struct {
	resolver *fetch.FetcherResolver
	chunker  *chunk.Chunker
	embedder vectorstore.Embedder
	store    vectorstore.Store
	jobs     *JobService
	scrubber secrets.Scrubber
	logger   *zap.Logger
}

// NewBatchCrawlService wires a BatchCrawlService from its collaborators.
// Fetched page content is scrubbed with secrets.DefaultConfig's rule set
// before it is chunked, embedded, or cached, so an accidentally-public
// page leaking credentials doesn't persist them into the semantic cache.
func NewBatchCrawlService(resolver *fetch.FetcherResolver, chunker *chunk.Chunker, embedder vectorstore.Embedder, store vectorstore.Store, jobs *JobService, logger *zap.Logger) *BatchCrawlService {
	if logger == nil {
		logger = zap.NewNop()
	}
	scrubber, err := secrets.New(nil)
	if err != nil {
		// secrets.DefaultConfig() is a constant, known-valid configuration;
		// New only fails on a caller-supplied invalid Config.
		logger.Error("secrets scrubber failed to initialize, content will not be scrubbed", zap.Error(err))
	}
	return &BatchCrawlService{resolver: resolver, chunker: chunker, embedder: embedder, store: store, jobs: jobs, scrubber: scrubber, logger: logger}
}

// Run crawls urls under jobID, a rate-limited worker pool bounded at
// cfg.MaxConcurrency, and blocks until every task completes, the job's
// context is cancelled, or ctx is done. It reports the job COMPLETED or
// FAILED via JobService.Complete before returning; Cancel marks CANCELLED
// independently and this method simply stops dispatching new work.
func (b *BatchCrawlService) Run(ctx context.Context, jobID string, urls []string, cfg BatchConfig) []TaskResult {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 60 * time.Second
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}

	b.jobs.Start(jobID)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.MaxConcurrency)

	var (
		resultsMu  sync.Mutex
		results    = make([]TaskResult, 0, len(urls))
		lastStart  time.Time
		rateMu     sync.Mutex
		anyFailure bool
	)

	acquireSlot := func() {
		rateMu.Lock()
		defer rateMu.Unlock()
		if cfg.RateLimit > 0 {
			if wait := cfg.RateLimit - time.Since(lastStart); wait > 0 {
				time.Sleep(wait)
			}
		}
		lastStart = time.Now()
	}

dispatch:
	for _, target := range urls {
		select {
		case <-gctx.Done():
			break dispatch
		default:
		}

		target := target
		g.Go(func() error {
			acquireSlot()

			taskCtx, cancel := context.WithTimeout(gctx, cfg.TaskTimeout)
			defer cancel()

			_, n, err := b.crawlOne(taskCtx, target, cfg)
			res := TaskResult{URL: target, Err: err, ChunkCount: n}

			resultsMu.Lock()
			results = append(results, res)
			resultsMu.Unlock()

			if res.Err != nil {
				b.jobs.RecordFailure(jobID)
				resultsMu.Lock()
				anyFailure = true
				resultsMu.Unlock()
			} else {
				b.jobs.RecordSuccess(jobID)
			}
			return nil
		})
	}

	g.Wait()

	if jb, ok := b.jobs.Get(jobID); ok && jb.Status == JobCancelled {
		return results
	}
	if anyFailure && len(results) == len(urls) {
		allFailed := true
		for _, r := range results {
			if r.Err == nil {
				allFailed = false
				break
			}
		}
		if allFailed {
			b.jobs.Complete(jobID, errAllTasksFailed)
			return results
		}
	}
	b.jobs.Complete(jobID, nil)
	return results
}

// PageResult is a single URL's full crawl+chunk+embed+upsert outcome,
// returned by CrawlPage for synchronous, single-page callers (the
// crawl_page tool/endpoint) as opposed to BatchCrawlService.Run's
// fire-and-forget TaskResult.
type PageResult struct {
	URL        string
	Title      string
	Content    string
	ChunkCount int
}

// CrawlPage fetches, chunks, embeds, and upserts a single URL synchronously,
// independent of any job tracking.
func (b *BatchCrawlService) CrawlPage(ctx context.Context, target string, cfg BatchConfig) (PageResult, error) {
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	result, n, err := b.crawlOne(ctx, target, cfg)
	if err != nil {
		return PageResult{}, err
	}
	return PageResult{URL: target, Title: result.Title, Content: result.Content, ChunkCount: n}, nil
}

func (b *BatchCrawlService) crawlOne(ctx context.Context, target string, cfg BatchConfig) (fetch.Result, int, error) {
	result, err := b.resolver.Resolve(ctx, fetch.Request{URL: target}, "")
	if err != nil {
		return fetch.Result{}, 0, err
	}

	if b.scrubber != nil {
		scrubbed := b.scrubber.Scrub(result.Content)
		if scrubbed.TotalFindings > 0 {
			b.logger.Warn("crawl: redacted secrets from fetched content",
				zap.String("url", target), zap.Int("findings", scrubbed.TotalFindings))
		}
		result.Content = scrubbed.Scrubbed
	}

	chunks, err := b.chunker.Split(result.Content, chunk.Options{
		Strategy:     cfg.ChunkStrategy,
		MaxChunkSize: cfg.ChunkSize,
		Overlap:      cfg.ChunkOverlap,
	})
	if err != nil {
		return result, 0, err
	}

	entries := make([]vectorstore.VectorEntry, 0, len(chunks))
	now := time.Now()
	for _, c := range chunks {
		vec, err := b.embedder.Embed(ctx, c.Content, vectorstore.HintDocument)
		if err != nil {
			b.logger.Warn("crawl: embedding chunk failed, skipping", zap.String("url", target), zap.Error(err))
			continue
		}
		entries = append(entries, vectorstore.VectorEntry{
			ID:        chunkEntryID(target, c.Index),
			Vector:    vec,
			Content:   c.Content,
			EntryType: "crawl_chunk",
			Namespace: cfg.Namespace,
			CreatedAt: now,
			Metadata: map[string]string{
				"sourceUrl": target,
				"title":     result.Title,
			},
		})
	}

	if len(entries) == 0 {
		return result, 0, nil
	}
	if err := b.store.UpsertBatch(ctx, entries); err != nil {
		return result, 0, err
	}
	return result, len(entries), nil
}
