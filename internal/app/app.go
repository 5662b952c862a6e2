// Package app wires the full noeticd service layer from configuration. Both
// cmd/noeticd (the HTTP/stdio daemon) and cmd/noeticctl (the one-shot CLI)
// call into this package instead of duplicating constructor wiring, so the
// two transports and the fast-path commands all build services the same
// way.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noeticlabs/noeticd/internal/chunk"
	"github.com/noeticlabs/noeticd/internal/config"
	"github.com/noeticlabs/noeticd/internal/crawl"
	"github.com/noeticlabs/noeticd/internal/embeddings"
	"github.com/noeticlabs/noeticd/internal/eviction"
	"github.com/noeticlabs/noeticd/internal/fetch"
	"github.com/noeticlabs/noeticd/internal/logging"
	"github.com/noeticlabs/noeticd/internal/mcp"
	"github.com/noeticlabs/noeticd/internal/search"
	"github.com/noeticlabs/noeticd/internal/telemetry"
	"github.com/noeticlabs/noeticd/internal/vectorstore"
)

// Dependencies bundles the mcp.Dependencies served by every transport plus
// the pieces only the caller needs directly (the embedding provider and
// vector store own resources that must be closed on shutdown).
type Dependencies struct {
	mcp.Dependencies
	Embedder embeddings.Provider
	Store    vectorstore.Store
}

// Close releases everything BuildDependencies acquired. The eviction sweep
// loop started against Eviction.Run is stopped by cancelling its context,
// not from here.
func (d *Dependencies) Close() {
	if d.Embedder != nil {
		_ = d.Embedder.Close()
	}
	if d.Store != nil {
		_ = d.Store.Close()
	}
}

// Bootstrap loads configuration, telemetry, and the structured logger
// shared by every transport and command.
func Bootstrap(ctx context.Context, configPath string) (*config.Config, *zap.Logger, *telemetry.Telemetry, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}

	tcfg := telemetry.NewDefaultConfig()
	tcfg.Enabled = cfg.Observability.EnableTelemetry
	tcfg.ServiceName = cfg.Observability.ServiceName
	if cfg.Observability.OTELEndpoint != "" {
		// NewDefaultConfig's Insecure:true is only valid for its own
		// localhost default; pointing at a real collector requires the
		// operator to opt into OTELInsecure, or Config.Validate rejects
		// plaintext telemetry to a non-local endpoint outright.
		tcfg.Endpoint = cfg.Observability.OTELEndpoint
		tcfg.Insecure = cfg.Observability.OTELInsecure
	}
	tel, err := telemetry.New(ctx, tcfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	lcfg := logging.NewDefaultConfig()
	lcfg.Format = cfg.Observability.LogFormat
	lcfg.Output.OTEL = cfg.Observability.EnableTelemetry
	logger, err := logging.NewLogger(lcfg, tel.LoggerProvider())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("initializing logger: %w", err)
	}

	return cfg, logger.Underlying(), tel, nil
}

// BuildDependencies wires every service named in SPEC_FULL.md's core
// modules from cfg, in the order each later stage needs its collaborators:
// embedder and store first (the semantic cache), then fetch/search/crawl/
// eviction on top of them.
func BuildDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	embedder, err := embeddings.NewProvider(ctx, embeddings.ProviderConfig{
		Provider: cfg.Embeddings.Provider,
		Model:    cfg.Embeddings.Model,
		BaseURL:  cfg.Embeddings.BaseURL,
		CacheDir: cfg.Embeddings.CacheDir,
		APIKey:   cfg.Embeddings.APIKey.Value(),
		Region:   cfg.Embeddings.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	store, err := vectorstore.NewStore(ctx, cfg, logger)
	if err != nil {
		_ = embedder.Close()
		return nil, fmt.Errorf("creating vector store: %w", err)
	}

	chunker := chunk.NewChunker()

	resolver, staticFetcher, err := BuildFetchResolver(cfg, logger)
	if err != nil {
		_ = embedder.Close()
		_ = store.Close()
		return nil, fmt.Errorf("creating fetch resolver: %w", err)
	}

	searchProvider := BuildSearchProvider(cfg, staticFetcher, logger)
	searchSvc := search.NewService(store, embedder, searchProvider, search.Config{
		CacheThreshold: cfg.Search.CacheThreshold,
		CacheNamespace: cfg.Search.CacheNamespace,
		RetryOnEmpty:   cfg.Search.RetryOnEmpty,
	}, logger)

	jobs := crawl.NewJobService(logger)
	batch := crawl.NewBatchCrawlService(resolver, chunker, embedder, store, jobs, logger)
	sitemap := crawl.NewSitemapParser(cfg.Fetch.RequestTimeout.Duration())
	// MapService only needs raw HTML for link discovery, so it bypasses the
	// resolver's dynamic/SPA fallback chain and talks to the static fetcher
	// directly (see crawl.NewMapService's doc comment).
	mapSvc := crawl.NewMapService(staticFetcher, logger)

	evictionSvc := eviction.NewService(store, eviction.Config{
		SweepInterval:    cfg.Eviction.SweepInterval.Duration(),
		MaxEntries:       cfg.Eviction.MaxEntries,
		TTLByEntryType:   ttlsToDurations(cfg.Eviction.TTLByEntryType),
		DefaultNamespace: cfg.Eviction.DefaultNamespace,
	}, logger)

	return &Dependencies{
		Dependencies: mcp.Dependencies{
			Search:    searchSvc,
			Store:     store,
			Embedder:  embedder,
			Chunker:   chunker,
			Batch:     batch,
			Sitemap:   sitemap,
			Map:       mapSvc,
			Jobs:      jobs,
			Eviction:  evictionSvc,
			AgentMode: cfg.VectorStore.AgentMode,
			Logger:    logger,
		},
		Embedder: embedder,
		Store:    store,
	}, nil
}

// BuildFetchResolver registers the static fetcher always, and the dynamic
// (headless browser) fetcher whenever a pool size is configured, then
// returns a resolver over both plus the static fetcher alone (MapService
// and callers that only need raw HTML want direct access to it).
func BuildFetchResolver(cfg *config.Config, logger *zap.Logger) (*fetch.FetcherResolver, fetch.Fetcher, error) {
	staticFetcher, err := fetch.NewStaticFetcher(fetch.ProxyConfig{
		URL:  cfg.Fetch.ProxyURL,
		Type: cfg.Fetch.ProxyType,
	}, cfg.Fetch.InsecureTLS, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("creating static fetcher: %w", err)
	}

	fetchers := map[string]fetch.Fetcher{"static": staticFetcher}
	if cfg.Fetch.BrowserPoolSize > 0 {
		pool := fetch.NewBrowserPool(cfg.Fetch.BrowserPoolSize, cfg.Fetch.BrowserBinaryPath, cfg.Fetch.ProxyURL)
		fetchers["dynamic"] = fetch.NewDynamicFetcher(pool, staticFetcher, nil)
	}

	resolver := fetch.NewFetcherResolver(fetchers, nil, nil)
	return resolver, staticFetcher, nil
}

// BuildSearchProvider selects the live SearchProvider named by
// cfg.Search.Provider. "scrape" (the default) needs no API key since it
// scrapes DuckDuckGo's HTML results page; the others are thin HTTP API
// clients over hosted search APIs.
func BuildSearchProvider(cfg *config.Config, staticFetcher fetch.Fetcher, logger *zap.Logger) search.Provider {
	switch cfg.Search.Provider {
	case "brave":
		return search.NewBraveProvider(cfg.Search.APIKey.Value())
	case "serp":
		return search.NewSerpProvider(cfg.Search.APIKey.Value())
	case "tavily":
		return search.NewTavilyProvider(cfg.Search.APIKey.Value())
	case "scrape", "":
		isolator := search.NewStreamIsolator(cfg.Search.StreamRotationCount)
		return search.NewScrapingProvider(staticFetcher, isolator, logger)
	default:
		logger.Warn("unknown search provider, falling back to scrape", zap.String("provider", cfg.Search.Provider))
		isolator := search.NewStreamIsolator(cfg.Search.StreamRotationCount)
		return search.NewScrapingProvider(staticFetcher, isolator, logger)
	}
}

// ttlsToDurations converts the config's text-unmarshaled Duration map to
// the plain time.Duration map eviction.Config expects.
func ttlsToDurations(m map[string]config.Duration) map[string]time.Duration {
	if m == nil {
		return nil
	}
	out := make(map[string]time.Duration, len(m))
	for k, v := range m {
		out[k] = v.Duration()
	}
	return out
}
