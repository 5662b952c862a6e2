// Package mcp exposes the fetch, cache, search, and crawl services over the
// Model Context Protocol's stdio transport. Tool handlers call the service
// layer in-process; there is no daemon hop, unlike the HTTP-delegating
// transport the cmd/ctxd-era design used.
package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/noeticlabs/noeticd/internal/chunk"
	"github.com/noeticlabs/noeticd/internal/crawl"
	"github.com/noeticlabs/noeticd/internal/eviction"
	"github.com/noeticlabs/noeticd/internal/search"
	"github.com/noeticlabs/noeticd/internal/vectorstore"
)

// Dependencies wires every service a tool handler may call. All fields are
// required except AgentMode, which gates cache_promote's availability.
type Dependencies struct {
	Search    *search.Service
	Store     vectorstore.Store
	Embedder  vectorstore.Embedder
	Chunker   *chunk.Chunker
	Batch     *crawl.BatchCrawlService
	Sitemap   *crawl.SitemapParser
	Map       *crawl.MapService
	Jobs      *crawl.JobService
	Eviction  *eviction.Service
	AgentMode bool
	Logger    *zap.Logger
}

// Server implements the MCP stdio transport described in spec.md §6,
// registering one tool per table entry and calling services directly.
type Server struct {
	mcpServer *mcpsdk.Server
	deps      Dependencies
	logger    *zap.Logger
}

// NewServer builds a Server and registers its tools. deps must be fully
// populated; NewServer does not construct services itself.
func NewServer(deps Dependencies) (*Server, error) {
	if deps.Search == nil || deps.Store == nil || deps.Embedder == nil || deps.Chunker == nil {
		return nil, fmt.Errorf("mcp: missing required dependency")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	mcpServer := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "noeticd",
		Version: "0.1.0",
	}, nil)

	s := &Server{mcpServer: mcpServer, deps: deps, logger: logger}
	s.registerTools()
	return s, nil
}

// Run starts the MCP server over stdio. It blocks until ctx is cancelled or
// the transport errors.
func (s *Server) Run(ctx context.Context) error {
	if err := s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{}); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

// registerTools registers the twelve tools named in spec.md §6's external
// interface table. cache_promote is registered regardless of AgentMode;
// the handler itself returns ErrPromoteUnavailable in server mode, which
// vectorstore.Store already enforces.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "web_search",
		Description: "Search the web, with a semantic cache in front of the live provider.",
	}, s.handleWebSearch)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "crawl_page",
		Description: "Fetch a single URL, chunk and embed its content, and upsert it into the cache.",
	}, s.handleCrawlPage)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "chunk_content",
		Description: "Split raw text into chunks using a named strategy (sentence, token, semantic).",
	}, s.handleChunkContent)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "cache_query",
		Description: "Run a nearest-neighbor query against the semantic cache.",
	}, s.handleCacheQuery)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "cache_evict",
		Description: "Run a TTL eviction sweep over the semantic cache now, instead of waiting for the schedule.",
	}, s.handleCacheEvict)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "cache_flush",
		Description: "Delete every entry in the semantic cache.",
	}, s.handleCacheFlush)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "batch_crawl",
		Description: "Crawl a list of URLs asynchronously as a tracked job, with bounded concurrency and rate limiting.",
	}, s.handleBatchCrawl)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "discover_sitemap",
		Description: "Discover a domain's URLs from its robots.txt Sitemap directives or default sitemap locations.",
	}, s.handleDiscoverSitemap)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "map_site",
		Description: "Discover same-domain URLs by breadth-first link traversal from a seed URL.",
	}, s.handleMapSite)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "job_status",
		Description: "Get the status and progress of a batch crawl job.",
	}, s.handleJobStatus)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "job_cancel",
		Description: "Cancel a running or pending batch crawl job.",
	}, s.handleJobCancel)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "cache_promote",
		Description: "Promote this agent's cache entries into the shared tier. Agent mode only.",
	}, s.handleCachePromote)
}

func textResult(text string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
	}
}
