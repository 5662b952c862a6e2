package server

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/noeticlabs/noeticd/internal/chunk"
	"github.com/noeticlabs/noeticd/internal/crawl"
	"github.com/noeticlabs/noeticd/internal/mcp"
	"github.com/noeticlabs/noeticd/internal/search"
	"github.com/noeticlabs/noeticd/internal/vectorstore"
)

// namespaceHeader lets callers scope a request to a project without a body
// field or query param, per spec.md §6.
const namespaceHeader = "X-Noetic-Project"

// RegisterAPIRoutes mounts the /api/v1 surface described in spec.md §6 on
// top of the same service layer internal/mcp's stdio tools call. Each
// handler decodes the request, resolves the namespace, and calls straight
// into deps; there is no separate HTTP-facing service layer.
func (s *Server) RegisterAPIRoutes(deps mcp.Dependencies) {
	h := &apiHandlers{deps: deps}
	g := s.echo.Group("/api/v1")

	g.POST("/search", h.search)
	g.POST("/crawl", h.crawl)
	g.POST("/chunk", h.chunk)
	g.POST("/cache", h.cacheQuery)
	g.POST("/cache/evict", h.cacheEvict)
	g.DELETE("/cache", h.cacheFlush)
	g.POST("/sitemap", h.sitemap)
	g.POST("/map", h.mapSite)
	g.POST("/batch-crawl", h.batchCrawl)
	g.POST("/jobs", h.batchCrawl)
	g.GET("/jobs", h.listJobs)
	g.GET("/jobs/:id", h.jobStatus)
	g.DELETE("/jobs/:id", h.jobCancel)
}

type apiHandlers struct {
	deps mcp.Dependencies
}

// namespace resolves the request namespace per spec.md §6's precedence:
// body field, then query param, then the X-Noetic-Project header.
func namespace(c echo.Context, bodyValue string) string {
	if bodyValue != "" {
		return bodyValue
	}
	if q := c.QueryParam("namespace"); q != "" {
		return q
	}
	return c.Request().Header.Get(namespaceHeader)
}

type searchRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"maxResults"`
	Namespace  string `json:"namespace"`
	SkipCache  bool   `json:"skipCache"`
}

func (h *apiHandlers) search(c echo.Context) error {
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = 10
	}
	resp, err := h.deps.Search.Search(c.Request().Context(), search.Request{
		Query:      req.Query,
		MaxResults: maxResults,
		SkipCache:  req.SkipCache,
	}, namespace(c, req.Namespace))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, resp)
}

type crawlRequest struct {
	URL           string `json:"url"`
	Namespace     string `json:"namespace"`
	ChunkStrategy string `json:"chunkStrategy"`
	ChunkSize     int    `json:"chunkSize"`
	ChunkOverlap  int    `json:"chunkOverlap"`
}

func (h *apiHandlers) crawl(c echo.Context) error {
	var req crawlRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.URL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url is required")
	}
	page, err := h.deps.Batch.CrawlPage(c.Request().Context(), req.URL, crawl.BatchConfig{
		Namespace:     namespace(c, req.Namespace),
		ChunkStrategy: req.ChunkStrategy,
		ChunkSize:     req.ChunkSize,
		ChunkOverlap:  req.ChunkOverlap,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, page)
}

type chunkRequest struct {
	Content  string `json:"content"`
	Strategy string `json:"strategy"`
	MaxSize  int    `json:"maxSize"`
	Overlap  int    `json:"overlap"`
}

func (h *apiHandlers) chunk(c echo.Context) error {
	var req chunkRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}
	chunks, err := h.deps.Chunker.Split(req.Content, chunk.Options{
		Strategy:     req.Strategy,
		MaxChunkSize: req.MaxSize,
		Overlap:      req.Overlap,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, chunks)
}

type cacheQueryRequest struct {
	Query     string  `json:"query"`
	Namespace string  `json:"namespace"`
	TopK      int     `json:"topK"`
	Threshold float32 `json:"threshold"`
	EntryType string  `json:"entryType"`
}

func (h *apiHandlers) cacheQuery(c echo.Context) error {
	var req cacheQueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	topK := req.TopK
	if topK <= 0 {
		topK = 10
	}
	vec, err := h.deps.Embedder.Embed(c.Request().Context(), req.Query, vectorstore.HintQuery)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	var filter *vectorstore.MetadataFilter
	if req.EntryType != "" {
		filter = &vectorstore.MetadataFilter{EntryType: req.EntryType}
	}
	matches, err := h.deps.Store.Search(c.Request().Context(), vec, topK, req.Threshold, namespace(c, req.Namespace), filter)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, matches)
}

func (h *apiHandlers) cacheEvict(c echo.Context) error {
	result, err := h.deps.Eviction.RunEviction(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

func (h *apiHandlers) cacheFlush(c echo.Context) error {
	n, err := h.deps.Eviction.FlushAll(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, echo.Map{"deleted": n})
}

type sitemapRequest struct {
	Domain     string `json:"domain"`
	MaxURLs    int    `json:"maxUrls"`
	PathFilter string `json:"pathFilter"`
}

func (h *apiHandlers) sitemap(c echo.Context) error {
	var req sitemapRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Domain == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "domain is required")
	}
	maxURLs := req.MaxURLs
	if maxURLs <= 0 {
		maxURLs = 1000
	}
	filter, err := compileFilter(req.PathFilter)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	urls, err := h.deps.Sitemap.Discover(c.Request().Context(), req.Domain, maxURLs, filter)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, echo.Map{"urls": urls})
}

type mapRequest struct {
	SeedURL    string `json:"seedUrl"`
	MaxURLs    int    `json:"maxUrls"`
	MaxDepth   int    `json:"maxDepth"`
	PathFilter string `json:"pathFilter"`
}

func (h *apiHandlers) mapSite(c echo.Context) error {
	var req mapRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.SeedURL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "seedUrl is required")
	}
	maxURLs := req.MaxURLs
	if maxURLs <= 0 {
		maxURLs = 100
	}
	maxDepth := req.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 2
	}
	filter, err := compileFilter(req.PathFilter)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	urls, err := h.deps.Map.Discover(c.Request().Context(), req.SeedURL, crawl.MapOptions{
		MaxURLs:    maxURLs,
		MaxDepth:   maxDepth,
		PathFilter: filter,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, echo.Map{"urls": urls})
}

type batchCrawlRequest struct {
	URLs           []string `json:"urls"`
	Namespace      string   `json:"namespace"`
	MaxConcurrency int      `json:"maxConcurrency"`
	RateLimitMs    int      `json:"rateLimitMs"`
	ChunkStrategy  string   `json:"chunkStrategy"`
}

func (h *apiHandlers) batchCrawl(c echo.Context) error {
	var req batchCrawlRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.URLs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "urls is required")
	}

	cfg := crawl.BatchConfig{
		MaxConcurrency: req.MaxConcurrency,
		Namespace:      namespace(c, req.Namespace),
		ChunkStrategy:  req.ChunkStrategy,
	}
	if req.RateLimitMs > 0 {
		cfg.RateLimit = time.Duration(req.RateLimitMs) * time.Millisecond
	}

	jobID, jobCtx, _ := h.deps.Jobs.Create(context.Background(), len(req.URLs))
	urls := req.URLs
	go func() {
		h.deps.Batch.Run(jobCtx, jobID, urls, cfg)
	}()

	return c.JSON(http.StatusAccepted, echo.Map{"jobId": jobID})
}

func (h *apiHandlers) listJobs(c echo.Context) error {
	return c.JSON(http.StatusOK, h.deps.Jobs.List())
}

func (h *apiHandlers) jobStatus(c echo.Context) error {
	job, ok := h.deps.Jobs.Get(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	}
	return c.JSON(http.StatusOK, job)
}

func (h *apiHandlers) jobCancel(c echo.Context) error {
	if err := h.deps.Jobs.Cancel(c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func compileFilter(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	return regexp.Compile(pattern)
}
