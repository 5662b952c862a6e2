package mcp

// WebSearchParams are the parameters for the web_search tool.
type WebSearchParams struct {
	Query      string `json:"query" jsonschema:"Search query text"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"Maximum number of results (default 10)"`
	Namespace  string `json:"namespace,omitempty" jsonschema:"Cache namespace (default 'default')"`
	SkipCache  bool   `json:"skip_cache,omitempty" jsonschema:"Bypass the semantic cache and always call the live provider"`
}

// CrawlPageParams are the parameters for the crawl_page tool.
type CrawlPageParams struct {
	URL           string `json:"url" jsonschema:"URL to fetch"`
	Namespace     string `json:"namespace,omitempty" jsonschema:"Cache namespace (default 'default')"`
	ChunkStrategy string `json:"chunk_strategy,omitempty" jsonschema:"sentence, token, or semantic (default sentence)"`
	ChunkSize     int    `json:"chunk_size,omitempty" jsonschema:"Max chunk size in characters or tokens"`
	ChunkOverlap  int    `json:"chunk_overlap,omitempty" jsonschema:"Overlap between adjacent chunks"`
}

// ChunkContentParams are the parameters for the chunk_content tool.
type ChunkContentParams struct {
	Content  string `json:"content" jsonschema:"Text to split into chunks"`
	Strategy string `json:"strategy,omitempty" jsonschema:"sentence, token, or semantic (default sentence)"`
	MaxSize  int    `json:"max_size,omitempty" jsonschema:"Max chunk size in characters or tokens"`
	Overlap  int    `json:"overlap,omitempty" jsonschema:"Overlap between adjacent chunks"`
}

// CacheQueryParams are the parameters for the cache_query tool.
type CacheQueryParams struct {
	Query     string  `json:"query" jsonschema:"Query text to embed and search for"`
	Namespace string  `json:"namespace,omitempty" jsonschema:"Cache namespace (default 'default')"`
	TopK      int     `json:"top_k,omitempty" jsonschema:"Maximum number of matches (default 10)"`
	Threshold float64 `json:"threshold,omitempty" jsonschema:"Minimum similarity score (default 0)"`
	EntryType string  `json:"entry_type,omitempty" jsonschema:"Restrict to a single entry type"`
}

// CacheEvictParams are the parameters for the cache_evict tool (no inputs).
type CacheEvictParams struct{}

// CacheFlushParams are the parameters for the cache_flush tool (no inputs).
type CacheFlushParams struct{}

// BatchCrawlParams are the parameters for the batch_crawl tool.
type BatchCrawlParams struct {
	URLs           []string `json:"urls" jsonschema:"URLs to crawl"`
	Namespace      string   `json:"namespace,omitempty" jsonschema:"Cache namespace (default 'default')"`
	MaxConcurrency int      `json:"max_concurrency,omitempty" jsonschema:"Worker pool size (default 4)"`
	RateLimitMs    int      `json:"rate_limit_ms,omitempty" jsonschema:"Minimum milliseconds between request starts"`
	ChunkStrategy  string   `json:"chunk_strategy,omitempty" jsonschema:"sentence, token, or semantic (default sentence)"`
}

// DiscoverSitemapParams are the parameters for the discover_sitemap tool.
type DiscoverSitemapParams struct {
	Domain     string `json:"domain" jsonschema:"Domain to discover, e.g. example.com"`
	MaxURLs    int    `json:"max_urls,omitempty" jsonschema:"Maximum URLs to return (default 1000)"`
	PathFilter string `json:"path_filter,omitempty" jsonschema:"Regular expression a URL's path must match"`
}

// MapSiteParams are the parameters for the map_site tool.
type MapSiteParams struct {
	SeedURL    string `json:"seed_url" jsonschema:"URL to start breadth-first traversal from"`
	MaxURLs    int    `json:"max_urls,omitempty" jsonschema:"Maximum URLs to return (default 100)"`
	MaxDepth   int    `json:"max_depth,omitempty" jsonschema:"Maximum link hops from the seed (default 2)"`
	PathFilter string `json:"path_filter,omitempty" jsonschema:"Regular expression a URL's path must match"`
}

// JobStatusParams are the parameters for the job_status tool.
type JobStatusParams struct {
	JobID string `json:"job_id" jsonschema:"Job identifier returned by batch_crawl"`
}

// JobCancelParams are the parameters for the job_cancel tool.
type JobCancelParams struct {
	JobID string `json:"job_id" jsonschema:"Job identifier to cancel"`
}

// CachePromoteParams are the parameters for the cache_promote tool (no inputs).
type CachePromoteParams struct{}
