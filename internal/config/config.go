// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration for noeticd. Sections map 1:1 onto
// spec.md's modules; see SPEC_FULL.md §A.3 for the full list.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Stdio         StdioConfig         `koanf:"stdio"`
	Observability ObservabilityConfig `koanf:"observability"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	VectorStore   VectorStoreConfig   `koanf:"vectorstore"`
	Fetch         FetchConfig         `koanf:"fetch"`
	Search        SearchConfig        `koanf:"search"`
	Crawl         CrawlConfig         `koanf:"crawl"`
	Eviction      EvictionConfig      `koanf:"eviction"`
}

// ServerConfig controls the HTTP transport.
type ServerConfig struct {
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// StdioConfig controls the MCP stdio transport.
type StdioConfig struct {
	Enabled bool `koanf:"enabled"`
}

// ObservabilityConfig controls logging/tracing/metrics wiring.
type ObservabilityConfig struct {
	ServiceName     string `koanf:"service_name"`
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	OTELEndpoint    string `koanf:"otel_endpoint"`
	// OTELInsecure disables TLS on the OTEL exporter connection. Defaults to
	// false; telemetry.New refuses insecure connections to a non-local
	// OTELEndpoint, so pointing at a remote collector without TLS requires
	// explicitly setting this to true.
	OTELInsecure bool   `koanf:"otel_insecure"`
	LogFormat    string `koanf:"log_format"` // "json" (default) or "console"
}

// EmbeddingsConfig selects and configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is one of "fastembed" (local, default), "openai", "bedrock", "rest".
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	CacheDir string `koanf:"cache_dir"`
	APIKey   Secret `koanf:"api_key"`
	Region   string `koanf:"region"` // bedrock
}

// VectorStoreConfig selects and configures the semantic cache backend. The
// two-tier agent/shared layout (spec.md §4.1) is only active when AgentMode
// is set, in which case the relevant provider's shared-index field is used
// as the read-only shared tier alongside the writable agent tier.
type VectorStoreConfig struct {
	// Provider is one of "chromem" (default, embedded), "qdrant", "pinecone".
	Provider  string `koanf:"provider"`
	AgentMode bool   `koanf:"agent_mode"`

	Chromem  ChromemStoreConfig  `koanf:"chromem"`
	Qdrant   QdrantStoreConfig   `koanf:"qdrant"`
	Pinecone PineconeStoreConfig `koanf:"pinecone"`
	Fallback FallbackStoreConfig `koanf:"fallback"`
}

func (c *VectorStoreConfig) Validate() error {
	switch c.Provider {
	case "chromem", "qdrant", "pinecone", "":
	default:
		return fmt.Errorf("invalid vectorstore provider: %s (must be chromem, qdrant, or pinecone)", c.Provider)
	}
	return nil
}

// ChromemStoreConfig configures the embedded chromem-go index.
type ChromemStoreConfig struct {
	Path       string `koanf:"path"`
	SharedPath string `koanf:"shared_path"` // used only when AgentMode is set
	Compress   bool   `koanf:"compress"`
	VectorSize int    `koanf:"vector_size"`
}

func (c *ChromemStoreConfig) Validate() error {
	if c.Path == "" {
		return errors.New("chromem path cannot be empty")
	}
	if c.VectorSize <= 0 {
		return fmt.Errorf("invalid chromem vector size: %d (must be positive)", c.VectorSize)
	}
	return nil
}

// QdrantStoreConfig configures the remote Qdrant vector store.
type QdrantStoreConfig struct {
	Host                 string `koanf:"host"`
	Port                 int    `koanf:"port"`
	CollectionName       string `koanf:"collection_name"`
	SharedCollectionName string `koanf:"shared_collection_name"` // used only when AgentMode is set
	VectorSize           int    `koanf:"vector_size"`
	UseTLS               bool   `koanf:"use_tls"`
}

// PineconeStoreConfig configures the remote Pinecone vector store.
type PineconeStoreConfig struct {
	APIKey          Secret `koanf:"api_key"`
	IndexHost       string `koanf:"index_host"`
	VectorSize      int    `koanf:"vector_size"`
	AgentNamespace  string `koanf:"agent_namespace"`
	SharedNamespace string `koanf:"shared_namespace"` // used only when AgentMode is set
}

// FallbackStoreConfig configures the optional local-chromem fallback that
// fronts a remote qdrant/pinecone store (see internal/vectorstore/fallback.go).
type FallbackStoreConfig struct {
	Enabled             bool     `koanf:"enabled"`
	LocalPath           string   `koanf:"local_path"`
	HealthCheckInterval Duration `koanf:"health_check_interval"`
}

// FetchConfig controls the fetch pipeline and resolver (spec.md §4.2-4.4).
type FetchConfig struct {
	BrowserPoolSize   int      `koanf:"browser_pool_size"`
	BrowserBinaryPath string   `koanf:"browser_binary_path"`
	AcquireTimeout    Duration `koanf:"acquire_timeout"`
	RequestTimeout    Duration `koanf:"request_timeout"`
	MaxBodyBytes      int64    `koanf:"max_body_bytes"`
	ProxyURL          string   `koanf:"proxy_url"`
	// ProxyType is one of "none" (default), "http", "socks4", "socks5".
	ProxyType   string   `koanf:"proxy_type"`
	UserAgents  []string `koanf:"user_agents"`
	InsecureTLS bool     `koanf:"insecure_tls"`
}

// SearchConfig controls WebSearchService and its cache probe (spec.md §4.7).
type SearchConfig struct {
	// Provider selects the live SearchProvider implementation.
	Provider            string  `koanf:"provider"`
	APIKey              Secret  `koanf:"api_key"`
	CacheThreshold      float32 `koanf:"cache_threshold"`
	CacheNamespace      string  `koanf:"cache_namespace"`
	RetryOnEmpty        bool    `koanf:"retry_on_empty"`
	StreamRotationCount int     `koanf:"stream_rotation_count"`
}

// CrawlConfig holds the default knobs for BatchCrawlService (spec.md §4.8),
// overridable per-call.
type CrawlConfig struct {
	DefaultConcurrency int      `koanf:"default_concurrency"`
	DefaultRateLimitMs int      `koanf:"default_rate_limit_ms"`
	DefaultTaskTimeout Duration `koanf:"default_task_timeout"`
	MaxURLsPerJob      int      `koanf:"max_urls_per_job"`
}

// EvictionConfig configures EvictionService's scheduled sweep (spec.md §4.10).
type EvictionConfig struct {
	SweepInterval    Duration            `koanf:"sweep_interval"`
	MaxEntries       int                 `koanf:"max_entries"`
	TTLByEntryType   map[string]Duration `koanf:"ttl_by_entry_type"`
	DefaultNamespace string              `koanf:"default_namespace"`
}

// Validate checks invariants that cannot be expressed as koanf defaults.
// Returns an error describing the first violation found:
//   - Server port out of range
//   - Shutdown timeout not positive
//   - Telemetry enabled without a service name
//   - Hostnames/paths/URLs that fail the shared security checks below
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}

	if err := validateHostname(c.VectorStore.Qdrant.Host); err != nil {
		return fmt.Errorf("invalid vectorstore.qdrant.host: %w", err)
	}
	if err := c.VectorStore.Chromem.Validate(); err != nil {
		return fmt.Errorf("invalid vectorstore.chromem: %w", err)
	}
	if err := c.VectorStore.Validate(); err != nil {
		return err
	}
	if c.Embeddings.CacheDir != "" {
		if err := validatePath(c.Embeddings.CacheDir); err != nil {
			return fmt.Errorf("invalid embeddings.cache_dir: %w", err)
		}
	}
	if c.Embeddings.BaseURL != "" {
		if err := validateURL(c.Embeddings.BaseURL); err != nil {
			return fmt.Errorf("invalid embeddings.base_url: %w", err)
		}
	}
	if c.Fetch.ProxyURL != "" {
		switch c.Fetch.ProxyType {
		case "none", "":
		case "http", "socks4", "socks5":
		default:
			return fmt.Errorf("invalid fetch.proxy_type: %q (must be none, http, socks4, or socks5)", c.Fetch.ProxyType)
		}
	}
	if c.Crawl.DefaultConcurrency <= 0 {
		return fmt.Errorf("crawl.default_concurrency must be positive, got %d", c.Crawl.DefaultConcurrency)
	}
	if c.Eviction.MaxEntries <= 0 {
		return fmt.Errorf("eviction.max_entries must be positive, got %d", c.Eviction.MaxEntries)
	}
	return nil
}

// Helper functions for environment variable parsing, used by Load (the
// direct-env-var fallback path kept for deployments that run without a
// config file at all, e.g. container orchestration that injects env vars
// only).

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := make([]string, 0)
		for _, part := range splitAndTrim(value, ",") {
			if part != "" {
				parts = append(parts, part)
			}
		}
		if len(parts) > 0 {
			return parts
		}
	}
	return defaultValue
}

func splitAndTrim(s, sep string) []string {
	var result []string
	for _, part := range strings.Split(s, sep) {
		result = append(result, strings.TrimSpace(part))
	}
	return result
}

// Load builds a Config directly from environment variables, bypassing the
// config file entirely. Used by deployments that inject configuration only
// via env vars (e.g. a minimal container without a mounted config file).
// LoadWithFile in loader.go is the normal entry point and should be
// preferred whenever a config file may be present.
func Load() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvInt("SERVER_PORT", 9090),
			ShutdownTimeout: Duration(getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second)),
		},
		Stdio: StdioConfig{
			Enabled: getEnvBool("STDIO_ENABLED", false),
		},
		Observability: ObservabilityConfig{
			ServiceName:     getEnvString("OBSERVABILITY_SERVICE_NAME", "noeticd"),
			EnableTelemetry: getEnvBool("OBSERVABILITY_ENABLE_TELEMETRY", false),
			OTELEndpoint:    getEnvString("OBSERVABILITY_OTEL_ENDPOINT", ""),
			OTELInsecure:    getEnvBool("OBSERVABILITY_OTEL_INSECURE", false),
			LogFormat:       getEnvString("OBSERVABILITY_LOG_FORMAT", "json"),
		},
		Embeddings: EmbeddingsConfig{
			Provider: getEnvString("EMBEDDINGS_PROVIDER", "fastembed"),
			Model:    getEnvString("EMBEDDINGS_MODEL", "BAAI/bge-small-en-v1.5"),
			BaseURL:  getEnvString("EMBEDDINGS_BASE_URL", ""),
			CacheDir: getEnvString("EMBEDDINGS_CACHE_DIR", ""),
			APIKey:   Secret(getEnvString("EMBEDDINGS_API_KEY", "")),
			Region:   getEnvString("EMBEDDINGS_REGION", ""),
		},
		VectorStore: VectorStoreConfig{
			Provider:  getEnvString("VECTORSTORE_PROVIDER", "chromem"),
			AgentMode: getEnvBool("VECTORSTORE_AGENT_MODE", false),
			Chromem: ChromemStoreConfig{
				Path:       getEnvString("VECTORSTORE_CHROMEM_PATH", "~/.config/noeticd/vectorstore"),
				SharedPath: getEnvString("VECTORSTORE_CHROMEM_SHARED_PATH", ""),
				Compress:   getEnvBool("VECTORSTORE_CHROMEM_COMPRESS", true),
				VectorSize: getEnvInt("VECTORSTORE_CHROMEM_VECTOR_SIZE", 384),
			},
			Qdrant: QdrantStoreConfig{
				Host:                 getEnvString("VECTORSTORE_QDRANT_HOST", "localhost"),
				Port:                 getEnvInt("VECTORSTORE_QDRANT_PORT", 6334),
				CollectionName:       getEnvString("VECTORSTORE_QDRANT_COLLECTION_NAME", "noeticd_agent"),
				SharedCollectionName: getEnvString("VECTORSTORE_QDRANT_SHARED_COLLECTION_NAME", "noeticd_shared"),
				VectorSize:           getEnvInt("VECTORSTORE_QDRANT_VECTOR_SIZE", 384),
				UseTLS:               getEnvBool("VECTORSTORE_QDRANT_USE_TLS", false),
			},
			Pinecone: PineconeStoreConfig{
				APIKey:          Secret(getEnvString("VECTORSTORE_PINECONE_API_KEY", "")),
				IndexHost:       getEnvString("VECTORSTORE_PINECONE_INDEX_HOST", ""),
				VectorSize:      getEnvInt("VECTORSTORE_PINECONE_VECTOR_SIZE", 384),
				AgentNamespace:  getEnvString("VECTORSTORE_PINECONE_AGENT_NAMESPACE", "agent"),
				SharedNamespace: getEnvString("VECTORSTORE_PINECONE_SHARED_NAMESPACE", "shared"),
			},
			Fallback: FallbackStoreConfig{
				Enabled:             getEnvBool("VECTORSTORE_FALLBACK_ENABLED", false),
				LocalPath:           getEnvString("VECTORSTORE_FALLBACK_LOCAL_PATH", "~/.config/noeticd/fallback"),
				HealthCheckInterval: Duration(getEnvDuration("VECTORSTORE_FALLBACK_HEALTH_CHECK_INTERVAL", 30*time.Second)),
			},
		},
		Fetch: FetchConfig{
			BrowserPoolSize:   getEnvInt("FETCH_BROWSER_POOL_SIZE", 2),
			BrowserBinaryPath: getEnvString("FETCH_BROWSER_BINARY_PATH", ""),
			AcquireTimeout:    Duration(getEnvDuration("FETCH_ACQUIRE_TIMEOUT", 30*time.Second)),
			RequestTimeout:    Duration(getEnvDuration("FETCH_REQUEST_TIMEOUT", 30*time.Second)),
			MaxBodyBytes:      int64(getEnvInt("FETCH_MAX_BODY_BYTES", 10*1024*1024)),
			ProxyURL:          getEnvString("FETCH_PROXY_URL", ""),
			ProxyType:         getEnvString("FETCH_PROXY_TYPE", "none"),
			UserAgents:        getEnvStringSlice("FETCH_USER_AGENTS", nil),
			InsecureTLS:       getEnvBool("FETCH_INSECURE_TLS", false),
		},
		Search: SearchConfig{
			Provider:            getEnvString("SEARCH_PROVIDER", "scrape"),
			APIKey:              Secret(getEnvString("SEARCH_API_KEY", "")),
			CacheThreshold:      float32(getEnvFloat("SEARCH_CACHE_THRESHOLD", 0.92)),
			CacheNamespace:      getEnvString("SEARCH_CACHE_NAMESPACE", "default"),
			RetryOnEmpty:        getEnvBool("SEARCH_RETRY_ON_EMPTY", true),
			StreamRotationCount: getEnvInt("SEARCH_STREAM_ROTATION_COUNT", 0),
		},
		Crawl: CrawlConfig{
			DefaultConcurrency: getEnvInt("CRAWL_DEFAULT_CONCURRENCY", 4),
			DefaultRateLimitMs: getEnvInt("CRAWL_DEFAULT_RATE_LIMIT_MS", 500),
			DefaultTaskTimeout: Duration(getEnvDuration("CRAWL_DEFAULT_TASK_TIMEOUT", 60*time.Second)),
			MaxURLsPerJob:      getEnvInt("CRAWL_MAX_URLS_PER_JOB", 500),
		},
		Eviction: EvictionConfig{
			SweepInterval:    Duration(getEnvDuration("EVICTION_SWEEP_INTERVAL", time.Hour)),
			MaxEntries:       getEnvInt("EVICTION_MAX_ENTRIES", 100000),
			DefaultNamespace: getEnvString("EVICTION_DEFAULT_NAMESPACE", "default"),
		},
	}
	applyDefaultTTLs(cfg)
	return cfg
}

// applyDefaultTTLs fills in the per-entry-type TTL table from spec.md §4.10
// for any entry type not already present (env-var overrides for individual
// TTLs are uncommon enough that they go through the config file's
// eviction.ttl_by_entry_type map, not individual env vars).
func applyDefaultTTLs(cfg *Config) {
	if cfg.Eviction.TTLByEntryType == nil {
		cfg.Eviction.TTLByEntryType = make(map[string]Duration)
	}
	defaults := map[string]time.Duration{
		"search_result": 24 * time.Hour,
		"query_cache":   6 * time.Hour,
		"crawl_chunk":   7 * 24 * time.Hour,
	}
	for entryType, ttl := range defaults {
		if _, ok := cfg.Eviction.TTLByEntryType[entryType]; !ok {
			cfg.Eviction.TTLByEntryType[entryType] = Duration(ttl)
		}
	}
}

// validateHostname checks if a hostname is safe (no command injection attempts).
// Uses positive validation with net.ParseIP for IP addresses and regexp for hostnames.
func validateHostname(host string) error {
	if host == "" {
		return nil
	}
	if net.ParseIP(host) != nil {
		return nil
	}
	hostnameRegex := regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)
	if !hostnameRegex.MatchString(host) {
		return fmt.Errorf("invalid hostname format: %s", host)
	}
	invalidChars := []string{";", "\n", "\r", "$", "`", "|", "&", "<", ">", "(", ")"}
	for _, char := range invalidChars {
		if strings.Contains(host, char) {
			return fmt.Errorf("invalid hostname: contains forbidden character %q", char)
		}
	}
	return nil
}

// validatePath checks if a path is safe (no path traversal).
func validatePath(path string) error {
	if strings.Contains(path, "..") {
		return fmt.Errorf("path contains traversal sequence: %s", path)
	}
	if filepath.IsAbs(path) {
		clean := filepath.Clean(path)
		origDepth := strings.Count(path, string(filepath.Separator))
		cleanDepth := strings.Count(clean, string(filepath.Separator))
		if cleanDepth < origDepth-1 {
			return fmt.Errorf("path traversal detected: %s (resolves to %s)", path, clean)
		}
	}
	return nil
}

// validateURL checks if a URL uses allowed schemes (http/https only).
func validateURL(urlStr string) error {
	if !strings.HasPrefix(urlStr, "http://") && !strings.HasPrefix(urlStr, "https://") {
		return fmt.Errorf("URL must use http:// or https:// scheme, got: %s", urlStr)
	}
	return nil
}
