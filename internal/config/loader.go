// Package config provides configuration loading for noeticd.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB
)

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SERVER_PORT, OBSERVABILITY_SERVICE_NAME, etc.)
//  2. YAML config file (~/.config/noeticd/config.yaml)
//  3. Hardcoded defaults
//
// The configPath parameter specifies the YAML file to load. If empty, uses
// the default path ~/.config/noeticd/config.yaml.
//
// # Security considerations
//
// File permissions: the config file MUST have 0600 or 0400 permissions.
// Files with weaker permissions (e.g. 0644 world-readable) are rejected.
//
// Path validation: only configuration files in allowed directories can be
// loaded: ~/.config/noeticd/ (user config) or /etc/noeticd/ (system-wide).
// Absolute paths outside these directories are rejected.
//
// File size limit: files larger than 1MB are rejected.
//
// # Environment variable mapping
//
// Environment variables use underscore separators and are uppercased. The
// transformer splits on the first underscore only, mapping the rest
// verbatim onto the field name:
//
//	SERVER_PORT -> server.port
//	OBSERVABILITY_SERVICE_NAME -> observability.service_name
//	VECTORSTORE_CHROMEM_PATH -> vectorstore.chromem_path (koanf then resolves
//	  nested struct tags against the flattened key)
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "noeticd", "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		// Open once and validate via the file descriptor to avoid a TOCTOU race.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// envTransform maps an environment variable name to a koanf dotted key by
// splitting on the first underscore only (section, then field name with
// remaining underscores left intact):
//
//	SERVER_PORT -> server.port
//	EVICTION_SWEEP_INTERVAL -> eviction.sweep_interval
func envTransform(s string) string {
	lower := strings.ToLower(s)
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// EnsureConfigDir creates the noeticd config directory if it doesn't exist,
// with 0700 permissions (owner read/write/execute only).
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	configDir := filepath.Join(home, ".config", "noeticd")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}
	return nil
}

// validateConfigPath checks if path is in an allowed directory. This
// validation runs even if the file doesn't exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		// File may not exist yet; fall back to the unresolved absolute path.
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", "noeticd"),
		"/etc/noeticd",
	}

	for _, dir := range allowedDirs {
		if strings.HasPrefix(resolvedPath, dir) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/noeticd/ or /etc/noeticd/")
}

// validateConfigFileProperties checks file permissions and size. Takes
// FileInfo from an already-opened file descriptor to avoid a TOCTOU race.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// applyDefaults sets default values for any configuration field left at
// its zero value after unmarshaling. Unlike the teacher's version this
// never derives fields from raw os.Getenv reads outside koanf's own
// provider chain — every value here is either a hardcoded default or was
// already resolved by LoadWithFile's koanf pipeline.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9090
	}
	if cfg.Server.ShutdownTimeout.Duration() == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "noeticd"
	}
	if cfg.Observability.LogFormat == "" {
		cfg.Observability.LogFormat = "json"
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "fastembed"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080"
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}
	if cfg.VectorStore.Chromem.Path == "" {
		cfg.VectorStore.Chromem.Path = "~/.config/noeticd/vectorstore"
	}
	if cfg.VectorStore.Chromem.VectorSize == 0 {
		cfg.VectorStore.Chromem.VectorSize = 384 // bge-small-en-v1.5 dimensions
	}
	if cfg.VectorStore.AgentMode && cfg.VectorStore.Chromem.SharedPath == "" {
		cfg.VectorStore.Chromem.SharedPath = "~/.config/noeticd/vectorstore-shared"
	}
	if cfg.VectorStore.Qdrant.Host == "" {
		cfg.VectorStore.Qdrant.Host = "localhost"
	}
	if cfg.VectorStore.Qdrant.Port == 0 {
		cfg.VectorStore.Qdrant.Port = 6334
	}
	if cfg.VectorStore.Qdrant.CollectionName == "" {
		cfg.VectorStore.Qdrant.CollectionName = "noeticd_agent"
	}
	if cfg.VectorStore.Qdrant.VectorSize == 0 {
		cfg.VectorStore.Qdrant.VectorSize = 384
	}
	if cfg.VectorStore.AgentMode && cfg.VectorStore.Qdrant.SharedCollectionName == "" {
		cfg.VectorStore.Qdrant.SharedCollectionName = "noeticd_shared"
	}
	if cfg.VectorStore.Pinecone.VectorSize == 0 {
		cfg.VectorStore.Pinecone.VectorSize = 384
	}
	if cfg.VectorStore.Pinecone.AgentNamespace == "" {
		cfg.VectorStore.Pinecone.AgentNamespace = "agent"
	}
	if cfg.VectorStore.AgentMode && cfg.VectorStore.Pinecone.SharedNamespace == "" {
		cfg.VectorStore.Pinecone.SharedNamespace = "shared"
	}
	if cfg.VectorStore.Fallback.LocalPath == "" {
		cfg.VectorStore.Fallback.LocalPath = "~/.config/noeticd/fallback"
	}
	if cfg.VectorStore.Fallback.HealthCheckInterval.Duration() == 0 {
		cfg.VectorStore.Fallback.HealthCheckInterval = Duration(30 * time.Second)
	}

	if cfg.Fetch.BrowserPoolSize == 0 {
		cfg.Fetch.BrowserPoolSize = 2
	}
	if cfg.Fetch.AcquireTimeout.Duration() == 0 {
		cfg.Fetch.AcquireTimeout = Duration(30 * time.Second)
	}
	if cfg.Fetch.RequestTimeout.Duration() == 0 {
		cfg.Fetch.RequestTimeout = Duration(30 * time.Second)
	}
	if cfg.Fetch.MaxBodyBytes == 0 {
		cfg.Fetch.MaxBodyBytes = 10 * 1024 * 1024
	}
	if cfg.Fetch.ProxyType == "" {
		cfg.Fetch.ProxyType = "none"
	}

	if cfg.Search.Provider == "" {
		cfg.Search.Provider = "scrape"
	}
	if cfg.Search.CacheThreshold == 0 {
		cfg.Search.CacheThreshold = 0.92
	}
	if cfg.Search.CacheNamespace == "" {
		cfg.Search.CacheNamespace = "default"
	}

	if cfg.Crawl.DefaultConcurrency == 0 {
		cfg.Crawl.DefaultConcurrency = 4
	}
	if cfg.Crawl.DefaultRateLimitMs == 0 {
		cfg.Crawl.DefaultRateLimitMs = 500
	}
	if cfg.Crawl.DefaultTaskTimeout.Duration() == 0 {
		cfg.Crawl.DefaultTaskTimeout = Duration(60 * time.Second)
	}
	if cfg.Crawl.MaxURLsPerJob == 0 {
		cfg.Crawl.MaxURLsPerJob = 500
	}

	if cfg.Eviction.SweepInterval.Duration() == 0 {
		cfg.Eviction.SweepInterval = Duration(time.Hour)
	}
	if cfg.Eviction.MaxEntries == 0 {
		cfg.Eviction.MaxEntries = 100000
	}
	if cfg.Eviction.DefaultNamespace == "" {
		cfg.Eviction.DefaultNamespace = "default"
	}
	applyDefaultTTLs(cfg)
}
