// Package vectorstore defines the durable nearest-neighbor index that backs
// the semantic cache: namespaced, typed entries with metadata filtering,
// TTL-friendly range deletes, and a two-tier agent/shared read-through
// layout.
package vectorstore

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for vector store operations.
var (
	// ErrNotFound is returned when an entry does not exist.
	ErrNotFound = errors.New("entry not found")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyEntries indicates an empty or nil batch was supplied.
	ErrEmptyEntries = errors.New("empty or nil entries")

	// ErrConnectionFailed indicates the remote store could not be reached.
	ErrConnectionFailed = errors.New("failed to connect to vector store backend")

	// ErrInvalidVector indicates a vector failed validation (empty, wrong dimension).
	ErrInvalidVector = errors.New("invalid vector")

	// ErrPromoteUnavailable is returned when promote is called on a store not in agent mode.
	ErrPromoteUnavailable = errors.New("promote is only available in agent mode")

	// ErrStoreFailure wraps an underlying index-library error distinct from not-found.
	ErrStoreFailure = errors.New("vector store failure")
)

// Hint distinguishes how a piece of text will be used, so providers that
// embed documents and queries asymmetrically can choose the right mode.
type Hint int

const (
	HintDocument Hint = iota
	HintQuery
	HintClassification
	HintClustering
)

// Embedder generates dense, L2-normalized vector embeddings from text.
type Embedder interface {
	// Embed generates a single embedding for text under the given hint.
	Embed(ctx context.Context, text string, hint Hint) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts under the given hint.
	EmbedBatch(ctx context.Context, texts []string, hint Hint) ([][]float32, error)

	// Dimension returns the embedding dimension produced by this embedder.
	Dimension() int
}

// VectorEntry is the unit stored in the index.
type VectorEntry struct {
	// ID is unique within a namespace, caller-supplied, stable across upserts.
	ID string

	// Vector is the embedding; must be non-empty and of fixed dimensionality
	// per deployment. Expected to be L2-normalized by the embedder.
	Vector []float32

	// Content is the original text.
	Content string

	// EntryType drives the TTL eviction class (e.g. "search_result",
	// "query_cache", "crawl_chunk", or caller-defined).
	EntryType string

	// Namespace isolates entries; "default" is reserved for anonymous callers.
	Namespace string

	// CreatedAt defaults to now; used by eviction range queries.
	CreatedAt time.Time

	// Metadata carries arbitrary string key/value pairs, e.g. sourceUrl,
	// title, url, query, strategy.
	Metadata map[string]string
}

// VectorMatch is a single KNN search result.
type VectorMatch struct {
	ID       string
	Score    float32 // higher = more similar
	Content  string
	Metadata map[string]string
}

// MetadataFilter is a conjunction of equality constraints over metadata and
// first-class fields, plus an optional createdAt range.
type MetadataFilter struct {
	// Equals constrains metadata fields (and EntryType/Namespace when keyed
	// by those names) to exact values.
	Equals map[string]string

	// EntryType, when non-empty, constrains to this entry type.
	EntryType string

	// CreatedAfter / CreatedBefore bound CreatedAt, either may be zero to
	// mean unbounded.
	CreatedAfter  time.Time
	CreatedBefore time.Time

	// AllNamespaces, when true, bypasses the namespace filter entirely so
	// DeleteByMetadata applies across every namespace. Used by the TTL
	// eviction sweep, which must not be scoped to a single project.
	AllNamespaces bool
}

// Store is the durable nearest-neighbor index.
//
// Namespace filter: when a namespace is supplied to Search, the query is
// restricted to entries with that namespace OR — only when the requested
// namespace is "default" — entries lacking a namespace at all (migration
// rule for legacy entries). Implementations apply this as a pre-filter
// before the KNN search so topK semantics are preserved.
//
// Two-tier layout: a Store constructed in agent mode reads through a
// writable per-agent tier and an optional read-only shared tier, writes go
// to the agent tier, and Promote copies live agent-tier entries into the
// shared tier by id. A Store in server mode has a single writable tier and
// Promote returns ErrPromoteUnavailable.
type Store interface {
	// Initialize creates the on-disk index directory if absent. Idempotent.
	Initialize(ctx context.Context) error

	// Upsert replaces any entry with the same (namespace, id), then commits.
	Upsert(ctx context.Context, entry VectorEntry) error

	// UpsertBatch commits the whole batch as a single unit.
	UpsertBatch(ctx context.Context, entries []VectorEntry) error

	// Get returns the entry or ErrNotFound.
	Get(ctx context.Context, namespace, id string) (VectorEntry, error)

	// Delete removes a single entry by id, then commits.
	Delete(ctx context.Context, namespace, id string) error

	// DeleteBatch removes multiple entries by id, then commits.
	DeleteBatch(ctx context.Context, namespace string, ids []string) error

	// Search returns up to topK matches whose similarity is >= threshold,
	// strictly descending by score, ties broken by id ascending.
	Search(ctx context.Context, queryVector []float32, topK int, threshold float32, namespace string, filter *MetadataFilter) ([]VectorMatch, error)

	// DeleteByMetadata deletes every entry matching filter, then commits.
	// Returns the number of entries deleted.
	DeleteByMetadata(ctx context.Context, namespace string, filter MetadataFilter) (int, error)

	// Count returns the total number of live entries (across all namespaces).
	Count(ctx context.Context) (int, error)

	// Promote copies all live entries of the agent tier into the shared
	// tier, replacing by id. Only available in agent mode.
	Promote(ctx context.Context) (int, error)

	// Close commits and releases files.
	Close() error
}
