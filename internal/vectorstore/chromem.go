// Package vectorstore provides vector storage implementations.
package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// timeNow is a variable for testing purposes (allows mocking time).
var timeNow = time.Now

var chromemTracer = otel.Tracer("noeticd.vectorstore.chromem")

const catalogFileName = "catalog.json"
const collectionName = "noeticd"

// ChromemConfig holds configuration for a single chromem-go tier.
type ChromemConfig struct {
	// Path is the directory for persistent storage of this tier.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// VectorSize is the expected embedding dimension.
	VectorSize int

	// SharedPath, when non-empty, makes this tier an agent tier that reads
	// through a second, read-only DB rooted at SharedPath. Promote copies
	// live entries from this tier into the shared one. Leave empty for a
	// single-tier (server mode) store.
	SharedPath string
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "~/.config/noeticd/vectorstore"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	return nil
}

// catalogEntry is the on-disk, authoritative record for one VectorEntry.
// chromem-go itself is used only as the nearest-neighbor index; it exposes
// no get-by-id or range-scan primitive, so the catalog is the source of
// truth for Get, Count, DeleteByMetadata and Promote, and chromem is kept
// as a derived index rebuilt from catalog writes.
type catalogEntry struct {
	ID        string            `json:"id"`
	Vector    []float32         `json:"vector"`
	Content   string            `json:"content"`
	EntryType string            `json:"entry_type"`
	Namespace string            `json:"namespace"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata"`
}

func (e catalogEntry) toVectorEntry() VectorEntry {
	return VectorEntry{
		ID:        e.ID,
		Vector:    e.Vector,
		Content:   e.Content,
		EntryType: e.EntryType,
		Namespace: e.Namespace,
		CreatedAt: e.CreatedAt,
		Metadata:  e.Metadata,
	}
}

// tier bundles a chromem DB with its catalog sidecar.
type tier struct {
	db      *chromem.DB
	path    string
	mu      sync.RWMutex
	catalog map[string]catalogEntry // keyed by id
}

func openTier(path string) (*tier, error) {
	expanded, err := expandChromemPath(path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(expanded, 0755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", expanded, err)
	}
	if err := removeStaleWriteLock(expanded); err != nil {
		return nil, err
	}

	db, err := chromem.NewPersistentDB(expanded, false)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	t := &tier{db: db, path: expanded, catalog: make(map[string]catalogEntry)}
	if err := t.loadCatalog(); err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}
	return t, nil
}

// removeStaleWriteLock deletes a leftover write.lock from an unclean
// shutdown. chromem-go's own persistence is lock-free per-collection gob
// files, but a previous process crashing mid-write can leave the advisory
// lock this store writes itself (see tier.withWriteLock); a stale lock must
// never block startup.
func removeStaleWriteLock(dir string) error {
	lockPath := filepath.Join(dir, "write.lock")
	if _, err := os.Stat(lockPath); err == nil {
		if rmErr := os.Remove(lockPath); rmErr != nil {
			return fmt.Errorf("removing stale write.lock: %w", rmErr)
		}
	}
	return nil
}

func (t *tier) loadCatalog() error {
	data, err := os.ReadFile(filepath.Join(t.path, catalogFileName))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var entries []catalogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range entries {
		t.catalog[e.ID] = e
	}
	return nil
}

// saveCatalog persists the full catalog via write-then-rename so a crash
// mid-write never leaves a truncated file behind.
func (t *tier) saveCatalog() error {
	t.mu.RLock()
	entries := make([]catalogEntry, 0, len(t.catalog))
	for _, e := range t.catalog {
		entries = append(entries, e)
	}
	t.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	tmp := filepath.Join(t.path, catalogFileName+".tmp")
	final := filepath.Join(t.path, catalogFileName)
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, final)
}

func (t *tier) collection() (*chromem.Collection, error) {
	col, err := t.db.GetOrCreateCollection(collectionName, nil, passthroughEmbeddingFunc(nil))
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection: %w", err)
	}
	return col, nil
}

// passthroughEmbeddingFunc adapts a pre-computed vector into chromem-go's
// EmbeddingFunc shape. chromem always calls this to turn a query's text
// into a vector; since every vector here is already computed by this
// repo's own Embedder, the returned func ignores its text argument.
func passthroughEmbeddingFunc(vec []float32) chromem.EmbeddingFunc {
	return func(_ context.Context, _ string) ([]float32, error) {
		return vec, nil
	}
}

func (t *tier) upsert(ctx context.Context, entry catalogEntry) error {
	col, err := t.collection()
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, entry.ID); err != nil && !strings.Contains(err.Error(), "not found") {
		return fmt.Errorf("replacing existing entry: %w", err)
	}
	doc := chromem.Document{
		ID:        entry.ID,
		Content:   entry.Content,
		Metadata:  flattenMetadata(entry),
		Embedding: entry.Vector,
	}
	if err := col.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
		return fmt.Errorf("adding document: %w", err)
	}
	t.mu.Lock()
	t.catalog[entry.ID] = entry
	t.mu.Unlock()
	return t.saveCatalog()
}

func (t *tier) delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	col, err := t.collection()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := col.Delete(ctx, nil, nil, id); err != nil && !strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("deleting %s: %w", id, err)
		}
	}
	t.mu.Lock()
	for _, id := range ids {
		delete(t.catalog, id)
	}
	t.mu.Unlock()
	return t.saveCatalog()
}

func (t *tier) get(namespace, id string) (catalogEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.catalog[id]
	if !ok || !matchesNamespace(e.Namespace, namespace) {
		return catalogEntry{}, false
	}
	return e, true
}

func (t *tier) count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.catalog)
}

// matching returns the ids whose catalog entry satisfies namespace and
// filter, in a deterministic (id-ascending) order.
func (t *tier) matching(namespace string, filter MetadataFilter) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var ids []string
	for id, e := range t.catalog {
		if !filter.AllNamespaces && !matchesNamespace(e.Namespace, namespace) {
			continue
		}
		if !entryMatchesFilter(e, filter) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func entryMatchesFilter(e catalogEntry, filter MetadataFilter) bool {
	if filter.EntryType != "" && e.EntryType != filter.EntryType {
		return false
	}
	if !filter.CreatedAfter.IsZero() && e.CreatedAt.Before(filter.CreatedAfter) {
		return false
	}
	if !filter.CreatedBefore.IsZero() && !e.CreatedAt.Before(filter.CreatedBefore) {
		return false
	}
	for k, v := range filter.Equals {
		if e.Metadata[k] != v {
			return false
		}
	}
	return true
}

func flattenMetadata(e catalogEntry) map[string]string {
	m := make(map[string]string, len(e.Metadata)+3)
	for k, v := range e.Metadata {
		m[k] = v
	}
	m["namespace"] = e.Namespace
	m["entry_type"] = e.EntryType
	m["created_at_epoch"] = strconv.FormatInt(e.CreatedAt.Unix(), 10)
	return m
}

func expandChromemPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// ChromemStore implements Store on top of chromem-go, an embeddable,
// zero-dependency vector database. When config.SharedPath is set it reads
// through a second, read-only tier and supports Promote; otherwise it is a
// single writable tier and Promote returns ErrPromoteUnavailable.
type ChromemStore struct {
	agent  *tier
	shared *tier // nil unless two-tier
	config ChromemConfig
	logger *zap.Logger
}

// NewChromemStore creates a ChromemStore from config.
func NewChromemStore(cfg ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	agent, err := openTier(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening agent tier: %w", err)
	}

	var shared *tier
	if cfg.SharedPath != "" {
		shared, err = openTier(cfg.SharedPath)
		if err != nil {
			return nil, fmt.Errorf("opening shared tier: %w", err)
		}
	}

	logger.Info("chromem store initialized",
		zap.String("path", agent.path),
		zap.Bool("two_tier", shared != nil),
		zap.Int("vector_size", cfg.VectorSize),
	)

	return &ChromemStore{agent: agent, shared: shared, config: cfg, logger: logger}, nil
}

// Initialize is a no-op beyond construction: directories and catalogs are
// already created and loaded by NewChromemStore. Kept to satisfy Store and
// to allow future lazy-open variants.
func (s *ChromemStore) Initialize(ctx context.Context) error {
	return nil
}

func (s *ChromemStore) toCatalogEntry(e VectorEntry) catalogEntry {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = timeNow()
	}
	if e.Namespace == "" {
		e.Namespace = DefaultNamespace
	}
	return catalogEntry{
		ID:        e.ID,
		Vector:    e.Vector,
		Content:   e.Content,
		EntryType: e.EntryType,
		Namespace: e.Namespace,
		CreatedAt: e.CreatedAt,
		Metadata:  e.Metadata,
	}
}

// Upsert replaces any entry with the same id in the agent (writable) tier.
func (s *ChromemStore) Upsert(ctx context.Context, entry VectorEntry) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Upsert")
	defer span.End()

	if len(entry.Vector) == 0 {
		return ErrInvalidVector
	}
	if err := s.agent.upsert(ctx, s.toCatalogEntry(entry)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	return nil
}

// UpsertBatch commits every entry; the batch is not atomic across entries,
// matching chromem-go's lack of multi-document transactions.
func (s *ChromemStore) UpsertBatch(ctx context.Context, entries []VectorEntry) error {
	if len(entries) == 0 {
		return ErrEmptyEntries
	}
	for _, e := range entries {
		if err := s.Upsert(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Get looks in the agent tier first, then the shared tier if present.
func (s *ChromemStore) Get(ctx context.Context, namespace, id string) (VectorEntry, error) {
	if e, ok := s.agent.get(namespace, id); ok {
		return e.toVectorEntry(), nil
	}
	if s.shared != nil {
		if e, ok := s.shared.get(namespace, id); ok {
			return e.toVectorEntry(), nil
		}
	}
	return VectorEntry{}, ErrNotFound
}

// Delete removes an entry from the agent tier. The shared tier is read-only
// from an agent's perspective and is never targeted by Delete.
func (s *ChromemStore) Delete(ctx context.Context, namespace, id string) error {
	return s.DeleteBatch(ctx, namespace, []string{id})
}

func (s *ChromemStore) DeleteBatch(ctx context.Context, namespace string, ids []string) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.DeleteBatch")
	defer span.End()

	var toDelete []string
	for _, id := range ids {
		if _, ok := s.agent.get(namespace, id); ok {
			toDelete = append(toDelete, id)
		}
	}
	if err := s.agent.delete(ctx, toDelete); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	return nil
}

// Search performs KNN search against the agent tier and, when two-tier,
// the shared tier, merging by score. Namespace and filter are applied as a
// pre-filter over the catalog before issuing the chromem query, so topK
// reflects only candidates eligible under those constraints.
func (s *ChromemStore) Search(ctx context.Context, queryVector []float32, topK int, threshold float32, namespace string, filter *MetadataFilter) ([]VectorMatch, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("top_k", topK), attribute.String("namespace", namespace))

	if len(queryVector) == 0 {
		return nil, ErrInvalidVector
	}
	if topK <= 0 {
		topK = 10
	}

	mf := MetadataFilter{}
	if filter != nil {
		mf = *filter
	}

	var matches []VectorMatch
	agentMatches, err := s.searchTier(ctx, s.agent, queryVector, topK, threshold, namespace, mf)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	matches = append(matches, agentMatches...)

	if s.shared != nil {
		sharedMatches, err := s.searchTier(ctx, s.shared, queryVector, topK, threshold, namespace, mf)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		matches = append(matches, sharedMatches...)
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}

	span.SetAttributes(attribute.Int("results_count", len(matches)))
	span.SetStatus(codes.Ok, "success")
	return matches, nil
}

func (s *ChromemStore) searchTier(ctx context.Context, t *tier, queryVector []float32, topK int, threshold float32, namespace string, filter MetadataFilter) ([]VectorMatch, error) {
	eligible := t.matching(namespace, filter)
	if len(eligible) == 0 {
		return nil, nil
	}

	eligibleSet := make(map[string]bool, len(eligible))
	for _, id := range eligible {
		eligibleSet[id] = true
	}

	col, err := t.db.GetOrCreateCollection(collectionName, nil, passthroughEmbeddingFunc(queryVector))
	if err != nil {
		return nil, fmt.Errorf("getting collection: %w", err)
	}

	// Over-fetch past topK since chromem's own where-filter only supports
	// flat equality (it cannot express the namespace default/legacy OR or
	// the createdAt range this store's MetadataFilter allows), so the real
	// constraint is applied client-side against the eligible id set above.
	k := len(eligible)
	if docCount := col.Count(); k > docCount {
		k = docCount
	}
	if k == 0 {
		return nil, nil
	}

	results, err := col.Query(ctx, "_", k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	matches := make([]VectorMatch, 0, topK)
	for _, r := range results {
		if !eligibleSet[r.ID] {
			continue
		}
		if r.Similarity < threshold {
			continue
		}
		matches = append(matches, VectorMatch{
			ID:       r.ID,
			Score:    r.Similarity,
			Content:  r.Content,
			Metadata: r.Metadata,
		})
	}
	return matches, nil
}

// DeleteByMetadata deletes every agent-tier entry matching filter.
func (s *ChromemStore) DeleteByMetadata(ctx context.Context, namespace string, filter MetadataFilter) (int, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.DeleteByMetadata")
	defer span.End()

	ids := s.agent.matching(namespace, filter)
	if len(ids) == 0 {
		return 0, nil
	}
	if err := s.agent.delete(ctx, ids); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	span.SetAttributes(attribute.Int("deleted", len(ids)))
	return len(ids), nil
}

// Count returns the number of live entries in the agent tier plus the
// shared tier, if any.
func (s *ChromemStore) Count(ctx context.Context) (int, error) {
	n := s.agent.count()
	if s.shared != nil {
		n += s.shared.count()
	}
	return n, nil
}

// Promote copies every live agent-tier entry into the shared tier,
// replacing by id. Only available when this store was constructed with a
// SharedPath (agent mode).
func (s *ChromemStore) Promote(ctx context.Context) (int, error) {
	if s.shared == nil {
		return 0, ErrPromoteUnavailable
	}

	s.agent.mu.RLock()
	entries := make([]catalogEntry, 0, len(s.agent.catalog))
	for _, e := range s.agent.catalog {
		entries = append(entries, e)
	}
	s.agent.mu.RUnlock()

	for _, e := range entries {
		if err := s.shared.upsert(ctx, e); err != nil {
			return 0, fmt.Errorf("promoting %s: %w", e.ID, err)
		}
	}
	PromoteTotal.Add(float64(len(entries)))
	s.logger.Info("promoted agent entries to shared tier", zap.Int("count", len(entries)))
	return len(entries), nil
}

// Close is a no-op: chromem-go persists synchronously and the catalog is
// saved on every mutation.
func (s *ChromemStore) Close() error {
	s.logger.Info("chromem store closed")
	return nil
}

var _ Store = (*ChromemStore)(nil)
