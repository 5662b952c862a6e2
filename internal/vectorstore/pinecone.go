// Package vectorstore provides vector storage implementations.
package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pinecone-io/go-pinecone/v3/pinecone"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"
)

// PineconeConfig holds configuration for a Pinecone-backed store.
type PineconeConfig struct {
	APIKey string
	// IndexHost is the serverless/pod index host returned by Pinecone's
	// DescribeIndex; callers resolve IndexName to a host once at startup.
	IndexHost  string
	VectorSize int

	// SharedNamespace, when non-empty, makes this a two-tier store: writes
	// go to AgentNamespace (Pinecone's own namespace mechanism), Promote
	// copies live vectors into SharedNamespace.
	AgentNamespace  string
	SharedNamespace string
}

func (c *PineconeConfig) ApplyDefaults() {
	if c.AgentNamespace == "" {
		c.AgentNamespace = "agent"
	}
}

func (c PineconeConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("%w: pinecone api key required", ErrInvalidConfig)
	}
	if c.IndexHost == "" {
		return fmt.Errorf("%w: pinecone index host required", ErrInvalidConfig)
	}
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	return nil
}

// PineconeStore implements Store on Pinecone's managed index, mapping this
// repo's namespace concept directly onto Pinecone namespaces rather than a
// metadata field, since Pinecone partitions storage and queries by
// namespace natively.
type PineconeStore struct {
	client *pinecone.Client
	config PineconeConfig
	logger *zap.Logger

	conns sync.Map // pinecone namespace -> *pinecone.IndexConnection
}

// NewPineconeStore creates a PineconeStore.
func NewPineconeStore(cfg PineconeConfig, logger *zap.Logger) (*PineconeStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	client, err := pinecone.NewClient(pinecone.NewClientParams{ApiKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	return &PineconeStore{client: client, config: cfg, logger: logger}, nil
}

func (s *PineconeStore) Initialize(ctx context.Context) error {
	_, err := s.conn(ctx, s.pineconeNamespace(s.config.AgentNamespace))
	return err
}

// pineconeNamespace scopes this repo's logical namespace under the configured
// agent namespace so that unrelated namespaces sharing one Pinecone index
// don't collide; "default" maps directly to the agent namespace root.
func (s *PineconeStore) pineconeNamespace(logical string) string {
	if logical == "" || logical == DefaultNamespace {
		return s.config.AgentNamespace
	}
	return s.config.AgentNamespace + "__" + logical
}

func (s *PineconeStore) conn(ctx context.Context, namespace string) (*pinecone.IndexConnection, error) {
	if c, ok := s.conns.Load(namespace); ok {
		return c.(*pinecone.IndexConnection), nil
	}
	conn, err := s.client.Index(pinecone.NewIndexConnParams{Host: s.config.IndexHost, Namespace: namespace})
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to namespace %s: %v", ErrConnectionFailed, namespace, err)
	}
	s.conns.Store(namespace, conn)
	return conn, nil
}

func entryMetadataStruct(e VectorEntry) (*structpb.Struct, error) {
	fields := make(map[string]interface{}, len(e.Metadata)+3)
	fields["content"] = e.Content
	fields["entry_type"] = e.EntryType
	fields["created_at_epoch"] = float64(e.CreatedAt.Unix())
	for k, v := range e.Metadata {
		fields[k] = v
	}
	return structpb.NewStruct(fields)
}

func (s *PineconeStore) toEntry(e VectorEntry) VectorEntry {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = timeNow()
	}
	if e.Namespace == "" {
		e.Namespace = DefaultNamespace
	}
	return e
}

func (s *PineconeStore) Upsert(ctx context.Context, entry VectorEntry) error {
	return s.UpsertBatch(ctx, []VectorEntry{entry})
}

func (s *PineconeStore) UpsertBatch(ctx context.Context, entries []VectorEntry) error {
	if len(entries) == 0 {
		return ErrEmptyEntries
	}

	byNamespace := make(map[string][]*pinecone.Vector)
	for _, raw := range entries {
		e := s.toEntry(raw)
		if len(e.Vector) == 0 {
			return ErrInvalidVector
		}
		meta, err := entryMetadataStruct(e)
		if err != nil {
			return fmt.Errorf("building metadata: %w", err)
		}
		ns := s.pineconeNamespace(e.Namespace)
		byNamespace[ns] = append(byNamespace[ns], &pinecone.Vector{
			Id:       e.ID,
			Values:   &e.Vector,
			Metadata: meta,
		})
	}

	for ns, vecs := range byNamespace {
		conn, err := s.conn(ctx, ns)
		if err != nil {
			return err
		}
		if _, err := conn.UpsertVectors(ctx, vecs); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreFailure, err)
		}
	}
	return nil
}

func (s *PineconeStore) Get(ctx context.Context, namespace, id string) (VectorEntry, error) {
	for _, logical := range s.readNamespaces(namespace) {
		conn, err := s.conn(ctx, s.pineconeNamespace(logical))
		if err != nil {
			continue
		}
		res, err := conn.FetchVectors(ctx, []string{id})
		if err != nil || res == nil {
			continue
		}
		if v, ok := res.Vectors[id]; ok {
			return vectorToEntry(logical, v), nil
		}
	}
	return VectorEntry{}, ErrNotFound
}

func vectorToEntry(namespace string, v *pinecone.Vector) VectorEntry {
	e := VectorEntry{ID: v.Id, Namespace: namespace, Metadata: map[string]string{}}
	if v.Values != nil {
		e.Vector = *v.Values
	}
	if v.Metadata != nil {
		for k, val := range v.Metadata.AsMap() {
			s := fmt.Sprintf("%v", val)
			switch k {
			case "content":
				e.Content = s
			case "entry_type":
				e.EntryType = s
			case "created_at_epoch":
				if f, ok := val.(float64); ok {
					e.CreatedAt = time.Unix(int64(f), 0).UTC()
				}
			default:
				e.Metadata[k] = s
			}
		}
	}
	return e
}

// readNamespaces returns the logical namespaces to consult: the requested
// one, plus "default" legacy-migration fallback when appropriate.
func (s *PineconeStore) readNamespaces(namespace string) []string {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if namespace == DefaultNamespace {
		return []string{DefaultNamespace}
	}
	return []string{namespace}
}

func (s *PineconeStore) Delete(ctx context.Context, namespace, id string) error {
	return s.DeleteBatch(ctx, namespace, []string{id})
}

func (s *PineconeStore) DeleteBatch(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	conn, err := s.conn(ctx, s.pineconeNamespace(namespace))
	if err != nil {
		return err
	}
	if err := conn.DeleteVectorsById(ctx, ids); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	return nil
}

func metadataFilterStruct(filter MetadataFilter) (*structpb.Struct, error) {
	fields := make(map[string]interface{})
	if filter.EntryType != "" {
		fields["entry_type"] = map[string]interface{}{"$eq": filter.EntryType}
	}
	for k, v := range filter.Equals {
		fields[k] = map[string]interface{}{"$eq": v}
	}
	if !filter.CreatedAfter.IsZero() || !filter.CreatedBefore.IsZero() {
		rng := map[string]interface{}{}
		if !filter.CreatedAfter.IsZero() {
			rng["$gte"] = float64(filter.CreatedAfter.Unix())
		}
		if !filter.CreatedBefore.IsZero() {
			rng["$lt"] = float64(filter.CreatedBefore.Unix())
		}
		fields["created_at_epoch"] = rng
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return structpb.NewStruct(fields)
}

func (s *PineconeStore) Search(ctx context.Context, queryVector []float32, topK int, threshold float32, namespace string, filter *MetadataFilter) ([]VectorMatch, error) {
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
	metaFilter, err := metadataFilterStruct(mf)
	if err != nil {
		return nil, fmt.Errorf("building filter: %w", err)
	}

	var all []VectorMatch
	for _, logical := range s.readNamespaces(namespace) {
		conn, err := s.conn(ctx, s.pineconeNamespace(logical))
		if err != nil {
			return nil, err
		}
		res, err := conn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
			Vector:          queryVector,
			TopK:            uint32(topK),
			MetadataFilter:  metaFilter,
			IncludeValues:   false,
			IncludeMetadata: true,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreFailure, err)
		}
		for _, m := range res.Matches {
			if m.Score < threshold {
				continue
			}
			e := vectorToEntry(logical, m.Vector)
			all = append(all, VectorMatch{ID: e.ID, Score: m.Score, Content: e.Content, Metadata: e.Metadata})
		}
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		return all[i].ID < all[j].ID
	})
	if len(all) > topK {
		all = all[:topK]
	}
	return all, nil
}

func (s *PineconeStore) DeleteByMetadata(ctx context.Context, namespace string, filter MetadataFilter) (int, error) {
	if filter.AllNamespaces {
		// Pinecone namespaces each as a distinct partition; this wrapper
		// does not enumerate them, so a true cross-namespace sweep isn't
		// supported on this backend. Eviction callers needing that should
		// run chromem (the default local store) or extend this client to
		// list namespaces via DescribeIndexStats first.
		return 0, fmt.Errorf("%w: cross-namespace DeleteByMetadata is not supported on PineconeStore", ErrInvalidConfig)
	}
	conn, err := s.conn(ctx, s.pineconeNamespace(namespace))
	if err != nil {
		return 0, err
	}
	metaFilter, err := metadataFilterStruct(filter)
	if err != nil {
		return 0, fmt.Errorf("building filter: %w", err)
	}
	before, err := s.namespaceCount(ctx, namespace)
	if err != nil {
		return 0, err
	}
	if err := conn.DeleteVectorsByFilter(ctx, metaFilter); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	after, err := s.namespaceCount(ctx, namespace)
	if err != nil {
		return 0, err
	}
	deleted := before - after
	if deleted < 0 {
		deleted = 0
	}
	return deleted, nil
}

func (s *PineconeStore) namespaceCount(ctx context.Context, namespace string) (int, error) {
	conn, err := s.conn(ctx, s.pineconeNamespace(namespace))
	if err != nil {
		return 0, err
	}
	stats, err := conn.DescribeIndexStats(ctx)
	if err != nil {
		return 0, fmt.Errorf("describing index stats: %w", err)
	}
	if ns, ok := stats.Namespaces[s.pineconeNamespace(namespace)]; ok {
		return int(ns.VectorCount), nil
	}
	return 0, nil
}

func (s *PineconeStore) Count(ctx context.Context) (int, error) {
	conn, err := s.conn(ctx, s.pineconeNamespace(s.config.AgentNamespace))
	if err != nil {
		return 0, err
	}
	stats, err := conn.DescribeIndexStats(ctx)
	if err != nil {
		return 0, fmt.Errorf("describing index stats: %w", err)
	}
	total := 0
	for _, ns := range stats.Namespaces {
		total += int(ns.VectorCount)
	}
	return total, nil
}

// Promote pages through the agent namespace's vector ids and re-upserts
// each fetched vector into SharedNamespace.
func (s *PineconeStore) Promote(ctx context.Context) (int, error) {
	if s.config.SharedNamespace == "" {
		return 0, ErrPromoteUnavailable
	}
	agentConn, err := s.conn(ctx, s.pineconeNamespace(s.config.AgentNamespace))
	if err != nil {
		return 0, err
	}
	sharedConn, err := s.conn(ctx, s.pineconeNamespace(s.config.SharedNamespace))
	if err != nil {
		return 0, err
	}

	count := 0
	var token string
	for {
		listReq := &pinecone.ListVectorsRequest{Limit: int32Ptr(100)}
		if token != "" {
			listReq.PaginationToken = &token
		}
		listRes, err := agentConn.ListVectors(ctx, listReq)
		if err != nil {
			return count, fmt.Errorf("listing agent vectors: %w", err)
		}
		if len(listRes.VectorIds) == 0 {
			break
		}
		ids := make([]string, len(listRes.VectorIds))
		for i, id := range listRes.VectorIds {
			ids[i] = *id
		}
		fetchRes, err := agentConn.FetchVectors(ctx, ids)
		if err != nil {
			return count, fmt.Errorf("fetching agent vectors: %w", err)
		}
		vecs := make([]*pinecone.Vector, 0, len(fetchRes.Vectors))
		for _, v := range fetchRes.Vectors {
			vecs = append(vecs, v)
		}
		if len(vecs) > 0 {
			if _, err := sharedConn.UpsertVectors(ctx, vecs); err != nil {
				return count, fmt.Errorf("upserting into shared namespace: %w", err)
			}
		}
		count += len(vecs)

		if listRes.Pagination == nil || listRes.Pagination.Next == "" {
			break
		}
		token = listRes.Pagination.Next
	}
	return count, nil
}

func int32Ptr(v int32) *int32 { return &v }

func (s *PineconeStore) Close() error {
	return nil
}

var _ Store = (*PineconeStore)(nil)
