// Package vectorstore provides vector storage implementations.
package vectorstore

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var qdrantTracer = otel.Tracer("noeticd.vectorstore.qdrant")

var qdrantCollectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ErrInvalidCollectionName indicates a collection name fails the naming pattern.
var ErrInvalidCollectionName = fmt.Errorf("%w: invalid collection name", ErrInvalidConfig)

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	Host           string
	Port           int
	CollectionName string

	// SharedCollectionName, when non-empty, makes this store a two-tier
	// agent/shared store: writes go to CollectionName, Promote copies live
	// entries into SharedCollectionName.
	SharedCollectionName string

	VectorSize uint64
	Distance   qdrant.Distance
	UseTLS     bool

	MaxRetries              int
	RetryBackoff            time.Duration
	MaxMessageSize          int
	CircuitBreakerThreshold int
}

func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.CollectionName == "" {
		return fmt.Errorf("%w: collection name required", ErrInvalidConfig)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return nil
}

func (c *QdrantConfig) ApplyDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = 5
	}
	if c.Distance == 0 {
		c.Distance = qdrant.Distance_Cosine
	}
}

// ValidateCollectionName validates a collection name against security rules.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !qdrantCollectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// IsTransientError reports whether err should be retried.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantStore implements Store over Qdrant's native gRPC client, bypassing
// the HTTP payload-size limit. Namespace, entry type and createdAt epoch
// are stored as payload fields and pushed into Qdrant's own filter
// conditions rather than post-filtered client-side, since Qdrant supports
// both equality and numeric-range conditions natively.
type QdrantStore struct {
	client *qdrant.Client
	config QdrantConfig

	ensuredCollections sync.Map

	circuitBreaker struct {
		failures int
		lastFail time.Time
		mu       sync.Mutex
	}
}

// NewQdrantStore creates a QdrantStore, ensures its collection(s) exist, and
// performs a health check.
func NewQdrantStore(cfg QdrantConfig) (*QdrantStore, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if err := ValidateCollectionName(cfg.CollectionName); err != nil {
		return nil, fmt.Errorf("validating collection name: %w", err)
	}
	if cfg.SharedCollectionName != "" {
		if err := ValidateCollectionName(cfg.SharedCollectionName); err != nil {
			return nil, fmt.Errorf("validating shared collection name: %w", err)
		}
	}

	if !cfg.UseTLS {
		fmt.Fprintln(os.Stderr, "WARNING: Qdrant gRPC using plaintext (TLS disabled)")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	s := &QdrantStore{client: client, config: cfg}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("health check failed: %w", err)
	}

	return s, nil
}

func (s *QdrantStore) Initialize(ctx context.Context) error {
	if err := s.ensureCollection(ctx, s.config.CollectionName); err != nil {
		return err
	}
	if s.config.SharedCollectionName != "" {
		return s.ensureCollection(ctx, s.config.SharedCollectionName)
	}
	return nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context, name string) error {
	if _, ok := s.ensuredCollections.Load(name); ok {
		return nil
	}
	exists, err := s.collectionExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		if err := s.retryOperation(ctx, "create_collection", func() error {
			return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
				CollectionName: name,
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
					Size:     s.config.VectorSize,
					Distance: s.config.Distance,
				}),
			})
		}); err != nil {
			return fmt.Errorf("creating collection %s: %w", name, err)
		}
	}
	s.ensuredCollections.Store(name, true)
	return nil
}

func (s *QdrantStore) collectionExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.retryOperation(ctx, "collection_exists", func() error {
		info, err := s.client.GetCollectionInfo(ctx, name)
		if err != nil {
			if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
				exists = false
				return nil
			}
			return err
		}
		exists = info != nil
		return nil
	})
	return exists, err
}

func (s *QdrantStore) retryOperation(ctx context.Context, name string, op func() error) error {
	backoff := s.config.RetryBackoff
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		err := op()
		if err == nil {
			s.resetCircuitBreaker()
			return nil
		}
		if s.isCircuitOpen() {
			return fmt.Errorf("%s: circuit breaker open", name)
		}
		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", name, err)
		}
		s.recordFailure()
		if attempt == s.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", name, s.config.MaxRetries, err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", name, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}

func (s *QdrantStore) recordFailure() {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()
	s.circuitBreaker.failures++
	s.circuitBreaker.lastFail = time.Now()
}

func (s *QdrantStore) resetCircuitBreaker() {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()
	s.circuitBreaker.failures = 0
}

func (s *QdrantStore) isCircuitOpen() bool {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()
	if s.circuitBreaker.failures >= s.config.CircuitBreakerThreshold {
		if time.Since(s.circuitBreaker.lastFail) > 30*time.Second {
			s.circuitBreaker.failures = 0
			return false
		}
		return true
	}
	return false
}

// pointID derives a stable Qdrant UUID from a (namespace, id) pair so
// repeated upserts of the same logical entry always hit the same point.
func pointID(namespace, id string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(namespace+"/"+id)).String())
}

func entryPayload(e VectorEntry) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(e.Metadata)+4)
	payload["id"] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: e.ID}}
	payload["content"] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: e.Content}}
	payload["namespace"] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: e.Namespace}}
	payload["entry_type"] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: e.EntryType}}
	payload["created_at_epoch"] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: float64(e.CreatedAt.Unix())}}
	for k, v := range e.Metadata {
		payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
	}
	return payload
}

func payloadToEntry(id string, payload map[string]*qdrant.Value, vector []float32) VectorEntry {
	e := VectorEntry{Vector: vector, Metadata: make(map[string]string)}
	for k, v := range payload {
		var s string
		switch val := v.Kind.(type) {
		case *qdrant.Value_StringValue:
			s = val.StringValue
		case *qdrant.Value_DoubleValue:
			s = strconv.FormatFloat(val.DoubleValue, 'f', -1, 64)
		case *qdrant.Value_IntegerValue:
			s = strconv.FormatInt(val.IntegerValue, 10)
		default:
			continue
		}
		switch k {
		case "id":
			e.ID = s
		case "content":
			e.Content = s
		case "namespace":
			e.Namespace = s
		case "entry_type":
			e.EntryType = s
		case "created_at_epoch":
			if epoch, err := strconv.ParseInt(s, 10, 64); err == nil {
				e.CreatedAt = time.Unix(epoch, 0).UTC()
			}
		default:
			e.Metadata[k] = s
		}
	}
	if e.ID == "" {
		e.ID = id
	}
	return e
}

func (s *QdrantStore) toEntry(e VectorEntry) VectorEntry {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = timeNow()
	}
	if e.Namespace == "" {
		e.Namespace = DefaultNamespace
	}
	return e
}

func (s *QdrantStore) Upsert(ctx context.Context, entry VectorEntry) error {
	return s.UpsertBatch(ctx, []VectorEntry{entry})
}

func (s *QdrantStore) UpsertBatch(ctx context.Context, entries []VectorEntry) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.UpsertBatch")
	defer span.End()

	if len(entries) == 0 {
		return ErrEmptyEntries
	}
	if err := s.ensureCollection(ctx, s.config.CollectionName); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, len(entries))
	for i, raw := range entries {
		e := s.toEntry(raw)
		if len(e.Vector) == 0 {
			return ErrInvalidVector
		}
		points[i] = &qdrant.PointStruct{
			Id:      pointID(e.Namespace, e.ID),
			Vectors: qdrant.NewVectors(e.Vector...),
			Payload: entryPayload(e),
		}
	}

	err := s.retryOperation(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.config.CollectionName,
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	return nil
}

func (s *QdrantStore) Get(ctx context.Context, namespace, id string) (VectorEntry, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	for _, coll := range s.readCollections() {
		points, err := s.client.Get(ctx, &qdrant.GetPoints{
			CollectionName: coll,
			Ids:            []*qdrant.PointId{pointID(namespace, id)},
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		if err != nil {
			continue
		}
		if len(points) == 1 {
			return payloadToEntry(id, points[0].Payload, vectorsToFloats(points[0].Vectors)), nil
		}
	}
	return VectorEntry{}, ErrNotFound
}

func vectorsToFloats(v *qdrant.VectorsOutput) []float32 {
	if v == nil {
		return nil
	}
	if dense := v.GetVector(); dense != nil {
		return dense.GetData()
	}
	return nil
}

func (s *QdrantStore) readCollections() []string {
	cols := []string{s.config.CollectionName}
	if s.config.SharedCollectionName != "" {
		cols = append(cols, s.config.SharedCollectionName)
	}
	return cols
}

func (s *QdrantStore) Delete(ctx context.Context, namespace, id string) error {
	return s.DeleteBatch(ctx, namespace, []string{id})
}

func (s *QdrantStore) DeleteBatch(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = pointID(namespace, id)
	}
	err := s.retryOperation(ctx, "delete", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.config.CollectionName,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Points{
					Points: &qdrant.PointsIdsList{Ids: pointIDs},
				},
			},
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	return nil
}

func namespaceFilter(namespace string) *qdrant.Filter {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	eq := &qdrant.Condition{ConditionOneOf: &qdrant.Condition_Field{Field: &qdrant.FieldCondition{
		Key:   "namespace",
		Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: namespace}},
	}}}
	if namespace != DefaultNamespace {
		return &qdrant.Filter{Must: []*qdrant.Condition{eq}}
	}
	// default also absorbs legacy entries that never wrote a namespace field.
	missing := &qdrant.Condition{ConditionOneOf: &qdrant.Condition_IsEmpty{IsEmpty: &qdrant.IsEmptyCondition{Key: "namespace"}}}
	return &qdrant.Filter{Should: []*qdrant.Condition{eq, missing}}
}

func metadataFilterConditions(filter MetadataFilter) []*qdrant.Condition {
	var conds []*qdrant.Condition
	if filter.EntryType != "" {
		conds = append(conds, &qdrant.Condition{ConditionOneOf: &qdrant.Condition_Field{Field: &qdrant.FieldCondition{
			Key:   "entry_type",
			Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: filter.EntryType}},
		}}})
	}
	for k, v := range filter.Equals {
		conds = append(conds, &qdrant.Condition{ConditionOneOf: &qdrant.Condition_Field{Field: &qdrant.FieldCondition{
			Key:   k,
			Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: v}},
		}}})
	}
	if !filter.CreatedAfter.IsZero() || !filter.CreatedBefore.IsZero() {
		r := &qdrant.Range{}
		if !filter.CreatedAfter.IsZero() {
			v := float64(filter.CreatedAfter.Unix())
			r.Gte = &v
		}
		if !filter.CreatedBefore.IsZero() {
			v := float64(filter.CreatedBefore.Unix())
			r.Lt = &v
		}
		conds = append(conds, &qdrant.Condition{ConditionOneOf: &qdrant.Condition_Field{Field: &qdrant.FieldCondition{
			Key:   "created_at_epoch",
			Range: r,
		}}})
	}
	return conds
}

func combineFilters(namespace string, filter MetadataFilter) *qdrant.Filter {
	if filter.AllNamespaces {
		extra := metadataFilterConditions(filter)
		return &qdrant.Filter{Must: extra}
	}
	nsFilter := namespaceFilter(namespace)
	extra := metadataFilterConditions(filter)
	if len(extra) == 0 {
		return nsFilter
	}
	must := append([]*qdrant.Condition{}, extra...)
	if len(nsFilter.Should) > 0 {
		// fold the OR'd namespace condition in as a single nested clause
		must = append(must, &qdrant.Condition{ConditionOneOf: &qdrant.Condition_Filter{Filter: nsFilter}})
	} else {
		must = append(must, nsFilter.Must...)
	}
	return &qdrant.Filter{Must: must}
}

func (s *QdrantStore) Search(ctx context.Context, queryVector []float32, topK int, threshold float32, namespace string, filter *MetadataFilter) ([]VectorMatch, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Search")
	defer span.End()

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
	qf := combineFilters(namespace, mf)

	var all []VectorMatch
	for _, coll := range s.readCollections() {
		var results []*qdrant.ScoredPoint
		err := s.retryOperation(ctx, "search", func() error {
			res, err := s.client.Query(ctx, &qdrant.QueryPoints{
				CollectionName: coll,
				Query:          qdrant.NewQuery(queryVector...),
				Limit:          qdrant.PtrOf(uint64(topK)),
				WithPayload:    qdrant.NewWithPayload(true),
				Filter:         qf,
				ScoreThreshold: qdrant.PtrOf(threshold),
			})
			if err != nil {
				return err
			}
			results = res
			return nil
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("searching collection %s: %w", coll, err)
		}
		for _, r := range results {
			e := payloadToEntry("", r.Payload, nil)
			all = append(all, VectorMatch{ID: e.ID, Score: r.Score, Content: e.Content, Metadata: e.Metadata})
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
	span.SetAttributes(attribute.Int("results_count", len(all)))
	return all, nil
}

func (s *QdrantStore) DeleteByMetadata(ctx context.Context, namespace string, filter MetadataFilter) (int, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.DeleteByMetadata")
	defer span.End()

	before, err := s.Count(ctx)
	if err != nil {
		return 0, err
	}

	qf := combineFilters(namespace, filter)
	err = s.retryOperation(ctx, "delete_by_metadata", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.config.CollectionName,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: qf},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}

	after, err := s.Count(ctx)
	if err != nil {
		return 0, err
	}
	deleted := before - after
	if deleted < 0 {
		deleted = 0
	}
	return deleted, nil
}

func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	total := 0
	for _, coll := range s.readCollections() {
		info, err := s.client.GetCollectionInfo(ctx, coll)
		if err != nil {
			return 0, fmt.Errorf("getting collection info for %s: %w", coll, err)
		}
		if info.PointsCount != nil {
			total += int(*info.PointsCount)
		}
	}
	return total, nil
}

// Promote scans the agent collection in pages and upserts each point into
// the shared collection. Only available when SharedCollectionName is set.
func (s *QdrantStore) Promote(ctx context.Context) (int, error) {
	if s.config.SharedCollectionName == "" {
		return 0, ErrPromoteUnavailable
	}
	if err := s.ensureCollection(ctx, s.config.SharedCollectionName); err != nil {
		return 0, err
	}

	const pageSize = 256
	var offset *qdrant.PointId
	count := 0
	for {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.config.CollectionName,
			Limit:          qdrant.PtrOf(uint64(pageSize)),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		if err != nil {
			return count, fmt.Errorf("scanning agent collection: %w", err)
		}
		if len(res) == 0 {
			break
		}

		points := make([]*qdrant.PointStruct, 0, len(res))
		for _, r := range res {
			points = append(points, &qdrant.PointStruct{
				Id:      r.Id,
				Vectors: qdrant.NewVectors(vectorsToFloats(r.Vectors)...),
				Payload: r.Payload,
			})
		}
		if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.config.SharedCollectionName,
			Points:         points,
		}); err != nil {
			return count, fmt.Errorf("upserting into shared collection: %w", err)
		}
		count += len(points)

		if len(res) < pageSize {
			break
		}
		offset = res[len(res)-1].Id
	}
	return count, nil
}

func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

var _ Store = (*QdrantStore)(nil)
