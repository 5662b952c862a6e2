// Package eviction sweeps the vector store on a schedule, applying
// per-entry-type TTLs and an overall max-entries cap.
package eviction

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noeticlabs/noeticd/internal/vectorstore"
)

// defaultTTLByEntryType mirrors spec.md §4.10's table; Config.TTLByEntryType
// overrides individual entries, it does not replace the whole set.
var defaultTTLByEntryType = map[string]time.Duration{
	"search_result": 24 * time.Hour,
	"query_cache":    6 * time.Hour,
	"crawl_chunk":    7 * 24 * time.Hour,
}

const oldestBucketAge = 24 * time.Hour

// Config configures Service.
type Config struct {
	SweepInterval    time.Duration
	MaxEntries       int
	TTLByEntryType   map[string]time.Duration
	DefaultNamespace string
}

// SweepResult reports what one run deleted, broken down by entry type plus
// the cap-shedding deletion, for observability and tests.
type SweepResult struct {
	DeletedByType map[string]int
	CapShed       int
	RanAt         time.Time
}

// Service runs the scheduled TTL sweep and max-entries cap shedding
// described in spec.md §4.10. It owns no goroutine at construction time;
// Run starts the ticker loop and blocks until ctx is cancelled.
type Service struct {
	store  vectorstore.Store
	ttls   map[string]time.Duration
	cfg    Config
	logger *zap.Logger
}

// NewService builds a Service, merging cfg.TTLByEntryType over the spec
// defaults (an empty override map leaves the defaults untouched).
func NewService(store vectorstore.Store, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	ttls := make(map[string]time.Duration, len(defaultTTLByEntryType))
	for k, v := range defaultTTLByEntryType {
		ttls[k] = v
	}
	for k, v := range cfg.TTLByEntryType {
		ttls[k] = v
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Hour
	}
	return &Service{store: store, ttls: ttls, cfg: cfg, logger: logger}
}

// Run blocks, invoking RunEviction every SweepInterval until ctx is done.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunEviction(ctx); err != nil {
				s.logger.Warn("eviction sweep failed", zap.Error(err))
			}
		}
	}
}

// RunEviction performs one on-demand sweep: a per-entry-type TTL pass,
// then, if the store is still over MaxEntries, a cap-shedding pass that
// deletes everything older than 24h regardless of type.
func (s *Service) RunEviction(ctx context.Context) (SweepResult, error) {
	now := time.Now()
	result := SweepResult{DeletedByType: make(map[string]int, len(s.ttls)), RanAt: now}

	for entryType, ttl := range s.ttls {
		n, err := s.store.DeleteByMetadata(ctx, "", vectorstore.MetadataFilter{
			EntryType:     entryType,
			CreatedBefore: now.Add(-ttl),
			AllNamespaces: true,
		})
		if err != nil {
			return result, fmt.Errorf("evicting entryType %q: %w", entryType, err)
		}
		result.DeletedByType[entryType] = n
	}

	if s.cfg.MaxEntries > 0 {
		count, err := s.store.Count(ctx)
		if err != nil {
			return result, fmt.Errorf("counting entries: %w", err)
		}
		if count > s.cfg.MaxEntries {
			n, err := s.store.DeleteByMetadata(ctx, "", vectorstore.MetadataFilter{
				CreatedBefore: now.Add(-oldestBucketAge),
				AllNamespaces: true,
			})
			if err != nil {
				return result, fmt.Errorf("shedding oldest bucket: %w", err)
			}
			result.CapShed = n
		}
	}

	return result, nil
}

// FlushAll deletes every entry in the store by using a createdBefore bound
// one second in the future, per spec.md §4.10.
func (s *Service) FlushAll(ctx context.Context) (int, error) {
	return s.store.DeleteByMetadata(ctx, "", vectorstore.MetadataFilter{
		CreatedBefore: time.Now().Add(time.Second),
		AllNamespaces: true,
	})
}
