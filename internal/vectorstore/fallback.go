package vectorstore

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// FallbackConfig configures FallbackStore's health polling.
type FallbackConfig struct {
	// HealthCheckInterval controls how often the primary is retried after a
	// failure marks it unhealthy.
	HealthCheckInterval time.Duration
}

func (c *FallbackConfig) ApplyDefaults() {
	if c.HealthCheckInterval == 0 {
		c.HealthCheckInterval = 30 * time.Second
	}
}

// FallbackStore wraps a remote primary Store (Qdrant or Pinecone) with a
// local chromem secondary. Writes and reads go to the primary while it is
// healthy; on error the secondary absorbs the operation and the primary is
// marked unhealthy until the next health-check tick passes. This replaces
// the teacher's WAL-replay fallback: the distilled spec has no
// replication/sync requirement between tiers, only availability, so the
// secondary is a plain independent store rather than a replay log.
type FallbackStore struct {
	primary   Store
	secondary Store
	logger    *zap.Logger
	cfg       FallbackConfig

	healthy  atomic.Bool
	stopChan chan struct{}
}

// NewFallbackStore creates a FallbackStore and starts its background health
// poller. Call Close to stop the poller and close both stores.
func NewFallbackStore(ctx context.Context, primary, secondary Store, cfg FallbackConfig, logger *zap.Logger) *FallbackStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()

	fs := &FallbackStore{primary: primary, secondary: secondary, logger: logger, cfg: cfg, stopChan: make(chan struct{})}
	fs.healthy.Store(true)

	go fs.pollHealth(ctx)
	return fs
}

func (fs *FallbackStore) pollHealth(ctx context.Context) {
	ticker := time.NewTicker(fs.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-fs.stopChan:
			return
		case <-ticker.C:
			if fs.healthy.Load() {
				continue
			}
			checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := fs.primary.Count(checkCtx)
			cancel()
			if err == nil {
				fs.logger.Info("fallback: primary recovered")
				fs.healthy.Store(true)
				FallbackActive.Set(0)
			}
		}
	}
}

func (fs *FallbackStore) active() Store {
	if fs.healthy.Load() {
		return fs.primary
	}
	return fs.secondary
}

func (fs *FallbackStore) markUnhealthy(err error) {
	if err == nil {
		return
	}
	if fs.healthy.CompareAndSwap(true, false) {
		fs.logger.Warn("fallback: primary store failed, switching to local secondary", zap.Error(err))
		FallbackActive.Set(1)
	}
}

func (fs *FallbackStore) Initialize(ctx context.Context) error {
	if err := fs.primary.Initialize(ctx); err != nil {
		fs.markUnhealthy(err)
	}
	return fs.secondary.Initialize(ctx)
}

func (fs *FallbackStore) Upsert(ctx context.Context, entry VectorEntry) error {
	if err := fs.active().Upsert(ctx, entry); err != nil {
		if fs.active() == fs.primary {
			fs.markUnhealthy(err)
			return fs.secondary.Upsert(ctx, entry)
		}
		return err
	}
	return nil
}

func (fs *FallbackStore) UpsertBatch(ctx context.Context, entries []VectorEntry) error {
	if err := fs.active().UpsertBatch(ctx, entries); err != nil {
		if fs.active() == fs.primary {
			fs.markUnhealthy(err)
			return fs.secondary.UpsertBatch(ctx, entries)
		}
		return err
	}
	return nil
}

func (fs *FallbackStore) Get(ctx context.Context, namespace, id string) (VectorEntry, error) {
	return fs.active().Get(ctx, namespace, id)
}

func (fs *FallbackStore) Delete(ctx context.Context, namespace, id string) error {
	return fs.active().Delete(ctx, namespace, id)
}

func (fs *FallbackStore) DeleteBatch(ctx context.Context, namespace string, ids []string) error {
	return fs.active().DeleteBatch(ctx, namespace, ids)
}

func (fs *FallbackStore) Search(ctx context.Context, queryVector []float32, topK int, threshold float32, namespace string, filter *MetadataFilter) ([]VectorMatch, error) {
	results, err := fs.active().Search(ctx, queryVector, topK, threshold, namespace, filter)
	if err != nil && fs.active() == fs.primary {
		fs.markUnhealthy(err)
		return fs.secondary.Search(ctx, queryVector, topK, threshold, namespace, filter)
	}
	return results, err
}

func (fs *FallbackStore) DeleteByMetadata(ctx context.Context, namespace string, filter MetadataFilter) (int, error) {
	return fs.active().DeleteByMetadata(ctx, namespace, filter)
}

func (fs *FallbackStore) Count(ctx context.Context) (int, error) {
	return fs.active().Count(ctx)
}

func (fs *FallbackStore) Promote(ctx context.Context) (int, error) {
	return fs.active().Promote(ctx)
}

func (fs *FallbackStore) Close() error {
	close(fs.stopChan)
	err1 := fs.primary.Close()
	err2 := fs.secondary.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

var _ Store = (*FallbackStore)(nil)
