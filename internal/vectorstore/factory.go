// Package vectorstore provides vector storage implementations.
package vectorstore

import (
	"context"
	"fmt"

	"github.com/noeticlabs/noeticd/internal/config"
	"go.uber.org/zap"
)

// NewStore builds the configured Store. The chromem provider is the
// zero-setup default; qdrant and pinecone are remote stores that can
// optionally be wrapped in a FallbackStore backed by a local chromem
// secondary (cfg.VectorStore.Fallback.Enabled) so a remote outage degrades
// the semantic cache to local-only rather than failing every request.
func NewStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	vs := cfg.VectorStore

	switch vs.Provider {
	case "chromem", "":
		store, err := newChromemFromConfig(vs, logger)
		if err != nil {
			return nil, err
		}
		return store, initAndReturn(ctx, store)

	case "qdrant":
		remote, err := newQdrantFromConfig(vs)
		if err != nil {
			return nil, err
		}
		if !vs.Fallback.Enabled {
			return remote, initAndReturn(ctx, remote)
		}
		return newFallbackFromConfig(ctx, remote, vs, logger)

	case "pinecone":
		remote, err := newPineconeFromConfig(vs, logger)
		if err != nil {
			return nil, err
		}
		if !vs.Fallback.Enabled {
			return remote, initAndReturn(ctx, remote)
		}
		return newFallbackFromConfig(ctx, remote, vs, logger)

	default:
		return nil, fmt.Errorf("%w: unsupported vectorstore provider %q (supported: chromem, qdrant, pinecone)", ErrInvalidConfig, vs.Provider)
	}
}

func initAndReturn(ctx context.Context, store Store) error {
	return store.Initialize(ctx)
}

func newChromemFromConfig(vs config.VectorStoreConfig, logger *zap.Logger) (*ChromemStore, error) {
	sharedPath := ""
	if vs.AgentMode {
		sharedPath = vs.Chromem.SharedPath
	}
	return NewChromemStore(ChromemConfig{
		Path:       vs.Chromem.Path,
		Compress:   vs.Chromem.Compress,
		VectorSize: vs.Chromem.VectorSize,
		SharedPath: sharedPath,
	}, logger)
}

func newQdrantFromConfig(vs config.VectorStoreConfig) (*QdrantStore, error) {
	shared := ""
	if vs.AgentMode {
		shared = vs.Qdrant.SharedCollectionName
	}
	return NewQdrantStore(QdrantConfig{
		Host:                 vs.Qdrant.Host,
		Port:                 vs.Qdrant.Port,
		CollectionName:       vs.Qdrant.CollectionName,
		SharedCollectionName: shared,
		VectorSize:           uint64(vs.Qdrant.VectorSize),
		UseTLS:               vs.Qdrant.UseTLS,
	})
}

func newPineconeFromConfig(vs config.VectorStoreConfig, logger *zap.Logger) (*PineconeStore, error) {
	shared := ""
	if vs.AgentMode {
		shared = vs.Pinecone.SharedNamespace
	}
	return NewPineconeStore(PineconeConfig{
		APIKey:          vs.Pinecone.APIKey.Value(),
		IndexHost:       vs.Pinecone.IndexHost,
		VectorSize:      vs.Pinecone.VectorSize,
		AgentNamespace:  vs.Pinecone.AgentNamespace,
		SharedNamespace: shared,
	}, logger)
}

func newFallbackFromConfig(ctx context.Context, remote Store, vs config.VectorStoreConfig, logger *zap.Logger) (Store, error) {
	local, err := NewChromemStore(ChromemConfig{
		Path:       vs.Fallback.LocalPath,
		VectorSize: vs.Chromem.VectorSize,
	}, logger)
	if err != nil {
		_ = remote.Close()
		return nil, fmt.Errorf("creating local fallback store: %w", err)
	}
	if err := remote.Initialize(ctx); err != nil {
		logger.Warn("fallback: primary failed to initialize, starting unhealthy", zap.Error(err))
	}
	if err := local.Initialize(ctx); err != nil {
		_ = remote.Close()
		_ = local.Close()
		return nil, fmt.Errorf("initializing local fallback store: %w", err)
	}

	fb := NewFallbackStore(ctx, remote, local, FallbackConfig{
		HealthCheckInterval: vs.Fallback.HealthCheckInterval.Duration(),
	}, logger)
	return fb, nil
}
