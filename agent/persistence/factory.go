package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/BaSui01/chatflow/internal/database"
	"go.uber.org/zap"
)

// NewTranscriptStore creates a TranscriptStore based on the configuration.
// When config.Mirror names further backends, every append is written to all of
// them and reads are served by the primary.
func NewTranscriptStore(ctx context.Context, config StoreConfig, logger *zap.Logger) (TranscriptStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	primary, err := newStore(ctx, config.Type, config, logger)
	if err != nil {
		return nil, err
	}
	if len(config.Mirror) == 0 {
		return primary, nil
	}

	replicas := make([]TranscriptStore, 0, len(config.Mirror))
	for _, t := range config.Mirror {
		if t == config.Type {
			continue
		}
		replica, err := newStore(ctx, t, config, logger)
		if err != nil {
			closeErr := NewMultiStore(primary, replicas...).Close()
			return nil, errors.Join(fmt.Errorf("mirror %s: %w", t, err), closeErr)
		}
		replicas = append(replicas, replica)
	}
	logger.Info("transcript store mirrored",
		zap.String("primary", string(config.Type)),
		zap.Int("replicas", len(replicas)),
	)
	return NewMultiStore(primary, replicas...), nil
}

func newStore(ctx context.Context, t StoreType, config StoreConfig, logger *zap.Logger) (TranscriptStore, error) {
	switch t {
	case StoreTypeMemory, "":
		return NewMemoryTranscriptStore(), nil
	case StoreTypeFile:
		return NewFileTranscriptStore(config)
	case StoreTypeRedis:
		return NewRedisTranscriptStore(ctx, config.Redis)
	case StoreTypeSQL:
		db, err := database.Open(config.SQL.Database, logger)
		if err != nil {
			return nil, err
		}
		return NewSQLTranscriptStore(db, config.SQL, logger)
	case StoreTypeMongo:
		return NewMongoTranscriptStore(ctx, config.Mongo)
	default:
		return nil, fmt.Errorf("unsupported transcript store type: %s", t)
	}
}
