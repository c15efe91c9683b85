package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/chatflow/internal/cache"
	"github.com/BaSui01/chatflow/types"
)

// ResponseCache is the subset of cache.Manager the cache decorator needs.
type ResponseCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// CacheKey derives the cache key of a message list.
func CacheKey(namespace string, messages []types.Message) string {
	data, _ := json.Marshal(messages)
	sum := sha256.Sum256(data)
	return namespace + ":" + hex.EncodeToString(sum[:])
}

// WithCache serves identical message lists from c. Cache failures never fail
// a generation; they are logged and the backend is called.
func WithCache(c ResponseCache, namespace string, ttl time.Duration, logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "llm_cache"))
	if namespace == "" {
		namespace = "chatflow:gen"
	}
	return func(next Gateway) Gateway {
		return GatewayFunc(func(ctx context.Context, messages []types.Message) (string, error) {
			key := CacheKey(namespace, messages)
			if reply, err := c.Get(ctx, key); err == nil {
				logger.Debug("generation cache hit", zap.String("key", key))
				return reply, nil
			} else if !cache.IsCacheMiss(err) {
				logger.Warn("generation cache read failed", zap.Error(err))
			}

			reply, err := next.Generate(ctx, messages)
			if err != nil {
				return "", err
			}
			if err := c.Set(ctx, key, reply, ttl); err != nil {
				logger.Warn("generation cache write failed", zap.Error(err))
			}
			return reply, nil
		})
	}
}
