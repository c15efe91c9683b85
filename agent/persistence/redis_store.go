package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/BaSui01/chatflow/agent/transcript"
	"github.com/redis/go-redis/v9"
)

// RedisTranscriptStore keeps each transcript in a Redis list plus an index set.
// Suitable for distributed deployments.
type RedisTranscriptStore struct {
	client     redis.UniversalClient
	keyPrefix  string
	ownsClient bool
}

// NewRedisTranscriptStore dials Redis and verifies the connection
func NewRedisTranscriptStore(ctx context.Context, config RedisStoreConfig) (*RedisTranscriptStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	s := NewRedisTranscriptStoreFromClient(client, config.KeyPrefix)
	s.ownsClient = true
	return s, nil
}

// NewRedisTranscriptStoreFromClient reuses an existing client, e.g. the
// cache manager's. Close leaves the client open.
func NewRedisTranscriptStoreFromClient(client redis.UniversalClient, keyPrefix string) *RedisTranscriptStore {
	if keyPrefix == "" {
		keyPrefix = "chatflow:"
	}
	return &RedisTranscriptStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisTranscriptStore) turnsKey(conversationID string) string {
	return s.keyPrefix + "transcript:" + conversationID
}

func (s *RedisTranscriptStore) indexKey() string {
	return s.keyPrefix + "transcripts"
}

func (s *RedisTranscriptStore) Append(ctx context.Context, conversationID string, turns ...transcript.Turn) error {
	if err := ValidateConversationID(conversationID); err != nil {
		return err
	}
	if len(turns) == 0 {
		return nil
	}
	values := make([]any, 0, len(turns))
	for _, turn := range turns {
		data, err := json.Marshal(turn)
		if err != nil {
			return fmt.Errorf("failed to marshal turn: %w", err)
		}
		values = append(values, data)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.turnsKey(conversationID), values...)
	pipe.SAdd(ctx, s.indexKey(), conversationID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append transcript: %w", err)
	}
	return nil
}

func (s *RedisTranscriptStore) Load(ctx context.Context, conversationID string) ([]transcript.Turn, error) {
	raw, err := s.client.LRange(ctx, s.turnsKey(conversationID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrNotFound
	}
	turns := make([]transcript.Turn, 0, len(raw))
	for i, item := range raw {
		var turn transcript.Turn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			return nil, fmt.Errorf("corrupt transcript %s at index %d: %w", conversationID, i, err)
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

func (s *RedisTranscriptStore) Delete(ctx context.Context, conversationID string) error {
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, s.turnsKey(conversationID))
	pipe.SRem(ctx, s.indexKey(), conversationID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete transcript: %w", err)
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisTranscriptStore) List(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list transcripts: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *RedisTranscriptStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisTranscriptStore) Close() error {
	if s.ownsClient {
		return s.client.Close()
	}
	return nil
}
