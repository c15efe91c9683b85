package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/BaSui01/chatflow/agent/transcript"
)

// MemoryTranscriptStore is an in-memory TranscriptStore.
// Suitable for development and testing.
type MemoryTranscriptStore struct {
	mu     sync.RWMutex
	data   map[string][]transcript.Turn
	closed bool
}

// NewMemoryTranscriptStore creates an empty in-memory store
func NewMemoryTranscriptStore() *MemoryTranscriptStore {
	return &MemoryTranscriptStore{data: make(map[string][]transcript.Turn)}
}

func (s *MemoryTranscriptStore) Append(ctx context.Context, conversationID string, turns ...transcript.Turn) error {
	if err := ValidateConversationID(conversationID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if len(turns) == 0 {
		return nil
	}
	s.data[conversationID] = append(s.data[conversationID], turns...)
	return nil
}

func (s *MemoryTranscriptStore) Load(ctx context.Context, conversationID string) ([]transcript.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	turns, ok := s.data[conversationID]
	if !ok || len(turns) == 0 {
		return nil, ErrNotFound
	}
	out := make([]transcript.Turn, len(turns))
	copy(out, turns)
	return out, nil
}

func (s *MemoryTranscriptStore) Delete(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if _, ok := s.data[conversationID]; !ok {
		return ErrNotFound
	}
	delete(s.data, conversationID)
	return nil
}

func (s *MemoryTranscriptStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryTranscriptStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func (s *MemoryTranscriptStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
