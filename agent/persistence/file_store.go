package persistence

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/BaSui01/chatflow/agent/transcript"
)

const transcriptExt = ".jsonl"

// FileTranscriptStore stores one JSON Lines file per conversation.
// Suitable for single-node deployments.
type FileTranscriptStore struct {
	baseDir string
	mu      sync.RWMutex
	closed  bool
}

// NewFileTranscriptStore creates the store under <BaseDir>/transcripts
func NewFileTranscriptStore(config StoreConfig) (*FileTranscriptStore, error) {
	baseDir := filepath.Join(config.BaseDir, "transcripts")
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create transcript store directory: %w", err)
	}
	return &FileTranscriptStore{baseDir: baseDir}, nil
}

func (s *FileTranscriptStore) path(conversationID string) string {
	return filepath.Join(s.baseDir, conversationID+transcriptExt)
}

func (s *FileTranscriptStore) Append(ctx context.Context, conversationID string, turns ...transcript.Turn) error {
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

	var buf strings.Builder
	for _, turn := range turns {
		data, err := json.Marshal(turn)
		if err != nil {
			return fmt.Errorf("failed to marshal turn: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	f, err := os.OpenFile(s.path(conversationID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open transcript file: %w", err)
	}
	if _, err := f.WriteString(buf.String()); err != nil {
		f.Close()
		return fmt.Errorf("failed to write transcript file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync transcript file: %w", err)
	}
	return f.Close()
}

func (s *FileTranscriptStore) Load(ctx context.Context, conversationID string) ([]transcript.Turn, error) {
	if err := ValidateConversationID(conversationID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	f, err := os.Open(s.path(conversationID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript file: %w", err)
	}
	defer f.Close()

	var turns []transcript.Turn
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(strings.TrimSpace(scanner.Text())) == 0 {
			continue
		}
		var turn transcript.Turn
		if err := json.Unmarshal(scanner.Bytes(), &turn); err != nil {
			return nil, fmt.Errorf("corrupt transcript %s at line %d: %w", conversationID, line, err)
		}
		turns = append(turns, turn)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transcript file: %w", err)
	}
	if len(turns) == 0 {
		return nil, ErrNotFound
	}
	return turns, nil
}

func (s *FileTranscriptStore) Delete(ctx context.Context, conversationID string) error {
	if err := ValidateConversationID(conversationID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	err := os.Remove(s.path(conversationID))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	return err
}

func (s *FileTranscriptStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read transcript directory: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), transcriptExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), transcriptExt))
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *FileTranscriptStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	_, err := os.Stat(s.baseDir)
	return err
}

func (s *FileTranscriptStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
