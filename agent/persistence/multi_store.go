package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/BaSui01/chatflow/agent/transcript"
	"golang.org/x/sync/errgroup"
)

// MultiStore writes to every store and reads from the first one.
type MultiStore struct {
	stores []TranscriptStore
}

// NewMultiStore requires at least one store; the first is the primary.
func NewMultiStore(primary TranscriptStore, replicas ...TranscriptStore) *MultiStore {
	return &MultiStore{stores: append([]TranscriptStore{primary}, replicas...)}
}

func (m *MultiStore) each(ctx context.Context, fn func(context.Context, TranscriptStore) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range m.stores {
		g.Go(func() error {
			if err := fn(gctx, s); err != nil {
				return fmt.Errorf("store %d: %w", i, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (m *MultiStore) Append(ctx context.Context, conversationID string, turns ...transcript.Turn) error {
	return m.each(ctx, func(ctx context.Context, s TranscriptStore) error {
		return s.Append(ctx, conversationID, turns...)
	})
}

func (m *MultiStore) Load(ctx context.Context, conversationID string) ([]transcript.Turn, error) {
	return m.stores[0].Load(ctx, conversationID)
}

// Delete removes the transcript everywhere. Replicas that never saw it are ignored.
func (m *MultiStore) Delete(ctx context.Context, conversationID string) error {
	if err := m.stores[0].Delete(ctx, conversationID); err != nil {
		return err
	}
	replicas := &MultiStore{stores: m.stores[1:]}
	return replicas.each(ctx, func(ctx context.Context, s TranscriptStore) error {
		if err := s.Delete(ctx, conversationID); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		return nil
	})
}

func (m *MultiStore) List(ctx context.Context) ([]string, error) {
	return m.stores[0].List(ctx)
}

func (m *MultiStore) Ping(ctx context.Context) error {
	return m.each(ctx, func(ctx context.Context, s TranscriptStore) error {
		return s.Ping(ctx)
	})
}

func (m *MultiStore) Close() error {
	var errs []error
	for _, s := range m.stores {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
