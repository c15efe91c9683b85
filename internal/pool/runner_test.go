package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/chatflow/types"
)

func TestNew_Defaults(t *testing.T) {
	r := New(Config{QueueSize: -1}, nil)
	def := DefaultConfig()
	assert.Equal(t, def.MaxWorkers, r.cfg.MaxWorkers)
	assert.Equal(t, def.QueueSize, r.cfg.QueueSize)
	assert.Equal(t, def.IdleTimeout, r.cfg.IdleTimeout)
	require.NoError(t, r.Close(context.Background()))
}

func TestRunner_RunsTasks(t *testing.T) {
	r := New(Config{MaxWorkers: 4, QueueSize: 16}, zap.NewNop())

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, r.Submit(context.Background(), func(ctx context.Context) error {
			ran.Add(1)
			return nil
		}))
	}
	require.NoError(t, r.Close(context.Background()))

	assert.Equal(t, int32(10), ran.Load())
	stats := r.Stats()
	assert.Equal(t, int64(10), stats.Submitted)
	assert.Equal(t, int64(10), stats.Completed)
	assert.Zero(t, stats.Workers)
}

func TestRunner_RejectsWhenFull(t *testing.T) {
	r := New(Config{MaxWorkers: 1, QueueSize: 1}, nil)
	release := make(chan struct{})
	started := make(chan struct{})

	require.NoError(t, r.Submit(context.Background(), func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started
	require.NoError(t, r.Submit(context.Background(), func(ctx context.Context) error { return nil }))

	err := r.Submit(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrFull)
	assert.True(t, types.IsRetryable(err))
	assert.Equal(t, int64(1), r.Stats().Rejected)

	close(release)
	require.NoError(t, r.Close(context.Background()))
	assert.Equal(t, int64(2), r.Stats().Completed)
}

func TestRunner_CountsFailuresAndPanics(t *testing.T) {
	r := New(Config{MaxWorkers: 2, QueueSize: 4}, nil)

	require.NoError(t, r.Submit(context.Background(), func(ctx context.Context) error {
		return errors.New("boom")
	}))
	require.NoError(t, r.Submit(context.Background(), func(ctx context.Context) error {
		panic("kaboom")
	}))
	require.NoError(t, r.Close(context.Background()))

	assert.Equal(t, int64(2), r.Stats().Failed)
}

func TestRunner_Close(t *testing.T) {
	t.Run("submit after close", func(t *testing.T) {
		r := New(Config{}, nil)
		require.NoError(t, r.Close(context.Background()))
		require.NoError(t, r.Close(context.Background()))

		err := r.Submit(context.Background(), func(ctx context.Context) error { return nil })
		assert.ErrorIs(t, err, ErrClosed)
	})

	t.Run("close honours context", func(t *testing.T) {
		r := New(Config{MaxWorkers: 1}, nil)
		release := make(chan struct{})
		defer close(release)
		require.NoError(t, r.Submit(context.Background(), func(ctx context.Context) error {
			<-release
			return nil
		}))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, r.Close(ctx), context.DeadlineExceeded)
	})
}

func TestRunner_IdleWorkersExit(t *testing.T) {
	r := New(Config{MaxWorkers: 2, IdleTimeout: 10 * time.Millisecond}, nil)
	require.NoError(t, r.Submit(context.Background(), func(ctx context.Context) error { return nil }))

	assert.Eventually(t, func() bool { return r.Stats().Workers == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, r.Close(context.Background()))
}
