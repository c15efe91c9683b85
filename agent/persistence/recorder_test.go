package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/chatflow/agent/conversation"
	"github.com/BaSui01/chatflow/agent/participant"
	"github.com/BaSui01/chatflow/agent/transcript"
	"github.com/BaSui01/chatflow/llm/retry"
	"github.com/BaSui01/chatflow/testutil"
	"github.com/BaSui01/chatflow/testutil/fixtures"
	"github.com/BaSui01/chatflow/testutil/mocks"
)

func newManager(t *testing.T, gw *mocks.ScriptedGateway) *conversation.Manager {
	t.Helper()
	reg, graph := fixtures.TwoParty(participant.PolicyInherit)
	m, err := conversation.NewManager(conversation.Definition{Registry: reg, Graph: graph, Gateway: gw}, zap.NewNop())
	require.NoError(t, err)
	return m
}

func TestRecorder_PersistsPublishedTurns(t *testing.T) {
	ctx := testutil.TestContext(t)
	store := NewMemoryTranscriptStore()
	var outcomes []error
	rec := NewRecorder(store, zap.NewNop(), WithRecorderObserver(func(err error) { outcomes = append(outcomes, err) }))

	m := newManager(t, mocks.NewScriptedGateway().WithReplies("four"))
	m.OnCreate(rec.Hook())

	conv, err := m.Create(conversation.WithID("persisted"))
	require.NoError(t, err)
	require.NoError(t, conv.Start(ctx, transcript.NewTurn("U", "B", "2+2?")))
	require.Equal(t, conversation.StatusSuspended, conv.Status())

	stored, err := store.Load(ctx, "persisted")
	require.NoError(t, err)
	assert.Equal(t, conv.Transcript(), stored)
	assert.EqualValues(t, 2, rec.Written())
	assert.Zero(t, rec.Failed())
	assert.Equal(t, []error{nil, nil}, outcomes)
}

func TestRecorder_DetachStopsRecording(t *testing.T) {
	ctx := testutil.TestContext(t)
	store := NewMemoryTranscriptStore()
	rec := NewRecorder(store, nil)

	m := newManager(t, mocks.NewScriptedGateway())
	conv, err := m.Create(conversation.WithID("detached"))
	require.NoError(t, err)

	detach := rec.Attach(conv)
	detach()
	require.NoError(t, conv.Start(ctx, transcript.NewTurn("U", "B", "hi")))

	_, err = store.Load(ctx, "detached")
	assert.ErrorIs(t, err, ErrNotFound)
}

type failingStore struct {
	*MemoryTranscriptStore
	failures int
	calls    int
}

func (f *failingStore) Append(ctx context.Context, id string, turns ...transcript.Turn) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("connection reset")
	}
	return f.MemoryTranscriptStore.Append(ctx, id, turns...)
}

func TestRecorder_RetriesAndLogsFailures(t *testing.T) {
	ctx := testutil.TestContext(t)
	policy := retry.Policy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}

	t.Run("transient failure recovered", func(t *testing.T) {
		store := &failingStore{MemoryTranscriptStore: NewMemoryTranscriptStore(), failures: 1}
		rec := NewRecorder(store, nil, WithRecorderRetry(retry.NewBackoffRetryer(policy, nil)))

		m := newManager(t, mocks.NewScriptedGateway())
		conv, err := m.Create(conversation.WithID("flaky"))
		require.NoError(t, err)
		rec.Attach(conv)

		require.NoError(t, conv.Start(ctx, transcript.NewTurn("U", "B", "hi")))
		assert.EqualValues(t, 2, rec.Written())
		assert.Zero(t, rec.Failed())
	})

	t.Run("persist failure does not stop the conversation", func(t *testing.T) {
		store := NewMemoryTranscriptStore()
		require.NoError(t, store.Close())
		rec := NewRecorder(store, nil, WithRecorderRetry(retry.NewBackoffRetryer(policy, nil)))

		m := newManager(t, mocks.NewScriptedGateway())
		conv, err := m.Create(conversation.WithID("closed"))
		require.NoError(t, err)
		rec.Attach(conv)

		require.NoError(t, conv.Start(ctx, transcript.NewTurn("U", "B", "hi")))
		assert.Len(t, conv.Transcript(), 2)
		assert.EqualValues(t, 2, rec.Failed())
	})
}

func TestResume(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTranscriptStore()
	turns := sampleTurns()[:2]
	require.NoError(t, store.Append(ctx, "old", turns...))

	tr, err := Resume(ctx, store, "old")
	require.NoError(t, err)
	assert.Equal(t, turns, tr.Snapshot())

	m := newManager(t, mocks.NewScriptedGateway())
	conv, err := m.Create(conversation.WithID("old"), conversation.WithTranscript(tr))
	require.NoError(t, err)
	assert.Len(t, conv.Transcript(), 2)

	_, err = Resume(ctx, store, "absent")
	assert.ErrorIs(t, err, ErrNotFound)
}
