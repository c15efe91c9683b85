package hitl

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/chatflow/agent/conversation"
	"github.com/BaSui01/chatflow/agent/participant"
	"github.com/BaSui01/chatflow/agent/transcript"
	"github.com/BaSui01/chatflow/testutil"
	"github.com/BaSui01/chatflow/testutil/fixtures"
	"github.com/BaSui01/chatflow/testutil/mocks"
	"github.com/BaSui01/chatflow/types"
)

// --- test doubles (function callback pattern) ---

type testInterruptStore struct {
	*InMemoryInterruptStore
	saveFn func(ctx context.Context, interrupt *Interrupt) error
}

func (s *testInterruptStore) Save(ctx context.Context, interrupt *Interrupt) error {
	if s.saveFn != nil {
		return s.saveFn(ctx, interrupt)
	}
	return s.InMemoryInterruptStore.Save(ctx, interrupt)
}

func newAttached(t *testing.T, m *InterruptManager, gw *mocks.ScriptedGateway) *conversation.Conversation {
	t.Helper()
	reg, graph := fixtures.TwoParty(participant.PolicyInherit)
	conv, err := conversation.New(conversation.Config{Registry: reg, Graph: graph, Gateway: gw, Logger: zap.NewNop()})
	require.NoError(t, err)
	m.Attach(conv)
	return conv
}

// --- NewInterruptManager ---

func TestNewInterruptManager(t *testing.T) {
	t.Run("nil logger and store get defaults", func(t *testing.T) {
		m := NewInterruptManager(nil, nil)
		require.NotNil(t, m)
		assert.NotNil(t, m.logger)
		assert.NotNil(t, m.store)
		assert.Equal(t, conversation.Sentinel, m.timeoutInput)
	})
}

// --- InMemoryInterruptStore ---

func TestInMemoryInterruptStore(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryInterruptStore()

	interrupt := &Interrupt{ID: "int_1", ConversationID: "c1", Status: InterruptStatusPending}

	t.Run("Save and Load", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, interrupt))
		loaded, err := store.Load(ctx, "int_1")
		require.NoError(t, err)
		assert.Equal(t, "c1", loaded.ConversationID)

		// 存储持有副本
		loaded.Speaker = "mutated"
		again, _ := store.Load(ctx, "int_1")
		assert.Empty(t, again.Speaker)
	})

	t.Run("Load not found", func(t *testing.T) {
		_, err := store.Load(ctx, "nonexistent")
		assert.True(t, types.IsCode(err, types.ErrNotFound))
	})

	t.Run("List by conversation and status", func(t *testing.T) {
		results, err := store.List(ctx, "c1", InterruptStatusPending)
		require.NoError(t, err)
		assert.Len(t, results, 1)

		results, err = store.List(ctx, "c1", InterruptStatusResolved)
		require.NoError(t, err)
		assert.Empty(t, results)

		results, err = store.List(ctx, "", "")
		require.NoError(t, err)
		assert.Len(t, results, 1)
	})

	t.Run("Update", func(t *testing.T) {
		interrupt.Status = InterruptStatusResolved
		require.NoError(t, store.Update(ctx, interrupt))
		loaded, err := store.Load(ctx, "int_1")
		require.NoError(t, err)
		assert.Equal(t, InterruptStatusResolved, loaded.Status)

		assert.Error(t, store.Update(ctx, &Interrupt{ID: "ghost"}))
	})
}

// --- Attach + Resolve ---

func TestInterruptManager_OpenAndResolve(t *testing.T) {
	ctx := testutil.TestContext(t)
	m := NewInterruptManager(nil, zap.NewNop())
	gw := mocks.NewScriptedGateway().WithReplies("four", "you're welcome")
	conv := newAttached(t, m, gw)

	require.NoError(t, conv.Start(ctx, transcript.NewTurn("U", "B", "2+2?")))

	pending := m.Pending(conv.ID())
	require.Len(t, pending, 1)
	first := pending[0]
	assert.Equal(t, "U", first.Speaker)
	assert.Equal(t, "B", first.Recipient)
	assert.Equal(t, InterruptStatusPending, first.Status)

	require.NoError(t, m.Resolve(ctx, first.ID, Response{Input: "thanks", UserID: "alice"}))

	stored, err := m.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, InterruptStatusResolved, stored.Status)
	require.NotNil(t, stored.Response)
	assert.Equal(t, "thanks", stored.Response.Input)
	assert.NotNil(t, stored.ResolvedAt)

	// 会话再次挂起，产生新的中断
	pending = m.Pending(conv.ID())
	require.Len(t, pending, 1)
	assert.NotEqual(t, first.ID, pending[0].ID)
	testutil.AssertTurns(t, conv.Transcript(), "U>B", "B>U", "U>B", "B>U")

	err = m.Resolve(ctx, first.ID, Response{Input: "again"})
	assert.True(t, types.IsCode(err, types.ErrNotFound))
}

func TestInterruptManager_ResolveTerminates(t *testing.T) {
	ctx := testutil.TestContext(t)
	m := NewInterruptManager(nil, nil)
	conv := newAttached(t, m, mocks.NewScriptedGateway())

	require.NoError(t, conv.Start(ctx, transcript.NewTurn("U", "B", "hi")))
	pending := m.Pending("")
	require.Len(t, pending, 1)

	require.NoError(t, m.Resolve(ctx, pending[0].ID, Response{Input: conversation.Sentinel}))
	assert.Equal(t, conversation.StatusConcluded, conv.Status())
	assert.Empty(t, m.Pending(""))
}

func TestInterruptManager_DirectContinueSettlesInterrupt(t *testing.T) {
	ctx := testutil.TestContext(t)
	m := NewInterruptManager(nil, nil)
	conv := newAttached(t, m, mocks.NewScriptedGateway())

	require.NoError(t, conv.Start(ctx, transcript.NewTurn("U", "B", "hi")))
	pending := m.Pending(conv.ID())
	require.Len(t, pending, 1)

	require.NoError(t, conv.Continue(ctx, conversation.Sentinel))

	stored, err := m.Get(ctx, pending[0].ID)
	require.NoError(t, err)
	assert.Equal(t, InterruptStatusResolved, stored.Status)
	assert.Equal(t, conversation.Sentinel, stored.Response.Input)
	assert.Empty(t, m.Pending(conv.ID()))
}

func TestInterruptManager_ResolveAfterConversationMovedOn(t *testing.T) {
	ctx := testutil.TestContext(t)
	m := NewInterruptManager(nil, nil)
	reg, graph := fixtures.TwoParty(participant.PolicyInherit)
	conv, err := conversation.New(conversation.Config{Registry: reg, Graph: graph, Gateway: mocks.NewScriptedGateway()})
	require.NoError(t, err)
	detach := m.Attach(conv)

	require.NoError(t, conv.Start(ctx, transcript.NewTurn("U", "B", "hi")))
	pending := m.Pending(conv.ID())
	require.Len(t, pending, 1)

	// 取消订阅后直接结束会话，中断仍留在待决列表中
	detach()
	require.NoError(t, conv.Continue(ctx, conversation.Sentinel))
	require.Len(t, m.Pending(conv.ID()), 1)

	err = m.Resolve(ctx, pending[0].ID, Response{Input: "late answer"})
	assert.True(t, types.IsCode(err, types.ErrNotSuspended), "got %v", err)
	assert.Empty(t, m.Pending(conv.ID()))
	assert.Len(t, conv.Transcript(), 3)

	stored, err := m.Get(ctx, pending[0].ID)
	require.NoError(t, err)
	assert.Equal(t, InterruptStatusCanceled, stored.Status)
	assert.Nil(t, stored.Response)
}

func TestInterruptManager_Cancel(t *testing.T) {
	ctx := testutil.TestContext(t)
	m := NewInterruptManager(nil, nil)
	conv := newAttached(t, m, mocks.NewScriptedGateway())

	require.NoError(t, conv.Start(ctx, transcript.NewTurn("U", "B", "hi")))
	pending := m.Pending(conv.ID())
	require.Len(t, pending, 1)

	require.NoError(t, m.Cancel(ctx, pending[0].ID))
	assert.Empty(t, m.Pending(conv.ID()))
	assert.Equal(t, conversation.StatusSuspended, conv.Status())

	stored, err := m.Get(ctx, pending[0].ID)
	require.NoError(t, err)
	assert.Equal(t, InterruptStatusCanceled, stored.Status)

	err = m.Cancel(ctx, pending[0].ID)
	assert.True(t, types.IsCode(err, types.ErrNotFound))
}

func TestInterruptManager_Timeout(t *testing.T) {
	ctx := testutil.TestContext(t)
	m := NewInterruptManager(nil, nil, WithTimeout(20*time.Millisecond))
	conv := newAttached(t, m, mocks.NewScriptedGateway())

	require.NoError(t, conv.Start(ctx, transcript.NewTurn("U", "B", "hi")))
	id := m.Pending(conv.ID())[0].ID

	testutil.AssertEventuallyTrue(t, func() bool {
		return conv.Status() == conversation.StatusConcluded
	}, 2*time.Second)

	stored, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, InterruptStatusTimeout, stored.Status)
	assert.Equal(t, conversation.ReasonTerminated, conv.Reason())
}

func TestInterruptManager_Handlers(t *testing.T) {
	ctx := testutil.TestContext(t)
	m := NewInterruptManager(nil, nil)

	var seen atomic.Value
	m.RegisterHandler(func(_ context.Context, in *Interrupt) error {
		seen.Store(in.Speaker)
		return errors.New("handler errors are logged only")
	})

	conv := newAttached(t, m, mocks.NewScriptedGateway())
	require.NoError(t, conv.Start(ctx, transcript.NewTurn("U", "B", "hi")))

	testutil.AssertEventuallyTrue(t, func() bool { return seen.Load() == "U" }, time.Second)
}

func TestInterruptManager_GroupInterruptNamesCoordinator(t *testing.T) {
	ctx := testutil.TestContext(t)
	m := NewInterruptManager(nil, nil)

	reg, graph := fixtures.GroupChat(2)
	conv, err := conversation.New(conversation.Config{Registry: reg, Graph: graph, Gateway: mocks.NewScriptedGateway()})
	require.NoError(t, err)
	m.Attach(conv)

	require.NoError(t, conv.Start(ctx, transcript.NewTurn("U", "M", "plan a trip")))
	pending := m.Pending(conv.ID())
	require.Len(t, pending, 1)
	assert.Equal(t, "U", pending[0].Speaker)
	assert.Equal(t, "M", pending[0].Recipient)
}

func TestInterruptManager_StoreFailureIsLogged(t *testing.T) {
	ctx := testutil.TestContext(t)
	store := &testInterruptStore{
		InMemoryInterruptStore: NewInMemoryInterruptStore(),
		saveFn:                 func(context.Context, *Interrupt) error { return errors.New("disk full") },
	}
	m := NewInterruptManager(store, nil)
	conv := newAttached(t, m, mocks.NewScriptedGateway())

	require.NoError(t, conv.Start(ctx, transcript.NewTurn("U", "B", "hi")))
	assert.Equal(t, conversation.StatusSuspended, conv.Status())
	assert.Empty(t, m.Pending(""))
}

func TestInterruptManager_Detach(t *testing.T) {
	ctx := testutil.TestContext(t)
	m := NewInterruptManager(nil, nil)
	reg, graph := fixtures.TwoParty(participant.PolicyInherit)
	conv, err := conversation.New(conversation.Config{Registry: reg, Graph: graph, Gateway: mocks.NewScriptedGateway()})
	require.NoError(t, err)

	detach := m.Attach(conv)
	detach()
	require.NoError(t, conv.Start(ctx, transcript.NewTurn("U", "B", "hi")))
	assert.Empty(t, m.Pending(""))
}

func TestInterruptManager_List(t *testing.T) {
	ctx := testutil.TestContext(t)
	m := NewInterruptManager(nil, nil)
	conv := newAttached(t, m, mocks.NewScriptedGateway())

	require.NoError(t, conv.Start(ctx, transcript.NewTurn("U", "B", "hi")))
	pending := m.Pending(conv.ID())
	require.Len(t, pending, 1)
	require.NoError(t, m.Cancel(ctx, pending[0].ID))

	all, err := m.List(ctx, conv.ID(), "")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	canceled, err := m.List(ctx, "", InterruptStatusCanceled)
	require.NoError(t, err)
	require.Len(t, canceled, 1)
	assert.Equal(t, pending[0].ID, canceled[0].ID)

	other, err := m.List(ctx, "other", "")
	require.NoError(t, err)
	assert.Empty(t, other)
}
