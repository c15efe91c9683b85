package conversation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/chatflow/agent/participant"
	"github.com/BaSui01/chatflow/agent/routing"
	"github.com/BaSui01/chatflow/agent/transcript"
	"github.com/BaSui01/chatflow/testutil"
	"github.com/BaSui01/chatflow/testutil/fixtures"
	"github.com/BaSui01/chatflow/testutil/mocks"
	"github.com/BaSui01/chatflow/types"
)

// eventLog counts events published by a conversation.
type eventLog struct {
	messages   []transcript.Turn
	interrupts []Pending
}

func record(c *Conversation) *eventLog {
	l := &eventLog{}
	c.On(EventMessage, func(_ context.Context, ev Event) { l.messages = append(l.messages, ev.Turn) })
	c.On(EventInterrupt, func(_ context.Context, ev Event) { l.interrupts = append(l.interrupts, ev.Pending) })
	return l
}

func newTwoParty(t *testing.T, userPolicy participant.InterruptPolicy, gw *mocks.ScriptedGateway, maxRounds int) *Conversation {
	t.Helper()
	reg, graph := fixtures.TwoParty(userPolicy)
	conv, err := New(Config{Registry: reg, Graph: graph, Gateway: gw, MaxRounds: maxRounds, Logger: zap.NewNop()})
	require.NoError(t, err)
	return conv
}

func seed(from, to, content string) transcript.Turn {
	return transcript.NewTurn(from, to, content)
}

// =============================================================================
// Scenarios
// =============================================================================

func TestScenario_ImmediateTermination(t *testing.T) {
	gw := mocks.NewScriptedGateway().WithResponse(Sentinel)
	conv := newTwoParty(t, participant.PolicyInherit, gw, 0)
	events := record(conv)

	require.NoError(t, conv.Start(testutil.TestContext(t), seed("U", "B", "2+2=4?")))

	turns := conv.Transcript()
	require.Len(t, turns, 2)
	last := turns[1]
	assert.Equal(t, "B", last.From)
	assert.Equal(t, "U", last.To)
	assert.Equal(t, Sentinel, last.Content)
	assert.Equal(t, transcript.StateSuccess, last.State)
	assert.Equal(t, StatusConcluded, conv.Status())
	assert.Equal(t, ReasonTerminated, conv.Reason())
	assert.Len(t, events.messages, 2)
	assert.Empty(t, events.interrupts)
}

func TestScenario_AutoReplyUntilSentinel(t *testing.T) {
	gw := mocks.NewScriptedGateway().WithFunc(func(call int, _ []types.Message) (string, error) {
		if call < 10 {
			return fmt.Sprintf("...%d", call), nil
		}
		return Sentinel, nil
	})
	conv := newTwoParty(t, participant.PolicyNever, gw, 0)

	require.NoError(t, conv.Start(testutil.TestContext(t), seed("U", "B", "count with me")))

	turns := conv.Transcript()
	require.Len(t, turns, 12)
	assert.Equal(t, "...0", turns[1].Content)
	assert.Equal(t, "B", turns[1].From)
	assert.Equal(t, "U", turns[2].From)
	assert.Equal(t, Sentinel, turns[11].Content)
	assert.Equal(t, StatusConcluded, conv.Status())
}

func TestScenario_RoundCap(t *testing.T) {
	gw := mocks.NewScriptedGateway()
	conv := newTwoParty(t, participant.PolicyNever, gw, 4)
	events := record(conv)

	require.NoError(t, conv.Start(testutil.TestContext(t), seed("U", "B", "hello")))

	assert.Equal(t, 3, gw.CallCount())
	assert.Len(t, conv.Transcript(), 4)
	assert.Equal(t, StatusConcluded, conv.Status())
	assert.Equal(t, ReasonMaxRounds, conv.Reason())
	assert.Empty(t, events.interrupts)
	assert.Equal(t, 4, conv.Rounds())
}

func TestScenario_GroupChatDefaultLimit(t *testing.T) {
	reg, graph := fixtures.GroupChat(0)
	gw := mocks.NewScriptedGateway()
	conv, err := New(Config{Registry: reg, Graph: graph, Gateway: gw})
	require.NoError(t, err)
	events := record(conv)

	require.NoError(t, conv.Start(testutil.TestContext(t), seed("U", "M", "plan the release")))

	turns := conv.Transcript()
	require.Len(t, turns, 11)
	assert.Equal(t, "U>M", testutil.Route(turns[0]))
	for i, turn := range turns[1:] {
		assert.Equal(t, "M", turn.To, "turn %d", i+1)
		assert.Contains(t, []string{"a", "b", "c"}, turn.From)
	}
	assert.Equal(t, DefaultGroupRoundLimit, gw.SelectionCount())
	assert.Equal(t, DefaultGroupRoundLimit, gw.ReplyCount())

	assert.Equal(t, StatusSuspended, conv.Status())
	p, ok := conv.Pending()
	require.True(t, ok)
	assert.Equal(t, "U", p.Speaker)
	assert.Equal(t, "M", p.Recipient)
	assert.Nil(t, p.Group)
	require.Len(t, events.interrupts, 1)
	assert.Len(t, events.messages, 11)
}

// =============================================================================
// Interrupts and Continue
// =============================================================================

func TestConversation_HumanProxySuspends(t *testing.T) {
	gw := mocks.NewScriptedGateway()
	conv := newTwoParty(t, participant.PolicyInherit, gw, 0)
	events := record(conv)
	ctx := testutil.TestContext(t)

	require.NoError(t, conv.Start(ctx, seed("U", "B", "hi")))
	assert.Equal(t, StatusSuspended, conv.Status())
	testutil.AssertTurns(t, conv.Transcript(), "U>B", "B>U")
	require.Len(t, events.interrupts, 1)
	assert.Equal(t, Pending{Speaker: "U", Recipient: "B"}, events.interrupts[0])

	require.NoError(t, conv.Continue(ctx, "tell me more"))
	assert.Equal(t, 2, gw.CallCount())
	turns := conv.Transcript()
	testutil.AssertTurns(t, turns, "U>B", "B>U", "U>B", "B>U")
	assert.Equal(t, "tell me more", turns[2].Content)

	require.NoError(t, conv.Continue(ctx, ""))
	assert.Equal(t, 4, gw.CallCount())
	testutil.AssertTurns(t, conv.Transcript(), "U>B", "B>U", "U>B", "B>U", "U>B", "B>U")
	assert.Len(t, events.interrupts, 3)
	assert.Len(t, events.messages, 6)
}

func TestConversation_ContinueFromInterruptHandler(t *testing.T) {
	gw := mocks.NewScriptedGateway()
	conv := newTwoParty(t, participant.PolicyInherit, gw, 0)

	var handled int
	var continueErrs []error
	conv.On(EventInterrupt, func(ctx context.Context, ev Event) {
		handled++
		if handled <= 2 {
			continueErrs = append(continueErrs, conv.Continue(ctx, "next"))
		}
	})

	require.NoError(t, conv.Start(testutil.TestContext(t), seed("U", "B", "hi")))

	assert.Equal(t, 3, handled)
	for _, err := range continueErrs {
		assert.NoError(t, err)
	}
	assert.Len(t, conv.Transcript(), 6)
	assert.Equal(t, StatusSuspended, conv.Status())
}

func TestConversation_FeedbackSentinelConcludes(t *testing.T) {
	conv := newTwoParty(t, participant.PolicyInherit, mocks.NewScriptedGateway(), 0)
	ctx := testutil.TestContext(t)

	require.NoError(t, conv.Start(ctx, seed("U", "B", "hi")))
	require.NoError(t, conv.Continue(ctx, Sentinel))

	assert.Equal(t, StatusConcluded, conv.Status())
	assert.Len(t, conv.Transcript(), 3)
	_, ok := conv.Pending()
	assert.False(t, ok)
}

func TestConversation_DefaultPolicyAppliesToAgents(t *testing.T) {
	reg, graph := fixtures.TwoParty(participant.PolicyNever)
	gw := mocks.NewScriptedGateway()
	conv, err := New(Config{Registry: reg, Graph: graph, Gateway: gw, DefaultPolicy: participant.PolicyAlways})
	require.NoError(t, err)
	ctx := testutil.TestContext(t)

	// U keeps its own NEVER; B inherits ALWAYS from the conversation.
	require.NoError(t, conv.Start(ctx, seed("U", "B", "hi")))
	testutil.AssertTurns(t, conv.Transcript(), "U>B", "B>U", "U>B")
	p, ok := conv.Pending()
	require.True(t, ok)
	assert.Equal(t, "B", p.Speaker)
}

// =============================================================================
// Protocol misuse
// =============================================================================

func TestConversation_ProtocolErrors(t *testing.T) {
	ctx := testutil.TestContext(t)

	t.Run("continue before start", func(t *testing.T) {
		conv := newTwoParty(t, participant.PolicyInherit, mocks.NewScriptedGateway(), 0)
		err := conv.Continue(ctx, "x")
		assert.True(t, types.IsCode(err, types.ErrNotSuspended))
		assert.Empty(t, conv.Transcript())
		assert.Equal(t, StatusIdle, conv.Status())
	})

	t.Run("start while suspended", func(t *testing.T) {
		conv := newTwoParty(t, participant.PolicyInherit, mocks.NewScriptedGateway(), 0)
		require.NoError(t, conv.Start(ctx, seed("U", "B", "hi")))
		err := conv.Start(ctx, seed("U", "B", "again"))
		assert.True(t, types.IsCode(err, types.ErrAlreadyStarted))
		assert.Len(t, conv.Transcript(), 2)
	})

	t.Run("after conclusion", func(t *testing.T) {
		conv := newTwoParty(t, participant.PolicyInherit, mocks.NewScriptedGateway().WithResponse(Sentinel), 0)
		require.NoError(t, conv.Start(ctx, seed("U", "B", "hi")))
		assert.True(t, types.IsCode(conv.Start(ctx, seed("U", "B", "hi")), types.ErrConversationEnded))
		assert.True(t, types.IsCode(conv.Continue(ctx, ""), types.ErrNotSuspended))
		assert.Len(t, conv.Transcript(), 2)
	})

	t.Run("reentrant calls while running", func(t *testing.T) {
		conv := newTwoParty(t, participant.PolicyNever, mocks.NewScriptedGateway(), 3)
		var errs []error
		conv.On(EventMessage, func(ctx context.Context, _ Event) {
			errs = append(errs, conv.Continue(ctx, "sneaky"), conv.Start(ctx, seed("U", "B", "again")))
		})
		require.NoError(t, conv.Start(ctx, seed("U", "B", "hi")))

		require.NotEmpty(t, errs)
		for _, err := range errs {
			assert.True(t, types.IsCode(err, types.ErrBusy), "got %v", err)
		}
		assert.Len(t, conv.Transcript(), 3)
	})

	t.Run("unknown seed participant", func(t *testing.T) {
		conv := newTwoParty(t, participant.PolicyInherit, mocks.NewScriptedGateway(), 0)
		err := conv.Start(ctx, seed("ghost", "B", "hi"))
		assert.True(t, types.IsCode(err, types.ErrConfiguration))
		assert.Equal(t, StatusIdle, conv.Status())
		assert.Empty(t, conv.Transcript())
	})

	t.Run("seed to self", func(t *testing.T) {
		conv := newTwoParty(t, participant.PolicyInherit, mocks.NewScriptedGateway(), 0)
		assert.True(t, types.IsCode(conv.Start(ctx, seed("B", "B", "hi")), types.ErrConfiguration))
	})

	// 种子必须沿路由图中的边发出
	t.Run("seed without route", func(t *testing.T) {
		reg, graph := fixtures.GroupChat(0)
		gw := mocks.NewScriptedGateway()
		conv, err := New(Config{Registry: reg, Graph: graph, Gateway: gw})
		require.NoError(t, err)

		for _, s := range []transcript.Turn{seed("a", "c", "hi"), seed("U", "a", "hi")} {
			err := conv.Start(ctx, s)
			assert.True(t, types.IsCode(err, types.ErrConfiguration), "%s>%s: got %v", s.From, s.To, err)
		}
		assert.Equal(t, StatusIdle, conv.Status())
		assert.Empty(t, conv.Transcript())
		assert.Zero(t, gw.CallCount())
	})
}

// =============================================================================
// Failures
// =============================================================================

func TestConversation_GenerationFailure(t *testing.T) {
	boom := errors.New("backend unavailable")
	gw := mocks.NewScriptedGateway().WithError(boom)
	conv := newTwoParty(t, participant.PolicyNever, gw, 0)
	events := record(conv)

	err := conv.Start(testutil.TestContext(t), seed("U", "B", "hi"))
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrGenerationFailed))
	assert.ErrorIs(t, err, boom)

	turns := conv.Transcript()
	require.Len(t, turns, 2)
	assert.Equal(t, transcript.StateError, turns[1].State)
	assert.Equal(t, "B", turns[1].From)
	assert.Contains(t, turns[1].Content, "backend unavailable")
	assert.Equal(t, StatusFailed, conv.Status())
	assert.Equal(t, err, conv.Err())
	assert.Len(t, events.messages, 2)
}

func TestConversation_FailureDuringContinue(t *testing.T) {
	gw := mocks.NewScriptedGateway().WithFailAfter(1, errors.New("quota exceeded"))
	conv := newTwoParty(t, participant.PolicyInherit, gw, 0)
	ctx := testutil.TestContext(t)

	require.NoError(t, conv.Start(ctx, seed("U", "B", "hi")))
	err := conv.Continue(ctx, "")
	assert.True(t, types.IsCode(err, types.ErrGenerationFailed))
	turns := conv.Transcript()
	require.Len(t, turns, 3)
	assert.True(t, turns[2].IsError())
	assert.Equal(t, "U", turns[2].From)
	assert.True(t, types.IsCode(conv.Continue(ctx, "retry"), types.ErrNotSuspended))
}

func TestConversation_EmptyReplyIsFailure(t *testing.T) {
	gw := mocks.NewScriptedGateway().WithResponse("   ")
	conv := newTwoParty(t, participant.PolicyNever, gw, 0)

	err := conv.Start(testutil.TestContext(t), seed("U", "B", "hi"))
	assert.True(t, types.IsCode(err, types.ErrGenerationFailed))
	assert.Equal(t, StatusFailed, conv.Status())
}

// =============================================================================
// Configuration
// =============================================================================

func TestNew_Validation(t *testing.T) {
	reg, graph := fixtures.TwoParty(participant.PolicyInherit)
	gw := mocks.NewScriptedGateway()

	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing registry", Config{Graph: graph, Gateway: gw}},
		{"missing graph", Config{Registry: reg, Gateway: gw}},
		{"graph references unknown", Config{Registry: reg, Graph: routing.NewGraph(map[string]routing.Entry{"U": routing.To("Z")}), Gateway: gw}},
		{"bad default policy", Config{Registry: reg, Graph: graph, Gateway: gw, DefaultPolicy: "SOMETIMES"}},
		{"negative rounds", Config{Registry: reg, Graph: graph, Gateway: gw, MaxRounds: -1}},
		{"no gateway", Config{Registry: reg, Graph: graph}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			assert.True(t, types.IsCode(err, types.ErrConfiguration), "got %v", err)
		})
	}

	conv, err := New(Config{Registry: reg, Graph: graph, Gateway: gw})
	require.NoError(t, err)
	assert.NotEmpty(t, conv.ID())
	assert.Equal(t, DefaultMaxRounds, conv.MaxRounds())
	assert.Equal(t, StatusIdle, conv.Status())
}

func TestConversation_ParticipantGatewayOverride(t *testing.T) {
	shared := mocks.NewScriptedGateway()
	own := mocks.NewScriptedGateway().WithResponse(Sentinel)
	reg := participant.MustNewRegistry(
		participant.Config{ID: "U", Kind: participant.KindHumanProxy},
		participant.Config{ID: "B", Kind: participant.KindAgent, Gateway: own},
	)
	graph := routing.NewGraph(map[string]routing.Entry{"U": routing.To("B")})
	conv, err := New(Config{Registry: reg, Graph: graph, Gateway: shared})
	require.NoError(t, err)

	require.NoError(t, conv.Start(testutil.TestContext(t), seed("U", "B", "hi")))
	assert.Equal(t, 1, own.CallCount())
	assert.Equal(t, 0, shared.CallCount())
}

func TestConversation_PreSeededTranscript(t *testing.T) {
	reg, graph := fixtures.TwoParty(participant.PolicyNever)
	gw := mocks.NewScriptedGateway().WithResponse(Sentinel)
	prior := transcript.New(seed("U", "B", "earlier question"), seed("B", "U", "earlier answer"))
	conv, err := New(Config{Registry: reg, Graph: graph, Gateway: gw, Transcript: prior})
	require.NoError(t, err)

	require.NoError(t, conv.Start(testutil.TestContext(t), seed("U", "B", "follow up")))

	assert.Len(t, conv.Transcript(), 4)
	assert.Equal(t, 2, conv.Rounds())
	msgs := gw.LastMessages()
	require.Len(t, msgs, 4)
	assert.Equal(t, types.RoleSystem, msgs[0].Role)
	assert.Equal(t, "earlier question", msgs[1].Content)
	assert.Equal(t, types.RoleAssistant, msgs[2].Role)
}

func TestConversation_MaxRoundsOne(t *testing.T) {
	gw := mocks.NewScriptedGateway()
	conv := newTwoParty(t, participant.PolicyNever, gw, 1)

	require.NoError(t, conv.Start(testutil.TestContext(t), seed("U", "B", "hi")))
	assert.Equal(t, 0, gw.CallCount())
	assert.Len(t, conv.Transcript(), 1)
	assert.Equal(t, ReasonMaxRounds, conv.Reason())
}
