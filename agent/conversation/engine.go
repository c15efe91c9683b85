package conversation

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/chatflow/agent/participant"
	"github.com/BaSui01/chatflow/agent/transcript"
	"github.com/BaSui01/chatflow/types"
)

var errEmptyReply = errors.New("gateway returned empty content")

// Start appends seed and runs the reply loop until the conversation
// concludes, suspends or fails. The reply to seed is never interrupt-gated.
func (c *Conversation) Start(ctx context.Context, seed transcript.Turn) error {
	c.mu.Lock()
	switch c.status {
	case StatusIdle:
	case StatusRunning:
		c.mu.Unlock()
		return types.NewError(types.ErrBusy, "conversation step already in progress")
	case StatusSuspended:
		c.mu.Unlock()
		return types.NewError(types.ErrAlreadyStarted, "conversation already started; use Continue")
	default:
		c.mu.Unlock()
		return types.Errorf(types.ErrConversationEnded, "conversation %s", c.status)
	}
	if err := c.validateSeed(seed); err != nil {
		c.mu.Unlock()
		return err
	}
	c.status = StatusRunning
	c.reason = ReasonNone
	c.rounds = 0
	c.mu.Unlock()

	c.logger.Info("conversation started",
		zap.String("from", seed.From),
		zap.String("to", seed.To),
		zap.Int("prior_turns", c.transcript.Len()),
	)

	seed.State = transcript.StateSuccess
	c.append(ctx, seed)
	if c.Rounds() >= c.maxRounds {
		c.conclude(ReasonMaxRounds)
		return nil
	}
	return c.run(ctx, Pending{Speaker: seed.To, Recipient: seed.From}, false)
}

// Continue resumes a suspended conversation. Non-empty feedback is appended
// as the pending speaker's turn without calling a gateway; empty feedback
// makes exactly one gateway call on the pending speaker's behalf.
func (c *Conversation) Continue(ctx context.Context, feedback string) error {
	c.mu.Lock()
	switch c.status {
	case StatusSuspended:
	case StatusRunning:
		c.mu.Unlock()
		return types.NewError(types.ErrBusy, "conversation step already in progress")
	default:
		status := c.status
		c.mu.Unlock()
		return types.Errorf(types.ErrNotSuspended, "conversation is %s, not suspended", status)
	}
	p := c.pending.clone()
	c.status = StatusRunning
	c.reason = ReasonNone
	c.pending = nil
	c.mu.Unlock()

	c.logger.Debug("conversation resumed",
		zap.String("speaker", p.Speaker),
		zap.Bool("feedback", feedback != ""),
	)

	var turn transcript.Turn
	if feedback != "" {
		turn = c.append(ctx, transcript.NewTurn(p.Speaker, p.Recipient, feedback))
	} else {
		speaker, err := c.registry.Lookup(p.Speaker)
		if err != nil {
			return c.fail(err)
		}
		if turn, err = c.generate(ctx, p, speaker); err != nil {
			return err
		}
	}

	next, done := c.advance(turn, p)
	if done {
		return nil
	}
	return c.run(ctx, next, true)
}

// run executes reply steps starting at next. gate is false only for the
// step answering Start.
func (c *Conversation) run(ctx context.Context, next Pending, gate bool) error {
	for {
		speaker, err := c.registry.Lookup(next.Speaker)
		if err != nil {
			return c.fail(err)
		}

		if speaker.Kind == participant.KindGroupCoordinator {
			if next, err = c.enterGroup(ctx, speaker, next); err != nil {
				return c.fail(err)
			}
			if speaker, err = c.registry.Lookup(next.Speaker); err != nil {
				return c.fail(err)
			}
		}

		if gate && c.policyOf(speaker) == participant.PolicyAlways {
			c.suspend(ctx, next)
			return nil
		}
		gate = true

		turn, err := c.generate(ctx, next, speaker)
		if err != nil {
			return err
		}
		var done bool
		if next, done = c.advance(turn, next); done {
			return nil
		}
	}
}

// advance applies the termination and round checks to a freshly appended
// turn and computes the next resume point.
func (c *Conversation) advance(turn transcript.Turn, p Pending) (Pending, bool) {
	if turn.Content == Sentinel {
		c.conclude(ReasonTerminated)
		return Pending{}, true
	}
	if c.Rounds() >= c.maxRounds {
		c.conclude(ReasonMaxRounds)
		return Pending{}, true
	}
	if p.inGroup() {
		return c.nextInGroup(p), false
	}
	return Pending{Speaker: turn.To, Recipient: turn.From}, false
}

// generate calls the speaker's gateway and appends the result. A failure is
// recorded as an error turn and fails the conversation.
func (c *Conversation) generate(ctx context.Context, p Pending, speaker participant.Config) (transcript.Turn, error) {
	msgs := buildContext(speaker, c.transcript.Snapshot())
	reply, err := c.gatewayFor(speaker).Generate(c.stepContext(ctx, speaker.ID), msgs)
	if err == nil && strings.TrimSpace(reply) == "" {
		err = errEmptyReply
	}
	if err != nil {
		c.append(ctx, transcript.NewErrorTurn(p.Speaker, p.Recipient, err.Error()))
		return transcript.Turn{}, c.fail(types.Errorf(types.ErrGenerationFailed, "participant %s failed to reply", p.Speaker).WithCause(err))
	}
	return c.append(ctx, transcript.NewTurn(p.Speaker, p.Recipient, reply)), nil
}

func (c *Conversation) append(ctx context.Context, turn transcript.Turn) transcript.Turn {
	stored := c.transcript.Append(turn)
	c.mu.Lock()
	c.rounds++
	c.mu.Unlock()

	c.events.Publish(ctx, Event{Type: EventMessage, ConversationID: c.id, Turn: stored})
	return stored
}

// suspend marks the run suspended before dispatching the interrupt so that
// handlers may call Continue directly.
func (c *Conversation) suspend(ctx context.Context, p Pending) {
	c.mu.Lock()
	c.status = StatusSuspended
	c.reason = ReasonInterrupted
	c.pending = &p
	c.mu.Unlock()

	c.logger.Info("conversation suspended",
		zap.String("speaker", p.Speaker),
		zap.String("recipient", p.Recipient),
	)
	c.events.Publish(ctx, Event{Type: EventInterrupt, ConversationID: c.id, Pending: p.clone()})
}

func (c *Conversation) conclude(reason Reason) {
	c.mu.Lock()
	c.status = StatusConcluded
	c.reason = reason
	c.pending = nil
	rounds := c.rounds
	c.mu.Unlock()

	c.logger.Info("conversation concluded",
		zap.String("reason", string(reason)),
		zap.Int("rounds", rounds),
	)
}

func (c *Conversation) fail(err error) error {
	c.mu.Lock()
	c.status = StatusFailed
	c.reason = ReasonFailed
	c.pending = nil
	c.err = err
	c.mu.Unlock()

	c.logger.Error("conversation failed", zap.Error(err))
	return err
}

func (c *Conversation) validateSeed(seed transcript.Turn) error {
	from, err := c.registry.Lookup(seed.From)
	if err != nil {
		return err
	}
	if _, err := c.registry.Lookup(seed.To); err != nil {
		return err
	}
	if seed.From == seed.To {
		return types.Errorf(types.ErrConfiguration, "seed is addressed from %q to itself", seed.From)
	}
	if from.Kind == participant.KindGroupCoordinator {
		return types.Errorf(types.ErrConfiguration, "group coordinator %q cannot author the seed", seed.From)
	}
	if e, ok := c.graph.Entry(seed.From); !ok || !e.Contains(seed.To) {
		return types.Errorf(types.ErrConfiguration, "no route from %q to %q", seed.From, seed.To)
	}
	return nil
}
