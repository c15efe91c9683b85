package conversation

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/chatflow/agent/participant"
	"github.com/BaSui01/chatflow/agent/transcript"
	"github.com/BaSui01/chatflow/types"
)

// enterGroup selects the next candidate for coordinator. A fresh group frame
// is opened when the coordinator is entered from outside.
func (c *Conversation) enterGroup(ctx context.Context, coordinator participant.Config, p Pending) (Pending, error) {
	if !p.inGroup() || p.Group.Coordinator != coordinator.ID {
		p.Group = &Group{
			Coordinator: coordinator.ID,
			Origin:      p.Recipient,
			Limit:       c.roundLimitOf(coordinator),
		}
		c.logger.Debug("group entered",
			zap.String("coordinator", coordinator.ID),
			zap.String("origin", p.Recipient),
			zap.Int("limit", p.Group.Limit),
		)
	}

	chosen, err := c.selectSpeaker(ctx, coordinator, p.Group.Origin)
	if err != nil {
		return Pending{}, err
	}
	return Pending{Speaker: chosen, Recipient: coordinator.ID, Group: p.Group}, nil
}

// selectSpeaker asks the coordinator's gateway for the next role. A single
// candidate is chosen without a call. A failed call is recorded as an error
// turn from the coordinator to origin.
func (c *Conversation) selectSpeaker(ctx context.Context, coordinator participant.Config, origin string) (string, error) {
	candidates := c.graph.Candidates(coordinator.ID)
	if len(candidates) == 0 {
		return "", types.Errorf(types.ErrConfiguration, "group coordinator %q has no candidates", coordinator.ID)
	}
	if len(candidates) == 1 {
		return candidates[0], nil
	}

	msgs := selectionContext(coordinator, candidates, c.transcript.Snapshot())
	reply, err := c.gatewayFor(coordinator).Generate(c.stepContext(ctx, coordinator.ID), msgs)
	if err != nil {
		c.append(ctx, transcript.NewErrorTurn(coordinator.ID, origin, err.Error()))
		return "", types.Errorf(types.ErrGenerationFailed, "coordinator %s failed to select a speaker", coordinator.ID).WithCause(err)
	}
	chosen, err := parseSelection(reply, candidates)
	if err != nil {
		return "", err
	}
	c.logger.Debug("speaker selected",
		zap.String("coordinator", coordinator.ID),
		zap.String("speaker", chosen),
	)
	return chosen, nil
}

// nextInGroup counts a candidate reply. Once the limit is reached control
// returns to the origin, addressed to the coordinator.
func (c *Conversation) nextInGroup(p Pending) Pending {
	g := *p.Group
	g.Rounds++
	if g.Rounds >= g.Limit {
		c.logger.Debug("group round limit reached",
			zap.String("coordinator", g.Coordinator),
			zap.String("origin", g.Origin),
			zap.Int("rounds", g.Rounds),
		)
		return Pending{Speaker: g.Origin, Recipient: g.Coordinator}
	}
	return Pending{Speaker: g.Coordinator, Recipient: g.Origin, Group: &g}
}
