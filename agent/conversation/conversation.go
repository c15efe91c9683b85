package conversation

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/chatflow/agent/participant"
	"github.com/BaSui01/chatflow/agent/routing"
	"github.com/BaSui01/chatflow/agent/transcript"
	"github.com/BaSui01/chatflow/llm"
	"github.com/BaSui01/chatflow/types"
)

const (
	// DefaultMaxRounds caps the turns appended in one run, seed included.
	DefaultMaxRounds = 100
	// DefaultGroupRoundLimit caps candidate replies per coordinator entry.
	DefaultGroupRoundLimit = 10
)

// Config holds everything needed to build a Conversation.
type Config struct {
	// ID identifies the conversation. Generated when empty.
	ID       string
	Registry *participant.Registry
	Graph    *routing.Graph
	// DefaultPolicy applies to participants without their own policy.
	DefaultPolicy participant.InterruptPolicy
	// MaxRounds caps appended turns per run. Zero means DefaultMaxRounds.
	MaxRounds int
	// Transcript seeds the conversation with prior turns. Optional.
	Transcript *transcript.Transcript
	// Gateway serves participants without their own backend.
	Gateway llm.Gateway
	Logger  *zap.Logger
}

// Conversation runs one multi-party conversation. Start and Continue are
// never interleaved; a call made while a step is in flight fails with ErrBusy.
type Conversation struct {
	id            string
	registry      *participant.Registry
	graph         *routing.Graph
	defaultPolicy participant.InterruptPolicy
	maxRounds     int
	gateway       llm.Gateway
	transcript    *transcript.Transcript
	events        *EventBus
	logger        *zap.Logger

	mu      sync.RWMutex
	status  Status
	reason  Reason
	pending *Pending
	rounds  int
	err     error
}

// New validates cfg and returns an idle conversation.
func New(cfg Config) (*Conversation, error) {
	if cfg.Registry == nil || cfg.Registry.Len() == 0 {
		return nil, types.NewError(types.ErrConfiguration, "participant registry is empty")
	}
	if cfg.Graph == nil {
		return nil, types.NewError(types.ErrConfiguration, "routing graph is required")
	}
	if err := cfg.Graph.Validate(cfg.Registry); err != nil {
		return nil, err
	}
	switch cfg.DefaultPolicy {
	case participant.PolicyInherit, participant.PolicyAlways, participant.PolicyNever:
	default:
		return nil, types.Errorf(types.ErrConfiguration, "unknown default interrupt policy %q", cfg.DefaultPolicy)
	}
	if cfg.MaxRounds < 0 {
		return nil, types.Errorf(types.ErrConfiguration, "max rounds must be >= 0, got %d", cfg.MaxRounds)
	}
	if cfg.Gateway == nil {
		for _, id := range cfg.Registry.IDs() {
			if p, _ := cfg.Registry.Get(id); p.Gateway == nil {
				return nil, types.Errorf(types.ErrConfiguration, "participant %q has no gateway and no default is set", id)
			}
		}
	}

	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.MaxRounds == 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	if cfg.Transcript == nil {
		cfg.Transcript = transcript.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Conversation{
		id:            cfg.ID,
		registry:      cfg.Registry,
		graph:         cfg.Graph,
		defaultPolicy: cfg.DefaultPolicy,
		maxRounds:     cfg.MaxRounds,
		gateway:       cfg.Gateway,
		transcript:    cfg.Transcript,
		events:        NewEventBus(),
		logger: cfg.Logger.With(
			zap.String("component", "conversation"),
			zap.String("conversation_id", cfg.ID),
		),
		status: StatusIdle,
	}, nil
}

// ID returns the conversation identifier.
func (c *Conversation) ID() string { return c.id }

// Transcript returns a copy of all turns so far.
func (c *Conversation) Transcript() []transcript.Turn {
	return c.transcript.Snapshot()
}

// On subscribes h to t and returns the unsubscribe function.
func (c *Conversation) On(t EventType, h Handler) func() {
	return c.events.On(t, h)
}

// Off removes every handler for t.
func (c *Conversation) Off(t EventType) {
	c.events.Off(t)
}

// Status returns the current lifecycle state.
func (c *Conversation) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Reason returns why the last run stopped.
func (c *Conversation) Reason() Reason {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reason
}

// Err returns the error that failed the conversation, if any.
func (c *Conversation) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Pending returns the resume point while suspended.
func (c *Conversation) Pending() (Pending, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.pending == nil || c.status != StatusSuspended {
		return Pending{}, false
	}
	return c.pending.clone(), true
}

// Rounds returns the turns appended in the current run, seed included.
func (c *Conversation) Rounds() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rounds
}

// MaxRounds returns the effective global round cap.
func (c *Conversation) MaxRounds() int { return c.maxRounds }

func (c *Conversation) gatewayFor(p participant.Config) llm.Gateway {
	if p.Gateway != nil {
		return p.Gateway
	}
	return c.gateway
}

func (c *Conversation) policyOf(p participant.Config) participant.InterruptPolicy {
	return p.EffectivePolicy(c.defaultPolicy)
}

func (c *Conversation) roundLimitOf(p participant.Config) int {
	if p.RoundLimit > 0 {
		return p.RoundLimit
	}
	return DefaultGroupRoundLimit
}

func (c *Conversation) stepContext(ctx context.Context, speaker string) context.Context {
	ctx = types.WithConversationID(ctx, c.id)
	return types.WithParticipantID(ctx, speaker)
}
