package conversation

import (
	"slices"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/chatflow/agent/participant"
	"github.com/BaSui01/chatflow/agent/routing"
	"github.com/BaSui01/chatflow/agent/transcript"
	"github.com/BaSui01/chatflow/llm"
	"github.com/BaSui01/chatflow/types"
)

// Definition is the shared setup conversations are created from.
type Definition struct {
	Registry      *participant.Registry
	Graph         *routing.Graph
	DefaultPolicy participant.InterruptPolicy
	MaxRounds     int
	Gateway       llm.Gateway
}

// CreateOption customizes a single conversation.
type CreateOption func(*Config)

// WithID fixes the conversation ID.
func WithID(id string) CreateOption {
	return func(c *Config) { c.ID = id }
}

// WithTranscript seeds the conversation with prior turns.
func WithTranscript(t *transcript.Transcript) CreateOption {
	return func(c *Config) { c.Transcript = t }
}

// WithMaxRounds overrides the definition's round cap.
func WithMaxRounds(n int) CreateOption {
	return func(c *Config) { c.MaxRounds = n }
}

// Manager creates conversations from a Definition and tracks them by ID.
type Manager struct {
	def    Definition
	base   *zap.Logger
	logger *zap.Logger

	mu            sync.RWMutex
	conversations map[string]*Conversation
	hooks         []func(*Conversation)
}

// NewManager validates def and returns an empty manager.
func NewManager(def Definition, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		def:           def,
		base:          logger,
		logger:        logger.With(zap.String("component", "conversation_manager")),
		conversations: make(map[string]*Conversation),
	}
	// Building a throwaway conversation runs the full validation once.
	if _, err := New(configFor(def, logger)); err != nil {
		return nil, err
	}
	return m, nil
}

// Definition returns the shared setup.
func (m *Manager) Definition() Definition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.def
}

// SetDefinition validates def and uses it for conversations created from now
// on. Existing conversations keep the setup they were built with.
func (m *Manager) SetDefinition(def Definition) error {
	cfg := configFor(def, m.base)
	if _, err := New(cfg); err != nil {
		return err
	}
	m.mu.Lock()
	m.def = def
	m.mu.Unlock()
	m.logger.Info("conversation definition replaced",
		zap.Int("participants", def.Registry.Len()),
	)
	return nil
}

// OnCreate registers a hook run for every new conversation before it is
// returned. Hooks typically subscribe to events.
func (m *Manager) OnCreate(hook func(*Conversation)) {
	m.mu.Lock()
	m.hooks = append(m.hooks, hook)
	m.mu.Unlock()
}

// Create builds and registers a new idle conversation.
func (m *Manager) Create(opts ...CreateOption) (*Conversation, error) {
	cfg := configFor(m.Definition(), m.base)
	for _, opt := range opts {
		opt(&cfg)
	}

	m.mu.Lock()
	if cfg.ID != "" {
		if _, exists := m.conversations[cfg.ID]; exists {
			m.mu.Unlock()
			return nil, types.Errorf(types.ErrInvalidRequest, "conversation %s already exists", cfg.ID)
		}
	}
	conv, err := New(cfg)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.conversations[conv.ID()] = conv
	hooks := slices.Clone(m.hooks)
	m.mu.Unlock()

	for _, h := range hooks {
		h(conv)
	}
	m.logger.Debug("conversation created", zap.String("conversation_id", conv.ID()))
	return conv, nil
}

// Get returns the conversation with id.
func (m *Manager) Get(id string) (*Conversation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conv, ok := m.conversations[id]
	return conv, ok
}

// List returns all conversations ordered by ID.
func (m *Manager) List() []*Conversation {
	m.mu.RLock()
	out := make([]*Conversation, 0, len(m.conversations))
	for _, c := range m.conversations {
		out = append(out, c)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Remove forgets the conversation with id.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conversations[id]; !ok {
		return false
	}
	delete(m.conversations, id)
	return true
}

// Len returns the number of tracked conversations.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conversations)
}

func configFor(def Definition, logger *zap.Logger) Config {
	return Config{
		Registry:      def.Registry,
		Graph:         def.Graph,
		DefaultPolicy: def.DefaultPolicy,
		MaxRounds:     def.MaxRounds,
		Gateway:       def.Gateway,
		Logger:        logger,
	}
}
