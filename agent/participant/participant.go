package participant

import (
	"fmt"
	"strings"

	"github.com/BaSui01/chatflow/llm"
)

// Kind tags what a participant is. The engine switches on it instead of
// dispatching through per-kind types.
type Kind string

const (
	KindHumanProxy       Kind = "human_proxy"
	KindAgent            Kind = "agent"
	KindGroupCoordinator Kind = "group_coordinator"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindHumanProxy, KindAgent, KindGroupCoordinator:
		return true
	}
	return false
}

// InterruptPolicy controls whether an automatic reply needs external confirmation.
type InterruptPolicy string

const (
	// PolicyInherit defers to the conversation default, then to the kind default.
	PolicyInherit InterruptPolicy = ""
	// PolicyAlways suspends the run before each automatic reply by the participant.
	PolicyAlways InterruptPolicy = "ALWAYS"
	// PolicyNever lets the participant reply without confirmation.
	PolicyNever InterruptPolicy = "NEVER"
)

// ParsePolicy parses a policy name, case-insensitively. Empty means inherit.
func ParsePolicy(s string) (InterruptPolicy, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return PolicyInherit, nil
	case string(PolicyAlways):
		return PolicyAlways, nil
	case string(PolicyNever):
		return PolicyNever, nil
	default:
		return PolicyInherit, fmt.Errorf("unknown interrupt policy %q", s)
	}
}

// DefaultPolicy returns the policy a kind falls back to.
func (k Kind) DefaultPolicy() InterruptPolicy {
	if k == KindHumanProxy {
		return PolicyAlways
	}
	return PolicyNever
}

// Config is the behavioral configuration of one participant.
type Config struct {
	// ID is the unique, stable participant identifier.
	ID string `json:"id" yaml:"id"`
	// Kind selects human proxy, agent or group coordinator behavior.
	Kind Kind `json:"kind" yaml:"kind"`
	// SystemRole is injected as a leading system entry when this participant generates.
	SystemRole string `json:"system_role,omitempty" yaml:"system_role"`
	// InterruptPolicy overrides the conversation and kind defaults when set.
	InterruptPolicy InterruptPolicy `json:"interrupt_policy,omitempty" yaml:"interrupt_policy"`
	// RoundLimit bounds a group coordinator's nested sub-conversation. Zero means default.
	RoundLimit int `json:"round_limit,omitempty" yaml:"round_limit"`
	// Gateway overrides the conversation's default generation backend.
	Gateway llm.Gateway `json:"-" yaml:"-"`
}

// EffectivePolicy resolves the policy for this participant given the
// conversation-wide default.
func (c Config) EffectivePolicy(conversationDefault InterruptPolicy) InterruptPolicy {
	if c.InterruptPolicy != PolicyInherit {
		return c.InterruptPolicy
	}
	if conversationDefault != PolicyInherit {
		return conversationDefault
	}
	return c.Kind.DefaultPolicy()
}

// Validate checks the configuration in isolation.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("participant id is required")
	}
	if !c.Kind.Valid() {
		return fmt.Errorf("participant %s: unknown kind %q", c.ID, c.Kind)
	}
	switch c.InterruptPolicy {
	case PolicyInherit, PolicyAlways, PolicyNever:
	default:
		return fmt.Errorf("participant %s: unknown interrupt policy %q", c.ID, c.InterruptPolicy)
	}
	if c.RoundLimit < 0 {
		return fmt.Errorf("participant %s: round limit must be >= 0", c.ID)
	}
	return nil
}
