package config

import (
	"fmt"
	"strings"

	"github.com/BaSui01/chatflow/agent/conversation"
	"github.com/BaSui01/chatflow/agent/participant"
	"github.com/BaSui01/chatflow/agent/routing"
	"github.com/BaSui01/chatflow/llm/factory"
	"github.com/BaSui01/chatflow/types"
)

// =============================================================================
// 🔧 配置 → 引擎输入
// =============================================================================

// BuildRegistry 根据 conversation.participants 构建参与者注册表。
// 带 llm 覆盖的参与者通过 resolver 获得独立 Gateway，其余参与者使用默认后端。
func (c *Config) BuildRegistry(resolver *factory.Resolver) (*participant.Registry, error) {
	configs := make([]participant.Config, 0, len(c.Conversation.Participants))
	for i, p := range c.Conversation.Participants {
		kind := participant.Kind(strings.ToLower(strings.TrimSpace(p.Kind)))
		policy, err := participant.ParsePolicy(p.InterruptPolicy)
		if err != nil {
			return nil, types.Errorf(types.ErrConfiguration, "participants[%d] %s: %v", i, p.ID, err)
		}
		pc := participant.Config{
			ID:              p.ID,
			Kind:            kind,
			SystemRole:      p.SystemRole,
			InterruptPolicy: policy,
			RoundLimit:      p.RoundLimit,
		}
		if p.LLM != nil {
			if resolver == nil {
				return nil, types.Errorf(types.ErrConfiguration, "participant %s overrides llm but no backend resolver is available", p.ID)
			}
			gw, err := resolver.Resolve(p.LLM)
			if err != nil {
				return nil, fmt.Errorf("participant %s: %w", p.ID, err)
			}
			pc.Gateway = gw
		}
		configs = append(configs, pc)
	}
	return participant.NewRegistry(configs...)
}

// BuildGraph 根据 conversation.routes 构建路由图（不校验引用，交给 Graph.Validate）。
func (c *Config) BuildGraph() (*routing.Graph, error) {
	entries := make(map[string]routing.Entry, len(c.Conversation.Routes))
	for from, r := range c.Conversation.Routes {
		switch {
		case r.To != "" && len(r.OneOf) > 0:
			return nil, types.Errorf(types.ErrConfiguration, "route %q sets both to and one_of", from)
		case r.To != "":
			entries[from] = routing.To(r.To)
		case len(r.OneOf) > 0:
			entries[from] = routing.OneOf(r.OneOf...)
		default:
			return nil, types.Errorf(types.ErrConfiguration, "route %q needs to or one_of", from)
		}
	}
	return routing.NewGraph(entries), nil
}

// BuildDefinition 组装对话定义；resolver 提供默认后端与参与者覆盖。
func (c *Config) BuildDefinition(resolver *factory.Resolver) (conversation.Definition, error) {
	reg, err := c.BuildRegistry(resolver)
	if err != nil {
		return conversation.Definition{}, err
	}
	graph, err := c.BuildGraph()
	if err != nil {
		return conversation.Definition{}, err
	}
	if err := graph.Validate(reg); err != nil {
		return conversation.Definition{}, err
	}
	policy, err := participant.ParsePolicy(c.Conversation.DefaultInterrupt)
	if err != nil {
		return conversation.Definition{}, types.NewError(types.ErrConfiguration, "invalid default_interrupt").WithCause(err)
	}

	def := conversation.Definition{
		Registry:      reg,
		Graph:         graph,
		DefaultPolicy: policy,
		MaxRounds:     c.Conversation.MaxRounds,
	}
	if resolver != nil {
		gw, err := resolver.Default()
		if err != nil {
			return conversation.Definition{}, fmt.Errorf("default llm backend: %w", err)
		}
		def.Gateway = gw
	}
	return def, nil
}
