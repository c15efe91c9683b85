// =============================================================================
// 📦 测试数据工厂 - 对话拓扑
// =============================================================================
// 提供常用的参与者注册表与路由图，用于引擎、存储与 API 测试
// =============================================================================
package fixtures

import (
	"github.com/BaSui01/chatflow/agent/participant"
	"github.com/BaSui01/chatflow/agent/routing"
)

// =============================================================================
// 👥 双人对话：U（人类代理）↔ B（智能体）
// =============================================================================

// TwoParty 返回 {U→B} 拓扑；userPolicy 为空时沿用人类代理默认策略
func TwoParty(userPolicy participant.InterruptPolicy) (*participant.Registry, *routing.Graph) {
	reg := participant.MustNewRegistry(
		participant.Config{ID: "U", Kind: participant.KindHumanProxy, InterruptPolicy: userPolicy},
		participant.Config{ID: "B", Kind: participant.KindAgent, SystemRole: "You are a helpful assistant."},
	)
	graph := routing.NewGraph(map[string]routing.Entry{
		"U": routing.To("B"),
		"B": routing.To("U"),
	})
	return reg, graph
}

// =============================================================================
// 🗣️ 群聊：U → M，M → {a, b, c}
// =============================================================================

// GroupChat 返回群聊拓扑；roundLimit 为 0 时使用默认上限
func GroupChat(roundLimit int) (*participant.Registry, *routing.Graph) {
	reg := participant.MustNewRegistry(
		participant.Config{ID: "U", Kind: participant.KindHumanProxy},
		participant.Config{ID: "M", Kind: participant.KindGroupCoordinator, RoundLimit: roundLimit},
		participant.Config{ID: "a", Kind: participant.KindAgent},
		participant.Config{ID: "b", Kind: participant.KindAgent},
		participant.Config{ID: "c", Kind: participant.KindAgent},
	)
	graph := routing.NewGraph(map[string]routing.Entry{
		"U": routing.To("M"),
		"M": routing.OneOf("a", "b", "c"),
	})
	return reg, graph
}
