// ScriptedGateway 是生成网关的测试模拟实现。
//
// 支持按序回复、固定回复、按调用序号计算回复、错误注入，
// 并能识别群聊协调者的 "next role" 选择查询。
package mocks

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/BaSui01/chatflow/types"
)

// --- ScriptedGateway 结构 ---

// ScriptedGateway 是 llm.Gateway 的模拟实现
type ScriptedGateway struct {
	mu sync.Mutex

	// 回复配置
	replies  []string
	fixed    string
	fn       func(call int, msgs []types.Message) (string, error)
	selectFn func(call int, candidates []string) string
	err      error

	// 行为控制
	failAfter int

	// 调用记录
	calls     [][]types.Message
	selection int
	replyN    int
}

// NewScriptedGateway 创建默认回复 "..." 的模拟网关
func NewScriptedGateway() *ScriptedGateway {
	return &ScriptedGateway{fixed: "...", failAfter: -1}
}

// --- Builder 方法 ---

// WithReplies 按顺序返回 replies，用尽后返回固定回复
func (g *ScriptedGateway) WithReplies(replies ...string) *ScriptedGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.replies = append([]string(nil), replies...)
	return g
}

// WithResponse 设置固定回复
func (g *ScriptedGateway) WithResponse(reply string) *ScriptedGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fixed = reply
	return g
}

// WithFunc 用 fn 计算普通回复；call 从 0 开始，不含选择查询
func (g *ScriptedGateway) WithFunc(fn func(call int, msgs []types.Message) (string, error)) *ScriptedGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fn = fn
	return g
}

// WithSelector 设置选择查询的回答；默认轮流选择候选人
func (g *ScriptedGateway) WithSelector(fn func(call int, candidates []string) string) *ScriptedGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.selectFn = fn
	return g
}

// WithError 每次调用都返回 err
func (g *ScriptedGateway) WithError(err error) *ScriptedGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
	return g
}

// WithFailAfter 在成功 n 次调用后返回 err
func (g *ScriptedGateway) WithFailAfter(n int, err error) *ScriptedGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failAfter = n
	g.err = err
	return g
}

// --- Gateway 接口实现 ---

// Generate 实现 llm.Gateway
func (g *ScriptedGateway) Generate(_ context.Context, msgs []types.Message) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls = append(g.calls, append([]types.Message(nil), msgs...))
	if g.err != nil && (g.failAfter < 0 || len(g.calls) > g.failAfter) {
		return "", g.err
	}

	if candidates, ok := SelectionCandidates(msgs); ok {
		call := g.selection
		g.selection++
		if g.selectFn != nil {
			return g.selectFn(call, candidates), nil
		}
		return candidates[call%len(candidates)], nil
	}

	call := g.replyN
	g.replyN++
	if g.fn != nil {
		return g.fn(call, msgs)
	}
	if call < len(g.replies) {
		return g.replies[call], nil
	}
	return g.fixed, nil
}

// --- 调用记录 ---

// CallCount 返回全部调用次数（含选择查询）
func (g *ScriptedGateway) CallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// ReplyCount 返回普通回复调用次数
func (g *ScriptedGateway) ReplyCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.replyN
}

// SelectionCount 返回选择查询次数
func (g *ScriptedGateway) SelectionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.selection
}

// LastMessages 返回最近一次调用的消息
func (g *ScriptedGateway) LastMessages() []types.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.calls) == 0 {
		return nil
	}
	return g.calls[len(g.calls)-1]
}

var selectionPattern = regexp.MustCompile(`select the next role from \[([^\]]*)\]`)

// SelectionCandidates 识别协调者的选择查询并返回候选人
func SelectionCandidates(msgs []types.Message) ([]string, bool) {
	if len(msgs) == 0 {
		return nil, false
	}
	last := msgs[len(msgs)-1]
	if last.Role != types.RoleSystem {
		return nil, false
	}
	m := selectionPattern.FindStringSubmatch(last.Content)
	if m == nil {
		return nil, false
	}
	parts := strings.Split(m[1], ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, len(out) > 0
}
