package api

import (
	"time"

	"github.com/BaSui01/chatflow/agent/conversation"
	"github.com/BaSui01/chatflow/agent/transcript"
)

// =============================================================================
// 会话类型
// =============================================================================

// CreateConversationRequest 创建并启动会话的请求。
// @Description 创建会话请求结构
type CreateConversationRequest struct {
	// 会话 ID，留空时自动生成
	ID string `json:"id,omitempty" example:"conv-1"`
	// 种子消息的发送者
	From string `json:"from" example:"user" binding:"required"`
	// 种子消息的接收者
	To string `json:"to" example:"assistant" binding:"required"`
	// 种子消息内容
	Content string `json:"content" example:"hello" binding:"required"`
	// 覆盖定义中的最大轮数，0 表示沿用
	MaxRounds int `json:"max_rounds,omitempty" example:"10"`
	// 从存储中加载同 ID 的历史记录后再启动
	Resume bool `json:"resume,omitempty"`
	// 异步启动，立即返回 202
	Async bool `json:"async,omitempty"`
}

// ContinueRequest 恢复挂起会话的请求。
// @Description 继续会话请求结构
type ContinueRequest struct {
	// 人工输入，空字符串表示交给模型生成
	Feedback string `json:"feedback"`
	// 异步继续，立即返回 202
	Async bool `json:"async,omitempty"`
}

// ConversationView 会话状态快照。
// @Description 会话状态结构
type ConversationView struct {
	ID         string                `json:"id" example:"conv-1"`
	Status     conversation.Status   `json:"status" example:"suspended"`
	Reason     conversation.Reason   `json:"reason,omitempty" example:"interrupted"`
	Rounds     int                   `json:"rounds" example:"3"`
	MaxRounds  int                   `json:"max_rounds" example:"10"`
	Pending    *conversation.Pending `json:"pending,omitempty"`
	Error      string                `json:"error,omitempty"`
	Transcript []transcript.Turn     `json:"transcript,omitempty"`
}

// NewConversationView 生成会话快照；withTranscript 为 false 时省略记录。
func NewConversationView(c *conversation.Conversation, withTranscript bool) ConversationView {
	v := ConversationView{
		ID:        c.ID(),
		Status:    c.Status(),
		Reason:    c.Reason(),
		Rounds:    c.Rounds(),
		MaxRounds: c.MaxRounds(),
	}
	if p, ok := c.Pending(); ok {
		v.Pending = &p
	}
	if err := c.Err(); err != nil {
		v.Error = err.Error()
	}
	if withTranscript {
		v.Transcript = c.Transcript()
	}
	return v
}

// ConversationList 会话列表。
type ConversationList struct {
	Conversations []ConversationView `json:"conversations"`
	Total         int                `json:"total"`
}

// TranscriptResponse 会话记录。
type TranscriptResponse struct {
	ConversationID string            `json:"conversation_id"`
	Source         string            `json:"source" example:"memory"`
	Turns          []transcript.Turn `json:"turns"`
}

// =============================================================================
// 中断类型
// =============================================================================

// ResolveInterruptRequest 应答中断的请求。
// @Description 中断应答结构
type ResolveInterruptRequest struct {
	// 人工输入
	Input string `json:"input"`
	// 应答人
	UserID string `json:"user_id,omitempty" example:"user-1"`
}

// =============================================================================
// 事件流类型
// =============================================================================

// EventMessage 通过 WebSocket 推送的事件。
type EventMessage struct {
	Type           conversation.EventType `json:"type" example:"message"`
	ConversationID string                 `json:"conversation_id"`
	Turn           *transcript.Turn       `json:"turn,omitempty"`
	Pending        *conversation.Pending  `json:"pending,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
}

// NewEventMessage 将引擎事件转换为推送消息。
func NewEventMessage(ev conversation.Event) EventMessage {
	msg := EventMessage{
		Type:           ev.Type,
		ConversationID: ev.ConversationID,
		Timestamp:      time.Now(),
	}
	switch ev.Type {
	case conversation.EventMessage:
		turn := ev.Turn
		msg.Turn = &turn
	case conversation.EventInterrupt:
		p := ev.Pending
		msg.Pending = &p
	}
	return msg
}
