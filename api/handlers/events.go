package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/BaSui01/chatflow/agent/conversation"
	"github.com/BaSui01/chatflow/api"
	"github.com/BaSui01/chatflow/types"
)

// =============================================================================
// 📡 事件流 Handler（WebSocket）
// =============================================================================

const (
	defaultEventBuffer  = 64
	defaultPingInterval = 30 * time.Second
	eventWriteTimeout   = 10 * time.Second
)

// EventsOption 配置 EventsHandler
type EventsOption func(*EventsHandler)

// WithEventBuffer 设置每个订阅者的缓冲区大小，写满即断开该订阅者
func WithEventBuffer(n int) EventsOption {
	return func(h *EventsHandler) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithOriginPatterns 设置允许跨域的 Origin 模式
func WithOriginPatterns(patterns ...string) EventsOption {
	return func(h *EventsHandler) { h.origins = patterns }
}

// WithPingInterval 设置保活间隔，同时决定检测会话结束的频率
func WithPingInterval(d time.Duration) EventsOption {
	return func(h *EventsHandler) {
		if d > 0 {
			h.ping = d
		}
	}
}

// EventsHandler 通过 WebSocket 推送会话事件。引擎在自身 goroutine 上同步
// 调用订阅回调，因此回调只做非阻塞入队，写连接在请求 goroutine 上完成。
type EventsHandler struct {
	manager *conversation.Manager
	buffer  int
	ping    time.Duration
	origins []string
	logger  *zap.Logger
}

// NewEventsHandler 创建事件流处理器
func NewEventsHandler(manager *conversation.Manager, logger *zap.Logger, opts ...EventsOption) *EventsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &EventsHandler{
		manager: manager,
		buffer:  defaultEventBuffer,
		ping:    defaultPingInterval,
		logger:  logger.With(zap.String("component", "events_handler")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register 在 mux 上注册事件流路由
func (h *EventsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/conversations/{id}/events", h.HandleEvents)
}

// subscriber 单个连接的事件队列
type subscriber struct {
	events   chan api.EventMessage
	overflow chan struct{}
	once     sync.Once
}

func (s *subscriber) push(ctx context.Context, ev conversation.Event) {
	select {
	case s.events <- api.NewEventMessage(ev):
	default:
		s.once.Do(func() { close(s.overflow) })
	}
}

// HandleEvents 升级为 WebSocket 并推送会话事件；replay=true 时先推送已有记录
// @Summary 会话事件流
// @Tags 会话
// @Param id path string true "会话 ID"
// @Param replay query bool false "先推送已有记录"
// @Success 101 "切换到 WebSocket"
// @Failure 404 {object} Response "会话不存在"
// @Router /api/v1/conversations/{id}/events [get]
func (h *EventsHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conv, ok := h.manager.Get(id)
	if !ok {
		WriteError(w, types.Errorf(types.ErrNotFound, "conversation not found: %s", id), h.logger)
		return
	}

	sub := &subscriber{
		events:   make(chan api.EventMessage, h.buffer),
		overflow: make(chan struct{}),
	}
	// 升级前订阅，握手完成后产生的事件不会丢失
	offMessage := conv.On(conversation.EventMessage, sub.push)
	offInterrupt := conv.On(conversation.EventInterrupt, sub.push)
	defer offMessage()
	defer offInterrupt()

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("conversation_id", id), zap.Error(err))
		return
	}
	defer c.CloseNow()

	logger := h.logger.With(zap.String("conversation_id", id))
	logger.Debug("event stream opened")

	// 客户端只接收；CloseRead 负责处理控制帧并在断开时取消 ctx
	ctx := c.CloseRead(r.Context())

	if r.URL.Query().Get("replay") == "true" {
		for _, turn := range conv.Transcript() {
			msg := api.NewEventMessage(conversation.Event{
				Type:           conversation.EventMessage,
				ConversationID: id,
				Turn:           turn,
			})
			if err := h.write(ctx, c, msg); err != nil {
				logger.Debug("replay aborted", zap.Error(err))
				return
			}
		}
	}

	ticker := time.NewTicker(h.ping)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("event stream closed by client")
			return
		case <-sub.overflow:
			logger.Warn("event subscriber too slow, closing")
			c.Close(websocket.StatusPolicyViolation, "event buffer overflow")
			return
		case msg := <-sub.events:
			if err := h.write(ctx, c, msg); err != nil {
				logger.Debug("event write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if conv.Status().Terminal() && len(sub.events) == 0 {
				c.Close(websocket.StatusNormalClosure, "conversation "+string(conv.Status()))
				return
			}
			pingCtx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.Debug("event stream ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (h *EventsHandler) write(ctx context.Context, c *websocket.Conn, msg api.EventMessage) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, c, msg)
}
