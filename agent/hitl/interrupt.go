package hitl

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/chatflow/agent/conversation"
	"github.com/BaSui01/chatflow/types"
)

// InterruptStatus 中断状态
type InterruptStatus string

const (
	InterruptStatusPending  InterruptStatus = "pending"
	InterruptStatusResolved InterruptStatus = "resolved"
	InterruptStatusTimeout  InterruptStatus = "timeout"
	InterruptStatusCanceled InterruptStatus = "canceled"
)

// Interrupt 一次等待人工输入的挂起
type Interrupt struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Speaker        string          `json:"speaker"`
	Recipient      string          `json:"recipient"`
	Coordinator    string          `json:"coordinator,omitempty"`
	Status         InterruptStatus `json:"status"`
	Response       *Response       `json:"response,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"`
	Timeout        time.Duration   `json:"timeout,omitempty"`
}

// Response 人工对中断的应答
type Response struct {
	Input     string    `json:"input"`
	UserID    string    `json:"user_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// InterruptStore 中断存储接口
type InterruptStore interface {
	Save(ctx context.Context, interrupt *Interrupt) error
	Load(ctx context.Context, interruptID string) (*Interrupt, error)
	List(ctx context.Context, conversationID string, status InterruptStatus) ([]*Interrupt, error)
	Update(ctx context.Context, interrupt *Interrupt) error
}

// InterruptHandler 新中断的通知回调
type InterruptHandler func(ctx context.Context, interrupt *Interrupt) error

// ManagerOption 配置 InterruptManager
type ManagerOption func(*InterruptManager)

// WithTimeout 设置中断超时；0 表示永不超时
func WithTimeout(d time.Duration) ManagerOption {
	return func(m *InterruptManager) { m.timeout = d }
}

// WithTimeoutInput 设置超时后代替人工提交的输入，默认是终止词
func WithTimeoutInput(input string) ManagerOption {
	return func(m *InterruptManager) { m.timeoutInput = input }
}

// InterruptManager 管理会话中断
type InterruptManager struct {
	store        InterruptStore
	logger       *zap.Logger
	timeout      time.Duration
	timeoutInput string

	mu       sync.RWMutex
	handlers []InterruptHandler
	pending  map[string]*pendingInterrupt
	byConv   map[string]string
}

type pendingInterrupt struct {
	interrupt *Interrupt
	conv      *conversation.Conversation
	timer     *time.Timer
}

// NewInterruptManager 创建中断管理器
func NewInterruptManager(store InterruptStore, logger *zap.Logger, opts ...ManagerOption) *InterruptManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = NewInMemoryInterruptStore()
	}
	m := &InterruptManager{
		store:        store,
		logger:       logger.With(zap.String("component", "interrupt_manager")),
		timeoutInput: conversation.Sentinel,
		pending:      make(map[string]*pendingInterrupt),
		byConv:       make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterHandler 注册新中断的通知回调
func (m *InterruptManager) RegisterHandler(handler InterruptHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

// Attach 订阅会话的中断与消息事件，返回取消订阅函数
func (m *InterruptManager) Attach(conv *conversation.Conversation) func() {
	offInterrupt := conv.On(conversation.EventInterrupt, func(ctx context.Context, ev conversation.Event) {
		if err := m.open(ctx, conv, ev.Pending); err != nil {
			m.logger.Error("failed to record interrupt",
				zap.String("conversation_id", conv.ID()),
				zap.Error(err),
			)
		}
	})
	// 绕过管理器直接 Continue 时，用人工轮次关闭对应中断
	offMessage := conv.On(conversation.EventMessage, func(ctx context.Context, ev conversation.Event) {
		m.settleExternally(ctx, conv.ID(), ev)
	})
	return func() {
		offInterrupt()
		offMessage()
	}
}

// Hook 供 conversation.Manager.OnCreate 使用
func (m *InterruptManager) Hook() func(*conversation.Conversation) {
	return func(c *conversation.Conversation) { m.Attach(c) }
}

func (m *InterruptManager) open(ctx context.Context, conv *conversation.Conversation, p conversation.Pending) error {
	interrupt := &Interrupt{
		ID:             uuid.NewString(),
		ConversationID: conv.ID(),
		Speaker:        p.Speaker,
		Recipient:      p.Recipient,
		Status:         InterruptStatusPending,
		CreatedAt:      time.Now().UTC(),
		Timeout:        m.timeout,
	}
	if p.Group != nil {
		interrupt.Coordinator = p.Group.Coordinator
	}
	if err := m.store.Save(ctx, interrupt); err != nil {
		return fmt.Errorf("failed to save interrupt: %w", err)
	}

	entry := &pendingInterrupt{interrupt: interrupt, conv: conv}
	if m.timeout > 0 {
		entry.timer = time.AfterFunc(m.timeout, func() { m.expire(interrupt.ID) })
	}

	m.mu.Lock()
	m.pending[interrupt.ID] = entry
	m.byConv[interrupt.ConversationID] = interrupt.ID
	handlers := append([]InterruptHandler(nil), m.handlers...)
	m.mu.Unlock()

	m.logger.Info("interrupt opened",
		zap.String("id", interrupt.ID),
		zap.String("conversation_id", interrupt.ConversationID),
		zap.String("speaker", interrupt.Speaker),
	)

	snapshot := *interrupt
	for _, h := range handlers {
		go func(h InterruptHandler) {
			if err := h(context.WithoutCancel(ctx), &snapshot); err != nil {
				m.logger.Error("interrupt handler error", zap.Error(err))
			}
		}(h)
	}
	return nil
}

// take 移除待决中断，返回 nil 表示不存在或已处理
func (m *InterruptManager) take(interruptID string) *pendingInterrupt {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.pending[interruptID]
	if !ok {
		return nil
	}
	delete(m.pending, interruptID)
	if m.byConv[entry.interrupt.ConversationID] == interruptID {
		delete(m.byConv, entry.interrupt.ConversationID)
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	return entry
}

func (m *InterruptManager) restore(entry *pendingInterrupt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[entry.interrupt.ID] = entry
	m.byConv[entry.interrupt.ConversationID] = entry.interrupt.ID
}

func (m *InterruptManager) finish(ctx context.Context, interrupt *Interrupt, status InterruptStatus, resp *Response) {
	now := time.Now().UTC()
	interrupt.Status = status
	interrupt.ResolvedAt = &now
	if resp != nil {
		resp.Timestamp = now
		interrupt.Response = resp
	}
	if err := m.store.Update(ctx, interrupt); err != nil {
		m.logger.Error("failed to update interrupt", zap.String("id", interrupt.ID), zap.Error(err))
	}
}

// Resolve 提交人工输入并恢复会话。会话运行到下一次挂起或结束后返回，
// 返回值是 Continue 的结果。会话忙时中断重新待决；会话已不再挂起时
// 中断记为 canceled。
func (m *InterruptManager) Resolve(ctx context.Context, interruptID string, response Response) error {
	entry := m.take(interruptID)
	if entry == nil {
		return types.Errorf(types.ErrNotFound, "interrupt not found or already resolved: %s", interruptID)
	}

	m.finish(ctx, entry.interrupt, InterruptStatusResolved, &response)
	m.logger.Info("resolving interrupt",
		zap.String("id", interruptID),
		zap.String("conversation_id", entry.interrupt.ConversationID),
	)

	err := entry.conv.Continue(ctx, response.Input)
	switch {
	case types.IsCode(err, types.ErrBusy):
		entry.interrupt.Status = InterruptStatusPending
		entry.interrupt.ResolvedAt = nil
		entry.interrupt.Response = nil
		if uerr := m.store.Update(ctx, entry.interrupt); uerr != nil {
			m.logger.Error("failed to reopen interrupt", zap.String("id", interruptID), zap.Error(uerr))
		}
		m.restore(entry)
	case types.IsCode(err, types.ErrNotSuspended):
		// 会话已不在挂起状态，输入未被采用
		entry.interrupt.Response = nil
		m.finish(ctx, entry.interrupt, InterruptStatusCanceled, nil)
		m.logger.Warn("interrupt dropped, conversation no longer suspended",
			zap.String("id", interruptID),
			zap.String("conversation_id", entry.interrupt.ConversationID),
		)
	}
	return err
}

// Cancel 放弃中断；会话保持挂起，仍可直接 Continue
func (m *InterruptManager) Cancel(ctx context.Context, interruptID string) error {
	entry := m.take(interruptID)
	if entry == nil {
		return types.Errorf(types.ErrNotFound, "interrupt not found: %s", interruptID)
	}
	m.finish(ctx, entry.interrupt, InterruptStatusCanceled, nil)
	m.logger.Info("interrupt canceled", zap.String("id", interruptID))
	return nil
}

func (m *InterruptManager) expire(interruptID string) {
	entry := m.take(interruptID)
	if entry == nil {
		return
	}
	ctx := context.Background()
	m.finish(ctx, entry.interrupt, InterruptStatusTimeout, &Response{Input: m.timeoutInput})
	m.logger.Warn("interrupt timeout",
		zap.String("id", interruptID),
		zap.String("conversation_id", entry.interrupt.ConversationID),
	)
	if err := entry.conv.Continue(ctx, m.timeoutInput); err != nil {
		m.logger.Error("continue after timeout failed", zap.String("id", interruptID), zap.Error(err))
	}
}

func (m *InterruptManager) settleExternally(ctx context.Context, conversationID string, ev conversation.Event) {
	m.mu.RLock()
	id, ok := m.byConv[conversationID]
	var speaker string
	if ok {
		speaker = m.pending[id].interrupt.Speaker
	}
	m.mu.RUnlock()
	if !ok || ev.Turn.From != speaker {
		return
	}
	entry := m.take(id)
	if entry == nil {
		return
	}
	m.finish(ctx, entry.interrupt, InterruptStatusResolved, &Response{Input: ev.Turn.Content})
}

// Get 读取中断
func (m *InterruptManager) Get(ctx context.Context, interruptID string) (*Interrupt, error) {
	return m.store.Load(ctx, interruptID)
}

// List 按会话与状态查询中断记录，包括已处理的；空参数表示不过滤
func (m *InterruptManager) List(ctx context.Context, conversationID string, status InterruptStatus) ([]*Interrupt, error) {
	return m.store.List(ctx, conversationID, status)
}

// Pending 返回待决中断，conversationID 为空时返回全部，按创建时间排序
func (m *InterruptManager) Pending(conversationID string) []*Interrupt {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []*Interrupt
	for _, p := range m.pending {
		if conversationID == "" || p.interrupt.ConversationID == conversationID {
			cp := *p.interrupt
			results = append(results, &cp)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.Before(results[j].CreatedAt)
	})
	return results
}

// InMemoryInterruptStore 内存中断存储
type InMemoryInterruptStore struct {
	interrupts map[string]Interrupt
	mu         sync.RWMutex
}

// NewInMemoryInterruptStore 创建内存中断存储
func NewInMemoryInterruptStore() *InMemoryInterruptStore {
	return &InMemoryInterruptStore{
		interrupts: make(map[string]Interrupt),
	}
}

func (s *InMemoryInterruptStore) Save(ctx context.Context, interrupt *Interrupt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interrupts[interrupt.ID] = *interrupt
	return nil
}

func (s *InMemoryInterruptStore) Load(ctx context.Context, interruptID string) (*Interrupt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	interrupt, ok := s.interrupts[interruptID]
	if !ok {
		return nil, types.Errorf(types.ErrNotFound, "interrupt not found: %s", interruptID)
	}
	return &interrupt, nil
}

func (s *InMemoryInterruptStore) List(ctx context.Context, conversationID string, status InterruptStatus) ([]*Interrupt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*Interrupt
	for _, interrupt := range s.interrupts {
		if (conversationID == "" || interrupt.ConversationID == conversationID) &&
			(status == "" || interrupt.Status == status) {
			cp := interrupt
			results = append(results, &cp)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.Before(results[j].CreatedAt)
	})
	return results, nil
}

func (s *InMemoryInterruptStore) Update(ctx context.Context, interrupt *Interrupt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.interrupts[interrupt.ID]; !ok {
		return types.Errorf(types.ErrNotFound, "interrupt not found: %s", interrupt.ID)
	}
	s.interrupts[interrupt.ID] = *interrupt
	return nil
}
