package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/chatflow/agent/conversation"
	"github.com/BaSui01/chatflow/agent/hitl"
	"github.com/BaSui01/chatflow/api"
	"github.com/BaSui01/chatflow/types"
)

// =============================================================================
// ✋ 中断 Handler
// =============================================================================

// InterruptHandler 人工中断处理器
type InterruptHandler struct {
	interrupts    *hitl.InterruptManager
	conversations *conversation.Manager
	runs          RunRecorder
	logger        *zap.Logger
}

// ResolveResult 应答中断后的结果
type ResolveResult struct {
	Interrupt    *hitl.Interrupt       `json:"interrupt"`
	Conversation *api.ConversationView `json:"conversation,omitempty"`
}

// NewInterruptHandler 创建中断处理器；runs 可以为 nil
func NewInterruptHandler(interrupts *hitl.InterruptManager, conversations *conversation.Manager, runs RunRecorder, logger *zap.Logger) *InterruptHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InterruptHandler{
		interrupts:    interrupts,
		conversations: conversations,
		runs:          runs,
		logger:        logger.With(zap.String("component", "interrupt_handler")),
	}
}

// Register 在 mux 上注册中断路由
func (h *InterruptHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/interrupts", h.HandleList)
	mux.HandleFunc("GET /api/v1/interrupts/{id}", h.HandleGet)
	mux.HandleFunc("POST /api/v1/interrupts/{id}/resolve", h.HandleResolve)
	mux.HandleFunc("POST /api/v1/interrupts/{id}/cancel", h.HandleCancel)
}

// HandleList 列出中断；不带 status 时只返回待决中断
// @Summary 中断列表
// @Tags 中断
// @Produce json
// @Param conversation_id query string false "按会话过滤"
// @Param status query string false "pending/resolved/timeout/canceled"
// @Success 200 {object} Response{data=[]hitl.Interrupt} "中断列表"
// @Router /api/v1/interrupts [get]
func (h *InterruptHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	conversationID := q.Get("conversation_id")
	status := hitl.InterruptStatus(q.Get("status"))

	var list []*hitl.Interrupt
	switch status {
	case "", hitl.InterruptStatusPending:
		list = h.interrupts.Pending(conversationID)
	case hitl.InterruptStatusResolved, hitl.InterruptStatusTimeout, hitl.InterruptStatusCanceled:
		var err error
		if list, err = h.interrupts.List(r.Context(), conversationID, status); err != nil {
			WriteError(w, types.NewError(types.ErrStoreUnavailable, "failed to list interrupts").WithCause(err), h.logger)
			return
		}
	default:
		WriteError(w, types.Errorf(types.ErrInvalidRequest, "unknown interrupt status %q", status), h.logger)
		return
	}

	if list == nil {
		list = []*hitl.Interrupt{}
	}
	WriteSuccess(w, list)
}

// HandleGet 查询单个中断
// @Summary 查询中断
// @Tags 中断
// @Produce json
// @Param id path string true "中断 ID"
// @Success 200 {object} Response{data=hitl.Interrupt} "中断"
// @Failure 404 {object} Response "中断不存在"
// @Router /api/v1/interrupts/{id} [get]
func (h *InterruptHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	interrupt, err := h.interrupts.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, interrupt)
}

// HandleResolve 提交人工输入并继续会话，会话运行到下一次挂起或结束后返回
// @Summary 应答中断
// @Tags 中断
// @Accept json
// @Produce json
// @Param id path string true "中断 ID"
// @Param request body api.ResolveInterruptRequest true "人工输入"
// @Success 200 {object} Response{data=ResolveResult} "应答结果"
// @Failure 404 {object} Response "中断不存在或已处理"
// @Router /api/v1/interrupts/{id}/resolve [post]
func (h *InterruptHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.ResolveInterruptRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	id := r.PathValue("id")
	interrupt, err := h.interrupts.Get(r.Context(), id)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	conv, _ := h.conversations.Get(interrupt.ConversationID)

	// 已认证调用方优先于请求体中的 user_id
	userID := req.UserID
	if uid, ok := types.UserID(r.Context()); ok {
		userID = uid
	}

	start := time.Now()
	err = h.interrupts.Resolve(r.Context(), id, hitl.Response{
		Input:     req.Input,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
	})
	if conv != nil && h.runs != nil && !types.IsCode(err, types.ErrNotFound) {
		h.runs.RecordRun("resolve", conv, time.Since(start), err)
	}
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	result := ResolveResult{}
	if result.Interrupt, err = h.interrupts.Get(r.Context(), id); err != nil {
		result.Interrupt = interrupt
	}
	if conv != nil {
		view := api.NewConversationView(conv, true)
		result.Conversation = &view
	}
	WriteSuccess(w, result)
}

// HandleCancel 放弃中断，会话保持挂起
// @Summary 取消中断
// @Tags 中断
// @Produce json
// @Param id path string true "中断 ID"
// @Success 200 {object} Response{data=hitl.Interrupt} "已取消"
// @Failure 404 {object} Response "中断不存在或已处理"
// @Router /api/v1/interrupts/{id}/cancel [post]
func (h *InterruptHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.interrupts.Cancel(r.Context(), id); err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	interrupt, err := h.interrupts.Get(r.Context(), id)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, interrupt)
}
