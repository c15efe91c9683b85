package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/chatflow/agent/conversation"
	"github.com/BaSui01/chatflow/agent/persistence"
	"github.com/BaSui01/chatflow/agent/transcript"
	"github.com/BaSui01/chatflow/api"
	"github.com/BaSui01/chatflow/internal/pool"
	"github.com/BaSui01/chatflow/types"
)

// =============================================================================
// 💬 会话 Handler
// =============================================================================

// RunRecorder 记录一次 Start/Continue 的结果，由 metrics.Collector 实现
type RunRecorder interface {
	RecordRun(operation string, conv *conversation.Conversation, duration time.Duration, err error)
}

// ConversationOption 配置 ConversationHandler
type ConversationOption func(*ConversationHandler)

// WithTranscriptStore 启用 resume 与已结束会话的记录查询
func WithTranscriptStore(store persistence.TranscriptStore) ConversationOption {
	return func(h *ConversationHandler) { h.store = store }
}

// WithRunRecorder 设置运行结果记录器
func WithRunRecorder(r RunRecorder) ConversationOption {
	return func(h *ConversationHandler) { h.runs = r }
}

// WithRunner 设置异步运行使用的 worker 池
func WithRunner(r *pool.Runner) ConversationOption {
	return func(h *ConversationHandler) { h.runner = r }
}

// WithBaseContext 设置异步运行使用的上下文，取消它会中止后台运行
func WithBaseContext(ctx context.Context) ConversationOption {
	return func(h *ConversationHandler) { h.baseCtx = ctx }
}

// ConversationHandler 会话处理器
type ConversationHandler struct {
	manager *conversation.Manager
	store   persistence.TranscriptStore
	runs    RunRecorder
	runner  *pool.Runner
	baseCtx context.Context
	logger  *zap.Logger

	background sync.WaitGroup
}

// NewConversationHandler 创建会话处理器
func NewConversationHandler(manager *conversation.Manager, logger *zap.Logger, opts ...ConversationOption) *ConversationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &ConversationHandler{
		manager: manager,
		baseCtx: context.Background(),
		logger:  logger.With(zap.String("component", "conversation_handler")),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.runner == nil {
		h.runner = pool.New(pool.DefaultConfig(), logger)
	}
	return h
}

// Register 在 mux 上注册会话路由
func (h *ConversationHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/conversations", h.HandleCreate)
	mux.HandleFunc("GET /api/v1/conversations", h.HandleList)
	mux.HandleFunc("GET /api/v1/conversations/{id}", h.HandleGet)
	mux.HandleFunc("DELETE /api/v1/conversations/{id}", h.HandleDelete)
	mux.HandleFunc("POST /api/v1/conversations/{id}/continue", h.HandleContinue)
	mux.HandleFunc("GET /api/v1/conversations/{id}/transcript", h.HandleTranscript)
}

// Wait 等待所有异步运行结束
func (h *ConversationHandler) Wait() {
	h.background.Wait()
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleCreate 创建会话并以种子消息启动
// @Summary 创建会话
// @Description 创建会话并运行到挂起或结束；async=true 时立即返回 202
// @Tags 会话
// @Accept json
// @Produce json
// @Param request body api.CreateConversationRequest true "创建请求"
// @Success 200 {object} Response{data=api.ConversationView} "运行结果"
// @Success 202 {object} Response{data=api.ConversationView} "已在后台启动"
// @Failure 400 {object} Response "无效请求"
// @Failure 404 {object} Response "resume 时记录不存在"
// @Failure 502 {object} Response "生成失败"
// @Router /api/v1/conversations [post]
func (h *ConversationHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.CreateConversationRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	if err := validateCreateRequest(&req); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	opts := make([]conversation.CreateOption, 0, 3)
	if req.ID != "" {
		opts = append(opts, conversation.WithID(req.ID))
	}
	if req.MaxRounds > 0 {
		opts = append(opts, conversation.WithMaxRounds(req.MaxRounds))
	}
	if req.Resume {
		prior, err := h.resume(r.Context(), req.ID)
		if err != nil {
			WriteAnyError(w, err, h.logger)
			return
		}
		opts = append(opts, conversation.WithTranscript(prior))
	}

	conv, err := h.manager.Create(opts...)
	if err != nil {
		if types.IsCode(err, types.ErrInvalidRequest) {
			apiErr, _ := types.AsError(err)
			WriteError(w, apiErr.WithHTTPStatus(http.StatusConflict), h.logger)
			return
		}
		WriteAnyError(w, err, h.logger)
		return
	}

	seed := transcript.NewTurn(req.From, req.To, req.Content)
	start := func(ctx context.Context) error { return conv.Start(ctx, seed) }

	if req.Async {
		if err := h.runAsync("start", conv, start); err != nil {
			h.manager.Remove(conv.ID())
			WriteAnyError(w, err, h.logger)
			return
		}
		WriteJSON(w, http.StatusAccepted, Response{
			Success:   true,
			Data:      api.NewConversationView(conv, false),
			Timestamp: time.Now(),
		})
		return
	}

	if err := h.run(r.Context(), "start", conv, start); err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.NewConversationView(conv, true))
}

// HandleContinue 恢复挂起的会话
// @Summary 继续会话
// @Description 非空 feedback 作为待发言者的消息追加；空 feedback 交给模型生成
// @Tags 会话
// @Accept json
// @Produce json
// @Param id path string true "会话 ID"
// @Param request body api.ContinueRequest true "继续请求"
// @Success 200 {object} Response{data=api.ConversationView} "运行结果"
// @Failure 404 {object} Response "会话不存在"
// @Failure 409 {object} Response "会话未挂起或正在运行"
// @Router /api/v1/conversations/{id}/continue [post]
func (h *ConversationHandler) HandleContinue(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req api.ContinueRequest
	if r.ContentLength != 0 {
		if !ValidateContentType(w, r, h.logger) {
			return
		}
		if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
			return
		}
	}

	cont := func(ctx context.Context) error { return conv.Continue(ctx, req.Feedback) }

	if req.Async {
		if conv.Status() != conversation.StatusSuspended {
			WriteError(w, types.Errorf(types.ErrNotSuspended, "conversation is %s, not suspended", conv.Status()), h.logger)
			return
		}
		if err := h.runAsync("continue", conv, cont); err != nil {
			WriteAnyError(w, err, h.logger)
			return
		}
		WriteJSON(w, http.StatusAccepted, Response{
			Success:   true,
			Data:      api.NewConversationView(conv, false),
			Timestamp: time.Now(),
		})
		return
	}

	if err := h.run(r.Context(), "continue", conv, cont); err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.NewConversationView(conv, true))
}

// HandleGet 查询会话状态与记录
// @Summary 查询会话
// @Tags 会话
// @Produce json
// @Param id path string true "会话 ID"
// @Success 200 {object} Response{data=api.ConversationView} "会话状态"
// @Failure 404 {object} Response "会话不存在"
// @Router /api/v1/conversations/{id} [get]
func (h *ConversationHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.lookup(w, r)
	if !ok {
		return
	}
	WriteSuccess(w, api.NewConversationView(conv, true))
}

// HandleList 列出会话，可按 status 过滤
// @Summary 会话列表
// @Tags 会话
// @Produce json
// @Param status query string false "按状态过滤"
// @Success 200 {object} Response{data=api.ConversationList} "会话列表"
// @Router /api/v1/conversations [get]
func (h *ConversationHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	filter := conversation.Status(r.URL.Query().Get("status"))

	list := api.ConversationList{Conversations: make([]api.ConversationView, 0)}
	for _, conv := range h.manager.List() {
		if filter != "" && conv.Status() != filter {
			continue
		}
		list.Conversations = append(list.Conversations, api.NewConversationView(conv, false))
	}
	list.Total = len(list.Conversations)

	WriteSuccess(w, list)
}

// HandleDelete 移除会话；purge=true 时同时删除持久化记录
// @Summary 删除会话
// @Tags 会话
// @Produce json
// @Param id path string true "会话 ID"
// @Param purge query bool false "删除持久化记录"
// @Success 200 {object} Response "已删除"
// @Failure 404 {object} Response "会话不存在"
// @Failure 409 {object} Response "会话正在运行"
// @Router /api/v1/conversations/{id} [delete]
func (h *ConversationHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if conv.Status() == conversation.StatusRunning {
		WriteError(w, types.NewError(types.ErrBusy, "conversation step in progress"), h.logger)
		return
	}

	h.manager.Remove(conv.ID())
	if h.store != nil && r.URL.Query().Get("purge") == "true" {
		if err := h.store.Delete(r.Context(), conv.ID()); err != nil && !errors.Is(err, persistence.ErrNotFound) {
			WriteError(w, types.NewError(types.ErrStoreUnavailable, "failed to delete transcript").WithCause(err), h.logger)
			return
		}
	}

	h.logger.Info("conversation removed", zap.String("conversation_id", conv.ID()))
	WriteSuccess(w, map[string]string{"id": conv.ID()})
}

// HandleTranscript 返回会话记录；内存中不存在时回退到持久化存储
// @Summary 会话记录
// @Tags 会话
// @Produce json
// @Param id path string true "会话 ID"
// @Success 200 {object} Response{data=api.TranscriptResponse} "会话记录"
// @Failure 404 {object} Response "会话不存在"
// @Router /api/v1/conversations/{id}/transcript [get]
func (h *ConversationHandler) HandleTranscript(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if conv, ok := h.manager.Get(id); ok {
		WriteSuccess(w, api.TranscriptResponse{
			ConversationID: id,
			Source:         "memory",
			Turns:          conv.Transcript(),
		})
		return
	}

	if h.store == nil {
		WriteError(w, types.Errorf(types.ErrNotFound, "conversation not found: %s", id), h.logger)
		return
	}
	turns, err := h.store.Load(r.Context(), id)
	if err != nil {
		WriteAnyError(w, storeError(id, err), h.logger)
		return
	}
	WriteSuccess(w, api.TranscriptResponse{
		ConversationID: id,
		Source:         "store",
		Turns:          turns,
	})
}

// =============================================================================
// 🔧 内部方法
// =============================================================================

func validateCreateRequest(req *api.CreateConversationRequest) *types.Error {
	if req.From == "" || req.To == "" {
		return types.NewError(types.ErrInvalidRequest, "from and to are required")
	}
	if req.MaxRounds < 0 {
		return types.NewError(types.ErrInvalidRequest, "max_rounds must be >= 0")
	}
	if req.ID != "" {
		if err := persistence.ValidateConversationID(req.ID); err != nil {
			return types.Errorf(types.ErrInvalidRequest, "invalid conversation id %q", req.ID)
		}
	}
	if req.Resume && req.ID == "" {
		return types.NewError(types.ErrInvalidRequest, "resume requires an id")
	}
	return nil
}

func (h *ConversationHandler) resume(ctx context.Context, id string) (*transcript.Transcript, error) {
	if h.store == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "resume needs a transcript store")
	}
	prior, err := persistence.Resume(ctx, h.store, id)
	if err != nil {
		return nil, storeError(id, err)
	}
	return prior, nil
}

func storeError(id string, err error) error {
	if errors.Is(err, persistence.ErrNotFound) {
		return types.Errorf(types.ErrNotFound, "transcript not found: %s", id)
	}
	if errors.Is(err, persistence.ErrInvalidInput) {
		return types.Errorf(types.ErrInvalidRequest, "invalid conversation id %q", id)
	}
	return types.NewError(types.ErrStoreUnavailable, "failed to load transcript").WithCause(err)
}

func (h *ConversationHandler) lookup(w http.ResponseWriter, r *http.Request) (*conversation.Conversation, bool) {
	id := r.PathValue("id")
	conv, ok := h.manager.Get(id)
	if !ok {
		WriteError(w, types.Errorf(types.ErrNotFound, "conversation not found: %s", id), h.logger)
		return nil, false
	}
	return conv, true
}

func (h *ConversationHandler) run(ctx context.Context, operation string, conv *conversation.Conversation, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	if h.runs != nil {
		h.runs.RecordRun(operation, conv, time.Since(start), err)
	}
	return err
}

func (h *ConversationHandler) runAsync(operation string, conv *conversation.Conversation, fn func(context.Context) error) error {
	h.background.Add(1)
	err := h.runner.Submit(h.baseCtx, func(ctx context.Context) error {
		defer h.background.Done()
		err := h.run(ctx, operation, conv, fn)
		if err != nil {
			h.logger.Warn("background run ended with error",
				zap.String("conversation_id", conv.ID()),
				zap.String("operation", operation),
				zap.Error(err),
			)
		}
		return err
	})
	if err != nil {
		h.background.Done()
	}
	return err
}
