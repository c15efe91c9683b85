package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/chatflow/agent/conversation"
	"github.com/BaSui01/chatflow/agent/hitl"
	"github.com/BaSui01/chatflow/agent/persistence"
	"github.com/BaSui01/chatflow/api/handlers"
	"github.com/BaSui01/chatflow/config"
	"github.com/BaSui01/chatflow/internal/cache"
	"github.com/BaSui01/chatflow/internal/metrics"
	"github.com/BaSui01/chatflow/internal/pool"
	"github.com/BaSui01/chatflow/internal/server"
	"github.com/BaSui01/chatflow/llm/factory"
)

// =============================================================================
// 🖥️ 应用装配
// =============================================================================

// App 持有一个进程内的全部组件：对话管理器、存储、待办、指标与 HTTP handler
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	registry   *prometheus.Registry
	collector  *metrics.Collector
	cache      *cache.Manager
	deps       factory.Deps
	store      persistence.TranscriptStore
	recorder   *persistence.Recorder
	interrupts *hitl.InterruptManager
	manager    *conversation.Manager
	runner     *pool.Runner

	conversations *handlers.ConversationHandler
	health        *handlers.HealthHandler
}

// NewApp 按配置装配组件；ctx 用于连接存储与缓存，并作为异步运行的基础上下文
func NewApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.collector = metrics.NewCollectorWith("chatflow", a.registry, logger)

	// 生成结果缓存是可选的，Redis 不可用时降级为不缓存
	a.deps = factory.Deps{Observer: a.collector, Logger: logger}
	if cfg.LLM.CacheTTL > 0 {
		cm, err := cache.NewManager(cfg.Redis, logger)
		if err != nil {
			logger.Warn("generation cache unavailable, continuing without it", zap.Error(err))
		} else {
			a.cache = cm
			a.deps.Cache = cm
		}
	}

	def, err := cfg.BuildDefinition(factory.NewResolver(cfg.LLM, a.deps))
	if err != nil {
		a.closeCache()
		return nil, fmt.Errorf("build conversation definition: %w", err)
	}
	if a.manager, err = conversation.NewManager(def, logger); err != nil {
		a.closeCache()
		return nil, err
	}

	if a.store, err = persistence.NewTranscriptStore(ctx, cfg.Store, logger); err != nil {
		a.closeCache()
		return nil, fmt.Errorf("open transcript store: %w", err)
	}
	a.recorder = persistence.NewRecorder(a.store, logger,
		persistence.WithRecorderObserver(a.collector.RecordStoreWrite))

	var hitlOpts []hitl.ManagerOption
	if cfg.Conversation.InterruptTimeout > 0 {
		hitlOpts = append(hitlOpts, hitl.WithTimeout(cfg.Conversation.InterruptTimeout))
	}
	a.interrupts = hitl.NewInterruptManager(nil, logger, hitlOpts...)
	a.interrupts.RegisterHandler(func(_ context.Context, in *hitl.Interrupt) error {
		logger.Info("awaiting human input",
			zap.String("interrupt_id", in.ID),
			zap.String("conversation_id", in.ConversationID),
			zap.String("speaker", in.Speaker),
		)
		return nil
	})

	// 订阅顺序即事件处理顺序：先落盘，再建待办，最后计数
	a.manager.OnCreate(a.recorder.Hook())
	a.manager.OnCreate(a.interrupts.Hook())
	a.manager.OnCreate(a.collector.Hook())

	a.runner = pool.New(cfg.Conversation.Async, logger)
	a.conversations = handlers.NewConversationHandler(a.manager, logger,
		handlers.WithTranscriptStore(a.store),
		handlers.WithRunRecorder(a.collector),
		handlers.WithRunner(a.runner),
		handlers.WithBaseContext(ctx),
	)

	a.health = handlers.NewHealthHandler(logger)
	a.health.RegisterCheck(handlers.NewPingCheck("transcript_store", a.store.Ping))
	if a.cache != nil {
		a.health.RegisterCheck(handlers.NewPingCheck("generation_cache", a.cache.Ping))
	}
	a.health.SetStats(func() map[string]int {
		stats := map[string]int{"conversations": a.manager.Len()}
		rs := a.runner.Stats()
		stats["async_active"] = rs.Active
		stats["async_queued"] = rs.Queued
		return stats
	})

	return a, nil
}

// Manager 返回对话管理器
func (a *App) Manager() *conversation.Manager { return a.manager }

// Interrupts 返回待办管理器
func (a *App) Interrupts() *hitl.InterruptManager { return a.interrupts }

// Reload 在配置热重载时重建对话定义；已存在的会话不受影响
func (a *App) Reload(old, updated *config.Config) error {
	def, err := updated.BuildDefinition(factory.NewResolver(updated.LLM, a.deps))
	if err != nil {
		return err
	}
	if err := a.manager.SetDefinition(def); err != nil {
		return err
	}
	a.logger.Info("conversation definition reloaded",
		zap.Int("participants", len(updated.Conversation.Participants)),
		zap.Int("max_rounds", updated.Conversation.MaxRounds),
	)
	return nil
}

// =============================================================================
// 🌐 HTTP
// =============================================================================

// publicPaths 不需要鉴权的路径
var publicPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}

// Routes 注册全部 API 路由（不含中间件）
func (a *App) Routes(withMetrics bool) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", a.health.HandleHealth)
	mux.HandleFunc("GET /healthz", a.health.HandleHealthz)
	mux.HandleFunc("GET /ready", a.health.HandleReady)
	mux.HandleFunc("GET /readyz", a.health.HandleReady)
	mux.HandleFunc("GET /version", a.health.HandleVersion(Version, BuildTime, GitCommit))

	a.conversations.Register(mux)
	handlers.NewInterruptHandler(a.interrupts, a.manager, a.collector, a.logger).Register(mux)
	handlers.NewEventsHandler(a.manager, a.logger,
		handlers.WithOriginPatterns(a.cfg.Server.CORSAllowedOrigins...),
	).Register(mux)

	if withMetrics {
		mux.Handle("GET /metrics", a.MetricsHandler())
	}
	return mux
}

// Handler 返回带完整中间件链的 API handler；ctx 控制限流器清理协程
func (a *App) Handler(ctx context.Context) http.Handler {
	srv := a.cfg.Server
	mws := []Middleware{
		Recovery(a.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		MetricsMiddleware(a.collector),
		RequestLogger(a.logger),
		CORS(srv.CORSAllowedOrigins),
	}
	if srv.RateLimitRPS > 0 {
		burst := srv.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		mws = append(mws, RateLimiter(ctx, srv.RateLimitRPS, burst, a.logger))
	}
	mws = append(mws, Auth(srv.APIKeys, srv.JWT, publicPaths, a.logger))

	return Chain(a.Routes(srv.MetricsPort == 0), mws...)
}

// MetricsHandler 暴露本应用注册表中的指标
func (a *App) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry})
}

// Servers 返回 API 与（可选的）独立指标服务器
func (a *App) Servers(ctx context.Context) []*server.Manager {
	srv := a.cfg.Server
	apiCfg := server.DefaultConfig()
	apiCfg.Addr = ":" + strconv.Itoa(srv.HTTPPort)
	apiCfg.ReadTimeout = srv.ReadTimeout
	apiCfg.WriteTimeout = srv.WriteTimeout
	apiCfg.ShutdownTimeout = srv.ShutdownTimeout
	apiCfg.CertFile = srv.TLSCertFile
	apiCfg.KeyFile = srv.TLSKeyFile

	managers := []*server.Manager{server.NewManager("api", a.Handler(ctx), apiCfg, a.logger)}
	if srv.MetricsPort != 0 {
		metricsCfg := server.DefaultConfig()
		metricsCfg.Addr = ":" + strconv.Itoa(srv.MetricsPort)
		metricsCfg.ShutdownTimeout = srv.ShutdownTimeout
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", a.MetricsHandler())
		managers = append(managers, server.NewManager("metrics", mux, metricsCfg, a.logger))
	}
	return managers
}

// =============================================================================
// 🛑 关闭
// =============================================================================

// Close 等待后台运行结束并释放存储与缓存
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.runner.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("async runner: %w", err))
	} else {
		a.conversations.Wait()
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("transcript store: %w", err))
	}
	if err := a.closeCache(); err != nil {
		errs = append(errs, fmt.Errorf("generation cache: %w", err))
	}
	return errors.Join(errs...)
}

func (a *App) closeCache() error {
	if a.cache == nil {
		return nil
	}
	return a.cache.Close()
}
