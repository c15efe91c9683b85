// =============================================================================
// 📦 ChatFlow 配置结构与默认值
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/chatflow/agent/conversation"
	"github.com/BaSui01/chatflow/agent/participant"
	"github.com/BaSui01/chatflow/agent/persistence"
	"github.com/BaSui01/chatflow/internal/cache"
	"github.com/BaSui01/chatflow/internal/pool"
	"github.com/BaSui01/chatflow/llm/factory"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 ChatFlow 的完整配置结构
type Config struct {
	// Server HTTP 服务配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Conversation 对话拓扑与运行参数
	Conversation ConversationConfig `yaml:"conversation" env:"CONVERSATION"`

	// LLM 默认生成后端
	LLM factory.Config `yaml:"llm" env:"LLM"`

	// Redis 生成结果缓存（LLM.CacheTTL > 0 时启用）
	Redis cache.Config `yaml:"redis" env:"REDIS"`

	// Store 对话记录存储
	Store persistence.StoreConfig `yaml:"store" env:"STORE"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口（0 表示挂在主端口的 /metrics 上）
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	// 同时配置时 API 端口以 HTTPS 提供服务
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`

	// 配置文件轮询间隔，0 表示关闭热重载
	ReloadInterval time.Duration `yaml:"reload_interval" env:"RELOAD_INTERVAL"`

	// 每个客户端 IP 的请求速率，<= 0 表示不限流
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`

	// 允许的 API Key（X-API-Key 头），为空且未配置 JWT 时不鉴权
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`

	// CORS 允许的来源
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`

	// JWT 鉴权
	JWT JWTConfig `yaml:"jwt" env:"JWT"`
}

// JWTConfig JWT 鉴权配置（HMAC）
type JWTConfig struct {
	Secret   string `yaml:"secret" env:"SECRET"`
	Issuer   string `yaml:"issuer" env:"ISSUER"`
	Audience string `yaml:"audience" env:"AUDIENCE"`
}

// Enabled 是否配置了 JWT
func (j JWTConfig) Enabled() bool { return j.Secret != "" }

// ConversationConfig 对话定义
type ConversationConfig struct {
	// MaxRounds 单次运行追加的最大轮数（含种子）
	MaxRounds int `yaml:"max_rounds" env:"MAX_ROUNDS"`

	// DefaultInterrupt 未单独配置的参与者使用的打断策略: ALWAYS / NEVER / 空
	DefaultInterrupt string `yaml:"default_interrupt" env:"DEFAULT_INTERRUPT"`

	// InterruptTimeout 人工待办超时，超时后以终止哨兵继续；0 表示不超时
	InterruptTimeout time.Duration `yaml:"interrupt_timeout" env:"INTERRUPT_TIMEOUT"`

	// Async 异步运行（async=true 的请求）使用的 worker 池
	Async pool.Config `yaml:"async" env:"ASYNC"`

	// Participants 参与者列表（仅 YAML）
	Participants []ParticipantConfig `yaml:"participants"`

	// Routes 路由表：发送者 → 接收者或候选集合（仅 YAML）
	Routes map[string]RouteConfig `yaml:"routes"`
}

// ParticipantConfig 单个参与者
type ParticipantConfig struct {
	ID              string `yaml:"id"`
	Kind            string `yaml:"kind"`
	SystemRole      string `yaml:"system_role"`
	InterruptPolicy string `yaml:"interrupt_policy"`
	RoundLimit      int    `yaml:"round_limit"`

	// LLM 覆盖默认生成后端的部分字段
	LLM *factory.Override `yaml:"llm"`
}

// RouteConfig 路由项，To 与 OneOf 二选一
type RouteConfig struct {
	To    string   `yaml:"to"`
	OneOf []string `yaml:"one_of"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 📦 默认值
// =============================================================================

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:       DefaultServerConfig(),
		Conversation: DefaultConversationConfig(),
		LLM:          factory.DefaultConfig(),
		Redis:        cache.DefaultConfig(),
		Store:        persistence.DefaultStoreConfig(),
		Log:          DefaultLogConfig(),
		Telemetry:    DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    5 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
		ReloadInterval:  5 * time.Second,
		RateLimitRPS:    50,
		RateLimitBurst:  100,
	}
}

// DefaultConversationConfig 返回默认对话配置：一个人类代理与一个助手
func DefaultConversationConfig() ConversationConfig {
	return ConversationConfig{
		MaxRounds: conversation.DefaultMaxRounds,
		Async:     pool.DefaultConfig(),
		Participants: []ParticipantConfig{
			{ID: "user", Kind: string(participant.KindHumanProxy)},
			{ID: "assistant", Kind: string(participant.KindAgent), SystemRole: "You are a helpful assistant."},
		},
		Routes: map[string]RouteConfig{
			"user":      {To: "assistant"},
			"assistant": {To: "user"},
		},
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: true,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "chatflow",
		SampleRate:   0.1,
	}
}

// =============================================================================
// 🔍 校验
// =============================================================================

// Validate 校验配置，返回所有问题的合并错误
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid server.http_port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid server.metrics_port")
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, "server.tls_cert_file and server.tls_key_file must be set together")
	}
	if c.Server.MetricsPort != 0 && c.Server.MetricsPort == c.Server.HTTPPort {
		errs = append(errs, "server.metrics_port must differ from server.http_port")
	}

	if c.Conversation.MaxRounds < 0 {
		errs = append(errs, "conversation.max_rounds must be >= 0")
	}
	if _, err := participant.ParsePolicy(c.Conversation.DefaultInterrupt); err != nil {
		errs = append(errs, "conversation.default_interrupt: "+err.Error())
	}
	if c.Conversation.InterruptTimeout < 0 {
		errs = append(errs, "conversation.interrupt_timeout must be >= 0")
	}
	if c.Conversation.Async.MaxWorkers < 0 || c.Conversation.Async.QueueSize < 0 {
		errs = append(errs, "conversation.async sizes must be >= 0")
	}
	if len(c.Conversation.Participants) == 0 {
		errs = append(errs, "conversation.participants must not be empty")
	}

	if err := c.LLM.Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	if !knownStoreType(c.Store.Type) {
		errs = append(errs, fmt.Sprintf("unknown store.type %q", c.Store.Type))
	}
	for _, t := range c.Store.Mirror {
		if !knownStoreType(t) {
			errs = append(errs, fmt.Sprintf("unknown store.mirror type %q", t))
		}
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry.sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return errors.New("config validation errors: " + strings.Join(errs, "; "))
	}
	return nil
}

func knownStoreType(t persistence.StoreType) bool {
	switch t {
	case persistence.StoreTypeMemory, persistence.StoreTypeFile, persistence.StoreTypeRedis,
		persistence.StoreTypeSQL, persistence.StoreTypeMongo:
		return true
	}
	return false
}
