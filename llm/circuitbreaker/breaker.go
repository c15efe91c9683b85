package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/chatflow/types"
)

// State 熔断器状态
type State int

const (
	// StateClosed 关闭状态（正常放行）
	StateClosed State = iota
	// StateOpen 打开状态（拒绝调用）
	StateOpen
	// StateHalfOpen 半开状态（试探恢复）
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config 熔断器配置
type Config struct {
	// FailureThreshold 连续失败次数阈值
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`

	// OpenTimeout 打开后多久进入半开
	OpenTimeout time.Duration `json:"open_timeout" yaml:"open_timeout" env:"OPEN_TIMEOUT"`

	// HalfOpenMaxCalls 半开状态允许的试探调用数
	HalfOpenMaxCalls int `json:"half_open_max_calls" yaml:"half_open_max_calls" env:"HALF_OPEN_MAX_CALLS"`

	// OnStateChange 状态变更回调（同步调用，不得阻塞）
	OnStateChange func(name string, from, to State) `json:"-" yaml:"-"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// ErrOpen 熔断打开时返回，不可重试。
var ErrOpen = types.NewError(types.ErrServiceUnavailable, "circuit breaker is open").WithRetryable(false)

// Breaker 以连续失败计数为依据的熔断器，每个生成后端一个实例。
type Breaker struct {
	name   string
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	inFlight int
}

// New 创建熔断器，零值字段使用默认配置。
func New(name string, cfg Config, logger *zap.Logger) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		name:   name,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "circuit_breaker"), zap.String("backend", name)),
		now:    time.Now,
	}
}

// State 返回当前状态（会推进已到期的打开状态）。
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	return b.state
}

// Allow 判断能否发起调用。返回 nil 时调用方必须随后调用 Record。
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()

	switch b.state {
	case StateOpen:
		return ErrOpen
	case StateHalfOpen:
		if b.inFlight >= b.cfg.HalfOpenMaxCalls {
			return ErrOpen
		}
	}
	b.inFlight++
	return nil
}

// Record 记录一次调用结果。
// 调用方取消与不可重试的 types.Error（请求本身有误）不计入失败。
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inFlight > 0 {
		b.inFlight--
	}

	if err != nil && countsAsFailure(err) {
		b.failures++
		switch {
		case b.state == StateHalfOpen:
			b.transition(StateOpen)
		case b.state == StateClosed && b.failures >= b.cfg.FailureThreshold:
			b.logger.Warn("circuit opened", zap.Int("failures", b.failures), zap.Error(err))
			b.transition(StateOpen)
		}
		return
	}

	b.failures = 0
	if b.state == StateHalfOpen {
		b.logger.Info("circuit recovered")
		b.transition(StateClosed)
	}
}

// Reset 手动恢复到关闭状态。
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.inFlight = 0
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
}

// Execute 在熔断器保护下执行 fn。
func Execute[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.Allow(); err != nil {
		return zero, err
	}
	out, err := fn(ctx)
	b.Record(err)
	if err != nil {
		return zero, err
	}
	return out, nil
}

// advance 打开超时后进入半开，调用方需持锁。
func (b *Breaker) advance() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.OpenTimeout {
		b.inFlight = 0
		b.transition(StateHalfOpen)
	}
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if to == StateOpen {
		b.openedAt = b.now()
	}
	if to == StateClosed {
		b.failures = 0
	}
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, to)
	}
}

func countsAsFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if te, ok := types.AsError(err); ok && !te.Retryable {
		return te.Code == types.ErrGenerationFailed || te.Code == types.ErrInternalError
	}
	return true
}
