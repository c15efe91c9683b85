// Package factory builds generation gateways from configuration. It imports
// every provider sub-package and maps backend names to their constructors,
// so the llm package itself stays free of provider dependencies.
package factory

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/chatflow/internal/tlsutil"
	"github.com/BaSui01/chatflow/llm"
	"github.com/BaSui01/chatflow/llm/circuitbreaker"
	"github.com/BaSui01/chatflow/llm/providers"
	"github.com/BaSui01/chatflow/llm/providers/anthropic"
	"github.com/BaSui01/chatflow/llm/providers/openai"
	"github.com/BaSui01/chatflow/llm/providers/openaicompat"
	"github.com/BaSui01/chatflow/llm/retry"
	"github.com/BaSui01/chatflow/types"
)

// Config describes one generation backend and the decorators around it.
type Config struct {
	Provider     string          `json:"provider" yaml:"provider" env:"PROVIDER"`
	APIKey       string          `json:"api_key" yaml:"api_key" env:"API_KEY"`
	BaseURL      string          `json:"base_url,omitempty" yaml:"base_url,omitempty" env:"BASE_URL"`
	Model        string          `json:"model,omitempty" yaml:"model,omitempty" env:"MODEL"`
	Organization string          `json:"organization,omitempty" yaml:"organization,omitempty" env:"ORGANIZATION"`
	EndpointPath string          `json:"endpoint_path,omitempty" yaml:"endpoint_path,omitempty" env:"ENDPOINT_PATH"`
	Timeout      time.Duration   `json:"timeout,omitempty" yaml:"timeout,omitempty" env:"TIMEOUT"`
	MaxTokens    int             `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty" env:"MAX_TOKENS"`
	Temperature  *float64        `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	TLS          tlsutil.Options `json:"tls,omitempty" yaml:"tls,omitempty"`

	// 重试
	MaxRetries        int           `json:"max_retries" yaml:"max_retries" env:"MAX_RETRIES"`
	RetryInitialDelay time.Duration `json:"retry_initial_delay" yaml:"retry_initial_delay" env:"RETRY_INITIAL_DELAY"`
	RetryMaxDelay     time.Duration `json:"retry_max_delay" yaml:"retry_max_delay" env:"RETRY_MAX_DELAY"`

	// 限流（RateLimitRPS <= 0 表示不限流）
	RateLimitRPS   float64 `json:"rate_limit_rps" yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `json:"rate_limit_burst" yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`

	// 缓存（需要 Deps.Cache，CacheTTL <= 0 表示关闭）
	CacheTTL       time.Duration `json:"cache_ttl" yaml:"cache_ttl" env:"CACHE_TTL"`
	CacheNamespace string        `json:"cache_namespace,omitempty" yaml:"cache_namespace,omitempty" env:"CACHE_NAMESPACE"`

	// 熔断（FailureThreshold <= 0 表示关闭）
	CircuitBreaker circuitbreaker.Config `json:"circuit_breaker" yaml:"circuit_breaker" env:"CIRCUIT_BREAKER"`

	Tracing bool `json:"tracing" yaml:"tracing" env:"TRACING"`
}

// DefaultConfig returns the backend defaults.
func DefaultConfig() Config {
	return Config{
		Provider:          "openai",
		Timeout:           60 * time.Second,
		MaxTokens:         1024,
		MaxRetries:        2,
		RetryInitialDelay: 500 * time.Millisecond,
		RetryMaxDelay:     10 * time.Second,
		Tracing:           true,
	}
}

// Override replaces selected backend fields for a single participant.
type Override struct {
	Provider    string   `json:"provider,omitempty" yaml:"provider,omitempty"`
	APIKey      string   `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	BaseURL     string   `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Model       string   `json:"model,omitempty" yaml:"model,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
}

// Merge returns a copy of c with the non-zero fields of o applied. A change
// of provider drops the inherited base URL and model, which belong to the
// old backend.
func (c Config) Merge(o *Override) Config {
	if o == nil {
		return c
	}
	if o.Provider != "" && !sameProvider(o.Provider, c.Provider) {
		c.Provider = o.Provider
		c.BaseURL = ""
		c.Model = ""
		c.Organization = ""
		c.EndpointPath = ""
	}
	if o.APIKey != "" {
		c.APIKey = o.APIKey
	}
	if o.BaseURL != "" {
		c.BaseURL = o.BaseURL
	}
	if o.Model != "" {
		c.Model = o.Model
	}
	if o.MaxTokens > 0 {
		c.MaxTokens = o.MaxTokens
	}
	if o.Temperature != nil {
		t := *o.Temperature
		c.Temperature = &t
	}
	return c
}

// Key identifies the effective backend configuration.
func (c Config) Key() string {
	temp := "-"
	if c.Temperature != nil {
		temp = fmt.Sprintf("%g", *c.Temperature)
	}
	return strings.Join([]string{
		normalizeProvider(c.Provider), c.BaseURL, c.Model, c.APIKey,
		fmt.Sprint(c.MaxTokens), temp,
	}, "|")
}

// Validate checks the fields NewProvider cannot default.
func (c Config) Validate() error {
	if c.Provider == "" {
		return types.NewError(types.ErrConfiguration, "llm.provider is required")
	}
	switch normalizeProvider(c.Provider) {
	case "openai", "anthropic":
	default:
		if c.BaseURL == "" {
			return types.Errorf(types.ErrConfiguration, "llm provider %q needs base_url", c.Provider)
		}
		if c.Model == "" {
			return types.Errorf(types.ErrConfiguration, "llm provider %q needs model", c.Provider)
		}
	}
	if c.RateLimitRPS < 0 {
		return types.NewError(types.ErrConfiguration, "llm.rate_limit_rps must not be negative")
	}
	return nil
}

func normalizeProvider(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "claude" {
		return "anthropic"
	}
	return name
}

func sameProvider(a, b string) bool { return normalizeProvider(a) == normalizeProvider(b) }

// NewProvider creates the bare backend named by cfg.Provider.
//
// Supported names: openai, anthropic, claude. Any other name is treated as an
// OpenAI-compatible endpoint and needs base_url and model.
func NewProvider(cfg Config, logger *zap.Logger) (llm.Gateway, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base := providers.BaseProviderConfig{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		Timeout:     cfg.Timeout,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		TLS:         cfg.TLS,
	}

	var (
		g   llm.Gateway
		err error
	)
	switch normalizeProvider(cfg.Provider) {
	case "openai":
		var p *openai.Provider
		if p, err = openai.New(openai.Config{BaseProviderConfig: base, Organization: cfg.Organization}, logger); err == nil {
			g = p
		}
	case "anthropic":
		var p *anthropic.Provider
		if p, err = anthropic.New(anthropic.Config{BaseProviderConfig: base}, logger); err == nil {
			g = p
		}
	default:
		var p *openaicompat.Provider
		p, err = openaicompat.New(openaicompat.Config{
			BaseProviderConfig: base,
			ProviderName:       normalizeProvider(cfg.Provider),
			EndpointPath:       cfg.EndpointPath,
		}, logger)
		if err == nil {
			g = p
		}
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

// Deps carries the shared collaborators of every built gateway.
type Deps struct {
	Cache    llm.ResponseCache
	Observer llm.Observer
	Logger   *zap.Logger
}

// New builds the decorated gateway for cfg. Decorators run outermost first:
// tracing, observer, cache, circuit breaker, rate limit, retry.
func New(cfg Config, deps Deps) (llm.Gateway, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	provider, err := NewProvider(cfg, logger)
	if err != nil {
		return nil, err
	}

	backend := normalizeProvider(cfg.Provider)
	var mws []llm.Middleware
	if cfg.Tracing {
		mws = append(mws, llm.WithTracing(backend))
	}
	if deps.Observer != nil {
		mws = append(mws, llm.WithObserver(deps.Observer, backend))
	}
	if deps.Cache != nil && cfg.CacheTTL > 0 {
		ns := cfg.CacheNamespace
		if ns == "" {
			ns = "chatflow:gen:" + backend
		}
		mws = append(mws, llm.WithCache(deps.Cache, ns, cfg.CacheTTL, logger))
	}
	if cfg.CircuitBreaker.FailureThreshold > 0 {
		mws = append(mws, llm.WithCircuitBreaker(circuitbreaker.New(backend, cfg.CircuitBreaker, logger)))
	}
	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		mws = append(mws, llm.WithRateLimit(rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)))
	}
	if cfg.MaxRetries > 0 {
		policy := retry.Policy{
			MaxRetries:   cfg.MaxRetries,
			InitialDelay: cfg.RetryInitialDelay,
			MaxDelay:     cfg.RetryMaxDelay,
			Multiplier:   2,
			Jitter:       true,
		}
		mws = append(mws, llm.WithRetry(retry.NewBackoffRetryer(policy, logger)))
	}

	logger.Info("generation backend ready",
		zap.String("provider", backend),
		zap.String("model", cfg.Model),
		zap.Int("middlewares", len(mws)),
	)
	return llm.Chain(provider, mws...), nil
}

// Resolver builds gateways on demand and shares one instance per effective
// configuration, so participants on the same backend share its rate limiter
// and circuit breaker.
type Resolver struct {
	base Config
	deps Deps

	mu       sync.Mutex
	gateways map[string]llm.Gateway
}

// NewResolver creates a resolver around the default backend configuration.
func NewResolver(base Config, deps Deps) *Resolver {
	return &Resolver{base: base, deps: deps, gateways: make(map[string]llm.Gateway)}
}

// Default returns the gateway of the base configuration.
func (r *Resolver) Default() (llm.Gateway, error) {
	return r.Resolve(nil)
}

// Resolve returns the gateway for base merged with o.
func (r *Resolver) Resolve(o *Override) (llm.Gateway, error) {
	cfg := r.base.Merge(o)
	key := cfg.Key()

	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gateways[key]; ok {
		return g, nil
	}
	g, err := New(cfg, r.deps)
	if err != nil {
		return nil, err
	}
	r.gateways[key] = g
	return g, nil
}

// Len reports how many distinct gateways have been built.
func (r *Resolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.gateways)
}
