package providers

import (
	"time"

	"github.com/BaSui01/chatflow/internal/tlsutil"
)

// BaseProviderConfig 所有后端共享的连接配置
type BaseProviderConfig struct {
	APIKey      string          `json:"api_key" yaml:"api_key"`
	BaseURL     string          `json:"base_url" yaml:"base_url"`
	Model       string          `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout     time.Duration   `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	TLS         tlsutil.Options `json:"tls,omitempty" yaml:"tls,omitempty"`
}

// TimeoutOrDefault 未配置时返回 60s
func (c BaseProviderConfig) TimeoutOrDefault() time.Duration {
	if c.Timeout <= 0 {
		return 60 * time.Second
	}
	return c.Timeout
}

// MaxTokensOrDefault 未配置时返回 1024
func (c BaseProviderConfig) MaxTokensOrDefault() int {
	if c.MaxTokens <= 0 {
		return 1024
	}
	return c.MaxTokens
}
