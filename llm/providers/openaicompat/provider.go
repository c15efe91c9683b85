// =============================================================================
// OpenAI-Compatible Chat Completions Gateway
// =============================================================================
// Plain net/http implementation shared by every OpenAI-compatible backend.
// Backends differ only in name, base URL, default model and auth headers.
// =============================================================================

package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/chatflow/internal/tlsutil"
	"github.com/BaSui01/chatflow/llm/providers"
	"github.com/BaSui01/chatflow/types"
)

// Config holds the configuration for an OpenAI-compatible backend.
type Config struct {
	providers.BaseProviderConfig `yaml:",inline"`

	// ProviderName appears in errors and logs (e.g. "deepseek").
	ProviderName string `json:"provider_name" yaml:"provider_name"`

	// EndpointPath defaults to "/v1/chat/completions".
	EndpointPath string `json:"endpoint_path,omitempty" yaml:"endpoint_path,omitempty"`

	// BuildHeaders overrides the default "Authorization: Bearer" header.
	BuildHeaders func(req *http.Request, apiKey string) `json:"-" yaml:"-"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Name    string `json:"name,omitempty"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int         `json:"index"`
		FinishReason string      `json:"finish_reason"`
		Message      chatMessage `json:"message"`
	} `json:"choices"`
}

// Provider is an llm.Gateway over an OpenAI-compatible HTTP API.
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New creates a provider; BaseURL and Model are required.
func New(cfg Config, logger *zap.Logger) (*Provider, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, types.NewError(types.ErrConfiguration, "openaicompat: base_url is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, types.NewError(types.ErrConfiguration, "openaicompat: model is required")
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "openaicompat"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := tlsutil.SecureHTTPClient(cfg.TimeoutOrDefault(), cfg.TLS)
	if err != nil {
		return nil, types.NewError(types.ErrConfiguration, "openaicompat: invalid TLS settings").WithCause(err)
	}
	return &Provider{
		cfg:    cfg,
		client: client,
		logger: logger.With(zap.String("provider", cfg.ProviderName)),
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string { return p.cfg.ProviderName }

func (p *Provider) buildHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.BuildHeaders != nil {
		p.cfg.BuildHeaders(req, p.cfg.APIKey)
		return
	}
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
}

func (p *Provider) endpoint() string {
	return strings.TrimRight(p.cfg.BaseURL, "/") + p.cfg.EndpointPath
}

// Generate performs a non-streaming chat completion.
func (p *Provider) Generate(ctx context.Context, msgs []types.Message) (string, error) {
	body := chatRequest{
		Model:       p.cfg.Model,
		Messages:    make([]chatMessage, len(msgs)),
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: p.cfg.Temperature,
	}
	for i, m := range msgs {
		body.Messages[i] = chatMessage{Role: string(m.Role), Name: m.Name, Content: m.Content}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(), bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	p.buildHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", providers.TransportError(err, p.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		p.logger.Debug("upstream error", zap.Int("status", resp.StatusCode), zap.String("message", msg))
		return "", providers.MapHTTPError(resp.StatusCode, msg, p.Name())
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", types.Errorf(types.ErrUpstreamError, "%s: malformed response", p.Name()).
			WithCause(err).WithRetryable(true)
	}
	if len(out.Choices) == 0 {
		return "", types.Errorf(types.ErrUpstreamError, "%s: response has no choices", p.Name())
	}
	return out.Choices[0].Message.Content, nil
}
