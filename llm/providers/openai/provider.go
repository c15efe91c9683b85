package openai

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/BaSui01/chatflow/internal/tlsutil"
	"github.com/BaSui01/chatflow/llm/providers"
	"github.com/BaSui01/chatflow/types"
)

const providerName = "openai"

// DefaultModel is used when Config.Model is empty.
const DefaultModel = openai.ChatModelGPT4oMini

// Config OpenAI 后端配置
type Config struct {
	providers.BaseProviderConfig `yaml:",inline"`
	Organization                 string `json:"organization,omitempty" yaml:"organization,omitempty"`
}

// Provider wraps the Chat Completions API.
type Provider struct {
	client *openai.Client
	cfg    Config
	logger *zap.Logger
}

// New creates a provider from cfg.
func New(cfg Config, logger *zap.Logger) (*Provider, error) {
	if cfg.Model == "" {
		cfg.Model = string(DefaultModel)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient, err := tlsutil.SecureHTTPClient(cfg.TimeoutOrDefault(), cfg.TLS)
	if err != nil {
		return nil, types.NewError(types.ErrConfiguration, "openai: invalid TLS settings").WithCause(err)
	}

	opts := []option.RequestOption{
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Organization != "" {
		opts = append(opts, option.WithOrganization(cfg.Organization))
	}
	client := openai.NewClient(opts...)
	return &Provider{client: &client, cfg: cfg, logger: logger.With(zap.String("provider", providerName))}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string { return providerName }

func toParams(cfg Config, msgs []types.Message) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case types.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case types.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(providers.SpeakerPrefix(m)))
		}
	}
	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(cfg.Model),
		Messages:            messages,
		MaxCompletionTokens: openai.Int(int64(cfg.MaxTokensOrDefault())),
	}
	if cfg.Temperature != nil {
		params.Temperature = openai.Float(*cfg.Temperature)
	}
	return params
}

// Generate returns the first choice's content.
func (p *Provider) Generate(ctx context.Context, msgs []types.Message) (string, error) {
	resp, err := p.client.Chat.Completions.New(ctx, toParams(p.cfg, msgs))
	if err != nil {
		return "", mapError(err)
	}
	if len(resp.Choices) == 0 {
		return "", types.Errorf(types.ErrUpstreamError, "%s: response has no choices", providerName)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func mapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return providers.MapHTTPError(apiErr.StatusCode, apiErr.Error(), providerName).WithCause(err)
	}
	return providers.TransportError(err, providerName)
}
