package anthropic

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/BaSui01/chatflow/internal/tlsutil"
	"github.com/BaSui01/chatflow/llm/providers"
	"github.com/BaSui01/chatflow/types"
)

const providerName = "anthropic"

// DefaultModel is used when Config.Model is empty.
const DefaultModel = anthropic.ModelClaude3_5Sonnet20241022

// Config Anthropic 后端配置
type Config struct {
	providers.BaseProviderConfig `yaml:",inline"`
}

// Provider wraps the Messages API.
type Provider struct {
	client *anthropic.Client
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
		return nil, types.NewError(types.ErrConfiguration, "anthropic: invalid TLS settings").WithCause(err)
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
	client := anthropic.NewClient(opts...)
	return &Provider{client: &client, cfg: cfg, logger: logger.With(zap.String("provider", providerName))}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string { return providerName }

type block struct {
	role string
	text []string
}

// toParams folds msgs into alternating user/assistant blocks.
func toParams(cfg Config, msgs []types.Message) anthropic.MessageNewParams {
	var system []anthropic.TextBlockParam
	var blocks []block
	for _, m := range msgs {
		if m.Role == types.RoleSystem {
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
			continue
		}
		role := "user"
		if m.Role == types.RoleAssistant {
			role = "assistant"
		}
		text := providers.SpeakerPrefix(m)
		if n := len(blocks); n > 0 && blocks[n-1].role == role {
			blocks[n-1].text = append(blocks[n-1].text, text)
			continue
		}
		blocks = append(blocks, block{role: role, text: []string{text}})
	}
	// The API requires the first message to come from the user.
	if len(blocks) == 0 || blocks[0].role != "user" {
		blocks = append([]block{{role: "user", text: []string{"(conversation start)"}}}, blocks...)
	}

	messages := make([]anthropic.MessageParam, len(blocks))
	for i, b := range blocks {
		content := anthropic.NewTextBlock(strings.Join(b.text, "\n\n"))
		if b.role == "assistant" {
			messages[i] = anthropic.NewAssistantMessage(content)
		} else {
			messages[i] = anthropic.NewUserMessage(content)
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(cfg.Model),
		MaxTokens: int64(cfg.MaxTokensOrDefault()),
		Messages:  messages,
	}
	if len(system) > 0 {
		params.System = system
	}
	if cfg.Temperature != nil {
		params.Temperature = anthropic.Float(*cfg.Temperature)
	}
	return params
}

// Generate returns the concatenated text blocks of the reply.
func (p *Provider) Generate(ctx context.Context, msgs []types.Message) (string, error) {
	resp, err := p.client.Messages.New(ctx, toParams(p.cfg, msgs))
	if err != nil {
		return "", mapError(err)
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.AsText().Text)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

func mapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return providers.MapHTTPError(apiErr.StatusCode, apiErr.Error(), providerName).WithCause(err)
	}
	return providers.TransportError(err, providerName)
}
