package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/chatflow/llm/providers"
	"github.com/BaSui01/chatflow/types"
)

type wireMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p, err := New(Config{BaseProviderConfig: providers.BaseProviderConfig{
		APIKey:  "sk-test",
		BaseURL: srv.URL,
		Model:   "gpt-test",
	}}, nil)
	require.NoError(t, err)
	return p
}

func TestProvider_Generate(t *testing.T) {
	var body struct {
		Model    string        `json:"model"`
		Messages []wireMessage `json:"messages"`
	}
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(raw, &body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-test",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":" four "}}]}`))
	})

	reply, err := p.Generate(context.Background(), []types.Message{
		types.NewSystemMessage("be brief"),
		types.NewUserMessage("2+2?").WithName("U"),
		types.NewAssistantMessage("thinking"),
	})
	require.NoError(t, err)
	assert.Equal(t, "four", reply)

	assert.Equal(t, "gpt-test", body.Model)
	require.Len(t, body.Messages, 3)
	assert.Equal(t, "system", body.Messages[0].Role)
	assert.Equal(t, "user", body.Messages[1].Role)
	assert.Equal(t, "U: 2+2?", body.Messages[1].Content)
	assert.Equal(t, "assistant", body.Messages[2].Role)
}

func TestProvider_ErrorMapping(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	})
	_, err := p.Generate(context.Background(), []types.Message{types.NewUserMessage("hi")})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrRateLimited))
	assert.True(t, types.IsRetryable(err))
}

func TestNew_DefaultModel(t *testing.T) {
	p, err := New(Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, string(DefaultModel), p.cfg.Model)
	assert.Equal(t, "openai", p.Name())
}
