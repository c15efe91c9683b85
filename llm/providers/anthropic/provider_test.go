package anthropic

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

type wireRequest struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	System    []struct {
		Text string `json:"text"`
	} `json:"system"`
	Messages []struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"messages"`
}

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p, err := New(Config{BaseProviderConfig: providers.BaseProviderConfig{
		APIKey:    "test-key",
		BaseURL:   srv.URL,
		Model:     "claude-test",
		MaxTokens: 256,
	}}, nil)
	require.NoError(t, err)
	return p
}

func TestProvider_Generate(t *testing.T) {
	var req wireRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		raw, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(raw, &req))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
			"content":[{"type":"text","text":"Paris"}],"stop_reason":"end_turn",
			"usage":{"input_tokens":3,"output_tokens":1}}`))
	})

	reply, err := p.Generate(context.Background(), []types.Message{
		types.NewSystemMessage("You are a geographer."),
		types.NewUserMessage("capital of France?").WithName("U"),
		types.NewUserMessage("answer in one word").WithName("M"),
		types.NewAssistantMessage("ok"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Paris", reply)

	assert.Equal(t, "claude-test", req.Model)
	assert.Equal(t, 256, req.MaxTokens)
	require.Len(t, req.System, 1)
	assert.Equal(t, "You are a geographer.", req.System[0].Text)

	// 相邻 user 消息合并
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "user", req.Messages[0].Role)
	assert.Equal(t, "U: capital of France?\n\nM: answer in one word", req.Messages[0].Content[0].Text)
	assert.Equal(t, "assistant", req.Messages[1].Role)
}

func TestProvider_LeadingAssistantGetsUserOpener(t *testing.T) {
	params := toParams(Config{}, []types.Message{types.NewAssistantMessage("I start")})
	require.Len(t, params.Messages, 2)
	assert.Equal(t, "user", string(params.Messages[0].Role))
	assert.Equal(t, "assistant", string(params.Messages[1].Role))
}

func TestProvider_ErrorMapping(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(529)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
	})
	_, err := p.Generate(context.Background(), []types.Message{types.NewUserMessage("hi")})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrUpstreamError))
	assert.True(t, types.IsRetryable(err))
}
