package openaicompat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/chatflow/llm/providers"
	"github.com/BaSui01/chatflow/types"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p, err := New(Config{
		BaseProviderConfig: providers.BaseProviderConfig{
			APIKey:  "sk-test",
			BaseURL: srv.URL,
			Model:   "test-model",
			Timeout: 2 * time.Second,
		},
		ProviderName: "testcompat",
	}, nil)
	require.NoError(t, err)
	return p
}

func TestProvider_Generate(t *testing.T) {
	var got chatRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","model":"test-model","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"four"}}]}`))
	})

	reply, err := p.Generate(context.Background(), []types.Message{
		types.NewSystemMessage("be brief"),
		types.NewUserMessage("2+2?").WithName("U"),
	})
	require.NoError(t, err)
	assert.Equal(t, "four", reply)

	assert.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "U", got.Messages[1].Name)
}

func TestProvider_ErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		code      types.ErrorCode
		retryable bool
	}{
		{"unauthorized", http.StatusUnauthorized, types.ErrUnauthorized, false},
		{"rate limited", http.StatusTooManyRequests, types.ErrRateLimited, true},
		{"bad request", http.StatusBadRequest, types.ErrInvalidRequest, false},
		{"overloaded", 529, types.ErrUpstreamError, true},
		{"gateway timeout", http.StatusGatewayTimeout, types.ErrUpstreamTimeout, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"test_error"}}`))
			})
			_, err := p.Generate(context.Background(), []types.Message{types.NewUserMessage("hi")})
			require.Error(t, err)
			assert.Equal(t, tt.code, types.GetErrorCode(err))
			assert.Equal(t, tt.retryable, types.IsRetryable(err))
			assert.Contains(t, err.Error(), "nope (type: test_error)")
		})
	}
}

func TestProvider_EmptyChoices(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	})
	_, err := p.Generate(context.Background(), []types.Message{types.NewUserMessage("hi")})
	assert.True(t, types.IsCode(err, types.ErrUpstreamError))
}

func TestProvider_CustomHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.Equal(t, "/chat", r.URL.Path)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	p, err := New(Config{
		BaseProviderConfig: providers.BaseProviderConfig{APIKey: "secret", BaseURL: srv.URL + "/", Model: "m"},
		EndpointPath:       "/chat",
		BuildHeaders:       func(req *http.Request, key string) { req.Header.Set("X-Api-Key", key) },
	}, nil)
	require.NoError(t, err)
	reply, err := p.Generate(context.Background(), []types.Message{types.NewUserMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, "ok", reply)
}

func TestProvider_TransportFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	p, err := New(Config{BaseProviderConfig: providers.BaseProviderConfig{BaseURL: url, Model: "m"}}, nil)
	require.NoError(t, err)
	_, err = p.Generate(context.Background(), []types.Message{types.NewUserMessage("hi")})
	require.Error(t, err)
	assert.True(t, types.IsRetryable(err))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{BaseProviderConfig: providers.BaseProviderConfig{Model: "m"}}, nil)
	assert.True(t, types.IsCode(err, types.ErrConfiguration))
	_, err = New(Config{BaseProviderConfig: providers.BaseProviderConfig{BaseURL: "http://x"}}, nil)
	assert.True(t, types.IsCode(err, types.ErrConfiguration))
}
