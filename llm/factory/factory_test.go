package factory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/chatflow/internal/cache"
	"github.com/BaSui01/chatflow/llm/providers/anthropic"
	"github.com/BaSui01/chatflow/llm/providers/openai"
	"github.com/BaSui01/chatflow/llm/providers/openaicompat"
	"github.com/BaSui01/chatflow/types"
)

// =============================================================================
// Factory Tests
// =============================================================================

func TestNewProvider_Backends(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want any
	}{
		{"openai", Config{Provider: "openai", APIKey: "sk-test"}, &openai.Provider{}},
		{"anthropic", Config{Provider: "anthropic", APIKey: "sk-test"}, &anthropic.Provider{}},
		{"claude alias", Config{Provider: "Claude", APIKey: "sk-test"}, &anthropic.Provider{}},
		{"compatible", Config{Provider: "deepseek", BaseURL: "https://api.deepseek.com", Model: "deepseek-chat"}, &openaicompat.Provider{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewProvider(tt.cfg, zap.NewNop())
			require.NoError(t, err)
			assert.IsType(t, tt.want, g)
		})
	}
}

func TestNewProvider_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"empty provider", Config{}},
		{"compatible without base_url", Config{Provider: "qwen", Model: "qwen-max"}},
		{"compatible without model", Config{Provider: "qwen", BaseURL: "http://localhost"}},
		{"negative rate", Config{Provider: "openai", RateLimitRPS: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProvider(tt.cfg, nil)
			require.Error(t, err)
			assert.True(t, types.IsCode(err, types.ErrConfiguration))
		})
	}
}

func TestConfig_Merge(t *testing.T) {
	temp := 0.2
	base := Config{Provider: "openai", APIKey: "k", Model: "gpt-4o", MaxTokens: 512, Organization: "org"}

	t.Run("nil override", func(t *testing.T) {
		assert.Equal(t, base, base.Merge(nil))
	})

	t.Run("same provider keeps base fields", func(t *testing.T) {
		got := base.Merge(&Override{Model: "gpt-4o-mini", Temperature: &temp})
		assert.Equal(t, "openai", got.Provider)
		assert.Equal(t, "gpt-4o-mini", got.Model)
		assert.Equal(t, "org", got.Organization)
		require.NotNil(t, got.Temperature)
		assert.Equal(t, 0.2, *got.Temperature)
		assert.Nil(t, base.Temperature)
	})

	t.Run("provider switch drops backend fields", func(t *testing.T) {
		got := base.Merge(&Override{Provider: "anthropic", APIKey: "ak"})
		assert.Equal(t, "anthropic", got.Provider)
		assert.Empty(t, got.Model)
		assert.Empty(t, got.Organization)
		assert.Equal(t, "ak", got.APIKey)
		assert.Equal(t, 512, got.MaxTokens)
	})
}

func TestConfig_Key(t *testing.T) {
	a := Config{Provider: "claude", Model: "m"}
	b := Config{Provider: "anthropic", Model: "m"}
	assert.Equal(t, a.Key(), b.Key())

	temp := 0.5
	c := b
	c.Temperature = &temp
	assert.NotEqual(t, b.Key(), c.Key())
}

// chatServer 模拟 OpenAI 兼容接口，前 failFirst 次返回 503。
func chatServer(t *testing.T, failFirst int32, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(calls, 1)
		if n <= failFirst {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    "cmpl-1",
			"model": "local",
			"choices": []map[string]any{
				{"index": 0, "message": map[string]any{"role": "assistant", "content": "pong"}},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_RetriesTransientFailures(t *testing.T) {
	var calls int32
	srv := chatServer(t, 2, &calls)

	g, err := New(Config{
		Provider:          "local",
		BaseURL:           srv.URL,
		Model:             "local",
		MaxRetries:        3,
		RetryInitialDelay: time.Millisecond,
		RetryMaxDelay:     time.Millisecond,
	}, Deps{})
	require.NoError(t, err)

	out, err := g.Generate(context.Background(), []types.Message{types.NewUserMessage("ping")})
	require.NoError(t, err)
	assert.Equal(t, "pong", out)
	assert.EqualValues(t, 3, calls)
}

func TestNew_CircuitBreakerOpens(t *testing.T) {
	var calls int32
	srv := chatServer(t, 100, &calls)

	cfg := Config{Provider: "local", BaseURL: srv.URL, Model: "local"}
	cfg.CircuitBreaker.FailureThreshold = 2
	cfg.CircuitBreaker.OpenTimeout = time.Hour
	g, err := New(cfg, Deps{})
	require.NoError(t, err)

	msgs := []types.Message{types.NewUserMessage("ping")}
	for i := 0; i < 2; i++ {
		_, err = g.Generate(context.Background(), msgs)
		require.Error(t, err)
	}
	_, err = g.Generate(context.Background(), msgs)
	assert.True(t, types.IsCode(err, types.ErrServiceUnavailable))
	assert.EqualValues(t, 2, calls)
}

func TestNew_CachesReplies(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mgr := cache.NewManagerFromClient(client, cache.Config{KeyPrefix: "t:"}, nil)
	t.Cleanup(func() { _ = mgr.Close() })

	var calls int32
	srv := chatServer(t, 0, &calls)
	g, err := New(Config{Provider: "local", BaseURL: srv.URL, Model: "local", CacheTTL: time.Minute},
		Deps{Cache: mgr})
	require.NoError(t, err)

	msgs := []types.Message{types.NewUserMessage("ping")}
	for i := 0; i < 3; i++ {
		out, err := g.Generate(context.Background(), msgs)
		require.NoError(t, err)
		assert.Equal(t, "pong", out)
	}
	assert.EqualValues(t, 1, calls)
}

type countingObserver struct{ n int32 }

func (o *countingObserver) ObserveGeneration(string, string, time.Duration, error) {
	atomic.AddInt32(&o.n, 1)
}

func TestResolver_SharesGateways(t *testing.T) {
	obs := &countingObserver{}
	r := NewResolver(Config{Provider: "openai", APIKey: "sk", Model: "gpt-4o"}, Deps{Observer: obs})

	_, err := r.Default()
	require.NoError(t, err)
	_, err = r.Resolve(&Override{Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len())

	_, err = r.Resolve(&Override{Model: "gpt-4o-mini"})
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())

	_, err = r.Resolve(&Override{Provider: "mystery"})
	require.Error(t, err)
	assert.Equal(t, 2, r.Len())
}
