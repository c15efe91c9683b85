package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/chatflow/agent/conversation"
	"github.com/BaSui01/chatflow/api"
	"github.com/BaSui01/chatflow/config"
	"github.com/BaSui01/chatflow/testutil/mocks"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.MetricsPort = 0
	cfg.Server.RateLimitRPS = 0
	return cfg
}

// newTestApp 使用默认拓扑（user ↔ assistant）与内存存储，后端替换为脚本网关
func newTestApp(t *testing.T, cfg *config.Config, gw *mocks.ScriptedGateway) *App {
	t.Helper()
	app, err := NewApp(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	def := app.Manager().Definition()
	def.Gateway = gw
	require.NoError(t, app.Manager().SetDefinition(def))
	return app
}

func request(t *testing.T, h http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		r.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestApp_ConversationFlow(t *testing.T) {
	app := newTestApp(t, testConfig(), mocks.NewScriptedGateway().WithReplies("four"))
	h := app.Handler(context.Background())

	w := request(t, h, http.MethodPost, "/api/v1/conversations",
		api.CreateConversationRequest{ID: "c1", From: "user", To: "assistant", Content: "2+2?"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var resp struct {
		Data api.ConversationView `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, conversation.StatusSuspended, resp.Data.Status)
	require.Len(t, resp.Data.Transcript, 2)
	assert.Equal(t, "four", resp.Data.Transcript[1].Content)

	// 记录同步落盘，待办已建立
	stored, err := app.store.Load(context.Background(), "c1")
	require.NoError(t, err)
	assert.Len(t, stored, 2)
	require.Len(t, app.Interrupts().Pending("c1"), 1)

	w = request(t, h, http.MethodPost, "/api/v1/conversations/c1/continue",
		api.ContinueRequest{Feedback: conversation.Sentinel})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Empty(t, app.Interrupts().Pending("c1"))

	w = request(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `chatflow_http_requests_total{method="POST",path="/api/v1/conversations/:id/continue",status="2xx"} 1`)
	assert.Contains(t, string(body), `chatflow_transcript_writes_total{status="success"}`)
}

func TestApp_HealthEndpoints(t *testing.T) {
	app := newTestApp(t, testConfig(), mocks.NewScriptedGateway())
	h := app.Handler(context.Background())

	for _, path := range []string{"/health", "/healthz", "/ready", "/readyz", "/version"} {
		t.Run(path, func(t *testing.T) {
			assert.Equal(t, http.StatusOK, request(t, h, http.MethodGet, path, nil).Code)
		})
	}
}

func TestApp_Auth(t *testing.T) {
	cfg := testConfig()
	cfg.Server.APIKeys = []string{"k1"}
	app := newTestApp(t, cfg, mocks.NewScriptedGateway())
	h := app.Handler(context.Background())

	assert.Equal(t, http.StatusOK, request(t, h, http.MethodGet, "/healthz", nil).Code)
	assert.Equal(t, http.StatusOK, request(t, h, http.MethodGet, "/metrics", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, request(t, h, http.MethodGet, "/api/v1/conversations", nil).Code)
	assert.Equal(t, http.StatusOK, request(t, h, http.MethodGet, "/api/v1/conversations", nil, "X-API-Key", "k1").Code)
}

func TestApp_Reload(t *testing.T) {
	cfg := testConfig()
	app := newTestApp(t, cfg, mocks.NewScriptedGateway())

	t.Run("applies valid definition", func(t *testing.T) {
		updated := testConfig()
		updated.Conversation.MaxRounds = 7
		require.NoError(t, app.Reload(cfg, updated))
		assert.Equal(t, 7, app.Manager().Definition().MaxRounds)
	})

	t.Run("keeps definition on error", func(t *testing.T) {
		broken := testConfig()
		broken.Conversation.Routes = map[string]config.RouteConfig{"user": {To: "ghost"}}
		assert.Error(t, app.Reload(cfg, broken))
		assert.Equal(t, 7, app.Manager().Definition().MaxRounds)
	})
}

func TestApp_Servers(t *testing.T) {
	t.Run("metrics on api port", func(t *testing.T) {
		app := newTestApp(t, testConfig(), mocks.NewScriptedGateway())
		assert.Len(t, app.Servers(context.Background()), 1)
	})

	t.Run("separate metrics port", func(t *testing.T) {
		cfg := testConfig()
		cfg.Server.MetricsPort = 9091
		app := newTestApp(t, cfg, mocks.NewScriptedGateway())
		servers := app.Servers(context.Background())
		require.Len(t, servers, 2)

		// API 端口不再暴露 /metrics
		w := request(t, app.Handler(context.Background()), http.MethodGet, "/metrics", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
