package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/chatflow/agent/conversation"
	"github.com/BaSui01/chatflow/agent/transcript"
	"github.com/BaSui01/chatflow/api"
	"github.com/BaSui01/chatflow/testutil/mocks"
)

func newEventsServer(t *testing.T, h *EventsHandler) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func dialEvents(t *testing.T, srv *httptest.Server, id, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/conversations/" + id + "/events" + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) api.EventMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var msg api.EventMessage
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	return msg
}

func TestEventsHandler_StreamsMessagesAndInterrupt(t *testing.T) {
	manager := newTestManager(t, mocks.NewScriptedGateway().WithReplies("hello U"))
	conv, err := manager.Create(conversation.WithID("c1"))
	require.NoError(t, err)

	srv := newEventsServer(t, NewEventsHandler(manager, nil))
	conn := dialEvents(t, srv, "c1", "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conv.Start(ctx, transcript.NewTurn("U", "B", "hi")))

	first := readEvent(t, conn)
	assert.Equal(t, conversation.EventMessage, first.Type)
	assert.Equal(t, "c1", first.ConversationID)
	require.NotNil(t, first.Turn)
	assert.Equal(t, "hi", first.Turn.Content)

	second := readEvent(t, conn)
	require.NotNil(t, second.Turn)
	assert.Equal(t, "hello U", second.Turn.Content)

	third := readEvent(t, conn)
	assert.Equal(t, conversation.EventInterrupt, third.Type)
	require.NotNil(t, third.Pending)
	assert.Equal(t, "U", third.Pending.Speaker)
	assert.Nil(t, third.Turn)
}

func TestEventsHandler_Replay(t *testing.T) {
	manager := newTestManager(t, mocks.NewScriptedGateway())
	conv, err := manager.Create(conversation.WithID("c1"))
	require.NoError(t, err)
	require.NoError(t, conv.Start(context.Background(), transcript.NewTurn("U", "B", "hi")))

	srv := newEventsServer(t, NewEventsHandler(manager, nil))
	conn := dialEvents(t, srv, "c1", "?replay=true")

	for _, want := range []string{"U>B", "B>U"} {
		msg := readEvent(t, conn)
		require.NotNil(t, msg.Turn)
		assert.Equal(t, want, msg.Turn.From+">"+msg.Turn.To)
	}
}

func TestEventsHandler_ClosesWhenConversationEnds(t *testing.T) {
	manager := newTestManager(t, mocks.NewScriptedGateway())
	conv, err := manager.Create(conversation.WithID("c1"))
	require.NoError(t, err)

	srv := newEventsServer(t, NewEventsHandler(manager, nil, WithPingInterval(20*time.Millisecond)))
	conn := dialEvents(t, srv, "c1", "")

	ctx := context.Background()
	require.NoError(t, conv.Start(ctx, transcript.NewTurn("U", "B", "hi")))
	require.NoError(t, conv.Continue(ctx, conversation.Sentinel))

	// 消费全部事件后服务端以正常关闭结束
	readCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var msg api.EventMessage
	for {
		if err = wsjson.Read(readCtx, conn, &msg); err != nil {
			break
		}
	}
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestSubscriber_OverflowDoesNotBlock(t *testing.T) {
	sub := &subscriber{
		events:   make(chan api.EventMessage, 1),
		overflow: make(chan struct{}),
	}
	ev := conversation.Event{Type: conversation.EventMessage, ConversationID: "c1", Turn: transcript.NewTurn("U", "B", "hi")}

	sub.push(context.Background(), ev)
	select {
	case <-sub.overflow:
		t.Fatal("overflow signalled with free capacity")
	default:
	}

	// 缓冲区已满：后续推送立即返回并标记溢出
	done := make(chan struct{})
	go func() {
		sub.push(context.Background(), ev)
		sub.push(context.Background(), ev)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("push blocked on a full buffer")
	}

	select {
	case <-sub.overflow:
	default:
		t.Fatal("overflow not signalled")
	}
	assert.Len(t, sub.events, 1)
}

func TestEventsHandler_UnknownConversation(t *testing.T) {
	manager := newTestManager(t, mocks.NewScriptedGateway())
	srv := newEventsServer(t, NewEventsHandler(manager, nil))

	resp, err := http.Get(srv.URL + "/api/v1/conversations/missing/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
