package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/relaypilot/agentbridge/internal/model"
)

func wsURL(httpURL string) string {
	return "ws" + httpURL[len("http"):]
}

func newEchoServer(t *testing.T, onMessage func(data []byte) []byte) *httptest.Server {
	t.Helper()
	var upgrader websocket.Upgrader
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if onMessage == nil {
				continue
			}
			if reply := onMessage(data); reply != nil {
				if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBridgeConnectsAndReachesConnectedState(t *testing.T) {
	srv := newEchoServer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := New(ctx, Options{URL: wsURL(srv.URL), HeartbeatInterval: time.Hour})
	defer b.Close()

	require.Eventually(t, func() bool {
		return b.State() == model.Connected
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBridgeDeliversInboundMessages(t *testing.T) {
	srv := newEchoServer(t, func(data []byte) []byte {
		var req OutboundMessage
		_ = json.Unmarshal(data, &req)
		if req.Type == "ping" {
			return nil
		}
		reply := InboundMessage{Type: "status", Status: "ok", SessionID: "sess-1"}
		out, _ := json.Marshal(reply)
		return out
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := New(ctx, Options{URL: wsURL(srv.URL), HeartbeatInterval: time.Hour})
	defer b.Close()

	b.Send(NewStartSession("buy a widget", "policy-v1"))

	select {
	case msg := <-b.Inbound():
		require.Equal(t, "status", msg.Type)
		require.Equal(t, "sess-1", msg.SessionID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound message")
	}
}

func TestBridgeQueuesOutboundWhileDisconnected(t *testing.T) {
	b := &Bridge{
		opts:      Options{HeartbeatInterval: time.Hour},
		inboundCh: make(chan InboundMessage, 1),
		stopCh:    make(chan struct{}),
		state:     model.Disconnected,
	}
	b.Send(NewStopSession("sess-2"))

	b.mu.Lock()
	defer b.mu.Unlock()
	require.Len(t, b.outbox, 1)
	require.Equal(t, "stop_session", b.outbox[0].Type)
}

func TestBridgeCloseIsIdempotent(t *testing.T) {
	srv := newEchoServer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := New(ctx, Options{URL: wsURL(srv.URL), HeartbeatInterval: time.Hour})
	b.Close()
	require.NotPanics(t, b.Close)
}

func TestToActionNormalizesAliasFields(t *testing.T) {
	msg := InboundMessage{Kind: "type", Element: "#search", Value: "golang"}
	action := msg.ToAction()
	require.Equal(t, "#search", action.Selector)
	require.Equal(t, "golang", action.Text)
}

func TestInboundMessageDecodesWireActionFields(t *testing.T) {
	raw := []byte(`{"type":"action","action":"click","selector":"#go","clickMethod":"js"}`)

	var msg InboundMessage
	require.NoError(t, json.Unmarshal(raw, &msg))

	action := msg.ToAction()
	require.Equal(t, "click", action.Kind)
	require.Equal(t, "#go", action.Selector)
	require.Equal(t, "js", action.ClickMethod)
}
