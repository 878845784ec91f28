package bridge

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaypilot/agentbridge/internal/model"
)

type fakeParentTransport struct {
	sent []OutboundMessage
}

func (t *fakeParentTransport) Send(msg OutboundMessage)       { t.sent = append(t.sent, msg) }
func (t *fakeParentTransport) Inbound() <-chan InboundMessage { return nil }
func (t *fakeParentTransport) State() model.ConnectionState   { return model.Connected }
func (t *fakeParentTransport) Close()                         {}

func TestMultiplexerStampsSessionIDOnSend(t *testing.T) {
	parent := &fakeParentTransport{}
	mux := NewMultiplexer(parent)
	tr := mux.Register("sess-1")

	tr.Send(OutboundMessage{Type: "observation"})

	require.Len(t, parent.sent, 1)
	require.Equal(t, "sess-1", parent.sent[0].SessionID)
}

func TestMultiplexerDispatchRoutesBySessionID(t *testing.T) {
	parent := &fakeParentTransport{}
	mux := NewMultiplexer(parent)
	tr1 := mux.Register("sess-1")
	tr2 := mux.Register("sess-2")

	routed := mux.Dispatch(InboundMessage{Type: "action", SessionID: "sess-2", Kind: "click"})
	require.True(t, routed)

	select {
	case msg := <-tr2.Inbound():
		require.Equal(t, "click", msg.Kind)
	default:
		t.Fatal("expected message routed to sess-2")
	}

	select {
	case <-tr1.Inbound():
		t.Fatal("sess-1 should not have received sess-2's message")
	default:
	}
}

func TestMultiplexerDispatchUnknownSessionNotRouted(t *testing.T) {
	parent := &fakeParentTransport{}
	mux := NewMultiplexer(parent)
	mux.Register("sess-1")

	routed := mux.Dispatch(InboundMessage{Type: "action", SessionID: "sess-unknown"})
	require.False(t, routed)
}

func TestMultiplexerUnregisterClosesChannel(t *testing.T) {
	parent := &fakeParentTransport{}
	mux := NewMultiplexer(parent)
	tr := mux.Register("sess-1")
	mux.Unregister("sess-1")

	_, ok := <-tr.Inbound()
	require.False(t, ok)
}
