package bridge

import (
	"sync"

	"github.com/relaypilot/agentbridge/internal/model"
)

// Multiplexer fans a single duplex connection to the policy server out to
// several concurrently-running sessions, since the collapsed controller
// process (spec §9's sidecar-placement decision) drives more than one tab
// at once but the wire protocol carries only one connection to the policy
// server, disambiguating by session_id.
type Multiplexer struct {
	parent Transport

	mu       sync.Mutex
	sessions map[string]chan InboundMessage
}

// NewMultiplexer wraps parent, which owns the real socket.
func NewMultiplexer(parent Transport) *Multiplexer {
	return &Multiplexer{parent: parent, sessions: make(map[string]chan InboundMessage)}
}

// Register returns a Transport scoped to sessionID: Send stamps every
// outbound message with sessionID before handing it to the parent
// connection, and Inbound delivers only messages the dispatch loop routed
// to this session.
func (m *Multiplexer) Register(sessionID string) Transport {
	ch := make(chan InboundMessage, 32)
	m.mu.Lock()
	m.sessions[sessionID] = ch
	m.mu.Unlock()
	return &sessionTransport{parent: m.parent, sessionID: sessionID, inbound: ch}
}

// Unregister stops routing inbound messages to sessionID and closes its
// channel. Call once the session's agent loop has returned.
func (m *Multiplexer) Unregister(sessionID string) {
	m.mu.Lock()
	ch, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Dispatch routes one inbound message to its session's channel by
// session_id, dropping it if no session is registered for that id. It
// reports whether a session was registered for the id, so a caller can
// republish unrouted messages elsewhere.
func (m *Multiplexer) Dispatch(msg InboundMessage) (routed bool) {
	m.mu.Lock()
	ch, ok := m.sessions[msg.SessionID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- msg:
	default:
		// Slow consumer; drop rather than block the shared read pump.
	}
	return true
}

type sessionTransport struct {
	parent    Transport
	sessionID string
	inbound   chan InboundMessage
}

func (t *sessionTransport) Send(msg OutboundMessage) {
	msg.SessionID = t.sessionID
	t.parent.Send(msg)
}

func (t *sessionTransport) Inbound() <-chan InboundMessage { return t.inbound }

func (t *sessionTransport) State() model.ConnectionState { return t.parent.State() }

// Close is a no-op on the shared connection; callers use Multiplexer.
// Unregister to release this session's channel.
func (t *sessionTransport) Close() {}
