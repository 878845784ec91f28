// Package bridge implements the Bridge Transport (spec §4.B): a
// reconnecting duplex JSON-framed channel to the external LLM policy
// server. The sidecar/main-process placement question (spec §4.B, §9) is
// resolved per SPEC_FULL.md §6: this process is long-running, so the
// sidecar collapses into the main controller, but the Transport interface
// below is kept as the seam for a future split.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/relaypilot/agentbridge/internal/coreerr"
	"github.com/relaypilot/agentbridge/internal/model"
)

// Transport is the seam between the session controller and the concrete
// bridge implementation, so a future sidecar split is a wiring change.
type Transport interface {
	Send(msg OutboundMessage)
	Inbound() <-chan InboundMessage
	State() model.ConnectionState
	Close()
}

// Options configures a Transport.
type Options struct {
	URL                  string
	HeartbeatInterval    time.Duration
	ReconnectBaseDelay   time.Duration
	ReconnectMaxAttempts int
	Logger               *logrus.Logger
}

// Bridge is the default Transport implementation, shaped after the
// webmcp-bridge other_examples reference (eventCh/stopCh/done fields,
// atomic message id, idempotent Close via select-on-stopCh) but dialing a
// policy server over gorilla/websocket rather than a raw CDP endpoint.
type Bridge struct {
	opts   Options
	logger *logrus.Logger

	inboundCh chan InboundMessage
	stopCh    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	conn    *websocket.Conn
	state   model.ConnectionState
	outbox  []OutboundMessage
	msgID   atomic.Int64
	attempt int
}

// New constructs a Bridge and starts its connection-management goroutine.
// ctx bounds the bridge's entire lifetime; cancelling it is equivalent to
// Close.
func New(ctx context.Context, opts Options) *Bridge {
	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = 20 * time.Second
	}
	if opts.ReconnectBaseDelay == 0 {
		opts.ReconnectBaseDelay = 1 * time.Second
	}
	if opts.ReconnectMaxAttempts == 0 {
		opts.ReconnectMaxAttempts = 5
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	b := &Bridge{
		opts:      opts,
		logger:    opts.Logger,
		inboundCh: make(chan InboundMessage, 64),
		stopCh:    make(chan struct{}),
		state:     model.Disconnected,
	}

	go b.run(ctx)
	return b
}

func (b *Bridge) setState(s model.ConnectionState) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// State returns the current connection state.
func (b *Bridge) State() model.ConnectionState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Send enqueues msg. If disconnected, it is queued and drained FIFO on
// reconnect (spec §4.B Outbound queue).
func (b *Bridge) Send(msg OutboundMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		b.outbox = append(b.outbox, msg)
		return
	}
	if err := b.writeLocked(msg); err != nil {
		b.outbox = append(b.outbox, msg)
	}
}

func (b *Bridge) writeLocked(msg OutboundMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal outbound message: %v", coreerr.ErrTransport, err)
	}
	return b.conn.WriteMessage(websocket.TextMessage, body)
}

// Inbound returns the channel of messages received from the policy server.
func (b *Bridge) Inbound() <-chan InboundMessage { return b.inboundCh }

// Close shuts the bridge down. Idempotent.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		close(b.stopCh)
		b.mu.Lock()
		if b.conn != nil {
			_ = b.conn.Close()
			b.conn = nil
		}
		b.mu.Unlock()
	})
}

// run owns the connect/heartbeat/reconnect lifecycle for the bridge's
// entire process lifetime.
func (b *Bridge) run(ctx context.Context) {
	for {
		select {
		case <-b.stopCh:
			return
		case <-ctx.Done():
			b.Close()
			return
		default:
		}

		if err := b.connectAndServe(ctx); err != nil {
			b.logger.WithError(err).Warn("bridge: connection attempt failed")
		}

		select {
		case <-b.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		b.mu.Lock()
		b.attempt++
		attempt := b.attempt
		b.mu.Unlock()

		if attempt > b.opts.ReconnectMaxAttempts {
			b.setState(model.ConnError)
			b.logger.Error("bridge: reconnect budget exhausted, entering error state")
			return
		}

		delay := b.opts.ReconnectBaseDelay * time.Duration(1<<uint(attempt-1))
		b.setState(model.Disconnected)

		select {
		case <-time.After(delay):
		case <-b.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// connectAndServe performs one connection attempt lifecycle: connect,
// drain queue, heartbeat, read pump — returning when the connection drops.
func (b *Bridge) connectAndServe(ctx context.Context) error {
	b.setState(model.Connecting)

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, b.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", coreerr.ErrTransport, err)
	}

	b.mu.Lock()
	b.conn = conn
	b.attempt = 0
	queued := b.outbox
	b.outbox = nil
	b.mu.Unlock()

	b.setState(model.Connected)

	for _, msg := range queued {
		b.Send(msg)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.readLoop(conn)
	}()

	heartbeat := time.NewTicker(b.opts.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-done:
			b.mu.Lock()
			b.conn = nil
			b.mu.Unlock()
			b.setState(model.Disconnected)
			return fmt.Errorf("%w: connection closed", coreerr.ErrTransport)
		case <-heartbeat.C:
			b.Send(OutboundMessage{Type: "ping"})
		case <-b.stopCh:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func (b *Bridge) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			b.logger.WithError(err).Warn("bridge: ignoring unparseable inbound message")
			continue
		}
		select {
		case b.inboundCh <- msg:
		default:
			// Drop rather than block the read pump; an overwhelmed consumer
			// should not stall the socket's keepalive.
			<-b.inboundCh
			b.inboundCh <- msg
		}
	}
}
