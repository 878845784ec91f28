package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// wsClient is the raw JSON-RPC-over-websocket transport for a single
// debugger attachment. It multiplexes concurrent send() callers over one
// socket by correlating replies with request ids, the same shape as the
// webmcp-bridge example's pendingCalls map keyed by an atomically
// incremented id.
type wsClient struct {
	conn *websocket.Conn

	nextID       atomic.Int64
	mu           sync.Mutex
	pending      map[int64]chan rpcReply
	eventHandler func(method string, params json.RawMessage)

	closeOnce sync.Once
	closed    chan struct{}
}

type rpcRequest struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type rpcReply struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("cdp error %d: %s", e.Code, e.Message) }

type rpcEvent struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// dialWS connects to the debugger endpoint and starts the read pump.
func dialWS(ctx context.Context, endpoint string, onEvent func(method string, params json.RawMessage)) (*wsClient, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(dialCtx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("cdp: failed to dial debugger endpoint %q: %w", endpoint, err)
	}
	conn.SetReadLimit(100 * 1024 * 1024)

	c := &wsClient{
		conn:         conn,
		pending:      make(map[int64]chan rpcReply),
		eventHandler: onEvent,
		closed:       make(chan struct{}),
	}
	go c.readPump()
	return c, nil
}

func (c *wsClient) readPump() {
	defer c.Close()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var probe struct {
			ID     int64           `json:"id"`
			Method string          `json:"method"`
			Result json.RawMessage `json:"result"`
			Error  *rpcError       `json:"error"`
		}
		if err := json.Unmarshal(data, &probe); err != nil {
			continue
		}

		if probe.Method != "" {
			if c.eventHandler != nil {
				c.eventHandler(probe.Method, data)
			}
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[probe.ID]
		if ok {
			delete(c.pending, probe.ID)
		}
		c.mu.Unlock()

		if ok {
			ch <- rpcReply{ID: probe.ID, Result: probe.Result, Error: probe.Error}
		}
	}
}

// call sends method with params and blocks for its reply or ctx
// cancellation. It is safe to call concurrently; replies are matched by id.
func (c *wsClient) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	var raw json.RawMessage
	var err error
	if params != nil {
		raw, err = json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("cdp: failed to marshal params for %s: %w", method, err)
		}
	}

	id := c.nextID.Add(1)
	replyCh := make(chan rpcReply, 1)

	c.mu.Lock()
	c.pending[id] = replyCh
	c.mu.Unlock()

	req := rpcRequest{ID: id, Method: method, Params: raw}
	body, err := json.Marshal(req)
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("cdp: failed to marshal request for %s: %w", method, err)
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, body); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("cdp: failed to send %s: %w", method, err)
	}

	select {
	case reply := <-replyCh:
		if reply.Error != nil {
			return nil, reply.Error
		}
		return reply.Result, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	case <-c.closed:
		return nil, fmt.Errorf("cdp: connection closed while awaiting %s", method)
	}
}

// Close shuts the socket and unblocks any pending calls. Idempotent.
func (c *wsClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}
