package agent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/relaypilot/agentbridge/internal/bridge"
	"github.com/relaypilot/agentbridge/internal/cdp"
	"github.com/relaypilot/agentbridge/internal/cdp/cdptest"
	"github.com/relaypilot/agentbridge/internal/model"
	"github.com/relaypilot/agentbridge/internal/routing"
	"github.com/relaypilot/agentbridge/internal/session"
)

type fakeTransport struct {
	inbound chan bridge.InboundMessage
	sent    []bridge.OutboundMessage
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{inbound: make(chan bridge.InboundMessage, 16)}
}

func (f *fakeTransport) Send(msg bridge.OutboundMessage)     { f.sent = append(f.sent, msg) }
func (f *fakeTransport) Inbound() <-chan bridge.InboundMessage { return f.inbound }
func (f *fakeTransport) State() model.ConnectionState        { return model.Connected }
func (f *fakeTransport) Close()                              { close(f.inbound) }

func newTestDriver(t *testing.T, evalValue any) (*cdp.Driver, *cdptest.Server) {
	t.Helper()
	fake := cdptest.New()
	t.Cleanup(fake.Close)
	fake.AddTarget("tab-1", "https://example.com/")
	fake.Handler = func(method string, params json.RawMessage) (any, string) {
		switch method {
		case "Runtime.evaluate":
			return map[string]any{"result": map[string]any{"type": "object", "value": evalValue}}, ""
		case "Page.captureScreenshot":
			return map[string]any{"data": []byte("fake-jpeg")}, ""
		case "DOM.getDocument":
			return map[string]any{"root": map[string]any{"nodeId": 1, "documentURL": "https://example.com/"}}, ""
		}
		return map[string]any{}, ""
	}

	dirs := cdp.NewTabDirectory(fake.HTTP.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	targets, err := dirs.List(ctx)
	require.NoError(t, err)
	require.Len(t, targets, 1)

	driver := cdp.New(dirs, nil)

	var tabHandle model.TabHandle
	for _, tgt := range targets {
		if tgt.ID == "tab-1" {
			tabHandle = model.TabHandle(1)
		}
	}
	require.NoError(t, driver.Attach(ctx, tabHandle))
	t.Cleanup(func() { _ = driver.Detach() })

	return driver, fake
}

func TestLoopStopsOnDoneAction(t *testing.T) {
	driver, _ := newTestDriver(t, []map[string]any{})
	transport := newFakeTransport()
	transport.inbound <- bridge.InboundMessage{Type: "action", Kind: "done", Done: true}

	sess := &session.Session{ID: "sess-1", Goal: "buy a widget"}
	loop := New(driver, transport, sess, routing.New(), 15, logrus.New())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, loop.Run(ctx))
	require.Len(t, sess.ActionLog, 1)
	require.Equal(t, "done", sess.ActionLog[0].Kind)
}

func TestLoopStopsAtMaxSteps(t *testing.T) {
	driver, _ := newTestDriver(t, []map[string]any{})
	transport := newFakeTransport()
	for i := 0; i < 5; i++ {
		transport.inbound <- bridge.InboundMessage{Type: "action", Kind: "wait"}
	}

	sess := &session.Session{ID: "sess-2", Goal: "buy a widget"}
	loop := New(driver, transport, sess, routing.New(), 2, logrus.New())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, loop.Run(ctx))
	require.Equal(t, 2, sess.Step)
}

func TestLoopEscalatesRepeatedClicks(t *testing.T) {
	driver, _ := newTestDriver(t, []map[string]any{})
	transport := newFakeTransport()
	for i := 0; i < 3; i++ {
		transport.inbound <- bridge.InboundMessage{Type: "action", Kind: "click", Selector: "#submit-btn"}
	}
	transport.inbound <- bridge.InboundMessage{Type: "action", Kind: "done", Done: true}

	sess := &session.Session{ID: "sess-3", Goal: "submit a form"}
	loop := New(driver, transport, sess, routing.New(), 15, logrus.New())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, loop.Run(ctx))

	require.GreaterOrEqual(t, len(sess.ActionLog), 3)
	require.Equal(t, "submit", sess.ActionLog[2].Kind)
}
