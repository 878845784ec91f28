// Package cdp implements the CDP Driver (spec §4.A): a thin client over a
// single tab's Chrome DevTools Protocol debugger attachment, built directly
// on cdproto's wire types rather than chromedp's higher-level automation
// API, since the spec asks for raw protocol control (attach/detach, direct
// Input.dispatch* calls, selector-resolved click/type with fallbacks).
package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"

	"github.com/relaypilot/agentbridge/internal/coreerr"
	"github.com/relaypilot/agentbridge/internal/model"
)

// globalAttachMu enforces "at most one CDP attachment per tab at any
// instant" (spec §3 invariant) process-wide: Attach holds it only while
// checking and claiming the tab's entry in attachedTabs (and while releasing
// that claim on failure), not while dialing the websocket or enabling
// domains, and not for the lifetime of the attachment.
var globalAttachMu sync.Mutex

// attachedTabs tracks which tab handles currently have a live Driver
// attachment, guarded by globalAttachMu.
var attachedTabs = make(map[model.TabHandle]bool)

// Driver wraps one tab's debugger attachment. The zero value is not usable;
// construct with New.
type Driver struct {
	dirs *TabDirectory

	mu      sync.Mutex
	tab     model.TabHandle
	client  *wsClient
	onEvent func(eventName string, params json.RawMessage)

	consoleMu   sync.Mutex
	consoleLogs []string
}

// maxConsoleLogs bounds the captured console line buffer (spec §6: "bounded
// to last 100 per tab").
const maxConsoleLogs = 100

// New constructs a Driver that resolves tabs through dirs. onEvent, if
// non-nil, is invoked for every CDP event the debugger sends, including
// Inspector.detached, after the Driver has itself marked the attachment
// gone.
func New(dirs *TabDirectory, onEvent func(eventName string, params json.RawMessage)) *Driver {
	return &Driver{dirs: dirs, onEvent: onEvent}
}

// Attach is idempotent and enables DOM, Page, Runtime, Network and Console.
// It fails with coreerr.ErrAttachmentConflict if any Driver in the process
// already holds an attachment to tab, or if the tab's debugger endpoint
// cannot be resolved or dialed. Attachments to other tabs do not conflict.
func (d *Driver) Attach(ctx context.Context, tab model.TabHandle) error {
	d.mu.Lock()
	if d.client != nil && d.tab == tab {
		d.mu.Unlock()
		return nil // already attached to this tab: idempotent per spec §8.
	}
	d.mu.Unlock()

	globalAttachMu.Lock()
	if attachedTabs[tab] {
		globalAttachMu.Unlock()
		return fmt.Errorf("%w: tab %d already has a live attachment", coreerr.ErrAttachmentConflict, tab)
	}
	attachedTabs[tab] = true
	globalAttachMu.Unlock()

	wsURL, err := d.dirs.WebSocketURL(ctx, tab)
	if err != nil {
		globalAttachMu.Lock()
		delete(attachedTabs, tab)
		globalAttachMu.Unlock()
		return fmt.Errorf("%w: %v", coreerr.ErrAttachmentConflict, err)
	}

	client, err := dialWS(ctx, wsURL, d.handleEvent)
	if err != nil {
		globalAttachMu.Lock()
		delete(attachedTabs, tab)
		globalAttachMu.Unlock()
		return fmt.Errorf("%w: %v", coreerr.ErrAttachmentConflict, err)
	}

	for _, method := range []string{"DOM.enable", "Page.enable", "Runtime.enable", "Network.enable", "Console.enable"} {
		if _, err := client.call(ctx, method, nil); err != nil {
			_ = client.Close()
			globalAttachMu.Lock()
			delete(attachedTabs, tab)
			globalAttachMu.Unlock()
			return fmt.Errorf("%w: enabling %s: %v", coreerr.ErrProtocol, method, err)
		}
	}

	d.mu.Lock()
	d.tab = tab
	d.client = client
	d.mu.Unlock()

	return nil
}

func (d *Driver) handleEvent(method string, params json.RawMessage) {
	if method == "Console.messageAdded" {
		var evt struct {
			Message struct {
				Text  string `json:"text"`
				Level string `json:"level"`
			} `json:"message"`
		}
		if err := json.Unmarshal(params, &evt); err == nil {
			d.consoleMu.Lock()
			d.consoleLogs = append(d.consoleLogs, fmt.Sprintf("[%s] %s", evt.Message.Level, evt.Message.Text))
			if len(d.consoleLogs) > maxConsoleLogs {
				d.consoleLogs = d.consoleLogs[len(d.consoleLogs)-maxConsoleLogs:]
			}
			d.consoleMu.Unlock()
		}
	}

	if method == "Inspector.detached" {
		// The browser itself tore down the attachment (tab closed, user
		// intervention). Mark detached without issuing cleanup calls — the
		// attachment is already gone (spec §4.A failure semantics).
		d.mu.Lock()
		tab := d.tab
		d.client = nil
		d.mu.Unlock()
		globalAttachMu.Lock()
		delete(attachedTabs, tab)
		globalAttachMu.Unlock()
	}

	if d.onEvent != nil {
		d.onEvent(method, params)
	}
}

// ConsoleLogs returns the most recent captured console lines for this tab.
func (d *Driver) ConsoleLogs() []string {
	d.consoleMu.Lock()
	defer d.consoleMu.Unlock()
	out := make([]string, len(d.consoleLogs))
	copy(out, d.consoleLogs)
	return out
}

// Detach is idempotent and safe on double-invocation or after a
// host-initiated detach has already cleared the client.
func (d *Driver) Detach() error {
	d.mu.Lock()
	client := d.client
	tab := d.tab
	d.client = nil
	d.mu.Unlock()

	if client == nil {
		return nil
	}

	globalAttachMu.Lock()
	delete(attachedTabs, tab)
	globalAttachMu.Unlock()

	return client.Close()
}

// IsAttached reports whether this Driver currently owns a live attachment.
func (d *Driver) IsAttached() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.client != nil
}

func (d *Driver) connected() (*wsClient, model.TabHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client == nil {
		return nil, 0, fmt.Errorf("%w: driver is not attached", coreerr.ErrProtocol)
	}
	return d.client, d.tab, nil
}

// Send is the raw passthrough operation (spec §4.A); it fails if not
// attached.
func (d *Driver) Send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	client, _, err := d.connected()
	if err != nil {
		return nil, err
	}
	result, err := client.call(ctx, method, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", coreerr.ErrProtocol, method, err)
	}
	return result, nil
}

// Navigate directs the tab to url.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	_, err := d.Send(ctx, "Page.navigate", &page.NavigateParams{URL: url})
	return err
}

// Scroll scrolls the page by (dx, dy) viewport pixels via a synthetic mouse
// wheel event at the viewport center.
func (d *Driver) Scroll(ctx context.Context, dx, dy float64) error {
	params := &input.DispatchMouseEventParams{
		Type:   input.MouseWheel,
		X:      400,
		Y:      300,
		DeltaX: dx,
		DeltaY: dy,
	}
	_, err := d.Send(ctx, "Input.dispatchMouseEvent", params)
	return err
}

// CaptureScreenshot captures the current viewport as format at quality
// (ignored for png). Screenshot defaults are the caller's responsibility;
// the agent loop always passes jpeg/30 per spec §3.
func (d *Driver) CaptureScreenshot(ctx context.Context, format string, quality int) ([]byte, error) {
	params := &page.CaptureScreenshotParams{
		Format:               page.CaptureScreenshotFormat(format),
		Quality:              int64(quality),
		CaptureBeyondViewport: false,
	}
	raw, err := d.Send(ctx, "Page.captureScreenshot", params)
	if err != nil {
		return nil, err
	}
	var out struct {
		Data []byte `json:"data"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: decoding screenshot: %v", coreerr.ErrProtocol, err)
	}
	return out.Data, nil
}

// PageState is the combined result of getPageState (spec §4.A).
type PageState struct {
	URL            string
	Title          string
	DocumentNodeID cdp.NodeID
}

// GetPageState combines a DOM.getDocument fetch (URL and node id) with the
// page's document.title, read through Evaluate.
func (d *Driver) GetPageState(ctx context.Context) (PageState, error) {
	raw, err := d.Send(ctx, "DOM.getDocument", &dom.GetDocumentParams{Depth: -1, Pierce: false})
	if err != nil {
		return PageState{}, err
	}
	var docResp struct {
		Root struct {
			NodeID       cdp.NodeID `json:"nodeId"`
			DocumentURL  string     `json:"documentURL"`
			BaseURL      string     `json:"baseURL"`
		} `json:"root"`
	}
	if err := json.Unmarshal(raw, &docResp); err != nil {
		return PageState{}, fmt.Errorf("%w: decoding document: %v", coreerr.ErrProtocol, err)
	}

	var titleStr string
	if title, err := d.Evaluate(ctx, "document.title"); err == nil {
		_ = json.Unmarshal(title, &titleStr)
	}

	return PageState{
		URL:            docResp.Root.DocumentURL,
		Title:          titleStr,
		DocumentNodeID: docResp.Root.NodeID,
	}, nil
}

// evalResult is the local decode shape for Runtime.evaluate's reply,
// distinguishing a protocol failure (handled by Send returning an error
// already) from a JavaScript exception, carried in ExceptionDetails.
type evalResult struct {
	Result struct {
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
	} `json:"result"`
	ExceptionDetails *struct {
		Text      string `json:"text"`
		Exception *struct {
			Description string `json:"description"`
		} `json:"exception"`
	} `json:"exceptionDetails"`
}

// Evaluate evaluates expression in page context with await-promise and
// return-by-value semantics, returning the raw JSON value on success.
func (d *Driver) Evaluate(ctx context.Context, expression string) (json.RawMessage, error) {
	params := &runtime.EvaluateParams{
		Expression:    expression,
		ReturnByValue: true,
		AwaitPromise:  true,
	}
	raw, err := d.Send(ctx, "Runtime.evaluate", params)
	if err != nil {
		return nil, err
	}

	var res evalResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("%w: decoding evaluate result: %v", coreerr.ErrProtocol, err)
	}
	if res.ExceptionDetails != nil {
		msg := res.ExceptionDetails.Text
		if res.ExceptionDetails.Exception != nil && res.ExceptionDetails.Exception.Description != "" {
			msg = res.ExceptionDetails.Exception.Description
		}
		return nil, fmt.Errorf("%w: %s", coreerr.ErrEvaluation, msg)
	}
	return res.Result.Value, nil
}

// Click dispatches mousePressed then mouseReleased at viewport coordinates.
func (d *Driver) Click(ctx context.Context, x, y float64) error {
	press := &input.DispatchMouseEventParams{Type: input.MousePressed, X: x, Y: y, Button: input.Left, ClickCount: 1}
	if _, err := d.Send(ctx, "Input.dispatchMouseEvent", press); err != nil {
		return err
	}
	release := &input.DispatchMouseEventParams{Type: input.MouseReleased, X: x, Y: y, Button: input.Left, ClickCount: 1}
	_, err := d.Send(ctx, "Input.dispatchMouseEvent", release)
	return err
}

// Type inserts text atomically via Input.insertText (spec §4.A: per-
// character keystrokes double-type on some platforms).
func (d *Driver) Type(ctx context.Context, text string) error {
	_, err := d.Send(ctx, "Input.insertText", &input.InsertTextParams{Text: text})
	return err
}

// pressEnter dispatches a keyDown/keyUp pair for the Enter key, used by
// both the focus-and-enter click fallback and loop-break escalation's
// submit conversion.
func (d *Driver) pressEnter(ctx context.Context) error {
	down := &input.DispatchKeyEventParams{
		Type:                  input.KeyDown,
		Key:                   "Enter",
		Code:                  "Enter",
		WindowsVirtualKeyCode: 13,
	}
	if _, err := d.Send(ctx, "Input.dispatchKeyEvent", down); err != nil {
		return err
	}
	up := &input.DispatchKeyEventParams{
		Type:                  input.KeyUp,
		Key:                   "Enter",
		Code:                  "Enter",
		WindowsVirtualKeyCode: 13,
	}
	_, err := d.Send(ctx, "Input.dispatchKeyEvent", up)
	return err
}

// PressKey dispatches a single named key press for the open-set "press"
// action kind (spec §3). Only Enter and Tab are recognized; anything else
// is a no-op, matching the "unknown kinds degrade to wait" policy (spec
// §6) applied at the key-name granularity.
func (d *Driver) PressKey(ctx context.Context, key string) error {
	switch key {
	case "Enter":
		return d.pressEnter(ctx)
	case "Tab":
		return d.keyPress(ctx, "Tab", 9)
	default:
		return nil
	}
}
