package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/relaypilot/agentbridge/internal/model"
)

// TargetInfo describes one entry of the browser's /json/list HTTP endpoint.
type TargetInfo struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	URL                  string `json:"url"`
	Title                string `json:"title"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// IsPrivileged reports whether a target's URL is one the driver must not
// attach to directly (browser-internal pages), per spec §4.C's "missing or
// a privileged URL" ATTACHING condition.
func (t TargetInfo) IsPrivileged() bool {
	switch {
	case t.URL == "":
		return true
	case len(t.URL) >= 6 && t.URL[:6] == "chrome":
		return true
	case len(t.URL) >= 11 && t.URL[:11] == "devtools://":
		return true
	default:
		return false
	}
}

// TabDirectory resolves between the opaque model.TabHandle the rest of the
// system speaks and the browser's real string target ids, and wraps the
// small HTTP surface Chrome exposes for target lifecycle (/json/list,
// /json/new, /json/close). This has no corpus equivalent to ground on — the
// example repos drive chromedp's own allocator instead of talking to this
// HTTP surface directly — so it is deliberately minimal, built against the
// documented DevTools HTTP endpoint shape rather than a third-party client.
type TabDirectory struct {
	httpBase string
	client   *http.Client

	mu         sync.Mutex
	idToHandle map[string]model.TabHandle
	handleToID map[model.TabHandle]string
	next       int64
}

// NewTabDirectory wraps the browser's DevTools HTTP endpoint, e.g.
// "http://127.0.0.1:9222".
func NewTabDirectory(httpBase string) *TabDirectory {
	return &TabDirectory{
		httpBase:   httpBase,
		client:     &http.Client{},
		idToHandle: make(map[string]model.TabHandle),
		handleToID: make(map[model.TabHandle]string),
	}
}

func (d *TabDirectory) handleFor(targetID string) model.TabHandle {
	d.mu.Lock()
	defer d.mu.Unlock()

	if h, ok := d.idToHandle[targetID]; ok {
		return h
	}
	d.next++
	h := model.TabHandle(d.next)
	d.idToHandle[targetID] = h
	d.handleToID[h] = targetID
	return h
}

// List returns every target /json/list reports, of any type, registering a
// stable handle for each.
func (d *TabDirectory) List(ctx context.Context) ([]TargetInfo, error) {
	var targets []TargetInfo
	if err := d.getJSON(ctx, "/json/list", &targets); err != nil {
		return nil, err
	}
	for _, t := range targets {
		d.handleFor(t.ID)
	}
	return targets, nil
}

// Create opens a new tab at the given URL and returns its handle.
func (d *TabDirectory) Create(ctx context.Context, navURL string) (model.TabHandle, error) {
	var info TargetInfo
	if err := d.getJSON(ctx, "/json/new?"+url.QueryEscape(navURL), &info); err != nil {
		return 0, fmt.Errorf("cdp: failed to create tab: %w", err)
	}
	return d.handleFor(info.ID), nil
}

// Close closes the tab owning handle.
func (d *TabDirectory) Close(ctx context.Context, handle model.TabHandle) error {
	targetID, ok := d.TargetID(handle)
	if !ok {
		return fmt.Errorf("cdp: unknown tab handle %d", handle)
	}
	var discard json.RawMessage
	return d.getJSON(ctx, "/json/close/"+targetID, &discard)
}

// TargetID returns the real CDP target id behind handle.
func (d *TabDirectory) TargetID(handle model.TabHandle) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.handleToID[handle]
	return id, ok
}

// WebSocketURL resolves handle to its current page-level debugger endpoint.
func (d *TabDirectory) WebSocketURL(ctx context.Context, handle model.TabHandle) (string, error) {
	targetID, ok := d.TargetID(handle)
	if !ok {
		return "", fmt.Errorf("cdp: unknown tab handle %d", handle)
	}
	targets, err := d.List(ctx)
	if err != nil {
		return "", err
	}
	for _, t := range targets {
		if t.ID == targetID {
			return t.WebSocketDebuggerURL, nil
		}
	}
	return "", fmt.Errorf("cdp: tab handle %d no longer present", handle)
}

func (d *TabDirectory) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.httpBase+path, nil)
	if err != nil {
		return fmt.Errorf("cdp: failed to build request for %s: %w", path, err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("cdp: devtools HTTP request %s failed: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("cdp: devtools HTTP request %s returned %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
