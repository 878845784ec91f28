package cdp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaypilot/agentbridge/internal/cdp/cdptest"
	"github.com/relaypilot/agentbridge/internal/coreerr"
	"github.com/relaypilot/agentbridge/internal/model"
)

func newAttachedDriver(t *testing.T, handler func(method string, params json.RawMessage) (any, string)) (*Driver, *cdptest.Server, model.TabHandle) {
	t.Helper()

	fake := cdptest.New()
	t.Cleanup(fake.Close)
	fake.Handler = handler
	fake.AddTarget("tab-1", "https://example.com/")

	dirs := NewTabDirectory(fake.HTTP.URL)
	driver := New(dirs, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	targets, err := dirs.List(ctx)
	require.NoError(t, err)
	require.Len(t, targets, 1)

	handle, ok := dirs.idToHandle["tab-1"]
	require.True(t, ok)

	require.NoError(t, driver.Attach(ctx, handle))
	t.Cleanup(func() { _ = driver.Detach() })

	return driver, fake, handle
}

func TestAttachIsIdempotent(t *testing.T) {
	driver, _, handle := newAttachedDriver(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, driver.Attach(ctx, handle))
	require.True(t, driver.IsAttached())
}

func TestAttachConflictWhenTabAlreadyAttached(t *testing.T) {
	driver, fake, handle := newAttachedDriver(t, nil)
	_ = fake

	second := New(NewTabDirectory(""), nil)
	// Simulate a second driver attempting the same tab handle directly via
	// the shared process-wide registry, bypassing directory resolution.
	attachedTabs[handle] = true
	defer delete(attachedTabs, handle)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := second.Attach(ctx, handle)
	require.ErrorIs(t, err, coreerr.ErrAttachmentConflict)
	_ = driver
}

func TestDetachOnUnattachedIsNoop(t *testing.T) {
	driver := New(NewTabDirectory(""), nil)
	require.NoError(t, driver.Detach())
}

func TestClickElementContainsSelectorUsesTextFallback(t *testing.T) {
	var gotExpression string
	driver, _, _ := newAttachedDriver(t, func(method string, params json.RawMessage) (any, string) {
		if method == "Runtime.evaluate" {
			var p struct {
				Expression string `json:"expression"`
			}
			_ = json.Unmarshal(params, &p)
			gotExpression = p.Expression
			return map[string]any{
				"result": map[string]any{
					"type":  "object",
					"value": map[string]any{"x": 10.0, "y": 20.0, "width": 50.0, "height": 20.0},
				},
			}, ""
		}
		return map[string]any{}, ""
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := driver.ClickElement(ctx, `:contains('Submit')`, model.ClickAuto)
	require.NoError(t, err)
	require.Contains(t, gotExpression, "candidates.find")
}

func TestGetClickableElementsIndexesAndClassifies(t *testing.T) {
	driver, _, _ := newAttachedDriver(t, func(method string, params json.RawMessage) (any, string) {
		if method == "Runtime.evaluate" {
			items := []map[string]any{
				{"tag": "a", "selector": "#link1", "text": "Home"},
				{"tag": "button", "selector": ".btn", "text": "Go"},
			}
			return map[string]any{"result": map[string]any{"type": "object", "value": items}}, ""
		}
		return map[string]any{}, ""
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	elements, err := driver.GetClickableElements(ctx)
	require.NoError(t, err)
	require.Len(t, elements, 2)
	require.Equal(t, model.ElementLink, elements[0].Type)
	require.Equal(t, model.ElementButton, elements[1].Type)
	require.Equal(t, 1, elements[0].Index)
	require.Equal(t, 2, elements[1].Index)
}
