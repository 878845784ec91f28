package session

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/relaypilot/agentbridge/internal/cdp"
	"github.com/relaypilot/agentbridge/internal/cdp/cdptest"
	"github.com/relaypilot/agentbridge/internal/sqlitekv"
)

func newTestController(t *testing.T) (*Controller, *cdptest.Server) {
	t.Helper()
	fake := cdptest.New()
	t.Cleanup(fake.Close)
	fake.AddTarget("tab-1", "https://example.com/")
	fake.Handler = func(method string, params json.RawMessage) (any, string) {
		if method == "Runtime.evaluate" {
			return map[string]any{"result": map[string]any{"type": "string", "value": "complete"}}, ""
		}
		return map[string]any{}, ""
	}

	db, err := sqlitekv.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	dirs := cdp.NewTabDirectory(fake.HTTP.URL)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	c := NewController(dirs, sqlitekv.NewStore(db), NewMemoryStore(), logger)
	return c, fake
}

func TestControllerStartAttachesAndPersistsRecord(t *testing.T) {
	c, _ := newTestController(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	handle, err := c.Start(ctx, "buy a widget", 0, nil)
	require.NoError(t, err)
	require.True(t, handle.Driver.IsAttached())
	require.Equal(t, StateRunning, handle.Session.State)

	rec, err := c.records.Load()
	require.NoError(t, err)
	require.True(t, rec.IsActive)
	require.NotNil(t, rec.ActiveTabID)
}

func TestControllerStopDetachesAndRetainsTabID(t *testing.T) {
	c, _ := newTestController(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	handle, err := c.Start(ctx, "buy a widget", 0, nil)
	require.NoError(t, err)

	require.NoError(t, c.Stop(ctx, handle, "done"))
	require.False(t, handle.Driver.IsAttached())

	rec, err := c.records.Load()
	require.NoError(t, err)
	require.False(t, rec.IsActive)
	require.NotNil(t, rec.ActiveTabID)
}

func TestControllerBackToBackSessionsConverge(t *testing.T) {
	c, _ := newTestController(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first, err := c.Start(ctx, "goal A", 0, nil)
	require.NoError(t, err)
	require.NoError(t, c.Stop(ctx, first, "done"))

	second, err := c.Start(ctx, "goal B", 0, nil)
	require.NoError(t, err)
	require.True(t, second.Driver.IsAttached())
	require.NoError(t, c.Stop(ctx, second, "done"))
}
