package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaypilot/agentbridge/internal/model"
	"github.com/relaypilot/agentbridge/internal/session"
)

type fakeStopper struct {
	stopped map[string]string
	err     error
}

func (f *fakeStopper) StopSession(sessionID, reason string) error {
	if f.err != nil {
		return f.err
	}
	if f.stopped == nil {
		f.stopped = make(map[string]string)
	}
	f.stopped[sessionID] = reason
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, session.Store, *fakeStopper) {
	t.Helper()
	store := session.NewMemoryStore()
	stopper := &fakeStopper{}
	srv := New(store, stopper)
	ts := httptest.NewServer(srv.mux)
	t.Cleanup(ts.Close)
	return ts, store, stopper
}

func TestHealthzReturnsOK(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetSessionNotFound(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/sessions/does-not-exist")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetSessionReturnsCreatedSession(t *testing.T) {
	ts, store, _ := newTestServer(t)
	sess, err := store.Create("buy a widget", model.TabHandle(1))
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/sessions/" + sess.ID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStopSessionInvokesStopper(t *testing.T) {
	ts, store, stopper := newTestServer(t)
	sess, err := store.Create("buy a widget", model.TabHandle(1))
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/sessions/"+sess.ID+"/stop", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, "operator_requested", stopper.stopped[sess.ID])
}

func TestStopSessionUnknownIDReturnsNotFound(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/sessions/missing/stop", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
