package cmd

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relaypilot/agentbridge/internal/agent"
	"github.com/relaypilot/agentbridge/internal/bridge"
	"github.com/relaypilot/agentbridge/internal/config"
	"github.com/relaypilot/agentbridge/internal/routing"
	"github.com/relaypilot/agentbridge/internal/session"
	"github.com/relaypilot/agentbridge/internal/storage"
)

// manager owns the shared bridge connection and every concurrently running
// session, dispatching inbound messages by session_id (spec §9's collapsed
// sidecar-placement decision: one process, one duplex connection, many
// tabs) and satisfying server.SessionStopper for the HTTP API.
type manager struct {
	controller *session.Controller
	conn       bridge.Transport
	mux        *bridge.Multiplexer
	status     session.Store
	cfg        config.Config
	logger     *logrus.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func newManager(controller *session.Controller, conn bridge.Transport, status session.Store, cfg config.Config, logger *logrus.Logger) *manager {
	return &manager{
		controller: controller,
		conn:       conn,
		mux:        bridge.NewMultiplexer(conn),
		status:     status,
		cfg:        cfg,
		logger:     logger,
		running:    make(map[string]context.CancelFunc),
	}
}

// dispatchLoop reads the shared connection and either routes a message to
// its session's multiplexed channel, or - for start_automation, which
// arrives with no existing session attached - starts a new one.
func (m *manager) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-m.conn.Inbound():
			if !ok {
				return
			}
			if msg.Type == "start_automation" {
				m.startSession(ctx, msg.Goal)
				continue
			}
			m.mux.Dispatch(msg)
		}
	}
}

func (m *manager) startSession(parent context.Context, goal string) {
	handle, err := m.controller.Start(parent, goal, 0, nil)
	if err != nil {
		m.logger.WithError(err).Warn("manager: failed to start session")
		return
	}

	sessCtx, cancel := context.WithCancel(parent)
	m.mu.Lock()
	m.running[handle.Session.ID] = cancel
	m.mu.Unlock()

	transport := m.mux.Register(handle.Session.ID)
	loop := agent.New(handle.Driver, transport, handle.Session, routing.New(), m.cfg.MaxSteps, m.logger)
	loop.Artifacts = storage.NewRingSink(20)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.finishSession(handle, transport)
		if err := loop.Run(sessCtx); err != nil {
			m.logger.WithError(err).WithField("session_id", handle.Session.ID).Warn("manager: agent loop ended with error")
		}
	}()
}

func (m *manager) finishSession(handle *session.Handle, transport bridge.Transport) {
	m.mux.Unregister(handle.Session.ID)
	transport.Close()

	m.mu.Lock()
	delete(m.running, handle.Session.ID)
	m.mu.Unlock()

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.controller.Stop(stopCtx, handle, "agent_loop_complete"); err != nil {
		m.logger.WithError(err).WithField("session_id", handle.Session.ID).Warn("manager: session cleanup failed")
	}
}

// StopSession implements server.SessionStopper: it marks the session
// stopped so the agent loop's own Stopped checks take effect before
// sending one more observation, tells the policy server the session is
// going away, then cancels the session's agent loop context, which
// unwinds through finishSession's deferred cleanup.
func (m *manager) StopSession(sessionID, reason string) error {
	m.mu.Lock()
	cancel, ok := m.running[sessionID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("manager: session %q is not running", sessionID)
	}
	m.logger.WithField("session_id", sessionID).WithField("reason", reason).Info("manager: stop requested")

	_ = m.status.Update(sessionID, func(s *session.Session) { s.Stopped = true })
	m.conn.Send(bridge.NewStopSession(sessionID))
	cancel()
	return nil
}

// stopAll marks and cancels every running session, used during process
// shutdown, and waits for their finishSession cleanup (including the
// persisted IsActive=false record) to complete before returning.
func (m *manager) stopAll(reason string) {
	m.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(m.running))
	for id, cancel := range m.running {
		_ = m.status.Update(id, func(s *session.Session) { s.Stopped = true })
		m.conn.Send(bridge.NewStopSession(id))
		cancels = append(cancels, cancel)
	}
	m.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	m.wg.Wait()
}
