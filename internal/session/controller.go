package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relaypilot/agentbridge/internal/cdp"
	"github.com/relaypilot/agentbridge/internal/coreerr"
	"github.com/relaypilot/agentbridge/internal/model"
	"github.com/relaypilot/agentbridge/internal/sqlitekv"
)

// postDetachWait is how long CLEANING waits after detaching for the
// browser to release the debugger (spec §4.C).
const postDetachWait = 500 * time.Millisecond

// exitWait is how long exit-CLEANING waits before signalling IDLE.
const exitWait = 300 * time.Millisecond

// tabLoadCap bounds how long ATTACHING waits for a freshly created tab to
// finish loading before proceeding anyway (spec §4.C, §7 Timeout kind).
const tabLoadCap = 10 * time.Second

// DefaultMaxSteps is the UI-triggered session step cap (spec §3).
const DefaultMaxSteps = 15

// Handle is a live, attached session: the Session record plus the Driver
// the Agent Loop drives.
type Handle struct {
	Session *Session
	Driver  *cdp.Driver
}

// Controller owns the Session Controller state machine (spec §4.C): the
// cleanup mutex, tab resolution, attachment, and persistence, generalized
// from the teacher's internal/operation worker lifecycle (mark-running /
// mark-complete / mark-failed) into the richer four-state machine this
// spec requires.
type Controller struct {
	dirs    *cdp.TabDirectory
	records *sqlitekv.Store
	status  Store
	logger  *logrus.Logger

	cleanupLock PollingLock

	liveMu      sync.Mutex
	liveDrivers map[model.TabHandle]*cdp.Driver
}

// NewController wires a Session Controller against a tab directory
// (browser HTTP surface), a persistent record store, an in-memory status
// store for the HTTP surface, and a logger.
func NewController(dirs *cdp.TabDirectory, records *sqlitekv.Store, status Store, logger *logrus.Logger) *Controller {
	if logger == nil {
		logger = logrus.New()
	}
	return &Controller{dirs: dirs, records: records, status: status, logger: logger, liveDrivers: make(map[model.TabHandle]*cdp.Driver)}
}

// Start runs IDLE → CLEANING → ATTACHING → RUNNING per spec §4.C and
// returns a live Handle once attached. requestedTab may be zero, meaning
// "no preference, create a fresh tab".
func (c *Controller) Start(ctx context.Context, goal string, requestedTab model.TabHandle, onEvent func(string, json.RawMessage)) (*Handle, error) {
	c.cleanupLock.Lock()
	defer c.cleanupLock.Unlock()

	sess, err := c.status.Create(goal, requestedTab)
	if err != nil {
		return nil, err
	}
	_ = c.status.Update(sess.ID, func(s *Session) { s.State = StateCleaning })

	if err := c.clean(ctx, requestedTab); err != nil {
		c.logger.WithError(err).Warn("session: cleanup phase reported an error, proceeding to attach anyway")
	}

	_ = c.status.Update(sess.ID, func(s *Session) { s.State = StateAttaching })
	driver := cdp.New(c.dirs, onEvent)
	targetTab, err := c.resolveTargetTab(ctx, requestedTab)
	if err != nil {
		_ = c.status.Update(sess.ID, func(s *Session) { s.State = StateIdle })
		return nil, fmt.Errorf("%w: resolving target tab: %v", coreerr.ErrNoTargetTab, err)
	}

	err = driver.Attach(ctx, targetTab)
	if kind, ok := coreerr.KindOf(err); ok && kind == coreerr.KindAttachmentConflict {
		// Another attachment holds the tab: clean it, then retry once.
		if cleanErr := c.clean(ctx, targetTab); cleanErr != nil {
			c.logger.WithError(cleanErr).Warn("session: cleanup before attach retry reported an error")
		}
		err = driver.Attach(ctx, targetTab)
	}
	if err != nil {
		_ = c.status.Update(sess.ID, func(s *Session) { s.State = StateIdle })
		return nil, err
	}

	c.waitForLoad(ctx, driver)

	c.liveMu.Lock()
	c.liveDrivers[targetTab] = driver
	c.liveMu.Unlock()

	if err := c.status.Update(sess.ID, func(s *Session) {
		s.Tab = targetTab
		s.State = StateRunning
	}); err != nil {
		c.logger.WithError(err).Warn("session: failed to update in-memory status after attach")
	}

	if err := c.records.Save(sqlitekv.Record{
		ActiveTabID: int64Ptr(int64(targetTab)),
		SessionID:   stringPtr(sess.ID),
		IsActive:    true,
		LastUpdate:  time.Now(),
	}); err != nil {
		c.logger.WithError(err).Warn("session: failed to persist session record")
	}

	return &Handle{Session: sess, Driver: driver}, nil
}

// Stop runs the exit-CLEANING phase: stop, detach, persist isActive=false
// while retaining activeTabId, wait 300ms, then IDLE.
func (c *Controller) Stop(ctx context.Context, h *Handle, reason string) error {
	c.cleanupLock.Lock()
	defer c.cleanupLock.Unlock()

	_ = c.status.Update(h.Session.ID, func(s *Session) { s.Stopped = true })

	detachErr := h.Driver.Detach()
	c.liveMu.Lock()
	delete(c.liveDrivers, h.Session.Tab)
	c.liveMu.Unlock()

	_ = c.status.Update(h.Session.ID, func(s *Session) {
		s.State = StateCleaning
	})

	rec, err := c.records.Load()
	if err != nil {
		c.logger.WithError(err).Warn("session: failed to load record before exit-cleaning save")
	}
	rec.IsActive = false
	rec.SessionID = stringPtr(h.Session.ID)
	rec.LastUpdate = time.Now()
	// ActiveTabID is retained deliberately (spec §4.C exit-CLEANING: "so the
	// next session can still detect the tab to clean").
	if err := c.records.Save(rec); err != nil {
		c.logger.WithError(err).Warn("session: failed to persist exit-cleaning record")
	}

	select {
	case <-time.After(exitWait):
	case <-ctx.Done():
	}

	_ = c.status.Update(h.Session.ID, func(s *Session) {
		s.State = StateIdle
	})

	c.logger.WithFields(logrus.Fields{"session_id": h.Session.ID, "reason": reason}).Info("session: stopped")
	return detachErr
}

// clean tears down any attachment on requestedTab and on whatever tab the
// persistent record last marked active, per spec §4.C CLEANING.
func (c *Controller) clean(ctx context.Context, requestedTab model.TabHandle) error {
	rec, err := c.records.Load()
	if err != nil {
		return err
	}

	staleTab := model.TabHandle(0)
	if rec.ActiveTabID != nil {
		staleTab = model.TabHandle(*rec.ActiveTabID)
	}

	tabsToClean := map[model.TabHandle]bool{}
	if requestedTab != 0 {
		tabsToClean[requestedTab] = true
	}
	if staleTab != 0 {
		tabsToClean[staleTab] = true
	}

	for tab := range tabsToClean {
		c.liveMu.Lock()
		driver, ok := c.liveDrivers[tab]
		delete(c.liveDrivers, tab)
		c.liveMu.Unlock()
		if ok {
			_ = driver.Detach()
		}
		// A prior incarnation's attachment cannot be reached in-process
		// (liveDrivers resets on restart); the wait below gives the
		// browser time to release it server-side regardless.
	}

	select {
	case <-time.After(postDetachWait):
	case <-ctx.Done():
	}
	return nil
}

// resolveTargetTab implements spec §4.C's ATTACHING tab resolution: reuse
// requestedTab unless it is missing or privileged, in which case create a
// fresh tab.
func (c *Controller) resolveTargetTab(ctx context.Context, requestedTab model.TabHandle) (model.TabHandle, error) {
	targets, err := c.dirs.List(ctx)
	if err != nil {
		return 0, err
	}

	if requestedTab != 0 {
		if targetID, ok := c.dirs.TargetID(requestedTab); ok {
			for _, t := range targets {
				if t.ID == targetID && !t.IsPrivileged() {
					return requestedTab, nil
				}
			}
		}
	}

	return c.dirs.Create(ctx, "about:blank")
}

// waitForLoad polls document.readyState up to tabLoadCap, proceeding
// regardless once the cap is hit (spec §7: recoverable timeout).
func (c *Controller) waitForLoad(ctx context.Context, driver *cdp.Driver) {
	deadline := time.Now().Add(tabLoadCap)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		raw, err := driver.Evaluate(ctx, "document.readyState")
		if err == nil {
			var state string
			if json.Unmarshal(raw, &state) == nil && state == "complete" {
				return
			}
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func int64Ptr(v int64) *int64    { return &v }
func stringPtr(v string) *string { return &v }
