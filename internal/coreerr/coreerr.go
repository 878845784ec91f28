// Package coreerr defines the error taxonomy shared by the CDP driver,
// bridge transport, session controller and agent loop. Each sentinel names a
// kind of failure, not a concrete type, so callers compare with errors.Is
// instead of type-switching on a class hierarchy.
package coreerr

import "errors"

var (
	// ErrProtocol means the debugger rejected a command. Non-fatal: the
	// agent loop folds it into the next observation's last_action_error.
	ErrProtocol = errors.New("protocol failure")

	// ErrSelector means no element matched a selector, or the selector used
	// jQuery-style syntax the driver does not support. Non-fatal.
	ErrSelector = errors.New("selector failure")

	// ErrEvaluation means injected JavaScript threw. Non-fatal.
	ErrEvaluation = errors.New("evaluation exception")

	// ErrAttachmentConflict means another debugger is already attached to
	// the target tab. Fatal for the current session start; the session
	// controller retries via CLEANING, not the driver.
	ErrAttachmentConflict = errors.New("attachment conflict")

	// ErrTransport means the bridge socket closed or is unreachable. Drives
	// the reconnect loop. Once the reconnect budget is exhausted the bridge
	// moves to the error connection state and stops reconnecting; running
	// sessions are not terminated by that.
	ErrTransport = errors.New("transport failure")

	// ErrTransportLost names the transport-lost failure kind. The bridge
	// does not return it when its reconnect budget runs out.
	ErrTransportLost = errors.New("transport lost")

	// ErrTimeout covers the two timeouts the spec allows: the new-tab load
	// wait and the cleanup-wait poll. Recoverable in both cases.
	ErrTimeout = errors.New("timeout")

	// ErrHostTeardown means the execution host was restarted mid-session.
	// The session controller reconciles from the persistent record.
	ErrHostTeardown = errors.New("host teardown")

	// ErrStopped means the session was explicitly stopped; all further
	// operations on it must short-circuit.
	ErrStopped = errors.New("session stopped")

	// ErrNoTargetTab means the session controller could not resolve or
	// create a suitable target tab during ATTACHING.
	ErrNoTargetTab = errors.New("no target tab")
)

// Fatal reports whether an error kind drives the owning session straight to
// CLEANING rather than being folded into the next observation. Errors
// outside the named taxonomy (ErrTransportLost, ErrNoTargetTab) are treated
// as fatal conservatively, since they have no recoverable analogue.
func Fatal(err error) bool {
	if kind, ok := KindOf(err); ok {
		return Taxonomy[kind].Fatal
	}
	switch {
	case errors.Is(err, ErrTransportLost):
		return true
	case errors.Is(err, ErrNoTargetTab):
		return true
	default:
		return false
	}
}
