package coreerr

import "errors"

// Kind names one of the error taxonomy entries from spec §7, independent of
// the Go sentinel used to signal it — useful for structured logging and for
// the action record's error description.
type Kind string

const (
	KindProtocol            Kind = "protocol_failure"
	KindSelector            Kind = "selector_failure"
	KindEvaluation          Kind = "evaluation_exception"
	KindAttachmentConflict  Kind = "attachment_conflict"
	KindTransport           Kind = "transport_failure"
	KindTimeout             Kind = "timeout"
	KindHostTeardown        Kind = "host_teardown"
	KindStopped             Kind = "stopped"
)

// taxonomyEntry records whether a kind is fatal (drives the owning session
// to CLEANING) or recoverable (folded into the next observation's
// last_action_error).
type taxonomyEntry struct {
	Sentinel error
	Fatal    bool
}

// Taxonomy maps every named error kind to its sentinel and fatality, per
// spec §7's propagation policy.
var Taxonomy = map[Kind]taxonomyEntry{
	KindProtocol:           {Sentinel: ErrProtocol, Fatal: false},
	KindSelector:           {Sentinel: ErrSelector, Fatal: false},
	KindEvaluation:         {Sentinel: ErrEvaluation, Fatal: false},
	KindAttachmentConflict: {Sentinel: ErrAttachmentConflict, Fatal: true},
	KindTransport:          {Sentinel: ErrTransport, Fatal: false},
	KindTimeout:            {Sentinel: ErrTimeout, Fatal: false},
	KindHostTeardown:       {Sentinel: ErrHostTeardown, Fatal: true},
	KindStopped:            {Sentinel: ErrStopped, Fatal: true},
}

// KindOf reports which taxonomy entry err belongs to, if any.
func KindOf(err error) (Kind, bool) {
	for kind, entry := range Taxonomy {
		if errors.Is(err, entry.Sentinel) {
			return kind, true
		}
	}
	return "", false
}
