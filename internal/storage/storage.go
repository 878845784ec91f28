// Package storage records per-session artefacts - screenshots and console
// log lines - captured while an agent loop runs. There is no durable
// backend here: artefacts are ephemeral observation payloads, held in
// memory until they age out of the ring and readable through
// RingSink.Latest; the HTTP server does not expose them.
package storage

import (
	"context"
	"time"
)

// Sink records artefacts produced while a session runs.
type Sink interface {
	Put(ctx context.Context, req *PutRequest) (*PutResult, error)
}

// PutRequest is one artefact captured during a session.
type PutRequest struct {
	// SessionID scopes the artefact to a session.
	SessionID string

	// Kind distinguishes artefact types, e.g. "screenshot" or "console".
	Kind string

	// Content is the artefact payload (a JPEG frame, a log line).
	Content []byte

	// ContentType is the MIME type of Content, e.g. "image/jpeg".
	ContentType string
}

// PutResult is the outcome of a successful Put.
type PutResult struct {
	SessionID  string
	Kind       string
	Sequence   int64
	RecordedAt time.Time
}
