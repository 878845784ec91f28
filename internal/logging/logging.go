// Package logging configures the structured logger shared by every
// component of the control plane. A single *logrus.Logger is constructed at
// startup and injected into each component constructor; nothing reaches for
// a package-level global.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Options controls logger construction.
type Options struct {
	// Level is one of logrus's level strings ("debug", "info", "warn",
	// "error"). Defaults to "info" when empty.
	Level string

	// JSON selects the JSON formatter over the text formatter. Text is
	// friendlier for local `agentbridge run`; JSON suits `agentbridge serve`
	// piping into a log aggregator.
	JSON bool

	// FilePath, if non-empty, tees output to the named file in addition to
	// Out. The file is opened append-only and is never rotated internally —
	// operators are expected to rotate it externally (logrotate or
	// equivalent), which is simpler than baking rotation into the process.
	FilePath string

	// Out is the primary writer. Defaults to os.Stderr when nil.
	Out io.Writer
}

// New builds a *logrus.Logger from opts. The returned cleanup func closes
// any file opened for FilePath and should be deferred by the caller.
func New(opts Options) (*logrus.Logger, func(), error) {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	cleanup := func() {}

	if opts.FilePath != "" {
		f, err := os.OpenFile(opts.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("logging: failed to open log file %q: %w", opts.FilePath, err)
		}
		out = io.MultiWriter(out, f)
		cleanup = func() { _ = f.Close() }
	}

	logger := logrus.New()
	logger.SetOutput(out)

	if opts.JSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(levelOrDefault(opts.Level))
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("logging: invalid level %q: %w", opts.Level, err)
	}
	logger.SetLevel(level)

	return logger, cleanup, nil
}

func levelOrDefault(level string) string {
	if level == "" {
		return "info"
	}
	return level
}

// SessionFields returns the structured fields (session_id, step, tab) for a
// log line about a session. No component in this module calls it; the
// controller and manager attach session_id directly.
func SessionFields(sessionID string, step int, tab int64) logrus.Fields {
	return logrus.Fields{
		"session_id": sessionID,
		"step":       step,
		"tab":        tab,
	}
}
