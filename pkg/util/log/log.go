// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package log implements leveled, context-aware logging. Messages carry the
// logging tags attached to their context (see github.com/cockroachdb/logtags)
// and are formatted with redaction markers around unsafe values. Entries are
// written to a log/slog handler, by default a tint handler on stderr.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/redact"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/petermattis/goid"
)

// Severity is the severity of a log entry.
type Severity int

const (
	// SeverityInfo is used for informational messages.
	SeverityInfo Severity = iota
	// SeverityWarning is used for recoverable anomalies.
	SeverityWarning
	// SeverityError is used for errors that do not stop the process.
	SeverityError
	// SeverityFatal terminates the process after the entry is written.
	SeverityFatal
)

var severityNames = [...]string{"INFO", "WARNING", "ERROR", "FATAL"}

// String implements fmt.Stringer.
func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return "UNKNOWN"
	}
	return severityNames[s]
}

// SafeValue implements redact.SafeValue.
func (Severity) SafeValue() {}

func (s Severity) level() slog.Level {
	switch s {
	case SeverityWarning:
		return slog.LevelWarn
	case SeverityError:
		return slog.LevelError
	case SeverityFatal:
		return slog.LevelError + 4
	default:
		return slog.LevelInfo
	}
}

// Entry is a single log entry, as seen by interceptors.
type Entry struct {
	Severity  Severity
	Channel   Channel
	Goroutine int64
	// Tags is the rendering of the context's logging tags, without brackets.
	Tags string
	// Message is the formatted message with redaction markers.
	Message redact.RedactableString
}

// logging is the process-wide logging state.
var logging struct {
	mu struct {
		sync.Mutex
		out          *slog.Logger
		redactable   bool
		interceptors map[int]func(Entry)
		nextID       int
		exitOverride func(int)
	}
	verbosity atomic.Int32
}

func init() {
	SetOutput(os.Stderr, false /* json */)
}

// SetOutput directs log entries to w, either as text, colorized when w is a
// terminal, or as JSON.
func SetOutput(w io.Writer, json bool) {
	var h slog.Handler
	if json {
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	} else {
		h = tint.NewHandler(w, &tint.Options{Level: slog.LevelDebug, NoColor: !isTerminal(w)})
	}
	logging.mu.Lock()
	defer logging.mu.Unlock()
	logging.mu.out = slog.New(h)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

// SetRedactable controls whether redaction markers are kept in the output.
func SetRedactable(b bool) {
	logging.mu.Lock()
	defer logging.mu.Unlock()
	logging.mu.redactable = b
}

// Intercept registers fn to receive every subsequent log entry, in addition
// to the regular output. The returned function unregisters it.
func Intercept(fn func(Entry)) (remove func()) {
	logging.mu.Lock()
	defer logging.mu.Unlock()
	if logging.mu.interceptors == nil {
		logging.mu.interceptors = make(map[int]func(Entry))
	}
	id := logging.mu.nextID
	logging.mu.nextID++
	logging.mu.interceptors[id] = fn
	return func() {
		logging.mu.Lock()
		defer logging.mu.Unlock()
		delete(logging.mu.interceptors, id)
	}
}

func logf(ctx context.Context, ch Channel, sev Severity, format string, args ...interface{}) {
	entry := Entry{
		Severity:  sev,
		Channel:   ch,
		Goroutine: goid.Get(),
		Tags:      renderTags(ctx),
		Message:   redact.Sprintf(format, args...),
	}

	logging.mu.Lock()
	out := logging.mu.out
	redactable := logging.mu.redactable
	interceptors := make([]func(Entry), 0, len(logging.mu.interceptors))
	for _, fn := range logging.mu.interceptors {
		interceptors = append(interceptors, fn)
	}
	exit := logging.mu.exitOverride
	logging.mu.Unlock()

	for _, fn := range interceptors {
		fn(entry)
	}

	msg := string(entry.Message)
	if !redactable {
		msg = entry.Message.StripMarkers()
	}
	if entry.Tags != "" {
		msg = "[" + entry.Tags + "] " + msg
	}
	out.Log(ctx, sev.level(), msg, "g", entry.Goroutine, "ch", ch.String())

	if sev == SeverityFatal {
		if exit != nil {
			exit(255)
			return
		}
		os.Exit(255)
	}
}
