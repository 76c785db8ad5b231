// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package log

import "context"

// Channel identifies the audience of a log entry.
type Channel int

const (
	// DEV is for messages of interest to developers.
	DEV Channel = iota
	// OPS is for messages of interest to operators.
	OPS
)

// String implements fmt.Stringer.
func (c Channel) String() string {
	if c == OPS {
		return "OPS"
	}
	return "DEV"
}

// ChannelLogger logs to a single channel.
type ChannelLogger struct {
	ch Channel
}

var (
	// Dev logs to the DEV channel.
	Dev = ChannelLogger{ch: DEV}
	// Ops logs to the OPS channel.
	Ops = ChannelLogger{ch: OPS}
)

// Infof logs an informational message.
func (l ChannelLogger) Infof(ctx context.Context, format string, args ...interface{}) {
	logf(ctx, l.ch, SeverityInfo, format, args...)
}

// Warningf logs a warning.
func (l ChannelLogger) Warningf(ctx context.Context, format string, args ...interface{}) {
	logf(ctx, l.ch, SeverityWarning, format, args...)
}

// Errorf logs an error.
func (l ChannelLogger) Errorf(ctx context.Context, format string, args ...interface{}) {
	logf(ctx, l.ch, SeverityError, format, args...)
}

// Fatalf logs a message and terminates the process.
func (l ChannelLogger) Fatalf(ctx context.Context, format string, args ...interface{}) {
	logf(ctx, l.ch, SeverityFatal, format, args...)
}

// SetVerbosity sets the level below which VEventf messages are logged.
func SetVerbosity(level int32) {
	logging.verbosity.Store(level)
}

// V reports whether verbosity at the given level is enabled.
func V(level int32) bool {
	return logging.verbosity.Load() >= level
}

// VEventf logs an informational message on the DEV channel if the verbosity
// is at least level.
func VEventf(ctx context.Context, level int32, format string, args ...interface{}) {
	if V(level) {
		logf(ctx, DEV, SeverityInfo, format, args...)
	}
}
