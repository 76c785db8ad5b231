// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package pgerror attaches PostgreSQL error codes and severities to errors
// and converts annotated errors into wire-level errors.
package pgerror

import (
	"fmt"

	"github.com/Arenadata-Labs/gpdb/pkg/sql/pgwire/pgcode"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
)

// DefaultSeverity is the severity of errors that do not carry one.
const DefaultSeverity = "ERROR"

// New creates an error with a code.
func New(code pgcode.Code, msg string) error {
	err := errors.NewWithDepth(1, msg)
	return WithCandidateCode(err, code)
}

// Newf creates an error with a code and a formatted message.
func Newf(code pgcode.Code, format string, args ...interface{}) error {
	err := errors.NewWithDepthf(1, format, args...)
	return WithCandidateCode(err, code)
}

// WithCandidateCode decorates the error with a candidate postgres error
// code. It is called "candidate" because the code is only used if no other
// code is found deeper in the causal chain.
func WithCandidateCode(err error, code pgcode.Code) error {
	if err == nil {
		return nil
	}
	return &withCandidateCode{cause: err, code: code}
}

// HasCandidateCode returns true iff there's at least one code
// annotation in the causal chain.
func HasCandidateCode(err error) bool {
	return errors.HasType(err, (*withCandidateCode)(nil))
}

// GetPGCode retrieves the postgres error code of an error. Assertion
// failures are reported as internal errors regardless of their annotations.
func GetPGCode(err error) pgcode.Code {
	if errors.HasAssertionFailure(err) {
		return pgcode.Internal
	}
	code := pgcode.Uncategorized
	for c := err; c != nil; c = errors.UnwrapOnce(c) {
		if w, ok := c.(*withCandidateCode); ok {
			// The innermost code wins.
			code = w.code
		}
	}
	return code
}

// WithSeverity decorates the error with a postgres severity. The outermost
// severity wins.
func WithSeverity(err error, severity string) error {
	if err == nil {
		return nil
	}
	return &withSeverity{cause: err, severity: severity}
}

// GetSeverity attempts to retrieve the severity of an error, defaulting
// to DefaultSeverity.
func GetSeverity(err error) string {
	var w *withSeverity
	if errors.As(err, &w) {
		return w.severity
	}
	return DefaultSeverity
}

type withCandidateCode struct {
	cause error
	code  pgcode.Code
}

var _ error = (*withCandidateCode)(nil)
var _ errors.SafeFormatter = (*withCandidateCode)(nil)
var _ fmt.Formatter = (*withCandidateCode)(nil)

func (w *withCandidateCode) Error() string { return w.cause.Error() }
func (w *withCandidateCode) Cause() error  { return w.cause }
func (w *withCandidateCode) Unwrap() error { return w.cause }

func (w *withCandidateCode) Format(s fmt.State, verb rune) { errors.FormatError(w, s, verb) }

func (w *withCandidateCode) SafeFormatError(p errors.Printer) (next error) {
	if p.Detail() {
		p.Printf("candidate pg code: %s", redact.Safe(w.code.String()))
	}
	return w.cause
}

type withSeverity struct {
	cause    error
	severity string
}

var _ error = (*withSeverity)(nil)
var _ errors.SafeFormatter = (*withSeverity)(nil)
var _ fmt.Formatter = (*withSeverity)(nil)

func (w *withSeverity) Error() string { return w.cause.Error() }
func (w *withSeverity) Cause() error  { return w.cause }
func (w *withSeverity) Unwrap() error { return w.cause }

func (w *withSeverity) Format(s fmt.State, verb rune) { errors.FormatError(w, s, verb) }

func (w *withSeverity) SafeFormatError(p errors.Printer) (next error) {
	if p.Detail() {
		p.Printf("severity: %s", redact.Safe(w.severity))
	}
	return w.cause
}
