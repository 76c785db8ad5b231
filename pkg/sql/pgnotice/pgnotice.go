// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package pgnotice builds client notices: non-fatal messages buffered for
// the client alongside a statement's results.
package pgnotice

import (
	"github.com/Arenadata-Labs/gpdb/pkg/sql/pgwire/pgcode"
	"github.com/Arenadata-Labs/gpdb/pkg/sql/pgwire/pgerror"
	"github.com/cockroachdb/errors"
)

// Notice is an error that is sent to the client as a notice instead of
// failing the statement.
type Notice error

// Newf generates a Notice with a format string.
func Newf(format string, args ...interface{}) Notice {
	err := errors.NewWithDepthf(1, format, args...)
	err = pgerror.WithCandidateCode(err, pgcode.Warning)
	return Notice(pgerror.WithSeverity(err, "NOTICE"))
}

// NewWithSeverityf generates a Notice with a format string and severity.
func NewWithSeverityf(severity string, format string, args ...interface{}) Notice {
	err := errors.NewWithDepthf(1, format, args...)
	err = pgerror.WithCandidateCode(err, pgcode.Warning)
	return Notice(pgerror.WithSeverity(err, severity))
}
