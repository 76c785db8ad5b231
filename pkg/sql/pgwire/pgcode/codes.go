// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package pgcode defines the PostgreSQL error codes (SQLSTATE) reported by
// the portal machinery.
package pgcode

// Code is a wrapper around a five-character SQLSTATE.
type Code struct {
	code string
}

// MakeCode converts a string into a Code.
func MakeCode(s string) Code {
	return Code{code: s}
}

// String returns the underlying SQLSTATE.
func (c Code) String() string {
	return c.code
}

// SafeValue implements redact.SafeValue.
func (c Code) SafeValue() {}

// Class returns the two-character class of the code.
func (c Code) Class() string {
	if len(c.code) < 2 {
		return c.code
	}
	return c.code[:2]
}

// PG error codes from:
// http://www.postgresql.org/docs/current/static/errcodes-appendix.html.
var (
	// Class 01 - Warning
	Warning = MakeCode("01000")
	// Class 0A - Feature Not Supported
	FeatureNotSupported = MakeCode("0A000")
	// Class 24 - Invalid Cursor State
	InvalidCursorState = MakeCode("24000")
	// Class 25 - Invalid Transaction State
	ActiveSQLTransaction   = MakeCode("25001")
	NoActiveSQLTransaction = MakeCode("25P01")
	InFailedSQLTransaction = MakeCode("25P02")
	// Class 34 - Invalid Cursor Name
	InvalidCursorName = MakeCode("34000")
	// Class 3B - Savepoint Exception
	InvalidSavepointSpecification = MakeCode("3B001")
	// Class 42 - Syntax Error or Access Rule Violation
	DuplicateCursor = MakeCode("42P03")
	// Class 53 - Insufficient Resources
	InsufficientResources      = MakeCode("53000")
	DiskFull                   = MakeCode("53100")
	OutOfMemory                = MakeCode("53200")
	ConfigurationLimitExceeded = MakeCode("53400")
	// Class 55 - Object Not In Prerequisite State
	ObjectNotInPrerequisiteState = MakeCode("55000")
	// Class 57 - Operator Intervention
	QueryCanceled = MakeCode("57014")
	// Class XX - Internal Error
	Internal = MakeCode("XX000")
	// Uncategorized is used for errors that flow out to a client when
	// there's no code known yet.
	Uncategorized = MakeCode("XXUUU")
)
