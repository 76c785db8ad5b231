// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package portal

import (
	"github.com/Arenadata-Labs/gpdb/pkg/sql/pgwire/pgcode"
	"github.com/Arenadata-Labs/gpdb/pkg/sql/pgwire/pgerror"
	"github.com/cockroachdb/errors"
)

// Error markers. Use errors.Is to test for them.
var (
	// ErrDuplicateName is returned when a portal is created under a name
	// that is already taken.
	ErrDuplicateName = errors.New("duplicate portal name")
	// ErrInvalidState is returned when an operation requires a portal
	// status the portal does not have, or when an active or pinned portal is
	// dropped.
	ErrInvalidState = errors.New("invalid portal state")
	// ErrPinImbalance is returned when a portal is pinned twice or unpinned
	// while not pinned.
	ErrPinImbalance = errors.New("portal pin imbalance")
	// ErrFeatureNotSupported is returned when a holdable cursor created in
	// the transaction would have to be persisted during PREPARE TRANSACTION.
	ErrFeatureNotSupported = errors.New("feature not supported")
)

func duplicateNameError(name string) error {
	return errors.Mark(
		pgerror.Newf(pgcode.DuplicateCursor, "cursor %q already exists", name),
		ErrDuplicateName)
}

func cannotRunError(name string) error {
	return errors.Mark(
		pgerror.Newf(pgcode.ObjectNotInPrerequisiteState, "portal %q cannot be run", name),
		ErrInvalidState)
}

func cannotDropActiveError(name string) error {
	return errors.Mark(
		pgerror.Newf(pgcode.InvalidCursorState, "cannot drop active portal %q", name),
		ErrInvalidState)
}

func cannotDropPinnedError(name string) error {
	return errors.Mark(
		pgerror.Newf(pgcode.InvalidCursorState, "cannot drop pinned portal %q", name),
		ErrInvalidState)
}

func unexpectedStatusError(name string, op string, status Status) error {
	return errors.Mark(
		errors.AssertionFailedf("%s: portal %q has unexpected status %s", op, name, status),
		ErrInvalidState)
}

func pinImbalanceError(msg string) error {
	return errors.Mark(errors.AssertionFailedf("%s", msg), ErrPinImbalance)
}

func prepareWithHoldError() error {
	return errors.Mark(
		pgerror.New(pgcode.FeatureNotSupported,
			"cannot PREPARE a transaction that has created a cursor WITH HOLD"),
		ErrFeatureNotSupported)
}
