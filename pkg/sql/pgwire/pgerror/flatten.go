// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package pgerror

import (
	"strings"

	"github.com/Arenadata-Labs/gpdb/pkg/sql/pgwire/pgcode"
	"github.com/cockroachdb/errors"
	"github.com/lib/pq"
)

// InternalErrorPrefix is prepended on internal errors.
const InternalErrorPrefix = "internal error: "

// Flatten turns any error into a wire-level error with its fields
// populated. Returns a nil ptr if err was nil to start with.
func Flatten(err error) *pq.Error {
	if err == nil {
		return nil
	}
	code := GetPGCode(err)
	resErr := &pq.Error{
		Severity: GetSeverity(err),
		Code:     pq.ErrorCode(code.String()),
		Message:  err.Error(),
		Detail:   errors.FlattenDetails(err),
		Hint:     errors.FlattenHints(err),
	}
	if code == pgcode.Internal && !strings.HasPrefix(resErr.Message, InternalErrorPrefix) {
		resErr.Message = InternalErrorPrefix + resErr.Message
	}
	return resErr
}
