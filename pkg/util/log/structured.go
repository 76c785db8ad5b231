// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package log

import (
	"context"
	"strings"

	"github.com/cockroachdb/logtags"
	"github.com/cockroachdb/redact"
)

// FormatWithContextTags formats the string and prepends the context
// tags.
//
// Redaction markers are *not* inserted. The resulting
// string is generally unsafe for reporting.
func FormatWithContextTags(ctx context.Context, format string, args ...interface{}) string {
	var buf strings.Builder
	if tags := renderTags(ctx); tags != "" {
		buf.WriteByte('[')
		buf.WriteString(tags)
		buf.WriteString("] ")
	}
	buf.WriteString(redact.Sprintf(format, args...).StripMarkers())
	return buf.String()
}

// renderTags renders the logging tags of ctx as "k1=v1,k2".
func renderTags(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	tags := logtags.FromContext(ctx)
	if tags == nil {
		return ""
	}
	var buf strings.Builder
	for i, t := range tags.Get() {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(t.Key())
		if v := t.Value(); v != nil {
			if len(t.Key()) > 1 {
				buf.WriteByte('=')
			}
			buf.WriteString(t.ValueStr())
		}
	}
	return buf.String()
}
