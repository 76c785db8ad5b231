// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package timeutil

import "time"

// FullTimeFormat is the time format used to display any timestamp
// with date, time and time zone data.
const FullTimeFormat = "2006-01-02 15:04:05.999999-07:00:00"

// Now returns the current UTC time.
func Now() time.Time {
	return time.Now().UTC()
}

// Since returns the time elapsed since t.
func Since(t time.Time) time.Duration {
	return Now().Sub(t)
}

// Until returns the duration until t.
func Until(t time.Time) time.Duration {
	return t.Sub(Now())
}

// TimeSource is used to interact with clocks. Production code uses
// DefaultTimeSource; tests can substitute a manual clock.
type TimeSource interface {
	Now() time.Time
}

// DefaultTimeSource is a TimeSource backed by the system clock.
type DefaultTimeSource struct{}

// Now implements TimeSource.
func (DefaultTimeSource) Now() time.Time { return Now() }

// ManualTime is a TimeSource whose value only changes when it is advanced.
type ManualTime struct {
	now time.Time
}

// NewManualTime returns a ManualTime starting at t.
func NewManualTime(t time.Time) *ManualTime {
	return &ManualTime{now: t}
}

// Now implements TimeSource.
func (m *ManualTime) Now() time.Time { return m.now }

// Advance moves the clock forward by d.
func (m *ManualTime) Advance(d time.Duration) { m.now = m.now.Add(d) }
