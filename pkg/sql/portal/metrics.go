// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package portal

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts portal lifecycle events.
type Metrics struct {
	Created        prometheus.Counter
	Dropped        prometheus.Counter
	Persisted      prometheus.Counter
	CleanupSkipped prometheus.Counter
	Open           prometheus.Gauge
}

// NewMetrics creates the portal metrics and registers them on reg if it is
// non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sql",
			Subsystem: "portal",
			Name:      "created_total",
			Help:      "Number of portals created.",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sql",
			Subsystem: "portal",
			Name:      "dropped_total",
			Help:      "Number of portals dropped.",
		}),
		Persisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sql",
			Subsystem: "portal",
			Name:      "persisted_total",
			Help:      "Number of holdable cursors materialized at commit.",
		}),
		CleanupSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sql",
			Subsystem: "portal",
			Name:      "cleanup_skipped_total",
			Help:      "Number of portals destroyed during abort cleanup without running their cleanup hook.",
		}),
		Open: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sql",
			Subsystem: "portal",
			Name:      "open",
			Help:      "Number of portals currently registered.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Created, m.Dropped, m.Persisted, m.CleanupSkipped, m.Open)
	}
	return m
}
