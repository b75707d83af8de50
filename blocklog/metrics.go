// Copyright © 2026 ANTDBlockLog Contributors
// Licensed under the MIT License (MIT). See LICENSE in the repository root
// for more information.

package blocklog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the prometheus instrumentation for one LogStore. It is
// safe to register more than once per process only because each instance
// uses a private registry supplied by the caller.
type metrics struct {
	appendDuration   prometheus.Histogram
	readDuration     prometheus.Histogram
	rotations        prometheus.Counter
	retainedSegments prometheus.Gauge
	headBlockNum     prometheus.Gauge
}

// repairRunsTotal counts invocations of RepairLog. It lives at package
// scope, not on metrics, because repair runs against a data directory
// directly and has no open LogStore to hold a per-instance counter.
var repairRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "blocklog_repair_runs_total",
	Help: "Number of times repair_log has been invoked against a data directory.",
})

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		appendDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name: "blocklog_append_duration_seconds",
			Help: "Time spent appending a block to the live log.",
		}),
		readDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name: "blocklog_read_duration_seconds",
			Help: "Time spent reading a block by number.",
		}),
		rotations: factory.NewCounter(prometheus.CounterOpts{
			Name: "blocklog_rotations_total",
			Help: "Number of times the live log has been rotated into a segment.",
		}),
		retainedSegments: factory.NewGauge(prometheus.GaugeOpts{
			Name: "blocklog_retained_segments",
			Help: "Number of rotated segments currently retained in the catalog.",
		}),
		headBlockNum: factory.NewGauge(prometheus.GaugeOpts{
			Name: "blocklog_head_block_number",
			Help: "Block number of the current log head.",
		}),
	}
}
