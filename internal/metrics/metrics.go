// Package metrics holds the small set of atomic counters the orchestrator,
// cache, and queue manager expose for observability, modeled directly on
// the teacher's atomic.Int64 counter structs (cachemanager.Metrics,
// monitoring.MetricsCollector) but shrunk to what an embedded client
// library needs rather than a dashboard-backed monitoring service.
package metrics

import "sync/atomic"

// Counters is the process-wide counter set for one Orchestrator instance.
type Counters struct {
	CacheHits     atomic.Int64
	CacheMisses   atomic.Int64
	Coalesced     atomic.Int64
	TasksEnqueued atomic.Int64
	TasksDemoted  atomic.Int64
	DiskIOErrors  atomic.Int64
}

// Snapshot is a point-in-time, non-atomic copy suitable for logging or
// returning from a diagnostics call.
type Snapshot struct {
	CacheHits     int64
	CacheMisses   int64
	Coalesced     int64
	TasksEnqueued int64
	TasksDemoted  int64
	DiskIOErrors  int64
}

// Snapshot reads every counter. Individual reads are atomic; the snapshot
// as a whole is not a consistent point-in-time view under concurrent
// writers, which matches the teacher's own GetMetrics() semantics.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		CacheHits:     c.CacheHits.Load(),
		CacheMisses:   c.CacheMisses.Load(),
		Coalesced:     c.Coalesced.Load(),
		TasksEnqueued: c.TasksEnqueued.Load(),
		TasksDemoted:  c.TasksDemoted.Load(),
		DiskIOErrors:  c.DiskIOErrors.Load(),
	}
}
