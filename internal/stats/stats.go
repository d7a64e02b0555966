// Package stats holds the small set of live counters the INFO command
// reports directly (spec.md §6), separate from the Prometheus
// collectors in internal/metrics: INFO wants a point-in-time read, not
// a scrape-exported series.
package stats

import "sync/atomic"

// Stats is a set of process-lifetime counters, safe for concurrent use.
type Stats struct {
	connectionsActive int64
	connectionsTotal  int64
	commandsProcessed int64
}

func New() *Stats { return &Stats{} }

func (s *Stats) ConnectionOpened() {
	atomic.AddInt64(&s.connectionsActive, 1)
	atomic.AddInt64(&s.connectionsTotal, 1)
}

func (s *Stats) ConnectionClosed() {
	atomic.AddInt64(&s.connectionsActive, -1)
}

func (s *Stats) CommandProcessed() {
	atomic.AddInt64(&s.commandsProcessed, 1)
}

func (s *Stats) ConnectionsActive() int64 { return atomic.LoadInt64(&s.connectionsActive) }
func (s *Stats) ConnectionsTotal() int64  { return atomic.LoadInt64(&s.connectionsTotal) }
func (s *Stats) CommandsProcessed() int64 { return atomic.LoadInt64(&s.commandsProcessed) }
