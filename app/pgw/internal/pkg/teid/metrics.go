package teid

import (
	"github.com/rcrowley/go-metrics"
)

// controller counters
const (
	addSuccess      = "teid.add.success"
	addCollision    = "teid.add.collision"
	addTimeout      = "teid.add.timeout"
	addDuplicateKey = "teid.add.duplicate_key"
	addFailed       = "teid.add.failed"
	released        = "teid.release"
	lookupHit       = "teid.lookup.hit"
	lookupMiss      = "teid.lookup.miss"
	liveEntries     = "teid.live"
)

type stats struct {
	success      metrics.Counter
	collision    metrics.Counter
	timeout      metrics.Counter
	duplicateKey metrics.Counter
	failed       metrics.Counter
	released     metrics.Counter
	hit          metrics.Counter
	miss         metrics.Counter
	live         metrics.Gauge
}

func newStats(r metrics.Registry) *stats {
	return &stats{
		success:      metrics.NewRegisteredCounter(addSuccess, r),
		collision:    metrics.NewRegisteredCounter(addCollision, r),
		timeout:      metrics.NewRegisteredCounter(addTimeout, r),
		duplicateKey: metrics.NewRegisteredCounter(addDuplicateKey, r),
		failed:       metrics.NewRegisteredCounter(addFailed, r),
		released:     metrics.NewRegisteredCounter(released, r),
		hit:          metrics.NewRegisteredCounter(lookupHit, r),
		miss:         metrics.NewRegisteredCounter(lookupMiss, r),
		live:         metrics.NewRegisteredGauge(liveEntries, r),
	}
}

func (s *stats) lookup(ok bool) {
	if ok {
		s.hit.Inc(1)
		return
	}
	s.miss.Inc(1)
}
