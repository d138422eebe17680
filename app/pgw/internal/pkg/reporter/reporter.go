package reporter

import (
	"context"
	"time"

	"github.com/gogf/gf/v2/os/glog"
	jsoniter "github.com/json-iterator/go"
	"github.com/rcrowley/go-metrics"

	"pgw/app/pgw/internal/pkg/stat"
)

var log = glog.New()

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Source interface {
	Len() int
	Registry() metrics.Registry
}

// Reporter periodically logs the session table and its counters, and the
// datapath totals when there are any.
type Reporter struct {
	Interval time.Duration
	Source   Source
	Stats    map[string]*stat.Stat
}

// Snapshot flattens counters and gauges of r into name -> value.
func Snapshot(r metrics.Registry) map[string]int64 {
	out := make(map[string]int64)
	r.Each(func(name string, m interface{}) {
		switch v := m.(type) {
		case metrics.Counter:
			out[name] = v.Count()
		case metrics.Gauge:
			out[name] = v.Value()
		case metrics.Meter:
			out[name] = v.Count()
		}
	})
	return out
}

// Encode is Snapshot as json.
func Encode(r metrics.Registry) ([]byte, error) {
	return json.Marshal(Snapshot(r))
}

func (c *Reporter) report(ctx context.Context) {
	b, err := Encode(c.Source.Registry())
	if err != nil {
		log.Errorf(ctx, "encode metrics: %+v", err)
		return
	}
	log.Infof(ctx, "sessions:%d metrics:%s", c.Source.Len(), b)

	for name, s := range c.Stats {
		if err := s.Refresh(ctx); err != nil {
			log.Errorf(ctx, "refresh %s stat error %s", name, err)
			continue
		}

		log.Debugf(ctx, "refresh %s stat success", name)
		log.Debugf(ctx, "TotalReceivedPackets:%d", s.ReceivedPackets())
		log.Debugf(ctx, "TotalReceivedBytes:%d", s.ReceivedBytes())
		log.Debugf(ctx, "TotalForwardPackets:%d", s.ForwardPackets())
		log.Debugf(ctx, "TotalForwardBytes:%d", s.ForwardBytes())
	}
}

// Loop reports every Interval until ctx is done.
func (c *Reporter) Loop(ctx context.Context) {

	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.report(ctx)
			return
		case <-ticker.C:
			c.report(ctx)
		}
	}
}
