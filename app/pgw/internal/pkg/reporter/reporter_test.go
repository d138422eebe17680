package reporter

import (
	"context"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pgw/app/pgw/internal/pkg/stat"
)

type source struct {
	reg metrics.Registry
}

func (s *source) Len() int                   { return 3 }
func (s *source) Registry() metrics.Registry { return s.reg }

type lookups struct{ n int }

func (l *lookups) Lookup(_, _ interface{}) error {
	l.n++
	return nil
}

func TestSnapshot(t *testing.T) {
	reg := metrics.NewRegistry()
	metrics.GetOrRegisterCounter("teid.add.success", reg).Inc(4)
	metrics.GetOrRegisterGauge("teid.live", reg).Update(3)
	metrics.GetOrRegisterHistogram("ignored", reg, metrics.NewUniformSample(10))

	snap := Snapshot(reg)
	assert.Equal(t, map[string]int64{"teid.add.success": 4, "teid.live": 3}, snap)

	b, err := Encode(reg)
	require.NoError(t, err)

	var decoded map[string]int64
	require.NoError(t, jsoniter.Unmarshal(b, &decoded))
	assert.Equal(t, snap, decoded)
}

func TestLoopStopsWithContext(t *testing.T) {
	l := &lookups{}
	r := &Reporter{
		Interval: time.Millisecond,
		Source:   &source{reg: metrics.NewRegistry()},
		Stats:    map[string]*stat.Stat{"uplink": {Map: l}},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		r.Loop(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
	assert.Greater(t, l.n, 1)
}
