package stat

import (
	"context"

	"github.com/gogf/gf/v2/errors/gerror"
	"github.com/gogf/gf/v2/os/glog"
)

var log = glog.New()

// Map is satisfied by *ebpf.Map.
type Map interface {
	Lookup(key, valueOut interface{}) error
}

type bpfStatT struct {
	TotalReceivedBytes   uint64
	TotalForwardBytes    uint64
	TotalReceivedPackets uint64
	TotalForwardPackets  uint64
}

type Stat struct {

	//Map type is BPF_MAP_TYPE_PERCPU_ARRAY
	Map Map
	Key uint32

	bpfStatT
}

// Refresh pull data from map
func (s *Stat) Refresh(ctx context.Context) error {

	var bpfStat []bpfStatT

	err := s.Map.Lookup(&s.Key, &bpfStat)
	if err != nil {
		return gerror.Wrapf(err, "lookup stat %d", s.Key)
	}

	if len(bpfStat) == 0 {
		return gerror.Newf(
			"stat not found with key: %d",
			s.Key)
	}
	log.Debugf(ctx, "get cores:%d", len(bpfStat))

	var sum bpfStatT
	for _, c := range bpfStat {
		sum.TotalReceivedBytes += c.TotalReceivedBytes
		sum.TotalForwardBytes += c.TotalForwardBytes
		sum.TotalForwardPackets += c.TotalForwardPackets
		sum.TotalReceivedPackets += c.TotalReceivedPackets
	}
	s.bpfStatT = sum

	return nil
}

func (s *Stat) ReceivedBytes() uint64   { return s.TotalReceivedBytes }
func (s *Stat) ForwardBytes() uint64    { return s.TotalForwardBytes }
func (s *Stat) ReceivedPackets() uint64 { return s.TotalReceivedPackets }
func (s *Stat) ForwardPackets() uint64  { return s.TotalForwardPackets }
