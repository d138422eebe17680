package rule

import (
	"net/netip"

	"github.com/cilium/ebpf"
	"github.com/gogf/gf/v2/errors/gerror"

	"pgw/app/pgw/internal/pkg/id"
)

// Tunnel is one session as the datapath sees it.
type Tunnel struct {
	Local  id.TEID
	Remote id.TEID
	UE     netip.Addr
	Peer   netip.Addr
}

// Datapath installs the rule pair of a session into the uplink and downlink
// maps.
type Datapath struct {
	UL    Map
	DL    Map
	Local netip.Addr
}

func (d *Datapath) rules(t Tunnel) (*ULRule, *DLRule) {
	ul := &ULRule{Map: d.UL, TEID: t.Local}
	dl := &DLRule{
		Map:        d.DL,
		UE:         t.UE,
		RemoteTEID: t.Remote,
		Local:      d.Local,
		Peer:       t.Peer,
	}
	return ul, dl
}

// Install writes both rules. The uplink rule is rolled back when the
// downlink one cannot be written.
func (d *Datapath) Install(t Tunnel) error {
	ul, dl := d.rules(t)

	if err := ul.Update(ebpf.UpdateAny); err != nil {
		return err
	}

	if err := dl.Update(ebpf.UpdateAny); err != nil {
		if rerr := ul.Delete(); rerr != nil {
			return gerror.Wrapf(err, "rollback failed: %v", rerr)
		}
		return err
	}

	return nil
}

func (d *Datapath) Remove(t Tunnel) error {
	ul, dl := d.rules(t)

	dlErr := dl.Delete()
	if err := ul.Delete(); err != nil {
		return err
	}
	return dlErr
}
