package rule

import (
	"context"
	"net"
	"net/netip"

	"github.com/cilium/ebpf"
	"github.com/gogf/gf/v2/errors/gerror"
	"github.com/gogf/gf/v2/os/glog"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"pgw/app/pgw/internal/pkg/codec"
	"pgw/app/pgw/internal/pkg/id"
	"pgw/app/pgw/internal/pkg/utils"
)

type Desc uint8

var log = glog.New()

const (
	CreateGTPHeader Desc = iota + 1
	RemoveGTPHeader
)

const templateLen = 48

var ErrNotIPv4 = gerror.New("datapath rules need ipv4 addresses")

// Map is the part of *ebpf.Map the rules write to.
type Map interface {
	Update(key, value interface{}, flags ebpf.MapUpdateFlags) error
	Delete(key interface{}) error
}

type Rule struct {
	DropForGateControl bool
	DropForTest        bool

	PassForTest    bool
	PassForSample  bool
	PassForGetRule bool //last bit
	PassForPaging  bool

	StatID      uint16
	DescAction  Desc
	FlowControl uint8
	HeaderLen   uint8
}

// flags
// #define DROP(x) ((x>>56) & 0xff)
// #define PASS(x) ((x>>48) & 0xff)
// #define FLOW_CONTROL(x) ((x>>40) & 0xff)
// #define DESC(x) ((x>>32) & 0xff)
// #define STAT_ID(x) ((x>>16) & 0xffff)
// #define HEADER_LEN(x) ((x>>8) & 0xff)
func (r *Rule) flags() uint64 {

	drop := utils.Bool2byte(r.DropForGateControl)<<7 |
		utils.Bool2byte(r.DropForTest)<<6

	pass := utils.Bool2byte(r.PassForTest)<<5 |
		utils.Bool2byte(r.PassForSample)<<4 |
		utils.Bool2byte(r.PassForGetRule)<<3 |
		utils.Bool2byte(r.PassForPaging)<<2

	f := uint64(drop)<<56 |
		uint64(pass)<<48 |
		uint64(r.FlowControl)<<40 |
		uint64(r.DescAction)<<32 |
		uint64(r.StatID)<<16 |
		uint64(r.HeaderLen)<<8

	return f
}

// ULRule strips the GTP-U header of packets arriving from the S-GW on the
// local TEID. The key is the TEID in wire order.
type ULRule struct {
	Map  Map
	TEID id.TEID
	Rule
}

func (r *ULRule) key() uint32 {
	return utils.SwapUint32(uint32(r.TEID))
}

func (r *ULRule) Update(flag ebpf.MapUpdateFlags) error {
	r.DescAction = RemoveGTPHeader

	key := r.key()
	bpf := bpfUsrCtxUplinkT{
		Flags: r.flags(),
	}
	log.Debugf(context.Background(), "store ul rule %s flags %x", r.TEID, bpf.Flags)

	if err := r.Map.Update(&key, &bpf, flag); err != nil {
		return gerror.Wrapf(err, "update ul rule %s", r.TEID)
	}
	return nil
}

func (r *ULRule) Delete() error {
	key := r.key()
	if err := r.Map.Delete(&key); err != nil {
		return gerror.Wrapf(err, "delete ul rule %s", r.TEID)
	}
	return nil
}

// DLRule prepends a prebuilt outer IPv4/UDP/GTP-U header to packets headed
// for the UE, tunnelling them to the S-GW.
type DLRule struct {
	Map Map
	UE  netip.Addr

	Rule

	RemoteTEID id.TEID
	Local      netip.Addr
	Peer       netip.Addr
}

func (r *DLRule) key() (uint32, error) {
	k, ok := utils.KeyOfUEIP(r.UE)
	if !ok {
		return 0, gerror.Wrapf(ErrNotIPv4, "ue %s", r.UE)
	}
	return k, nil
}

func (r *DLRule) Update(flag ebpf.MapUpdateFlags) error {
	ctx := context.Background()

	key, err := r.key()
	if err != nil {
		return err
	}

	template, err := r.Template()
	if err != nil {
		return err
	}

	r.DescAction = CreateGTPHeader
	r.HeaderLen = uint8(len(template))

	log.Debugf(ctx, "update dl rule %s, template header len:%d", r.UE, r.HeaderLen)

	bpf := &bpfUsrCtxDownLinkT{
		Flags: r.flags(),
	}
	copy(bpf.Template[:], template)

	if err := r.Map.Update(&key, bpf, flag); err != nil {
		return gerror.Wrapf(err, "update dl rule %s", r.UE)
	}
	return nil
}

func (r *DLRule) Delete() error {
	key, err := r.key()
	if err != nil {
		return err
	}
	if err := r.Map.Delete(&key); err != nil {
		return gerror.Wrapf(err, "delete dl rule %s", r.UE)
	}
	return nil
}

// Template serialises the outer header. Length fields are left for the
// datapath to fill in per packet.
func (r *DLRule) Template() ([]byte, error) {
	ls, err := r.Layers()
	if err != nil {
		return nil, err
	}

	options := gopacket.SerializeOptions{
		FixLengths:       false,
		ComputeChecksums: false,
	}

	buffer := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buffer, options, ls...); err != nil {
		return nil, gerror.Wrap(err, "serialize layers failed")
	}

	b := buffer.Bytes()
	if len(b) > templateLen {
		return nil, gerror.Newf("template of %d bytes is too long", len(b))
	}

	return b, nil
}

func (r *DLRule) Layers() ([]gopacket.SerializableLayer, error) {
	if !r.Local.Unmap().Is4() || !r.Peer.Unmap().Is4() {
		return nil, gerror.Wrapf(ErrNotIPv4, "tunnel %s -> %s", r.Local, r.Peer)
	}

	src, dst := r.Local.Unmap().As4(), r.Peer.Unmap().As4()

	ipLayer := &layers.IPv4{
		Version:  4,
		Protocol: layers.IPProtocolUDP,
		IHL:      5,
		TTL:      0x80,
		Id:       0x1234,
		SrcIP:    net.IP(src[:]),
		DstIP:    net.IP(dst[:]),
	}

	udpLayer := &layers.UDP{
		SrcPort: layers.UDPPort(codec.GTPUPort),
		DstPort: layers.UDPPort(codec.GTPUPort),
	}

	gtpLayer := &layers.GTPv1U{
		Version:      1,
		ProtocolType: 1,
		MessageType:  codec.MsgTypeGPDU,
		TEID:         uint32(r.RemoteTEID),
	}

	return []gopacket.SerializableLayer{
		ipLayer,
		udpLayer,
		gtpLayer,
	}, nil
}

type bpfUsrCtxDownLinkT struct {
	Template [templateLen]uint8
	Flags    uint64
}

type bpfUsrCtxUplinkT struct{ Flags uint64 }
