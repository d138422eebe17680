// Package codec decodes the tunneled IP headers and adds or strips the
// GTPv1-U header around them.
package codec

import (
	"net/netip"

	"github.com/gogf/gf/v2/errors/gerror"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"pgw/app/pgw/internal/pkg/id"
)

const (
	GTPUPort = 2152

	MsgTypeEchoRequest  uint8 = 1
	MsgTypeEchoResponse uint8 = 2
	MsgTypeGPDU         uint8 = 255

	ieRecovery uint8 = 14
)

var (
	ErrShortPacket = gerror.New("packet too short")
	ErrBadVersion  = gerror.New("unknown ip version")
	ErrNotGPDU     = gerror.New("not a g-pdu")
)

type Direction uint8

const (
	Uplink Direction = iota + 1
	Downlink
)

func (d Direction) String() string {
	switch d {
	case Uplink:
		return "uplink"
	case Downlink:
		return "downlink"
	default:
		return "unknown direction"
	}
}

// Header is the part of a tunneled IP packet the gateway looks at.
type Header struct {
	Version  uint8
	Src      netip.Addr
	Dst      netip.Addr
	Protocol layers.IPProtocol
	SrcPort  uint16
	DstPort  uint16
	// IPv4 only. IPv6 extension headers stay in Payload.
	Options []layers.IPv4Option
	Payload []byte
}

// DecodeIP decodes an IPv4 or IPv6 packet, dispatching on the version
// nibble. Transport ports are filled in for TCP and UDP.
func DecodeIP(b []byte) (*Header, error) {
	if len(b) < 1 {
		return nil, ErrShortPacket
	}

	h := &Header{Version: b[0] >> 4}

	switch h.Version {
	case 4:
		var ip layers.IPv4
		if err := ip.DecodeFromBytes(b, gopacket.NilDecodeFeedback); err != nil {
			return nil, gerror.Wrap(err, "decode ipv4")
		}
		h.Src, _ = netip.AddrFromSlice(ip.SrcIP.To4())
		h.Dst, _ = netip.AddrFromSlice(ip.DstIP.To4())
		h.Protocol = ip.Protocol
		h.Options = ip.Options
		h.Payload = ip.Payload
	case 6:
		var ip layers.IPv6
		if err := ip.DecodeFromBytes(b, gopacket.NilDecodeFeedback); err != nil {
			return nil, gerror.Wrap(err, "decode ipv6")
		}
		h.Src, _ = netip.AddrFromSlice(ip.SrcIP)
		h.Dst, _ = netip.AddrFromSlice(ip.DstIP)
		h.Protocol = ip.NextHeader
		h.Payload = ip.Payload
	default:
		return nil, gerror.Wrapf(ErrBadVersion, "version %d", h.Version)
	}

	h.decodePorts()

	return h, nil
}

func (h *Header) decodePorts() {
	switch h.Protocol {
	case layers.IPProtocolUDP:
		var udp layers.UDP
		if udp.DecodeFromBytes(h.Payload, gopacket.NilDecodeFeedback) == nil {
			h.SrcPort, h.DstPort = uint16(udp.SrcPort), uint16(udp.DstPort)
		}
	case layers.IPProtocolTCP:
		var tcp layers.TCP
		if tcp.DecodeFromBytes(h.Payload, gopacket.NilDecodeFeedback) == nil {
			h.SrcPort, h.DstPort = uint16(tcp.SrcPort), uint16(tcp.DstPort)
		}
	}
}

// UE returns the subscriber side address for traffic flowing in dir.
func (h *Header) UE(dir Direction) netip.Addr {
	if dir == Uplink {
		return h.Src
	}
	return h.Dst
}

// UEKey is the per-UE flow key of the packet.
func (h *Header) UEKey(dir Direction) id.FlowKey {
	return id.UEKey(h.UE(dir))
}

// FlowKey narrows the key to the UE side port and protocol.
func (h *Header) FlowKey(dir Direction) id.FlowKey {
	k := h.UEKey(dir)
	k.Protocol = uint8(h.Protocol)
	if dir == Uplink {
		k.Port = h.SrcPort
	} else {
		k.Port = h.DstPort
	}
	return k
}

var serializeOpts = gopacket.SerializeOptions{FixLengths: true}

// Encap wraps payload in a G-PDU addressed to teid.
func Encap(teid id.TEID, payload []byte) ([]byte, error) {
	gtp := &layers.GTPv1U{
		Version:       1,
		ProtocolType:  1,
		MessageType:   MsgTypeGPDU,
		MessageLength: uint16(len(payload)),
		TEID:          uint32(teid),
	}

	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, serializeOpts, gtp, gopacket.Payload(payload)); err != nil {
		return nil, gerror.Wrapf(err, "encap %s", teid)
	}

	return buf.Bytes(), nil
}

// Decap strips the GTP-U header of a G-PDU and returns the tunneled packet.
func Decap(b []byte) (id.TEID, []byte, error) {
	gtp, err := decodeGTP(b)
	if err != nil {
		return 0, nil, err
	}

	if gtp.MessageType != MsgTypeGPDU {
		return id.TEID(gtp.TEID), nil, gerror.Wrapf(ErrNotGPDU, "message type %d", gtp.MessageType)
	}

	return id.TEID(gtp.TEID), gtp.Payload, nil
}

func decodeGTP(b []byte) (*layers.GTPv1U, error) {
	var gtp layers.GTPv1U
	if err := gtp.DecodeFromBytes(b, gopacket.NilDecodeFeedback); err != nil {
		return nil, gerror.Wrap(err, "decode gtp-u")
	}
	return &gtp, nil
}

// EchoResponse answers a GTP-U echo request. ok is false for any other
// message.
func EchoResponse(b []byte) (resp []byte, ok bool, err error) {
	req, err := decodeGTP(b)
	if err != nil {
		return nil, false, err
	}

	if req.MessageType != MsgTypeEchoRequest {
		return nil, false, nil
	}

	recovery := []byte{ieRecovery, 0}
	gtp := &layers.GTPv1U{
		Version:            1,
		ProtocolType:       1,
		SequenceNumberFlag: true,
		SequenceNumber:     req.SequenceNumber,
		MessageType:        MsgTypeEchoResponse,
		// sequence number, n-pdu number and next extension type octets
		MessageLength: uint16(4 + len(recovery)),
	}

	// GTPv1U appends its optional octets rather than prepending them, so the
	// IE has to go in after the header is written.
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, serializeOpts, gtp); err != nil {
		return nil, false, gerror.Wrap(err, "echo response")
	}
	ie, err := buf.AppendBytes(len(recovery))
	if err != nil {
		return nil, false, gerror.Wrap(err, "echo response")
	}
	copy(ie, recovery)

	return buf.Bytes(), true, nil
}
