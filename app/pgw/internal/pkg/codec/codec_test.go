package codec

import (
	"net"
	"net/netip"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pgw/app/pgw/internal/pkg/id"
)

func udp4(t *testing.T, src, dst string, sport, dport uint16) []byte {
	t.Helper()

	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.ParseIP(src).To4(),
		DstIP:    net.ParseIP(dst).To4(),
	}
	udp := &layers.UDP{SrcPort: layers.UDPPort(sport), DstPort: layers.UDPPort(dport)}

	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true},
		ip, udp, gopacket.Payload("hello"))
	require.NoError(t, err)
	return buf.Bytes()
}

func tcp6(t *testing.T, src, dst string, sport, dport uint16) []byte {
	t.Helper()

	ip := &layers.IPv6{
		Version:    6,
		HopLimit:   64,
		NextHeader: layers.IPProtocolTCP,
		SrcIP:      net.ParseIP(src),
		DstIP:      net.ParseIP(dst),
	}
	tcp := &layers.TCP{SrcPort: layers.TCPPort(sport), DstPort: layers.TCPPort(dport), SYN: true, Window: 1024}

	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, ip, tcp)
	require.NoError(t, err)
	return buf.Bytes()
}

func TestDecodeIPv4(t *testing.T) {
	h, err := DecodeIP(udp4(t, "10.45.0.2", "8.8.8.8", 40000, 53))
	require.NoError(t, err)

	assert.EqualValues(t, 4, h.Version)
	assert.Equal(t, netip.MustParseAddr("10.45.0.2"), h.Src)
	assert.Equal(t, netip.MustParseAddr("8.8.8.8"), h.Dst)
	assert.Equal(t, layers.IPProtocolUDP, h.Protocol)
	assert.EqualValues(t, 40000, h.SrcPort)
	assert.EqualValues(t, 53, h.DstPort)

	assert.Equal(t, id.UEKey(netip.MustParseAddr("10.45.0.2")), h.UEKey(Uplink))
	assert.Equal(t, id.UEKey(netip.MustParseAddr("8.8.8.8")), h.UEKey(Downlink))
	assert.Equal(t, id.FlowKey{
		UE:       netip.MustParseAddr("10.45.0.2"),
		Port:     40000,
		Protocol: uint8(layers.IPProtocolUDP),
	}, h.FlowKey(Uplink))
}

func TestDecodeIPv6(t *testing.T) {
	h, err := DecodeIP(tcp6(t, "2001:db8::1", "2001:db8::2", 443, 51000))
	require.NoError(t, err)

	assert.EqualValues(t, 6, h.Version)
	assert.Equal(t, netip.MustParseAddr("2001:db8::2"), h.UE(Downlink))
	assert.Equal(t, layers.IPProtocolTCP, h.Protocol)
	assert.EqualValues(t, 51000, h.FlowKey(Downlink).Port)
}

func TestDecodeIPRejects(t *testing.T) {
	_, err := DecodeIP(nil)
	assert.ErrorIs(t, err, ErrShortPacket)

	_, err = DecodeIP([]byte{0x50, 0, 0, 0})
	assert.ErrorIs(t, err, ErrBadVersion)

	_, err = DecodeIP([]byte{0x45, 0, 0})
	assert.Error(t, err)
}

func TestEncapDecap(t *testing.T) {
	inner := udp4(t, "8.8.8.8", "10.45.0.2", 53, 40000)

	b, err := Encap(0x1234, inner)
	require.NoError(t, err)
	assert.Len(t, b, 8+len(inner))

	pkt := gopacket.NewPacket(b, layers.LayerTypeGTPv1U, gopacket.Default)
	gtp, ok := pkt.Layer(layers.LayerTypeGTPv1U).(*layers.GTPv1U)
	require.True(t, ok)
	assert.EqualValues(t, 0x1234, gtp.TEID)
	assert.EqualValues(t, MsgTypeGPDU, gtp.MessageType)
	assert.EqualValues(t, len(inner), gtp.MessageLength)

	teid, payload, err := Decap(b)
	require.NoError(t, err)
	assert.Equal(t, id.TEID(0x1234), teid)
	assert.Equal(t, inner, payload)
}

func echoRequest(t *testing.T, seq uint16) []byte {
	t.Helper()

	gtp := &layers.GTPv1U{
		Version:            1,
		ProtocolType:       1,
		SequenceNumberFlag: true,
		SequenceNumber:     seq,
		MessageType:        MsgTypeEchoRequest,
		MessageLength:      4,
	}
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, gtp))
	return buf.Bytes()
}

func TestDecapRejectsSignalling(t *testing.T) {
	_, _, err := Decap(echoRequest(t, 1))
	assert.ErrorIs(t, err, ErrNotGPDU)

	_, _, err = Decap([]byte{0x30, 0xff})
	assert.Error(t, err)
}

func TestEchoResponse(t *testing.T) {
	resp, ok, err := EchoResponse(echoRequest(t, 77))
	require.NoError(t, err)
	require.True(t, ok)

	var gtp layers.GTPv1U
	require.NoError(t, gtp.DecodeFromBytes(resp, gopacket.NilDecodeFeedback))
	assert.EqualValues(t, MsgTypeEchoResponse, gtp.MessageType)
	assert.EqualValues(t, 77, gtp.SequenceNumber)
	assert.Equal(t, []byte{ieRecovery, 0}, gtp.Payload)

	gpdu, err := Encap(1, []byte{0x45})
	require.NoError(t, err)
	_, ok, err = EchoResponse(gpdu)
	assert.NoError(t, err)
	assert.False(t, ok)
}
