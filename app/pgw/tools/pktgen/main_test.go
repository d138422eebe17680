package main

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pgw/app/pgw/internal/pkg/codec"
)

func capture(t *testing.T) ([]byte, []byte) {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 6},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IP{10, 45, 0, 2},
		DstIP:    net.IP{8, 8, 8, 8},
	}
	udp := &layers.UDP{SrcPort: 40000, DstPort: 53}

	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true},
		eth, ip, udp, gopacket.Payload("query")))
	frame := buf.Bytes()

	var file bytes.Buffer
	w := pcapgo.NewWriter(&file)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	for i := 0; i < 2; i++ {
		ci := gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: len(frame), Length: len(frame)}
		require.NoError(t, w.WritePacket(ci, frame))
	}

	// ethernet pads the frame to its minimum size
	return file.Bytes(), frame[14 : 14+20+8+5]
}

type frames struct {
	out [][]byte
}

func (f *frames) Write(b []byte) (int, error) {
	f.out = append(f.out, append([]byte(nil), b...))
	return len(b), nil
}

func TestReplay(t *testing.T) {
	file, inner := capture(t)

	pkts, err := ipPackets(bytes.NewReader(file))
	require.NoError(t, err)
	require.Len(t, pkts, 2)
	assert.Equal(t, inner, pkts[0])

	w := &frames{}
	require.NoError(t, replay(context.Background(), w, 0x42, pkts, time.Millisecond))
	require.Len(t, w.out, 2)

	teid, payload, err := codec.Decap(w.out[1])
	require.NoError(t, err)
	assert.EqualValues(t, 0x42, teid)
	assert.Equal(t, inner, payload)
}
