// pktgen replays the ip packets of a pcap file as GTP-U traffic towards a
// gateway, one packet per interval.
package main

import (
	"context"
	"io"
	"net"
	"os"
	"time"

	"github.com/gogf/gf/v2/errors/gerror"
	"github.com/gogf/gf/v2/os/gcmd"
	"github.com/gogf/gf/v2/os/gctx"
	"github.com/gogf/gf/v2/os/glog"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"pgw/app/pgw/internal/pkg/codec"
	"pgw/app/pgw/internal/pkg/id"
)

var (
	log = glog.New()
	ctx = gctx.New()
)

var Main = gcmd.Command{
	Name:  "pktgen",
	Usage: "pktgen --pfile in.pcap --teid 0x1234 [--dst 127.0.0.1:2152] [--interval 1s]",
	Brief: "send the ip packets of a pcap file tunnelled on one teid",
	Arguments: []gcmd.Argument{
		{Name: "pfile", Brief: "send packet use pcap file"},
		{Name: "teid", Brief: "teid to tunnel the packets on"},
		{Name: "dst", Brief: "gateway S5-U address"},
		{Name: "interval", Brief: "time between two packets"},
	},
	Func: func(ctx context.Context, parser *gcmd.Parser) error {
		dst := parser.GetOpt("dst", "127.0.0.1:2152").String()
		interval, err := time.ParseDuration(parser.GetOpt("interval", "1s").String())
		if err != nil {
			return gerror.Wrap(err, "interval")
		}
		teid := id.TEID(parser.GetOpt("teid").Uint32())
		if teid == 0 {
			return gerror.New("teid is required")
		}

		f, err := os.Open(parser.GetOpt("pfile").String())
		if err != nil {
			return gerror.Wrap(err, "open offline file failed")
		}
		defer f.Close()

		pkts, err := ipPackets(f)
		if err != nil {
			return err
		}

		conn, err := net.Dial("udp", dst)
		if err != nil {
			return gerror.Wrapf(err, "dial %s", dst)
		}
		defer conn.Close()

		return replay(ctx, conn, teid, pkts, interval)
	},
}

// ipPackets reads the ip packets out of an ethernet or raw ip capture.
func ipPackets(r io.Reader) ([][]byte, error) {
	rd, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, gerror.Wrap(err, "read pcap header")
	}

	src := gopacket.NewPacketSource(rd, rd.LinkType())

	var out [][]byte
	for pkt := range src.Packets() {
		var l gopacket.Layer
		if l = pkt.Layer(layers.LayerTypeIPv4); l == nil {
			l = pkt.Layer(layers.LayerTypeIPv6)
		}
		if l == nil {
			log.Debugf(ctx, "no ip layer found")
			continue
		}
		out = append(out, append(l.LayerContents(), l.LayerPayload()...))
	}
	return out, nil
}

func replay(ctx context.Context, w io.Writer, teid id.TEID, pkts [][]byte, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i, p := range pkts {
		b, err := codec.Encap(teid, p)
		if err != nil {
			return err
		}
		if _, err := w.Write(b); err != nil {
			return gerror.Wrapf(err, "send packet %d", i)
		}
		log.Debugf(ctx, "sent packet %d of %d bytes on %s", i, len(p), teid)

		if i == len(pkts)-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	log.Infof(ctx, "sent %d packets on %s", len(pkts), teid)
	return nil
}

func main() {
	Main.Run(ctx)
}
