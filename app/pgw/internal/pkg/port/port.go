// Package port  will receive packet from a socket
// then dispatch them to a handler,
// and send packet using the same socket
package port

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogf/gf/v2/errors/gerror"
	"github.com/gogf/gf/v2/os/glog"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

var log = glog.New()

const (
	maxPacket   = 2048
	snapshotLen = 65536
	defaultQ    = 10000
)

type MsgHandler interface {
	MsgHandle(ctx context.Context, msg []byte, from net.Addr) error
}

type HandlerFunc func(ctx context.Context, msg []byte, from net.Addr) error

func (f HandlerFunc) MsgHandle(ctx context.Context, msg []byte, from net.Addr) error {
	return f(ctx, msg, from)
}

type InterfaceType string

const (
	// S5U carries GTP-U over UDP to and from the S-GW.
	S5U InterfaceType = "s5u"
	// SGi carries plain IP packets to and from the PDN.
	SGi InterfaceType = "sgi"
)

type Config struct {
	InterfaceType InterfaceType
	// Network and Listen are handed to net.ListenPacket.
	Network string
	Listen  string
	Handler MsgHandler
	// Queue is the receive backlog, Workers the number of handler goroutines.
	Queue   int
	Workers int
}

func NewPort(config *Config) (*Port, error) {

	//type and name check
	if config == nil {
		return nil, gerror.New("config should not be nil")
	}

	if config.InterfaceType != S5U && config.InterfaceType != SGi {
		return nil, gerror.Newf("unknown interface type %q", config.InterfaceType)
	}

	//handler check
	if config.Handler == nil {
		return nil, gerror.Newf("handler shouldn't be nil for %s port", config.InterfaceType)
	}

	network := config.Network
	if network == "" {
		network = "udp"
	}

	conn, err := net.ListenPacket(network, config.Listen)
	if err != nil {
		return nil, gerror.Wrapf(err, "listen %s %s", network, config.Listen)
	}

	q, workers := config.Queue, config.Workers
	if q <= 0 {
		q = defaultQ
	}
	if workers <= 0 {
		workers = 1
	}

	p := &Port{
		InterfaceType:   config.InterfaceType,
		Handler:         config.Handler,
		conn:            conn,
		workers:         workers,
		receivedPackets: make(chan Packet, q),
		pcapChan:        make(chan Packet, q),
	}

	return p, nil
}

type Packet struct {
	Data []byte
	From net.Addr
	At   time.Time
}

// String dumps the decoded layers of the packet.
func (p Packet) String() string {
	pkt := gopacket.NewPacket(p.Data, layers.LayerTypeGTPv1U, gopacket.Default)
	if len(p.Data) > 0 && p.Data[0]>>4 == 4 {
		pkt = gopacket.NewPacket(p.Data, layers.LayerTypeIPv4, gopacket.Default)
	}
	return pkt.Dump()
}

type Port struct {
	InterfaceType InterfaceType
	Handler       MsgHandler

	conn    net.PacketConn
	workers int
	wg      sync.WaitGroup

	receivedPackets chan Packet

	setUpPcap atomic.Bool
	pcapChan  chan Packet
}

func (p *Port) Addr() net.Addr {
	return p.conn.LocalAddr()
}

// Run starts the reader and the workers and returns. Everything stops and
// the socket is closed once ctx is done.
func (p *Port) Run(ctx context.Context) error {

	log.Infof(ctx, "port %s listening on %s", p.InterfaceType, p.conn.LocalAddr())

	go func() {
		<-ctx.Done()
		_ = p.conn.Close()
	}()

	//receive packets and send to channel
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			buf := make([]byte, maxPacket)

			n, from, err := p.conn.ReadFrom(buf)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return
				}
				log.Error(ctx, err)
				continue
			}

			pkt := Packet{Data: buf[:n], From: from, At: time.Now()}

			select {
			case p.receivedPackets <- pkt:
			case <-ctx.Done():
				return
			}

			if p.setUpPcap.Load() {
				select {
				case p.pcapChan <- pkt:
				default:
					log.Warning(ctx, "pcap queue full, packet not captured")
				}
			}
		}
	}()

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.worker(ctx)
		}()
	}

	return nil
}

// Wait blocks until the reader and the workers of a running port are done.
func (p *Port) Wait() {
	p.wg.Wait()
}

func (p *Port) Send(msg []byte, to net.Addr) error {
	//send packet to port
	_, err := p.conn.WriteTo(msg, to)
	if err != nil {
		return gerror.Wrapf(err, "send to %s", to)
	}
	return nil
}

func (p *Port) Close() error {
	//close port
	return p.conn.Close()
}

func (p *Port) worker(ctx context.Context) {

	for {
		select {
		case <-ctx.Done():
			return
		case packet := <-p.receivedPackets:
			if len(packet.Data) == 0 {
				log.Error(ctx, "packet too short")
				continue
			}

			if err := p.Handler.MsgHandle(ctx, packet.Data, packet.From); err != nil {
				log.Debugf(ctx, "%s packet from %s dropped: %v\n%s", p.InterfaceType, packet.From, err, packet)
			}
		}
	}
}

// Pcap writes every received packet to w until ctx is done. S5-U payloads
// get an IPv4/UDP header put back so the capture decodes as GTP-U.
func (p *Port) Pcap(ctx context.Context, w io.Writer) error {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapshotLen, layers.LinkTypeRaw); err != nil {
		return gerror.Wrap(err, "write pcap header")
	}

	p.setUpPcap.Store(true)
	defer p.setUpPcap.Store(false)

	for {
		select {
		case <-ctx.Done():
			return nil
		case pkt := <-p.pcapChan:
			frame := p.frame(pkt)
			ci := gopacket.CaptureInfo{
				Timestamp:     pkt.At,
				CaptureLength: len(frame),
				Length:        len(frame),
			}
			if err := pw.WritePacket(ci, frame); err != nil {
				return gerror.Wrap(err, "write pcap packet")
			}
		}
	}
}

func (p *Port) frame(pkt Packet) []byte {
	if p.InterfaceType != S5U {
		return pkt.Data
	}

	src, ok1 := pkt.From.(*net.UDPAddr)
	dst, ok2 := p.conn.LocalAddr().(*net.UDPAddr)
	if !ok1 || !ok2 || src.IP.To4() == nil {
		return pkt.Data
	}

	dstIP := dst.IP.To4()
	if dstIP == nil || dstIP.IsUnspecified() {
		dstIP = net.IPv4zero.To4()
	}

	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    src.IP.To4(),
		DstIP:    dstIP,
	}
	udp := &layers.UDP{SrcPort: layers.UDPPort(src.Port), DstPort: layers.UDPPort(dst.Port)}

	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true},
		ip, udp, gopacket.Payload(pkt.Data))
	if err != nil {
		return pkt.Data
	}
	return buf.Bytes()
}
