package gateway

import (
	"context"
	"net"
	"net/netip"

	"github.com/gogf/gf/v2/errors/gerror"
)

type Sender interface {
	Send(msg []byte, to net.Addr) error
}

// Relay moves packets between the S5-U socket and the PDN side socket.
// The PDN side carries raw IP packets; uplink packets all go to PDN.
type Relay struct {
	Gateway *Gateway
	S5      Sender
	SGi     Sender
	PDN     net.Addr
}

func addrPort(a net.Addr) (netip.AddrPort, error) {
	switch v := a.(type) {
	case *net.UDPAddr:
		ap := v.AddrPort()
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
	case nil:
		return netip.AddrPort{}, gerror.New("no source address")
	default:
		ap, err := netip.ParseAddrPort(a.String())
		if err != nil {
			return netip.AddrPort{}, gerror.Wrapf(err, "source address %s", a)
		}
		return ap, nil
	}
}

func (r *Relay) send(ctx context.Context, f *Forward) error {
	var err error
	switch f.State {
	case SgwReceived:
		err = r.SGi.Send(f.Payload, r.PDN)
	case PdnReceived, EchoReceived:
		err = r.S5.Send(f.Payload, net.UDPAddrFromAddrPort(f.Peer))
	default:
		return nil
	}
	if err != nil {
		return gerror.Wrapf(err, "send %s packet", f.State)
	}

	log.Debugf(ctx, "%s packet of %d bytes forwarded", f.State, len(f.Payload))
	f.State = Sent
	return nil
}

// SgwHandle handles packets read from the S5-U socket.
func (r *Relay) SgwHandle(ctx context.Context, msg []byte, from net.Addr) error {
	ap, err := addrPort(from)
	if err != nil {
		return err
	}

	f, err := r.Gateway.HandleSgwRecv(ctx, ap, msg)
	if err != nil {
		return err
	}
	return r.send(ctx, f)
}

// PdnHandle handles packets read from the PDN side socket.
func (r *Relay) PdnHandle(ctx context.Context, msg []byte, _ net.Addr) error {
	f, err := r.Gateway.HandlePdnRecv(ctx, msg)
	if err != nil {
		return err
	}
	return r.send(ctx, f)
}
