package gateway

import (
	"context"
	"net/netip"

	"github.com/gogf/gf/v2/errors/gerror"

	"pgw/app/pgw/internal/pkg/codec"
)

type State uint8

const (
	// Sent means nothing is left to send.
	Sent State = iota
	// PdnReceived is a downlink packet to tunnel to the S-GW.
	PdnReceived
	// SgwReceived is an uplink packet to hand to the PDN.
	SgwReceived
	// EchoReceived is an echo response to return to the S-GW.
	EchoReceived
)

func (s State) String() string {
	switch s {
	case Sent:
		return "sent"
	case PdnReceived:
		return "pdn received"
	case SgwReceived:
		return "sgw received"
	case EchoReceived:
		return "echo received"
	default:
		return "unknown state"
	}
}

// Forward is the result of handling one packet: Payload goes to Peer
// towards the S-GW, or to Dst on the PDN side.
type Forward struct {
	State   State
	UE      netip.Addr
	Peer    netip.AddrPort
	Dst     netip.Addr
	Payload []byte
}

// HandleSgwRecv handles a GTP-U packet received from the S-GW at from.
func (g *Gateway) HandleSgwRecv(ctx context.Context, from netip.AddrPort, buf []byte) (*Forward, error) {
	t, inner, err := codec.Decap(buf)
	if err != nil {
		resp, ok, eerr := codec.EchoResponse(buf)
		if ok {
			g.echo.Inc(1)
			log.Debugf(ctx, "echo request from %s", from)
			return &Forward{State: EchoReceived, Peer: from, Payload: resp}, nil
		}
		if eerr != nil {
			err = eerr
		}
		g.dropped.Inc(1)
		return nil, err
	}

	key, ref, ok := g.ctrl.Get(t)
	if !ok {
		g.dropped.Inc(1)
		return nil, gerror.Wrapf(ErrNoSession, "uplink on %s", t)
	}

	h, err := codec.DecodeIP(inner)
	if err != nil {
		g.dropped.Inc(1)
		return nil, gerror.Wrapf(err, "uplink on %s", t)
	}

	if h.UEKey(codec.Uplink) != key {
		g.dropped.Inc(1)
		return nil, gerror.Wrapf(ErrSpoofed, "uplink on %s from %s, session of %s", t, h.Src, key)
	}

	if peer := ref.Value().Peer; peer.Addr() != from.Addr() {
		log.Debugf(ctx, "uplink on %s from %s, bearer peer is %s", t, from, peer)
	}

	g.uplink.Inc(1)
	return &Forward{
		State:   SgwReceived,
		UE:      key.UE,
		Peer:    from,
		Dst:     h.Dst,
		Payload: inner,
	}, nil
}

// HandlePdnRecv handles an IP packet received from the PDN.
func (g *Gateway) HandlePdnRecv(ctx context.Context, buf []byte) (*Forward, error) {
	h, err := codec.DecodeIP(buf)
	if err != nil {
		g.dropped.Inc(1)
		return nil, gerror.Wrap(err, "downlink")
	}

	key := h.UEKey(codec.Downlink)
	_, ref, ok := g.ctrl.GetWithKey(key)
	if !ok {
		g.dropped.Inc(1)
		return nil, gerror.Wrapf(ErrNoSession, "downlink to %s", key)
	}
	bearer := ref.Value()

	b, err := codec.Encap(bearer.RemoteTEID, buf)
	if err != nil {
		g.dropped.Inc(1)
		return nil, err
	}

	log.Debugf(ctx, "downlink %s -> %s on %s", h.Src, key, bearer.RemoteTEID)

	g.downlink.Inc(1)
	return &Forward{
		State:   PdnReceived,
		UE:      key.UE,
		Peer:    bearer.Peer,
		Dst:     key.UE,
		Payload: b,
	}, nil
}
