// Package gateway terminates S5-U tunnels. Each UE address gets a local
// TEID that the S-GW tunnels uplink traffic to, and downlink traffic for the
// UE is tunnelled back on the TEID the S-GW announced for the bearer.
package gateway

import (
	"context"
	"errors"
	"net/netip"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gogf/gf/v2/errors/gerror"
	"github.com/gogf/gf/v2/os/glog"
	"github.com/rcrowley/go-metrics"

	"pgw/app/pgw/internal/pkg/id"
	"pgw/app/pgw/internal/pkg/rule"
	"pgw/app/pgw/internal/pkg/slab"
	"pgw/app/pgw/internal/pkg/teid"
)

var log = glog.New()

var (
	ErrNoSession = gerror.New("no session")
	ErrSpoofed   = gerror.New("inner source does not match the session")
)

const (
	uplinkPackets   = "gateway.uplink"
	downlinkPackets = "gateway.downlink"
	echoPackets     = "gateway.echo"
	droppedPackets  = "gateway.drop"
)

// Bearer is what the gateway needs to tunnel downlink traffic to the S-GW.
type Bearer struct {
	Peer       netip.AddrPort
	RemoteTEID id.TEID
	Created    time.Time
}

// Session is a snapshot of one attached UE.
type Session struct {
	TEID   id.TEID
	UE     netip.Addr
	Bearer Bearer
}

type Config struct {
	// Budget for a single registration attempt.
	Budget time.Duration
	// MaxRetries of a registration after a TEID collision or timeout.
	MaxRetries uint64
	// RetryInterval is the first backoff interval.
	RetryInterval time.Duration
	// Datapath gets the forwarding rules of every session when set.
	Datapath *rule.Datapath
	Teid     teid.Config
}

type Gateway struct {
	ctrl *teid.Controller[id.FlowKey, Bearer]
	dp   *rule.Datapath

	budget     time.Duration
	retries    uint64
	retryFirst time.Duration

	uplink, downlink, echo, dropped metrics.Counter
}

func New(c Config) *Gateway {
	ctrl := teid.New[id.FlowKey, Bearer](c.Teid)
	reg := ctrl.Registry()

	return &Gateway{
		ctrl:       ctrl,
		dp:         c.Datapath,
		budget:     c.Budget,
		retries:    c.MaxRetries,
		retryFirst: c.RetryInterval,
		uplink:     metrics.GetOrRegisterCounter(uplinkPackets, reg),
		downlink:   metrics.GetOrRegisterCounter(downlinkPackets, reg),
		echo:       metrics.GetOrRegisterCounter(echoPackets, reg),
		dropped:    metrics.GetOrRegisterCounter(droppedPackets, reg),
	}
}

func (g *Gateway) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if g.retryFirst > 0 {
		b.InitialInterval = g.retryFirst
	}
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, g.retries), ctx)
}

// Attach registers ue and returns the local TEID the S-GW should send its
// uplink traffic to. Collisions and timeouts are retried, a UE that is
// already attached is not.
func (g *Gateway) Attach(ctx context.Context, ue netip.Addr, peer netip.AddrPort, remote id.TEID) (id.TEID, error) {
	key := id.UEKey(ue)
	bearer := Bearer{
		Peer:       peer,
		RemoteTEID: remote,
		Created:    time.Now(),
	}

	var local id.TEID
	op := func() error {
		t, err := g.ctrl.AddResource(ctx, key, bearer, g.budget)
		if errors.Is(err, teid.ErrKeyInUse) {
			return backoff.Permanent(err)
		}
		if err != nil {
			return err
		}
		local = t
		return nil
	}

	notify := func(err error, next time.Duration) {
		log.Debugf(ctx, "attach %s retry in %s: %v", key, next, err)
	}

	if err := backoff.RetryNotify(op, g.policy(ctx), notify); err != nil {
		return 0, gerror.Wrapf(err, "attach %s", key)
	}

	if g.dp != nil {
		err := g.dp.Install(rule.Tunnel{
			Local:  local,
			Remote: remote,
			UE:     key.UE,
			Peer:   peer.Addr(),
		})
		if err != nil {
			if _, rerr := g.ctrl.Release(ctx, local); rerr != nil {
				log.Errorf(ctx, "release %s after failed rule install: %+v", local, rerr)
			}
			return 0, gerror.Wrapf(err, "attach %s", key)
		}
	}

	log.Infof(ctx, "attached %s on %s, peer %s %s", key, local, peer, remote)
	return local, nil
}

// Detach releases the session of ue and returns its TEID.
func (g *Gateway) Detach(ctx context.Context, ue netip.Addr) (id.TEID, error) {
	key := id.UEKey(ue)

	local, ref, err := g.ctrl.ReleaseByKey(ctx, key)
	if errors.Is(err, teid.ErrNotFound) {
		return 0, gerror.Wrapf(ErrNoSession, "detach %s", key)
	}
	if err != nil {
		return 0, gerror.Wrapf(err, "detach %s", key)
	}
	bearer := *ref.Value()

	if g.dp != nil {
		err := g.dp.Remove(rule.Tunnel{
			Local:  local,
			Remote: bearer.RemoteTEID,
			UE:     key.UE,
			Peer:   bearer.Peer.Addr(),
		})
		if err != nil {
			log.Warningf(ctx, "remove rules of %s: %+v", key, err)
		}
	}

	log.Infof(ctx, "detached %s from %s", key, local)
	return local, nil
}

func (g *Gateway) Lookup(t id.TEID) (Session, bool) {
	key, ref, ok := g.ctrl.Get(t)
	if !ok {
		return Session{}, false
	}
	return Session{TEID: t, UE: key.UE, Bearer: *ref.Value()}, true
}

func (g *Gateway) LookupUE(ue netip.Addr) (Session, bool) {
	key := id.UEKey(ue)
	t, ref, ok := g.ctrl.GetWithKey(key)
	if !ok {
		return Session{}, false
	}
	return Session{TEID: t, UE: key.UE, Bearer: *ref.Value()}, true
}

func (g *Gateway) Sessions() []Session {
	ss := make([]Session, 0, g.ctrl.Len())
	g.ctrl.Range(func(t id.TEID, key id.FlowKey, ref slab.Ref[Bearer]) bool {
		ss = append(ss, Session{TEID: t, UE: key.UE, Bearer: *ref.Value()})
		return true
	})
	return ss
}

func (g *Gateway) Len() int {
	return g.ctrl.Len()
}

func (g *Gateway) Registry() metrics.Registry {
	return g.ctrl.Registry()
}
