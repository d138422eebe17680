package cmd

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cilium/ebpf"
	"github.com/gin-gonic/gin"
	"github.com/gogf/gf/v2/errors/gerror"
	"github.com/gogf/gf/v2/os/gcmd"
	"github.com/gogf/gf/v2/os/glog"
	"golang.org/x/sync/errgroup"

	"pgw/app/pgw/internal/pkg/gateway"
	"pgw/app/pgw/internal/pkg/oam"
	"pgw/app/pgw/internal/pkg/port"
	"pgw/app/pgw/internal/pkg/reporter"
	"pgw/app/pgw/internal/pkg/rule"
	"pgw/app/pgw/internal/pkg/stat"
	"pgw/app/pgw/internal/pkg/teid"
)

var log = glog.New()

var Main = gcmd.Command{
	Name:  "pgw",
	Usage: "pgw [-c config.yaml] [--s5u :2152] [--oam :8892]",
	Brief: "packet gateway user plane: S5-U tunnel termination and TEID control",
	Arguments: []gcmd.Argument{
		{Name: "config", Short: "c", Brief: "config file, manifest/config/config.yaml when empty"},
		{Name: "s5u", Brief: "S5-U listen address, overrides pgw.s5u.listen"},
		{Name: "oam", Brief: "OAM http listen address, overrides pgw.oam.listen"},
	},
	Func: func(ctx context.Context, parser *gcmd.Parser) (err error) {
		c, err := LoadConfig(ctx, parser.GetOpt("config").String())
		if err != nil {
			return err
		}
		if v := parser.GetOpt("s5u"); !v.IsEmpty() {
			c.S5U.Listen = v.String()
		}
		if v := parser.GetOpt("oam"); !v.IsEmpty() {
			c.OAM.Listen = v.String()
		}

		closer := setupLogging(c.Log)
		defer closer.Close()

		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		return run(ctx, c)
	},
}

func openMap(path string) (*ebpf.Map, error) {
	m, err := ebpf.LoadPinnedMap(path, nil)
	if err != nil {
		return nil, gerror.Wrapf(err, "open pinned map %s", path)
	}
	return m, nil
}

func datapath(c BPFConfig) (*rule.Datapath, map[string]*stat.Stat, error) {
	stats := map[string]*stat.Stat{}
	for name, path := range map[string]string{"uplink": c.UplinkStat, "downlink": c.DownlinkStat} {
		if path == "" {
			continue
		}
		m, err := openMap(path)
		if err != nil {
			return nil, nil, err
		}
		stats[name] = &stat.Stat{Map: m}
	}

	if c.UplinkMap == "" {
		return nil, stats, nil
	}

	local, err := netip.ParseAddr(c.Local)
	if err != nil {
		return nil, nil, gerror.Wrap(err, "bpf.local")
	}
	ul, err := openMap(c.UplinkMap)
	if err != nil {
		return nil, nil, err
	}
	dl, err := openMap(c.DownlinkMap)
	if err != nil {
		return nil, nil, err
	}

	return &rule.Datapath{UL: ul, DL: dl, Local: local}, stats, nil
}

func run(ctx context.Context, c *Config) error {
	dp, stats, err := datapath(c.BPF)
	if err != nil {
		return err
	}

	gw := gateway.New(gateway.Config{
		Budget:        c.Budget(),
		MaxRetries:    c.Attach.MaxRetries,
		RetryInterval: c.RetryInterval(),
		Datapath:      dp,
		Teid: teid.Config{
			HaltOnDuplicateKey: c.Teid.HaltOnDuplicateKey,
			StoreCapacity:      c.Teid.StoreCapacity,
			Shards:             c.Teid.Shards,
			Seed:               c.Teid.Seed,
		},
	})

	relay := &gateway.Relay{Gateway: gw}

	s5, err := port.NewPort(&port.Config{
		InterfaceType: port.S5U,
		Listen:        c.S5U.Listen,
		Workers:       c.S5U.Workers,
		Handler:       port.HandlerFunc(relay.SgwHandle),
	})
	if err != nil {
		return err
	}
	relay.S5 = s5

	var sgi *port.Port
	if c.SGi.Listen != "" {
		sgi, err = port.NewPort(&port.Config{
			InterfaceType: port.SGi,
			Listen:        c.SGi.Listen,
			Workers:       c.SGi.Workers,
			Handler:       port.HandlerFunc(relay.PdnHandle),
		})
		if err != nil {
			_ = s5.Close()
			return err
		}
		pdn, err := net.ResolveUDPAddr("udp", c.SGi.PDN)
		if err != nil {
			_ = s5.Close()
			_ = sgi.Close()
			return gerror.Wrap(err, "sgi.pdn")
		}
		relay.SGi, relay.PDN = sgi, pdn
	} else {
		relay.SGi = dropSender{}
	}

	g, ctx := errgroup.WithContext(ctx)

	for _, p := range []*port.Port{s5, sgi} {
		if p == nil {
			continue
		}
		if err := p.Run(ctx); err != nil {
			return err
		}
		g.Go(func() error {
			p.Wait()
			return nil
		})
	}

	if c.Pcap.Path != "" {
		f, err := os.Create(c.Pcap.Path)
		if err != nil {
			return gerror.Wrapf(err, "create %s", c.Pcap.Path)
		}
		defer f.Close()
		g.Go(func() error {
			return s5.Pcap(ctx, f)
		})
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:    c.OAM.Listen,
		Handler: oam.NewRouter(gin.New(), gw),
	}
	g.Go(func() error {
		log.Infof(ctx, "oam listening on %s", c.OAM.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return gerror.Wrap(err, "oam server")
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	})

	rep := &reporter.Reporter{Interval: c.ReportInterval(), Source: gw, Stats: stats}
	g.Go(func() error {
		rep.Loop(ctx)
		return nil
	})

	err = g.Wait()
	log.Infof(context.Background(), "pgw stopped with %d sessions", gw.Len())
	return err
}

// dropSender stands in for the PDN side when none is configured.
type dropSender struct{}

func (dropSender) Send(msg []byte, _ net.Addr) error {
	return gerror.Newf("no pdn side configured, %d bytes dropped", len(msg))
}
