package cmd

import (
	"context"
	"net"
	"time"

	"github.com/gogf/gf/v2/errors/gerror"
	"github.com/gogf/gf/v2/os/gcfg"
)

const configNode = "pgw"

type TeidConfig struct {
	Budget             string
	HaltOnDuplicateKey bool
	StoreCapacity      int
	Shards             int
	Seed               uint64
}

type AttachConfig struct {
	MaxRetries    uint64
	RetryInterval string
}

type S5UConfig struct {
	Listen  string
	Workers int
}

type SGiConfig struct {
	// Listen receives raw ip packets from the PDN, uplink packets are sent
	// to PDN.
	Listen  string
	PDN     string
	Workers int
}

type OAMConfig struct {
	Listen string
}

type ReportConfig struct {
	Interval string
}

type LogConfig struct {
	Level      string
	Path       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
}

type PcapConfig struct {
	Path string
}

// BPFConfig names pinned maps of a loaded datapath. Rules are only
// installed when both rule maps are set.
type BPFConfig struct {
	Local        string
	UplinkMap    string
	DownlinkMap  string
	UplinkStat   string
	DownlinkStat string
}

type Config struct {
	Teid   TeidConfig
	Attach AttachConfig
	S5U    S5UConfig
	SGi    SGiConfig
	OAM    OAMConfig
	Report ReportConfig
	Log    LogConfig
	Pcap   PcapConfig
	BPF    BPFConfig

	budget, retryInterval, reportInterval time.Duration
}

// LoadConfig reads the pgw node of file, or of the default config file
// lookup when file is empty.
func LoadConfig(ctx context.Context, file string) (*Config, error) {
	adapter, err := gcfg.NewAdapterFile()
	if err != nil {
		return nil, gerror.Wrap(err, "config adapter")
	}
	if file != "" {
		adapter.SetFileName(file)
	}

	c := &Config{}
	if adapter.Available(ctx, "") {
		v, err := gcfg.NewWithAdapter(adapter).Get(ctx, configNode)
		if err != nil {
			return nil, gerror.Wrapf(err, "read %s", configNode)
		}
		if !v.IsNil() {
			if err := v.Scan(c); err != nil {
				return nil, gerror.Wrapf(err, "scan %s", configNode)
			}
		}
	} else if file != "" {
		return nil, gerror.Newf("config file %s not found", file)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func duration(name, s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, gerror.Wrapf(err, "%s", name)
	}
	if d < 0 {
		return 0, gerror.Newf("%s must not be negative", name)
	}
	return d, nil
}

// Validate fills in defaults and checks the values.
func (c *Config) Validate() error {
	var err error

	if c.budget, err = duration("teid.budget", c.Teid.Budget, 100*time.Millisecond); err != nil {
		return err
	}
	if c.budget == 0 {
		return gerror.New("teid.budget must be positive")
	}
	if c.retryInterval, err = duration("attach.retryInterval", c.Attach.RetryInterval, 10*time.Millisecond); err != nil {
		return err
	}
	if c.reportInterval, err = duration("report.interval", c.Report.Interval, 10*time.Second); err != nil {
		return err
	}
	if c.reportInterval == 0 {
		return gerror.New("report.interval must be positive")
	}

	if c.Teid.StoreCapacity < 0 {
		return gerror.New("teid.storeCapacity must not be negative")
	}
	if c.Attach.MaxRetries == 0 {
		c.Attach.MaxRetries = 5
	}

	if c.S5U.Listen == "" {
		c.S5U.Listen = ":2152"
	}
	if c.OAM.Listen == "" {
		c.OAM.Listen = ":8892"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if _, ok := levels[c.Log.Level]; !ok {
		return gerror.Newf("unknown log.level %q", c.Log.Level)
	}
	if c.Log.MaxSize == 0 {
		c.Log.MaxSize = 100
	}

	if (c.SGi.Listen == "") != (c.SGi.PDN == "") {
		return gerror.New("sgi.listen and sgi.pdn go together")
	}
	if c.SGi.PDN != "" {
		if _, err := net.ResolveUDPAddr("udp", c.SGi.PDN); err != nil {
			return gerror.Wrap(err, "sgi.pdn")
		}
	}

	if (c.BPF.UplinkMap == "") != (c.BPF.DownlinkMap == "") {
		return gerror.New("bpf.uplinkMap and bpf.downlinkMap go together")
	}
	if c.BPF.UplinkMap != "" && c.BPF.Local == "" {
		return gerror.New("bpf.local is needed to build downlink templates")
	}

	return nil
}

func (c *Config) Budget() time.Duration         { return c.budget }
func (c *Config) RetryInterval() time.Duration  { return c.retryInterval }
func (c *Config) ReportInterval() time.Duration { return c.reportInterval }
