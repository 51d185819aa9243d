package slave

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/errors"

	"github.com/AHINK/mesos/pkg/logutil"
)

// Config configures a slave process.
type Config struct {
	// Addr is the listen address, "host:port". Port 0 picks a free port.
	Addr string `toml:"addr" json:"addr"`

	// Master is the master url: "host:port", "etcd://...", "etcdfile://...".
	Master string `toml:"master" json:"master"`

	// Resources are the total consumable resources of this node, e.g.
	// "cpus:4;mem:8192;ports:[31000-32000]".
	Resources string `toml:"resources" json:"resources"`

	// WorkDir is where framework work directories are placed.
	WorkDir string `toml:"work-dir" json:"work-dir"`

	// Hostname defaults to os.Hostname; PublicHostname overrides what is
	// reported to the master's web ui (MESOS_PUBLIC_DNS).
	Hostname       string `toml:"hostname" json:"hostname"`
	PublicHostname string `toml:"public-hostname" json:"public-hostname"`

	// SwitchUser runs tasks as the submitting user instead of the slave's.
	SwitchUser bool `toml:"switch-user" json:"switch-user"`

	// FrameworksHome is prepended to relative executor paths.
	FrameworksHome string `toml:"frameworks-home" json:"frameworks-home"`

	// HadoopHome locates hadoop for executors fetched from HDFS.
	HadoopHome string `toml:"hadoop-home" json:"hadoop-home"`

	Log logutil.Config `toml:"log" json:"log"`
}

// NewConfig returns a Config with defaults applied.
func NewConfig() *Config {
	cfg := &Config{}
	cfg.Adjust()
	return cfg
}

// Adjust fills defaults.
func (c *Config) Adjust() {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:0"
	}
	if c.Resources == "" {
		c.Resources = "cpus:1;mem:1024"
	}
	if c.WorkDir == "" {
		c.WorkDir = "work"
	}
	if c.Hostname == "" {
		if hostname, err := os.Hostname(); err == nil {
			c.Hostname = hostname
		} else {
			c.Hostname = "localhost"
		}
	}
	if c.PublicHostname == "" {
		if dns := os.Getenv("MESOS_PUBLIC_DNS"); dns != "" {
			c.PublicHostname = dns
		} else {
			c.PublicHostname = c.Hostname
		}
	}
	c.Log.Adjust()
}

// FromFile loads the toml file over the current values.
func (c *Config) FromFile(path string) error {
	if _, err := toml.DecodeFile(path, c); err != nil {
		return errors.Trace(err)
	}
	c.Adjust()
	return nil
}
