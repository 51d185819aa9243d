package master

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/errors"

	"github.com/AHINK/mesos/pkg/logutil"
)

// Duration is a time.Duration that unmarshals from "10s"-style toml
// strings.
type Duration struct {
	time.Duration
}

// UnmarshalText implements toml unmarshaling.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Trace(err)
	}
	d.Duration = parsed
	return nil
}

// Config configures a master process.
type Config struct {
	// Addr is the listen address, "host:port". Port 0 picks a free port.
	Addr string `toml:"addr" json:"addr"`

	// MasterURL enables coordinated leader election when it names an
	// etcd:// or etcdfile:// url; empty means standalone.
	MasterURL string `toml:"master-url" json:"master-url"`

	// FailoverTimeout is how long a disconnected framework's state is
	// kept before it is treated as unregistered.
	FailoverTimeout Duration `toml:"failover-timeout" json:"failover-timeout"`

	// AllocationInterval paces the allocator's timer ticks.
	AllocationInterval Duration `toml:"allocation-interval" json:"allocation-interval"`

	// AtomicOfferReplies rejects a whole offer reply when any task in it
	// fails validation, instead of only the bad task.
	AtomicOfferReplies bool `toml:"atomic-offer-replies" json:"atomic-offer-replies"`

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
		c.Addr = "127.0.0.1:5050"
	}
	if c.FailoverTimeout.Duration == 0 {
		c.FailoverTimeout.Duration = time.Minute
	}
	if c.AllocationInterval.Duration == 0 {
		c.AllocationInterval.Duration = time.Second
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

func (d Duration) String() string {
	return d.Duration.String()
}
