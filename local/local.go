package local

import (
	"fmt"

	"github.com/pingcap/errors"
	"golang.org/x/sync/errgroup"

	"github.com/AHINK/mesos/master"
	"github.com/AHINK/mesos/pkg/actor"
	"github.com/AHINK/mesos/pkg/detector"
	"github.com/AHINK/mesos/slave"
)

// Cluster is an in-process master plus N slaves sharing one actor
// system: the "local" / "local/N" master url. It backs mesos-local and
// the end-to-end tests.
type Cluster struct {
	Sys        *actor.System
	MasterAddr actor.Address

	slaveNames []string
}

// Options configures a local cluster.
type Options struct {
	NumSlaves int
	// SlaveResources is the resource string every slave advertises.
	SlaveResources string
	// Isolation builds the isolation module of slave i; nil uses
	// process isolation.
	Isolation func(i int) slave.IsolationModule
	// MasterConfig overrides the default master config when non-nil.
	MasterConfig *master.Config
}

// NewCluster assembles and starts the cluster.
func NewCluster(sys *actor.System, opts Options) (*Cluster, error) {
	if opts.NumSlaves <= 0 {
		opts.NumSlaves = 1
	}
	if opts.SlaveResources == "" {
		opts.SlaveResources = "cpus:1;mem:1024"
	}
	masterCfg := opts.MasterConfig
	if masterCfg == nil {
		masterCfg = master.NewConfig()
	}

	clk := sys.Clock()
	m := master.New(masterCfg, master.NewSimpleAllocator(clk), clk)
	masterAddr, err := sys.Spawn(master.ActorName, m.Run)
	if err != nil {
		return nil, errors.Trace(err)
	}

	c := &Cluster{Sys: sys, MasterAddr: masterAddr}
	for i := 0; i < opts.NumSlaves; i++ {
		cfg := slave.NewConfig()
		cfg.Resources = opts.SlaveResources
		cfg.WorkDir = fmt.Sprintf("work/local-%d", i)
		var isolation slave.IsolationModule
		if opts.Isolation != nil {
			isolation = opts.Isolation(i)
		} else {
			isolation = slave.NewProcessIsolation(clk)
		}
		name := fmt.Sprintf("slave(%d)", i)
		s, err := slave.New(name, cfg, clk, isolation, detector.NewStatic(masterAddr))
		if err != nil {
			c.Stop()
			return nil, errors.Trace(err)
		}
		if _, err := sys.Spawn(name, s.Run); err != nil {
			c.Stop()
			return nil, errors.Trace(err)
		}
		c.slaveNames = append(c.slaveNames, name)
	}
	return c, nil
}

// SlaveAddr returns the address of slave i.
func (c *Cluster) SlaveAddr(i int) actor.Address {
	return c.Sys.Address(c.slaveNames[i])
}

// Stop terminates the slaves, then the master, and waits for all.
func (c *Cluster) Stop() {
	var eg errgroup.Group
	for _, name := range c.slaveNames {
		name := name
		c.Sys.Terminate(c.Sys.Address(name))
		eg.Go(func() error {
			c.Sys.Wait(name)
			return nil
		})
	}
	_ = eg.Wait()
	c.Sys.Terminate(c.MasterAddr)
	c.Sys.Wait(master.ActorName)
}

// ParseURL reports whether url selects local mode and with how many
// slaves.
func ParseURL(url string) (numSlaves int, ok bool) {
	if url == "local" {
		return 1, true
	}
	var n int
	if _, err := fmt.Sscanf(url, "local/%d", &n); err == nil && n > 0 {
		return n, true
	}
	return 0, false
}
