package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/AHINK/mesos/pkg/actor"
	"github.com/AHINK/mesos/pkg/detector"
	"github.com/AHINK/mesos/pkg/logutil"
	"github.com/AHINK/mesos/pkg/transport"
	"github.com/AHINK/mesos/slave"
)

func main() {
	cfg := slave.NewConfig()
	var configFile string

	cmd := &cobra.Command{
		Use:          "mesos-slave",
		Short:        "Run a worker node agent",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFile != "" {
				if err := cfg.FromFile(configFile); err != nil {
					return err
				}
			}
			cfg.Adjust()
			return run(cfg)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&configFile, "config", "", "path to a toml config file")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address, host:port")
	fs.StringVar(&cfg.Master, "master", "127.0.0.1:5050", "master url: host:port or etcd://...")
	fs.StringVar(&cfg.Resources, "resources", cfg.Resources,
		"total consumable resources, e.g. cpus:4;mem:8192")
	fs.StringVar(&cfg.WorkDir, "work-dir", cfg.WorkDir, "where to place framework work directories")
	fs.BoolVar(&cfg.SwitchUser, "switch-user", false,
		"run tasks as the submitting user (requires setuid permission)")
	fs.StringVar(&cfg.FrameworksHome, "frameworks-home", "",
		"directory prepended to relative executor paths")
	fs.StringVar(&cfg.HadoopHome, "hadoop-home", "",
		"where to find hadoop, for executors fetched from HDFS")
	fs.StringVar(&cfg.Log.Level, "log-level", "info", "log level: debug, info, warn, error")
	fs.StringVar(&cfg.Log.File, "log-file", "", "log file path")

	if err := cmd.Execute(); err != nil {
		os.Exit(2)
	}
}

func run(cfg *slave.Config) error {
	if err := logutil.InitLogger(&cfg.Log); err != nil {
		return err
	}
	sys := actor.NewSystem()
	endpoint, err := transport.NewEndpoint(sys, cfg.Addr)
	if err != nil {
		return err
	}
	defer endpoint.Close()

	det, err := detector.New(cfg.Master)
	if err != nil {
		return err
	}
	defer det.Close()

	s, err := slave.New("slave", cfg, sys.Clock(), slave.NewProcessIsolation(sys.Clock()), det)
	if err != nil {
		return err
	}
	addr, err := sys.Spawn(s.Name(), s.Run)
	if err != nil {
		return err
	}
	log.L().Info("slave running", zap.String("pid", addr.String()))

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
	log.L().Info("shutting down")
	sys.Stop()
	return nil
}
