package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/AHINK/mesos/master"
	"github.com/AHINK/mesos/pkg/actor"
	"github.com/AHINK/mesos/pkg/detector"
	"github.com/AHINK/mesos/pkg/logutil"
	"github.com/AHINK/mesos/pkg/transport"
)

func main() {
	cfg := master.NewConfig()
	var configFile string

	cmd := &cobra.Command{
		Use:          "mesos-master",
		Short:        "Run the cluster master",
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
	fs.StringVar(&cfg.MasterURL, "master-url", "", "etcd:// url for coordinated leader election")
	fs.BoolVar(&cfg.AtomicOfferReplies, "atomic-offer-replies", false,
		"reject a whole offer reply when any task in it is invalid")
	fs.StringVar(&cfg.Log.Level, "log-level", "info", "log level: debug, info, warn, error")
	fs.StringVar(&cfg.Log.File, "log-file", "", "log file path")

	if err := cmd.Execute(); err != nil {
		os.Exit(2)
	}
}

func run(cfg *master.Config) error {
	if err := logutil.InitLogger(&cfg.Log); err != nil {
		return err
	}
	sys := actor.NewSystem()
	endpoint, err := transport.NewEndpoint(sys, cfg.Addr)
	if err != nil {
		return err
	}
	defer endpoint.Close()

	m := master.New(cfg, master.NewSimpleAllocator(sys.Clock()), sys.Clock())
	addr, err := sys.Spawn(master.ActorName, m.Run)
	if err != nil {
		return err
	}
	log.L().Info("master running", zap.String("pid", addr.String()))

	if cfg.MasterURL != "" {
		det, err := detector.New(cfg.MasterURL)
		if err != nil {
			return err
		}
		defer det.Close()
		appointer, ok := det.(detector.Appointer)
		if !ok {
			log.L().Warn("master url does not support appointment, running standalone",
				zap.String("url", cfg.MasterURL))
		} else if err := appointer.Appoint(context.Background(), addr); err != nil {
			return err
		}
	}

	waitForSignal()
	log.L().Info("shutting down")
	sys.Stop()
	return nil
}

func waitForSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
}
