package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/AHINK/mesos/local"
	"github.com/AHINK/mesos/pkg/actor"
	"github.com/AHINK/mesos/pkg/logutil"
	"github.com/AHINK/mesos/pkg/transport"
)

func main() {
	var (
		numSlaves int
		resources string
		addr      string
		logCfg    logutil.Config
	)

	cmd := &cobra.Command{
		Use:          "mesos-local",
		Short:        "Run an in-process master and N slaves, for testing",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := logutil.InitLogger(&logCfg); err != nil {
				return err
			}
			sys := actor.NewSystem()
			endpoint, err := transport.NewEndpoint(sys, addr)
			if err != nil {
				return err
			}
			defer endpoint.Close()

			cluster, err := local.NewCluster(sys, local.Options{
				NumSlaves:      numSlaves,
				SlaveResources: resources,
			})
			if err != nil {
				return err
			}
			log.L().Info("local cluster running",
				zap.String("master", cluster.MasterAddr.String()),
				zap.Int("slaves", numSlaves))

			ch := make(chan os.Signal, 1)
			signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
			<-ch
			cluster.Stop()
			return nil
		},
	}
	fs := cmd.Flags()
	fs.IntVar(&numSlaves, "num-slaves", 1, "number of in-process slaves")
	fs.StringVar(&resources, "resources", "cpus:1;mem:1024", "resources per slave")
	fs.StringVar(&addr, "addr", "127.0.0.1:5050", "listen address, host:port")
	fs.StringVar(&logCfg.Level, "log-level", "info", "log level: debug, info, warn, error")
	fs.StringVar(&logCfg.File, "log-file", "", "log file path")

	if err := cmd.Execute(); err != nil {
		os.Exit(2)
	}
}
