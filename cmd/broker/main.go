package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/logrusorgru/aurora"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inyotech/mqtt-broker/broker"
	"github.com/inyotech/mqtt-broker/config"
	"github.com/inyotech/mqtt-broker/listeners"
)

func main() {
	var configPath string

	cmd := &cobra.Command{
		Use:          "broker",
		Short:        "An MQTT 3.1.1 message broker",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "f", "", "path to a YAML configuration file")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	fmt.Println(aurora.Magenta("MQTT broker initializing..."))

	server := broker.New()

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	server.Log.SetLevel(level)

	if err := server.AddListener(listeners.NewTCP("tcp", cfg.ListenAddress), nil); err != nil {
		return err
	}

	if cfg.WSAddress != "" {
		if err := server.AddListener(listeners.NewWebsocket("ws", cfg.WSAddress), nil); err != nil {
			return err
		}
	}

	if cfg.SysInfoAddress != "" {
		if err := server.AddListener(listeners.NewHTTPStats("stats", cfg.SysInfoAddress), nil); err != nil {
			return err
		}
	}

	server.Serve()
	fmt.Println(aurora.BgMagenta("  Started!  "))

	<-sigs
	fmt.Println(aurora.BgRed("  Caught Signal  "))

	server.Close()
	fmt.Println(aurora.BgGreen("  Finished  "))

	return nil
}
