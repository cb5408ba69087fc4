package main

import (
	"github.com/spf13/cobra"

	"github.com/danmuck/tracectl/internal/collector"
	"github.com/danmuck/tracectl/internal/logging"
)

func listenCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		outputDir  string
		adminAddr  string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Run a relay that collects traces from recorders",
		Long: `Run a relay that collects traces from recorders.

Each recorder session gets its own directory under the output
directory, holding the metadata stream (trace.dat) and one raw file
per CPU.

Examples:
  tracectl listen
  tracectl listen --addr :8809 --output /var/lib/tracectl
  tracectl listen --config relay.toml --admin 127.0.0.1:8810`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListen(configPath, addr, outputDir, adminAddr, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Relay config file (TOML)")
	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Control listen address")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Directory for per-session output")
	cmd.Flags().StringVar(&adminAddr, "admin", "", "Admin HTTP listen address")
	cmd.Flags().BoolVar(&debug, "debug", false, "Disable receive timeouts and trace frames")

	return cmd
}

func runListen(configPath, addr, outputDir, adminAddr string, debug bool) error {
	logging.ConfigureRuntime("tracectl")

	cfg := collector.DefaultServiceConfig()
	if configPath != "" {
		loaded, err := loadRelayConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if addr != "" {
		cfg.ListenAddr = addr
	}
	if outputDir != "" {
		cfg.OutputDir = outputDir
	}
	if adminAddr != "" {
		cfg.AdminListenAddr = adminAddr
	}
	if debug {
		cfg.Session.Debug = true
	}

	return collector.NewServiceWithConfig(cfg).Run()
}
