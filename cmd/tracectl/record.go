package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/danmuck/tracectl/internal/logging"
	"github.com/danmuck/tracectl/internal/recorder"
)

type recordOptions struct {
	configPath string
	relayAddr  string
	cpuFiles   []string
	metadata   string
	pageSize   int
	useTCP     bool
	attempts   int
	debug      bool
}

func recordCmd() *cobra.Command {
	var opts recordOptions

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Ship local trace data to a relay",
		Long: `Ship local trace data to a relay.

Each --cpu-file becomes one raw data stream; the relay assigns one
data port per stream. The metadata file travels over the control
connection.

Examples:
  tracectl record --relay 10.0.0.5:8809 --cpu-file cpu0.raw --cpu-file cpu1.raw --metadata trace.dat
  tracectl record --config record.toml
  tracectl record --relay ws://relay.example.com/trace --metadata trace.dat`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Record config file (TOML)")
	cmd.Flags().StringVarP(&opts.relayAddr, "relay", "r", "", "Relay control address (host:port, ws://, unix://)")
	cmd.Flags().StringArrayVar(&opts.cpuFiles, "cpu-file", nil, "Raw per-CPU data file (repeatable)")
	cmd.Flags().StringVarP(&opts.metadata, "metadata", "m", "", "Metadata file for the control channel")
	cmd.Flags().IntVar(&opts.pageSize, "page-size", 0, "Page size to advertise (default local page size)")
	cmd.Flags().BoolVar(&opts.useTCP, "use-tcp", false, "Ask the relay for TCP data transport")
	cmd.Flags().IntVar(&opts.attempts, "attempts", 0, "Max dial attempts (0 retries forever)")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "Disable receive timeouts and trace frames")

	return cmd
}

func runRecord(opts recordOptions) error {
	logging.ConfigureRuntime("tracectl")

	settings := defaultRecordSettings()
	if opts.configPath != "" {
		loaded, err := loadRecordSettings(opts.configPath)
		if err != nil {
			return err
		}
		settings = loaded
	}
	if opts.relayAddr != "" {
		settings.Client.Address = opts.relayAddr
	}
	if len(opts.cpuFiles) > 0 {
		settings.CPUFiles = opts.cpuFiles
	}
	if opts.metadata != "" {
		settings.MetadataFile = opts.metadata
	}
	if opts.pageSize > 0 {
		settings.PageSize = opts.pageSize
	}
	if opts.useTCP {
		settings.Client.Session.UseTCP = true
	}
	if opts.attempts > 0 {
		settings.Client.MaxConnectAttempts = opts.attempts
	}
	if opts.debug {
		settings.Client.Session.Debug = true
	}

	client, err := recorder.New(settings.Client)
	if err != nil {
		return err
	}

	job := recorder.Job{PageSize: settings.PageSize}
	for _, path := range settings.CPUFiles {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		job.CPUStreams = append(job.CPUStreams, f)
	}
	if settings.MetadataFile != "" {
		f, err := os.Open(settings.MetadataFile)
		if err != nil {
			return err
		}
		defer f.Close()
		job.Metadata = f
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := client.Run(ctx, job)
	if err != nil {
		return err
	}
	log.Info().
		Int64("metadata_bytes", res.MetadataBytes).
		Ints64("cpu_bytes", res.CPUBytes).
		Msg("recording shipped")
	return nil
}
