package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/danmuck/tracectl/internal/collector"
	"github.com/danmuck/tracectl/internal/config"
	"github.com/danmuck/tracectl/internal/recorder"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Generate and check tracectl config files",
	}
	cmd.AddCommand(configInitCmd(), configCheckCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	var (
		kind      string
		overwrite bool
	)

	cmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Write a starter config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.WriteTemplate(args[0], kind, overwrite)
		},
	}

	cmd.Flags().StringVarP(&kind, "kind", "k", "relay", "Config kind: relay or record")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing file")

	return cmd
}

func configCheckCmd() *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "check <path>",
		Short: "Validate a config file and print the effective settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch strings.ToLower(strings.TrimSpace(kind)) {
			case "relay":
				loaded, err := config.LoadRelayConfig(args[0])
				if err != nil {
					return err
				}
				eff := config.RelayService(loaded)
				fmt.Printf("relay config ok\n")
				fmt.Printf("  listen_addr  %s\n", eff.ListenAddr)
				fmt.Printf("  output_dir   %s\n", eff.OutputDir)
				fmt.Printf("  admin        %s\n", orNone(eff.AdminListenAddr))
				fmt.Printf("  recv_timeout %s\n", eff.Session.ReceiveTimeout)
				return nil
			case "record":
				loaded, err := config.LoadRecordConfig(args[0])
				if err != nil {
					return err
				}
				eff := config.RecordClient(loaded)
				fmt.Printf("record config ok\n")
				fmt.Printf("  relay_addr   %s\n", eff.Address)
				fmt.Printf("  cpu_files    %d\n", len(loaded.CPUFiles))
				fmt.Printf("  use_tcp      %v\n", eff.Session.UseTCP)
				fmt.Printf("  recv_timeout %s\n", eff.Session.ReceiveTimeout)
				return nil
			default:
				return fmt.Errorf("unknown config kind: %s", kind)
			}
		},
	}

	cmd.Flags().StringVarP(&kind, "kind", "k", "relay", "Config kind: relay or record")

	return cmd
}

func orNone(v string) string {
	if strings.TrimSpace(v) == "" {
		return "(disabled)"
	}
	return v
}

// File shapes for the merge-style loaders used by listen and record.
// Missing keys leave defaults untouched, so partial configs are fine.

type sessionFileConfig struct {
	ReceiveTimeout string `toml:"receive_timeout"`
	ConnectTimeout string `toml:"connect_timeout"`
	Debug          bool   `toml:"debug"`
}

type relayFileConfig struct {
	ListenAddr      string            `toml:"listen_addr"`
	DataHost        string            `toml:"data_host"`
	OutputDir       string            `toml:"output_dir"`
	AdminListenAddr string            `toml:"admin_listen_addr"`
	CorsOrigins     []string          `toml:"cors_origins"`
	MaxCPUs         int               `toml:"max_cpus"`
	Session         sessionFileConfig `toml:"session"`
}

type recordFileConfig struct {
	RelayAddr          string            `toml:"relay_addr"`
	PageSize           int               `toml:"page_size"`
	UseTCP             bool              `toml:"use_tcp"`
	CPUFiles           []string          `toml:"cpu_files"`
	MetadataFile       string            `toml:"metadata_file"`
	MaxConnectAttempts int               `toml:"max_connect_attempts"`
	Session            sessionFileConfig `toml:"session"`
}

func loadRelayConfig(path string) (collector.ServiceConfig, error) {
	cfg := collector.DefaultServiceConfig()

	var raw relayFileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return collector.ServiceConfig{}, fmt.Errorf("load relay config: %w", err)
	}

	if meta.IsDefined("listen_addr") {
		if v := strings.TrimSpace(raw.ListenAddr); v != "" {
			cfg.ListenAddr = v
		}
	}
	if meta.IsDefined("data_host") {
		cfg.DataHost = strings.TrimSpace(raw.DataHost)
	}
	if meta.IsDefined("output_dir") {
		if v := strings.TrimSpace(raw.OutputDir); v != "" {
			cfg.OutputDir = v
		}
	}
	if meta.IsDefined("admin_listen_addr") {
		cfg.AdminListenAddr = strings.TrimSpace(raw.AdminListenAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = raw.CorsOrigins
	}
	if meta.IsDefined("max_cpus") {
		if raw.MaxCPUs > 0 {
			cfg.MaxCPUs = raw.MaxCPUs
		}
	}
	if err := mergeSession(meta, raw.Session, &cfg.Session.ReceiveTimeout, &cfg.Session.ConnectTimeout, &cfg.Session.Debug); err != nil {
		return collector.ServiceConfig{}, err
	}
	return cfg, nil
}

// recordSettings is everything record needs: client policy plus the
// local files that make up the job.
type recordSettings struct {
	Client       recorder.Config
	CPUFiles     []string
	MetadataFile string
	PageSize     int
}

func defaultRecordSettings() recordSettings {
	return recordSettings{
		Client: recorder.DefaultConfig(),
	}
}

func loadRecordSettings(path string) (recordSettings, error) {
	settings := defaultRecordSettings()

	var raw recordFileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return recordSettings{}, fmt.Errorf("load record config: %w", err)
	}

	if meta.IsDefined("relay_addr") {
		settings.Client.Address = strings.TrimSpace(raw.RelayAddr)
	}
	if meta.IsDefined("page_size") {
		settings.PageSize = raw.PageSize
	}
	if meta.IsDefined("use_tcp") {
		settings.Client.Session.UseTCP = raw.UseTCP
	}
	if meta.IsDefined("cpu_files") {
		settings.CPUFiles = raw.CPUFiles
	}
	if meta.IsDefined("metadata_file") {
		settings.MetadataFile = strings.TrimSpace(raw.MetadataFile)
	}
	if meta.IsDefined("max_connect_attempts") {
		settings.Client.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	if err := mergeSession(meta, raw.Session, &settings.Client.Session.ReceiveTimeout, &settings.Client.Session.ConnectTimeout, &settings.Client.Session.Debug); err != nil {
		return recordSettings{}, err
	}
	return settings, nil
}

func mergeSession(meta toml.MetaData, raw sessionFileConfig, recv, connect *time.Duration, debug *bool) error {
	if meta.IsDefined("session", "receive_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ReceiveTimeout))
		if err != nil {
			return fmt.Errorf("parse receive_timeout: %w", err)
		}
		*recv = d
	}
	if meta.IsDefined("session", "connect_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ConnectTimeout))
		if err != nil {
			return fmt.Errorf("parse connect_timeout: %w", err)
		}
		*connect = d
	}
	if meta.IsDefined("session", "debug") {
		*debug = raw.Debug
	}
	return nil
}
