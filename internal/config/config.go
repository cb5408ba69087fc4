package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type RelayConfig struct {
	ListenAddr      string        `toml:"listen_addr"`
	DataHost        string        `toml:"data_host"`
	OutputDir       string        `toml:"output_dir"`
	AdminListenAddr string        `toml:"admin_listen_addr"`
	CorsOrigins     []string      `toml:"cors_origins"`
	MaxCPUs         int           `toml:"max_cpus"`
	Session         SessionConfig `toml:"session"`
}

type RecordConfig struct {
	RelayAddr          string        `toml:"relay_addr"`
	PageSize           int           `toml:"page_size"`
	UseTCP             bool          `toml:"use_tcp"`
	CPUFiles           []string      `toml:"cpu_files"`
	MetadataFile       string        `toml:"metadata_file"`
	MaxConnectAttempts int           `toml:"max_connect_attempts"`
	Session            SessionConfig `toml:"session"`
}

type SessionConfig struct {
	ReceiveTimeout string `toml:"receive_timeout"`
	ConnectTimeout string `toml:"connect_timeout"`
	Debug          bool   `toml:"debug"`
}

func LoadRelayConfig(path string) (RelayConfig, error) {
	var cfg RelayConfig
	if err := loadToml(path, &cfg); err != nil {
		return RelayConfig{}, err
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8809"
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "traces"
	}
	if err := ValidateRelayConfig(cfg); err != nil {
		return RelayConfig{}, err
	}
	return cfg, nil
}

func LoadRecordConfig(path string) (RecordConfig, error) {
	var cfg RecordConfig
	if err := loadToml(path, &cfg); err != nil {
		return RecordConfig{}, err
	}
	if err := ValidateRecordConfig(cfg); err != nil {
		return RecordConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateRelayConfig(cfg RelayConfig) error {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return fmt.Errorf("relay config missing listen_addr")
	}
	if strings.TrimSpace(cfg.OutputDir) == "" {
		return fmt.Errorf("relay config missing output_dir")
	}
	if cfg.MaxCPUs < 0 {
		return fmt.Errorf("relay config max_cpus must not be negative")
	}
	if err := validateSession(cfg.Session); err != nil {
		return fmt.Errorf("relay config session invalid: %w", err)
	}
	return nil
}

func ValidateRecordConfig(cfg RecordConfig) error {
	if strings.TrimSpace(cfg.RelayAddr) == "" {
		return fmt.Errorf("record config missing relay_addr")
	}
	if cfg.PageSize < 0 {
		return fmt.Errorf("record config page_size must not be negative")
	}
	for i, path := range cfg.CPUFiles {
		if strings.TrimSpace(path) == "" {
			return fmt.Errorf("record config cpu_files[%d] is empty", i)
		}
	}
	if err := validateSession(cfg.Session); err != nil {
		return fmt.Errorf("record config session invalid: %w", err)
	}
	return nil
}

func validateSession(cfg SessionConfig) error {
	if _, err := parseTimeout(cfg.ReceiveTimeout); err != nil {
		return fmt.Errorf("receive_timeout: %w", err)
	}
	if _, err := parseTimeout(cfg.ConnectTimeout); err != nil {
		return fmt.Errorf("connect_timeout: %w", err)
	}
	return nil
}

func parseTimeout(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", v)
	}
	return d, nil
}
