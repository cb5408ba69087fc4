package config

import (
	"github.com/danmuck/tracectl/internal/collector"
	"github.com/danmuck/tracectl/internal/protocol/session"
	"github.com/danmuck/tracectl/internal/recorder"
)

// SessionSettings maps file-level session knobs onto session defaults.
// Timeout strings were validated at load time.
func SessionSettings(cfg SessionConfig) session.Config {
	out := session.DefaultConfig()
	if d, err := parseTimeout(cfg.ReceiveTimeout); err == nil && d > 0 {
		out.ReceiveTimeout = d
	}
	if d, err := parseTimeout(cfg.ConnectTimeout); err == nil && d > 0 {
		out.ConnectTimeout = d
	}
	out.Debug = cfg.Debug
	return out
}

// RelayService maps a loaded relay config onto the collector runtime
// configuration.
func RelayService(cfg RelayConfig) collector.ServiceConfig {
	out := collector.DefaultServiceConfig()
	if cfg.ListenAddr != "" {
		out.ListenAddr = cfg.ListenAddr
	}
	if cfg.OutputDir != "" {
		out.OutputDir = cfg.OutputDir
	}
	out.DataHost = cfg.DataHost
	out.AdminListenAddr = cfg.AdminListenAddr
	out.CORSOrigins = cfg.CorsOrigins
	if cfg.MaxCPUs > 0 {
		out.MaxCPUs = cfg.MaxCPUs
	}
	out.Session = SessionSettings(cfg.Session)
	return out
}

// RecordClient maps a loaded record config onto the recorder client
// configuration.
func RecordClient(cfg RecordConfig) recorder.Config {
	out := recorder.DefaultConfig()
	out.Address = cfg.RelayAddr
	out.MaxConnectAttempts = cfg.MaxConnectAttempts
	out.Session = SessionSettings(cfg.Session)
	out.Session.UseTCP = cfg.UseTCP
	return out
}
