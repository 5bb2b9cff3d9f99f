package main

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// daemonSettings is sqldestd's own process-level configuration: log
// level, telemetry exporter choice, and the health/metrics listen
// address. It is distinct from the per-destination YAML document
// loadDestination loads — one TOML file per running daemon, several
// YAML destination files underneath it, mirroring the teacher's split
// between its per-project config.yaml and its own TOML-flavored
// settings file.
type daemonSettings struct {
	LogLevel      string `toml:"log_level"`
	Telemetry     bool   `toml:"telemetry"`
	ListenAddr    string `toml:"listen_addr"`
	PersistPath   string `toml:"persist_path"`
	AlertURL      string `toml:"alert_url"`
	AlertCooldown int    `toml:"alert_cooldown_seconds"`
}

func defaultDaemonSettings() daemonSettings {
	return daemonSettings{
		LogLevel:      "info",
		Telemetry:     true,
		ListenAddr:    ":8090",
		PersistPath:   "sqldestd.state.json",
		AlertCooldown: 300,
	}
}

// loadDaemonSettings reads path as TOML, falling back to defaults for
// any field a (possibly absent) file doesn't set.
func loadDaemonSettings(path string) (daemonSettings, error) {
	s := defaultDaemonSettings()
	if path == "" {
		return s, nil
	}
	if _, err := toml.DecodeFile(path, &s); err != nil {
		return s, fmt.Errorf("sqldestd: decoding settings %q: %w", path, err)
	}
	return s, nil
}
