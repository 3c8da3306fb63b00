// Package config loads broker daemon configuration from a YAML file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config contains the configurable values for the broker daemon. Zero
// values for the optional listeners leave them disabled.
type Config struct {
	// ListenAddress is the TCP bind address for MQTT traffic.
	ListenAddress string `yaml:"listen_address"`

	// WSAddress optionally enables the MQTT-over-websocket listener.
	WSAddress string `yaml:"ws_address"`

	// SysInfoAddress optionally enables the JSON runtime counters endpoint.
	SysInfoAddress string `yaml:"sysinfo_address"`

	// LogLevel is a logrus level name: panic, fatal, error, warn, info,
	// debug or trace.
	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		ListenAddress: ":1883",
		LogLevel:      "info",
	}
}

// Load reads and parses a YAML configuration file, filling unset fields
// with defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":1883"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	return cfg, nil
}
