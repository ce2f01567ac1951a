package appconfig

import (
	"os"
	"path/filepath"
	"time"

	"pkt.systems/tabterm/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int           `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string        `mapstructure:"state_dir" yaml:"state_dir"`
	Service       ServiceConfig `mapstructure:"service" yaml:"service"`
	SSH           SSHConfig     `mapstructure:"ssh" yaml:"ssh"`
	Serve         ServeConfig   `mapstructure:"serve" yaml:"serve"`
	Logging       LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// ServiceConfig controls core service behavior.
type ServiceConfig struct {
	Cols                  int    `mapstructure:"cols" yaml:"cols"`
	Rows                  int    `mapstructure:"rows" yaml:"rows"`
	Shell                 string `mapstructure:"shell" yaml:"shell"`
	ExitPolicy            string `mapstructure:"exit_policy" yaml:"exit_policy"`
	ConnectTimeoutSeconds int    `mapstructure:"connect_timeout_seconds" yaml:"connect_timeout_seconds"`
}

// SSHConfig configures outbound SSH connections.
type SSHConfig struct {
	// KnownHosts enables host key verification when set.
	KnownHosts string `mapstructure:"known_hosts" yaml:"known_hosts"`
}

// ServeConfig configures the multi-tab SSH front-end.
type ServeConfig struct {
	Addr           string `mapstructure:"addr" yaml:"addr"`
	HostKeyPath    string `mapstructure:"host_key_path" yaml:"host_key_path"`
	AuthorizedKeys string `mapstructure:"authorized_keys" yaml:"authorized_keys"`
	IdleTimeout    int    `mapstructure:"idle_timeout_minutes" yaml:"idle_timeout_minutes"`
}

// LoggingConfig controls where logs are written.
type LoggingConfig struct {
	// File enables a rotating log file. Empty logs to stderr.
	File       string `mapstructure:"file" yaml:"file"`
	Level      string `mapstructure:"level" yaml:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	base := filepath.Join(home, ".tabterm")
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      base,
		Service: ServiceConfig{
			Cols:                  schema.DefaultCols,
			Rows:                  schema.DefaultRows,
			Shell:                 "",
			ExitPolicy:            string(schema.ExitFallback),
			ConnectTimeoutSeconds: int(schema.DefaultConnectTimeout / time.Second),
		},
		SSH: SSHConfig{
			KnownHosts: "",
		},
		Serve: ServeConfig{
			Addr:           "127.0.0.1:27522",
			HostKeyPath:    filepath.Join(base, "ssh_host_key"),
			AuthorizedKeys: filepath.Join(home, ".ssh", "authorized_keys"),
			IdleTimeout:    0,
		},
		Logging: LoggingConfig{
			File:       "",
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".tabterm", "config.yaml"), nil
}

// ServiceSettings maps the config onto the core service configuration.
func (c Config) ServiceSettings() schema.ServiceConfig {
	return schema.ServiceConfig{
		StateDir:       c.StateDir,
		Cols:           c.Service.Cols,
		Rows:           c.Service.Rows,
		Shell:          c.Service.Shell,
		ExitPolicy:     schema.ExitPolicy(c.Service.ExitPolicy),
		ConnectTimeout: time.Duration(c.Service.ConnectTimeoutSeconds) * time.Second,
	}
}
