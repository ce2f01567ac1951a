package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ExitPolicy decides what happens to a tab whose handle exits on its own.
type ExitPolicy string

const (
	// ExitFallback returns the tab to unattached command mode.
	ExitFallback ExitPolicy = "fallback"
	// ExitClose removes the tab.
	ExitClose ExitPolicy = "close"
)

// ServiceConfig defines defaults and limits for the core service.
type ServiceConfig struct {
	StateDir       string
	Cols           int
	Rows           int
	Shell          string
	ExitPolicy     ExitPolicy
	ConnectTimeout time.Duration
	// MaxPasswordAttempts bounds password retries per connect.
	MaxPasswordAttempts int
}

const (
	// DefaultCols is the initial terminal width.
	DefaultCols = 80
	// DefaultRows is the initial terminal height.
	DefaultRows = 30
	// DefaultConnectTimeout bounds a single connection attempt.
	DefaultConnectTimeout = 20 * time.Second
	// DefaultMaxPasswordAttempts is the password retry limit.
	DefaultMaxPasswordAttempts = 3
)

// NormalizeServiceConfig applies defaults and validates the config.
func NormalizeServiceConfig(cfg ServiceConfig) (ServiceConfig, error) {
	if cfg.StateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ServiceConfig{}, err
		}
		cfg.StateDir = filepath.Join(home, ".tabterm")
	}
	if cfg.Cols <= 0 {
		cfg.Cols = DefaultCols
	}
	if cfg.Rows <= 0 {
		cfg.Rows = DefaultRows
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.MaxPasswordAttempts <= 0 {
		cfg.MaxPasswordAttempts = DefaultMaxPasswordAttempts
	}
	switch cfg.ExitPolicy {
	case "":
		cfg.ExitPolicy = ExitFallback
	case ExitFallback, ExitClose:
	default:
		return ServiceConfig{}, fmt.Errorf("unknown exit policy %q", cfg.ExitPolicy)
	}
	return cfg, nil
}
