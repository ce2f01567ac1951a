package appconfig

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"pkt.systems/tabterm/schema"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TABTERM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("service.cols", cfg.Service.Cols)
	v.SetDefault("service.rows", cfg.Service.Rows)
	v.SetDefault("service.shell", cfg.Service.Shell)
	v.SetDefault("service.exit_policy", cfg.Service.ExitPolicy)
	v.SetDefault("service.connect_timeout_seconds", cfg.Service.ConnectTimeoutSeconds)
	v.SetDefault("ssh.known_hosts", cfg.SSH.KnownHosts)
	v.SetDefault("serve.addr", cfg.Serve.Addr)
	v.SetDefault("serve.host_key_path", cfg.Serve.HostKeyPath)
	v.SetDefault("serve.authorized_keys", cfg.Serve.AuthorizedKeys)
	v.SetDefault("serve.idle_timeout_minutes", cfg.Serve.IdleTimeout)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.max_size_mb", cfg.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", cfg.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", cfg.Logging.MaxAgeDays)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.InConfig("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	switch schema.ExitPolicy(cfg.Service.ExitPolicy) {
	case schema.ExitFallback, schema.ExitClose, "":
	default:
		return fmt.Errorf("unsupported service.exit_policy %q", cfg.Service.ExitPolicy)
	}
	if cfg.Service.Cols < 0 || cfg.Service.Rows < 0 {
		return fmt.Errorf("service.cols and service.rows must not be negative")
	}
	if cfg.Service.ConnectTimeoutSeconds < 0 {
		return fmt.Errorf("service.connect_timeout_seconds must not be negative")
	}
	if addr := strings.TrimSpace(cfg.Serve.Addr); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("serve.addr must be host:port: %w", err)
		}
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "trace", "debug", "info", "error":
	default:
		return fmt.Errorf("unsupported logging.level %q", cfg.Logging.Level)
	}
	if cfg.Logging.MaxSizeMB < 0 || cfg.Logging.MaxBackups < 0 || cfg.Logging.MaxAgeDays < 0 {
		return fmt.Errorf("logging rotation limits must not be negative")
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.StateDir = expandPath(cfg.StateDir)
	cfg.Service.Shell = expandEnv(cfg.Service.Shell)
	cfg.SSH.KnownHosts = expandPath(cfg.SSH.KnownHosts)
	cfg.Serve.HostKeyPath = expandPath(cfg.Serve.HostKeyPath)
	cfg.Serve.AuthorizedKeys = expandPath(cfg.Serve.AuthorizedKeys)
	cfg.Logging.File = expandPath(cfg.Logging.File)
}

// expandPath expands environment variables and a leading ~.
func expandPath(value string) string {
	value = expandEnv(value)
	if value == "~" || strings.HasPrefix(value, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(value, "~"))
		}
	}
	return value
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}
	return Write(path, cfg, overwrite)
}

// Write stores cfg as YAML at path. If path is empty, uses DefaultConfigPath.
func Write(path string, cfg Config, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}
	if cfg.ConfigVersion == 0 {
		cfg.ConfigVersion = CurrentConfigVersion
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
