// Package bootstrap prepares a tabterm home directory: config file, key
// settings, a client key authorized for the SSH front-end and its host key.
package bootstrap

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
	"gopkg.in/yaml.v3"

	"pkt.systems/pslog"
	"pkt.systems/tabterm/internal/appconfig"
	"pkt.systems/tabterm/internal/persist"
	"pkt.systems/tabterm/internal/sshkeys"
	"pkt.systems/tabterm/schema"
	"pkt.systems/tabterm/sshserver"
)

const (
	configName         = "config.yaml"
	clientKeyName      = "id_ed25519"
	hostKeyName        = "ssh_host_key"
	authorizedKeysName = "authorized_keys"
)

// ConfigOverride sets a dotted config path (for example "serve.addr") in
// the generated config.
type ConfigOverride struct {
	Path  string
	Value any
}

// Options controls optional bootstrap behaviors.
type Options struct {
	Overwrite bool
	// SkipKeys leaves client and host keys alone.
	SkipKeys  bool
	Overrides []ConfigOverride
	Logger    pslog.Logger
}

// Paths reports where bootstrap wrote its outputs. Empty entries were skipped.
type Paths struct {
	ConfigPath         string
	SettingsPath       string
	ClientKeyPath      string
	HostKeyPath        string
	AuthorizedKeysPath string
}

// DefaultHome returns ~/.tabterm.
func DefaultHome() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".tabterm"), nil
}

// HomeConfig returns the default config rooted at dir, with the SSH
// front-end trusting only keys listed inside dir.
func HomeConfig(dir string) (appconfig.Config, error) {
	cfg, err := appconfig.DefaultConfig()
	if err != nil {
		return appconfig.Config{}, err
	}
	cfg.StateDir = dir
	cfg.Serve.HostKeyPath = filepath.Join(dir, hostKeyName)
	cfg.Serve.AuthorizedKeys = filepath.Join(dir, authorizedKeysName)
	return cfg, nil
}

// WriteBootstrap prepares outputDir with default options.
func WriteBootstrap(outputDir string, overwrite bool) (Paths, error) {
	return WriteBootstrapWithOptions(outputDir, Options{Overwrite: overwrite})
}

// WriteBootstrapWithOptions prepares outputDir. Existing files are kept
// unless opts.Overwrite is set; an existing config is an error then.
func WriteBootstrapWithOptions(outputDir string, opts Options) (Paths, error) {
	dir := strings.TrimSpace(outputDir)
	if dir == "" {
		home, err := DefaultHome()
		if err != nil {
			return Paths{}, err
		}
		dir = home
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	log := opts.Logger
	if log == nil {
		log = pslog.Ctx(context.Background())
	}

	cfg, err := HomeConfig(dir)
	if err != nil {
		return Paths{}, err
	}
	cfg, err = applyOverrides(cfg, opts.Overrides)
	if err != nil {
		return Paths{}, err
	}
	var paths Paths
	configPath, err := appconfig.Write(filepath.Join(dir, configName), cfg, opts.Overwrite)
	if err != nil {
		return Paths{}, err
	}
	paths.ConfigPath = configPath
	log.Info("bootstrap wrote", "path", configPath, "name", configName)

	store, err := persist.NewStoreWithLogger(cfg.StateDir, log)
	if err != nil {
		return paths, err
	}
	if _, found, err := store.Load(); err != nil && !opts.Overwrite {
		return paths, err
	} else if !found || opts.Overwrite {
		if err := store.Save(schema.KeySettings{}); err != nil {
			return paths, err
		}
		paths.SettingsPath = store.Path()
		log.Info("bootstrap wrote", "path", store.Path(), "name", persist.SettingsFile)
	}

	if opts.SkipKeys {
		return paths, nil
	}

	clientKey := filepath.Join(dir, clientKeyName)
	pubLine, created, err := ensureClientKey(clientKey, opts.Overwrite, log)
	if err != nil {
		return paths, err
	}
	if created {
		paths.ClientKeyPath = clientKey
		log.Info("bootstrap wrote", "path", clientKey, "name", clientKeyName)
	}
	added, err := authorizeKey(cfg.Serve.AuthorizedKeys, pubLine)
	if err != nil {
		return paths, err
	}
	if added {
		paths.AuthorizedKeysPath = cfg.Serve.AuthorizedKeys
		log.Info("bootstrap wrote", "path", cfg.Serve.AuthorizedKeys, "name", authorizedKeysName)
	}

	hostExisted := fileExists(cfg.Serve.HostKeyPath)
	if _, err := sshserver.EnsureHostKey(cfg.Serve.HostKeyPath); err != nil {
		return paths, err
	}
	if !hostExisted {
		paths.HostKeyPath = cfg.Serve.HostKeyPath
		log.Info("bootstrap wrote", "path", cfg.Serve.HostKeyPath, "name", hostKeyName)
	}
	return paths, nil
}

// ensureClientKey returns the public key line for path, generating the key
// when it is missing or overwrite is set.
func ensureClientKey(path string, overwrite bool, log pslog.Logger) (string, bool, error) {
	if !overwrite && fileExists(path) {
		data, err := os.ReadFile(path + ".pub")
		if err != nil {
			return "", false, fmt.Errorf("read client public key: %w", err)
		}
		return strings.TrimSpace(string(data)), false, nil
	}
	line, err := sshkeys.Generate(sshkeys.GenerateOptions{
		Path:      path,
		Type:      sshkeys.KeyTypeEd25519,
		Comment:   "tabterm",
		Overwrite: overwrite,
		Logger:    log,
	})
	if err != nil {
		return "", false, err
	}
	return line, true, nil
}

// authorizeKey appends line to the authorized_keys file unless the same key
// is already listed.
func authorizeKey(path, line string) (bool, error) {
	key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
	if err != nil {
		return false, fmt.Errorf("parse client public key: %w", err)
	}
	existing, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	scanner := bufio.NewScanner(bytes.NewReader(existing))
	for scanner.Scan() {
		known, _, _, _, err := ssh.ParseAuthorizedKey(scanner.Bytes())
		if err != nil {
			continue
		}
		if bytes.Equal(known.Marshal(), key.Marshal()) {
			return false, nil
		}
	}
	var buf bytes.Buffer
	buf.Write(existing)
	if len(existing) > 0 && !bytes.HasSuffix(existing, []byte("\n")) {
		buf.WriteByte('\n')
	}
	buf.WriteString(strings.TrimSpace(line))
	buf.WriteByte('\n')
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return false, err
	}
	if err := persist.WriteFileAtomic(path, buf.Bytes(), 0o600); err != nil {
		return false, err
	}
	return true, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func applyOverrides(cfg appconfig.Config, overrides []ConfigOverride) (appconfig.Config, error) {
	if len(overrides) == 0 {
		return cfg, nil
	}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return cfg, err
	}
	var data map[string]any
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return cfg, err
	}
	for _, override := range overrides {
		if err := setOverrideValue(data, override.Path, override.Value); err != nil {
			return cfg, err
		}
	}
	updated, err := yaml.Marshal(data)
	if err != nil {
		return cfg, err
	}
	var next appconfig.Config
	if err := yaml.Unmarshal(updated, &next); err != nil {
		return cfg, err
	}
	return next, nil
}

func setOverrideValue(root map[string]any, path string, value any) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("config override path is required")
	}
	parts := strings.Split(path, ".")
	node := root
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return fmt.Errorf("invalid config override path %q", path)
		}
		if i == len(parts)-1 {
			node[part] = value
			return nil
		}
		next, ok := node[part]
		if !ok || next == nil {
			child := map[string]any{}
			node[part] = child
			node = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("config override %q: %q is not a map", path, part)
		}
		node = child
	}
	return nil
}
