package persist

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"pkt.systems/pslog"
	"pkt.systems/tabterm/schema"
)

// SettingsFile is the settings document name inside the state directory.
const SettingsFile = "settings.json"

// Store persists key settings to disk.
type Store struct {
	dir string
	log pslog.Logger
}

// NewStore constructs a persistent store at the given directory.
func NewStore(dir string) (*Store, error) {
	return NewStoreWithLogger(dir, nil)
}

// NewStoreWithLogger constructs a persistent store with logging.
func NewStoreWithLogger(dir string, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("state_dir", dir)
	}
	return &Store{dir: dir, log: logger}, nil
}

// Path returns the settings file location.
func (s *Store) Path() string {
	return filepath.Join(s.dir, SettingsFile)
}

// Dir returns the state directory.
func (s *Store) Dir() string {
	return s.dir
}

// Load reads the settings from disk. A missing file yields defaults and false.
func (s *Store) Load() (schema.KeySettings, bool, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if s.log != nil {
				s.log.Debug("settings load miss")
			}
			return schema.KeySettings{}, false, nil
		}
		if s.log != nil {
			s.log.Warn("settings load failed", "err", err)
		}
		return schema.KeySettings{}, false, err
	}
	var settings schema.KeySettings
	if err := json.Unmarshal(data, &settings); err != nil {
		if s.log != nil {
			s.log.Warn("settings load failed", "err", err)
		}
		return schema.KeySettings{}, false, err
	}
	if s.log != nil {
		s.log.Debug("settings load ok", "use_ssh_key", settings.UseSSHKey)
	}
	return settings, true, nil
}

// Save writes the settings to disk.
func (s *Store) Save(settings schema.KeySettings) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		if s.log != nil {
			s.log.Warn("settings save failed", "err", err)
		}
		return err
	}
	if err := WriteFileAtomic(s.Path(), data, 0o600); err != nil {
		if s.log != nil {
			s.log.Warn("settings save failed", "err", err)
		}
		return err
	}
	if s.log != nil {
		s.log.Trace("settings save ok", "use_ssh_key", settings.UseSSHKey)
	}
	return nil
}

// WriteFileAtomic replaces path with data through a synced temp file in the
// same directory.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), perm); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}
