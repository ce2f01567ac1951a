// Package vault keeps saved connections encrypted at rest.
//
// Favorites may carry passwords, so the list is serialized to JSON and
// written through a kryptograf envelope whose data key is derived from a
// root key held in a keymgmt bundle next to the data file.
package vault

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"pkt.systems/kryptograf"
	"pkt.systems/kryptograf/keymgmt"
	"pkt.systems/pslog"
	"pkt.systems/tabterm/internal/persist"
	"pkt.systems/tabterm/schema"
)

const (
	// DefaultBundleFile holds the root key and descriptors.
	DefaultBundleFile = "keys.bundle"
	// DefaultDataFile holds the encrypted favorites.
	DefaultDataFile = "favorites.enc"
	descriptorName  = "tabterm:favorites"
)

// Vault stores favorites encrypted on disk.
type Vault struct {
	mu         sync.Mutex
	bundlePath string
	dataPath   string
	log        pslog.Logger
}

// Open prepares a vault inside stateDir.
func Open(stateDir string, logger pslog.Logger) (*Vault, error) {
	if strings.TrimSpace(stateDir) == "" {
		return nil, errors.New("state directory is required")
	}
	return OpenPaths(filepath.Join(stateDir, DefaultBundleFile), filepath.Join(stateDir, DefaultDataFile), logger)
}

// OpenPaths prepares a vault with explicit bundle and data paths and
// ensures the root key exists.
func OpenPaths(bundlePath, dataPath string, logger pslog.Logger) (*Vault, error) {
	if strings.TrimSpace(bundlePath) == "" || strings.TrimSpace(dataPath) == "" {
		return nil, errors.New("vault paths are required")
	}
	if err := ensureBundle(bundlePath, logger); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("vault", dataPath)
	}
	return &Vault{bundlePath: bundlePath, dataPath: dataPath, log: logger}, nil
}

func ensureBundle(path string, logger pslog.Logger) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	store, err := keymgmt.LoadProto(path)
	if err != nil {
		if logger != nil {
			logger.Warn("vault bundle ensure failed", "err", err)
		}
		return err
	}
	if _, err := store.EnsureRootKey(); err != nil {
		if logger != nil {
			logger.Warn("vault bundle ensure failed", "err", err)
		}
		return err
	}
	if err := store.Commit(); err != nil {
		if logger != nil {
			logger.Warn("vault bundle ensure failed", "err", err)
		}
		return err
	}
	return nil
}

// List returns all favorites in saved order.
func (v *Vault) List() ([]schema.Favorite, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.load()
}

// Get returns the favorite at index.
func (v *Vault) Get(index int) (schema.Favorite, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	favorites, err := v.load()
	if err != nil {
		return schema.Favorite{}, err
	}
	if index < 0 || index >= len(favorites) {
		return schema.Favorite{}, fmt.Errorf("%w: %d", schema.ErrFavoriteNotFound, index)
	}
	return favorites[index], nil
}

// Find returns the first favorite whose display name or hostname matches name.
func (v *Vault) Find(name string) (int, schema.Favorite, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	favorites, err := v.load()
	if err != nil {
		return -1, schema.Favorite{}, err
	}
	name = strings.TrimSpace(name)
	for i, fav := range favorites {
		if strings.EqualFold(fav.DisplayName, name) {
			return i, fav, nil
		}
	}
	for i, fav := range favorites {
		if strings.EqualFold(fav.Hostname, name) {
			return i, fav, nil
		}
	}
	return -1, schema.Favorite{}, fmt.Errorf("%w: %s", schema.ErrFavoriteNotFound, name)
}

// Add appends a favorite and returns its index.
func (v *Vault) Add(fav schema.Favorite) (int, error) {
	if err := fav.Validate(); err != nil {
		return -1, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	favorites, err := v.load()
	if err != nil {
		return -1, err
	}
	favorites = append(favorites, normalize(fav))
	if err := v.save(favorites, false); err != nil {
		return -1, err
	}
	if v.log != nil {
		v.log.Info("vault favorite added", "index", len(favorites)-1, "host", fav.Hostname)
	}
	return len(favorites) - 1, nil
}

// Update replaces the favorite at index.
func (v *Vault) Update(index int, fav schema.Favorite) error {
	if err := fav.Validate(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	favorites, err := v.load()
	if err != nil {
		return err
	}
	if index < 0 || index >= len(favorites) {
		return fmt.Errorf("%w: %d", schema.ErrFavoriteNotFound, index)
	}
	favorites[index] = normalize(fav)
	return v.save(favorites, false)
}

// Remove deletes the favorite at index and returns it.
func (v *Vault) Remove(index int) (schema.Favorite, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	favorites, err := v.load()
	if err != nil {
		return schema.Favorite{}, err
	}
	if index < 0 || index >= len(favorites) {
		return schema.Favorite{}, fmt.Errorf("%w: %d", schema.ErrFavoriteNotFound, index)
	}
	removed := favorites[index]
	favorites = append(favorites[:index], favorites[index+1:]...)
	if err := v.save(favorites, false); err != nil {
		return schema.Favorite{}, err
	}
	if v.log != nil {
		v.log.Info("vault favorite removed", "index", index, "host", removed.Hostname)
	}
	return removed, nil
}

// Rotate re-encrypts the favorites under a freshly minted data key.
func (v *Vault) Rotate() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	favorites, err := v.load()
	if err != nil {
		return err
	}
	if err := v.save(favorites, true); err != nil {
		return err
	}
	if v.log != nil {
		v.log.Info("vault key rotated", "favorites", len(favorites))
	}
	return nil
}

func normalize(fav schema.Favorite) schema.Favorite {
	fav.DisplayName = strings.TrimSpace(fav.DisplayName)
	fav.Hostname = strings.TrimSpace(fav.Hostname)
	fav.Username = strings.TrimSpace(fav.Username)
	fav.KeyPath = strings.TrimSpace(fav.KeyPath)
	fav.Group = strings.TrimSpace(fav.Group)
	if fav.Port <= 0 {
		fav.Port = schema.DefaultSSHPort
	}
	return fav
}

func (v *Vault) load() ([]schema.Favorite, error) {
	file, err := os.Open(v.dataPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		if v.log != nil {
			v.log.Warn("vault load failed", "err", err)
		}
		return nil, err
	}
	defer func() { _ = file.Close() }()
	material, root, err := v.material(false)
	if err != nil {
		return nil, err
	}
	reader, err := kryptograf.New(root).DecryptReader(file, material)
	if err != nil {
		if v.log != nil {
			v.log.Warn("vault load failed", "err", err)
		}
		return nil, err
	}
	defer func() { _ = reader.Close() }()
	plain, err := io.ReadAll(reader)
	if err != nil {
		if v.log != nil {
			v.log.Warn("vault load failed", "err", err)
		}
		return nil, err
	}
	var favorites []schema.Favorite
	if err := json.Unmarshal(plain, &favorites); err != nil {
		if v.log != nil {
			v.log.Warn("vault load failed", "err", err)
		}
		return nil, err
	}
	if v.log != nil {
		v.log.Debug("vault load ok", "favorites", len(favorites))
	}
	return favorites, nil
}

func (v *Vault) save(favorites []schema.Favorite, rotate bool) error {
	if favorites == nil {
		favorites = []schema.Favorite{}
	}
	plain, err := json.Marshal(favorites)
	if err != nil {
		return err
	}
	material, root, err := v.material(rotate)
	if err != nil {
		return err
	}
	var sealed bytes.Buffer
	writer, err := kryptograf.New(root).EncryptWriter(&sealed, material)
	if err != nil {
		if v.log != nil {
			v.log.Warn("vault save failed", "err", err)
		}
		return err
	}
	if _, err := writer.Write(plain); err != nil {
		_ = writer.Close()
		if v.log != nil {
			v.log.Warn("vault save failed", "err", err)
		}
		return err
	}
	if err := writer.Close(); err != nil {
		if v.log != nil {
			v.log.Warn("vault save failed", "err", err)
		}
		return err
	}
	if err := persist.WriteFileAtomic(v.dataPath, sealed.Bytes(), 0o600); err != nil {
		if v.log != nil {
			v.log.Warn("vault save failed", "err", err)
		}
		return err
	}
	if v.log != nil {
		v.log.Trace("vault save ok", "favorites", len(favorites))
	}
	return nil
}

func (v *Vault) material(rotate bool) (keymgmt.Material, keymgmt.RootKey, error) {
	store, err := keymgmt.LoadProto(v.bundlePath)
	if err != nil {
		if v.log != nil {
			v.log.Warn("vault material load failed", "err", err)
		}
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	root, err := store.EnsureRootKey()
	if err != nil {
		if v.log != nil {
			v.log.Warn("vault material load failed", "err", err)
		}
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	contextBytes := []byte(descriptorName)
	var material keymgmt.Material
	if rotate {
		material, err = keymgmt.MintDEK(root, contextBytes)
		if err != nil {
			if v.log != nil {
				v.log.Warn("vault material mint failed", "err", err)
			}
			return keymgmt.Material{}, keymgmt.RootKey{}, err
		}
		if err := store.SetDescriptor(descriptorName, material.Descriptor); err != nil {
			if v.log != nil {
				v.log.Warn("vault material update failed", "err", err)
			}
			return keymgmt.Material{}, keymgmt.RootKey{}, err
		}
	} else {
		material, err = store.EnsureDescriptor(descriptorName, root, contextBytes)
		if err != nil {
			if v.log != nil {
				v.log.Warn("vault material ensure failed", "err", err)
			}
			return keymgmt.Material{}, keymgmt.RootKey{}, err
		}
	}
	if err := store.Commit(); err != nil {
		if v.log != nil {
			v.log.Warn("vault material commit failed", "err", err)
		}
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	return material, root, nil
}
