package persist

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"pkt.systems/pslog"
	"pkt.systems/tabterm/schema"
)

// Watcher keeps an in-memory copy of the settings and reloads it when the
// file changes on disk. It satisfies the core settings provider.
type Watcher struct {
	store    *Store
	log      pslog.Logger
	source   *fsnotify.Watcher
	done     chan struct{}
	stopped  chan struct{}
	once     sync.Once
	mu       sync.RWMutex
	current  schema.KeySettings
	onChange func(schema.KeySettings)
}

// NewWatcher loads the current settings and starts watching the state
// directory. The directory is watched rather than the file so atomic
// replacements are observed.
func NewWatcher(store *Store, logger pslog.Logger) (*Watcher, error) {
	settings, _, err := store.Load()
	if err != nil {
		return nil, err
	}
	source, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := source.Add(store.Dir()); err != nil {
		_ = source.Close()
		return nil, err
	}
	w := &Watcher{
		store:   store,
		log:     logger,
		source:  source,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		current: settings,
	}
	go w.run()
	return w, nil
}

// KeySettings returns the most recently loaded settings.
func (w *Watcher) KeySettings() schema.KeySettings {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnChange registers fn to be called after every successful reload.
func (w *Watcher) OnChange(fn func(schema.KeySettings)) {
	w.mu.Lock()
	w.onChange = fn
	w.mu.Unlock()
}

// Close stops watching.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.source.Close()
		<-w.stopped
	})
	return err
}

func (w *Watcher) run() {
	defer close(w.stopped)
	for {
		select {
		case event, ok := <-w.source.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != SettingsFile {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.reload()
		case err, ok := <-w.source.Errors:
			if !ok {
				return
			}
			if w.log != nil {
				w.log.Warn("settings watch error", "err", err)
			}
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) reload() {
	settings, ok, err := w.store.Load()
	if err != nil {
		// Partial writes surface as decode errors; the next event retries.
		if w.log != nil {
			w.log.Debug("settings reload skipped", "err", err)
		}
		return
	}
	if !ok {
		return
	}
	w.mu.Lock()
	w.current = settings
	fn := w.onChange
	w.mu.Unlock()
	if w.log != nil {
		w.log.Info("settings reloaded", "use_ssh_key", settings.UseSSHKey)
	}
	if fn != nil {
		fn(settings)
	}
}
