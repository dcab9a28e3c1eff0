package config

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/opencode-ai/agentconfig/internal/event"
)

// Watcher reports changes of the plain configuration file made on disk,
// by other processes or by hand. It watches the directory rather than the
// file because every write replaces the file by rename.
type Watcher struct {
	store    *Store
	watcher  *fsnotify.Watcher
	snapshot map[string]Value
	stopCh   chan struct{}
	doneCh   chan struct{}
	started  bool
	mu       sync.Mutex
}

// Watch creates a Watcher for the store's file. Call Start to begin.
func (s *Store) Watch() (*Watcher, error) {
	dir := filepath.Dir(s.file.Path())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}

	snapshot, err := s.load()
	if err != nil {
		w.Close()
		return nil, err
	}

	s.log.Debug().Str("dir", dir).Msg("config watcher initialized")
	return &Watcher{
		store:    s,
		watcher:  w,
		snapshot: snapshot,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.run()
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	path := w.store.file.Path()
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				w.Refresh()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.store.log.Error().Err(err).Msg("config watcher error")
		}
	}
}

// Refresh re-reads the file and publishes one event per changed key. It
// returns the changed keys in sorted order.
func (w *Watcher) Refresh() []string {
	current, err := w.store.load()
	if err != nil {
		w.store.log.Warn().Err(err).Msg("config watcher could not read file")
		return nil
	}

	w.mu.Lock()
	changed := diffKeys(w.snapshot, current)
	w.snapshot = current
	w.mu.Unlock()

	for _, key := range changed {
		w.store.publish(event.ConfigFileChanged, key, Plain)
	}
	if len(changed) > 0 {
		w.store.log.Info().Strs("keys", changed).Msg("config file changed")
	}
	return changed
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()

	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}

	if started {
		<-w.doneCh
	}
	return w.watcher.Close()
}

func diffKeys(before, after map[string]Value) []string {
	var changed []string
	for k, v := range after {
		if old, ok := before[k]; !ok || !old.Equal(v) {
			changed = append(changed, k)
		}
	}
	for k := range before {
		if _, ok := after[k]; !ok {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}
