package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceDelay is how long the watcher waits for a burst of writes to settle.
const DebounceDelay = 100 * time.Millisecond

// FileWatcher calls back when watched files change. It watches the parent
// directories so files replaced by rename, as most editors do, keep being
// followed.
type FileWatcher struct {
	watcher   *fsnotify.Watcher
	callbacks map[string][]func()
	dirs      map[string]bool
	mu        sync.RWMutex
	stopCh    chan struct{}
	stopOnce  sync.Once
	delay     time.Duration
}

func NewFileWatcher() (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &FileWatcher{
		watcher:   watcher,
		callbacks: make(map[string][]func()),
		dirs:      make(map[string]bool),
		stopCh:    make(chan struct{}),
		delay:     DebounceDelay,
	}
	go w.watchLoop()
	return w, nil
}

func (w *FileWatcher) Watch(path string, callback func()) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.dirs[dir] {
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		w.dirs[dir] = true
	}
	w.callbacks[abs] = append(w.callbacks[abs], callback)
	return nil
}

func (w *FileWatcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		err = w.watcher.Close()
	})
	return err
}

func (w *FileWatcher) watchLoop() {
	var debounceTimer *time.Timer
	pendingPaths := make(map[string]bool)
	debounceMutex := sync.Mutex{}

	fire := func() {
		debounceMutex.Lock()
		paths := make([]string, 0, len(pendingPaths))
		for path := range pendingPaths {
			paths = append(paths, path)
		}
		pendingPaths = make(map[string]bool)
		debounceTimer = nil
		debounceMutex.Unlock()

		w.mu.RLock()
		var cbs []func()
		for _, path := range paths {
			cbs = append(cbs, w.callbacks[path]...)
		}
		w.mu.RUnlock()
		for _, cb := range cbs {
			cb()
		}
	}

	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			name := filepath.Clean(event.Name)
			w.mu.RLock()
			_, exists := w.callbacks[name]
			w.mu.RUnlock()
			if !exists {
				continue
			}

			debounceMutex.Lock()
			pendingPaths[name] = true
			if debounceTimer == nil {
				debounceTimer = time.AfterFunc(w.delay, fire)
			}
			debounceMutex.Unlock()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warnw("file watcher error", "error", err)
		}
	}
}
