// Package watcher triggers config reloads when warden.ini changes on disk.
// It watches the *directories* holding the candidate files rather than the
// files themselves, which survives editors that replace files by rename,
// and debounces bursts of events into a single reload.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mjs/warden/internal/log"
)

// DefaultDebounce coalesces the event bursts editors and atomic writers
// produce for a single save.
const DefaultDebounce = 500 * time.Millisecond

// Watcher invokes a callback when the watched config file changes.
type Watcher struct {
	fsw      *fsnotify.Watcher
	filename string // basename events are filtered by
	onChange func()
	debounce time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

// New creates a watcher for filename inside the given directories.
// Directories that cannot be watched are skipped with a warning; the watcher
// is useful as long as at least one directory is watchable.
func New(filename string, dirs []string, onChange func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	watched := 0
	for _, dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			log.Warnf("watcher: cannot watch %s: %v", dir, err)
			continue
		}
		watched++
	}
	if watched == 0 {
		fsw.Close()
		return nil, fmt.Errorf("no watchable directories among %v", dirs)
	}

	return &Watcher{
		fsw:      fsw,
		filename: filename,
		onChange: onChange,
		debounce: DefaultDebounce,
	}, nil
}

// Run processes file system events until the context is cancelled or the
// watcher is closed. It always returns nil on orderly shutdown.
func (w *Watcher) Run(ctx context.Context) error {
	log.Infof("watcher: watching for changes to %s", w.filename)
	defer w.stopTimer()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != w.filename {
				continue
			}
			switch {
			case event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0:
				log.Debugf("watcher: %s on %s", event.Op, event.Name)
				w.scheduleReload()
			case event.Op&fsnotify.Remove != 0:
				// A removed file means defaults on the next reload; the
				// reload itself waits for the file to come back or for an
				// explicit trigger.
				log.Warnf("watcher: %s removed", event.Name)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			log.Errorf("watcher: %v", err)
		}
	}
}

// Close stops the underlying file system watcher, unblocking Run.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// scheduleReload resets the debounce timer; the callback fires once the
// event burst settles.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.onChange)
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
}
