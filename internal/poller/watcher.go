package poller

import (
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Nudger is anything that accepts an early-poll hint. The listeners satisfy
// it.
type Nudger interface {
	Nudge()
}

// StoreWatcher nudges listeners when the SQLite store file changes on disk,
// cutting the detection latency below the poll interval. It is purely
// advisory: every failure mode degrades back to timer-driven polling.
type StoreWatcher struct {
	watcher *fsnotify.Watcher
	targets []Nudger
	done    chan struct{}
}

// NewStoreWatcher watches the database file's directory (SQLite writes land
// in the -wal and -shm siblings, so the whole directory is watched) and
// nudges the given listeners on any write.
func NewStoreWatcher(dbPath string, targets ...Nudger) (*StoreWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(dbPath)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	w := &StoreWatcher{
		watcher: watcher,
		targets: targets,
		done:    make(chan struct{}),
	}
	go w.run(filepath.Base(dbPath))
	slog.Debug("Store watcher started", "dir", dir, "file", filepath.Base(dbPath))
	return w, nil
}

// Stop closes the watcher.
func (w *StoreWatcher) Stop() {
	close(w.done)
	if err := w.watcher.Close(); err != nil {
		slog.Warn("Store watcher close failed", "error", err)
	}
}

func (w *StoreWatcher) run(baseName string) {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			name := filepath.Base(event.Name)
			if name != baseName && name != baseName+"-wal" && name != baseName+"-shm" {
				continue
			}
			for _, t := range w.targets {
				t.Nudge()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Store watcher error, polling continues on timers", "error", err)
		case <-w.done:
			return
		}
	}
}
