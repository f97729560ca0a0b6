package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeFunc is called after the configuration file changed on disk.
type ChangeFunc func(prev, next Config)

// Watcher reloads a Store when its file is edited outside the process.
type Watcher struct {
	store    *Store
	log      *zap.SugaredLogger
	onChange ChangeFunc
	watcher  *fsnotify.Watcher
}

// NewWatcher watches the directory holding the store's file. Directories are
// watched rather than the file itself so editors that replace the file are
// still noticed.
func NewWatcher(store *Store, log *zap.SugaredLogger, onChange ChangeFunc) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(store.Path())); err != nil {
		return nil, errors.Join(fmt.Errorf("watch config directory: %w", err), fw.Close())
	}
	return &Watcher{store: store, log: log, onChange: onChange, watcher: fw}, nil
}

// Run processes file events until ctx is done and then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	target := filepath.Clean(w.store.Path())
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warnw("config watcher error", "err", err)
		}
	}
}

func (w *Watcher) reload() {
	prev, next, changed, err := w.store.Reload()
	if err != nil {
		w.log.Warnw("failed to reload config", "path", w.store.Path(), "err", err)
		return
	}
	if !changed {
		return
	}
	w.log.Infow("config reloaded", "path", w.store.Path(), "check_interval", next.CheckInterval)
	if w.onChange != nil {
		w.onChange(prev, next)
	}
}
