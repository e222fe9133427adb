package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay coalesces the rapid write/rename bursts editors produce
// when saving a file.
const debounceDelay = 200 * time.Millisecond

// Watcher reloads the config file on change and hands the new config to a
// callback. The callback runs on the watcher goroutine.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onReload func(*Config)

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewWatcher watches path. onReload receives every successfully parsed
// config; parse failures keep the previous config and are logged.
func NewWatcher(path string, onReload func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory, not the file: editors replace files by rename
	// and a file watch dies with the old inode.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{path: path, watcher: fw, onReload: onReload}, nil
}

// Start begins watching. Safe to call once.
func (w *Watcher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.loop(ctx)
}

// Stop ends watching and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		if w.cancel != nil {
			w.cancel()
			<-w.done
		}
		w.watcher.Close()
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	var debounce *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(debounceDelay)
			} else {
				debounce.Reset(debounceDelay)
			}
			debounceC = debounce.C

		case <-debounceC:
			debounceC = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("config_watch_error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		log.Warn("config_reload_failed", slog.String("error", err.Error()))
		return
	}
	log.Info("config_reloaded", slog.String("path", w.path))
	w.onReload(cfg)
}
