// Package watcher watches a set of input files and signals, debounced,
// when any of them changes.
package watcher

import (
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tzq-analysis/cardgen/internal/log"
)

// DefaultDebounce is long enough to coalesce the burst of writes produced
// by a histogram merge.
const DefaultDebounce = 500 * time.Millisecond

// Watcher monitors files for changes and sends notifications.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	files     map[string]struct{}
	debounce  time.Duration
	onChange  chan struct{}
	done      chan struct{}
	stopped   chan struct{}
	started   bool
}

// Config holds watcher configuration options.
type Config struct {
	// Files are the paths to watch. Their directories are watched so that
	// files replaced by rename or recreated from scratch are still seen.
	Files       []string
	DebounceDur time.Duration
}

// DefaultConfig returns defaults for watching files.
func DefaultConfig(files ...string) Config {
	return Config{
		Files:       files,
		DebounceDur: DefaultDebounce,
	}
}

// New creates a watcher. Nothing is watched until Start.
func New(cfg Config) (*Watcher, error) {
	if len(cfg.Files) == 0 {
		return nil, fmt.Errorf("watcher: no files to watch")
	}
	files := make(map[string]struct{}, len(cfg.Files))
	for _, f := range cfg.Files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", f, err)
		}
		files[abs] = struct{}{}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	debounce := cfg.DebounceDur
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		fsWatcher: fsw,
		files:     files,
		debounce:  debounce,
		onChange:  make(chan struct{}, 1),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}, nil
}

// Start begins watching the directories of the configured files.
// Returns a channel that receives a signal when any of them changes.
func (w *Watcher) Start() (<-chan struct{}, error) {
	dirs := make([]string, 0, len(w.files))
	for f := range w.files {
		dirs = append(dirs, filepath.Dir(f))
	}
	slices.Sort(dirs)
	for _, dir := range slices.Compact(dirs) {
		if err := w.fsWatcher.Add(dir); err != nil {
			return nil, fmt.Errorf("watching directory %s: %w", dir, err)
		}
		log.Debug(log.CatWatch, "watching directory", "dir", dir)
	}

	w.started = true
	go w.loop()

	return w.onChange, nil
}

// Stop terminates the watcher, waits for its goroutine and releases resources.
func (w *Watcher) Stop() error {
	close(w.done)
	err := w.fsWatcher.Close()
	if w.started {
		<-w.stopped
	}
	return err
}

func (w *Watcher) loop() {
	defer close(w.stopped)

	var (
		timer   *time.Timer
		pending bool
	)
	timerC := func() <-chan time.Time {
		if timer != nil {
			return timer.C
		}
		return nil
	}

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !w.isRelevantEvent(event) {
				continue
			}
			log.Debug(log.CatWatch, "file changed", "path", event.Name, "op", event.Op.String())

			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			pending = true

		case <-timerC():
			if pending {
				// Drop if a notification is already queued.
				select {
				case w.onChange <- struct{}{}:
				default:
				}
				pending = false
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Warn(log.CatWatch, "watch error", "error", err)

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// isRelevantEvent reports whether the event touches a watched file.
func (w *Watcher) isRelevantEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	_, ok := w.files[abs]
	return ok
}
