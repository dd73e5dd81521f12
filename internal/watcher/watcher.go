// Package watcher reports batches of changed manifests in a content package
// directory, coalescing bursts of edits into one notification.
package watcher

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zjrosen/levelsync/internal/log"
)

var defaultExtensions = []string{".yaml", ".yml"}

// Change is one debounced batch: the base names of every manifest that was
// written, created, removed or renamed during the window, sorted.
type Change struct {
	Manifests []string
}

// Watcher monitors a package directory.
type Watcher struct {
	fsWatcher  *fsnotify.Watcher
	dir        string
	debounce   time.Duration
	extensions []string
	changes    chan Change
	done       chan struct{}
}

// Config holds watcher configuration options.
type Config struct {
	Dir         string
	DebounceDur time.Duration
	// Extensions limits notifications to files with these suffixes.
	// Empty means ".yaml" and ".yml".
	Extensions []string
}

// DefaultConfig watches dir for YAML manifests with a 500ms window.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:         dir,
		DebounceDur: 500 * time.Millisecond,
		Extensions:  slices.Clone(defaultExtensions),
	}
}

// New creates a watcher for cfg.Dir. Watching starts with Start.
func New(cfg Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	exts := cfg.Extensions
	if len(exts) == 0 {
		exts = defaultExtensions
	}

	return &Watcher{
		fsWatcher:  fsw,
		dir:        cfg.Dir,
		debounce:   cfg.DebounceDur,
		extensions: exts,
		changes:    make(chan Change, 1),
		done:       make(chan struct{}),
	}, nil
}

// Start begins watching. A batch that arrives while the previous one is
// still unread is merged into it.
func (w *Watcher) Start() (<-chan Change, error) {
	if err := w.fsWatcher.Add(w.dir); err != nil {
		return nil, fmt.Errorf("watching directory %s: %w", w.dir, err)
	}

	go w.loop()

	log.Debug(log.CatWatcher, "watching package directory", "dir", w.dir, "debounce", w.debounce)
	return w.changes, nil
}

// Stop terminates the watcher and releases resources.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.fsWatcher.Close()
}

func (w *Watcher) loop() {
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	pending := make(map[string]struct{})
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !w.isRelevantEvent(event) {
				continue
			}
			pending[filepath.Base(event.Name)] = struct{}{}
			timer.Reset(w.debounce)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			w.emit(pending)
			pending = make(map[string]struct{})

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.ErrorErr(log.CatWatcher, "watch error", err, "dir", w.dir)

		case <-w.done:
			return
		}
	}
}

// emit delivers pending, folding in an undelivered earlier batch so the
// reader never misses a manifest name.
func (w *Watcher) emit(pending map[string]struct{}) {
	select {
	case prev := <-w.changes:
		for _, m := range prev.Manifests {
			pending[m] = struct{}{}
		}
	default:
	}

	names := make([]string, 0, len(pending))
	for name := range pending {
		names = append(names, name)
	}
	slices.Sort(names)
	log.Debug(log.CatWatcher, "manifests changed", "dir", w.dir, "manifests", strings.Join(names, ","))

	select {
	case w.changes <- Change{Manifests: names}:
	case <-w.done:
	}
}

// isRelevantEvent reports whether event touches a manifest. Removing or
// renaming one counts, since the package set changed.
func (w *Watcher) isRelevantEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	return slices.Contains(w.extensions, strings.ToLower(filepath.Ext(event.Name)))
}
