// Package changedetector implements C4, the Change Detector described in
// spec.md §4.4. Tool-driven detection (write_file/edit_file) is synthesized
// directly by the agent loop from the tool's own input (internal/agent's
// Loop.changeNotificationFor) and needs no help from this package.
//
// This package implements the snapshot-driven half: detecting file
// mutations made indirectly, e.g. by a Bash command, which the loop cannot
// attribute to a specific path from the tool call alone. Grounded on
// internal/skills/manager.go's fsnotify.Watcher usage: rather than the
// before/after mtime poll spec.md §4.4 sketches, a live recursive watcher
// observes every Write/Create/Rename under the project root (skipping the
// standard ignore set) and accumulates them for the loop to drain once a
// file-mutating-but-opaque tool call (Bash) completes.
package changedetector

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/haasonsaas/nexus/internal/infra"
	"github.com/haasonsaas/nexus/pkg/models"
)

var ignoredDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"dist":         true,
	".next":        true,
	".cache":       true,
}

// maxWatchDepth bounds how deep the initial directory walk adds watches,
// matching spec.md §9's snapshotDepth=4 process-wide constant.
const maxWatchDepth = 4

// Watcher observes a project root for file mutations not attributable to a
// specific write_file/edit_file tool call.
type Watcher struct {
	root    string
	fsw     *fsnotify.Watcher
	logger  *slog.Logger
	closeCh chan struct{}

	mu      sync.Mutex
	pending []models.ChangeNotification

	// dedupe collapses the burst of near-identical fsnotify events most
	// editors fire for a single logical save (write-then-rename, or
	// multiple WRITE events for one flush) into a single pending
	// notification.
	dedupe *infra.DedupeCache
}

// dedupeWindow is how long an identical (path, content) pair is suppressed
// after the first sighting.
const dedupeWindow = 300 * time.Millisecond

// NewWatcher starts watching root (and its subdirectories, up to
// maxWatchDepth) for file mutations.
func NewWatcher(root string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		root:    root,
		fsw:     fsw,
		logger:  logger,
		closeCh: make(chan struct{}),
		dedupe: infra.NewDedupeCache(&infra.DedupeCacheConfig{
			TTL:     dedupeWindow,
			MaxSize: 1000,
		}),
	}

	if err := w.addTree(root, 0); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	go w.run()
	return w, nil
}

func (w *Watcher) addTree(dir string, depth int) error {
	if depth > maxWatchDepth {
		return nil
	}
	if err := w.fsw.Add(dir); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	for _, entry := range entries {
		if !entry.IsDir() || ignoredDirs[entry.Name()] {
			continue
		}
		_ = w.addTree(filepath.Join(dir, entry.Name()), depth+1)
	}
	return nil
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("change detector watch error", "error", err)
		case <-w.closeCh:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if w.pathIgnored(event.Name) {
		return
	}

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.addTree(event.Name, 0)
			return
		}
	}

	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	content, readErr := os.ReadFile(event.Name)

	dedupeKey := rel + "\x00" + string(content)
	if w.dedupe.IsDuplicate(dedupeKey, nil) {
		return
	}

	w.mu.Lock()
	w.pending = append(w.pending, models.ChangeNotification{
		Path:        rel,
		Content:     string(content),
		ContentRead: readErr == nil,
	})
	w.mu.Unlock()
}

func (w *Watcher) pathIgnored(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return true
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if ignoredDirs[part] {
			return true
		}
	}
	return false
}

// Drain returns and clears every change notification accumulated since the
// last Drain call. Callers in the agent loop invoke this after a Bash tool
// call completes, attributing any resulting mutations to that turn.
func (w *Watcher) Drain() []models.ChangeNotification {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.pending
	w.pending = nil
	return out
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.closeCh)
	return w.fsw.Close()
}
