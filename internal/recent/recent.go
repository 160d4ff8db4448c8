// Package recent keeps the most-recently-used directory list: an
// ordered, capped set of absolute paths persisted one per line. All
// persistence failures are non-fatal; the in-memory list just stays
// as it was.
package recent

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

type List struct {
	path string
	max  int

	mu   sync.Mutex
	dirs []string

	// saveMu orders file rewrites: a snapshot taken later can never be
	// overwritten by an earlier one still in flight. Readers only need
	// mu, so they are never stuck behind disk I/O.
	saveMu sync.Mutex
}

func NewList(path string, max int) *List {
	if max <= 0 {
		max = 10
	}
	return &List{path: path, max: max}
}

// Load reads the list from disk. A missing file means an empty list;
// directories that no longer exist are dropped.
func (l *List) Load() {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("recent: read %s: %v", l.path, err)
		}
		return
	}

	var dirs []string
	for _, line := range strings.Split(string(data), "\n") {
		dir := strings.TrimSpace(line)
		if dir == "" {
			continue
		}
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		dirs = append(dirs, dir)
		if len(dirs) >= l.max {
			break
		}
	}

	l.mu.Lock()
	l.dirs = dirs
	l.mu.Unlock()
}

// Promote moves dir to the front, inserting it if new, and rewrites
// the file. Repeated promotion of the same path is idempotent: the
// list never holds duplicates and never exceeds its cap.
func (l *List) Promote(dir string) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return
	}

	l.saveMu.Lock()
	defer l.saveMu.Unlock()

	l.mu.Lock()
	next := make([]string, 0, len(l.dirs)+1)
	next = append(next, dir)
	for _, d := range l.dirs {
		if d == dir {
			continue
		}
		next = append(next, d)
	}
	if len(next) > l.max {
		next = next[:l.max]
	}
	l.dirs = next
	snapshot := append([]string(nil), next...)
	l.mu.Unlock()

	l.save(snapshot)
}

// Dirs returns a copy of the current list, most recent first.
func (l *List) Dirs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.dirs...)
}

func (l *List) save(dirs []string) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		log.Printf("recent: mkdir for %s: %v", l.path, err)
		return
	}
	content := strings.Join(dirs, "\n")
	if content != "" {
		content += "\n"
	}
	if err := os.WriteFile(l.path, []byte(content), 0o644); err != nil {
		log.Printf("recent: write %s: %v", l.path, err)
	}
}

// Watch reloads the list whenever another process rewrites the file,
// until ctx is cancelled. The parent directory is watched rather than
// the file itself so whole-file rewrites are not missed.
func (l *List) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != l.path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					l.Load()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("recent: watch error: %v", err)
			}
		}
	}()
	return nil
}
