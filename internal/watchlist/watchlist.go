// Package watchlist holds the set of watched source ids. The set is
// external configuration: it can be changed at any time between events,
// either via Set or by editing the backing file, which is reloaded live.
package watchlist

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

type List struct {
	mu     sync.RWMutex
	static map[string]struct{}
	file   map[string]struct{}

	path    string
	watcher *fsnotify.Watcher
}

func New(sources []string, path string) *List {
	l := &List{
		static: make(map[string]struct{}, len(sources)),
		file:   make(map[string]struct{}),
		path:   path,
	}
	for _, s := range sources {
		if s = strings.TrimSpace(s); s != "" {
			l.static[s] = struct{}{}
		}
	}
	return l
}

// Contains reports whether sourceID is currently watched. Reads the
// live snapshot on every call; results are never cached by callers.
func (l *List) Contains(sourceID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.static[sourceID]; ok {
		return true
	}
	_, ok := l.file[sourceID]
	return ok
}

func (l *List) Set(sources []string) {
	next := make(map[string]struct{}, len(sources))
	for _, s := range sources {
		if s = strings.TrimSpace(s); s != "" {
			next[s] = struct{}{}
		}
	}
	l.mu.Lock()
	l.static = next
	l.mu.Unlock()
}

// Len returns the current number of watched source ids.
func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	seen := make(map[string]struct{}, len(l.static)+len(l.file))
	for s := range l.static {
		seen[s] = struct{}{}
	}
	for s := range l.file {
		seen[s] = struct{}{}
	}
	return len(seen)
}

// Start loads the backing file and begins watching it for changes.
// No-op when no file is configured.
func (l *List) Start(ctx context.Context) error {
	if l.path == "" {
		return nil
	}

	if err := l.reload(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load watch file: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	// Watch the directory: editors replace the file rather than write
	// in place, which drops a watch set directly on the file.
	if err := w.Add(filepath.Dir(l.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", l.path, err)
	}
	l.watcher = w

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(l.path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := l.reload(); err != nil {
					log.Printf("[watchlist] reload failed: %v", err)
				} else {
					log.Printf("[watchlist] reloaded %s (%d watched)", l.path, l.Len())
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Printf("[watchlist] watcher error: %v", err)
			case <-ctx.Done():
				w.Close()
				return
			}
		}
	}()

	return nil
}

func (l *List) reload() error {
	f, err := os.Open(l.path)
	if err != nil {
		return err
	}
	defer f.Close()

	next := make(map[string]struct{})
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		next[line] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	l.file = next
	l.mu.Unlock()
	return nil
}
