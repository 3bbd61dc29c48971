// Package library maintains the on-disk catalog of mission definitions:
// a directory of YAML files, loaded at startup and hot-reloaded on
// change so operators can edit missions without restarting the daemon.
package library

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/outland-robotics/missiond/internal/mission"
)

// Entry is one cataloged mission definition.
type Entry struct {
	Name       string              `json:"name"`
	Path       string              `json:"path"`
	Definition *mission.Definition `json:"-"`
	LoadedAt   time.Time           `json:"loaded_at"`
}

// Library watches a directory of *.yaml mission definitions. Entries
// are keyed by the definition's declared name; a file that fails to
// parse keeps its previous good entry and logs the error.
type Library struct {
	dir    string
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]*Entry
	byPath  map[string]string

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Option is a functional option for configuring the Library.
type Option func(*Library)

// WithLogger configures the library to use the specified structured
// logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Library) {
		l.logger = logger
	}
}

// Open scans dir for mission definitions and starts watching it for
// changes. Close releases the watcher.
func Open(dir string, opts ...Option) (*Library, error) {
	l := &Library{
		dir:     dir,
		logger:  slog.Default(),
		entries: make(map[string]*Entry),
		byPath:  make(map[string]string),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	if err := l.scan(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create mission library watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch mission library %s: %w", dir, err)
	}
	l.watcher = watcher
	go l.watch()

	return l, nil
}

// Get returns the cataloged entry with the given mission name.
func (l *Library) Get(name string) (*Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[name]
	return e, ok
}

// List returns every cataloged entry sorted by mission name.
func (l *Library) List() []*Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*Entry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close stops the directory watcher.
func (l *Library) Close() error {
	close(l.done)
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}

func (l *Library) scan() error {
	files, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("read mission library %s: %w", l.dir, err)
	}
	for _, f := range files {
		if f.IsDir() || !isMissionFile(f.Name()) {
			continue
		}
		l.loadFile(filepath.Join(l.dir, f.Name()))
	}
	return nil
}

func (l *Library) loadFile(path string) {
	def, err := mission.LoadDefinition(path)
	if err != nil {
		l.logger.Warn("skipping mission definition", "path", path, "error", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// The file may have been renamed within the definition; drop the
	// entry its previous name pointed at.
	if prev, ok := l.byPath[path]; ok && prev != def.Name {
		delete(l.entries, prev)
	}
	l.entries[def.Name] = &Entry{
		Name:       def.Name,
		Path:       path,
		Definition: def,
		LoadedAt:   time.Now(),
	}
	l.byPath[path] = def.Name
	l.logger.Info("mission definition loaded", "name", def.Name, "path", path)
}

func (l *Library) removeFile(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	name, ok := l.byPath[path]
	if !ok {
		return
	}
	delete(l.byPath, path)
	delete(l.entries, name)
	l.logger.Info("mission definition removed", "name", name, "path", path)
}

func (l *Library) watch() {
	for {
		select {
		case <-l.done:
			return
		case ev, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if !isMissionFile(filepath.Base(ev.Name)) {
				continue
			}
			switch {
			case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
				l.loadFile(ev.Name)
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				l.removeFile(ev.Name)
			}
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn("mission library watcher error", "error", err)
		}
	}
}

func isMissionFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
