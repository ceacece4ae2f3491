package template

import (
	"context"
	"log"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Registry serves the current template catalog and reloads it when the
// templates directory changes on disk.
type Registry struct {
	mu        sync.RWMutex
	dir       string
	templates map[string]Template
	onReload  func(count int)
}

// NewRegistry loads the initial catalog from dir.
func NewRegistry(dir string) (*Registry, error) {
	templates, err := Load(dir)
	if err != nil {
		return nil, err
	}
	return &Registry{dir: dir, templates: templates}, nil
}

// OnReload registers a callback invoked after each successful reload with
// the new catalog size. Used to publish a templates:loaded event.
func (r *Registry) OnReload(fn func(count int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onReload = fn
}

// Get returns the named template.
func (r *Registry) Get(name string) (Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tpl, ok := r.templates[name]
	return tpl, ok
}

// All returns the catalog ordered by name.
func (r *Registry) All() []Template {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Template, 0, len(r.templates))
	for _, tpl := range r.templates {
		result = append(result, tpl)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Count returns the catalog size.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.templates)
}

// Reload re-reads the directory. On parse failure the previous catalog
// stays in effect.
func (r *Registry) Reload() error {
	templates, err := Load(r.dir)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.templates = templates
	fn := r.onReload
	r.mu.Unlock()

	if fn != nil {
		fn(len(templates))
	}
	return nil
}

// Watch reloads the catalog whenever a yaml file in the templates directory
// is created, written, renamed or removed. Events are debounced so editors
// that write in several steps trigger one reload. Blocks until ctx is done.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(r.dir); err != nil {
		return err
	}

	const debounce = 200 * time.Millisecond
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			ext := filepath.Ext(ev.Name)
			if ext != ".yaml" && ext != ".yml" {
				continue
			}
			if !ev.Has(fsnotify.Create | fsnotify.Write | fsnotify.Rename | fsnotify.Remove) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("template watcher error: %v", err)
		case <-timerC:
			timer = nil
			timerC = nil
			if err := r.Reload(); err != nil {
				log.Printf("template reload failed, keeping previous catalog: %v", err)
				continue
			}
			log.Printf("templates reloaded: %d loaded from %s", r.Count(), r.dir)
		}
	}
}
