package task

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"taskcore/internal/domain"
)

// Catalog holds the implementations compiled into the binary, keyed by
// implementation reference.
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewCatalog() *Catalog {
	return &Catalog{factories: map[string]Factory{}}
}

// Register adds an implementation. Registering the same reference twice
// replaces the earlier factory.
func (c *Catalog) Register(ref string, f Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[ref] = f
}

func (c *Catalog) lookup(ref string) (Factory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.factories[ref]
	return f, ok
}

func (c *Catalog) refs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.factories))
	for ref := range c.factories {
		out = append(out, ref)
	}
	sort.Strings(out)
	return out
}

// sourceFile is the on-disk format of a task definition source:
//
//	tasks:
//	  nightly-cleanup: shell
//	  ping-upstream: http
type sourceFile struct {
	Tasks map[string]string `yaml:"tasks"`
}

// Registry resolves task identifiers. Every catalog reference is an identifier
// for itself; definition sources add aliases and may override earlier entries.
// Sources are read once, on first use.
type Registry struct {
	catalog *Catalog
	sources []string

	once sync.Once
	defs map[string]string
	err  error
}

func NewRegistry(catalog *Catalog, sources ...string) *Registry {
	return &Registry{catalog: catalog, sources: sources}
}

// Definitions returns a copy of the merged identifier to reference mapping.
func (r *Registry) Definitions() (map[string]string, error) {
	r.once.Do(r.load)
	if r.err != nil {
		return nil, r.err
	}
	out := make(map[string]string, len(r.defs))
	for k, v := range r.defs {
		out[k] = v
	}
	return out, nil
}

// Resolve returns a new Task for identifier.
func (r *Registry) Resolve(identifier string) (Task, error) {
	r.once.Do(r.load)
	if r.err != nil {
		return nil, r.err
	}
	ref, ok := r.defs[identifier]
	if !ok {
		return nil, &domain.NoTaskImplementationError{TaskIdentifier: identifier}
	}
	f, ok := r.catalog.lookup(ref)
	if !ok {
		return nil, &domain.NoTaskImplementationError{TaskIdentifier: identifier}
	}
	return f(), nil
}

func (r *Registry) load() {
	defs := map[string]string{}
	for _, ref := range r.catalog.refs() {
		defs[ref] = ref
	}
	for _, src := range r.sources {
		files, err := sourceFiles(src)
		if err != nil {
			r.err = err
			return
		}
		for _, path := range files {
			if err := mergeSource(path, defs); err != nil {
				r.err = err
				return
			}
		}
	}
	for id, ref := range defs {
		if _, ok := r.catalog.lookup(ref); !ok {
			log.Warn().Str("task_identifier", id).Str("reference", ref).Msg("task definition has no implementation")
		}
	}
	r.defs = defs
	log.Debug().Int("tasks", len(defs)).Int("sources", len(r.sources)).Msg("task registry loaded")
}

// sourceFiles expands a directory into its YAML files in name order. A missing
// path contributes nothing.
func sourceFiles(src string) ([]string, error) {
	st, err := os.Stat(src)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return []string{src}, nil
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		files = append(files, filepath.Join(src, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func mergeSource(path string, defs map[string]string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var f sourceFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("task source %s: %w", path, err)
	}
	for id, ref := range f.Tasks {
		defs[strings.TrimSpace(id)] = strings.TrimSpace(ref)
	}
	return nil
}
