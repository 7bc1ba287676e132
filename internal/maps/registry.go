package maps

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

// fileConfig is the top level of the maps file. Entries stay as raw nodes so a
// malformed entry can be skipped without rejecting the rest of the file.
type fileConfig struct {
	Maps map[string]yaml.Node `yaml:"maps"`
}

// Registry holds every known map definition, keyed by lower-cased id.
//
// Lookups are case-insensitive. The registry is populated once at startup by
// Load and fully replaced by Reload.
//
// Consistency caveat:
// Reload clears the registry before parsing the file again, so a concurrent Get
// may briefly report a map as missing. Callers that route clients treat a
// missing map as "not ready", which is the intended degradation.
//
// Thread Safety:
// All methods are safe for concurrent use. Returned definitions are immutable.
type Registry struct {
	// maps is keyed by strings.ToLower(id).
	maps map[string]*Definition

	// path is the YAML file read by Load and Reload.
	path string

	mu sync.RWMutex
}

// NewRegistry creates an empty registry backed by the YAML file at path.
// Call Load to populate it.
//
// Example:
//
//	registry := maps.NewRegistry("maps.yaml")
//	if err := registry.Load(); err != nil {
//	    log.Fatalf("load maps: %v", err)
//	}
func NewRegistry(path string) *Registry {
	return &Registry{
		path: path,
		maps: make(map[string]*Definition),
	}
}

// Path returns the backing file.
func (r *Registry) Path() string {
	return r.path
}

// Load reads the backing file and adds every entry that parses.
//
// Behavior:
//   - An unreadable or syntactically invalid file is returned as an error
//   - A file without a "maps" section logs a warning and loads nothing
//   - An entry that fails to parse is logged and skipped; the others still load
//
// Returns:
//   - The number of definitions loaded from the file
//   - An error only when the file itself cannot be used
func (r *Registry) Load() (int, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return 0, fmt.Errorf("read maps file: %w", err)
	}
	return r.LoadBytes(data)
}

// LoadBytes behaves like Load but parses data instead of the backing file.
func (r *Registry) LoadBytes(data []byte) (int, error) {
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return 0, fmt.Errorf("parse maps file: %w", err)
	}
	if len(cfg.Maps) == 0 {
		log.Printf("[maps] no 'maps' section in %s", r.path)
		return 0, nil
	}

	ids := make([]string, 0, len(cfg.Maps))
	for id := range cfg.Maps {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	loaded := 0
	for _, id := range ids {
		node := cfg.Maps[id]
		def, err := ParseDefinition(id, &node)
		if err != nil {
			log.Printf("[maps] failed to load map %s: %v", id, err)
			continue
		}
		r.Put(def)
		loaded++
		log.Printf("[maps] loaded map %s (template: %s)", def.ID(), def.TemplateID())
	}
	return loaded, nil
}

// Put adds or replaces a definition.
func (r *Registry) Put(def *Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maps[strings.ToLower(def.ID())] = def
}

// Get looks up a map by id, ignoring case.
func (r *Registry) Get(id string) (*Definition, bool) {
	if id == "" {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.maps[strings.ToLower(id)]
	return def, ok
}

// Reload clears the registry and loads the backing file again.
// See the consistency caveat on Registry.
func (r *Registry) Reload() (int, error) {
	r.mu.Lock()
	r.maps = make(map[string]*Definition)
	r.mu.Unlock()

	n, err := r.Load()
	if err != nil {
		return n, err
	}
	log.Printf("[maps] reloaded %d maps", n)
	return n, nil
}

// IDs returns the lower-cased ids of all maps, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.maps))
	for id := range r.maps {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// All returns every definition ordered by lower-cased id.
func (r *Registry) All() []*Definition {
	ids := r.IDs()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(ids))
	for _, id := range ids {
		if def, ok := r.maps[id]; ok {
			out = append(out, def)
		}
	}
	return out
}

// Len returns the number of registered maps.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.maps)
}
