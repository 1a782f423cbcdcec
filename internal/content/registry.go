// Package content implements the read-only dynamic content registry:
// collections of game-content records loaded once at startup from YAML
// files, one collection per file, and exposed read-only to script
// hooks thereafter. Records are generic key-value shapes so the engine
// layer stays ignorant of what a collection contains.
package content

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mudforge/engine/internal/entity"
)

// Registry is a read-only directory from collection name to the records
// in it, keyed by each record's id field. Built once at startup by Load
// and never mutated after — safe to read from any goroutine without
// synchronization, same discipline as the component registries.
type Registry struct {
	collections map[string]map[string]entity.ScriptValue
	order       map[string][]string // id order per collection, as read from file
}

// NewRegistry returns an empty registry (useful for tests).
func NewRegistry() *Registry {
	return &Registry{
		collections: make(map[string]map[string]entity.ScriptValue),
		order:       make(map[string][]string),
	}
}

// recordFile is the expected top-level shape of each YAML file: a list
// of records, each required to carry a string "id" key.
type recordFile struct {
	Records []map[string]any `yaml:"records"`
}

// Load reads every *.yaml file directly under dir, one collection per
// file (collection name = file name without extension), in sorted
// filename order so load diagnostics are deterministic.
func Load(dir string) (*Registry, error) {
	r := NewRegistry()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("content: read dir %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && (strings.HasSuffix(e.Name(), ".yaml") || strings.HasSuffix(e.Name(), ".yml")) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		collection := strings.TrimSuffix(strings.TrimSuffix(name, ".yaml"), ".yml")
		path := filepath.Join(dir, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("content: read %s: %w", path, err)
		}
		var file recordFile
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return nil, fmt.Errorf("content: parse %s: %w", path, err)
		}
		recs := make(map[string]entity.ScriptValue, len(file.Records))
		ids := make([]string, 0, len(file.Records))
		for _, rec := range file.Records {
			rawID, ok := rec["id"]
			if !ok {
				return nil, fmt.Errorf("content: %s: record missing required \"id\" field", path)
			}
			id := fmt.Sprintf("%v", rawID)
			recs[id] = toScriptValue(rec)
			ids = append(ids, id)
		}
		r.collections[collection] = recs
		r.order[collection] = ids
	}
	return r, nil
}

func toScriptValue(m map[string]any) entity.ScriptValue {
	out := make(entity.ScriptValue, len(m))
	for k, v := range m {
		out[k] = normalize(v)
	}
	return out
}

// normalize recursively converts yaml.v3's decoded map[string]interface{}
// (and nested lists/maps) into entity.ScriptValue-friendly shapes so
// script proxies never have to special-case YAML's own dynamic types.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return toScriptValue(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	default:
		return t
	}
}

// Lookup returns one record by collection and id.
func (r *Registry) Lookup(collection, id string) (entity.ScriptValue, bool) {
	recs, ok := r.collections[collection]
	if !ok {
		return nil, false
	}
	v, ok := recs[id]
	return v, ok
}

// IDs returns every id in collection, in the order they were read from
// file — stable across runs for a given file.
func (r *Registry) IDs(collection string) []string {
	ids := r.order[collection]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// Collections lists every loaded collection name, sorted.
func (r *Registry) Collections() []string {
	out := make([]string, 0, len(r.collections))
	for name := range r.collections {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Count reports how many records a collection holds, for the startup
// banner's per-collection load stats.
func (r *Registry) Count(collection string) int {
	return len(r.collections[collection])
}
