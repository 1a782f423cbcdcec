package entity

import "fmt"

// ComponentID identifies a registered component type across process
// restarts — it, not the Go type, is what a snapshot or a script
// interchange record keys on.
type ComponentID uint32

// ScriptValue is the dynamic key-value record scripts exchange
// components as. Tag components map to the boolean true; reference
// components map to their 64-bit handle encoding (uint64(ID)); data
// components map to a string-keyed record of scalars/sub-records.
type ScriptValue = map[string]any

// PersistAdapter is the pair of capabilities the persistence registry
// holds per component type: serialize a present component, or
// deserialize-and-apply one back onto the store.
type PersistAdapter struct {
	ID          ComponentID
	TypeName    string
	Serialize   func(e ID) ([]byte, bool, error)
	Deserialize func(e ID, payload []byte) error
}

// ScriptAdapter is the scripting registry's capability pair: convert a
// component to/from the script VM's dynamic representation. Data
// components exchange as ScriptValue records, tag components as the
// boolean true, reference components as 64-bit handle encodings.
type ScriptAdapter struct {
	ID        ComponentID
	TypeName  string
	ToValue   func(e ID) (any, bool)
	FromValue func(e ID, v any) error
	// Query enumerates every entity currently carrying this component,
	// sorted by (index, generation) — backs the script runtime's
	// "entities with component X" iteration helper.
	Query func() []ID
}

// Registries is the process-wide directory from component id to its
// registered capabilities. A component type may be registered with
// either, both, or neither registry — only the game layer ever calls
// Register*; the engine itself never constructs a PersistAdapter or
// ScriptAdapter value.
type Registries struct {
	persist map[ComponentID]PersistAdapter
	script  map[ComponentID]ScriptAdapter
	order   []ComponentID // persistence iteration order, ascending by ComponentID
}

// NewRegistries returns an empty pair of registries.
func NewRegistries() *Registries {
	return &Registries{
		persist: make(map[ComponentID]PersistAdapter),
		script:  make(map[ComponentID]ScriptAdapter),
	}
}

// RegisterPersist adds a component's persistence capability.
// Re-registering the same id is a programmer error and panics: it
// almost always indicates two component types sharing a numeric id.
func (r *Registries) RegisterPersist(a PersistAdapter) {
	if _, exists := r.persist[a.ID]; exists {
		panic(fmt.Sprintf("entity: component id %d already registered for persistence (type %s)", a.ID, a.TypeName))
	}
	r.persist[a.ID] = a
	r.order = insertSorted(r.order, a.ID)
}

// RegisterScript adds a component's script-interchange capability.
// Re-registering the same id panics, as in RegisterPersist.
func (r *Registries) RegisterScript(a ScriptAdapter) {
	if _, exists := r.script[a.ID]; exists {
		panic(fmt.Sprintf("entity: component id %d already registered for scripting (type %s)", a.ID, a.TypeName))
	}
	r.script[a.ID] = a
}

// PersistOrder returns every persistence-registered component id in
// ascending order — the order snapshot capture walks them in.
func (r *Registries) PersistOrder() []ComponentID {
	out := make([]ComponentID, len(r.order))
	copy(out, r.order)
	return out
}

// Persist looks up a component's persistence adapter.
func (r *Registries) Persist(id ComponentID) (PersistAdapter, bool) {
	a, ok := r.persist[id]
	return a, ok
}

// Script looks up a component's scripting adapter.
func (r *Registries) Script(id ComponentID) (ScriptAdapter, bool) {
	a, ok := r.script[id]
	return a, ok
}

// HasPersist reports whether id is known to the persistence registry.
// Attaching a component with neither registry's knowledge is legal
// (pure in-memory gameplay state).
func (r *Registries) HasPersist(id ComponentID) bool {
	_, ok := r.persist[id]
	return ok
}

func insertSorted(order []ComponentID, id ComponentID) []ComponentID {
	i := 0
	for ; i < len(order); i++ {
		if order[i] > id {
			break
		}
	}
	order = append(order, 0)
	copy(order[i+1:], order[i:])
	order[i] = id
	return order
}

// RegisterComponent is a convenience that wires a Store[T] into both
// registries at once using plain encoding funcs, for the common case
// where a component's persisted form and its script form are both
// derivable from the same Go struct. Callers needing different
// behavior register PersistAdapter/ScriptAdapter directly.
func RegisterComponent[T any](r *Registries, regs *TypeRegistry, id ComponentID, name string, store *Store[T],
	marshal func(T) ([]byte, error), unmarshal func([]byte) (T, error),
	toValue func(T) any, fromValue func(any) (T, error)) {

	regs.Add(id, store)

	if marshal != nil && unmarshal != nil {
		r.RegisterPersist(PersistAdapter{
			ID:       id,
			TypeName: name,
			Serialize: func(e ID) ([]byte, bool, error) {
				v, ok := store.Get(e)
				if !ok {
					return nil, false, nil
				}
				b, err := marshal(v)
				return b, true, err
			},
			Deserialize: func(e ID, payload []byte) error {
				v, err := unmarshal(payload)
				if err != nil {
					return err
				}
				store.Set(e, v)
				return nil
			},
		})
	}

	if toValue != nil && fromValue != nil {
		r.RegisterScript(ScriptAdapter{
			ID:       id,
			TypeName: name,
			ToValue: func(e ID) (any, bool) {
				v, ok := store.Get(e)
				if !ok {
					return nil, false
				}
				return toValue(v), true
			},
			FromValue: func(e ID, val any) error {
				v, err := fromValue(val)
				if err != nil {
					return err
				}
				store.Set(e, v)
				return nil
			},
			Query: store.IDs,
		})
	}
}

// TypeRegistry is the removal directory the World consults: every
// registered Store[T], regardless of T, can drop an entity wholesale on
// despawn, or drop a single component by id for a remove command.
type TypeRegistry struct {
	stores []Remover
	byID   map[ComponentID]Remover
}

// NewTypeRegistry returns an empty removal directory.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{byID: make(map[ComponentID]Remover)}
}

// Add registers a component store under its id.
func (t *TypeRegistry) Add(id ComponentID, store Remover) {
	t.stores = append(t.stores, store)
	t.byID[id] = store
}

// Remove drops one component from e. Unknown ids and absent components
// are both no-ops returning false.
func (t *TypeRegistry) Remove(id ComponentID, e ID) bool {
	s, ok := t.byID[id]
	if !ok {
		return false
	}
	return s.Remove(e)
}

// RemoveAll drops e from every registered store. Idempotent per store.
func (t *TypeRegistry) RemoveAll(e ID) {
	for _, s := range t.stores {
		s.Remove(e)
	}
}
