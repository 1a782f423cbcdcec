package component

import (
	"fmt"

	"github.com/mudforge/engine/internal/entity"
	"github.com/mudforge/engine/internal/snapshot"
)

// Set owns one typed store per baseline component. Everything here is
// touched only from the simulation thread.
type Set struct {
	Health       *entity.Store[Health]
	Named        *entity.Store[Named]
	Description  *entity.Store[Description]
	Player       *entity.Store[Player]
	NPC          *entity.Store[NPC]
	Item         *entity.Store[Item]
	Dead         *entity.Store[Dead]
	CombatTarget *entity.Store[CombatTarget]
	Inventory    *entity.Store[Inventory]
}

// NewSet allocates empty stores for every baseline component.
func NewSet() *Set {
	return &Set{
		Health:       entity.NewStore[Health](),
		Named:        entity.NewStore[Named](),
		Description:  entity.NewStore[Description](),
		Player:       entity.NewStore[Player](),
		NPC:          entity.NewStore[NPC](),
		Item:         entity.NewStore[Item](),
		Dead:         entity.NewStore[Dead](),
		CombatTarget: entity.NewStore[CombatTarget](),
		Inventory:    entity.NewStore[Inventory](),
	}
}

// RegisterAll wires every baseline component into the persistence and
// scripting registries and the despawn directory. Call once at startup,
// before any snapshot restore or script load.
func (s *Set) RegisterAll(regs *entity.Registries, types *entity.TypeRegistry) {
	entity.RegisterComponent(regs, types, HealthID, "health", s.Health,
		func(v Health) ([]byte, error) {
			w := snapshot.NewWriter()
			w.WriteU32(uint32(v.Current))
			w.WriteU32(uint32(v.Max))
			return w.Bytes(), nil
		},
		func(b []byte) (Health, error) {
			r := snapshot.NewReader(b)
			cur, err := r.ReadU32()
			if err != nil {
				return Health{}, err
			}
			max, err := r.ReadU32()
			if err != nil {
				return Health{}, err
			}
			return Health{Current: int32(cur), Max: int32(max)}, nil
		},
		func(v Health) any {
			return entity.ScriptValue{"current": v.Current, "max": v.Max}
		},
		func(v any) (Health, error) {
			rec, ok := v.(entity.ScriptValue)
			if !ok {
				return Health{}, fmt.Errorf("component: health expects a record, got %T", v)
			}
			return Health{Current: asI32(rec["current"]), Max: asI32(rec["max"])}, nil
		})

	entity.RegisterComponent(regs, types, NamedID, "named", s.Named,
		func(v Named) ([]byte, error) {
			w := snapshot.NewWriter()
			w.WriteString(v.Name)
			return w.Bytes(), nil
		},
		func(b []byte) (Named, error) {
			name, err := snapshot.NewReader(b).ReadString()
			return Named{Name: name}, err
		},
		func(v Named) any {
			return entity.ScriptValue{"name": v.Name}
		},
		func(v any) (Named, error) {
			rec, ok := v.(entity.ScriptValue)
			if !ok {
				return Named{}, fmt.Errorf("component: named expects a record, got %T", v)
			}
			name, _ := rec["name"].(string)
			return Named{Name: name}, nil
		})

	entity.RegisterComponent(regs, types, DescriptionID, "description", s.Description,
		func(v Description) ([]byte, error) {
			w := snapshot.NewWriter()
			w.WriteString(v.Text)
			return w.Bytes(), nil
		},
		func(b []byte) (Description, error) {
			text, err := snapshot.NewReader(b).ReadString()
			return Description{Text: text}, err
		},
		func(v Description) any {
			return entity.ScriptValue{"text": v.Text}
		},
		func(v any) (Description, error) {
			rec, ok := v.(entity.ScriptValue)
			if !ok {
				return Description{}, fmt.Errorf("component: description expects a record, got %T", v)
			}
			text, _ := rec["text"].(string)
			return Description{Text: text}, nil
		})

	registerTag(regs, types, PlayerID, "player", s.Player, func() Player { return Player{} })
	registerTag(regs, types, NPCID, "npc", s.NPC, func() NPC { return NPC{} })
	registerTag(regs, types, ItemID, "item", s.Item, func() Item { return Item{} })
	registerTag(regs, types, DeadID, "dead", s.Dead, func() Dead { return Dead{} })

	entity.RegisterComponent(regs, types, CombatTargetID, "combat_target", s.CombatTarget,
		func(v CombatTarget) ([]byte, error) {
			w := snapshot.NewWriter()
			w.WriteU64(uint64(v.Target))
			return w.Bytes(), nil
		},
		func(b []byte) (CombatTarget, error) {
			h, err := snapshot.NewReader(b).ReadU64()
			return CombatTarget{Target: entity.ID(h)}, err
		},
		func(v CombatTarget) any { return uint64(v.Target) },
		func(v any) (CombatTarget, error) {
			return CombatTarget{Target: entity.ID(asU64(v))}, nil
		})

	entity.RegisterComponent(regs, types, InventoryID, "inventory", s.Inventory,
		func(v Inventory) ([]byte, error) {
			w := snapshot.NewWriter()
			w.WriteU32(uint32(len(v.Items)))
			for _, it := range v.Items {
				w.WriteU64(uint64(it))
			}
			return w.Bytes(), nil
		},
		func(b []byte) (Inventory, error) {
			r := snapshot.NewReader(b)
			n, err := r.ReadU32()
			if err != nil {
				return Inventory{}, err
			}
			items := make([]entity.ID, n)
			for i := range items {
				h, err := r.ReadU64()
				if err != nil {
					return Inventory{}, err
				}
				items[i] = entity.ID(h)
			}
			return Inventory{Items: items}, nil
		},
		func(v Inventory) any {
			return append([]entity.ID(nil), v.Items...)
		},
		func(v any) (Inventory, error) {
			list, ok := v.([]any)
			if !ok {
				return Inventory{}, fmt.Errorf("component: inventory expects a list, got %T", v)
			}
			items := make([]entity.ID, 0, len(list))
			for _, e := range list {
				items = append(items, entity.ID(asU64(e)))
			}
			return Inventory{Items: items}, nil
		})
}

// registerTag wires a presence-only component: it persists as an empty
// payload and exchanges with scripts as the boolean true.
func registerTag[T any](regs *entity.Registries, types *entity.TypeRegistry, id entity.ComponentID, name string, store *entity.Store[T], zero func() T) {
	entity.RegisterComponent(regs, types, id, name, store,
		func(T) ([]byte, error) { return nil, nil },
		func([]byte) (T, error) { return zero(), nil },
		func(T) any { return true },
		func(v any) (T, error) {
			if b, ok := v.(bool); ok && !b {
				return zero(), fmt.Errorf("component: %s: setting a tag to false is not how tags are removed", name)
			}
			return zero(), nil
		})
}

func asI32(v any) int32 {
	switch t := v.(type) {
	case int32:
		return t
	case int:
		return int32(t)
	case int64:
		return int32(t)
	case float64:
		return int32(t)
	case uint64:
		return int32(t)
	default:
		return 0
	}
}

func asU64(v any) uint64 {
	switch t := v.(type) {
	case uint64:
		return t
	case int:
		return uint64(t)
	case int64:
		return uint64(t)
	case float64:
		return uint64(t)
	case uint32:
		return uint64(t)
	default:
		return 0
	}
}
