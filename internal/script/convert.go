// Package script embeds a sandboxed Lua VM hosting gameplay hooks
// (on_init, on_tick, on_action, on_enter_room, on_connect, on_admin),
// with typed proxies into the entity store, spatial model, output sink,
// session directory, and content registry, plus two-way component
// interchange between Go structs and Lua tables.
package script

import (
	"sort"

	lua "github.com/yuin/gopher-lua"

	"github.com/mudforge/engine/internal/entity"
)

// toLua converts a ScriptValue (or any scalar within one) to an
// lua.LValue. Maps become tables with pre-sorted keys so map iteration
// order never leaks into script-observable behavior.
func toLua(L *lua.LState, v any) lua.LValue {
	switch t := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(t)
	case int:
		return lua.LNumber(t)
	case int32:
		return lua.LNumber(t)
	case int64:
		return lua.LNumber(t)
	case uint32:
		return lua.LNumber(t)
	case uint64:
		return lua.LNumber(t)
	case float64:
		return lua.LNumber(t)
	case string:
		return lua.LString(t)
	case entity.ID:
		return lua.LNumber(uint64(t))
	case entity.ScriptValue:
		return mapToTable(L, t)
	case []entity.ID:
		tbl := L.NewTable()
		for i, id := range t {
			tbl.RawSetInt(i+1, lua.LNumber(uint64(id)))
		}
		return tbl
	case []string:
		tbl := L.NewTable()
		for i, s := range t {
			tbl.RawSetInt(i+1, lua.LString(s))
		}
		return tbl
	default:
		return lua.LNil
	}
}

func mapToTable(L *lua.LState, m entity.ScriptValue) *lua.LTable {
	tbl := L.NewTable()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		tbl.RawSetString(k, toLua(L, m[k]))
	}
	return tbl
}

// fromLua converts an lua.LValue back to a Go value suitable for
// embedding in a ScriptValue. Tables convert to entity.ScriptValue
// unless every key is a contiguous 1-based integer index, in which case
// they convert to a []any slice.
func fromLua(v lua.LValue) any {
	switch t := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(t)
	case lua.LNumber:
		return float64(t)
	case lua.LString:
		return string(t)
	case *lua.LTable:
		return tableToValue(t)
	default:
		return nil
	}
}

func tableToValue(t *lua.LTable) any {
	n := t.Len()
	if n > 0 {
		isArray := true
		t.ForEach(func(k, _ lua.LValue) {
			if num, ok := k.(lua.LNumber); !ok || num < 1 || float64(int(num)) != float64(num) {
				isArray = false
			}
		})
		if isArray {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, fromLua(t.RawGetInt(i)))
			}
			return out
		}
	}
	out := entity.ScriptValue{}
	t.ForEach(func(k, v lua.LValue) {
		if ks, ok := k.(lua.LString); ok {
			out[string(ks)] = fromLua(v)
		}
	})
	return out
}

func argEntity(L *lua.LState, n int) entity.ID {
	return entity.ID(uint64(L.CheckNumber(n)))
}
