package script

import (
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/mudforge/engine/internal/entity"
)

// installHostFunctions wires the six registration entry points scripts
// call at load time to build up the engine's hook tables.
func (e *Engine) installHostFunctions() {
	e.vm.SetGlobal("register_on_init", e.vm.NewFunction(func(L *lua.LState) int {
		e.onInit = append(e.onInit, L.CheckFunction(1))
		return 0
	}))
	e.vm.SetGlobal("register_on_tick", e.vm.NewFunction(func(L *lua.LState) int {
		e.onTick = append(e.onTick, L.CheckFunction(1))
		return 0
	}))
	e.vm.SetGlobal("register_on_action", e.vm.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		fn := L.CheckFunction(2)
		e.onAction[name] = append(e.onAction[name], fn)
		return 0
	}))
	e.vm.SetGlobal("register_on_enter_room", e.vm.NewFunction(func(L *lua.LState) int {
		e.onEnterRoom = append(e.onEnterRoom, L.CheckFunction(1))
		return 0
	}))
	e.vm.SetGlobal("register_on_connect", e.vm.NewFunction(func(L *lua.LState) int {
		e.onConnect = append(e.onConnect, L.CheckFunction(1))
		return 0
	}))
	e.vm.SetGlobal("register_on_admin", e.vm.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		minLevel := int(L.CheckNumber(2))
		fn := L.CheckFunction(3)
		if _, exists := e.onAdmin[name]; exists {
			L.RaiseError("admin command %q already registered", name)
			return 0
		}
		e.onAdmin[name] = adminReg{minLevel: minLevel, fn: fn}
		return 0
	}))
}

func (e *Engine) call(fn *lua.LFunction, nret int, args ...lua.LValue) ([]lua.LValue, error) {
	base := e.vm.GetTop()
	if err := e.vm.CallByParam(lua.P{Fn: fn, NRet: nret, Protect: true}, args...); err != nil {
		return nil, err
	}
	out := make([]lua.LValue, 0, nret)
	for i := 0; i < nret; i++ {
		out = append(out, e.vm.Get(base+1+i))
	}
	e.vm.SetTop(base)
	return out, nil
}

// failed rolls back every command the script producer has appended
// this tick and logs the hook error. One erring hook discards the
// whole producer's tick contribution, the same contract a trapped
// plugin gets.
func (e *Engine) failed(hook string, err error, fields ...zap.Field) {
	n := e.stream.MarkFailed(e.producer)
	fields = append(fields, zap.Error(err), zap.Int("commands_discarded", n))
	e.log.Error("script "+hook+" error", fields...)
}

// RunInit fires on_init exactly once at world construction, after
// snapshot restore if any happened.
func (e *Engine) RunInit() {
	proxies := e.newProxies()
	defer proxies.expire()
	for _, fn := range e.onInit {
		if _, err := e.call(fn, 0, proxies.table(e.vm)); err != nil {
			e.failed("on_init", err)
		}
	}
}

// RunTick fires every on_tick hook, in registration order, for the
// given tick number.
func (e *Engine) RunTick(tick uint64) {
	proxies := e.newProxies()
	defer proxies.expire()
	for _, fn := range e.onTick {
		if _, err := e.call(fn, 0, lua.LNumber(tick), proxies.table(e.vm)); err != nil {
			e.failed("on_tick", err, zap.Uint64("tick", tick))
		}
	}
}

// RunAction fires on_action handlers registered for actionName in
// registration order, stopping at the first one that reports "consumed".
// It returns whether any handler consumed the action.
func (e *Engine) RunAction(actionName string, context entity.ScriptValue) bool {
	proxies := e.newProxies()
	defer proxies.expire()
	lctx := toLua(e.vm, context)
	for _, fn := range e.onAction[actionName] {
		res, err := e.call(fn, 1, lua.LString(actionName), lctx, proxies.table(e.vm))
		if err != nil {
			e.failed("on_action", err, zap.String("action", actionName))
			continue
		}
		if len(res) > 0 && lua.LVAsBool(res[0]) {
			return true
		}
	}
	return false
}

// RunEnterRoom fires on_enter_room hooks after a room-graph move
// completes.
func (e *Engine) RunEnterRoom(who, newRoom, oldRoom uint64) {
	proxies := e.newProxies()
	defer proxies.expire()
	for _, fn := range e.onEnterRoom {
		if _, err := e.call(fn, 0, lua.LNumber(who), lua.LNumber(newRoom), lua.LNumber(oldRoom), proxies.table(e.vm)); err != nil {
			e.failed("on_enter_room", err)
		}
	}
}

// RunConnect fires on_connect hooks once a session is ready to receive
// output.
func (e *Engine) RunConnect(sessionID uint64) {
	proxies := e.newProxies()
	defer proxies.expire()
	for _, fn := range e.onConnect {
		if _, err := e.call(fn, 0, lua.LNumber(sessionID), proxies.table(e.vm)); err != nil {
			e.failed("on_connect", err)
		}
	}
}

// RunAdmin invokes the admin command named commandName if one is
// registered and sessionLevel is at least the registered minimum. The
// permission check happens here, in the host, and cannot be bypassed
// by the callback itself.
func (e *Engine) RunAdmin(commandName string, sessionID uint64, sessionLevel int, args string) (found bool, allowed bool) {
	reg, ok := e.onAdmin[commandName]
	if !ok {
		return false, false
	}
	if sessionLevel < reg.minLevel {
		e.log.Warn("admin command denied", zap.String("command", commandName), zap.Uint64("session", sessionID), zap.Int("level", sessionLevel), zap.Int("required", reg.minLevel))
		return true, false
	}
	proxies := e.newProxies()
	defer proxies.expire()
	if _, err := e.call(reg.fn, 0, lua.LNumber(sessionID), lua.LNumber(sessionLevel), lua.LString(args), proxies.table(e.vm)); err != nil {
		e.failed("on_admin", err, zap.String("command", commandName))
	}
	return true, true
}
