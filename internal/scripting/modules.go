package scripting

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/cory-johannsen/automap/internal/game/world"
)

// RegisterModules defines the automap global table in L:
//
//	automap.parse(text) -> canonical direction name, or nil
//
// Precondition: L must be from NewSandboxedState.
func RegisterModules(L *lua.LState) {
	mod := L.NewTable()
	L.SetField(mod, "parse", L.NewFunction(luaParse))
	L.SetGlobal("automap", mod)
}

func luaParse(L *lua.LState) int {
	d := world.Parse(L.CheckString(1))
	if d == "" {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(d))
	return 1
}
