package scripting

import (
	"errors"
	"fmt"
	"os"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// filterFunc is the global a filter script must define.
const filterFunc = "is_exempt"

// ErrNoFilterFunction is returned when a script does not define is_exempt.
var ErrNoFilterFunction = errors.New("scripting: script does not define is_exempt(text)")

// TransitionFilter decides, by calling a Lua is_exempt(text) function, whether
// a transition should be kept off the map. It is safe for concurrent use;
// calls are serialized on one VM.
type TransitionFilter struct {
	mu     sync.Mutex
	L      *lua.LState
	fn     lua.LValue
	limit  int
	logger *zap.Logger
}

// LoadTransitionFilter reads the script at path and compiles it into a filter.
//
// Precondition: logger must be non-nil.
// Postcondition: Returns a ready filter, or a non-nil error if the file cannot
// be read, fails to run, or does not define is_exempt.
func LoadTransitionFilter(path string, limit int, logger *zap.Logger) (*TransitionFilter, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scripting: reading filter %q: %w", path, err)
	}
	f, err := NewTransitionFilter(string(src), limit, logger)
	if err != nil {
		return nil, fmt.Errorf("scripting: loading filter %q: %w", path, err)
	}
	return f, nil
}

// NewTransitionFilter compiles src into a filter. Each call into the script,
// including the initial load, runs under a fresh budget of limit opcodes.
//
// Precondition: logger must be non-nil; limit <= 0 uses DefaultInstructionLimit.
func NewTransitionFilter(src string, limit int, logger *zap.Logger) (*TransitionFilter, error) {
	L := NewSandboxedState()
	RegisterModules(L)

	if err := runBudgeted(L, limit, func() error { return L.DoString(src) }); err != nil {
		L.Close()
		return nil, err
	}
	fn := L.GetGlobal(filterFunc)
	if fn.Type() != lua.LTFunction {
		L.Close()
		return nil, ErrNoFilterFunction
	}
	return &TransitionFilter{L: L, fn: fn, limit: limit, logger: logger}, nil
}

// IsExempt reports whether the script marks transition as exempt. A script
// error or a non-boolean result is logged and treated as not exempt.
func (f *TransitionFilter) IsExempt(transition string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := runBudgeted(f.L, f.limit, func() error {
		return f.L.CallByParam(lua.P{Fn: f.fn, NRet: 1, Protect: true}, lua.LString(transition))
	})
	if err != nil {
		f.logger.Warn("transition filter failed",
			zap.String("transition", transition),
			zap.Error(err),
		)
		return false
	}

	ret := f.L.Get(-1)
	f.L.Pop(1)
	b, ok := ret.(lua.LBool)
	if !ok {
		f.logger.Warn("transition filter returned non-boolean",
			zap.String("transition", transition),
			zap.String("type", ret.Type().String()),
		)
		return false
	}
	return bool(b)
}

// Close releases the Lua VM.
func (f *TransitionFilter) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.L.Close()
}
