package hostfunc

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/dop251/goja"
)

// ErrRunFinished is returned to a host function call that arrives after its
// run has already produced an outcome.
var ErrRunFinished = errors.New("run finished")

type Func func(ctx context.Context, args map[string]any) (any, error)

type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	r.funcs[name] = fn
	r.mu.Unlock()
}

func (r *Registry) Get(name string) (Func, bool) {
	r.mu.RLock()
	fn, ok := r.funcs[name]
	r.mu.RUnlock()
	return fn, ok
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Install exposes every registered function as a global of vm. Guarded code
// calls it with one options object: name({key: value}). A returned error is
// thrown into guarded code. Calls are refused once active reports false.
func (r *Registry) Install(ctx context.Context, vm *goja.Runtime, active func() bool) error {
	if r == nil {
		return nil
	}
	for _, name := range r.List() {
		fn, _ := r.Get(name)
		if err := vm.Set(name, bindFunc(ctx, vm, fn, active)); err != nil {
			return err
		}
	}
	return nil
}

func bindFunc(ctx context.Context, vm *goja.Runtime, fn Func, active func() bool) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if active != nil && !active() {
			panic(vm.NewGoError(ErrRunFinished))
		}
		args := map[string]any{}
		if arg := call.Argument(0); !goja.IsUndefined(arg) && !goja.IsNull(arg) {
			if m, ok := arg.Export().(map[string]any); ok {
				args = m
			}
		}
		result, err := fn(ctx, args)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(result)
	}
}
