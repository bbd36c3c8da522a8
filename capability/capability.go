// Package capability keeps denied host capabilities out of reach of guarded
// code.
//
// A Filter acts twice. Scan is an advisory text search of the source that can
// over- and under-report: a local variable named like a denied identifier is a
// false positive, and a name assembled at runtime is missed. Neutralize is the
// enforcement boundary: it replaces every denied identifier in a run's global
// environment with an accessor that throws, so any reference fails at
// evaluation time whether or not Scan saw it.
package capability

import (
	"sort"
	"strings"

	"github.com/dop251/goja"

	"github.com/caffeineduck/guardsim/outcome"
)

// Denied identifiers by capability class.
var (
	Timers  = []string{"setTimeout", "setInterval", "setImmediate", "clearTimeout", "clearInterval", "clearImmediate", "requestAnimationFrame", "cancelAnimationFrame", "queueMicrotask"}
	Workers = []string{"Worker", "SharedWorker", "ServiceWorker", "importScripts"}
	Network = []string{"fetch", "XMLHttpRequest", "WebSocket", "EventSource", "navigator"}
	Storage = []string{"localStorage", "sessionStorage", "indexedDB", "caches"}
	Crypto  = []string{"crypto", "SubtleCrypto"}
	Dynamic = []string{"eval", "Function"}
)

// DefaultDenied returns the fixed deny-list.
func DefaultDenied() []string {
	var out []string
	for _, group := range [][]string{Timers, Workers, Network, Storage, Crypto, Dynamic} {
		out = append(out, group...)
	}
	return out
}

// Filter holds a deny-list.
type Filter struct {
	denied []string
	set    map[string]struct{}
}

// New returns a filter for the default deny-list plus extra identifiers.
func New(extra ...string) *Filter {
	f := &Filter{set: make(map[string]struct{})}
	for _, name := range append(DefaultDenied(), extra...) {
		if name == "" {
			continue
		}
		if _, ok := f.set[name]; ok {
			continue
		}
		f.set[name] = struct{}{}
		f.denied = append(f.denied, name)
	}
	sort.Strings(f.denied)
	return f
}

// Denied returns the sorted deny-list.
func (f *Filter) Denied() []string {
	return append([]string(nil), f.denied...)
}

// IsDenied reports whether name is on the deny-list.
func (f *Filter) IsDenied(name string) bool {
	_, ok := f.set[name]
	return ok
}

// Scan returns one advisory violation per denied identifier that appears in
// source as a whole word.
func (f *Filter) Scan(source string) []outcome.Violation {
	var out []outcome.Violation
	for _, name := range f.denied {
		if containsIdentifier(source, name) {
			out = append(out, outcome.Violation{
				Category: outcome.CategoryCapability,
				Message:  "source references denied capability " + name,
				Fatal:    false,
				Phase:    outcome.PhasePreCheck,
			})
		}
	}
	return out
}

// DeniedError is the error raised when guarded code touches a denied
// identifier.
func DeniedError(name string) *outcome.Error {
	return outcome.NewError(outcome.CategoryCapability, "access to denied capability "+name+" is not permitted")
}

// Neutralize binds every denied identifier on vm's global object to a
// non-configurable accessor that throws DeniedError on read and write.
// onAccess, when non-nil, is called with the identifier before each throw.
func (f *Filter) Neutralize(vm *goja.Runtime, onAccess func(name string)) error {
	if f.IsDenied("Function") {
		if err := f.sealConstructors(vm, onAccess); err != nil {
			return err
		}
	}
	global := vm.GlobalObject()
	for _, name := range f.denied {
		trap := f.trap(vm, name, onAccess)
		// A plain binding may already exist, e.g. a built-in or a context value.
		_ = global.Delete(name)
		if err := global.DefineAccessorProperty(name, trap, trap, goja.FLAG_FALSE, goja.FLAG_FALSE); err != nil {
			return err
		}
	}
	return nil
}

// sealConstructors closes the routes from a function value back to a code
// compiling constructor, e.g. (function(){}).constructor("...").
func (f *Filter) sealConstructors(vm *goja.Runtime, onAccess func(string)) error {
	trap := f.trap(vm, "Function", onAccess)
	for _, expr := range functionPrototypes {
		v, err := vm.RunString("Object.getPrototypeOf(" + expr + ")")
		if err != nil {
			// Syntax the engine does not support has no constructor to reach.
			continue
		}
		proto, ok := v.(*goja.Object)
		if !ok {
			continue
		}
		if err := proto.DefineAccessorProperty("constructor", trap, trap, goja.FLAG_FALSE, goja.FLAG_FALSE); err != nil {
			return err
		}
	}
	return nil
}

var functionPrototypes = []string{
	"function(){}",
	"function*(){}",
	"async function(){}",
	"async function*(){}",
}

func (f *Filter) trap(vm *goja.Runtime, name string, onAccess func(string)) goja.Value {
	return vm.ToValue(func(goja.FunctionCall) goja.Value {
		if onAccess != nil {
			onAccess(name)
		}
		panic(vm.NewGoError(DeniedError(name)))
	})
}

func containsIdentifier(source, name string) bool {
	for i := 0; ; {
		j := strings.Index(source[i:], name)
		if j < 0 {
			return false
		}
		start := i + j
		end := start + len(name)
		if (start == 0 || !isIdentByte(source[start-1])) && (end == len(source) || !isIdentByte(source[end])) {
			return true
		}
		i = start + 1
	}
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' ||
		('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9') ||
		c >= 0x80
}
