package hostfunc

import "github.com/dop251/goja"

// Builtins is the allow-list of language built-ins guarded code may use.
// Everything else the engine installs on the global object is removed.
var Builtins = []string{
	"globalThis", "undefined", "NaN", "Infinity",
	"Object", "Function", "Array", "String", "Number", "Boolean", "Symbol", "BigInt",
	"Math", "JSON", "Date", "RegExp", "Reflect",
	"Error", "TypeError", "RangeError", "SyntaxError", "ReferenceError", "EvalError", "URIError", "AggregateError",
	"Map", "Set", "WeakMap", "WeakSet",
	"ArrayBuffer", "DataView",
	"Int8Array", "Uint8Array", "Uint8ClampedArray", "Int16Array", "Uint16Array",
	"Int32Array", "Uint32Array", "Float32Array", "Float64Array", "BigInt64Array", "BigUint64Array",
	"parseInt", "parseFloat", "isNaN", "isFinite",
	"encodeURI", "encodeURIComponent", "decodeURI", "decodeURIComponent", "escape", "unescape",
	"eval",
}

// Restrict deletes every own global of vm that is not in allowed and returns
// the removed names. Function and eval stay on the list so the capability
// filter can replace them with its own traps.
func Restrict(vm *goja.Runtime, allowed []string) ([]string, error) {
	keep := make(map[string]struct{}, len(allowed))
	for _, name := range allowed {
		keep[name] = struct{}{}
	}

	global := vm.GlobalObject()
	var removed []string
	for _, name := range global.GetOwnPropertyNames() {
		if _, ok := keep[name]; ok {
			continue
		}
		if err := global.Delete(name); err != nil {
			return removed, err
		}
		removed = append(removed, name)
	}
	return removed, nil
}
