// Package hostfunc builds the bindings environment guarded code runs in.
//
// Every run gets a fresh goja runtime. Before evaluation the orchestrator
// prunes it to the [Builtins] allow-list with [Restrict] and installs the host
// bindings:
//
//   - console, through [Console]: log, info, warn, error and debug. Output is
//     captured and its byte length charged to the run's memory ledger.
//   - performance.now, through [Clock]: milliseconds since the run started,
//     floored to a coarse resolution.
//   - custom host functions, through a [Registry]:
//
//	registry := hostfunc.NewRegistry()
//	registry.Register("lookup", func(ctx context.Context, args map[string]any) (any, error) {
//	    return table[args["key"].(string)], nil
//	})
//
// Guarded code calls a registered function with a single options object,
// lookup({key: "a"}). A returned error is thrown into guarded code.
//
// The host has no timers, network, storage or filesystem, so none of those
// are offered here.
package hostfunc
