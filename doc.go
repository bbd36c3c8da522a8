// Package guardsim predicts whether a JavaScript snippet would run within the
// limits of a restrictive host runtime.
//
// # Overview
//
// guardsim evaluates code under emulated limits (wall-clock time, a logical
// memory budget, a reduced capability surface and a maximum stack depth) and
// returns one structured outcome: success or a classified failure, the
// violations found along the way and the cost of the run.
//
// # Basic Usage
//
//	sim, _ := executor.New(budget.Default())
//
//	out := sim.RunSource(ctx, `[1, 2, 3].map(x => x * 2)`)
//	fmt.Println(out.Success, out.Value) // true [2 4 6]
//
//	out = sim.RunSource(ctx, `fetch("https://example.com")`)
//	fmt.Println(out.Category()) // capability
//
// # Budgets
//
//	b, err := budget.Load("host.yaml")
//	sim, err := executor.New(b, executor.WithDenied("secretStore"))
//
// See the [executor], [budget], [capability], [deferred], [ledger] and
// [outcome] packages for detailed API documentation.
package guardsim
