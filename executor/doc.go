// Package executor runs guarded JavaScript under a resource budget and
// returns one classified outcome per run.
//
// # Overview
//
// A [Simulator] owns one budget and one memory ledger. Every run walks the
// same states:
//
//	Idle → PreCheck → {Rejected | Executing} → {Completed | Failed} → Idle
//
// PreCheck rejects sources larger than MaxStringBytes without evaluating
// them, records advisory capability findings and charges the source to the
// ledger. Executing builds a fresh runtime for the run, installs the bindings
// and evaluates the source racing the MaxExecutionTimeMs deadline. Completed
// unwraps the result, charges it to the ledger and adds the soft UI-blocking
// and near-limit memory warnings.
//
// # Basic Usage
//
//	sim, err := executor.New(budget.Default())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	out := sim.RunSource(ctx, `[1, 2, 3].map(x => x * 2)`)
//	fmt.Println(out.Success, out.Value)
//
// Context values become globals of the run:
//
//	out := sim.Run(ctx, executor.Request{
//	    Source:  `items.length`,
//	    Context: map[string]any{"items": []int{1, 2, 3}},
//	})
//
// # Deferred Values
//
// The host has no task queue, so Promise and SyncPromise are bound to a
// synchronous stand-in: callbacks run as soon as they are attached. A run
// whose completion value is a deferred value reports what it settled with.
//
// # Deadline
//
// The deadline interrupts the runtime between instructions. A native
// built-in busy with one long call cannot be interrupted; such a run is given
// a short grace period and then abandoned. It still fails as a timeout, and
// an abandoned evaluation can no longer charge the ledger or log output.
//
// # Parallel Runs
//
// A Simulator serializes its runs. [RunAll] evaluates a batch in parallel
// with one Simulator per concurrent run.
package executor
