// Package bench measures the overhead of a simulated run.
//
// Run with: go test -v -run=Test ./bench/
// Benchmarks: go test -bench=. -benchmem ./bench/
package bench

import (
	"context"
	"fmt"
	"runtime"
	"testing"
	"time"

	"github.com/dop251/goja"

	"github.com/caffeineduck/guardsim/budget"
	"github.com/caffeineduck/guardsim/executor"
	"github.com/caffeineduck/guardsim/hostfunc"
)

// =============================================================================
// OVERHEAD BENCHMARK SUITE
// =============================================================================
// A simulated run pays for a fresh runtime, the capability filter, the
// bindings and the deadline race on every call. The bare goja benchmarks show
// what evaluating the same source costs without any of that.
// =============================================================================

const computation = `
let sum = 0;
for (let i = 0; i < 1000; i++) { sum += i * i; }
sum`

func newSimulator(b *testing.B, opts ...executor.Option) *executor.Simulator {
	b.Helper()
	sim, err := executor.New(budget.Default(), opts...)
	if err != nil {
		b.Fatal(err)
	}
	return sim
}

// --- Cold start (new simulator each time) ---

func BenchmarkSimulator_ColdStart(b *testing.B) {
	ctx := context.Background()
	for i := 0; i < b.N; i++ {
		sim, _ := executor.New(budget.Default())
		sim.RunSource(ctx, "1")
	}
}

// --- Warm start (reuse simulator) ---

func BenchmarkSimulator_WarmStart(b *testing.B) {
	sim := newSimulator(b)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sim.RunSource(ctx, "1")
	}
}

func BenchmarkSimulator_Computation(b *testing.B) {
	sim := newSimulator(b)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if out := sim.RunSource(ctx, computation); !out.Success {
			b.Fatal(out.Error)
		}
	}
}

func BenchmarkSimulator_Console(b *testing.B) {
	sim := newSimulator(b)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sim.RunSource(ctx, `for (let i = 0; i < 10; i++) console.log("line", i); 1`)
	}
}

func BenchmarkSimulator_Deferred(b *testing.B) {
	sim := newSimulator(b)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		out := sim.RunSource(ctx, `Promise.all([1, 2, 3].map(n => Promise.resolve(n).then(x => x * 2)))`)
		if !out.Success {
			b.Fatal(out.Error)
		}
	}
}

func BenchmarkSimulator_HostFunction(b *testing.B) {
	registry := hostfunc.NewRegistry()
	registry.Register("echo", func(ctx context.Context, args map[string]any) (any, error) {
		return args["value"], nil
	})
	sim := newSimulator(b, executor.WithHostFunctions(registry))
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sim.RunSource(ctx, `echo({value: 42})`)
	}
}

func BenchmarkSimulator_Rejected(b *testing.B) {
	sim := newSimulator(b)
	ctx := context.Background()
	src := make([]byte, budget.DefaultMaxStringBytes+1)
	for i := range src {
		src[i] = ' '
	}
	source := string(src)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sim.RunSource(ctx, source)
	}
}

func BenchmarkRunAll(b *testing.B) {
	reqs := make([]executor.Request, 32)
	for i := range reqs {
		reqs[i] = executor.Request{Source: computation}
	}
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := executor.RunAll(ctx, budget.Default(), reqs); err != nil {
			b.Fatal(err)
		}
	}
}

// --- Bare goja, no limits ---

func BenchmarkGoja_Bare(b *testing.B) {
	for i := 0; i < b.N; i++ {
		vm := goja.New()
		vm.RunString("1")
	}
}

func BenchmarkGoja_Computation(b *testing.B) {
	for i := 0; i < b.N; i++ {
		vm := goja.New()
		vm.RunString(computation)
	}
}

// =============================================================================
// COMPARISON TEST - Human readable output
// =============================================================================

func TestOverheadComparison(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping comparison in short mode")
	}

	fmt.Println()
	fmt.Printf("Platform: %s/%s, CPUs: %d\n", runtime.GOOS, runtime.GOARCH, runtime.NumCPU())
	fmt.Println()

	measure := func(runs int, fn func()) time.Duration {
		var total time.Duration
		for i := 0; i < runs; i++ {
			start := time.Now()
			fn()
			total += time.Since(start)
		}
		return total / time.Duration(runs)
	}

	const runs = 20
	ctx := context.Background()
	sim, err := executor.New(budget.Default())
	if err != nil {
		t.Fatal(err)
	}

	results := []struct {
		name string
		d    time.Duration
	}{
		{"goja bare", measure(runs, func() { goja.New().RunString(computation) })},
		{"guardsim run", measure(runs, func() { sim.RunSource(ctx, computation) })},
		{"guardsim deferred", measure(runs, func() { sim.RunSource(ctx, `Promise.resolve(1).then(x => x + 1)`) })},
	}

	fmt.Println("┌────────────────────────┬────────────┐")
	fmt.Println("│ Runtime                │ Per run    │")
	fmt.Println("├────────────────────────┼────────────┤")
	for _, r := range results {
		fmt.Printf("│ %-22s │ %10s │\n", r.name, formatDuration(r.d))
	}
	fmt.Println("└────────────────────────┴────────────┘")
	fmt.Println()

	t.Log("Benchmark complete - see stdout for results")
}

func formatDuration(d time.Duration) string {
	if d >= time.Second {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	if d >= time.Millisecond {
		return fmt.Sprintf("%.2fms", float64(d)/float64(time.Millisecond))
	}
	return fmt.Sprintf("%dµs", d.Microseconds())
}

// =============================================================================
// MEMORY BENCHMARK
// =============================================================================

func TestMemoryUsage(t *testing.T) {
	var m runtime.MemStats

	runtime.GC()
	runtime.ReadMemStats(&m)
	before := m.Alloc

	sim, err := executor.New(budget.Default())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50; i++ {
		sim.RunSource(context.Background(), computation)
	}

	runtime.ReadMemStats(&m)
	after := m.Alloc

	runtime.GC()
	runtime.ReadMemStats(&m)
	afterGC := m.Alloc

	t.Logf("Memory before: %d KB", before/1024)
	t.Logf("Memory after 50 runs: %d KB", after/1024)
	t.Logf("Memory after GC: %d KB", afterGC/1024)
	t.Logf("Simulated peak of last run: %d bytes", sim.Ledger().Usage().Peak)
}
