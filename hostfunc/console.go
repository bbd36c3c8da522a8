package hostfunc

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"

	"github.com/caffeineduck/guardsim/outcome"
)

// Charger is the part of a memory ledger the console charges its output to.
type Charger interface {
	Allocate(bytes int64) bool
	Available() int64
}

var consoleLevels = []string{"log", "info", "warn", "error", "debug"}

// Console captures console output of one run.
type Console struct {
	charger Charger
	sealed  atomic.Bool

	mu      sync.Mutex
	entries []outcome.LogEntry
}

func NewConsole(charger Charger) *Console {
	return &Console{charger: charger}
}

// Install binds the console global on vm.
func (c *Console) Install(vm *goja.Runtime) error {
	console := vm.NewObject()
	for _, level := range consoleLevels {
		if err := console.Set(level, c.makeConsoleFunc(vm, level)); err != nil {
			return err
		}
	}
	return vm.Set("console", console)
}

// Seal stops recording and charging. Output written afterwards, e.g. by an
// abandoned evaluation, is dropped.
func (c *Console) Seal() {
	c.sealed.Store(true)
}

// Entries returns the captured lines in write order.
func (c *Console) Entries() []outcome.LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]outcome.LogEntry(nil), c.entries...)
}

func (c *Console) makeConsoleFunc(vm *goja.Runtime, level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if c.sealed.Load() {
			return goja.Undefined()
		}

		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		msg := strings.Join(parts, " ")

		if c.charger != nil {
			size := int64(len(msg))
			if !c.charger.Allocate(size) {
				panic(vm.NewGoError(outcome.Errorf(outcome.CategoryMemory,
					"memory budget exhausted: console output requires %d bytes, %d available",
					size, c.charger.Available())))
			}
		}

		c.mu.Lock()
		c.entries = append(c.entries, outcome.LogEntry{
			Level:   level,
			Message: msg,
			Time:    time.Now(),
		})
		c.mu.Unlock()

		return goja.Undefined()
	}
}
