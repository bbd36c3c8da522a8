package executor

import (
	"sync"

	"github.com/caffeineduck/guardsim/budget"
)

// TestBudget returns a tight budget for tests: a 50ms deadline, 1 KiB of
// memory, 100 bytes of source and a call depth of 10.
func TestBudget() budget.Budget {
	return budget.Budget{
		MaxExecutionTimeMs:    50,
		UIBlockingThresholdMs: 16,
		MaxMemoryBytes:        1024,
		MaxStringBytes:        100,
		MaxStackDepth:         10,
	}
}

var (
	testSimulator     *Simulator
	testSimulatorOnce sync.Once
	testSimulatorErr  error
)

// GetTestSimulator returns a simulator for TestBudget shared across tests.
// Runs on it are serialized.
func GetTestSimulator() (*Simulator, error) {
	testSimulatorOnce.Do(func() {
		testSimulator, testSimulatorErr = New(TestBudget())
	})
	return testSimulator, testSimulatorErr
}
