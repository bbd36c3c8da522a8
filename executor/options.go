package executor

import (
	"time"

	"go.uber.org/zap"

	"github.com/caffeineduck/guardsim/hostfunc"
	"github.com/caffeineduck/guardsim/outcome"
)

// Observer is notified once with every outcome a simulator produces.
type Observer interface {
	Observe(outcome.Outcome)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(outcome.Outcome)

func (f ObserverFunc) Observe(o outcome.Outcome) { f(o) }

// Option configures a Simulator.
type Option func(*simConfig)

type simConfig struct {
	logger          *zap.Logger
	nearLimitRatio  float64
	denied          []string
	interruptGrace  time.Duration
	clockResolution time.Duration
	observer        Observer
	registry        *hostfunc.Registry
}

const (
	DefaultNearLimitRatio  = 0.8
	DefaultInterruptGrace  = 250 * time.Millisecond
	DefaultClockResolution = time.Millisecond
)

func defaultSimConfig() simConfig {
	return simConfig{
		logger:          zap.NewNop(),
		nearLimitRatio:  DefaultNearLimitRatio,
		interruptGrace:  DefaultInterruptGrace,
		clockResolution: DefaultClockResolution,
	}
}

// WithLogger sets the logger for run lifecycle events.
func WithLogger(l *zap.Logger) Option {
	return func(c *simConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithNearLimitRatio sets the share of the memory budget above which a
// completed run gets a near-limit warning. It must be in (0, 1].
func WithNearLimitRatio(r float64) Option {
	return func(c *simConfig) {
		c.nearLimitRatio = r
	}
}

// WithDenied adds identifiers to the default deny-list.
func WithDenied(names ...string) Option {
	return func(c *simConfig) {
		c.denied = append(c.denied, names...)
	}
}

// WithInterruptGrace sets how long a run that lost the deadline race is given
// to stop before it is abandoned.
func WithInterruptGrace(d time.Duration) Option {
	return func(c *simConfig) {
		c.interruptGrace = d
	}
}

// WithClockResolution sets the granularity of performance.now.
func WithClockResolution(d time.Duration) Option {
	return func(c *simConfig) {
		c.clockResolution = d
	}
}

// WithObserver registers an observer for every outcome.
func WithObserver(o Observer) Option {
	return func(c *simConfig) {
		c.observer = o
	}
}

// WithHostFunctions exposes the functions of registry to guarded code.
// A function whose name is denied stays unreachable.
//
//	registry := hostfunc.NewRegistry()
//	registry.Register("lookup", lookup)
//	sim, _ := executor.New(b, executor.WithHostFunctions(registry))
func WithHostFunctions(registry *hostfunc.Registry) Option {
	return func(c *simConfig) {
		c.registry = registry
	}
}
