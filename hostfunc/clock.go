package hostfunc

import (
	"time"

	"github.com/dop251/goja"
)

// Clock is a degraded monotonic clock reader. It reports milliseconds since
// the run started, floored to a fixed resolution.
type Clock struct {
	start      time.Time
	resolution time.Duration
}

func NewClock(start time.Time, resolution time.Duration) *Clock {
	if resolution <= 0 {
		resolution = time.Millisecond
	}
	return &Clock{start: start, resolution: resolution}
}

// Now returns the elapsed milliseconds, a multiple of the resolution.
func (c *Clock) Now() float64 {
	elapsed := time.Since(c.start).Truncate(c.resolution)
	return float64(elapsed) / float64(time.Millisecond)
}

// Install binds performance.now on vm.
func (c *Clock) Install(vm *goja.Runtime) error {
	performance := vm.NewObject()
	if err := performance.Set("now", c.Now); err != nil {
		return err
	}
	return vm.Set("performance", performance)
}
