// Package deferred implements a synchronous stand-in for an asynchronous
// continuation value.
//
// The simulated host has no background task queue, so continuations attached
// to a Value run immediately against whatever terminal state it already holds.
// Nothing is ever queued and there is no unhandled-failure reporting: a failed
// Value that nobody inspects simply stays inert.
package deferred

import "fmt"

// State is the lifecycle state of a Value.
type State int

const (
	StatePending State = iota
	StateSettled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSettled:
		return "settled"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Handler derives the next value from a settled value or a failure reason.
// A returned error fails the derived Value.
type Handler func(any) (any, error)

// Reasoner is implemented by errors that carry a failure reason other than
// themselves, such as a value thrown by guarded code.
type Reasoner interface {
	Reason() any
}

// Value is a deferred value that has either settled, failed, or is still
// pending because its executor never resolved it.
type Value struct {
	state  State
	result any
	// locked is set once the value adopted a pending value; it can then
	// never resolve.
	locked bool
}

// New runs executor immediately. The first call to settle or fail decides the
// state; later calls are ignored. An executor that returns an error or panics
// fails the value with that error, unless it already resolved.
func New(executor func(settle, fail func(any)) error) *Value {
	v := &Value{}
	settle := func(x any) { v.resolve(x) }
	fail := func(reason any) { v.reject(reason) }

	if err := run(func() error { return executor(settle, fail) }); err != nil {
		v.reject(reasonOf(err))
	}
	return v
}

// Settled returns a value already settled with x.
func Settled(x any) *Value {
	v := &Value{}
	v.resolve(x)
	return v
}

// Failed returns a value already failed with reason.
func Failed(reason any) *Value {
	return &Value{state: StateFailed, result: reason}
}

// State returns the current state.
func (v *Value) State() State {
	return v.state
}

// Result returns the settled value or the failure reason. It is nil while
// pending.
func (v *Value) Result() any {
	return v.result
}

// Continue derives a new Value from the receiver's terminal state. When the
// handler for that state is nil the new Value carries the state over unchanged.
// A pending receiver yields a pending Value and runs no handler.
func (v *Value) Continue(onSettled, onFailed Handler) *Value {
	var h Handler
	switch v.state {
	case StateSettled:
		h = onSettled
	case StateFailed:
		h = onFailed
	default:
		return &Value{}
	}
	if h == nil {
		return &Value{state: v.state, result: v.result}
	}

	next := &Value{}
	var out any
	err := run(func() error {
		var err error
		out, err = h(v.result)
		return err
	})
	if err != nil {
		next.reject(reasonOf(err))
		return next
	}
	next.resolve(out)
	return next
}

// Recover is Continue with only a failure handler.
func (v *Value) Recover(onFailed Handler) *Value {
	return v.Continue(nil, onFailed)
}

// Finally runs fn on any terminal state and keeps the receiver's state, unless
// fn itself fails.
func (v *Value) Finally(fn func() error) *Value {
	if v.state == StatePending {
		return &Value{}
	}
	if err := run(fn); err != nil {
		return Failed(reasonOf(err))
	}
	return &Value{state: v.state, result: v.result}
}

// All settles with the results of every value in order, or fails with the
// first failure in order. Any pending input leaves the result pending.
func All(values []*Value) *Value {
	results := make([]any, len(values))
	for i, x := range values {
		switch x.state {
		case StateFailed:
			return Failed(x.result)
		case StatePending:
			return &Value{}
		}
		results[i] = x.result
	}
	return Settled(results)
}

func (v *Value) resolve(x any) {
	if v.state != StatePending || v.locked {
		return
	}
	if other, ok := x.(*Value); ok {
		if other == v {
			v.state, v.result = StateFailed, fmt.Errorf("deferred value cannot settle with itself")
			return
		}
		v.state, v.result = other.state, other.result
		v.locked = other.state == StatePending
		return
	}
	v.state, v.result = StateSettled, x
}

func (v *Value) reject(reason any) {
	if v.state != StatePending || v.locked {
		return
	}
	v.state, v.result = StateFailed, reason
}

func reasonOf(err error) any {
	if r, ok := err.(Reasoner); ok {
		return r.Reason()
	}
	return err
}

// run calls fn, turning a panic into an error.
func run(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
				return
			}
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
