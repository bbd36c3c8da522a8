package executor

import (
	"errors"
	"fmt"

	"github.com/dop251/goja"

	"github.com/caffeineduck/guardsim/deferred"
)

// thrown carries a value thrown by guarded code through the deferred package,
// so the failure reason stays the original JavaScript value.
type thrown struct {
	value goja.Value
}

func (t thrown) Error() string { return t.value.String() }
func (t thrown) Reason() any   { return t.value }

// promises binds deferred values into one runtime as Promise and SyncPromise.
type promises struct {
	vm     *goja.Runtime
	proto  *goja.Object
	values map[*goja.Object]*deferred.Value
	// uncatchable holds an interrupt or stack overflow raised inside a
	// callback until the binding can re-raise it into the runtime.
	uncatchable error
}

func installPromises(vm *goja.Runtime) (*promises, error) {
	if err := detachNative(vm); err != nil {
		return nil, err
	}
	p := &promises{vm: vm, values: make(map[*goja.Object]*deferred.Value)}

	ctor := vm.ToValue(p.construct).(*goja.Object)
	proto, ok := ctor.Get("prototype").(*goja.Object)
	if !ok {
		return nil, errors.New("promise constructor has no prototype")
	}
	p.proto = proto

	methods := map[string]any{
		"then":    p.then,
		"catch":   p.catch,
		"finally": p.finally,
	}
	for name, fn := range methods {
		if err := proto.Set(name, fn); err != nil {
			return nil, err
		}
	}
	statics := map[string]any{
		"resolve": p.resolve,
		"reject":  p.reject,
		"all":     p.all,
	}
	for name, fn := range statics {
		if err := ctor.Set(name, fn); err != nil {
			return nil, err
		}
	}

	if err := vm.Set("Promise", ctor); err != nil {
		return nil, err
	}
	return p, vm.Set("SyncPromise", ctor)
}

// detachNative hides the engine's own promise constructor, which stays
// reachable through the prototype of an async function's result. Promise jobs
// fall back to the intrinsic constructor when the property is undefined.
func detachNative(vm *goja.Runtime) error {
	v, err := vm.RunString("Object.getPrototypeOf((async function(){})())")
	if err != nil {
		return err
	}
	proto, ok := v.(*goja.Object)
	if !ok {
		return errors.New("async function result has no prototype")
	}
	return proto.DefineDataProperty("constructor", goja.Undefined(), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE)
}

// Lookup returns the deferred value behind v, if v is a bound promise.
func (p *promises) Lookup(v goja.Value) (*deferred.Value, bool) {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, false
	}
	d, ok := p.values[obj]
	return d, ok
}

func (p *promises) wrap(d *deferred.Value) *goja.Object {
	obj := p.vm.CreateObject(p.proto)
	p.values[obj] = d
	return obj
}

func (p *promises) construct(call goja.ConstructorCall) *goja.Object {
	executor, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(p.vm.NewTypeError("Promise resolver is not a function"))
	}
	d := deferred.New(func(settle, fail func(any)) error {
		resolveFn := func(c goja.FunctionCall) goja.Value {
			settle(p.fromJS(c.Argument(0)))
			return goja.Undefined()
		}
		rejectFn := func(c goja.FunctionCall) goja.Value {
			fail(c.Argument(0))
			return goja.Undefined()
		}
		_, err := p.call(executor, p.vm.ToValue(resolveFn), p.vm.ToValue(rejectFn))
		return err
	})
	p.rethrow()
	p.values[call.This] = d
	return call.This
}

func (p *promises) then(call goja.FunctionCall) goja.Value {
	d := p.receiver(call.This, "then")
	next := d.Continue(p.handler(call.Argument(0)), p.handler(call.Argument(1)))
	p.rethrow()
	return p.wrap(next)
}

func (p *promises) catch(call goja.FunctionCall) goja.Value {
	d := p.receiver(call.This, "catch")
	next := d.Recover(p.handler(call.Argument(0)))
	p.rethrow()
	return p.wrap(next)
}

func (p *promises) finally(call goja.FunctionCall) goja.Value {
	d := p.receiver(call.This, "finally")
	var next *deferred.Value
	if fn, ok := goja.AssertFunction(call.Argument(0)); ok {
		next = d.Finally(func() error {
			_, err := p.call(fn)
			return err
		})
	} else {
		next = d.Finally(func() error { return nil })
	}
	p.rethrow()
	return p.wrap(next)
}

func (p *promises) resolve(call goja.FunctionCall) goja.Value {
	arg := call.Argument(0)
	if _, ok := p.Lookup(arg); ok {
		return arg
	}
	return p.wrap(deferred.Settled(p.fromJS(arg)))
}

func (p *promises) reject(call goja.FunctionCall) goja.Value {
	return p.wrap(deferred.Failed(call.Argument(0)))
}

func (p *promises) all(call goja.FunctionCall) goja.Value {
	list, ok := call.Argument(0).(*goja.Object)
	if !ok {
		panic(p.vm.NewTypeError("Promise.all expects an array"))
	}
	n := list.Get("length").ToInteger()
	values := make([]*deferred.Value, 0, n)
	for i := int64(0); i < n; i++ {
		item := list.Get(fmt.Sprint(i))
		if d, ok := p.Lookup(item); ok {
			values = append(values, d)
			continue
		}
		values = append(values, deferred.Settled(item))
	}
	return p.wrap(deferred.All(values))
}

func (p *promises) receiver(this goja.Value, method string) *deferred.Value {
	d, ok := p.Lookup(this)
	if !ok {
		panic(p.vm.NewTypeError("Promise.prototype.%s called on incompatible receiver", method))
	}
	return d
}

func (p *promises) handler(v goja.Value) deferred.Handler {
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil
	}
	return func(x any) (any, error) {
		res, err := p.call(fn, p.toJS(x))
		if err != nil {
			return nil, err
		}
		return p.fromJS(res), nil
	}
}

// call invokes fn. A JavaScript exception comes back as thrown. An
// uncatchable error is parked for rethrow and returned so the deferred value
// fails instead of running further callbacks.
func (p *promises) call(fn goja.Callable, args ...goja.Value) (res goja.Value, err error) {
	defer func() {
		if x := recover(); x != nil {
			e, ok := x.(error)
			if !ok || !isUncatchable(e) {
				panic(x)
			}
			p.uncatchable = e
			err = e
		}
	}()

	res, err = fn(goja.Undefined(), args...)
	if err == nil {
		return res, nil
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return nil, thrown{value: ex.Value()}
	}
	if isUncatchable(err) {
		p.uncatchable = err
	}
	return nil, err
}

func (p *promises) rethrow() {
	if err := p.uncatchable; err != nil {
		p.uncatchable = nil
		panic(err)
	}
}

// fromJS maps a bound promise to its deferred value so settling adopts it.
func (p *promises) fromJS(v goja.Value) any {
	if d, ok := p.Lookup(v); ok {
		return d
	}
	return v
}

func (p *promises) toJS(x any) goja.Value {
	switch v := x.(type) {
	case goja.Value:
		return v
	case []any:
		items := make([]any, len(v))
		for i, item := range v {
			items[i] = p.toJS(item)
		}
		return p.vm.NewArray(items...)
	case error:
		return p.vm.NewGoError(v)
	default:
		return p.vm.ToValue(v)
	}
}

func isUncatchable(err error) bool {
	var interrupted *goja.InterruptedError
	var overflow *goja.StackOverflowError
	return errors.As(err, &interrupted) || errors.As(err, &overflow)
}
