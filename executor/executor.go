package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caffeineduck/guardsim/budget"
	"github.com/caffeineduck/guardsim/capability"
	"github.com/caffeineduck/guardsim/deferred"
	"github.com/caffeineduck/guardsim/hostfunc"
	"github.com/caffeineduck/guardsim/ledger"
	"github.com/caffeineduck/guardsim/outcome"
)

var (
	ErrNilSimulator  = errors.New("nil simulator")
	ErrInvalidOption = errors.New("invalid option")
)

// Simulator evaluates guarded code under one resource budget.
type Simulator struct {
	cfg        simConfig
	filter     *capability.Filter
	classifier *outcome.Classifier

	mu     sync.Mutex
	budget budget.Budget
	ledger *ledger.Ledger

	stateMu sync.RWMutex
	state   State
}

// New creates a Simulator for b.
func New(b budget.Budget, opts ...Option) (*Simulator, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	cfg := defaultSimConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.nearLimitRatio <= 0 || cfg.nearLimitRatio > 1 {
		return nil, fmt.Errorf("%w: near-limit ratio must be in (0, 1], got %v", ErrInvalidOption, cfg.nearLimitRatio)
	}
	if cfg.interruptGrace < 0 {
		return nil, fmt.Errorf("%w: negative interrupt grace %v", ErrInvalidOption, cfg.interruptGrace)
	}

	filter := capability.New(cfg.denied...)
	return &Simulator{
		cfg:        cfg,
		filter:     filter,
		classifier: outcome.NewClassifier(filter.Denied()),
		budget:     b,
		ledger:     ledger.New(b.MaxMemoryBytes),
	}, nil
}

// Budget returns the current budget.
func (s *Simulator) Budget() budget.Budget {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.budget
}

// Ledger returns the memory ledger. After a run its usage reports that run.
func (s *Simulator) Ledger() *ledger.Ledger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger
}

// State returns the current phase.
func (s *Simulator) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Denied returns the effective deny-list.
func (s *Simulator) Denied() []string {
	return s.filter.Denied()
}

// UpdateConstraints replaces the budget and recreates the ledger. It waits
// for an in-flight run to finish.
func (s *Simulator) UpdateConstraints(b budget.Budget) error {
	if s == nil {
		return ErrNilSimulator
	}
	if err := b.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.budget = b
	s.ledger = ledger.New(b.MaxMemoryBytes)
	s.mu.Unlock()
	return nil
}

// RunSource runs src with no context values.
func (s *Simulator) RunSource(ctx context.Context, src string) outcome.Outcome {
	return s.Run(ctx, Request{Source: src})
}

// Run evaluates req and returns its outcome. Runs on one Simulator are
// serialized.
func (s *Simulator) Run(ctx context.Context, req Request) outcome.Outcome {
	if s == nil {
		return outcome.Outcome{
			RunID: uuid.NewString(),
			Error: outcome.NewError(outcome.CategoryExecution, ErrNilSimulator.Error()),
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r := &run{
		id:     uuid.NewString(),
		req:    req,
		budget: s.budget,
		ledger: s.ledger,
	}
	r.log = s.cfg.logger.With(zap.String("run_id", r.id))

	out := s.run(ctx, r)
	s.setState(r, StateIdle)

	if out.Success {
		r.log.Debug("run completed", zap.Float64("execution_time_ms", out.Metrics.ExecutionTimeMs))
	} else {
		r.log.Info("run failed",
			zap.String("category", string(out.Category())),
			zap.String("error", out.Error.Message),
			zap.Float64("execution_time_ms", out.Metrics.ExecutionTimeMs))
	}
	if s.cfg.observer != nil {
		s.cfg.observer.Observe(out)
	}
	return out
}

// run is the state of one evaluation.
type run struct {
	id     string
	req    Request
	budget budget.Budget
	ledger *ledger.Ledger
	log    *zap.Logger

	violations outcome.Violations
	console    *hostfunc.Console
	// sealed is set once the outcome is decided. An abandoned evaluation
	// checks it before touching anything the simulator owns.
	sealed atomic.Bool

	mu   sync.Mutex
	hits []string
}

func (r *run) active() bool { return !r.sealed.Load() }

func (r *run) seal() {
	r.sealed.Store(true)
	if r.console != nil {
		r.console.Seal()
	}
}

func (r *run) recordAccess(name string) {
	if !r.active() {
		return
	}
	r.mu.Lock()
	r.hits = append(r.hits, name)
	r.mu.Unlock()
}

func (r *run) accessed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]struct{}, len(r.hits))
	var out []string
	for _, name := range r.hits {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// evalResult is the completion value already unwrapped and exported by the
// evaluation goroutine, with the length of its JSON encoding.
type evalResult struct {
	value any
	size  int64
	err   error
}

func (s *Simulator) setState(r *run, st State) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
	r.log.Debug("state", zap.Stringer("state", st))
}

func (s *Simulator) run(ctx context.Context, r *run) outcome.Outcome {
	s.setState(r, StatePreCheck)
	r.ledger.Reset()

	size := r.req.Size()
	if size > r.budget.MaxStringBytes {
		s.setState(r, StateRejected)
		return s.reject(r, outcome.Errorf(outcome.CategoryMemory,
			"source size %d bytes exceeds limit %d bytes", size, r.budget.MaxStringBytes))
	}
	for _, v := range s.filter.Scan(r.req.Source) {
		r.violations.Append(v)
	}
	if !r.ledger.Allocate(size) {
		s.setState(r, StateRejected)
		return s.reject(r, outcome.Errorf(outcome.CategoryMemory,
			"memory budget exhausted: source requires %d bytes, %d available", size, r.ledger.Available()))
	}

	s.setState(r, StateExecuting)
	vm, promises, err := s.environment(ctx, r)
	if err != nil {
		return s.fail(r, 0, fmt.Errorf("build environment: %w", err))
	}

	res, elapsed, err := s.race(ctx, r, vm, promises)
	r.seal()
	if err != nil {
		return s.fail(r, elapsed, err)
	}
	if res.size > 0 && !r.ledger.Allocate(res.size) {
		return s.fail(r, elapsed, outcome.Errorf(outcome.CategoryMemory,
			"memory budget exhausted: result requires %d bytes, %d available", res.size, r.ledger.Available()))
	}

	s.setState(r, StateCompleted)
	s.recordAccesses(r)
	uiBlocking := s.postCheck(r, elapsed)
	return outcome.Outcome{
		RunID:   r.id,
		Success: true,
		Value:   res.value,
		Logs:    r.console.Entries(),
		Metrics: s.metrics(r, elapsed, uiBlocking),
	}
}

// environment builds the per-run global environment. Denied identifiers are
// neutralized last so they win over every other binding.
func (s *Simulator) environment(ctx context.Context, r *run) (*goja.Runtime, *promises, error) {
	vm := goja.New()
	if _, err := hostfunc.Restrict(vm, hostfunc.Builtins); err != nil {
		return nil, nil, err
	}

	r.console = hostfunc.NewConsole(chargeWhileActive{r})
	if err := r.console.Install(vm); err != nil {
		return nil, nil, err
	}
	if err := hostfunc.NewClock(time.Now(), s.cfg.clockResolution).Install(vm); err != nil {
		return nil, nil, err
	}
	promises, err := installPromises(vm)
	if err != nil {
		return nil, nil, err
	}
	if err := s.cfg.registry.Install(ctx, vm, r.active); err != nil {
		return nil, nil, err
	}

	names := make([]string, 0, len(r.req.Context))
	for name := range r.req.Context {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := vm.Set(name, r.req.Context[name]); err != nil {
			return nil, nil, fmt.Errorf("bind context value %q: %w", name, err)
		}
	}

	if err := s.filter.Neutralize(vm, r.recordAccess); err != nil {
		return nil, nil, err
	}
	vm.SetMaxCallStackSize(r.budget.MaxStackDepth)
	return vm, promises, nil
}

// race evaluates the source in its own goroutine against the budget deadline.
// Unwrapping and exporting the completion value can run guarded getters and
// toString methods, so they happen on the same goroutine under the same
// deadline. Nothing touches vm after race returns.
func (s *Simulator) race(ctx context.Context, r *run, vm *goja.Runtime, p *promises) (evalResult, time.Duration, error) {
	runCtx, cancel := context.WithTimeout(ctx, r.budget.MaxExecutionTime())
	defer cancel()

	start := time.Now()
	done := make(chan evalResult, 1)
	go func() {
		defer func() {
			if x := recover(); x != nil {
				err, ok := x.(error)
				if !ok {
					err = fmt.Errorf("evaluator panic: %v", x)
				}
				done <- evalResult{err: render(err)}
			}
		}()
		prg, err := goja.Compile("guarded.js", r.req.Source, false)
		if err != nil {
			done <- evalResult{err: err}
			return
		}
		v, err := vm.RunProgram(prg)
		if err != nil {
			done <- evalResult{err: render(err)}
			return
		}
		if v, err = s.settle(p, v); err != nil {
			done <- evalResult{err: render(err)}
			return
		}
		x, size := exportValue(v)
		done <- evalResult{value: x, size: size}
	}()

	select {
	case res := <-done:
		return res, time.Since(start), res.err
	case <-runCtx.Done():
	}

	elapsed := time.Since(start)
	var cause *outcome.Error
	if ctx.Err() != nil {
		cause = outcome.Errorf(outcome.CategoryExecution, "run cancelled: %w", ctx.Err())
	} else {
		cause = outcome.Errorf(outcome.CategoryTimeout,
			"execution timed out after %dms", r.budget.MaxExecutionTimeMs)
	}
	r.seal()
	vm.Interrupt(cause)

	grace := time.NewTimer(s.cfg.interruptGrace)
	defer grace.Stop()
	select {
	case <-done:
	case <-grace.C:
		r.log.Warn("abandoned evaluation that did not yield to interrupt",
			zap.Duration("grace", s.cfg.interruptGrace))
	}
	return evalResult{}, elapsed, cause
}

// settle unwraps a deferred completion value.
func (s *Simulator) settle(p *promises, v goja.Value) (goja.Value, error) {
	if d, ok := p.Lookup(v); ok {
		switch d.State() {
		case deferred.StateSettled:
			return p.toJS(d.Result()), nil
		case deferred.StateFailed:
			return nil, reasonError(d.Result())
		default:
			return nil, outcome.NewError(outcome.CategoryExecution, "deferred value never settled")
		}
	}
	if obj, ok := v.(*goja.Object); ok {
		if native, ok := obj.Export().(*goja.Promise); ok {
			switch native.State() {
			case goja.PromiseStateFulfilled:
				return native.Result(), nil
			case goja.PromiseStateRejected:
				return nil, reasonError(native.Result())
			default:
				return nil, outcome.NewError(outcome.CategoryExecution, "deferred value never settled")
			}
		}
	}
	return v, nil
}

func (s *Simulator) reject(r *run, tagged *outcome.Error) outcome.Outcome {
	r.violations.Append(outcome.Violation{
		Category: tagged.Category,
		Message:  tagged.Message,
		Fatal:    true,
		Phase:    outcome.PhasePreCheck,
	})
	return outcome.Outcome{
		RunID: r.id,
		Error: tagged,
		Metrics: outcome.Metrics{
			Violations: r.violations.List(),
		},
	}
}

func (s *Simulator) fail(r *run, elapsed time.Duration, err error) outcome.Outcome {
	s.setState(r, StateFailed)
	r.seal()
	s.recordAccesses(r)

	classified := s.classify(r, err)
	r.violations.Append(outcome.Violation{
		Category: classified.Category,
		Message:  classified.Message,
		Fatal:    true,
		Phase:    outcome.PhaseRuntime,
	})
	var logs []outcome.LogEntry
	if r.console != nil {
		logs = r.console.Entries()
	}
	return outcome.Outcome{
		RunID:   r.id,
		Error:   classified,
		Logs:    logs,
		Metrics: s.metrics(r, elapsed, elapsed > r.budget.UIBlockingThreshold()),
	}
}

// classify resolves evaluator-specific failures before falling back to the
// message classifier.
func (s *Simulator) classify(r *run, err error) *outcome.Error {
	var tagged *outcome.Error
	if errors.As(err, &tagged) {
		return tagged
	}
	var overflow *goja.StackOverflowError
	if errors.As(err, &overflow) {
		return outcome.Errorf(outcome.CategoryConstraint,
			"maximum call stack depth %d exceeded", r.budget.MaxStackDepth)
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return outcome.Errorf(outcome.CategoryTimeout, "execution interrupted: %v", interrupted.Value())
	}
	return s.classifier.Classify(err)
}

func (s *Simulator) recordAccesses(r *run) {
	for _, name := range r.accessed() {
		r.violations.Append(outcome.Violation{
			Category: outcome.CategoryCapability,
			Message:  "guarded code accessed denied capability " + name,
			Fatal:    false,
			Phase:    outcome.PhaseRuntime,
		})
	}
}

func (s *Simulator) postCheck(r *run, elapsed time.Duration) bool {
	uiBlocking := elapsed > r.budget.UIBlockingThreshold()
	if uiBlocking {
		r.violations.Append(outcome.Violation{
			Category: outcome.CategoryTimeout,
			Message: fmt.Sprintf("execution time %.2fms exceeds UI-blocking threshold %dms",
				milliseconds(elapsed), r.budget.UIBlockingThresholdMs),
			Fatal: false,
			Phase: outcome.PhasePostCheck,
		})
	}

	peak := r.ledger.Usage().Peak
	limit := s.cfg.nearLimitRatio * float64(r.budget.MaxMemoryBytes)
	if float64(peak) > limit {
		r.violations.Append(outcome.Violation{
			Category: outcome.CategoryMemory,
			Message: fmt.Sprintf("peak memory %d bytes exceeds %.0f%% of budget %d bytes",
				peak, s.cfg.nearLimitRatio*100, r.budget.MaxMemoryBytes),
			Fatal: false,
			Phase: outcome.PhasePostCheck,
		})
	}
	return uiBlocking
}

func (s *Simulator) metrics(r *run, elapsed time.Duration, uiBlocking bool) outcome.Metrics {
	return outcome.Metrics{
		ExecutionTimeMs: milliseconds(elapsed),
		PeakMemoryBytes: r.ledger.Usage().Peak,
		UIBlocking:      uiBlocking,
		Violations:      r.violations.List(),
	}
}

// chargeWhileActive charges the run's ledger until the run is sealed.
type chargeWhileActive struct {
	r *run
}

func (c chargeWhileActive) Allocate(bytes int64) bool {
	if !c.r.active() {
		return false
	}
	return c.r.ledger.Allocate(bytes)
}

func (c chargeWhileActive) Available() int64 {
	return c.r.ledger.Available()
}

// renderedError fixes the message of an evaluator error while the runtime is
// still owned by the evaluation goroutine. An exception's message comes from
// the thrown value's toString, which is guarded code.
type renderedError struct {
	msg string
	err error
}

func (e *renderedError) Error() string { return e.msg }
func (e *renderedError) Unwrap() error { return e.err }

func render(err error) (out error) {
	var ex *goja.Exception
	if !errors.As(err, &ex) {
		return err
	}
	defer func() {
		if recover() != nil {
			out = &renderedError{msg: "uncaught exception with an unprintable value", err: err}
		}
	}()
	return &renderedError{msg: err.Error(), err: err}
}

// exportValue converts a completion value to a Go value and returns the
// length of its JSON encoding. Values JSON cannot represent are reported by
// their string form.
func exportValue(v goja.Value) (any, int64) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, 0
	}
	x := v.Export()
	data, err := json.Marshal(x)
	if err != nil {
		x = v.String()
		data, _ = json.Marshal(x)
	}
	return x, int64(len(data))
}

// reasonError turns a failure reason held by a deferred value into an error.
func reasonError(reason any) error {
	switch r := reason.(type) {
	case error:
		return r
	case goja.Value:
		if obj, ok := r.(*goja.Object); ok {
			if inner := obj.Get("value"); inner != nil {
				if err, ok := inner.Export().(error); ok {
					return err
				}
			}
		}
		return fmt.Errorf("deferred value failed: %s", r.String())
	default:
		return fmt.Errorf("deferred value failed: %v", r)
	}
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
