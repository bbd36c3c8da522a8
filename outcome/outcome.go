// Package outcome defines the result model of a simulated run: the closed
// failure taxonomy, violations, metrics and the classifier that maps evaluator
// failures onto the taxonomy.
package outcome

import (
	"errors"
	"fmt"
	"time"
)

// Category is one entry of the closed failure taxonomy.
type Category string

const (
	CategoryMemory     Category = "memory"
	CategoryTimeout    Category = "timeout"
	CategoryCapability Category = "capability"
	CategoryConstraint Category = "constraint"
	CategoryExecution  Category = "execution"
)

// Categories lists every category in classification precedence order.
func Categories() []Category {
	return []Category{
		CategoryTimeout,
		CategoryMemory,
		CategoryCapability,
		CategoryConstraint,
		CategoryExecution,
	}
}

// Phase records when a violation was detected.
type Phase string

const (
	PhasePreCheck  Phase = "pre-check"
	PhaseRuntime   Phase = "runtime"
	PhasePostCheck Phase = "post-check"
)

// Violation is a single resource finding.
type Violation struct {
	Category Category `json:"category"`
	Message  string   `json:"message"`
	Fatal    bool     `json:"fatal"`
	Phase    Phase    `json:"phase"`
}

// Violations is an append-only list. Entries are copied in and out so a
// recorded violation cannot be changed afterwards.
type Violations struct {
	items []Violation
}

// Append records v after every previously recorded violation.
func (vs *Violations) Append(v Violation) {
	vs.items = append(vs.items, v)
}

// Len returns the number of recorded violations.
func (vs *Violations) Len() int {
	return len(vs.items)
}

// List returns a copy of the recorded violations in detection order.
func (vs *Violations) List() []Violation {
	out := make([]Violation, len(vs.items))
	copy(out, vs.items)
	return out
}

// Error is a classified failure. Code that raises a failure itself builds an
// Error directly so the category never has to be recovered from text.
type Error struct {
	Category Category `json:"category"`
	Message  string   `json:"message"`
	Cause    error    `json:"-"`
}

// NewError returns a tagged failure.
func NewError(category Category, message string) *Error {
	return &Error{Category: category, Message: message}
}

// Errorf returns a tagged failure with a formatted message. A %w verb sets Cause.
func Errorf(category Category, format string, args ...any) *Error {
	err := fmt.Errorf(format, args...)
	return &Error{Category: category, Message: err.Error(), Cause: errors.Unwrap(err)}
}

func (e *Error) Error() string {
	return string(e.Category) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// LogEntry is one line written by guarded code through the console binding.
type LogEntry struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Metrics describes the cost of a run.
type Metrics struct {
	ExecutionTimeMs float64     `json:"executionTimeMs"`
	PeakMemoryBytes int64       `json:"peakMemoryBytes"`
	UIBlocking      bool        `json:"uiBlocking"`
	Violations      []Violation `json:"violations"`
}

// Outcome is the single result of one run.
type Outcome struct {
	RunID   string     `json:"runId"`
	Success bool       `json:"success"`
	Value   any        `json:"value,omitempty"`
	Error   *Error     `json:"error,omitempty"`
	Logs    []LogEntry `json:"logs,omitempty"`
	Metrics Metrics    `json:"metrics"`
}

// Category returns the failure category, or "" for a successful run.
func (o Outcome) Category() Category {
	if o.Error == nil {
		return ""
	}
	return o.Error.Category
}

// ExecutionTime returns the measured execution time as a duration.
func (o Outcome) ExecutionTime() time.Duration {
	return time.Duration(o.Metrics.ExecutionTimeMs * float64(time.Millisecond))
}

// Fatal returns the fatal violations of the outcome.
func (o Outcome) Fatal() []Violation {
	var out []Violation
	for _, v := range o.Metrics.Violations {
		if v.Fatal {
			out = append(out, v)
		}
	}
	return out
}
