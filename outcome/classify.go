package outcome

import (
	"errors"
	"strings"
)

type rule struct {
	category Category
	patterns []string
}

// Classifier maps failures raised inside the evaluator onto a Category.
//
// Tagged *Error values are trusted as-is. Anything else is matched against
// message patterns in fixed precedence order:
// timeout, memory, capability, constraint, then execution as the fallback.
type Classifier struct {
	rules []rule
}

var (
	timeoutPatterns = []string{
		"timeout",
		"timed out",
		"deadline exceeded",
		"execution interrupted",
	}
	memoryPatterns = []string{
		"out of memory",
		"memory budget",
		"memory limit",
		"allocation failed",
		"heap",
		"invalid array length",
		"invalid string length",
	}
	capabilityPatterns = []string{
		"capability",
		"access denied",
		"is denied",
		"not permitted",
	}
	constraintPatterns = []string{
		"maximum call stack",
		"call stack size",
		"stack overflow",
		"too much recursion",
		"recursion depth",
	}
)

// NewClassifier returns a classifier whose capability patterns also cover the
// reference failures an engine reports for the given denied identifiers.
func NewClassifier(denied []string) *Classifier {
	capability := append([]string(nil), capabilityPatterns...)
	for _, name := range denied {
		n := strings.ToLower(name)
		capability = append(capability, n+" is not defined", n+" is not a function")
	}
	return &Classifier{rules: []rule{
		{CategoryTimeout, timeoutPatterns},
		{CategoryMemory, memoryPatterns},
		{CategoryCapability, capability},
		{CategoryConstraint, constraintPatterns},
	}}
}

// Classify returns exactly one classified failure for err. It returns nil
// when err is nil.
func (c *Classifier) Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged
	}
	msg := err.Error()
	return &Error{Category: c.Match(msg), Message: msg, Cause: err}
}

// Match classifies a bare failure message. A pattern only matches as whole
// words, so "timeout" does not match inside "setTimeout".
func (c *Classifier) Match(message string) Category {
	lower := strings.ToLower(message)
	for _, r := range c.rules {
		for _, p := range r.patterns {
			if containsWord(lower, p) {
				return r.category
			}
		}
	}
	return CategoryExecution
}

func containsWord(s, word string) bool {
	for i := 0; ; {
		j := strings.Index(s[i:], word)
		if j < 0 {
			return false
		}
		start := i + j
		end := start + len(word)
		if (start == 0 || !isWordByte(s[start-1])) && (end == len(s) || !isWordByte(s[end])) {
			return true
		}
		i = start + 1
	}
}

func isWordByte(c byte) bool {
	return c == '_' || c == '$' ||
		('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9') ||
		c >= 0x80
}
