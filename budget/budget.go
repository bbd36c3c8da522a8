// Package budget defines the resource limits a simulated run is held to.
package budget

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid budget")

// Default limits, representative of a restrictive embedded host.
const (
	DefaultMaxExecutionTimeMs    = 5000
	DefaultUIBlockingThresholdMs = 16
	DefaultMaxMemoryBytes        = 8 * 1024 * 1024
	DefaultMaxStringBytes        = 500 * 1024
	DefaultMaxStackDepth         = 100
)

// Budget is the immutable limit set for one simulator. It is passed by value;
// replacing it means building a new Budget.
type Budget struct {
	// MaxExecutionTimeMs is the hard deadline of a run.
	MaxExecutionTimeMs int64 `yaml:"maxExecutionTimeMs" json:"maxExecutionTimeMs" envconfig:"MAX_EXECUTION_TIME_MS" default:"5000"`
	// UIBlockingThresholdMs is the soft limit above which a run is reported
	// as blocking the host's UI thread.
	UIBlockingThresholdMs int64 `yaml:"uiBlockingThresholdMs" json:"uiBlockingThresholdMs" envconfig:"UI_BLOCKING_THRESHOLD_MS" default:"16"`
	MaxMemoryBytes        int64 `yaml:"maxMemoryBytes" json:"maxMemoryBytes" envconfig:"MAX_MEMORY_BYTES" default:"8388608"`
	// MaxStringBytes bounds the encoded size of the source text.
	MaxStringBytes int64 `yaml:"maxStringBytes" json:"maxStringBytes" envconfig:"MAX_STRING_BYTES" default:"512000"`
	MaxStackDepth  int   `yaml:"maxStackDepth" json:"maxStackDepth" envconfig:"MAX_STACK_DEPTH" default:"100"`
}

// Default returns the documented default budget.
func Default() Budget {
	return Budget{
		MaxExecutionTimeMs:    DefaultMaxExecutionTimeMs,
		UIBlockingThresholdMs: DefaultUIBlockingThresholdMs,
		MaxMemoryBytes:        DefaultMaxMemoryBytes,
		MaxStringBytes:        DefaultMaxStringBytes,
		MaxStackDepth:         DefaultMaxStackDepth,
	}
}

// Validate reports the first limit that is out of range.
func (b Budget) Validate() error {
	switch {
	case b.MaxExecutionTimeMs <= 0:
		return fmt.Errorf("%w: maxExecutionTimeMs must be positive, got %d", ErrInvalid, b.MaxExecutionTimeMs)
	case b.UIBlockingThresholdMs <= 0:
		return fmt.Errorf("%w: uiBlockingThresholdMs must be positive, got %d", ErrInvalid, b.UIBlockingThresholdMs)
	case b.UIBlockingThresholdMs > b.MaxExecutionTimeMs:
		return fmt.Errorf("%w: uiBlockingThresholdMs (%d) exceeds maxExecutionTimeMs (%d)",
			ErrInvalid, b.UIBlockingThresholdMs, b.MaxExecutionTimeMs)
	case b.MaxMemoryBytes <= 0:
		return fmt.Errorf("%w: maxMemoryBytes must be positive, got %d", ErrInvalid, b.MaxMemoryBytes)
	case b.MaxStringBytes <= 0:
		return fmt.Errorf("%w: maxStringBytes must be positive, got %d", ErrInvalid, b.MaxStringBytes)
	case b.MaxStackDepth <= 0:
		return fmt.Errorf("%w: maxStackDepth must be positive, got %d", ErrInvalid, b.MaxStackDepth)
	}
	return nil
}

// MaxExecutionTime returns the hard deadline as a duration.
func (b Budget) MaxExecutionTime() time.Duration {
	return time.Duration(b.MaxExecutionTimeMs) * time.Millisecond
}

// UIBlockingThreshold returns the soft UI-blocking limit as a duration.
func (b Budget) UIBlockingThreshold() time.Duration {
	return time.Duration(b.UIBlockingThresholdMs) * time.Millisecond
}

// Load reads a YAML budget file. Keys missing from the file keep their
// default values.
func Load(path string) (Budget, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Budget{}, fmt.Errorf("read budget: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML budget document on top of the defaults.
func Parse(data []byte) (Budget, error) {
	b := Default()
	if err := yaml.Unmarshal(data, &b); err != nil {
		return Budget{}, fmt.Errorf("decode budget: %w", err)
	}
	if err := b.Validate(); err != nil {
		return Budget{}, err
	}
	return b, nil
}

// FromEnv reads the budget from environment variables named
// <prefix>_MAX_EXECUTION_TIME_MS, <prefix>_MAX_MEMORY_BYTES and so on.
func FromEnv(prefix string) (Budget, error) {
	var b Budget
	if err := envconfig.Process(prefix, &b); err != nil {
		return Budget{}, fmt.Errorf("load budget from env: %w", err)
	}
	if err := b.Validate(); err != nil {
		return Budget{}, err
	}
	return b, nil
}

// YAML encodes the budget in the format Load accepts.
func (b Budget) YAML() ([]byte, error) {
	return yaml.Marshal(b)
}
