package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/caffeineduck/guardsim/budget"
	"github.com/caffeineduck/guardsim/internal/config"
	"github.com/caffeineduck/guardsim/internal/logging"
)

// errRunFailed is returned when a run completed with a failure outcome. The
// outcome has already been printed.
var errRunFailed = errors.New("run failed")

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "guardsim [file]",
		Short: "Run JavaScript under the limits of a restrictive host",
		Long: `guardsim evaluates a JavaScript snippet under emulated host limits
(wall-clock time, memory, capability surface, stack depth) and reports
whether it would succeed there.

Examples:
  guardsim script.js
  guardsim -c '[1, 2, 3].map(x => x * 2)'
  echo 'JSON.stringify({ok: true})' | guardsim
  guardsim run --timeout 50ms --memory 4096 script.js
  guardsim serve --port 8080`,
		Args:          cobra.MaximumNArgs(1),
		RunE:          runRun,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (default $GUARDSIM_LOG_LEVEL or info)")
	root.PersistentFlags().Bool("log-dev", false, "Human readable log output")
	addRunFlags(root)

	root.AddCommand(newRunCmd(), newReplCmd(), newServeCmd(), newBudgetCmd())
	return root
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	err := newRootCmd().Execute()
	if err == nil {
		return
	}
	if !errors.Is(err, errRunFailed) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(1)
}

// addBudgetFlags registers the flags that override the effective budget.
func addBudgetFlags(cmd *cobra.Command) {
	cmd.Flags().String("budget", "", "YAML budget file (default from $GUARDSIM_* variables)")
	cmd.Flags().Duration("timeout", 0, "Maximum execution time (e.g. 50ms, 2s)")
	cmd.Flags().Duration("ui-threshold", 0, "UI-blocking threshold")
	cmd.Flags().Int64("memory", 0, "Memory budget in bytes")
	cmd.Flags().Int64("max-source", 0, "Maximum source size in bytes")
	cmd.Flags().Int("max-stack", 0, "Maximum call stack depth")
	cmd.Flags().StringSlice("deny", nil, "Additional denied global (can be repeated)")
}

// resolveBudget builds the effective budget: the --budget file if given,
// otherwise the environment, with individual flags applied on top.
func resolveBudget(cmd *cobra.Command) (budget.Budget, error) {
	var (
		b   budget.Budget
		err error
	)
	if path, _ := cmd.Flags().GetString("budget"); path != "" {
		b, err = budget.Load(path)
	} else {
		b, err = budget.FromEnv(config.Prefix)
	}
	if err != nil {
		return budget.Budget{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("timeout") {
		d, _ := flags.GetDuration("timeout")
		b.MaxExecutionTimeMs = d.Milliseconds()
	}
	if flags.Changed("ui-threshold") {
		d, _ := flags.GetDuration("ui-threshold")
		b.UIBlockingThresholdMs = d.Milliseconds()
	}
	if flags.Changed("memory") {
		b.MaxMemoryBytes, _ = flags.GetInt64("memory")
	}
	if flags.Changed("max-source") {
		b.MaxStringBytes, _ = flags.GetInt64("max-source")
	}
	if flags.Changed("max-stack") {
		b.MaxStackDepth, _ = flags.GetInt("max-stack")
	}
	if err := b.Validate(); err != nil {
		return budget.Budget{}, err
	}
	return b, nil
}

// newLogger builds the process logger from the environment and the
// persistent log flags.
func newLogger(cmd *cobra.Command) (*zap.Logger, config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, config.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-dev") {
		cfg.LogDev, _ = flags.GetBool("log-dev")
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.LogLevel
	logCfg.Development = cfg.LogDev
	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	return logger, cfg, nil
}

// parseContext parses key=value bindings. A value that is not valid JSON is
// bound as a string.
func parseContext(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	values := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid context binding %q (expected key=value)", pair)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		values[key] = v
	}
	return values, nil
}
