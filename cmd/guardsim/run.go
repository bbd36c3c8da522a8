package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/guardsim/executor"
	"github.com/caffeineduck/guardsim/outcome"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Run a script under a budget",
		Long: `Run a JavaScript snippet under the effective budget.

The source is read from the file argument, --code, or stdin. The
completion value of the script is printed on success. On failure the
classified error is printed and the exit status is 1.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runRun,
	}
	addRunFlags(cmd)
	return cmd
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("code", "c", "", "Code to execute")
	cmd.Flags().StringArray("context", nil, "Context binding key=json (can be repeated)")
	cmd.Flags().Bool("json", false, "Print the full outcome as JSON")
	addBudgetFlags(cmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	code, _ := cmd.Flags().GetString("code")

	var source string
	switch {
	case code != "":
		source = code
	case len(args) > 0:
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read source: %w", err)
		}
		source = string(data)
	default:
		if f, ok := cmd.InOrStdin().(*os.File); ok {
			// No piped input, show help
			if stat, err := f.Stat(); err == nil && stat.Mode()&os.ModeCharDevice != 0 {
				return cmd.Help()
			}
		}
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		source = string(data)
		if source == "" {
			return cmd.Help()
		}
	}

	pairs, _ := cmd.Flags().GetStringArray("context")
	values, err := parseContext(pairs)
	if err != nil {
		return err
	}

	sim, err := newSimulator(cmd)
	if err != nil {
		return err
	}

	out := sim.Run(cmd.Context(), executor.Request{Source: source, Context: values})

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
	} else {
		printOutcome(cmd.OutOrStdout(), cmd.ErrOrStderr(), out)
	}

	if !out.Success {
		return errRunFailed
	}
	return nil
}

// newSimulator builds a simulator from the budget and log flags of cmd.
func newSimulator(cmd *cobra.Command, opts ...executor.Option) (*executor.Simulator, error) {
	b, err := resolveBudget(cmd)
	if err != nil {
		return nil, err
	}
	logger, _, err := newLogger(cmd)
	if err != nil {
		return nil, err
	}
	denied, _ := cmd.Flags().GetStringSlice("deny")

	opts = append([]executor.Option{
		executor.WithLogger(logger),
		executor.WithDenied(denied...),
	}, opts...)
	return executor.New(b, opts...)
}

// printOutcome writes the console output and value of a run to stdout and
// its warnings and error to stderr.
func printOutcome(stdout, stderr io.Writer, out outcome.Outcome) {
	for _, entry := range out.Logs {
		fmt.Fprintln(stdout, entry.Message)
	}
	for _, v := range out.Metrics.Violations {
		if !v.Fatal {
			fmt.Fprintf(stderr, "warning: [%s/%s] %s\n", v.Phase, v.Category, v.Message)
		}
	}
	if !out.Success {
		fmt.Fprintf(stderr, "Error: %v\n", out.Error)
		return
	}
	if out.Value != nil {
		fmt.Fprintln(stdout, formatValue(out.Value))
	}
}

func formatValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
