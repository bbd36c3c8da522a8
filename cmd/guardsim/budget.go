package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/guardsim/budget"
)

func newBudgetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Inspect and validate resource budgets",
		Long: `Inspect and validate the resource budget runs are held to.

The effective budget is read from a YAML file given with --budget, or
otherwise from GUARDSIM_MAX_EXECUTION_TIME_MS, GUARDSIM_MAX_MEMORY_BYTES,
GUARDSIM_MAX_STRING_BYTES, GUARDSIM_MAX_STACK_DEPTH and
GUARDSIM_UI_BLOCKING_THRESHOLD_MS. Flags override individual limits.`,
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective budget as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := resolveBudget(cmd)
			if err != nil {
				return err
			}
			data, err := b.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	addBudgetFlags(show)

	validate := &cobra.Command{
		Use:   "validate <file>...",
		Short: "Validate budget files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var failed int
			for _, path := range args {
				if _, err := budget.Load(path); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
					failed++
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", path)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d budget files invalid", failed, len(args))
			}
			return nil
		},
	}

	cmd.AddCommand(show, validate)
	return cmd
}
