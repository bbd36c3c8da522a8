package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/caffeineduck/guardsim/executor"
)

func newReplCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactive REPL, one run per entry",
		Long: `Start an interactive REPL (Read-Eval-Print Loop) session.

Every entry is an independent run under the effective budget: nothing
defined by one entry is visible to the next.

Features:
  - Command history (up/down arrows)
  - Line editing (left/right, backspace, delete)
  - History search (Ctrl+R)
  - Multi-line input (end line with \)
  - Run metrics after each entry (:metrics to toggle)

Type 'exit' or 'quit' to end the session, or press Ctrl+D.`,
		Args: cobra.NoArgs,
		RunE: runRepl,
	}
	cmd.Flags().String("history", "", "History file path (default: ~/.guardsim_history)")
	addBudgetFlags(cmd)
	return cmd
}

func runRepl(cmd *cobra.Command, args []string) error {
	historyFile, _ := cmd.Flags().GetString("history")
	if historyFile == "" {
		home, _ := os.UserHomeDir()
		historyFile = filepath.Join(home, ".guardsim_history")
	}

	sim, err := newSimulator(cmd)
	if err != nil {
		return err
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            ">>> ",
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("initialize readline: %w", err)
	}
	defer rl.Close()

	stdout, stderr := rl.Stdout(), rl.Stderr()
	b := sim.Budget()
	fmt.Fprintf(stderr, "guardsim REPL, %dms / %d bytes per entry (type 'exit' to quit, Ctrl+D to exit)\n",
		b.MaxExecutionTimeMs, b.MaxMemoryBytes)

	var multiLine strings.Builder
	inMultiLine := false
	showMetrics := false

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				if inMultiLine {
					multiLine.Reset()
					inMultiLine = false
					rl.SetPrompt(">>> ")
				}
				continue
			}
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(stdout)
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}

		if strings.HasSuffix(line, "\\") {
			multiLine.WriteString(strings.TrimSuffix(line, "\\"))
			multiLine.WriteString("\n")
			inMultiLine = true
			rl.SetPrompt("... ")
			continue
		}

		if inMultiLine {
			multiLine.WriteString(line)
			line = multiLine.String()
			multiLine.Reset()
			inMultiLine = false
			rl.SetPrompt(">>> ")
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		case ":metrics":
			showMetrics = !showMetrics
			continue
		}

		out := sim.Run(cmd.Context(), executor.Request{Source: line})
		printOutcome(stdout, stderr, out)
		if showMetrics {
			fmt.Fprintf(stderr, "(%.2fms, peak %d bytes)\n", out.Metrics.ExecutionTimeMs, out.Metrics.PeakMemoryBytes)
		}
	}
}
