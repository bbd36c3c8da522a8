package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/caffeineduck/guardsim/outcome"
)

func executeCommand(args ...string) (stdout, stderr string, err error) {
	root := newRootCmd()
	out, errOut := new(bytes.Buffer), new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(errOut)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(args)
	err = root.Execute()
	return out.String(), errOut.String(), err
}

func TestCLIHelp(t *testing.T) {
	output, _, err := executeCommand("--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedPhrases := []string{
		"guardsim",
		"JavaScript",
		"run",
		"repl",
		"serve",
		"budget",
		"--timeout",
		"--memory",
	}

	for _, phrase := range expectedPhrases {
		if !strings.Contains(output, phrase) {
			t.Errorf("help output should contain %q", phrase)
		}
	}
}

func TestCLISubcommandHelp(t *testing.T) {
	tests := []struct {
		args    []string
		phrases []string
	}{
		{[]string{"run", "--help"}, []string{"--code", "--context", "--json", "--budget", "--max-stack", "--deny"}},
		{[]string{"repl", "--help"}, []string{"--history", "Command history", "independent run"}},
		{[]string{"serve", "--help"}, []string{"--port", "/simulate", "/health", "/metrics", "429"}},
		{[]string{"budget", "--help"}, []string{"show", "validate", "GUARDSIM_MAX_MEMORY_BYTES"}},
	}

	for _, tc := range tests {
		output, _, err := executeCommand(tc.args...)
		if err != nil {
			t.Fatalf("%v: unexpected error: %v", tc.args, err)
		}
		for _, phrase := range tc.phrases {
			if !strings.Contains(output, phrase) {
				t.Errorf("%v output should contain %q", tc.args, phrase)
			}
		}
	}
}

func TestCLIRunCode(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"-c", "1 + 2"}, "3\n"},
		{[]string{"run", "-c", "'hello'.toUpperCase()"}, "HELLO\n"},
		{[]string{"run", "-c", "[1, 2, 3].map(x => x * 2)"}, "[2,4,6]\n"},
		{[]string{"run", "-c", "console.log('hi'); 7"}, "hi\n7\n"},
		{[]string{"run", "-c", "n * 2", "--context", "n=21"}, "42\n"},
		{[]string{"run", "-c", "name + '!'", "--context", "name=bob"}, "bob!\n"},
	}

	for _, tc := range tests {
		stdout, _, err := executeCommand(tc.args...)
		if err != nil {
			t.Errorf("%v: unexpected error: %v", tc.args, err)
			continue
		}
		if stdout != tc.want {
			t.Errorf("%v: got %q, want %q", tc.args, stdout, tc.want)
		}
	}
}

func TestCLIRunFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.js")
	if err := os.WriteFile(path, []byte("const a = 20;\na + 22\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	stdout, _, err := executeCommand(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stdout != "42\n" {
		t.Errorf("got %q, want %q", stdout, "42\n")
	}

	if _, _, err := executeCommand(filepath.Join(t.TempDir(), "missing.js")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestCLIRunStdin(t *testing.T) {
	root := newRootCmd()
	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(new(bytes.Buffer))
	root.SetIn(strings.NewReader("6 * 7"))
	root.SetArgs([]string{"run"})

	if err := root.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.String() != "42\n" {
		t.Errorf("got %q, want %q", out.String(), "42\n")
	}
}

func TestCLIRunFailure(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		category string
	}{
		{"timeout", []string{"-c", "while (true) {}", "--timeout", "50ms"}, "timeout"},
		{"source too large", []string{"-c", "'" + strings.Repeat("a", 64) + "'", "--max-source", "32"}, "memory"},
		{"denied global", []string{"-c", "secret", "--deny", "secret"}, "capability"},
		{"stack depth", []string{"-c", "function f(n) { return f(n + 1) } f(0)", "--max-stack", "20"}, "constraint"},
		{"thrown error", []string{"-c", "throw new TypeError('nope')"}, "execution"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, stderr, err := executeCommand(tc.args...)
			if !errors.Is(err, errRunFailed) {
				t.Fatalf("expected errRunFailed, got %v", err)
			}
			if !strings.Contains(stderr, "Error: "+tc.category+":") {
				t.Errorf("stderr should report %s failure, got %q", tc.category, stderr)
			}
		})
	}
}

func TestCLIRunJSON(t *testing.T) {
	stdout, _, err := executeCommand("run", "--json", "-c", "({answer: 42})")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var out outcome.Outcome
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		t.Fatalf("output is not an outcome: %v\n%s", err, stdout)
	}
	if !out.Success {
		t.Fatalf("expected success, got %+v", out.Error)
	}
	if out.RunID == "" {
		t.Error("expected a run id")
	}
	value, ok := out.Value.(map[string]any)
	if !ok || value["answer"] != float64(42) {
		t.Errorf("unexpected value %#v", out.Value)
	}
	if out.Metrics.PeakMemoryBytes <= 0 {
		t.Errorf("expected peak memory to be recorded, got %d", out.Metrics.PeakMemoryBytes)
	}
}

func TestCLIRunWarnings(t *testing.T) {
	// Mentioning a denied name in a comment is an advisory finding only.
	stdout, stderr, err := executeCommand("-c", "// fetch\n1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stdout != "1\n" {
		t.Errorf("got %q, want %q", stdout, "1\n")
	}
	if !strings.Contains(stderr, "warning: [pre-check/capability]") {
		t.Errorf("expected advisory warning, got %q", stderr)
	}
}

func TestCLIInvalidBudgetFlags(t *testing.T) {
	tests := [][]string{
		{"-c", "1", "--memory", "0"},
		{"-c", "1", "--timeout", "10ms", "--ui-threshold", "20ms"},
		{"-c", "1", "--context", "novalue"},
		{"-c", "1", "--log-level", "loud"},
	}

	for _, args := range tests {
		_, _, err := executeCommand(args...)
		if err == nil {
			t.Errorf("%v: expected error", args)
			continue
		}
		if errors.Is(err, errRunFailed) {
			t.Errorf("%v: should fail before running, got %v", args, err)
		}
	}
}

func TestCLIBudgetShow(t *testing.T) {
	stdout, _, err := executeCommand("budget", "show")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, phrase := range []string{"maxExecutionTimeMs: 5000", "maxMemoryBytes: 8388608", "maxStackDepth: 100"} {
		if !strings.Contains(stdout, phrase) {
			t.Errorf("budget show should contain %q, got:\n%s", phrase, stdout)
		}
	}

	stdout, _, err = executeCommand("budget", "show", "--timeout", "2s", "--max-stack", "50")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, "maxExecutionTimeMs: 2000") || !strings.Contains(stdout, "maxStackDepth: 50") {
		t.Errorf("flags should override the budget, got:\n%s", stdout)
	}
}

func TestCLIBudgetShowFromEnv(t *testing.T) {
	t.Setenv("GUARDSIM_MAX_MEMORY_BYTES", "4096")

	stdout, _, err := executeCommand("budget", "show")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, "maxMemoryBytes: 4096") {
		t.Errorf("expected budget from environment, got:\n%s", stdout)
	}
}

func TestCLIBudgetValidate(t *testing.T) {
	dir := t.TempDir()
	valid := filepath.Join(dir, "valid.yaml")
	invalid := filepath.Join(dir, "invalid.yaml")
	os.WriteFile(valid, []byte("maxExecutionTimeMs: 100\nmaxMemoryBytes: 1024\n"), 0o644)
	os.WriteFile(invalid, []byte("maxStackDepth: -1\n"), 0o644)

	stdout, _, err := executeCommand("budget", "validate", valid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, "valid.yaml: ok") {
		t.Errorf("unexpected output %q", stdout)
	}

	_, stderr, err := executeCommand("budget", "validate", valid, invalid)
	if err == nil {
		t.Fatal("expected error for invalid budget file")
	}
	if !strings.Contains(stderr, "maxStackDepth") {
		t.Errorf("expected the invalid limit to be named, got %q", stderr)
	}
}

func TestCLIRunWithBudgetFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "budget.yaml")
	os.WriteFile(path, []byte("maxStringBytes: 8\n"), 0o644)

	_, stderr, err := executeCommand("-c", "'a long source'", "--budget", path)
	if !errors.Is(err, errRunFailed) {
		t.Fatalf("expected errRunFailed, got %v", err)
	}
	if !strings.Contains(stderr, "exceeds limit 8 bytes") {
		t.Errorf("unexpected stderr %q", stderr)
	}
}

func TestParseContext(t *testing.T) {
	values, err := parseContext([]string{"n=1", "s=text", `obj={"a":[1,2]}`, "eq=a=b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if values["n"] != float64(1) {
		t.Errorf("n = %#v", values["n"])
	}
	if values["s"] != "text" {
		t.Errorf("s = %#v", values["s"])
	}
	if obj, ok := values["obj"].(map[string]any); !ok || len(obj["a"].([]any)) != 2 {
		t.Errorf("obj = %#v", values["obj"])
	}
	if values["eq"] != "a=b" {
		t.Errorf("eq = %#v", values["eq"])
	}

	for _, bad := range []string{"novalue", "=1"} {
		if _, err := parseContext([]string{bad}); err == nil {
			t.Errorf("parseContext(%q) should error", bad)
		}
	}

	if values, err := parseContext(nil); err != nil || values != nil {
		t.Errorf("parseContext(nil) = %v, %v", values, err)
	}
}

func TestCLICompletionCommands(t *testing.T) {
	root := newRootCmd()
	root.InitDefaultCompletionCmd()
	found := false
	for _, cmd := range root.Commands() {
		if cmd.Name() == "completion" {
			found = true
			break
		}
	}
	if !found {
		t.Error("completion command should exist (provided by cobra)")
	}
}
