package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tenantcore/internal/harness"
)

// ScenarioOptions holds flags for the scenario run command.
type ScenarioOptions struct {
	*RootOptions
	Update    bool   // regenerate golden files
	Filter    string // scenario filter (glob pattern)
	GoldenDir string // overrides <scenario dir>/golden
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	File   string   `json:"file"`
	Pass   bool     `json:"pass"`
	Golden string   `json:"golden,omitempty"` // "match", "updated" or "none"
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall result of a scenario run.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewScenarioCommand creates the scenario command group.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario",
		Short: "Run data-layer scenarios",
	}
	cmd.AddCommand(newScenarioRunCommand(rootOpts))
	return cmd
}

func newScenarioRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScenarioOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <file-or-dir>...",
		Short: "Run scenario files against a fresh in-memory database",
		Long: `Run YAML scenarios through the repositories and the idempotency
coordinator, each against its own in-memory SQLite database.

Each scenario passes when every step expectation and assertion holds and,
if a golden file exists, its trace matches it byte for byte.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  tenantcore scenario run ./scenarios
  tenantcore scenario run ./scenarios --filter "idempotent_*"
  tenantcore scenario run ./scenarios/optimistic_update.yaml --update
  tenantcore scenario run ./scenarios --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern on the file name")
	cmd.Flags().StringVar(&opts.GoldenDir, "golden-dir", "", "golden file directory (default <scenario dir>/golden)")

	return cmd
}

func runScenarios(opts *ScenarioOptions, paths []string, cmd *cobra.Command) error {
	if opts.Filter != "" {
		if _, err := filepath.Match(opts.Filter, ""); err != nil {
			return WrapExitError(ExitCommandError, "invalid filter pattern", err)
		}
	}

	var files []string
	for _, p := range paths {
		found, err := findScenarioFiles(p, opts.Filter)
		if err != nil {
			return err
		}
		files = append(files, found...)
	}

	result := TestResult{
		Scenarios: make([]ScenarioResult, 0, len(files)),
		Total:     len(files),
	}
	if len(files) == 0 {
		if opts.Format == "json" {
			return outputTestJSON(cmd, result)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No scenarios found.")
		return nil
	}

	for _, file := range files {
		res := runScenario(cmd, opts, file)
		result.Scenarios = append(result.Scenarios, res)
		if res.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if opts.Format == "json" {
		return outputTestJSON(cmd, result)
	}
	return outputTestText(cmd, result)
}

// findScenarioFiles returns path itself if it is a file, or the YAML files
// below it if it is a directory. Golden directories are skipped.
func findScenarioFiles(path string, filter string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "scenario path not found", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "golden" && p != path {
				return filepath.SkipDir
			}
			return nil
		}

		ext := filepath.Ext(p)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(p), ext)
			if matched, _ := filepath.Match(filter, name); !matched {
				return nil
			}
		}
		files = append(files, p)
		return nil
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}
	return files, nil
}

// runScenario executes a single scenario and returns the result.
func runScenario(cmd *cobra.Command, opts *ScenarioOptions, file string) ScenarioResult {
	w := cmd.OutOrStdout()
	text := opts.Format != "json"
	fail := func(name string, errs ...string) ScenarioResult {
		if text {
			fmt.Fprintf(w, "✗ %s\n", name)
			for _, e := range errs {
				fmt.Fprintf(w, "  %s\n", e)
			}
		}
		return ScenarioResult{Name: name, File: file, Errors: errs}
	}

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return fail(filepath.Base(file), fmt.Sprintf("load error: %v", err))
	}

	result, err := harness.Run(cmd.Context(), scenario)
	if err != nil {
		return fail(scenario.Name, fmt.Sprintf("execution error: %v", err))
	}
	if !result.Pass {
		return fail(scenario.Name, result.Errors...)
	}

	trace, err := harness.MarshalTrace(scenario, result)
	if err != nil {
		return fail(scenario.Name, fmt.Sprintf("marshal trace: %v", err))
	}

	goldenPath := opts.goldenPath(file, scenario.Name)
	golden := "none"
	if opts.Update {
		if err := os.MkdirAll(filepath.Dir(goldenPath), 0755); err != nil {
			return fail(scenario.Name, fmt.Sprintf("failed to create golden directory: %v", err))
		}
		if err := os.WriteFile(goldenPath, trace, 0644); err != nil {
			return fail(scenario.Name, fmt.Sprintf("failed to write golden file: %v", err))
		}
		golden = "updated"
	} else {
		want, err := os.ReadFile(goldenPath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// No golden file - assertion-based validation only
		case err != nil:
			return fail(scenario.Name, fmt.Sprintf("failed to read golden file: %v", err))
		case !bytes.Equal(want, trace):
			return fail(scenario.Name, "golden file mismatch (run with --update to regenerate)")
		default:
			golden = "match"
		}
	}

	if text {
		suffix := ""
		if golden == "updated" {
			suffix = " (golden updated)"
		}
		fmt.Fprintf(w, "✓ %s%s\n", scenario.Name, suffix)
		opts.formatter(cmd).VerboseLog("  %d step(s), golden: %s", len(result.Trace), golden)
	}
	return ScenarioResult{Name: scenario.Name, File: file, Pass: true, Golden: golden}
}

// goldenPath returns the path to the golden file for a scenario.
func (o *ScenarioOptions) goldenPath(file, name string) string {
	dir := o.GoldenDir
	if dir == "" {
		dir = filepath.Join(filepath.Dir(file), "golden")
	}
	return filepath.Join(dir, name+".golden")
}

// outputTestJSON outputs the test result as JSON.
func outputTestJSON(cmd *cobra.Command, result TestResult) error {
	status := "ok"
	if result.Failed > 0 {
		status = "error"
	}

	response := CLIResponse{
		Status: status,
		Data:   result,
	}

	if result.Failed > 0 {
		response.Error = &CLIError{
			Code:    "E_SCENARIO_FAILED",
			Message: fmt.Sprintf("%d scenario(s) failed", result.Failed),
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

// outputTestText outputs the test result as text.
func outputTestText(cmd *cobra.Command, result TestResult) error {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}

	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}
