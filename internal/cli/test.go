package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/stashworks/stash/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	ScenarioPath string
}

// NewTestCommand creates the test command: run a conformance scenario
// against an in-memory contract and report whether every expectation held.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenario.yaml>",
		Short: "Run a conformance scenario",
		Long: `Test loads a YAML scenario, drives a fresh in-memory contract through
its steps, and checks each step's settled status plus the final state
expectations. The manifest path in the scenario is resolved relative to
the scenario file.

Exits 1 when any expectation fails.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ScenarioPath = args[0]
			return runTest(opts, cmd)
		},
	}

	return cmd
}

func runTest(opts *TestOptions, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)

	scenario, err := harness.LoadScenario(opts.ScenarioPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "load scenario", err)
	}

	out.VerboseLog("running scenario %q (%d steps)", scenario.Name, len(scenario.Steps))

	result, err := harness.Run(scenario)
	if err != nil {
		return WrapExitError(ExitCommandError, "run scenario", err)
	}

	if opts.Format == "json" {
		if err := out.Success(map[string]any{
			"scenario": scenario.Name,
			"pass":     result.Pass,
			"statuses": result.Statuses,
			"failures": result.Failures,
		}); err != nil {
			return err
		}
	} else {
		names := make([]string, 0, len(result.Statuses))
		for name := range result.Statuses {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(cmd.OutOrStdout(), "%-24s %s\n", name, result.Statuses[name])
		}
		for _, failure := range result.Failures {
			fmt.Fprintf(cmd.OutOrStdout(), "FAIL: %s\n", failure)
		}
		if result.Pass {
			fmt.Fprintf(cmd.OutOrStdout(), "PASS: %s\n", scenario.Name)
		}
	}

	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %q failed %d expectation(s)", scenario.Name, len(result.Failures)))
	}
	return nil
}
