package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stashworks/stash/internal/op"
	"github.com/stashworks/stash/internal/stash"
)

// SubmitOptions holds flags for the submit command.
type SubmitOptions struct {
	*RootOptions
	NoCommit bool
}

// NewSubmitCommand creates the submit command: stage an operation from its
// JSON encoding and settle the batch.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "submit <operation.json>",
		Short: "Submit an operation to the contract",
		Long: `Submit stages a signed operation and, unless --no-commit is given,
settles the ready set. The operation file is the JSON encoding produced by
the operation builder, witnesses included.

Exit code 1 means the operation settled as rejected or conflicted.

Example:
  stash submit vote.json --db dao.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(opts, cmd, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.NoCommit, "no-commit", false, "stage only, settle later")
	return cmd
}

func runSubmit(opts *SubmitOptions, cmd *cobra.Command, path string) error {
	out := newFormatter(opts.RootOptions, cmd)

	data, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "read operation", err)
	}
	var o op.Operation
	if err := json.Unmarshal(data, &o); err != nil {
		return WrapExitError(ExitCommandError, "decode operation", err)
	}

	c, st, err := openContract(opts.RootOptions)
	if err != nil {
		return err
	}
	defer st.Close()

	receipt, err := c.Submit(&o)
	if err != nil {
		var re *stash.RuntimeError
		if errors.As(err, &re) {
			out.Error(string(re.Code), re.Message, re.Details)
			return NewExitError(ExitFailure, "operation refused")
		}
		return WrapExitError(ExitCommandError, "submit", err)
	}

	status := receipt.Status
	if !opts.NoCommit {
		if _, err := c.Commit(cmd.Context()); err != nil {
			return WrapExitError(ExitCommandError, "commit", err)
		}
		status, _ = c.StatusOf(receipt.OpID)
	}

	reason := c.ReasonFor(receipt.OpID)
	if opts.Format == "json" {
		data := map[string]any{
			"op_id":     receipt.OpID,
			"status":    status.String(),
			"duplicate": receipt.Duplicate,
		}
		if reason != nil {
			data["reason"] = map[string]any{
				"code":    string(reason.Code),
				"message": reason.Message,
			}
		}
		if err := out.Success(data); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "operation %s: %s\n", receipt.OpID, status)
		if receipt.Duplicate {
			fmt.Fprintln(cmd.OutOrStdout(), "  (already submitted)")
		}
		if reason != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s: %s\n", reason.Code, reason.Message)
		}
		for _, missing := range c.MissingFor(receipt.OpID) {
			fmt.Fprintf(cmd.OutOrStdout(), "  waiting on cell %s\n", missing)
		}
	}

	switch status.String() {
	case "rejected", "conflicted":
		return NewExitError(ExitFailure, fmt.Sprintf("operation settled as %s", status))
	}
	return nil
}
