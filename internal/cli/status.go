package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewStatusCommand creates the status command: report one operation's
// classification and unresolved dependencies.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "status <opid>",
		Short:         "Show an operation's settlement status",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd, args[0])
		},
	}
	return cmd
}

func runStatus(opts *RootOptions, cmd *cobra.Command, opid string) error {
	out := newFormatter(opts, cmd)

	c, st, err := openContract(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	status, known := c.StatusOf(opid)
	if !known {
		out.Error("E_CLI", fmt.Sprintf("operation %s is not staged", opid), nil)
		return NewExitError(ExitFailure, "unknown operation")
	}

	missing := c.MissingFor(opid)
	reason := c.ReasonFor(opid)
	if opts.Format == "json" {
		cells := make([]string, len(missing))
		for i, m := range missing {
			cells[i] = m.String()
		}
		data := map[string]any{
			"op_id":   opid,
			"status":  status.String(),
			"missing": cells,
		}
		if reason != nil {
			data["reason"] = map[string]any{
				"code":    string(reason.Code),
				"message": reason.Message,
			}
		}
		return out.Success(data)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "operation %s: %s\n", opid, status)
	if reason != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s: %s\n", reason.Code, reason.Message)
	}
	for _, m := range missing {
		fmt.Fprintf(cmd.OutOrStdout(), "  waiting on cell %s\n", m)
	}
	return nil
}
