package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRecoverCommand creates the recover command: replay the durable log from
// genesis and verify the result against the stored checkpoint.
func NewRecoverCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Replay the log and verify state integrity",
		Long: `Recover rebuilds the effective state by replaying every accepted
operation from genesis, re-verifying each witness on the way. A mismatch
against the stored checkpoint commitment, or any operation failing its
integrity or verification checks, fails the command.

Recover is also how a halted contract comes back: the halt latch lives in
memory, so a clean replay means the durable log is intact and a fresh
process can resume from it.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecover(rootOpts, cmd)
		},
	}
	return cmd
}

func runRecover(opts *RootOptions, cmd *cobra.Command) error {
	out := newFormatter(opts, cmd)

	c, st, err := openContract(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	state := c.State()
	commitment, err := state.Commitment()
	if err != nil {
		return WrapExitError(ExitCommandError, "state commitment", err)
	}

	if opts.Format == "json" {
		return out.Success(map[string]any{
			"contract_id": c.ID(),
			"height":      state.Height(),
			"commitment":  commitment,
			"accepted":    len(c.Accepted()),
		})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "contract %s recovered\n", c.ID())
	fmt.Fprintf(cmd.OutOrStdout(), "  height     %d\n", state.Height())
	fmt.Fprintf(cmd.OutOrStdout(), "  commitment %s\n", commitment)
	return nil
}
