package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stashworks/stash/internal/op"
)

// StateOptions holds flags for the state command.
type StateOptions struct {
	*RootOptions
	Label string
	Owner string
}

// NewStateCommand creates the state command: show the live cell set.
func NewStateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show the contract's effective state",
		Long: `State replays the accepted sequence and prints the live cells, the
height, and the state commitment.

Example:
  stash state --db dao.db --label vote`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runState(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Label, "label", "", "only cells with this label")
	cmd.Flags().StringVar(&opts.Owner, "owner", "", "only the cell bound to this owner token")
	return cmd
}

type cellView struct {
	ID    string          `json:"id"`
	Label string          `json:"label"`
	Owner string          `json:"owner,omitempty"`
	Value json.RawMessage `json:"value"`
	Lock  string          `json:"lock"`
}

func runState(opts *StateOptions, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)

	c, st, err := openContract(opts.RootOptions)
	if err != nil {
		return err
	}
	defer st.Close()

	state := c.State()
	commitment, err := state.Commitment()
	if err != nil {
		return WrapExitError(ExitCommandError, "state commitment", err)
	}

	var cells []op.Cell
	switch {
	case opts.Owner != "":
		if cell, ok := state.ByOwner(opts.Owner); ok {
			cells = []op.Cell{cell}
		}
	case opts.Label != "":
		cells = state.Select(opts.Label)
	default:
		cells = state.Cells()
	}

	views := make([]cellView, len(cells))
	for i, cell := range cells {
		value, err := json.Marshal(cell.Value)
		if err != nil {
			return WrapExitError(ExitCommandError, "encode cell value", err)
		}
		views[i] = cellView{
			ID:    cell.ID.String(),
			Label: cell.Label,
			Owner: cell.Owner,
			Value: value,
			Lock:  cell.Lock.Kind,
		}
	}

	if opts.Format == "json" {
		return out.Success(map[string]any{
			"contract_id": c.ID(),
			"height":      state.Height(),
			"commitment":  commitment,
			"cells":       views,
		})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "contract %s  height=%d\n", c.ID(), state.Height())
	fmt.Fprintf(cmd.OutOrStdout(), "commitment %s\n", commitment)
	for _, v := range views {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s  label=%s owner=%s lock=%s value=%s\n",
			v.ID, v.Label, v.Owner, v.Lock, v.Value)
	}
	return nil
}
