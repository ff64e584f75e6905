package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// LogOptions holds flags for the log command.
type LogOptions struct {
	*RootOptions
	Trace bool
}

// NewLogCommand creates the log command: print the accepted sequence.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the accepted operation sequence",
		Long: `Log prints the accepted sequence in position order. Positions are
append-only: once printed at a position, an operation stays there forever.

With --trace each entry also lists the transition: the cells the operation
destroyed and the ones it created.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Trace, "trace", false, "show destroyed and created cells per operation")
	return cmd
}

type logEntry struct {
	Position  int      `json:"position"`
	OpID      string   `json:"op_id"`
	Method    string   `json:"method,omitempty"`
	Destroyed []string `json:"destroyed,omitempty"`
	Created   []string `json:"created,omitempty"`
}

func runLog(opts *LogOptions, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)

	c, st, err := openContract(opts.RootOptions)
	if err != nil {
		return err
	}
	defer st.Close()

	accepted := c.Accepted()
	entries := make([]logEntry, len(accepted))
	for i, opid := range accepted {
		entries[i] = logEntry{Position: i, OpID: opid}
		if !opts.Trace {
			continue
		}
		o, err := st.GetOperation(opid)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("load operation %s", opid), err)
		}
		entries[i].Method = o.Method
		for _, in := range o.Consumed {
			entries[i].Destroyed = append(entries[i].Destroyed, in.Cell.String())
		}
		for j, p := range o.Produced {
			entries[i].Created = append(entries[i].Created, fmt.Sprintf("%s/%d (%s)", opid, j, p.Label))
		}
	}

	if opts.Format == "json" {
		return out.Success(map[string]any{
			"contract_id": c.ID(),
			"accepted":    entries,
		})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "contract %s  %d accepted\n", c.ID(), len(accepted))
	for _, e := range entries {
		fmt.Fprintf(cmd.OutOrStdout(), "  %6d  %s\n", e.Position, e.OpID)
		if !opts.Trace {
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "          method %s\n", e.Method)
		for _, d := range e.Destroyed {
			fmt.Fprintf(cmd.OutOrStdout(), "          - %s\n", d)
		}
		for _, cr := range e.Created {
			fmt.Fprintf(cmd.OutOrStdout(), "          + %s\n", cr)
		}
	}
	return nil
}
