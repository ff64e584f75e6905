package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stashworks/stash/internal/articles"
	"github.com/stashworks/stash/internal/stash"
	"github.com/stashworks/stash/internal/store"
)

// NewIssueCommand creates the issue command: instantiate a contract from a
// CUE articles manifest into a fresh database.
func NewIssueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issue <articles.cue>",
		Short: "Instantiate a contract from an articles manifest",
		Long: `Issue validates the articles manifest, computes the contract id, seeds
the genesis cells, and binds the database to the contract.

Example:
  stash issue dao.cue --db dao.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIssue(rootOpts, cmd, args[0])
		},
	}
	return cmd
}

func runIssue(opts *RootOptions, cmd *cobra.Command, manifestPath string) error {
	out := newFormatter(opts, cmd)

	arts, err := articles.LoadFile(manifestPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "load articles", err)
	}

	st, err := store.Open(opts.DBPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "open database", err)
	}
	defer st.Close()

	c, err := stash.New(arts, st, stash.WithLogger(newLogger(opts)))
	if err != nil {
		return WrapExitError(ExitCommandError, "issue contract", err)
	}

	genesis := c.State().Cells()
	if opts.Format == "json" {
		return out.Success(map[string]any{
			"contract_id":   c.ID(),
			"name":          arts.Name,
			"genesis_cells": len(genesis),
		})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Issued contract %s (%s)\n", arts.Name, c.ID())
	for _, cell := range genesis {
		fmt.Fprintf(cmd.OutOrStdout(), "  genesis cell %s  label=%s owner=%s\n", cell.ID, cell.Label, cell.Owner)
	}
	return nil
}
