package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/stashworks/stash/internal/stash"
	"github.com/stashworks/stash/internal/store"
)

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

func newLogger(opts *RootOptions) *slog.Logger {
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openContract opens the database and resumes the contract by replaying the
// accepted sequence. The caller owns closing the returned store.
func openContract(opts *RootOptions) (*stash.Contract, *store.Store, error) {
	st, err := store.Open(opts.DBPath)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "open database", err)
	}
	c, err := stash.Load(st, stash.WithLogger(newLogger(opts)))
	if err != nil {
		st.Close()
		return nil, nil, WrapExitError(ExitCommandError, "load contract", err)
	}
	return c, st, nil
}
