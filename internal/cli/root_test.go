package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "stash", cmd.Use)
	assert.Contains(t, cmd.Long, "single-use memory cells")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"issue", "submit", "state", "log", "status", "recover", "keygen", "test"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	dbFlag := cmd.PersistentFlags().Lookup("db")
	require.NotNil(t, dbFlag)
	assert.Equal(t, "stash.db", dbFlag.DefValue)
}

func TestInvalidFormatRejected(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"state", "--format", "xml"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestSubmitCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	submitCmd, _, err := cmd.Find([]string{"submit"})
	require.NoError(t, err)

	noCommitFlag := submitCmd.Flags().Lookup("no-commit")
	require.NotNil(t, noCommitFlag)
	assert.Equal(t, "false", noCommitFlag.DefValue)
}

func TestStateCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	stateCmd, _, err := cmd.Find([]string{"state"})
	require.NoError(t, err)

	require.NotNil(t, stateCmd.Flags().Lookup("label"))
	require.NotNil(t, stateCmd.Flags().Lookup("owner"))
}

func TestKeygenCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	keygenCmd, _, err := cmd.Find([]string{"keygen"})
	require.NoError(t, err)

	kindFlag := keygenCmd.Flags().Lookup("kind")
	require.NotNil(t, kindFlag)
	assert.Equal(t, "ed25519", kindFlag.DefValue)
}
