package harness

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stashworks/stash/internal/testutil"
	"github.com/stashworks/stash/internal/verify"
)

func TestRun_DAOVote(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "dao_vote.yaml"))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "failures: %v", result.Failures)

	assert.Equal(t, "accepted", result.Statuses["alice-vote"])
	assert.Equal(t, "accepted", result.Statuses["bob-vote"])
	assert.Equal(t, "conflicted", result.Statuses["mallory-replay"])
	assert.Equal(t, "accepted", result.Statuses["tally"])
	assert.Equal(t, uint64(3), result.State.Height())
}

// TestRun_GuardedTransfer exercises signature and preimage locks. The
// manifest embeds derived public keys, so it is generated beside a copy of
// the static scenario.
func TestRun_GuardedTransfer(t *testing.T) {
	dir := t.TempDir()

	alicePub, _ := testutil.Ed25519Key(161)
	secretLock := verify.PreimageLock([]byte("squeamish ossifrage"))
	manifest := fmt.Sprintf(`contract: {
	name: "GuardedLedger"
	methods: {
		transfer: {
			consumes: {min: 1, max: 2}
			produces: ["coin"]
		}
	}
	genesis: [
		{label: "coin", owner: "alice", value: 5, lock: {kind: "ed25519", data: %q}},
		{label: "coin", owner: "vault", value: 7, lock: {kind: "sha3-256", data: %q}},
	]
}
`,
		base64.StdEncoding.EncodeToString(alicePub),
		base64.StdEncoding.EncodeToString(secretLock.Data))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "guarded.cue"), []byte(manifest), 0o644))

	static, err := os.ReadFile(filepath.Join("testdata", "guarded_transfer.yaml"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "guarded_transfer.yaml"), static, 0o644))

	scenario, err := LoadScenario(filepath.Join(dir, "guarded_transfer.yaml"))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "failures: %v", result.Failures)

	assert.Equal(t, "rejected", result.Statuses["steal-attempt"])
	assert.Equal(t, "accepted", result.Statuses["alice-spend"])
	assert.Equal(t, "accepted", result.Statuses["carol-spend"])
	assert.Equal(t, "accepted", result.Statuses["reveal-secret"])
	assert.Equal(t, "pending", result.Statuses["waiting-forever"])
}

func TestRun_ReportsExpectationFailures(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "dao_vote.yaml"))
	require.NoError(t, err)

	// Flip one expectation so the run must fail.
	scenario.Steps[2].Expect = "accepted"

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Failures, 1)
	assert.Contains(t, result.Failures[0], "mallory-replay")
}
