package verify

import (
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stashworks/stash/internal/articles"
	"github.com/stashworks/stash/internal/op"
	"github.com/stashworks/stash/internal/testutil"
)

func testArticles(t *testing.T) *articles.Articles {
	t.Helper()
	a, err := articles.Load([]byte(`
contract: {
	name: "VerifyTest"
	methods: {
		spend: {
			consumes: {min: 1, max: 2}
			produces: ["coin", "marker"]
		}
	}
	genesis: [
		{label: "coin", owner: "alice", value: 100, lock: {kind: "open"}},
	]
}
`))
	require.NoError(t, err)
	return a
}

func TestWitnessDigest_IgnoresWitnesses(t *testing.T) {
	a := &op.Operation{ContractID: "c", Method: "m", Consumed: []op.Input{{Cell: op.CellID{Producer: "p", Index: 0}}}}
	b := &op.Operation{ContractID: "c", Method: "m", Consumed: []op.Input{{Cell: op.CellID{Producer: "p", Index: 0}, Witness: []byte("w")}}}

	da, err := WitnessDigest(a)
	require.NoError(t, err)
	db, err := WitnessDigest(b)
	require.NoError(t, err)
	assert.Equal(t, da, db)
}

func TestSatisfies_Preimage(t *testing.T) {
	secret := testutil.Preimage("coin")
	lock := PreimageLock(secret)

	assert.NoError(t, Satisfies(lock, secret, nil))
	assert.Error(t, Satisfies(lock, []byte("wrong"), nil))
}

func TestSatisfies_Ed25519(t *testing.T) {
	pub, priv := testutil.Ed25519Key(0x01)
	lock := Ed25519Lock(pub)

	o := &op.Operation{ContractID: "c", Method: "m", Consumed: []op.Input{{Cell: op.CellID{Producer: "p", Index: 0}}}}
	digest, err := WitnessDigest(o)
	require.NoError(t, err)

	sig, err := WithEd25519(priv)(digest)
	require.NoError(t, err)
	assert.NoError(t, Satisfies(lock, sig, digest))

	// Signature over a different digest must be rejected.
	other := append([]byte(nil), digest...)
	other[0] ^= 0xFF
	assert.Error(t, Satisfies(lock, sig, other))

	// Wrong key must be rejected.
	otherPub, _ := testutil.Ed25519Key(0x02)
	assert.Error(t, Satisfies(Ed25519Lock(otherPub), sig, digest))
}

func TestSatisfies_Dilithium3(t *testing.T) {
	pub, priv := testutil.Dilithium3Key(0x03)
	lock, err := Dilithium3Lock(pub)
	require.NoError(t, err)

	o := &op.Operation{ContractID: "c", Method: "m", Consumed: []op.Input{{Cell: op.CellID{Producer: "p", Index: 0}}}}
	digest, err := WitnessDigest(o)
	require.NoError(t, err)

	sig, err := WithDilithium3(priv)(digest)
	require.NoError(t, err)
	assert.NoError(t, Satisfies(lock, sig, digest))

	tampered := append([]byte(nil), sig...)
	tampered[0] ^= 0xFF
	assert.Error(t, Satisfies(lock, tampered, digest))
}

func TestSatisfies_UnknownKind(t *testing.T) {
	assert.Error(t, Satisfies(op.Lock{Kind: "rot13"}, nil, nil))
}

func TestEmbedded_VerifyAdmitsAndProduces(t *testing.T) {
	arts := testArticles(t)
	genesis := arts.GenesisCells()

	o, err := NewBuilder(arts.ContractID(), "spend").
		Consume(genesis[0].ID, Open()).
		Produce("coin", "bob", op.Int(60), op.Lock{Kind: op.LockOpen}).
		Produce("marker", "", op.Str("spent"), op.Lock{Kind: op.LockOpen}).
		Build()
	require.NoError(t, err)

	produced, err := Embedded{}.Verify(o, genesis[:1], arts)
	require.NoError(t, err)
	require.Len(t, produced, 2)

	opid, err := o.OpID()
	require.NoError(t, err)
	assert.Equal(t, op.CellID{Producer: opid, Index: 0}, produced[0].ID)
	assert.Equal(t, "bob", produced[0].Owner)
	assert.Equal(t, op.Int(60), produced[0].Value)
	assert.Equal(t, op.CellID{Producer: opid, Index: 1}, produced[1].ID)
}

func TestEmbedded_VerifyRejectsBadWitness(t *testing.T) {
	pub, _ := testutil.Ed25519Key(0x07)
	manifest := fmt.Sprintf(`
contract: {
	name: "Locked"
	methods: {
		spend: {
			consumes: {min: 1, max: 1}
			produces: ["coin"]
		}
	}
	genesis: [
		{label: "coin", owner: "alice", value: 1, lock: {kind: "ed25519", data: %q}},
	]
}
`, base64encode(pub))
	arts, err := articles.Load([]byte(manifest))
	require.NoError(t, err)
	genesis := arts.GenesisCells()

	// Sign with the wrong key.
	_, wrongPriv := testutil.Ed25519Key(0x08)
	o, err := NewBuilder(arts.ContractID(), "spend").
		Consume(genesis[0].ID, WithEd25519(wrongPriv)).
		Produce("coin", "bob", op.Int(1), op.Lock{Kind: op.LockOpen}).
		Build()
	require.NoError(t, err)

	_, err = Embedded{}.Verify(o, genesis, arts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capability check failed")
}

func TestEmbedded_VerifyEnforcesSchema(t *testing.T) {
	arts := testArticles(t)
	genesis := arts.GenesisCells()

	t.Run("unknown method", func(t *testing.T) {
		o, err := NewBuilder(arts.ContractID(), "mint").
			Consume(genesis[0].ID, Open()).
			Produce("coin", "", op.Int(1), op.Lock{Kind: op.LockOpen}).
			Build()
		require.NoError(t, err)
		_, err = Embedded{}.Verify(o, genesis, arts)
		assert.Error(t, err)
	})

	t.Run("disallowed label", func(t *testing.T) {
		o, err := NewBuilder(arts.ContractID(), "spend").
			Consume(genesis[0].ID, Open()).
			Produce("banknote", "", op.Int(1), op.Lock{Kind: op.LockOpen}).
			Build()
		require.NoError(t, err)
		_, err = Embedded{}.Verify(o, genesis, arts)
		assert.Error(t, err)
	})

	t.Run("cell order mismatch", func(t *testing.T) {
		o, err := NewBuilder(arts.ContractID(), "spend").
			Consume(genesis[0].ID, Open()).
			Produce("coin", "", op.Int(1), op.Lock{Kind: op.LockOpen}).
			Build()
		require.NoError(t, err)
		wrong := genesis[0]
		wrong.ID = op.CellID{Producer: "bafyother", Index: 0}
		_, err = Embedded{}.Verify(o, []op.Cell{wrong}, arts)
		assert.Error(t, err)
	})
}

func TestVerify_Deterministic(t *testing.T) {
	arts := testArticles(t)
	genesis := arts.GenesisCells()

	o, err := NewBuilder(arts.ContractID(), "spend").
		Consume(genesis[0].ID, Open()).
		Produce("coin", "bob", op.Int(60), op.Lock{Kind: op.LockOpen}).
		Build()
	require.NoError(t, err)

	first, err := Embedded{}.Verify(o, genesis[:1], arts)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Embedded{}.Verify(o, genesis[:1], arts)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func base64encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
