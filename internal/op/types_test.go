package op

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func voteOperation() *Operation {
	return &Operation{
		ContractID: "bafycontract",
		Method:     "castVote",
		Nonce:      1,
		Consumed: []Input{
			{Cell: CellID{Producer: "bafygenesis", Index: 0}, Witness: []byte("preimage")},
		},
		Produced: []Output{
			{Label: "vote", Value: Str("pro"), Lock: Lock{Kind: LockOpen}},
			{Label: "signer", Owner: "S1-used", Value: Int(0), Lock: Lock{Kind: LockOpen}},
		},
	}
}

func TestOpID_StableAndContentDerived(t *testing.T) {
	a := voteOperation()
	b := voteOperation()

	idA, err := a.OpID()
	require.NoError(t, err)
	idB, err := b.OpID()
	require.NoError(t, err)

	assert.Equal(t, idA, idB, "identical content must yield identical identity")
	assert.True(t, ValidID(idA))
}

func TestOpID_ChangesWithContent(t *testing.T) {
	a := voteOperation()
	idA, err := a.OpID()
	require.NoError(t, err)

	b := voteOperation()
	b.Nonce = 2
	idB, err := b.OpID()
	require.NoError(t, err)

	assert.NotEqual(t, idA, idB)
}

func TestCheckIntegrity_DetectsTampering(t *testing.T) {
	o := voteOperation()
	id, err := o.OpID()
	require.NoError(t, err)
	require.NoError(t, o.CheckIntegrity(id))

	o.Produced[0].Value = Str("counter")
	err = o.CheckIntegrity(id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commitment mismatch")
}

func TestSigningPayload_ExcludesWitnesses(t *testing.T) {
	a := voteOperation()
	b := voteOperation()
	b.Consumed[0].Witness = []byte("different witness")

	payloadA, err := a.SigningPayload()
	require.NoError(t, err)
	payloadB, err := b.SigningPayload()
	require.NoError(t, err)
	assert.Equal(t, payloadA, payloadB, "witness must not affect signing payload")

	idA, err := a.OpID()
	require.NoError(t, err)
	idB, err := b.OpID()
	require.NoError(t, err)
	assert.NotEqual(t, idA, idB, "witness must affect the full commitment")
}

func TestCellID_RoundTrip(t *testing.T) {
	id := CellID{Producer: "bafyabc", Index: 12}
	parsed, err := ParseCellID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestCellID_ParseRejectsMalformed(t *testing.T) {
	for _, s := range []string{"", "noindex", "/3", "abc/", "abc/notanumber", "abc/70000"} {
		_, err := ParseCellID(s)
		assert.Error(t, err, "input %q", s)
	}
}

func TestValidateShape(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, voteOperation().ValidateShape())
	})

	t.Run("duplicate consumed cell", func(t *testing.T) {
		o := voteOperation()
		o.Consumed = append(o.Consumed, o.Consumed[0])
		assert.Error(t, o.ValidateShape())
	})

	t.Run("missing method", func(t *testing.T) {
		o := voteOperation()
		o.Method = ""
		assert.Error(t, o.ValidateShape())
	})

	t.Run("output without label", func(t *testing.T) {
		o := voteOperation()
		o.Produced[0].Label = ""
		assert.Error(t, o.ValidateShape())
	})
}

func TestOperation_JSONRoundTripPreservesIdentity(t *testing.T) {
	o := voteOperation()
	id, err := o.OpID()
	require.NoError(t, err)

	encoded, err := json.Marshal(o)
	require.NoError(t, err)

	var decoded Operation
	require.NoError(t, json.Unmarshal(encoded, &decoded))

	decodedID, err := decoded.OpID()
	require.NoError(t, err)
	assert.Equal(t, id, decodedID)
}

func TestOperation_DataAppendsAreCommitted(t *testing.T) {
	plain := voteOperation()
	plainID, err := plain.OpID()
	require.NoError(t, err)

	annotated := voteOperation()
	annotated.Data = Map{"memo": Str("first round")}
	annotatedID, err := annotated.OpID()
	require.NoError(t, err)
	assert.NotEqual(t, plainID, annotatedID, "data payload must affect the commitment")

	encoded, err := json.Marshal(annotated)
	require.NoError(t, err)
	var decoded Operation
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.Equal(t, annotated.Data, decoded.Data)
	require.NoError(t, decoded.CheckIntegrity(annotatedID))
}

func TestOperation_DataRejectsFloats(t *testing.T) {
	var decoded Operation
	err := json.Unmarshal([]byte(`{"contract_id":"bafyc","method":"m","nonce":1,"consumed":[{"cell":"bafyg/0"}],"produced":[],"data":{"ratio":0.5}}`), &decoded)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forbidden")
}

func TestOperation_TamperedStorageBytesChangeIdentity(t *testing.T) {
	o := voteOperation()
	id, err := o.OpID()
	require.NoError(t, err)

	encoded, err := json.Marshal(o)
	require.NoError(t, err)

	// Flip one byte of the stored payload: "pro" -> "prp".
	tampered := append([]byte(nil), encoded...)
	idx := bytes.Index(tampered, []byte(`"pro"`))
	require.GreaterOrEqual(t, idx, 0)
	tampered[idx+3] = 'p'

	var decoded Operation
	require.NoError(t, json.Unmarshal(tampered, &decoded))
	assert.Error(t, decoded.CheckIntegrity(id))
}
