package op

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_SortsKeysUTF16(t *testing.T) {
	m := Map{
		"zebra": Int(1),
		"alpha": Int(2),
		"mango": Int(3),
	}

	out, err := MarshalCanonical(m)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"mango":3,"zebra":1}`, string(out))
}

func TestMarshalCanonical_NoHTMLEscaping(t *testing.T) {
	out, err := MarshalCanonical(Str("a<b&c>d"))
	require.NoError(t, err)
	assert.Equal(t, `"a<b&c>d"`, string(out))
}

func TestMarshalCanonical_RejectsFloats(t *testing.T) {
	_, err := MarshalCanonical(map[string]any{"x": 1.5})
	assert.Error(t, err)
}

func TestMarshalCanonical_RejectsNull(t *testing.T) {
	_, err := MarshalCanonical(nil)
	assert.Error(t, err)

	_, err = MarshalCanonical(map[string]any{"x": nil})
	assert.Error(t, err)
}

func TestMarshalCanonical_NestedStructures(t *testing.T) {
	m := Map{
		"consumed": List{Map{"cell": Str("abc/0")}},
		"nonce":    Int(7),
		"flag":     Bool(true),
	}

	out, err := MarshalCanonical(m)
	require.NoError(t, err)
	assert.Equal(t, `{"consumed":[{"cell":"abc/0"}],"flag":true,"nonce":7}`, string(out))
}

func TestMarshalCanonical_DeterministicAcrossCalls(t *testing.T) {
	m := Map{"a": Int(1), "b": Str("x"), "c": List{Int(1), Int(2)}}

	first, err := MarshalCanonical(m)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := MarshalCanonical(m)
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
}

// Golden vectors pin the exact canonical byte encoding. Any change to these
// bytes changes every commitment derived from them.
func TestMarshalCanonical_GoldenVectors(t *testing.T) {
	g := goldie.New(t)

	object, err := MarshalCanonical(Map{
		"method":   Str("castVote"),
		"nonce":    Int(42),
		"consumed": List{Map{"cell": Str("bafyexample/0")}},
		"produced": List{
			Map{"label": Str("vote"), "value": Str("pro"), "lock": Map{"kind": Str("open")}},
		},
		"contract_id": Str("bafycontract"),
	})
	require.NoError(t, err)
	g.Assert(t, "canonical_operation", object)

	scalars, err := MarshalCanonical(Map{
		"angle":  Str("a<b&c"),
		"truth":  Bool(false),
		"count":  Int(-3),
		"avatar": List{},
	})
	require.NoError(t, err)
	g.Assert(t, "canonical_scalars", scalars)
}

func TestToValue_Conversions(t *testing.T) {
	v, err := ToValue(map[string]any{"n": 1, "s": "x", "l": []any{true}})
	require.NoError(t, err)

	m, ok := v.(Map)
	require.True(t, ok)
	assert.Equal(t, Int(1), m["n"])
	assert.Equal(t, Str("x"), m["s"])
	assert.Equal(t, List{Bool(true)}, m["l"])
}

func TestUnmarshalValue_RoundTrip(t *testing.T) {
	v, err := UnmarshalValue([]byte(`{"votes":[{"choice":"pro","party":1}],"open":true}`))
	require.NoError(t, err)

	canonical, err := MarshalCanonical(v)
	require.NoError(t, err)
	assert.Equal(t, `{"open":true,"votes":[{"choice":"pro","party":1}]}`, string(canonical))
}

func TestUnmarshalValue_RejectsFraction(t *testing.T) {
	_, err := UnmarshalValue([]byte(`{"x":1.25}`))
	assert.Error(t, err)
}
