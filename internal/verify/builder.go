package verify

import (
	"crypto/ed25519"
	"fmt"

	"github.com/cloudflare/circl/sign/dilithium/mode3"

	"github.com/stashworks/stash/internal/op"
)

// Satisfier produces the witness for one consumed cell given the operation's
// witness digest. Witnesses depend on the signing payload, so they can only
// be computed once the operation content is final; the builder defers them
// until Build.
type Satisfier func(digest []byte) ([]byte, error)

// Open satisfies an open lock (no witness data).
func Open() Satisfier {
	return func([]byte) ([]byte, error) { return nil, nil }
}

// WithPreimage satisfies a sha3-256 preimage lock.
func WithPreimage(preimage []byte) Satisfier {
	return func([]byte) ([]byte, error) {
		return append([]byte(nil), preimage...), nil
	}
}

// WithEd25519 satisfies an ed25519 lock by signing the witness digest.
func WithEd25519(priv ed25519.PrivateKey) Satisfier {
	return func(digest []byte) ([]byte, error) {
		return ed25519.Sign(priv, digest), nil
	}
}

// WithDilithium3 satisfies a dilithium3 lock by signing the witness digest.
func WithDilithium3(priv *mode3.PrivateKey) Satisfier {
	return func(digest []byte) ([]byte, error) {
		sig := make([]byte, mode3.SignatureSize)
		mode3.SignTo(priv, digest, sig)
		return sig, nil
	}
}

// Builder assembles an operation and computes its witnesses at the end.
// Usage:
//
//	o, err := verify.NewBuilder(contractID, "castVote").
//		Consume(signerCell, verify.WithEd25519(key)).
//		Produce("vote", "", op.Str("pro"), op.Lock{Kind: op.LockOpen}).
//		Build()
type Builder struct {
	o          op.Operation
	satisfiers []Satisfier
}

// NewBuilder starts an operation for the given contract and method.
func NewBuilder(contractID, method string) *Builder {
	return &Builder{
		o: op.Operation{ContractID: contractID, Method: method},
	}
}

// Nonce sets the operation nonce, distinguishing otherwise identical calls.
func (b *Builder) Nonce(n int64) *Builder {
	b.o.Nonce = n
	return b
}

// Consume adds a consumed cell with the satisfier for its lock.
func (b *Builder) Consume(cell op.CellID, sat Satisfier) *Builder {
	b.o.Consumed = append(b.o.Consumed, op.Input{Cell: cell})
	b.satisfiers = append(b.satisfiers, sat)
	return b
}

// Produce adds an output cell.
func (b *Builder) Produce(label, owner string, value op.Value, lock op.Lock) *Builder {
	b.o.Produced = append(b.o.Produced, op.Output{Label: label, Owner: owner, Value: value, Lock: lock})
	return b
}

// Append attaches an immutable data payload to the operation.
func (b *Builder) Append(data op.Value) *Builder {
	b.o.Data = data
	return b
}

// Build finalizes the content, computes the witness digest, and runs each
// satisfier to fill in witnesses.
func (b *Builder) Build() (*op.Operation, error) {
	if err := b.o.ValidateShape(); err != nil {
		return nil, err
	}

	digest, err := WitnessDigest(&b.o)
	if err != nil {
		return nil, err
	}

	for i, sat := range b.satisfiers {
		if sat == nil {
			continue
		}
		witness, err := sat(digest)
		if err != nil {
			return nil, fmt.Errorf("witness for input %d: %w", i, err)
		}
		b.o.Consumed[i].Witness = witness
	}

	built := b.o
	return &built, nil
}
