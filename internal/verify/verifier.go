// Package verify implements capability verification: deciding whether an
// operation's witnesses satisfy the locks of the cells it consumes, and
// producing the witnesses in the first place.
//
// The Verifier interface is the seam to the external execution layer. The
// Embedded verifier provided here covers schema-driven contracts whose
// capability rules are plain locks (open, hash preimage, Ed25519,
// Dilithium3); a full VM-backed verifier would plug in behind the same
// interface.
package verify

import (
	"fmt"

	"github.com/stashworks/stash/internal/articles"
	"github.com/stashworks/stash/internal/op"
)

// Verifier decides whether an operation is admissible given the cells it
// consumes and the contract schema, returning the cells it produces.
//
// Implementations MUST be pure: deterministic, side-effect free, and
// independent of time, randomness, or any state beyond the arguments.
// Consumed cells are passed in the operation's declared input order.
type Verifier interface {
	Verify(o *op.Operation, consumed []op.Cell, arts *articles.Articles) ([]op.Cell, error)
}

// Embedded is the built-in schema-driven verifier.
type Embedded struct{}

// Verify checks the method against the articles' capability rules, then each
// consumed cell's lock against the operation's witness, and finally
// materializes the produced cells addressed from the operation commitment.
func (Embedded) Verify(o *op.Operation, consumed []op.Cell, arts *articles.Articles) ([]op.Cell, error) {
	if len(consumed) != len(o.Consumed) {
		return nil, fmt.Errorf("verify: got %d cells for %d inputs", len(consumed), len(o.Consumed))
	}

	labels := make([]string, len(o.Produced))
	for i, out := range o.Produced {
		labels[i] = out.Label
	}
	if err := arts.CheckCall(o.Method, len(o.Consumed), labels); err != nil {
		return nil, fmt.Errorf("verify %s: %w", o.Method, err)
	}

	digest, err := WitnessDigest(o)
	if err != nil {
		return nil, err
	}

	for i, in := range o.Consumed {
		cell := consumed[i]
		if cell.ID != in.Cell {
			return nil, fmt.Errorf("verify: input %d names cell %s but %s was supplied", i, in.Cell, cell.ID)
		}
		if err := Satisfies(cell.Lock, in.Witness, digest); err != nil {
			return nil, fmt.Errorf("capability check failed for cell %s: %w", cell.ID, err)
		}
	}

	opid, err := o.OpID()
	if err != nil {
		return nil, err
	}

	produced := make([]op.Cell, len(o.Produced))
	for i, out := range o.Produced {
		produced[i] = op.Cell{
			ID:    op.CellID{Producer: opid, Index: uint16(i)},
			Label: out.Label,
			Owner: out.Owner,
			Value: out.Value,
			Lock:  out.Lock,
		}
	}
	return produced, nil
}
