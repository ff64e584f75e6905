package verify

import (
	"crypto/ed25519"
	"crypto/subtle"
	"fmt"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"golang.org/x/crypto/sha3"

	"github.com/stashworks/stash/internal/op"
)

// WitnessDigest computes the digest that signature witnesses sign: the
// SHA3-256 of the domain-separated signing payload (operation content minus
// witnesses).
func WitnessDigest(o *op.Operation) ([]byte, error) {
	payload, err := o.SigningPayload()
	if err != nil {
		return nil, err
	}
	h := sha3.New256()
	h.Write([]byte(op.DomainWitness))
	h.Write([]byte{0x00})
	h.Write(payload)
	return h.Sum(nil), nil
}

// Satisfies decides ADMIT or REJECT for a (lock, witness) pair. Pure and
// deterministic: the same arguments always yield the same verdict.
func Satisfies(lock op.Lock, witness, digest []byte) error {
	switch lock.Kind {
	case op.LockOpen:
		return nil

	case op.LockPreimage:
		sum := sha3.Sum256(witness)
		if subtle.ConstantTimeCompare(sum[:], lock.Data) != 1 {
			return fmt.Errorf("preimage does not match lock digest")
		}
		return nil

	case op.LockEd25519:
		if len(lock.Data) != ed25519.PublicKeySize {
			return fmt.Errorf("invalid ed25519 public key length %d", len(lock.Data))
		}
		if len(witness) != ed25519.SignatureSize {
			return fmt.Errorf("invalid ed25519 signature length %d", len(witness))
		}
		if !ed25519.Verify(ed25519.PublicKey(lock.Data), digest, witness) {
			return fmt.Errorf("ed25519 signature invalid")
		}
		return nil

	case op.LockDilithium3:
		var pk mode3.PublicKey
		if err := pk.UnmarshalBinary(lock.Data); err != nil {
			return fmt.Errorf("invalid dilithium3 public key: %w", err)
		}
		if len(witness) != mode3.SignatureSize {
			return fmt.Errorf("invalid dilithium3 signature length %d", len(witness))
		}
		if !mode3.Verify(&pk, digest, witness) {
			return fmt.Errorf("dilithium3 signature invalid")
		}
		return nil

	default:
		return fmt.Errorf("unsupported lock kind %q", lock.Kind)
	}
}

// PreimageLock builds a SHA3-256 preimage lock for the given secret.
func PreimageLock(preimage []byte) op.Lock {
	sum := sha3.Sum256(preimage)
	return op.Lock{Kind: op.LockPreimage, Data: sum[:]}
}

// Ed25519Lock builds a signature lock for the given public key.
func Ed25519Lock(pub ed25519.PublicKey) op.Lock {
	return op.Lock{Kind: op.LockEd25519, Data: append([]byte(nil), pub...)}
}

// Dilithium3Lock builds a post-quantum signature lock for the given key.
func Dilithium3Lock(pub *mode3.PublicKey) (op.Lock, error) {
	data, err := pub.MarshalBinary()
	if err != nil {
		return op.Lock{}, fmt.Errorf("marshal dilithium3 public key: %w", err)
	}
	return op.Lock{Kind: op.LockDilithium3, Data: data}, nil
}
