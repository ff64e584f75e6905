// Package testutil provides deterministic fixtures for tests: key material
// derived from fixed seeds so signatures and commitments are reproducible
// across runs and machines.
package testutil

import (
	"bytes"
	"crypto/ed25519"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
)

// Ed25519Key derives a deterministic keypair from a one-byte seed tag.
func Ed25519Key(tag byte) (ed25519.PublicKey, ed25519.PrivateKey) {
	seed := bytes.Repeat([]byte{tag}, ed25519.SeedSize)
	priv := ed25519.NewKeyFromSeed(seed)
	return priv.Public().(ed25519.PublicKey), priv
}

// Dilithium3Key derives a deterministic Dilithium mode3 keypair from a
// one-byte seed tag.
func Dilithium3Key(tag byte) (*mode3.PublicKey, *mode3.PrivateKey) {
	var seed [mode3.SeedSize]byte
	for i := range seed {
		seed[i] = tag
	}
	return mode3.NewKeyFromSeed(&seed)
}

// Preimage returns a deterministic lock preimage for a label.
func Preimage(label string) []byte {
	return []byte("preimage:" + label)
}
