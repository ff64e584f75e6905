package op

import (
	"crypto/sha256"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// Domain prefixes for content-addressed identity. The version suffix enables
// future algorithm migration without colliding with old commitments.
const (
	DomainOperation = "stash/operation/v1"
	DomainArticles  = "stash/articles/v1"
	DomainSnapshot  = "stash/snapshot/v1"
	DomainWitness   = "stash/witness/v1"
)

// Commit computes a domain-separated commitment over canonical bytes and
// renders it as a CIDv1 string (raw multicodec, sha2-256 multihash).
//
// Format of the committed preimage: SHA256(domain || 0x00 || data). The null
// separator prevents domain/data boundary ambiguity.
func Commit(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	digest := h.Sum(nil)

	// Wrap the precomputed digest in a multihash rather than rehashing.
	sum, err := multihash.Encode(digest, multihash.SHA2_256)
	if err != nil {
		// multihash.Encode only fails for unknown codes; SHA2_256 is valid.
		panic("op: multihash encode: " + err.Error())
	}
	return cid.NewCidV1(cid.Raw, sum).String()
}

// ValidID reports whether s parses as a CIDv1 commitment.
func ValidID(s string) bool {
	c, err := cid.Decode(s)
	return err == nil && c.Version() == 1
}
