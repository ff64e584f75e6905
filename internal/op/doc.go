// Package op defines the data model of the contract runtime: single-use
// memory cells, the capability locks that guard them, and the
// content-addressed operations that consume and produce them.
//
// Identity is structural. An operation's id is a CIDv1 commitment over the
// domain-separated canonical JSON encoding of its full content, so two
// operations with identical content are the same operation, and a single
// flipped byte is detectable by recomputing the commitment.
//
// Canonical JSON follows RFC 8785 (UTF-16 key ordering, NFC-normalized
// strings, no floats, no nulls). It is the only serialization ever used for
// identity computation; storage and wire encodings are free to differ.
package op
