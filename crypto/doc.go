// Package crypto provides cryptographic primitives for privacy-preserving vote tallying.
//
// This package implements the low-level operations required by the tallying
// protocol, including:
//
//   - Field arithmetic for finite field operations (vote shares and masks)
//   - Mask vector derivation from high-entropy seeds (HKDF over SHA3)
//   - Digital signatures (Ed25519) for authentication of voters and nodes
//   - ECIES encryption (P-256 + AES-GCM) for confidential mask delivery
//
// The crypto package provides primitives only; how they compose into the
// tallying protocol is defined by the protocol package.
// Note: field math is not constant-time. Masked values are uniform in the
// field, so timing does not depend on the underlying votes.
//
// # Field Operations
//
// All protocol values are elements of the prime field of order TallyFieldOrder.
// The field is large enough that aggregate tallies never wrap: even 2^64
// voters, each with a 2^64 weight, stay far below the modulus.
//
// # Masking
//
// Per-node masks are derived from a fresh per-instance seed with
// DeriveMaskVector. The vector sums to zero in the field, which is what lets
// the nodes' partial results combine into the plaintext tally.
package crypto
