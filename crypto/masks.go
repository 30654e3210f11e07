package crypto

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
)

// DeriveMaskVector expands a per-instance seed into one field-element mask per
// node. The masks sum to the additive identity of the field, so folding every
// node's masked partial result cancels them and leaves only the vote sum.
// Each individual mask is indistinguishable from uniform to anyone without the
// seed; the seed must be fresh per instance and erased after distribution.
func DeriveMaskVector(seed MaskSeed, context []byte, nNodes int, fieldOrder *big.Int) ([]*big.Int, error) {
	if nNodes < 2 {
		return nil, fmt.Errorf("mask vector needs at least 2 nodes, got %d", nNodes)
	}
	if len(seed) < MaskSeedSize {
		return nil, fmt.Errorf("mask seed too short: %d bytes", len(seed))
	}

	// Oversample by 16 bytes per element so the modular reduction bias is
	// negligible.
	bytesPerElement := (fieldOrder.BitLen()+7)/8 + 16

	masks := make([]*big.Int, nNodes)
	runningSum := big.NewInt(0)

	elBuf := make([]byte, bytesPerElement)
	for i := 0; i < nNodes-1; i++ {
		info := binary.BigEndian.AppendUint32(append([]byte{}, context...), uint32(i))
		expand := hkdf.Expand(sha3.New256, seed, info)
		if _, err := expand.Read(elBuf); err != nil {
			return nil, fmt.Errorf("expanding mask for node %d: %w", i, err)
		}

		masks[i] = new(big.Int).SetBytes(elBuf)
		masks[i].Mod(masks[i], fieldOrder)
		FieldAddInplace(runningSum, masks[i], fieldOrder)
	}

	// The final mask is the negation of the rest, so the vector sums to zero.
	masks[nNodes-1] = FieldNegInplace(runningSum, fieldOrder)

	return masks, nil
}
