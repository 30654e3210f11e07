package crypto

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
)

// TallyFieldOrder defines the finite field order for share and mask operations
var TallyFieldOrder *big.Int

func init() {
	// 2^255 - 19. Tallies are tiny compared to the modulus, so sums of
	// weighted votes never wrap even with 2^64 voters and 2^64 weights.
	TallyFieldOrder, _ = big.NewInt(0).SetString("57896044618658097711785492504343953926634992332820282019728792003956564819949", 10)
}

// FieldAddInplace performs modular addition in-place: l = (l + r) mod fieldOrder.
// The result is stored in l and also returned.
func FieldAddInplace(l *big.Int, r *big.Int, fieldOrder *big.Int) *big.Int {
	l.Add(l, r)
	if l.Cmp(fieldOrder) >= 0 {
		l.Sub(l, fieldOrder)
	}

	if l.Sign() < 0 {
		l.Add(l, fieldOrder)
	}

	return l
}

// FieldSubInplace performs modular subtraction in-place: l = (l - r) mod fieldOrder.
// The result is stored in l and also returned.
func FieldSubInplace(l *big.Int, r *big.Int, fieldOrder *big.Int) *big.Int {
	l.Sub(l, r)
	if l.Cmp(fieldOrder) >= 0 {
		l.Sub(l, fieldOrder)
	}
	if l.Sign() < 0 {
		l.Add(l, fieldOrder)
	}
	return l
}

// FieldNegInplace negates in-place: l = (fieldOrder - l) mod fieldOrder.
func FieldNegInplace(l *big.Int, fieldOrder *big.Int) *big.Int {
	if l.Sign() == 0 {
		return l
	}
	l.Sub(fieldOrder, l)
	return l
}

// RandFieldElement draws a uniform element of the field from the given
// randomness source. A failing source is a fatal configuration error for the
// caller; the error is returned, never retried here.
func RandFieldElement(src io.Reader, fieldOrder *big.Int) (*big.Int, error) {
	el, err := rand.Int(src, fieldOrder)
	if err != nil {
		return nil, fmt.Errorf("drawing field element: %w", err)
	}
	return el, nil
}

// ZeroInplace overwrites the element's backing storage before releasing it.
// Used when mask material is discarded at instance teardown.
func ZeroInplace(l *big.Int) {
	bits := l.Bits()
	for i := range bits {
		bits[i] = 0
	}
	l.SetInt64(0)
}
