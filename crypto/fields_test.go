package crypto

import (
	"crypto/rand"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFieldAddSubRoundTrip(t *testing.T) {
	a, err := RandFieldElement(rand.Reader, TallyFieldOrder)
	require.NoError(t, err)
	b, err := RandFieldElement(rand.Reader, TallyFieldOrder)
	require.NoError(t, err)

	sum := FieldAddInplace(new(big.Int).Set(a), b, TallyFieldOrder)
	require.True(t, sum.Cmp(TallyFieldOrder) < 0)
	require.True(t, sum.Sign() >= 0)

	back := FieldSubInplace(new(big.Int).Set(sum), b, TallyFieldOrder)
	require.Zero(t, back.Cmp(a))
}

func TestFieldAddWraps(t *testing.T) {
	almostOrder := new(big.Int).Sub(TallyFieldOrder, big.NewInt(1))
	sum := FieldAddInplace(new(big.Int).Set(almostOrder), big.NewInt(2), TallyFieldOrder)
	require.Zero(t, sum.Cmp(big.NewInt(1)))
}

func TestFieldNeg(t *testing.T) {
	a, err := RandFieldElement(rand.Reader, TallyFieldOrder)
	require.NoError(t, err)

	neg := FieldNegInplace(new(big.Int).Set(a), TallyFieldOrder)
	sum := FieldAddInplace(neg, a, TallyFieldOrder)
	require.Zero(t, sum.Sign())

	zero := big.NewInt(0)
	require.Zero(t, FieldNegInplace(zero, TallyFieldOrder).Sign())
}

func TestZeroInplace(t *testing.T) {
	a, err := RandFieldElement(rand.Reader, TallyFieldOrder)
	require.NoError(t, err)

	ZeroInplace(a)
	require.Zero(t, a.Sign())
}

func TestRandFieldElementInRange(t *testing.T) {
	for i := 0; i < 64; i++ {
		el, err := RandFieldElement(rand.Reader, TallyFieldOrder)
		require.NoError(t, err)
		require.True(t, el.Sign() >= 0)
		require.True(t, el.Cmp(TallyFieldOrder) < 0)
	}
}
