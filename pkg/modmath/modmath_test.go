package modmath

import (
	"crypto/rand"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suffix-labs/btc-rsz/pkg/rsz"
)

func TestModInvSmall(t *testing.T) {
	m := big.NewInt(11)
	for a := int64(1); a < 11; a++ {
		inv, err := ModInv(big.NewInt(a), m)
		require.NoError(t, err)
		assert.Equal(t, int64(1), MulMod(big.NewInt(a), inv, m).Int64(), "a=%d", a)
		assert.True(t, inv.Sign() >= 0 && inv.Cmp(m) < 0)
	}
}

func TestModInvNegative(t *testing.T) {
	m := big.NewInt(101)
	inv, err := ModInv(big.NewInt(-3), m)
	require.NoError(t, err)
	// -3 · 67 = -201 ≡ 1 (mod 101)
	assert.Equal(t, big.NewInt(67), inv)
}

func TestModInvLargerThanModulus(t *testing.T) {
	m := big.NewInt(101)
	inv, err := ModInv(big.NewInt(104), m)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(34), inv) // 3 · 34 = 102
}

func TestModInvNoInverse(t *testing.T) {
	n := rsz.Secp256k1().N
	for _, tc := range []struct {
		a, m *big.Int
	}{
		{big.NewInt(0), n},
		{new(big.Int).Set(n), n},
		{new(big.Int).Lsh(n, 1), n},
		{big.NewInt(6), big.NewInt(9)},
		{big.NewInt(5), big.NewInt(1)},
	} {
		_, err := ModInv(tc.a, tc.m)
		assert.ErrorIs(t, err, rsz.ErrNoInverseExists, "a=%s m=%s", tc.a, tc.m)
	}
}

func TestModInvRandomSecp256k1(t *testing.T) {
	n := rsz.Secp256k1().N
	for i := 0; i < 64; i++ {
		a, err := rand.Int(rand.Reader, n)
		require.NoError(t, err)
		if a.Sign() == 0 {
			continue
		}
		inv, err := ModInv(a, n)
		require.NoError(t, err)
		assert.Equal(t, 0, MulMod(a, inv, n).Cmp(big.NewInt(1)))
		// Matches the standard library.
		assert.Equal(t, 0, inv.Cmp(new(big.Int).ModInverse(a, n)))
	}
}

func TestModInvDoesNotMutate(t *testing.T) {
	a := big.NewInt(-7)
	m := big.NewInt(13)
	_, err := ModInv(a, m)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(-7), a)
	assert.Equal(t, big.NewInt(13), m)
}

func TestModHelpers(t *testing.T) {
	m := big.NewInt(7)
	assert.Equal(t, big.NewInt(4), Mod(big.NewInt(-3), m))
	assert.Equal(t, big.NewInt(5), SubMod(big.NewInt(1), big.NewInt(3), m))
	assert.Equal(t, big.NewInt(1), AddMod(big.NewInt(4), big.NewInt(4), m))

	q, err := DivMod(big.NewInt(3), big.NewInt(2), m)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(5), q) // 2 · 5 = 10 ≡ 3

	_, err = DivMod(big.NewInt(3), big.NewInt(14), m)
	assert.ErrorIs(t, err, rsz.ErrNoInverseExists)
}
