// Package modmath implements the arbitrary-precision modular arithmetic the
// recovery formulas are built on. Inputs are never mutated.
package modmath

import (
	"fmt"
	"math/big"

	"github.com/suffix-labs/btc-rsz/pkg/rsz"
)

var one = big.NewInt(1)

// Mod returns the non-negative residue of a modulo m (m > 0).
func Mod(a, m *big.Int) *big.Int {
	// big.Int.Mod already implements Euclidean modulus.
	return new(big.Int).Mod(a, m)
}

// ModInv returns x in [0, m) with a·x ≡ 1 (mod m).
//
// The inverse is computed with the extended Euclidean algorithm on
// (|a| mod m, m) and the sign is corrected for negative a. When
// gcd(a, m) != 1, which includes a ≡ 0, rsz.ErrNoInverseExists is returned.
func ModInv(a, m *big.Int) (*big.Int, error) {
	if m.Cmp(one) <= 0 {
		return nil, fmt.Errorf("%w: modulus %s must be greater than 1", rsz.ErrNoInverseExists, m)
	}

	abs := new(big.Int).Abs(a)
	abs.Mod(abs, m)

	// Invariants: oldR = oldS·|a| (mod m), r = s·|a| (mod m).
	oldR, r := abs, new(big.Int).Set(m)
	oldS, s := big.NewInt(1), big.NewInt(0)
	q, tmp := new(big.Int), new(big.Int)
	for r.Sign() != 0 {
		q.Quo(oldR, r)

		tmp.Mul(q, r)
		oldR, r = r, new(big.Int).Sub(oldR, tmp)

		tmp.Mul(q, s)
		oldS, s = s, new(big.Int).Sub(oldS, tmp)
	}

	if oldR.Cmp(one) != 0 {
		return nil, fmt.Errorf("%w: gcd(%s, %s) = %s", rsz.ErrNoInverseExists, a, m, oldR)
	}

	inv := oldS.Mod(oldS, m)
	if a.Sign() < 0 {
		inv.Sub(m, inv)
		inv.Mod(inv, m)
	}
	return inv, nil
}

// MulMod returns a·b mod m.
func MulMod(a, b, m *big.Int) *big.Int {
	z := new(big.Int).Mul(a, b)
	return z.Mod(z, m)
}

// SubMod returns (a − b) mod m in [0, m).
func SubMod(a, b, m *big.Int) *big.Int {
	z := new(big.Int).Sub(a, b)
	return z.Mod(z, m)
}

// AddMod returns (a + b) mod m.
func AddMod(a, b, m *big.Int) *big.Int {
	z := new(big.Int).Add(a, b)
	return z.Mod(z, m)
}

// DivMod returns a·b⁻¹ mod m.
func DivMod(a, b, m *big.Int) (*big.Int, error) {
	inv, err := ModInv(b, m)
	if err != nil {
		return nil, err
	}
	return MulMod(a, inv, m), nil
}
