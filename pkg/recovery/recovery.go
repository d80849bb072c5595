// Package recovery implements private key recovery from ECDSA signing tuples.
//
// Every signature made with private key d and nonce k satisfies
//
//	s ≡ k⁻¹·(z + r·d)  (mod n)
//
// so d falls out of a single tuple once k is known, and out of two tuples
// that share r (and therefore k) by eliminating k:
//
//	known nonce:        d = (s·k − z)·r⁻¹
//	reused r:           d = (z1·s2 − z2·s1)·(r·(s1 − s2))⁻¹
//	reused r, with k:   k = (z1 − z2)·(s1 − s2)⁻¹,  d = r⁻¹·(s1·k − z1)
//
// All arithmetic is exact over *big.Int and reduced modulo the curve order.
// Functions never mutate their inputs.
package recovery

import (
	"fmt"
	"math/big"

	"github.com/suffix-labs/btc-rsz/pkg/crypto"
	"github.com/suffix-labs/btc-rsz/pkg/modmath"
	"github.com/suffix-labs/btc-rsz/pkg/rsz"
)

// Formula names reported in rsz.RecoveryError.
const (
	FormulaKnownNonce   = "known_nonce"
	FormulaNonceCheck   = "nonce_check"
	FormulaNonceFromKey = "nonce_from_key"
	FormulaReusedR      = "reused_r"
	FormulaReusedRNonce = "reused_r_with_nonce"
)

// Recovered is a private key and the nonce it signed with.
type Recovered struct {
	D *big.Int
	K *big.Int

	// Verified is set when D was checked against a public key.
	Verified bool
}

func fail(formula string, err error) error {
	return &rsz.RecoveryError{Formula: formula, Cause: err}
}

// KnownNonce recovers d from one tuple whose nonce k is known:
// d = (s·k − z)·r⁻¹ mod n.
func KnownNonce(t rsz.SigningTuple, k *big.Int, curve rsz.CurveParams) (*big.Int, error) {
	n := curve.N
	rInv, err := modmath.ModInv(t.R, n)
	if err != nil {
		return nil, fail(FormulaKnownNonce, err)
	}
	sk := modmath.MulMod(t.S, k, n)
	return modmath.MulMod(modmath.SubMod(sk, t.Z, n), rInv, n), nil
}

// NonceCheck evaluates k = (s·r + z)·r⁻¹ mod n for a single tuple.
//
// This is not the signing nonce of an arbitrary signature. It reproduces
// values produced by existing tooling that publishes this quantity, and is
// kept so those published values can be checked.
func NonceCheck(t rsz.SigningTuple, curve rsz.CurveParams) (*big.Int, error) {
	n := curve.N
	rInv, err := modmath.ModInv(t.R, n)
	if err != nil {
		return nil, fail(FormulaNonceCheck, err)
	}
	sr := modmath.MulMod(t.S, t.R, n)
	return modmath.MulMod(modmath.AddMod(sr, t.Z, n), rInv, n), nil
}

// NonceFromKey returns the nonce of a tuple signed by d:
// k = (z + r·d)·s⁻¹ mod n.
func NonceFromKey(t rsz.SigningTuple, d *big.Int, curve rsz.CurveParams) (*big.Int, error) {
	n := curve.N
	sInv, err := modmath.ModInv(t.S, n)
	if err != nil {
		return nil, fail(FormulaNonceFromKey, err)
	}
	rd := modmath.MulMod(t.R, d, n)
	return modmath.MulMod(modmath.AddMod(t.Z, rd, n), sInv, n), nil
}

// ReusedR recovers d from two tuples that share r.
//
// Fails with rsz.ErrNonceMismatch when the r values differ and with
// rsz.ErrDegenerateSignaturePair when s1 ≡ s2 (mod n).
func ReusedR(t1, t2 rsz.SigningTuple, curve rsz.CurveParams) (*big.Int, error) {
	n := curve.N
	if err := checkPair(t1, t2, curve); err != nil {
		return nil, fail(FormulaReusedR, err)
	}

	num := modmath.SubMod(modmath.MulMod(t1.Z, t2.S, n), modmath.MulMod(t2.Z, t1.S, n), n)
	den := modmath.MulMod(t1.R, modmath.SubMod(t1.S, t2.S, n), n)
	d, err := modmath.DivMod(num, den, n)
	if err != nil {
		return nil, fail(FormulaReusedR, err)
	}
	return d, nil
}

// ReusedRWithNonce recovers the shared nonce k first and then d:
// k = (z1 − z2)·(s1 − s2)⁻¹, d = r⁻¹·(s1·k − z1).
func ReusedRWithNonce(t1, t2 rsz.SigningTuple, curve rsz.CurveParams) (*Recovered, error) {
	n := curve.N
	if err := checkPair(t1, t2, curve); err != nil {
		return nil, fail(FormulaReusedRNonce, err)
	}

	k, err := modmath.DivMod(modmath.SubMod(t1.Z, t2.Z, n), modmath.SubMod(t1.S, t2.S, n), n)
	if err != nil {
		return nil, fail(FormulaReusedRNonce, err)
	}
	rInv, err := modmath.ModInv(t1.R, n)
	if err != nil {
		return nil, fail(FormulaReusedRNonce, err)
	}
	d := modmath.MulMod(rInv, modmath.SubMod(modmath.MulMod(t1.S, k, n), t1.Z, n), n)
	return &Recovered{D: d, K: k}, nil
}

// ReusedRVerified recovers d from two tuples sharing r and confirms it
// against the signer's SEC public key.
//
// Signers that normalise s to the lower half of the group publish n − s
// for half of their signatures, which flips the sign of k in one tuple.
// Both (s1, s2) and (s1, n − s2) are tried; the candidate whose public key
// matches is returned. When neither matches, the plain candidate is returned
// with Verified unset.
func ReusedRVerified(t1, t2 rsz.SigningTuple, pubKey []byte, curve rsz.CurveParams) (*Recovered, error) {
	flipped := t2
	flipped.S = modmath.SubMod(curve.N, t2.S, curve.N)

	var (
		first   *Recovered
		lastErr error
	)
	for _, candidate := range []rsz.SigningTuple{t2, flipped} {
		rec, err := ReusedRWithNonce(t1, candidate, curve)
		if err != nil {
			lastErr = err
			continue
		}
		if VerifyKey(rec.D, pubKey) {
			rec.Verified = true
			return rec, nil
		}
		if first == nil {
			first = rec
		}
	}

	if first == nil {
		return nil, lastErr
	}
	return first, nil
}

// VerifyKey reports whether d is the secp256k1 private key for pubKey.
func VerifyKey(d *big.Int, pubKey []byte) bool {
	key, err := crypto.PrivateKeyFromScalar(d)
	if err != nil {
		return false
	}
	return key.MatchesPublicKey(pubKey)
}

func checkPair(t1, t2 rsz.SigningTuple, curve rsz.CurveParams) error {
	n := curve.N
	if modmath.Mod(t1.R, n).Cmp(modmath.Mod(t2.R, n)) != 0 {
		return fmt.Errorf("%w: r1=%s r2=%s", rsz.ErrNonceMismatch, rsz.FormatScalar(t1.R), rsz.FormatScalar(t2.R))
	}
	if modmath.Mod(t1.S, n).Cmp(modmath.Mod(t2.S, n)) == 0 {
		return fmt.Errorf("%w: s1 ≡ s2", rsz.ErrDegenerateSignaturePair)
	}
	return nil
}
