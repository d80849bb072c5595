// Package rsz defines the data model shared by the transaction parser, the
// sighash reconstructor and the key recovery engine.
//
// A legacy Bitcoin input signed with ECDSA yields a signing tuple (r, s, z):
//
//	r  x-coordinate of the nonce point k·G, reduced mod n
//	s  k⁻¹·(z + r·d) mod n
//	z  the signed message digest (double SHA-256 of the sighash preimage)
//
// Two tuples with the same r under the same key leak the key d; a single
// tuple with a known nonce k leaks it as well. All values are transient and
// carried as *big.Int so arithmetic stays exact for any curve order.
package rsz

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// SighashAll is the only sighash type the reconstructor models.
const SighashAll = 0x01

// Signature holds the two DER integers of an ECDSA signature.
//
// RLen and SLen are the byte lengths of the integers after the optional
// leading 0x00 was stripped, so the original hex form can be rebuilt.
type Signature struct {
	R    *big.Int
	S    *big.Int
	RLen int
	SLen int
}

// TxInput is one parsed legacy input.
type TxInput struct {
	PrevTxID    [32]byte // Previous transaction id, in wire byte order
	PrevIndex   [4]byte  // Output index, raw little-endian bytes
	Signature   Signature
	SighashType byte   // Last byte of the signature push
	PublicKey   []byte // 33 or 65 byte SEC encoding, as pushed
	Sequence    [4]byte

	// Z is the message digest for this input. It is nil until the sighash
	// reconstructor attaches it.
	Z *big.Int
}

// RawTransaction is a parsed legacy transaction.
//
// Trailing holds every byte after the last input (outputs and lock time).
// It is never interpreted, only re-emitted verbatim into sighash preimages.
type RawTransaction struct {
	Version  [4]byte
	Inputs   []TxInput
	Trailing []byte
}

// Tuples returns one signing tuple per input, reduced modulo the curve
// order. Inputs without an attached digest are skipped.
func (tx *RawTransaction) Tuples(curve CurveParams) []SigningTuple {
	tuples := make([]SigningTuple, 0, len(tx.Inputs))
	for _, in := range tx.Inputs {
		if in.Z == nil {
			continue
		}
		tuples = append(tuples, NewSigningTuple(in.Signature.R, in.Signature.S, in.Z, curve))
	}
	return tuples
}

// SigningTuple is the (r, s, z) triple for one signature, all < n.
type SigningTuple struct {
	R *big.Int
	S *big.Int
	Z *big.Int
}

// NewSigningTuple copies r, s and z reduced modulo the curve order.
func NewSigningTuple(r, s, z *big.Int, curve CurveParams) SigningTuple {
	return SigningTuple{
		R: new(big.Int).Mod(r, curve.N),
		S: new(big.Int).Mod(s, curve.N),
		Z: new(big.Int).Mod(z, curve.N),
	}
}

// SharesNonce reports whether both tuples carry the same r, which for
// tuples from the same key means the same nonce k was used.
func (t SigningTuple) SharesNonce(other SigningTuple) bool {
	return t.R.Cmp(other.R) == 0
}

func (t SigningTuple) String() string {
	return fmt.Sprintf("r=%s s=%s z=%s", FormatScalar(t.R), FormatScalar(t.S), FormatScalar(t.Z))
}

// CurveParams names the group whose order all arithmetic is reduced by.
type CurveParams struct {
	Name string
	N    *big.Int
}

// Secp256k1 returns the parameters of the Bitcoin curve.
func Secp256k1() CurveParams {
	return CurveParams{
		Name: "secp256k1",
		N:    new(big.Int).Set(secp256k1.S256().Params().N),
	}
}

// ParseCurveOrder builds curve parameters from a hex group order. An empty
// string selects secp256k1.
func ParseCurveOrder(orderHex string) (CurveParams, error) {
	if strings.TrimSpace(orderHex) == "" {
		return Secp256k1(), nil
	}
	n, err := ParseScalar(orderHex)
	if err != nil {
		return CurveParams{}, err
	}
	if n.Cmp(big.NewInt(1)) <= 0 {
		return CurveParams{}, fmt.Errorf("%w: curve order must be greater than 1", ErrInvalidScalar)
	}
	curve := CurveParams{Name: "custom", N: n}
	if n.Cmp(secp256k1.S256().Params().N) == 0 {
		curve.Name = "secp256k1"
	}
	return curve, nil
}

// FormatScalar renders x as lower-case hex, zero-padded to 64 digits.
// Values wider than 256 bits are rendered in full.
func FormatScalar(x *big.Int) string {
	if x == nil {
		return ""
	}
	return fmt.Sprintf("%064x", x)
}

// DecimalPrefix marks scalar text written in base 10.
const DecimalPrefix = "dec:"

// ParseScalar reads an unsigned integer from text.
//
// Text is hex, with or without a "0x" prefix. Decimal must carry
// DecimalPrefix, e.g. "dec:255"; the base is never guessed from the digits.
func ParseScalar(text string) (*big.Int, error) {
	s := strings.TrimSpace(text)
	base := 16
	switch {
	case strings.HasPrefix(s, DecimalPrefix):
		s, base = s[len(DecimalPrefix):], 10
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		s = s[2:]
	}
	if s == "" {
		return nil, fmt.Errorf("%w: empty value", ErrInvalidScalar)
	}

	z, ok := new(big.Int).SetString(s, base)
	if !ok || z.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidScalar, text)
	}
	return z, nil
}

// ParseScalarBelow is ParseScalar restricted to [0, n) of the curve. Use it
// for r, s, k and d.
func ParseScalarBelow(text string, curve CurveParams) (*big.Int, error) {
	x, err := ParseScalar(text)
	if err != nil {
		return nil, err
	}
	if x.Cmp(curve.N) >= 0 {
		return nil, fmt.Errorf("%w: %q is not below the curve order", ErrInvalidScalar, text)
	}
	return x, nil
}

// ParseDigest is ParseScalar for a message hash z, which is kept unreduced
// but may be no wider than 256 bits or the curve order, whichever is larger.
func ParseDigest(text string, curve CurveParams) (*big.Int, error) {
	z, err := ParseScalar(text)
	if err != nil {
		return nil, err
	}
	if limit := max(256, curve.N.BitLen()); z.BitLen() > limit {
		return nil, fmt.Errorf("%w: %q is wider than %d bits", ErrInvalidScalar, text, limit)
	}
	return z, nil
}

// MustParseScalar is ParseScalar for constants; it panics on bad input.
func MustParseScalar(text string) *big.Int {
	z, err := ParseScalar(text)
	if err != nil {
		panic(err)
	}
	return z
}
