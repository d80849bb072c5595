package signer

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/suffix-labs/btc-rsz/pkg/crypto"
	"github.com/suffix-labs/btc-rsz/pkg/modmath"
	"github.com/suffix-labs/btc-rsz/pkg/rsz"
)

// Signer adds SIGHASH_ALL P2PKH signatures to a transaction's inputs.
//
// Unlike a normal signer it takes the nonce k from the caller instead of
// deriving it (RFC 6979), so tests and demonstrations can reuse or leak it
// on purpose.
type Signer struct {
	tx *Tx

	// LowS publishes n − s when s is in the upper half of the group.
	LowS bool

	// Uncompressed pushes the 65-byte public key instead of 33 bytes.
	Uncompressed bool
}

// NewSigner creates a new Signer.
func NewSigner(tx *Tx) *Signer {
	return &Signer{tx: tx}
}

// SignInput signs input i with key and nonce k.
//
// Every input must be added before signing: the digest commits to the
// outpoints and sequences of all inputs and to all outputs.
//
// Returns an error if:
//   - Input index is out of bounds
//   - k is not in [1, n-1]
//   - r or s comes out as zero
func (s *Signer) SignInput(i int, key *crypto.PrivateKey, k *big.Int) (rsz.SigningTuple, error) {
	if i < 0 || i >= len(s.tx.Inputs) {
		return rsz.SigningTuple{}, fmt.Errorf("input index %d out of bounds (have %d inputs)",
			i, len(s.tx.Inputs))
	}
	n := rsz.Secp256k1().N

	pub := key.PublicKey().SerializeCompressed()
	if s.Uncompressed {
		pub = key.PublicKey().SerializeUncompressed()
	}
	s.tx.Inputs[i].PublicKey = pub

	// The digest for input i substitutes P2PKH(HASH160(pub)) as its script.
	digest, err := crypto.SighashDigest(s.tx.view(), i)
	if err != nil {
		return rsz.SigningTuple{}, fmt.Errorf("failed to compute sighash: %w", err)
	}
	z := new(big.Int).SetBytes(digest[:])

	r, err := crypto.NoncePointX(k)
	if err != nil {
		return rsz.SigningTuple{}, err
	}
	if r.Sign() == 0 {
		return rsz.SigningTuple{}, fmt.Errorf("nonce yields r = 0")
	}

	// s = k⁻¹·(z + r·d) mod n
	kInv, err := modmath.ModInv(k, n)
	if err != nil {
		return rsz.SigningTuple{}, err
	}
	rd := modmath.MulMod(r, key.Scalar(), n)
	sig := modmath.MulMod(kInv, modmath.AddMod(z, rd, n), n)
	if sig.Sign() == 0 {
		return rsz.SigningTuple{}, fmt.Errorf("nonce yields s = 0")
	}
	if s.LowS && sig.Cmp(new(big.Int).Rsh(n, 1)) > 0 {
		sig.Sub(n, sig)
	}

	// Signature push: DER(r, s) || SIGHASH_ALL
	der := append(crypto.EncodeDERSignature(r, sig), rsz.SighashAll)

	var script bytes.Buffer
	if err := pushData(&script, der); err != nil {
		return rsz.SigningTuple{}, err
	}
	if err := pushData(&script, pub); err != nil {
		return rsz.SigningTuple{}, err
	}
	s.tx.Inputs[i].ScriptSig = script.Bytes()

	return rsz.NewSigningTuple(r, sig, z, rsz.Secp256k1()), nil
}

// Finish returns the transaction being signed.
func (s *Signer) Finish() *Tx {
	return s.tx
}
