// Package crypto implements secp256k1 key handling for recovered keys and
// signature verification.
//
// Key formats:
//   - Private keys: raw 32 bytes, scalar in [1, n-1], or WIF
//   - Public keys: SEC compressed (33 bytes) or uncompressed (65 bytes)
//   - Addresses: base58check P2PKH
package crypto

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcutil/base58"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/suffix-labs/btc-rsz/pkg/rsz"
)

// Base58check version bytes.
const (
	wifMainnet     = 0x80
	wifTestnet     = 0xef
	p2pkhMainnet   = 0x00
	p2pkhTestnet   = 0x6f
	compressedFlag = 0x01
)

// PrivateKey wraps a secp256k1 private key.
type PrivateKey struct {
	key *secp256k1.PrivateKey
}

// PublicKey wraps a secp256k1 public key.
type PublicKey struct {
	key *secp256k1.PublicKey
}

// PrivateKeyFromBytes creates a private key from raw bytes.
func PrivateKeyFromBytes(keyBytes []byte) (*PrivateKey, error) {
	if len(keyBytes) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(keyBytes))
	}
	return PrivateKeyFromScalar(new(big.Int).SetBytes(keyBytes))
}

// PrivateKeyFromScalar creates a private key from d, which must lie in
// [1, n-1] for the secp256k1 order n.
func PrivateKeyFromScalar(d *big.Int) (*PrivateKey, error) {
	n := secp256k1.S256().Params().N
	if d.Sign() <= 0 || d.Cmp(n) >= 0 {
		return nil, fmt.Errorf("%w: private key out of range", rsz.ErrInvalidScalar)
	}
	var b [32]byte
	d.FillBytes(b[:])
	return &PrivateKey{key: secp256k1.PrivKeyFromBytes(b[:])}, nil
}

// ParsePrivateKeyWIF parses a WIF-encoded private key. The second result
// reports whether the key is flagged for compressed public keys.
func ParsePrivateKeyWIF(wif string) (*PrivateKey, bool, error) {
	payload, version, err := base58.CheckDecode(wif)
	if err != nil {
		return nil, false, fmt.Errorf("decoding WIF: %w", err)
	}
	if version != wifMainnet && version != wifTestnet {
		return nil, false, fmt.Errorf("invalid WIF version byte: 0x%02x", version)
	}

	switch {
	case len(payload) == 32:
		key, err := PrivateKeyFromBytes(payload)
		return key, false, err
	case len(payload) == 33 && payload[32] == compressedFlag:
		key, err := PrivateKeyFromBytes(payload[:32])
		return key, true, err
	default:
		return nil, false, errors.New("invalid WIF length")
	}
}

// Bytes returns the raw 32-byte private key.
func (pk *PrivateKey) Bytes() []byte {
	return pk.key.Serialize()
}

// Scalar returns the private key as an integer.
func (pk *PrivateKey) Scalar() *big.Int {
	return new(big.Int).SetBytes(pk.key.Serialize())
}

// PublicKey derives the public key.
func (pk *PrivateKey) PublicKey() *PublicKey {
	return &PublicKey{key: pk.key.PubKey()}
}

// WIF encodes the key in wallet import format.
func (pk *PrivateKey) WIF(compressed, testnet bool) string {
	version := byte(wifMainnet)
	if testnet {
		version = wifTestnet
	}
	payload := pk.key.Serialize()
	if compressed {
		payload = append(payload, compressedFlag)
	}
	return base58.CheckEncode(payload, version)
}

// MatchesPublicKey reports whether pubKey, in the SEC form it was given in,
// is the public key of pk.
func (pk *PrivateKey) MatchesPublicKey(pubKey []byte) bool {
	derived := pk.PublicKey()
	switch len(pubKey) {
	case 33:
		return bytes.Equal(derived.SerializeCompressed(), pubKey)
	case 65:
		return bytes.Equal(derived.SerializeUncompressed(), pubKey)
	default:
		return false
	}
}

// ParsePublicKey parses a compressed or uncompressed SEC public key.
func ParsePublicKey(pubKeyBytes []byte) (*PublicKey, error) {
	pubKey, err := secp256k1.ParsePubKey(pubKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rsz.ErrInvalidPublicKey, err)
	}
	return &PublicKey{key: pubKey}, nil
}

// SerializeCompressed returns the 33-byte compressed public key.
func (pub *PublicKey) SerializeCompressed() []byte {
	return pub.key.SerializeCompressed()
}

// SerializeUncompressed returns the 65-byte uncompressed public key.
func (pub *PublicKey) SerializeUncompressed() []byte {
	return pub.key.SerializeUncompressed()
}

// P2PKHAddress returns the base58check pay-to-pubkey-hash address for the
// given SEC public key bytes. The hash commits to the exact encoding, so
// compressed and uncompressed forms of one key have different addresses.
func P2PKHAddress(pubKey []byte, testnet bool) string {
	version := byte(p2pkhMainnet)
	if testnet {
		version = p2pkhTestnet
	}
	return base58.CheckEncode(Hash160(pubKey), version)
}

// NoncePointX returns the x-coordinate of k·G reduced modulo n, the r value
// of any signature made with nonce k.
func NoncePointX(k *big.Int) (*big.Int, error) {
	nonce, err := PrivateKeyFromScalar(k)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	r := nonce.key.PubKey().X()
	return r.Mod(r, secp256k1.S256().Params().N), nil
}

// VerifySignature checks an ECDSA signature (r, s) over the 32-byte digest
// against an SEC encoded public key. Both low and high s are accepted.
func VerifySignature(pubKey []byte, digest [32]byte, r, s *big.Int) bool {
	pub, err := secp256k1.ParsePubKey(pubKey)
	if err != nil {
		return false
	}

	var rs, ss secp256k1.ModNScalar
	if !toModNScalar(r, &rs) || !toModNScalar(s, &ss) {
		return false
	}
	return ecdsa.NewSignature(&rs, &ss).Verify(digest[:], pub)
}

// VerifyInput checks the input's signature against its own public key over
// the attached digest. A false result for a well-formed input means the
// spent output was not P2PKH for that key, so the reconstructed z is wrong.
func VerifyInput(in *rsz.TxInput) bool {
	if in.Z == nil || in.Z.BitLen() > 256 {
		return false
	}
	var digest [32]byte
	in.Z.FillBytes(digest[:])
	return VerifySignature(in.PublicKey, digest, in.Signature.R, in.Signature.S)
}

// toModNScalar loads x into out, failing for zero or values >= n.
func toModNScalar(x *big.Int, out *secp256k1.ModNScalar) bool {
	if x.Sign() <= 0 || x.BitLen() > 256 {
		return false
	}
	var b [32]byte
	x.FillBytes(b[:])
	if overflow := out.SetByteSlice(b[:]); overflow {
		return false
	}
	return !out.IsZero()
}
