package crypto

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/suffix-labs/btc-rsz/pkg/rsz"
)

// sighashAllSuffix is SIGHASH_ALL as a 4-byte little-endian integer.
var sighashAllSuffix = []byte{0x01, 0x00, 0x00, 0x00}

// SighashPreimage rebuilds the legacy SIGHASH_ALL preimage for input i:
//
//	version || varint(input_count)
//	|| for each input j:
//	     prev_txid || prev_index
//	     || (j == i ? varint(25) || P2PKH(HASH160(pubkey_i)) : 0x00)
//	     || sequence
//	|| trailing || 01000000
//
// The script substituted for input i assumes the spent output was P2PKH for
// the public key revealed in the input's own scriptSig. When that does not
// hold the digest is wrong; VerifyInput detects it.
func SighashPreimage(tx *rsz.RawTransaction, i int) ([]byte, error) {
	if i < 0 || i >= len(tx.Inputs) {
		return nil, fmt.Errorf("input index %d out of bounds (have %d inputs)", i, len(tx.Inputs))
	}

	var buf bytes.Buffer
	buf.Write(tx.Version[:])
	AppendVarInt(&buf, uint64(len(tx.Inputs)))

	for j := range tx.Inputs {
		in := &tx.Inputs[j]
		buf.Write(in.PrevTxID[:])
		buf.Write(in.PrevIndex[:])
		if j == i {
			script := P2PKHScript(tx.Inputs[i].PublicKey)
			AppendVarInt(&buf, uint64(len(script)))
			buf.Write(script)
		} else {
			buf.WriteByte(0x00)
		}
		buf.Write(in.Sequence[:])
	}

	buf.Write(tx.Trailing)
	buf.Write(sighashAllSuffix)
	return buf.Bytes(), nil
}

// SighashDigest returns the double SHA-256 of the preimage for input i.
func SighashDigest(tx *rsz.RawTransaction, i int) ([32]byte, error) {
	preimage, err := SighashPreimage(tx, i)
	if err != nil {
		return [32]byte{}, err
	}
	return DoubleSHA256(preimage), nil
}

// ComputeSighashes attaches the message digest z to every input of tx.
// z is the digest read as a big-endian integer, with no byte reversal.
func ComputeSighashes(tx *rsz.RawTransaction) error {
	for i := range tx.Inputs {
		digest, err := SighashDigest(tx, i)
		if err != nil {
			return err
		}
		tx.Inputs[i].Z = new(big.Int).SetBytes(digest[:])
	}
	return nil
}
