// Package signer builds and signs legacy P2PKH transactions with a caller
// chosen nonce.
//
// It exists to produce transactions with known keys and nonces: fixtures
// for the analyzer, and demonstrations of what nonce reuse exposes. It is
// not a wallet; there is no fee, change or UTXO handling.
package signer

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/suffix-labs/btc-rsz/pkg/crypto"
	"github.com/suffix-labs/btc-rsz/pkg/rsz"
)

// DefaultSequence is the final sequence number.
const DefaultSequence = 0xffffffff

// Input is an outpoint being spent.
type Input struct {
	PrevTxID  [32]byte // Wire byte order
	PrevIndex uint32
	Sequence  uint32
	ScriptSig []byte // Empty until signed
	PublicKey []byte // Key the spent output pays to, set when signed
}

// Output is a value locked to a script.
type Output struct {
	Value    uint64
	PkScript []byte
}

// Tx is an unsigned or partially signed legacy transaction.
type Tx struct {
	Version  uint32
	Inputs   []Input
	Outputs  []Output
	LockTime uint32
}

// NewTx creates an empty transaction.
func NewTx(version, lockTime uint32) *Tx {
	return &Tx{Version: version, LockTime: lockTime}
}

// AddInput appends an input spending prevTxID:index.
func (tx *Tx) AddInput(prevTxID [32]byte, index, sequence uint32) {
	tx.Inputs = append(tx.Inputs, Input{
		PrevTxID:  prevTxID,
		PrevIndex: index,
		Sequence:  sequence,
	})
}

// AddOutput appends an output.
func (tx *Tx) AddOutput(value uint64, pkScript []byte) {
	tx.Outputs = append(tx.Outputs, Output{Value: value, PkScript: pkScript})
}

// Serialize returns the legacy wire encoding:
// version || inputs || outputs || lock_time.
func (tx *Tx) Serialize() []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, tx.Version)

	crypto.AppendVarInt(&buf, uint64(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		buf.Write(in.PrevTxID[:])
		binary.Write(&buf, binary.LittleEndian, in.PrevIndex)
		crypto.AppendVarInt(&buf, uint64(len(in.ScriptSig)))
		buf.Write(in.ScriptSig)
		binary.Write(&buf, binary.LittleEndian, in.Sequence)
	}

	buf.Write(tx.trailing())
	return buf.Bytes()
}

// trailing encodes the outputs and lock time, the section the analyzer
// treats as opaque.
func (tx *Tx) trailing() []byte {
	var buf bytes.Buffer
	crypto.AppendVarInt(&buf, uint64(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		binary.Write(&buf, binary.LittleEndian, out.Value)
		crypto.AppendVarInt(&buf, uint64(len(out.PkScript)))
		buf.Write(out.PkScript)
	}
	binary.Write(&buf, binary.LittleEndian, tx.LockTime)
	return buf.Bytes()
}

// view converts tx into the analyzer's model so the same sighash code
// signs and verifies. Only the fields the preimage reads are populated.
func (tx *Tx) view() *rsz.RawTransaction {
	raw := &rsz.RawTransaction{
		Inputs:   make([]rsz.TxInput, len(tx.Inputs)),
		Trailing: tx.trailing(),
	}
	binary.LittleEndian.PutUint32(raw.Version[:], tx.Version)
	for i, in := range tx.Inputs {
		raw.Inputs[i].PrevTxID = in.PrevTxID
		binary.LittleEndian.PutUint32(raw.Inputs[i].PrevIndex[:], in.PrevIndex)
		binary.LittleEndian.PutUint32(raw.Inputs[i].Sequence[:], in.Sequence)
		raw.Inputs[i].PublicKey = in.PublicKey
	}
	return raw
}

// pushData encodes a direct push. Only sizes below OP_PUSHDATA1 are
// supported, which covers signatures and SEC public keys.
func pushData(buf *bytes.Buffer, data []byte) error {
	if len(data) == 0 || len(data) >= 0x4c {
		return fmt.Errorf("push of %d bytes not supported", len(data))
	}
	buf.WriteByte(byte(len(data)))
	buf.Write(data)
	return nil
}
