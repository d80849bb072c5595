// Package crypto decodes legacy Bitcoin transactions into per-input ECDSA
// signing data.
//
// This file parses the raw transaction layout:
//
//	version (4) || input_count (varint) || inputs || trailing
//
// where each input is
//
//	prev_txid (32) || prev_index (4) || script_sig (varint + bytes) || sequence (4)
//
// and script_sig is expected to be the P2PKH unlock script
//
//	push(signature || sighash_type) || push(public_key)
//
// Outputs and lock time are not decoded: everything after the last input is
// kept as opaque trailing bytes for the sighash preimage.
package crypto

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/suffix-labs/btc-rsz/pkg/rsz"
)

// Smallest possible serialized input: 32 + 4 + 1 + 4.
const minInputSize = 41

// ParseOptions configures ParseTransaction.
type ParseOptions struct {
	// StrictDER rejects non-canonical signature encodings.
	StrictDER bool

	// Order bounds r and s when StrictDER is set. Nil skips the range check.
	Order *big.Int
}

// ParseTransactionHex decodes a hex string and parses it with ParseTransaction.
func ParseTransactionHex(rawHex string, opts ParseOptions) (*rsz.RawTransaction, error) {
	data, err := hex.DecodeString(strings.TrimSpace(rawHex))
	if err != nil {
		return nil, fmt.Errorf("decoding transaction hex: %w", err)
	}
	return ParseTransaction(data, opts)
}

// ParseTransaction parses raw legacy transaction bytes.
//
// Any failure aborts the whole parse; no partial transaction is returned.
// Errors are *rsz.ParseError values wrapping one of the rsz sentinels:
//   - rsz.ErrUnsupportedTransactionType for SegWit-marked or coinbase transactions
//   - rsz.ErrUnexpectedEndOfStream when a field runs past the end of the data
//   - rsz.ErrMalformedDerSignature when a signature push is not DER
func ParseTransaction(data []byte, opts ParseOptions) (*rsz.RawTransaction, error) {
	r := NewReader(data)
	tx := &rsz.RawTransaction{}

	// Step 1: Version
	version, err := r.ReadBytes(4)
	if err != nil {
		return nil, &rsz.ParseError{InputIndex: -1, Stage: rsz.StageVersion, Cause: fmt.Errorf("reading version: %w", err)}
	}
	copy(tx.Version[:], version)

	// Step 2: SegWit marker and flag follow the version in witness
	// serialization. Those transactions have no scriptSig signatures.
	if r.PeekSegWitMarker() {
		return nil, &rsz.ParseError{InputIndex: -1, Stage: rsz.StageMarker,
			Cause: fmt.Errorf("%w: segwit marker present", rsz.ErrUnsupportedTransactionType)}
	}

	// Step 3: Input count
	count, err := r.ReadVarInt()
	if err != nil {
		return nil, &rsz.ParseError{InputIndex: -1, Stage: rsz.StageInputCount, Cause: fmt.Errorf("reading input count: %w", err)}
	}

	// Don't trust the count for the allocation size.
	capacity := count
	if limit := uint64(r.Len() / minInputSize); capacity > limit {
		capacity = limit
	}
	tx.Inputs = make([]rsz.TxInput, 0, capacity)

	// Step 4: Inputs
	for i := 0; uint64(i) < count; i++ {
		in, err := parseInput(r, i, opts)
		if err != nil {
			return nil, err
		}
		tx.Inputs = append(tx.Inputs, in)
	}

	// Step 5: Outputs and lock time, verbatim
	tx.Trailing = r.Remaining()

	return tx, nil
}

func parseInput(r *Reader, index int, opts ParseOptions) (rsz.TxInput, error) {
	var in rsz.TxInput
	fail := func(stage string, err error) (rsz.TxInput, error) {
		return rsz.TxInput{}, &rsz.ParseError{InputIndex: index, Stage: stage, Cause: err}
	}

	txid, err := r.ReadBytes(32)
	if err != nil {
		return fail(rsz.StagePrevout, fmt.Errorf("reading prevout txid: %w", err))
	}
	copy(in.PrevTxID[:], txid)

	idx, err := r.ReadBytes(4)
	if err != nil {
		return fail(rsz.StagePrevout, fmt.Errorf("reading prevout index: %w", err))
	}
	copy(in.PrevIndex[:], idx)

	if isCoinbasePrevout(in.PrevTxID, in.PrevIndex) {
		return fail(rsz.StagePrevout, fmt.Errorf("%w: coinbase input", rsz.ErrUnsupportedTransactionType))
	}

	script, err := r.ReadVarBytes()
	if err != nil {
		return fail(rsz.StageScript, fmt.Errorf("reading script_sig: %w", err))
	}

	stage, err := parseScriptSig(script, &in, opts)
	if err != nil {
		return fail(stage, err)
	}

	seq, err := r.ReadBytes(4)
	if err != nil {
		return fail(rsz.StageSequence, fmt.Errorf("reading sequence: %w", err))
	}
	copy(in.Sequence[:], seq)

	return in, nil
}

// parseScriptSig decodes push(sig||type) push(pubkey). The push lengths are
// read as CompactSize values, which coincides with direct push opcodes for
// every standard signature and key size.
func parseScriptSig(script []byte, in *rsz.TxInput, opts ParseOptions) (string, error) {
	sr := NewReader(script)

	sigPush, err := sr.ReadVarBytes()
	if err != nil {
		return rsz.StageSignature, fmt.Errorf("reading signature push: %w", err)
	}
	if len(sigPush) == 0 {
		return rsz.StageSignature, fmt.Errorf("%w: empty signature push", rsz.ErrMalformedDerSignature)
	}

	in.SighashType = sigPush[len(sigPush)-1]
	in.Signature, err = ParseDERSignature(sigPush[:len(sigPush)-1], DEROptions{
		Strict: opts.StrictDER,
		Order:  opts.Order,
	})
	if err != nil {
		return rsz.StageSignature, err
	}

	in.PublicKey, err = sr.ReadVarBytes()
	if err != nil {
		return rsz.StagePublicKey, fmt.Errorf("reading public key push: %w", err)
	}
	return "", nil
}

func isCoinbasePrevout(txid [32]byte, index [4]byte) bool {
	return txid == [32]byte{} && bytes.Equal(index[:], []byte{0xff, 0xff, 0xff, 0xff})
}
