// Package api provides the high-level public API for signature analysis and
// key recovery.
//
// This is the main entry point for applications using the btc-rsz library.
// Every value crosses this boundary as hex text:
//
//  1. AnalyzeTransaction - Parses a legacy transaction and rebuilds each input's (r, s, z)
//  2. RecoverReusedR - Recovers d from two signatures sharing r
//  3. RecoverReusedRWithNonce - Same, recovering the shared nonce k first
//  4. RecoverKnownNonce - Recovers d from one signature and its nonce
//  5. ComputeNonce / DeriveNonce - Nonce utilities
//  6. FindAndRecover - Detects r reuse across reports and recovers keys
//  7. AnalyzeBatch - AnalyzeTransaction over many transactions
//  8. WalkBlocks - Collects signatures from a block range of a remote source
package api

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"go.uber.org/zap"

	"github.com/suffix-labs/btc-rsz/pkg/crypto"
	"github.com/suffix-labs/btc-rsz/pkg/recovery"
	"github.com/suffix-labs/btc-rsz/pkg/rsz"
)

// Options configures analysis and recovery.
type Options struct {
	Curve     rsz.CurveParams // Zero value selects secp256k1
	StrictDER bool            // Reject non-canonical DER signatures
	Testnet   bool            // Encode WIF keys and addresses for testnet

	Workers int               // Concurrency for batch operations, defaults to 1
	Logger  *zap.Logger       // Defaults to a no-op logger
	Metrics *recovery.Metrics // Optional
}

func (o Options) curve() rsz.CurveParams {
	if o.Curve.N == nil {
		return rsz.Secp256k1()
	}
	return o.Curve
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func (o Options) workers() int {
	if o.Workers < 1 {
		return 1
	}
	return o.Workers
}

// InputReport is the signing data of one input, all fields hex encoded.
type InputReport struct {
	Index     int
	PrevOut   string // "<txid>:<index>" in display byte order
	R         string // As encoded in the signature, padding stripped
	S         string
	Z         string // 64 hex digits; empty when unknown
	PublicKey string // Empty when the input pushes no key

	// Verified is set when the signature checks out against PublicKey and
	// Z. An unverified input usually spent a non-P2PKH output, in which case
	// Z is not the digest that was actually signed.
	Verified bool
}

// Report is the analysis of one transaction.
type Report struct {
	TxID   string
	Inputs []InputReport
}

// ============================================================================
// API Function 1: AnalyzeTransaction
// ============================================================================

// AnalyzeTransaction parses a legacy transaction and returns the (r, s, z)
// tuple and public key of every input.
//
// This function:
//  1. Decodes the hex and parses the legacy serialization
//  2. Rebuilds the SIGHASH_ALL digest of every input
//  3. Checks each signature against its public key
//
// Parameters:
//   - rawHex: The transaction in legacy wire format, hex encoded
//   - opts: Curve and DER strictness
//
// Returns:
//   - Per-input report
//   - Error wrapping rsz.ErrUnsupportedTransactionType for SegWit
//     serializations, or a *rsz.ParseError naming the failing input
func AnalyzeTransaction(rawHex string, opts Options) (*Report, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(rawHex))
	if err != nil {
		return nil, fmt.Errorf("invalid transaction hex: %w", err)
	}

	curve := opts.curve()
	tx, err := crypto.ParseTransaction(raw, crypto.ParseOptions{StrictDER: opts.StrictDER, Order: curve.N})
	if err != nil {
		return nil, err
	}
	if err := crypto.ComputeSighashes(tx); err != nil {
		return nil, fmt.Errorf("failed to compute sighashes: %w", err)
	}

	report := &Report{TxID: txid(raw), Inputs: make([]InputReport, len(tx.Inputs))}
	for i := range tx.Inputs {
		in := &tx.Inputs[i]
		report.Inputs[i] = InputReport{
			Index:     i,
			PrevOut:   fmt.Sprintf("%s:%d", displayHex(in.PrevTxID[:]), binary.LittleEndian.Uint32(in.PrevIndex[:])),
			R:         formatSized(in.Signature.R, in.Signature.RLen),
			S:         formatSized(in.Signature.S, in.Signature.SLen),
			Z:         rsz.FormatScalar(in.Z),
			PublicKey: hex.EncodeToString(in.PublicKey),
			Verified:  crypto.VerifyInput(in),
		}
	}
	return report, nil
}

// ============================================================================
// API Function 2: RecoverReusedR
// ============================================================================

// RecoverReusedR recovers the private key from two signatures that share r:
// d = (z1·s2 − z2·s1)·(r·(s1 − s2))⁻¹ mod n.
//
// Scalars are hex, optionally 0x-prefixed; decimal needs the
// rsz.DecimalPrefix. r and s must be below n and z at most 256 bits wide.
//
// Returns:
//   - d as 64 hex digits
//   - rsz.ErrDegenerateSignaturePair when s1 ≡ s2
func RecoverReusedR(r, s1, z1, s2, z2 string, curve rsz.CurveParams) (string, error) {
	t1, t2, err := parsePair(r, s1, z1, s2, z2, curve)
	if err != nil {
		return "", err
	}
	d, err := recovery.ReusedR(t1, t2, curveOrDefault(curve))
	if err != nil {
		return "", err
	}
	return rsz.FormatScalar(d), nil
}

// ============================================================================
// API Function 3: RecoverReusedRWithNonce
// ============================================================================

// RecoverReusedRWithNonce recovers the shared nonce k = (z1 − z2)/(s1 − s2)
// and then d = r⁻¹·(s1·k − z1). The result matches RecoverReusedR for
// consistent inputs.
//
// Returns:
//   - d and k as 64 hex digits
func RecoverReusedRWithNonce(r, s1, z1, s2, z2 string, curve rsz.CurveParams) (d, k string, err error) {
	t1, t2, err := parsePair(r, s1, z1, s2, z2, curve)
	if err != nil {
		return "", "", err
	}
	rec, err := recovery.ReusedRWithNonce(t1, t2, curveOrDefault(curve))
	if err != nil {
		return "", "", err
	}
	return rsz.FormatScalar(rec.D), rsz.FormatScalar(rec.K), nil
}

// ============================================================================
// API Function 4: RecoverKnownNonce
// ============================================================================

// RecoverKnownNonce recovers d = (s·k − z)·r⁻¹ mod n from a single
// signature whose nonce k is known.
func RecoverKnownNonce(r, s, z, k string, curve rsz.CurveParams) (string, error) {
	t, err := parseTuple(r, s, z, curve)
	if err != nil {
		return "", err
	}
	kv, err := rsz.ParseScalarBelow(k, curveOrDefault(curve))
	if err != nil {
		return "", fmt.Errorf("invalid k: %w", err)
	}
	d, err := recovery.KnownNonce(t, kv, curveOrDefault(curve))
	if err != nil {
		return "", err
	}
	return rsz.FormatScalar(d), nil
}

// ============================================================================
// API Functions 5a & 5b: ComputeNonce / DeriveNonce
// ============================================================================

// ComputeNonce evaluates k = (s·r + z)·r⁻¹ mod n, a sanity value compared
// against a nonce believed to be known. It is not the signing nonce in
// general; use DeriveNonce when d is known.
func ComputeNonce(r, s, z string, curve rsz.CurveParams) (string, error) {
	t, err := parseTuple(r, s, z, curve)
	if err != nil {
		return "", err
	}
	k, err := recovery.NonceCheck(t, curveOrDefault(curve))
	if err != nil {
		return "", err
	}
	return rsz.FormatScalar(k), nil
}

// DeriveNonce returns the nonce k = (z + r·d)·s⁻¹ mod n that produced a
// signature under the known key d.
func DeriveNonce(r, s, z, d string, curve rsz.CurveParams) (string, error) {
	t, err := parseTuple(r, s, z, curve)
	if err != nil {
		return "", err
	}
	dv, err := rsz.ParseScalarBelow(d, curveOrDefault(curve))
	if err != nil {
		return "", fmt.Errorf("invalid d: %w", err)
	}
	k, err := recovery.NonceFromKey(t, dv, curveOrDefault(curve))
	if err != nil {
		return "", err
	}
	return rsz.FormatScalar(k), nil
}

// ============================================================================
// Helper Functions
// ============================================================================

func curveOrDefault(curve rsz.CurveParams) rsz.CurveParams {
	if curve.N == nil {
		return rsz.Secp256k1()
	}
	return curve
}

func parseTuple(r, s, z string, curve rsz.CurveParams) (rsz.SigningTuple, error) {
	curve = curveOrDefault(curve)
	rv, err := rsz.ParseScalarBelow(r, curve)
	if err != nil {
		return rsz.SigningTuple{}, fmt.Errorf("invalid r: %w", err)
	}
	sv, err := rsz.ParseScalarBelow(s, curve)
	if err != nil {
		return rsz.SigningTuple{}, fmt.Errorf("invalid s: %w", err)
	}
	zv, err := rsz.ParseDigest(z, curve)
	if err != nil {
		return rsz.SigningTuple{}, fmt.Errorf("invalid z: %w", err)
	}
	return rsz.NewSigningTuple(rv, sv, zv, curve), nil
}

func parsePair(r, s1, z1, s2, z2 string, curve rsz.CurveParams) (rsz.SigningTuple, rsz.SigningTuple, error) {
	t1, err := parseTuple(r, s1, z1, curve)
	if err != nil {
		return rsz.SigningTuple{}, rsz.SigningTuple{}, fmt.Errorf("first signature: %w", err)
	}
	t2, err := parseTuple(r, s2, z2, curve)
	if err != nil {
		return rsz.SigningTuple{}, rsz.SigningTuple{}, fmt.Errorf("second signature: %w", err)
	}
	return t1, t2, nil
}

// formatSized renders x with 2·size hex digits, the width it had on the wire.
func formatSized(x *big.Int, size int) string {
	if x == nil {
		return ""
	}
	return fmt.Sprintf("%0*x", 2*size, x)
}

// txid is the double SHA-256 of the serialization in display byte order.
func txid(raw []byte) string {
	h := crypto.DoubleSHA256(raw)
	return displayHex(h[:])
}

func displayHex(b []byte) string {
	out := make([]byte, len(b))
	for i := range b {
		out[i] = b[len(b)-1-i]
	}
	return hex.EncodeToString(out)
}
