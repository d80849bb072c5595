// Package rsz error types.
//
// Every failure in the parser, the sighash reconstructor and the recovery
// engine is reported through one of the sentinel errors below, usually
// wrapped in a structured error that carries the context (input index,
// parse stage, formula name). Callers match on the sentinel:
//
//	if errors.Is(err, rsz.ErrDegenerateSignaturePair) { ... }
package rsz

import (
	"errors"
	"fmt"
)

// Error taxonomy.
var (
	// ErrNoInverseExists is returned when a modular inverse is requested
	// for a value that shares a factor with the modulus (including zero).
	ErrNoInverseExists = errors.New("no modular inverse exists")

	// ErrUnexpectedEndOfStream is returned when a read requests more bytes
	// than remain in the buffer.
	ErrUnexpectedEndOfStream = errors.New("unexpected end of stream")

	// ErrMalformedDerSignature is returned when a signature blob is missing
	// a DER tag or a length runs past the end of the blob.
	ErrMalformedDerSignature = errors.New("malformed DER signature")

	// ErrUnsupportedTransactionType is returned for SegWit-marked and
	// coinbase transactions.
	ErrUnsupportedTransactionType = errors.New("unsupported transaction type")

	// ErrDegenerateSignaturePair is returned when two signatures sharing r
	// also share s, so no information about the key can be extracted.
	ErrDegenerateSignaturePair = errors.New("degenerate signature pair")

	// ErrNonceMismatch is returned when a reused-nonce formula is given two
	// tuples whose r values differ.
	ErrNonceMismatch = errors.New("signatures do not share r")

	// ErrInvalidScalar is returned for scalar text that is not a hex or
	// decimal integer, or is out of range for the curve.
	ErrInvalidScalar = errors.New("invalid scalar")

	// ErrInvalidPublicKey is returned when a public key cannot be decoded as
	// a secp256k1 point.
	ErrInvalidPublicKey = errors.New("invalid public key")
)

// Parse stages reported in ParseError.
const (
	StageVersion    = "version"
	StageMarker     = "segwit_marker"
	StageInputCount = "input_count"
	StagePrevout    = "prevout"
	StageScript     = "script_sig"
	StageSignature  = "signature"
	StagePublicKey  = "public_key"
	StageSequence   = "sequence"
)

// ParseError is returned when a raw transaction cannot be decoded.
//
// InputIndex is -1 for failures outside the input list (version, marker,
// input count).
type ParseError struct {
	InputIndex int    // Index of the input being decoded, or -1
	Stage      string // One of the Stage* constants
	Cause      error  // Underlying error, wraps a taxonomy sentinel
}

func (e *ParseError) Error() string {
	if e.InputIndex < 0 {
		return fmt.Sprintf("parse error [%s]: %v", e.Stage, e.Cause)
	}
	return fmt.Sprintf("parse error at input %d [%s]: %v", e.InputIndex, e.Stage, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// RecoveryError is returned when a recovery formula cannot be evaluated.
type RecoveryError struct {
	Formula string // Formula name, e.g. "reused_r"
	Cause   error  // Underlying error, wraps a taxonomy sentinel
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("recovery error [%s]: %v", e.Formula, e.Cause)
}

func (e *RecoveryError) Unwrap() error { return e.Cause }

// SourceError is returned by remote data sources after the retry policy
// has been exhausted.
type SourceError struct {
	Op       string // Operation, e.g. "raw_transaction"
	Key      string // Transaction id or block height
	Attempts int    // Number of attempts made
	Cause    error  // Last error observed
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source error [%s %s] after %d attempt(s): %v", e.Op, e.Key, e.Attempts, e.Cause)
}

func (e *SourceError) Unwrap() error { return e.Cause }
