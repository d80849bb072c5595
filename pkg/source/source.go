// Package source fetches raw transactions and block contents from a remote
// node or block explorer.
//
// Two backends are provided: Esplora, the REST API served by blockstream.info
// and mempool.space, and RPC, a bitcoind JSON-RPC client. Retry and Cache
// wrap any Source.
package source

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the backend does not know the requested
// transaction or block. It is never retried.
var ErrNotFound = errors.New("not found")

// Source provides raw transaction hex and block transaction lists.
type Source interface {
	// RawTransaction returns the hex serialization of the transaction.
	RawTransaction(ctx context.Context, txid string) (string, error)

	// BlockTxIDs returns the ids of every transaction in the block at height,
	// in block order.
	BlockTxIDs(ctx context.Context, height int64) ([]string, error)
}

// ScriptSigSource is implemented by backends that can render a transaction's
// input scripts as ASM text. It is used to collect r values from inputs the
// raw parser cannot handle.
type ScriptSigSource interface {
	ScriptSigASM(ctx context.Context, txid string) ([]string, error)
}

// Operation names used in errors, logs and metrics.
const (
	OpRawTransaction = "raw_transaction"
	OpBlockTxIDs     = "block_txids"
	OpScriptSigASM   = "scriptsig_asm"
)
