package api

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/suffix-labs/btc-rsz/pkg/crypto"
	"github.com/suffix-labs/btc-rsz/pkg/scan"
	"github.com/suffix-labs/btc-rsz/pkg/source"
)

// TxFailure records a transaction the walk could not use.
type TxFailure struct {
	TxID string
	Err  error
}

// WalkResult is everything collected from a block range.
type WalkResult struct {
	// Reports holds fully analyzed legacy transactions, usable for recovery.
	Reports []*Report

	// Entries holds one dump line per signature, including those read
	// from ASM text for transactions the parser rejected. ASM-derived
	// entries carry no z.
	Entries []scan.DumpEntry

	Failures []TxFailure
}

type walkedTx struct {
	report  *Report
	entries []scan.DumpEntry
	failure *TxFailure
}

// ============================================================================
// API Function 8: WalkBlocks
// ============================================================================

// WalkBlocks collects signatures from every non-coinbase transaction in
// blocks from through to (inclusive).
//
// Each transaction is fetched as raw hex and analyzed. When that fails, for
// example on SegWit serializations, and src can render input scripts as
// ASM, r and s are read from the ASM text instead.
//
// A failure to list a block's transactions ends the walk; the partial
// result is returned with the error. Per-transaction failures are recorded
// in the result and do not stop the walk.
func WalkBlocks(ctx context.Context, src source.Source, from, to int64, opts Options) (*WalkResult, error) {
	if to < from {
		return nil, fmt.Errorf("invalid block range %d..%d", from, to)
	}
	log := opts.logger()
	out := &WalkResult{}

	for height := from; height <= to; height++ {
		txids, err := src.BlockTxIDs(ctx, height)
		if err != nil {
			return out, fmt.Errorf("block %d: %w", height, err)
		}
		if len(txids) > 0 {
			// The first transaction of a block is its coinbase.
			txids = txids[1:]
		}

		walked := make([]walkedTx, len(txids))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.workers())
		for i, id := range txids {
			i, id := i, id
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				walked[i] = walkTx(gctx, src, id, opts)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return out, err
		}

		for _, w := range walked {
			if w.report != nil {
				out.Reports = append(out.Reports, w.report)
			}
			out.Entries = append(out.Entries, w.entries...)
			if w.failure != nil {
				out.Failures = append(out.Failures, *w.failure)
			}
		}
		log.Info("block processed",
			zap.Int64("height", height),
			zap.Int("transactions", len(txids)),
			zap.Int("signatures", len(out.Entries)))
	}
	return out, nil
}

func walkTx(ctx context.Context, src source.Source, txid string, opts Options) walkedTx {
	rawHex, err := src.RawTransaction(ctx, txid)
	if err != nil {
		return walkedTx{failure: &TxFailure{TxID: txid, Err: err}}
	}

	report, err := AnalyzeTransaction(rawHex, opts)
	if err == nil {
		return walkedTx{report: report, entries: DumpEntries(report)}
	}

	asmSrc, ok := src.(source.ScriptSigSource)
	if !ok {
		return walkedTx{failure: &TxFailure{TxID: txid, Err: err}}
	}
	entries, asmErr := asmEntries(ctx, asmSrc, txid)
	if asmErr != nil {
		if !errors.Is(asmErr, errors.ErrUnsupported) {
			err = errors.Join(err, asmErr)
		}
		return walkedTx{failure: &TxFailure{TxID: txid, Err: err}}
	}
	return walkedTx{entries: entries}
}

func asmEntries(ctx context.Context, src source.ScriptSigSource, txid string) ([]scan.DumpEntry, error) {
	scripts, err := src.ScriptSigASM(ctx, txid)
	if err != nil {
		return nil, err
	}
	var entries []scan.DumpEntry
	for _, asm := range scripts {
		if asm == "" {
			continue
		}
		sig, err := crypto.ParseScriptSigASM(asm)
		if err != nil {
			// Non-signature scripts (P2SH redeem pushes, native SegWit) are
			// expected here.
			continue
		}
		entries = append(entries, scan.DumpEntry{
			TxID:   txid,
			R:      formatSized(sig.Signature.R, sig.Signature.RLen),
			S:      formatSized(sig.Signature.S, sig.Signature.SLen),
			PubKey: fmt.Sprintf("%x", sig.PublicKey),
		})
	}
	return entries, nil
}

// DumpEntries converts a report into dump lines.
func DumpEntries(report *Report) []scan.DumpEntry {
	entries := make([]scan.DumpEntry, len(report.Inputs))
	for i, in := range report.Inputs {
		entries[i] = scan.DumpEntry{
			TxID:   report.TxID,
			R:      in.R,
			S:      in.S,
			Z:      in.Z,
			PubKey: in.PublicKey,
		}
	}
	return entries
}

// ReportsFromDump regroups dump lines into reports so they can be fed to
// FindAndRecover. Lines without z are kept but never paired.
func ReportsFromDump(entries []scan.DumpEntry) []*Report {
	var (
		reports []*Report
		byTx    = make(map[string]*Report)
	)
	for _, e := range entries {
		report := byTx[e.TxID]
		if report == nil {
			report = &Report{TxID: e.TxID}
			byTx[e.TxID] = report
			reports = append(reports, report)
		}
		report.Inputs = append(report.Inputs, InputReport{
			Index:     len(report.Inputs),
			R:         e.R,
			S:         e.S,
			Z:         e.Z,
			PublicKey: e.PubKey,
		})
	}
	return reports
}
