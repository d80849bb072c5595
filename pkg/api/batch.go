package api

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BatchResult is the outcome for one transaction of a batch. Exactly one of
// Report and Err is set.
type BatchResult struct {
	Index  int
	Report *Report
	Err    error
}

// ============================================================================
// API Function 7: AnalyzeBatch
// ============================================================================

// AnalyzeBatch runs AnalyzeTransaction over rawHexes on opts.Workers
// goroutines.
//
// Transactions are independent: a malformed or SegWit transaction is
// reported in its own result and never stops the rest. Results are in input
// order. Once ctx is cancelled the remaining transactions are reported with
// ctx.Err().
func AnalyzeBatch(ctx context.Context, rawHexes []string, opts Options) []BatchResult {
	log := opts.logger()
	results := make([]BatchResult, len(rawHexes))

	var g errgroup.Group
	g.SetLimit(opts.workers())
	for i, rawHex := range rawHexes {
		if err := ctx.Err(); err != nil {
			results[i] = BatchResult{Index: i, Err: err}
			continue
		}
		i, rawHex := i, rawHex
		g.Go(func() error {
			report, err := AnalyzeTransaction(rawHex, opts)
			if err != nil {
				log.Debug("transaction skipped", zap.Int("index", i), zap.Error(err))
			}
			results[i] = BatchResult{Index: i, Report: report, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Reports returns the successful reports of a batch, in order.
func Reports(results []BatchResult) []*Report {
	var out []*Report
	for _, res := range results {
		if res.Report != nil {
			out = append(out, res.Report)
		}
	}
	return out
}
