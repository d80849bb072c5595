package recovery

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/suffix-labs/btc-rsz/pkg/rsz"
)

// Job is one independent recovery: two tuples believed to share a nonce.
type Job struct {
	ID string
	A  rsz.SigningTuple
	B  rsz.SigningTuple

	// PublicKey, when set, is used to confirm the recovered key and to
	// resolve low-S normalisation.
	PublicKey []byte
}

// Result is the outcome of one Job. Exactly one of Recovered and Err is set.
type Result struct {
	ID        string
	Recovered *Recovered
	Err       error
}

// BatchConfig configures RecoverBatch.
type BatchConfig struct {
	Workers int // Defaults to 1
	Curve   rsz.CurveParams
	Logger  *zap.Logger // Defaults to a no-op logger
	Metrics *Metrics    // Optional
}

// RecoverBatch evaluates jobs concurrently on at most cfg.Workers
// goroutines. A failing job never affects the others; results are returned
// in job order. When ctx is cancelled, jobs not yet started are reported
// with ctx.Err().
func RecoverBatch(ctx context.Context, jobs []Job, cfg BatchConfig) []Result {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Curve.N == nil {
		cfg.Curve = rsz.Secp256k1()
	}

	results := make([]Result, len(jobs))
	var g errgroup.Group
	g.SetLimit(workers)

	for i := range jobs {
		if err := ctx.Err(); err != nil {
			results[i] = Result{ID: jobs[i].ID, Err: err}
			cfg.observe(OutcomeCancelled, 0)
			continue
		}

		i := i
		g.Go(func() error {
			results[i] = cfg.run(jobs[i], log)
			return nil
		})
	}

	// Workers never return errors; failures are carried per result.
	_ = g.Wait()

	log.Debug("recovery batch finished", zap.Int("jobs", len(jobs)), zap.Int("workers", workers))
	return results
}

func (cfg BatchConfig) run(job Job, log *zap.Logger) Result {
	start := time.Now()

	var (
		rec *Recovered
		err error
	)
	if len(job.PublicKey) > 0 {
		rec, err = ReusedRVerified(job.A, job.B, job.PublicKey, cfg.Curve)
	} else {
		rec, err = ReusedRWithNonce(job.A, job.B, cfg.Curve)
	}
	elapsed := time.Since(start)

	switch {
	case err != nil:
		log.Warn("recovery failed", zap.String("job", job.ID), zap.Error(err))
		cfg.observe(OutcomeFailed, elapsed)
		return Result{ID: job.ID, Err: err}
	case rec.Verified:
		log.Info("private key recovered", zap.String("job", job.ID), zap.Bool("verified", true))
		cfg.observe(OutcomeVerified, elapsed)
	default:
		log.Info("private key candidate", zap.String("job", job.ID), zap.Bool("verified", false))
		cfg.observe(OutcomeUnverified, elapsed)
	}
	return Result{ID: job.ID, Recovered: rec}
}

func (cfg BatchConfig) observe(outcome string, elapsed time.Duration) {
	if cfg.Metrics == nil {
		return
	}
	cfg.Metrics.JobCount.WithLabelValues(outcome).Inc()
	if elapsed > 0 {
		cfg.Metrics.JobLatency.Observe(elapsed.Seconds())
	}
}
