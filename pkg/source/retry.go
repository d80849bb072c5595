package source

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/suffix-labs/btc-rsz/pkg/rsz"
)

// RetryPolicy bounds how often and how patiently a failed request is
// repeated. Delays grow geometrically from InitialBackoff by Multiplier and
// are capped at MaxBackoff.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultRetryPolicy makes three attempts, waiting five seconds before the
// second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 5 * time.Second,
		MaxBackoff:     time.Minute,
		Multiplier:     2,
	}
}

// Backoff returns the delay after the given failed attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 || p.InitialBackoff <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.InitialBackoff)
	for i := 1; i < attempt; i++ {
		d *= mult
		if p.MaxBackoff > 0 && d >= float64(p.MaxBackoff) {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && time.Duration(d) > p.MaxBackoff {
		return p.MaxBackoff
	}
	return time.Duration(d)
}

// retryable reports whether err may clear up on a later attempt.
func retryable(err error) bool {
	if errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, errors.ErrUnsupported) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Temporary()
	}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return false
	}
	return true
}

// options are shared by the Source decorators.
type options struct {
	log     *zap.Logger
	metrics *Metrics
}

// Option configures a Source decorator.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithMetrics records requests in m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func newOptions(opts []Option) options {
	o := options{log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Retry wraps a Source and repeats failed requests according to a
// RetryPolicy. Errors are returned as *rsz.SourceError.
type Retry struct {
	src    Source
	policy RetryPolicy
	options

	sleep func(ctx context.Context, d time.Duration) error
}

// WithRetry wraps src with policy.
func WithRetry(src Source, policy RetryPolicy, opts ...Option) *Retry {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Retry{
		src:     src,
		policy:  policy,
		options: newOptions(opts),
		sleep:   sleepContext,
	}
}

// RawTransaction implements Source.
func (r *Retry) RawTransaction(ctx context.Context, txid string) (string, error) {
	var out string
	err := r.do(ctx, OpRawTransaction, txid, func(ctx context.Context) error {
		var err error
		out, err = r.src.RawTransaction(ctx, txid)
		return err
	})
	return out, err
}

// BlockTxIDs implements Source.
func (r *Retry) BlockTxIDs(ctx context.Context, height int64) ([]string, error) {
	var out []string
	err := r.do(ctx, OpBlockTxIDs, strconv.FormatInt(height, 10), func(ctx context.Context) error {
		var err error
		out, err = r.src.BlockTxIDs(ctx, height)
		return err
	})
	return out, err
}

// ScriptSigASM implements ScriptSigSource when the wrapped source does.
func (r *Retry) ScriptSigASM(ctx context.Context, txid string) ([]string, error) {
	inner, ok := r.src.(ScriptSigSource)
	if !ok {
		return nil, errors.ErrUnsupported
	}
	var out []string
	err := r.do(ctx, OpScriptSigASM, txid, func(ctx context.Context) error {
		var err error
		out, err = inner.ScriptSigASM(ctx, txid)
		return err
	})
	return out, err
}

func (r *Retry) do(ctx context.Context, op, key string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		start := time.Now()
		err := fn(ctx)
		r.observe(op, err, attempt, time.Since(start))
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) || attempt == r.policy.MaxAttempts {
			return &rsz.SourceError{Op: op, Key: key, Attempts: attempt, Cause: lastErr}
		}

		delay := r.policy.Backoff(attempt)
		r.log.Warn("source request failed, retrying",
			zap.String("op", op),
			zap.String("key", key),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))
		if err := r.sleep(ctx, delay); err != nil {
			return &rsz.SourceError{Op: op, Key: key, Attempts: attempt, Cause: err}
		}
	}
	return &rsz.SourceError{Op: op, Key: key, Attempts: r.policy.MaxAttempts, Cause: lastErr}
}

func (r *Retry) observe(op string, err error, attempt int, elapsed time.Duration) {
	if r.metrics == nil {
		return
	}
	outcome := OutcomeOK
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		outcome = OutcomeNotFound
	case retryable(err) && attempt < r.policy.MaxAttempts:
		outcome = OutcomeRetry
	default:
		outcome = OutcomeFailed
	}
	r.metrics.RequestCount.WithLabelValues(op, outcome).Inc()
	r.metrics.RequestLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
