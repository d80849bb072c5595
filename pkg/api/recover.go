package api

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"github.com/suffix-labs/btc-rsz/pkg/crypto"
	"github.com/suffix-labs/btc-rsz/pkg/recovery"
	"github.com/suffix-labs/btc-rsz/pkg/rsz"
)

// InputRef points at one input of an analyzed transaction.
type InputRef struct {
	TxID  string
	Index int
}

// RecoveredKey is a private key exposed by nonce reuse.
type RecoveredKey struct {
	D       string // 64 hex digits
	K       string // Nonce of the first pair that produced D
	WIF     string
	Address string // P2PKH address of the key, in the encoding its inputs used

	// Inputs lists every input whose pairing produced this key.
	Inputs []InputRef

	// Verified is set when D matches the public key pushed by the inputs.
	// Without a public key, D is a candidate only.
	Verified bool
}

type signedInput struct {
	ref    InputRef
	tuple  rsz.SigningTuple
	pubKey []byte
}

// ============================================================================
// API Function 6: FindAndRecover
// ============================================================================

// FindAndRecover looks for r values shared between any two inputs of the
// given reports and recovers the private key behind each such pair.
//
// This function:
//  1. Collects the (r, s, z) tuple of every input with a known z
//  2. Groups tuples by r
//  3. Runs the reused-nonce recovery on every pair in parallel, confirming
//     each result against the pushed public key
//  4. Merges pairs that recover the same key
//
// Pairs whose inputs push different public keys are skipped: a shared r
// under two keys leaks nothing by itself.
//
// Returns:
//   - Recovered keys, in order of first discovery
//   - A joined error of the pairs that failed; keys found by other pairs
//     are still returned
func FindAndRecover(ctx context.Context, opts Options, reports ...*Report) ([]RecoveredKey, error) {
	curve := opts.curve()
	log := opts.logger()

	inputs, err := collectInputs(reports, curve)
	if err != nil {
		return nil, err
	}
	tuples := make([]rsz.SigningTuple, len(inputs))
	for i, in := range inputs {
		tuples[i] = in.tuple
	}

	var (
		jobs  []recovery.Job
		pairs []recovery.Pair
	)
	for _, p := range recovery.FindReusedNonces(tuples) {
		a, b := inputs[p.A], inputs[p.B]
		if len(a.pubKey) > 0 && len(b.pubKey) > 0 && !samePublicKey(a.pubKey, b.pubKey) {
			log.Debug("shared r under different keys",
				zap.String("r", rsz.FormatScalar(p.R)),
				zap.String("a", fmt.Sprintf("%s:%d", a.ref.TxID, a.ref.Index)),
				zap.String("b", fmt.Sprintf("%s:%d", b.ref.TxID, b.ref.Index)))
			continue
		}
		pub := a.pubKey
		if len(pub) == 0 {
			pub = b.pubKey
		}
		jobs = append(jobs, recovery.Job{
			ID:        fmt.Sprintf("%s:%d/%s:%d", a.ref.TxID, a.ref.Index, b.ref.TxID, b.ref.Index),
			A:         a.tuple,
			B:         b.tuple,
			PublicKey: pub,
		})
		pairs = append(pairs, p)
	}
	if len(jobs) == 0 {
		return nil, nil
	}

	results := recovery.RecoverBatch(ctx, jobs, recovery.BatchConfig{
		Workers: opts.workers(),
		Curve:   curve,
		Logger:  log,
		Metrics: opts.Metrics,
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		keys  []RecoveredKey
		index = make(map[string]int)
		errs  []error
	)
	for i, res := range results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("pair %s: %w", res.ID, res.Err))
			continue
		}
		a, b := inputs[pairs[i].A], inputs[pairs[i].B]
		d := rsz.FormatScalar(res.Recovered.D)

		at, ok := index[d]
		if !ok {
			key := RecoveredKey{
				D:        d,
				K:        rsz.FormatScalar(res.Recovered.K),
				Verified: res.Recovered.Verified,
			}
			key.WIF, key.Address = encodeKey(res.Recovered.D, jobs[i].PublicKey, opts.Testnet)
			keys = append(keys, key)
			at = len(keys) - 1
			index[d] = at
		}
		key := &keys[at]
		key.Verified = key.Verified || res.Recovered.Verified
		key.Inputs = appendRef(key.Inputs, a.ref)
		key.Inputs = appendRef(key.Inputs, b.ref)
	}
	return keys, errors.Join(errs...)
}

// collectInputs converts every input with a known z into a tuple.
func collectInputs(reports []*Report, curve rsz.CurveParams) ([]signedInput, error) {
	var out []signedInput
	for _, report := range reports {
		if report == nil {
			continue
		}
		for _, in := range report.Inputs {
			if in.Z == "" {
				continue
			}
			ref := InputRef{TxID: report.TxID, Index: in.Index}
			r, err := parseHex("r", in.R)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: %w", ref.TxID, ref.Index, err)
			}
			s, err := parseHex("s", in.S)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: %w", ref.TxID, ref.Index, err)
			}
			z, err := parseHex("z", in.Z)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: %w", ref.TxID, ref.Index, err)
			}
			pub, err := hex.DecodeString(in.PublicKey)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: invalid public key: %w", ref.TxID, ref.Index, err)
			}
			out = append(out, signedInput{
				ref:    ref,
				tuple:  rsz.NewSigningTuple(r, s, z, curve),
				pubKey: pub,
			})
		}
	}
	return out, nil
}

// samePublicKey compares two SEC keys regardless of their encoding.
func samePublicKey(a, b []byte) bool {
	if bytes.Equal(a, b) {
		return true
	}
	pa, err := crypto.ParsePublicKey(a)
	if err != nil {
		return false
	}
	pb, err := crypto.ParsePublicKey(b)
	if err != nil {
		return false
	}
	return bytes.Equal(pa.SerializeCompressed(), pb.SerializeCompressed())
}

// encodeKey returns the WIF and P2PKH address of d. The compression flag
// follows pubKey; without one the compressed form is used.
func encodeKey(d *big.Int, pubKey []byte, testnet bool) (wif, address string) {
	key, err := crypto.PrivateKeyFromScalar(d)
	if err != nil {
		return "", ""
	}
	compressed := len(pubKey) != 65
	pub := key.PublicKey().SerializeCompressed()
	if !compressed {
		pub = key.PublicKey().SerializeUncompressed()
	}
	return key.WIF(compressed, testnet), crypto.P2PKHAddress(pub, testnet)
}

func appendRef(refs []InputRef, ref InputRef) []InputRef {
	for _, r := range refs {
		if r == ref {
			return refs
		}
	}
	return append(refs, ref)
}

func parseHex(name, text string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(text, 16)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid %s: %w: %q", name, rsz.ErrInvalidScalar, text)
	}
	return v, nil
}
