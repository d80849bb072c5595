package main

import (
	"bufio"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"strings"
	"time"

	flags "github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"github.com/suffix-labs/btc-rsz/pkg/api"
	"github.com/suffix-labs/btc-rsz/pkg/crypto"
	"github.com/suffix-labs/btc-rsz/pkg/rsz"
	"github.com/suffix-labs/btc-rsz/pkg/scan"
	"github.com/suffix-labs/btc-rsz/pkg/signer"
	"github.com/suffix-labs/btc-rsz/pkg/source"
)

func addCommands(parser *flags.Parser) {
	commands := []struct {
		name, short, long string
		data              any
	}{
		{"analyze", "Extract r, s, z from raw transactions",
			"Parses legacy transactions given as hex arguments, read from --file, or fetched with --txid, prints every input's signing tuple and recovers keys from reused nonces.",
			&analyzeCommand{app: &cli}},
		{"reuse-r", "Recover a key from two signatures sharing r",
			"Computes d = (z1·s2 − z2·s1)·(r·(s1 − s2))⁻¹ mod n. Values are hex; prefix decimal values with dec:.",
			&reuseRCommand{app: &cli}},
		{"known-k", "Recover a key from a signature and its nonce",
			"Computes d = (s·k − z)·r⁻¹ mod n. Values are hex; prefix decimal values with dec:.",
			&knownKCommand{app: &cli}},
		{"calc-k", "Compute a nonce value",
			"Without --d computes the check value (s·r + z)·r⁻¹ mod n; with --d derives the signing nonce (z + r·d)·s⁻¹ mod n. Values are hex; prefix decimal values with dec:.",
			&calcKCommand{app: &cli}},
		{"scan", "Find repeated r values in dump files",
			"Walks a directory tree and reports tokens matching --pattern that occur at least --min-count times.",
			&scanCommand{app: &cli}},
		{"walk", "Dump signatures from a block range",
			"Fetches every transaction in blocks --from through --to, writes a signature dump and recovers keys from reused nonces.",
			&walkCommand{app: &cli}},
		{"recover-dump", "Recover keys from signature dump files",
			"Reads dump files written by walk and recovers keys from every pair of signatures sharing r.",
			&recoverDumpCommand{app: &cli}},
		{"demo", "Sign a transaction with a reused nonce and recover the key",
			"Builds a two-input transaction signed with the same nonce, then analyzes it.",
			&demoCommand{app: &cli}},
		{"version", "Show version information", "Show version information.",
			&versionCommand{app: &cli}},
	}
	for _, c := range commands {
		if _, err := parser.AddCommand(c.name, c.short, c.long, c.data); err != nil {
			panic(err)
		}
	}
}

// SourceOptions select and configure the remote data source.
type SourceOptions struct {
	Source        string        `long:"source" default:"esplora" choice:"esplora" choice:"rpc" description:"remote data source"`
	EsploraURL    string        `long:"esplora-url" default:"https://blockstream.info/api" description:"Esplora API base URL"`
	RPCURL        string        `long:"rpc-url" default:"http://127.0.0.1:8332" description:"bitcoind RPC URL"`
	RPCUser       string        `long:"rpc-user" description:"bitcoind RPC user"`
	RPCPass       string        `long:"rpc-pass" default-mask:"-" description:"bitcoind RPC password"`
	CacheDir      string        `long:"cache-dir" description:"cache raw transactions in this LevelDB directory"`
	RetryAttempts int           `long:"retry-attempts" default:"3" description:"attempts per request"`
	RetryBackoff  time.Duration `long:"retry-backoff" default:"5s" description:"delay before the first retry; doubles per attempt"`
	Timeout       time.Duration `long:"timeout" default:"30s" description:"HTTP timeout per request"`
}

// open builds the configured source. release closes the cache, if any.
func (o *SourceOptions) open(a *app) (src source.Source, release func(), err error) {
	client := &http.Client{Timeout: o.Timeout}
	switch o.Source {
	case "rpc":
		src = source.NewRPC(source.RPCConfig{URL: o.RPCURL, User: o.RPCUser, Password: o.RPCPass}, client)
	default:
		src = source.NewEsplora(o.EsploraURL, client)
	}

	policy := source.DefaultRetryPolicy()
	policy.MaxAttempts = o.RetryAttempts
	policy.InitialBackoff = o.RetryBackoff
	src = source.WithRetry(src, policy, source.WithLogger(a.log), source.WithMetrics(a.src))

	release = func() {}
	if o.CacheDir != "" {
		cache, err := source.OpenCache(o.CacheDir, src, source.WithLogger(a.log), source.WithMetrics(a.src))
		if err != nil {
			return nil, nil, fmt.Errorf("opening cache: %w", err)
		}
		src = cache
		release = func() {
			if err := cache.Close(); err != nil {
				a.log.Warn("closing cache", zap.Error(err))
			}
		}
	}
	return src, release, nil
}

// ============================================================================
// analyze
// ============================================================================

type analyzeCommand struct {
	SourceOptions
	TxIDs []string `long:"txid" description:"fetch the transaction with this id; may be repeated"`
	File  string   `short:"f" long:"file" description:"read raw transaction hex from this file, one per line"`

	app *app
}

func (c *analyzeCommand) Execute(args []string) error {
	a := c.app
	ctx, cancel := a.context()
	defer cancel()

	hexes := append([]string(nil), args...)
	if c.File != "" {
		lines, err := readLines(c.File)
		if err != nil {
			return err
		}
		hexes = append(hexes, lines...)
	}
	if len(c.TxIDs) > 0 {
		src, closeSrc, err := c.open(a)
		if err != nil {
			return err
		}
		defer closeSrc()
		for _, id := range c.TxIDs {
			rawHex, err := src.RawTransaction(ctx, id)
			if err != nil {
				return err
			}
			hexes = append(hexes, rawHex)
		}
	}
	if len(hexes) == 0 {
		return errors.New("no transactions given")
	}

	opts := a.apiOptions()
	results := api.AnalyzeBatch(ctx, hexes, opts)
	for _, res := range results {
		if res.Err != nil {
			a.log.Warn("transaction skipped", zap.Int("index", res.Index), zap.Error(res.Err))
		}
	}
	reports := api.Reports(results)
	if len(reports) == 0 {
		return fmt.Errorf("no transaction could be analyzed: %w", results[0].Err)
	}

	keys, err := api.FindAndRecover(ctx, opts, reports...)
	if err != nil {
		a.log.Warn("some recoveries failed", zap.Error(err))
	}
	return a.printAnalysis(reports, keys)
}

// ============================================================================
// reuse-r / known-k / calc-k
// ============================================================================

type reuseRCommand struct {
	R         string `long:"r" required:"true" description:"shared r"`
	S1        string `long:"s1" required:"true" description:"s of the first signature"`
	Z1        string `long:"z1" required:"true" description:"z of the first signature"`
	S2        string `long:"s2" required:"true" description:"s of the second signature"`
	Z2        string `long:"z2" required:"true" description:"z of the second signature"`
	WithNonce bool   `long:"with-nonce" description:"recover the nonce k first and report it"`

	app *app
}

func (c *reuseRCommand) Execute(args []string) error {
	a := c.app
	if c.WithNonce {
		d, k, err := api.RecoverReusedRWithNonce(c.R, c.S1, c.Z1, c.S2, c.Z2, a.curve)
		if err != nil {
			return err
		}
		return a.printKey(d, k)
	}
	d, err := api.RecoverReusedR(c.R, c.S1, c.Z1, c.S2, c.Z2, a.curve)
	if err != nil {
		return err
	}
	return a.printKey(d, "")
}

type knownKCommand struct {
	R string `long:"r" required:"true" description:"signature r"`
	S string `long:"s" required:"true" description:"signature s"`
	Z string `long:"z" required:"true" description:"message hash z"`
	K string `long:"k" required:"true" description:"known nonce k"`

	app *app
}

func (c *knownKCommand) Execute(args []string) error {
	d, err := api.RecoverKnownNonce(c.R, c.S, c.Z, c.K, c.app.curve)
	if err != nil {
		return err
	}
	k, err := rsz.ParseScalar(c.K)
	if err != nil {
		return err
	}
	return c.app.printKey(d, rsz.FormatScalar(k))
}

type calcKCommand struct {
	R string `long:"r" required:"true" description:"signature r"`
	S string `long:"s" required:"true" description:"signature s"`
	Z string `long:"z" required:"true" description:"message hash z"`
	D string `long:"d" description:"private key; derives the signing nonce"`

	app *app
}

func (c *calcKCommand) Execute(args []string) error {
	var (
		k   string
		err error
	)
	if c.D != "" {
		k, err = api.DeriveNonce(c.R, c.S, c.Z, c.D, c.app.curve)
	} else {
		k, err = api.ComputeNonce(c.R, c.S, c.Z, c.app.curve)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.app.stdout, "k = %s\n", k)
	return nil
}

// ============================================================================
// scan
// ============================================================================

type scanCommand struct {
	Pattern  string `long:"pattern" description:"regular expression; the first group, if any, is the token (default: R: followed by 63-65 characters)"`
	MinCount int    `long:"min-count" default:"2" description:"occurrences that make a duplicate"`
	Out      string `short:"o" long:"out" description:"write the report to this file instead of stdout"`

	Args struct {
		Root string `positional-arg-name:"dir" required:"true"`
	} `positional-args:"yes"`

	app *app
}

func (c *scanCommand) Execute(args []string) error {
	a := c.app
	ctx, cancel := a.context()
	defer cancel()

	opts := []scan.Option{
		scan.WithMinCount(c.MinCount),
		scan.WithWorkers(a.opts.Workers),
		scan.WithLogger(a.log),
	}
	if c.Out != "" {
		opts = append(opts, scan.WithExclude(c.Out))
	}
	scanner, err := scan.NewScanner(c.Pattern, opts...)
	if err != nil {
		return err
	}

	start := time.Now()
	dups, err := scanner.Scan(ctx, c.Args.Root)
	if err != nil {
		return err
	}
	a.log.Info("scan complete",
		zap.String("root", c.Args.Root),
		zap.Int("duplicates", len(dups)),
		zap.Duration("elapsed", time.Since(start)))

	return a.writeTo(c.Out, func(w *bufio.Writer) error {
		if a.opts.JSON {
			return writeJSON(w, dups)
		}
		return scan.WriteReport(w, dups)
	})
}

// ============================================================================
// walk / recover-dump
// ============================================================================

type walkCommand struct {
	SourceOptions
	From int64  `long:"from" required:"true" description:"first block height"`
	To   int64  `long:"to" description:"last block height (default: --from)"`
	Out  string `short:"o" long:"out" description:"write the signature dump to this file instead of stdout"`

	app *app
}

func (c *walkCommand) Execute(args []string) error {
	a := c.app
	ctx, cancel := a.context()
	defer cancel()

	to := c.To
	if to == 0 {
		to = c.From
	}
	src, closeSrc, err := c.open(a)
	if err != nil {
		return err
	}
	defer closeSrc()

	opts := a.apiOptions()
	res, walkErr := api.WalkBlocks(ctx, src, c.From, to, opts)
	if res == nil {
		return walkErr
	}
	for _, f := range res.Failures {
		a.log.Debug("transaction skipped", zap.String("txid", f.TxID), zap.Error(f.Err))
	}

	// Keep whatever was collected before a failing block.
	if err := a.writeTo(c.Out, func(w *bufio.Writer) error {
		return scan.WriteDump(w, res.Entries)
	}); err != nil {
		return err
	}

	keys, err := api.FindAndRecover(ctx, opts, res.Reports...)
	if err != nil {
		a.log.Warn("some recoveries failed", zap.Error(err))
	}
	for _, key := range keys {
		a.log.Info("private key recovered",
			zap.String("address", key.Address),
			zap.Bool("verified", key.Verified),
			zap.Int("inputs", len(key.Inputs)))
	}
	if c.Out != "" {
		if err := a.printKeys(keys); err != nil {
			return err
		}
	}
	return walkErr
}

type recoverDumpCommand struct {
	Args struct {
		Files []string `positional-arg-name:"dump" required:"1"`
	} `positional-args:"yes"`

	app *app
}

func (c *recoverDumpCommand) Execute(args []string) error {
	a := c.app
	ctx, cancel := a.context()
	defer cancel()

	var entries []scan.DumpEntry
	for _, path := range c.Args.Files {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		parsed, err := scan.ParseDump(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		entries = append(entries, parsed...)
	}
	a.log.Info("dump loaded", zap.Int("signatures", len(entries)))

	keys, err := api.FindAndRecover(ctx, a.apiOptions(), api.ReportsFromDump(entries)...)
	if err != nil {
		a.log.Warn("some recoveries failed", zap.Error(err))
	}
	return a.printKeys(keys)
}

// ============================================================================
// demo / version
// ============================================================================

type demoCommand struct {
	D string `long:"d" default:"112233445566778899aabbccddeeff00112233445566778899aabbccddeeff01" description:"private key to sign with"`
	K string `long:"k" default:"a3f1c0dea3f1c0dea3f1c0dea3f1c0dea3f1c0dea3f1c0dea3f1c0dea3f1c0de" description:"nonce reused for both inputs"`

	app *app
}

func (c *demoCommand) Execute(args []string) error {
	a := c.app
	d, err := rsz.ParseScalar(c.D)
	if err != nil {
		return fmt.Errorf("invalid d: %w", err)
	}
	k, err := rsz.ParseScalar(c.K)
	if err != nil {
		return fmt.Errorf("invalid k: %w", err)
	}
	rawHex, err := buildDemoTx(d, k)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Transaction: %s\n\n", rawHex)

	report, err := api.AnalyzeTransaction(rawHex, a.apiOptions())
	if err != nil {
		return err
	}
	ctx, cancel := a.context()
	defer cancel()
	keys, err := api.FindAndRecover(ctx, a.apiOptions(), report)
	if err != nil {
		return err
	}
	return a.printAnalysis([]*api.Report{report}, keys)
}

// buildDemoTx signs two inputs of a one-output transaction with key d and
// the same nonce k.
func buildDemoTx(d, k *big.Int) (string, error) {
	key, err := crypto.PrivateKeyFromScalar(d)
	if err != nil {
		return "", err
	}
	tx := signer.NewTx(1, 0)
	tx.AddInput(crypto.DoubleSHA256([]byte("demo-0")), 0, signer.DefaultSequence)
	tx.AddInput(crypto.DoubleSHA256([]byte("demo-1")), 1, signer.DefaultSequence)
	tx.AddOutput(50000, crypto.P2PKHScript(key.PublicKey().SerializeCompressed()))

	s := signer.NewSigner(tx)
	for i := range tx.Inputs {
		if _, err := s.SignInput(i, key, k); err != nil {
			return "", fmt.Errorf("signing input %d: %w", i, err)
		}
	}
	return fmt.Sprintf("%x", s.Finish().Serialize()), nil
}

type versionCommand struct {
	app *app
}

func (c *versionCommand) Execute(args []string) error {
	fmt.Fprintf(c.app.stdout, "btc-rsz version %s\n", version)
	return nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" && !strings.HasPrefix(line, "#") {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}
