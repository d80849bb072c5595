// btc-rsz CLI - ECDSA signature analysis for legacy Bitcoin transactions
//
// This CLI extracts (r, s, z) tuples from legacy transactions, finds
// signatures that reuse a nonce, and recovers the private keys they expose.
//
// Example usage:
//
//	# Extract r, s, z and public keys from a raw transaction
//	btc-rsz analyze 0100000002...
//
//	# Fetch a transaction by id and look for reused nonces
//	btc-rsz analyze --txid 9ec4bc49e828d924af1d1029cacf709431abbde46d59554b62bc270e3b29c4b1
//
//	# Recover a key from two signatures sharing r
//	btc-rsz reuse-r --r <r> --s1 <s1> --z1 <z1> --s2 <s2> --z2 <z2>
//
//	# Dump signatures from a block range, then look for repeated r values
//	btc-rsz walk --from 250000 --to 250010 --out dumps/250000.txt
//	btc-rsz scan dumps
//	btc-rsz recover-dump dumps/250000.txt
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/suffix-labs/btc-rsz/pkg/api"
	"github.com/suffix-labs/btc-rsz/pkg/recovery"
	"github.com/suffix-labs/btc-rsz/pkg/rsz"
	"github.com/suffix-labs/btc-rsz/pkg/source"
)

const version = "0.1.0"

// globalOptions apply to every command.
type globalOptions struct {
	CurveOrder  string `long:"curve-order" description:"curve order n in hex (default: secp256k1)"`
	LogLevel    string `long:"log-level" default:"info" description:"log level (debug, info, warn, error)"`
	StrictDER   bool   `long:"strict-der" description:"reject non-canonical DER signatures"`
	Workers     int    `short:"w" long:"workers" default:"4" description:"number of concurrent workers"`
	Testnet     bool   `long:"testnet" description:"encode recovered keys and addresses for testnet"`
	JSON        bool   `long:"json" description:"write results as JSON"`
	MetricsAddr string `long:"metrics-addr" description:"serve Prometheus metrics on this address (e.g. :9100)"`
}

// app is the state shared by commands once global options are parsed.
type app struct {
	opts    globalOptions
	log     *zap.Logger
	curve   rsz.CurveParams
	reg     *prometheus.Registry
	rec     *recovery.Metrics
	src     *source.Metrics
	stdout  io.Writer
	create  func(path string) (io.WriteCloser, error) // os.Create when nil
	cleanup []func()
}

var cli app

func main() {
	parser := flags.NewParser(&cli.opts, flags.Default)
	parser.Usage = "[OPTIONS] <command>"
	addCommands(parser)

	// Commands run from parser.Parse via Execute; shared setup happens
	// once the global options are known.
	parser.CommandHandler = func(cmd flags.Commander, args []string) error {
		if cmd == nil {
			return nil
		}
		if err := cli.setup(); err != nil {
			return err
		}
		defer cli.close()
		return cmd.Execute(args)
	}

	// flags.PrintErrors has already reported err, including errors
	// returned by commands.
	if _, err := parser.Parse(); err != nil {
		var e *flags.Error
		if errors.As(err, &e) && e.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

func (a *app) setup() error {
	a.stdout = os.Stdout

	level, err := zap.ParseAtomicLevel(a.opts.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	if level.Level() == zap.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = level
	a.log, err = cfg.Build()
	if err != nil {
		return err
	}
	a.cleanup = append(a.cleanup, func() { _ = a.log.Sync() })

	a.curve, err = rsz.ParseCurveOrder(a.opts.CurveOrder)
	if err != nil {
		return err
	}

	a.reg = prometheus.NewRegistry()
	a.rec = recovery.NewMetrics()
	a.src = source.NewMetrics()
	if err := a.rec.Register(a.reg); err != nil {
		return err
	}
	if err := a.src.Register(a.reg); err != nil {
		return err
	}
	if a.opts.MetricsAddr != "" {
		a.serveMetrics()
	}
	return nil
}

func (a *app) serveMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              a.opts.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server failed", zap.Error(err))
		}
	}()
	a.log.Info("serving metrics", zap.String("addr", a.opts.MetricsAddr))
	a.cleanup = append(a.cleanup, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
}

func (a *app) close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
}

// apiOptions maps the global options onto the library options.
func (a *app) apiOptions() api.Options {
	return api.Options{
		Curve:     a.curve,
		StrictDER: a.opts.StrictDER,
		Testnet:   a.opts.Testnet,
		Workers:   a.opts.Workers,
		Logger:    a.log,
		Metrics:   a.rec,
	}
}

// context returns a context cancelled on SIGINT or SIGTERM.
func (a *app) context() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
