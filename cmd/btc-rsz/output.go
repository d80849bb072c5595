package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/suffix-labs/btc-rsz/pkg/api"
	"github.com/suffix-labs/btc-rsz/pkg/crypto"
	"github.com/suffix-labs/btc-rsz/pkg/rsz"
)

type jsonKey struct {
	D        string         `json:"d"`
	K        string         `json:"k,omitempty"`
	WIF      string         `json:"wif,omitempty"`
	Address  string         `json:"address,omitempty"`
	Verified bool           `json:"verified"`
	Inputs   []api.InputRef `json:"inputs,omitempty"`
}

func toJSONKey(k api.RecoveredKey) jsonKey {
	return jsonKey{D: k.D, K: k.K, WIF: k.WIF, Address: k.Address, Verified: k.Verified, Inputs: k.Inputs}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeTo runs fn against path, or stdout when path is empty. A failed
// close of the file is reported like a failed write.
func (a *app) writeTo(path string, fn func(w *bufio.Writer) error) (err error) {
	out := a.stdout
	if path != "" {
		f, cerr := a.createFile(path)
		if cerr != nil {
			return cerr
		}
		defer func() {
			if cerr := f.Close(); err == nil {
				err = cerr
			}
		}()
		out = f
	}
	w := bufio.NewWriter(out)
	if err := fn(w); err != nil {
		return err
	}
	return w.Flush()
}

func (a *app) createFile(path string) (io.WriteCloser, error) {
	if a.create != nil {
		return a.create(path)
	}
	return os.Create(path)
}

func (a *app) printAnalysis(reports []*api.Report, keys []api.RecoveredKey) error {
	if a.opts.JSON {
		out := struct {
			Transactions []*api.Report `json:"transactions"`
			Keys         []jsonKey     `json:"keys"`
		}{Transactions: reports, Keys: []jsonKey{}}
		for _, k := range keys {
			out.Keys = append(out.Keys, toJSONKey(k))
		}
		return writeJSON(a.stdout, out)
	}

	w := bufio.NewWriter(a.stdout)
	for _, report := range reports {
		fmt.Fprintf(w, "Transaction %s\n", report.TxID)
		for _, in := range report.Inputs {
			fmt.Fprintf(w, "  Input %d (%s)\n", in.Index, in.PrevOut)
			fmt.Fprintf(w, "    R: %s\n", in.R)
			fmt.Fprintf(w, "    S: %s\n", in.S)
			fmt.Fprintf(w, "    Z: %s\n", in.Z)
			fmt.Fprintf(w, "    PubKey: %s\n", in.PublicKey)
			if !in.Verified {
				fmt.Fprintln(w, "    Signature does not verify; the spent output is probably not P2PKH and Z is wrong")
			}
		}
	}
	if len(keys) == 0 {
		fmt.Fprintln(w, "\nNo reused nonces found.")
	}
	for _, k := range keys {
		writeKey(w, k)
	}
	return w.Flush()
}

func (a *app) printKeys(keys []api.RecoveredKey) error {
	if a.opts.JSON {
		out := make([]jsonKey, 0, len(keys))
		for _, k := range keys {
			out = append(out, toJSONKey(k))
		}
		return writeJSON(a.stdout, out)
	}
	w := bufio.NewWriter(a.stdout)
	if len(keys) == 0 {
		fmt.Fprintln(w, "No reused nonces found.")
	}
	for _, k := range keys {
		writeKey(w, k)
	}
	return w.Flush()
}

func writeKey(w io.Writer, k api.RecoveredKey) {
	status := "verified against public key"
	if !k.Verified {
		status = "NOT verified"
	}
	fmt.Fprintf(w, "\nPrivate key recovered (%s)\n", status)
	fmt.Fprintf(w, "  d: %s\n", k.D)
	fmt.Fprintf(w, "  k: %s\n", k.K)
	if k.WIF != "" {
		fmt.Fprintf(w, "  WIF: %s\n", k.WIF)
		fmt.Fprintf(w, "  Address: %s\n", k.Address)
	}
	for _, ref := range k.Inputs {
		fmt.Fprintf(w, "  from %s:%d\n", ref.TxID, ref.Index)
	}
}

// printKey prints a key recovered from explicit values, with its WIF and
// address when it is a valid secp256k1 scalar.
func (a *app) printKey(d, k string) error {
	key := api.RecoveredKey{D: d, K: k}
	if dv, err := rsz.ParseScalar(d); err == nil {
		if pk, err := crypto.PrivateKeyFromScalar(dv); err == nil && a.curve.Name == rsz.Secp256k1().Name {
			key.WIF = pk.WIF(true, a.opts.Testnet)
			key.Address = crypto.P2PKHAddress(pk.PublicKey().SerializeCompressed(), a.opts.Testnet)
		}
	}
	if a.opts.JSON {
		return writeJSON(a.stdout, toJSONKey(key))
	}
	fmt.Fprintf(a.stdout, "d = %s\n", key.D)
	if key.K != "" {
		fmt.Fprintf(a.stdout, "k = %s\n", key.K)
	}
	if key.WIF != "" {
		fmt.Fprintf(a.stdout, "WIF (compressed) = %s\n", key.WIF)
		fmt.Fprintf(a.stdout, "Address = %s\n", key.Address)
	}
	return nil
}
