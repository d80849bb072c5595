package scan

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// DumpEntry is one signature line of a dump file.
type DumpEntry struct {
	TxID   string
	R      string
	S      string
	Z      string // Empty when the digest is unknown
	PubKey string // Empty when no key was pushed
}

// WriteDump writes entries grouped by transaction:
//
//	Transaction ID: <txid>
//	  Signature - R: <r>, S: <s>[, Z: <z>][, PubKey: <hex>]
func WriteDump(w io.Writer, entries []DumpEntry) error {
	bw := bufio.NewWriter(w)
	last := ""
	for i, e := range entries {
		if i == 0 || e.TxID != last {
			fmt.Fprintf(bw, "Transaction ID: %s\n", e.TxID)
			last = e.TxID
		}
		fmt.Fprintf(bw, "  Signature - R: %s, S: %s", e.R, e.S)
		if e.Z != "" {
			fmt.Fprintf(bw, ", Z: %s", e.Z)
		}
		if e.PubKey != "" {
			fmt.Fprintf(bw, ", PubKey: %s", e.PubKey)
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// ParseDump reads a dump written by WriteDump. Lines it does not recognise
// are ignored.
func ParseDump(r io.Reader) ([]DumpEntry, error) {
	var (
		entries []DumpEntry
		txid    string
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, "Transaction ID:"):
			txid = strings.TrimSpace(strings.TrimPrefix(line, "Transaction ID:"))
		case strings.HasPrefix(line, "Signature -"):
			e := DumpEntry{TxID: txid}
			for _, field := range strings.Split(strings.TrimPrefix(line, "Signature -"), ",") {
				key, value, ok := strings.Cut(field, ":")
				if !ok {
					continue
				}
				value = strings.TrimSpace(value)
				switch strings.TrimSpace(key) {
				case "R":
					e.R = value
				case "S":
					e.S = value
				case "Z":
					e.Z = value
				case "PubKey":
					e.PubKey = value
				}
			}
			if e.R != "" && e.S != "" {
				entries = append(entries, e)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading dump: %w", err)
	}
	return entries, nil
}
