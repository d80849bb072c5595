package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// DefaultEsploraURL is the public mainnet Esplora instance.
const DefaultEsploraURL = "https://blockstream.info/api"

// maxResponseSize bounds any single response body.
const maxResponseSize = 32 << 20

// Esplora reads from an Esplora REST API.
type Esplora struct {
	baseURL string
	client  *http.Client
}

// NewEsplora creates an Esplora source. A nil client uses
// http.DefaultClient; an empty baseURL uses DefaultEsploraURL.
func NewEsplora(baseURL string, client *http.Client) *Esplora {
	if baseURL == "" {
		baseURL = DefaultEsploraURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Esplora{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// RawTransaction implements Source via GET /tx/{txid}/hex.
func (e *Esplora) RawTransaction(ctx context.Context, txid string) (string, error) {
	body, err := e.get(ctx, "/tx/"+txid+"/hex")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

// BlockTxIDs implements Source via GET /block-height/{h} followed by
// GET /block/{hash}/txids.
func (e *Esplora) BlockTxIDs(ctx context.Context, height int64) ([]string, error) {
	hash, err := e.get(ctx, "/block-height/"+strconv.FormatInt(height, 10))
	if err != nil {
		return nil, err
	}

	body, err := e.get(ctx, "/block/"+strings.TrimSpace(string(hash))+"/txids")
	if err != nil {
		return nil, err
	}
	var txids []string
	if err := json.Unmarshal(body, &txids); err != nil {
		return nil, fmt.Errorf("decoding txids: %w", err)
	}
	return txids, nil
}

// ScriptSigASM implements ScriptSigSource via GET /tx/{txid}.
func (e *Esplora) ScriptSigASM(ctx context.Context, txid string) ([]string, error) {
	body, err := e.get(ctx, "/tx/"+txid)
	if err != nil {
		return nil, err
	}
	var tx struct {
		Vin []struct {
			IsCoinbase   bool   `json:"is_coinbase"`
			ScriptSigASM string `json:"scriptsig_asm"`
		} `json:"vin"`
	}
	if err := json.Unmarshal(body, &tx); err != nil {
		return nil, fmt.Errorf("decoding transaction: %w", err)
	}
	out := make([]string, len(tx.Vin))
	for i, in := range tx.Vin {
		if !in.IsCoinbase {
			out[i] = in.ScriptSigASM
		}
	}
	return out, nil
}

func (e *Esplora) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}

// HTTPError is a non-200, non-404 response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http status %d", e.StatusCode)
	}
	return fmt.Sprintf("http status %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the request may succeed if repeated.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}
