package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
)

// Bitcoin Core error code for an unknown transaction or block.
const rpcInvalidAddressOrKey = -5

// RPCConfig holds the connection settings for a bitcoind node.
type RPCConfig struct {
	URL      string // e.g. http://127.0.0.1:8332
	User     string
	Password string
}

// RPC reads from a bitcoind JSON-RPC endpoint. getrawtransaction needs
// -txindex on the node for transactions outside the mempool.
type RPC struct {
	cfg    RPCConfig
	client *http.Client
	id     atomic.Uint64
}

// NewRPC creates an RPC source. A nil client uses http.DefaultClient.
func NewRPC(cfg RPCConfig, client *http.Client) *RPC {
	if client == nil {
		client = http.DefaultClient
	}
	return &RPC{cfg: cfg, client: client}
}

type rpcRequest struct {
	Jsonrpc string            `json:"jsonrpc"`
	ID      uint64            `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
	ID     uint64          `json:"id"`
}

// RPCError is an error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// RawTransaction implements Source via getrawtransaction.
func (c *RPC) RawTransaction(ctx context.Context, txid string) (string, error) {
	var hexTx string
	if err := c.call(ctx, "getrawtransaction", &hexTx, txid, false); err != nil {
		return "", err
	}
	return hexTx, nil
}

// BlockTxIDs implements Source via getblockhash and getblock.
func (c *RPC) BlockTxIDs(ctx context.Context, height int64) ([]string, error) {
	var hash string
	if err := c.call(ctx, "getblockhash", &hash, height); err != nil {
		return nil, err
	}
	var block struct {
		Tx []string `json:"tx"`
	}
	if err := c.call(ctx, "getblock", &block, hash, 1); err != nil {
		return nil, err
	}
	return block.Tx, nil
}

// ScriptSigASM implements ScriptSigSource via verbose getrawtransaction.
func (c *RPC) ScriptSigASM(ctx context.Context, txid string) ([]string, error) {
	var tx struct {
		Vin []struct {
			Coinbase  string `json:"coinbase"`
			ScriptSig *struct {
				ASM string `json:"asm"`
			} `json:"scriptSig"`
		} `json:"vin"`
	}
	if err := c.call(ctx, "getrawtransaction", &tx, txid, true); err != nil {
		return nil, err
	}
	out := make([]string, len(tx.Vin))
	for i, in := range tx.Vin {
		if in.Coinbase == "" && in.ScriptSig != nil {
			out[i] = in.ScriptSig.ASM
		}
	}
	return out, nil
}

// call performs one JSON-RPC 1.0 request and decodes the result into out.
func (c *RPC) call(ctx context.Context, method string, out any, params ...any) error {
	raw := make([]json.RawMessage, len(params))
	for i, p := range params {
		b, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshalling %s param %d: %w", method, i, err)
		}
		raw[i] = b
	}
	body, err := json.Marshal(&rpcRequest{
		Jsonrpc: "1.0",
		ID:      c.id.Add(1),
		Method:  method,
		Params:  raw,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.User != "" || c.cfg.Password != "" {
		req.SetBasicAuth(c.cfg.User, c.cfg.Password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("reading %s response: %w", method, err)
	}

	// bitcoind answers RPC errors with a 404 or 500 status and a JSON body,
	// so the body is decoded before the status is considered.
	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		if resp.StatusCode != http.StatusOK {
			return &HTTPError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(respBody))}
		}
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		if rpcResp.Error.Code == rpcInvalidAddressOrKey {
			return fmt.Errorf("%s: %w: %w", method, ErrNotFound, rpcResp.Error)
		}
		return fmt.Errorf("%s: %w", method, rpcResp.Error)
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("decoding %s result: %w", method, err)
	}
	return nil
}
