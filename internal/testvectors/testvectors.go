// Package testvectors loads the JSON fixtures under testdata/vectors for
// tests across packages.
package testvectors

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// ReusedNonceInput is one signed input of the reused-nonce fixture.
type ReusedNonceInput struct {
	Z        string `json:"z"`
	S        string `json:"s"`
	Preimage string `json:"preimage"`
	DER      string `json:"der"` // DER signature followed by the sighash byte
}

// ReusedNonceTx is a legacy transaction with two P2PKH inputs signed by the
// same key with the same nonce.
type ReusedNonceTx struct {
	Comment  string             `json:"comment"`
	D        string             `json:"d"`
	K        string             `json:"k"`
	PubKey   string             `json:"pubkey"`
	R        string             `json:"r"`
	Inputs   []ReusedNonceInput `json:"inputs"`
	Tx       string             `json:"tx"`
	Trailing string             `json:"trailing"`
	Prev0    string             `json:"prev0"`
	Prev1    string             `json:"prev1"`
	Hash160  string             `json:"h160"`
	WIF      string             `json:"wif"`
	Address  string             `json:"address"`
}

// Dir returns the directory holding the fixture files.
func Dir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "testdata", "vectors")
}

// LoadReusedNonceTx reads reused_nonce_tx.json.
func LoadReusedNonceTx() (*ReusedNonceTx, error) {
	data, err := os.ReadFile(filepath.Join(Dir(), "reused_nonce_tx.json"))
	if err != nil {
		return nil, fmt.Errorf("reading fixture: %w", err)
	}
	var v ReusedNonceTx
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decoding fixture: %w", err)
	}
	return &v, nil
}
