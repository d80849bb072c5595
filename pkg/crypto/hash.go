package crypto

import (
	"github.com/minio/sha256-simd"
	"golang.org/x/crypto/ripemd160"
)

// DoubleSHA256 returns SHA-256(SHA-256(data)).
func DoubleSHA256(data []byte) [32]byte {
	first := sha256.Sum256(data)
	return sha256.Sum256(first[:])
}

// Hash160 returns RIPEMD-160(SHA-256(data)), the 20-byte public key hash
// used by P2PKH scripts and addresses.
func Hash160(data []byte) []byte {
	sum := sha256.Sum256(data)
	h := ripemd160.New()
	h.Write(sum[:])
	return h.Sum(nil)
}

// P2PKHScript returns the 25-byte pay-to-pubkey-hash locking script for
// pubKey: OP_DUP OP_HASH160 <20 bytes> OP_EQUALVERIFY OP_CHECKSIG.
func P2PKHScript(pubKey []byte) []byte {
	script := make([]byte, 0, 25)
	script = append(script, 0x76, 0xa9, 0x14)
	script = append(script, Hash160(pubKey)...)
	script = append(script, 0x88, 0xac)
	return script
}
