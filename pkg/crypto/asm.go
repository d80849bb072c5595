package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/suffix-labs/btc-rsz/pkg/rsz"
)

// ASMSignature is the best-effort result of reading a scriptSig rendered as
// ASM text, either Bitcoin Core's "3044...[ALL] 02ab..." or Esplora's
// "OP_PUSHBYTES_71 3044...01 OP_PUSHBYTES_33 02ab...".
type ASMSignature struct {
	Signature rsz.Signature
	PublicKey []byte // nil when no key push follows the signature
}

// ParseScriptSigASM pulls r and s from the first DER-looking token of a
// scriptSig ASM string, and the public key from the token after it.
//
// No digest can be derived from ASM text, so this is only a fallback for
// collecting r values from inputs the raw parser rejects.
func ParseScriptSigASM(asm string) (*ASMSignature, error) {
	var tokens []string
	for _, tok := range strings.Fields(asm) {
		if !strings.HasPrefix(tok, "OP_") {
			tokens = append(tokens, tok)
		}
	}
	for i, tok := range tokens {
		// Bitcoin Core renders the sighash byte as a "[ALL]" style suffix.
		if j := strings.IndexByte(tok, '['); j >= 0 {
			tok = tok[:j]
		}
		raw, err := hex.DecodeString(tok)
		if err != nil || len(raw) < 8 || raw[0] != derSequenceTag {
			continue
		}
		sig, err := ParseDERSignature(raw, DEROptions{})
		if err != nil {
			continue
		}

		out := &ASMSignature{Signature: sig}
		if i+1 < len(tokens) {
			if key, err := hex.DecodeString(tokens[i+1]); err == nil && (len(key) == 33 || len(key) == 65) {
				out.PublicKey = key
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: no DER signature in scriptSig asm", rsz.ErrMalformedDerSignature)
}
