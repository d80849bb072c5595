package crypto

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/suffix-labs/btc-rsz/pkg/rsz"
)

const (
	derSequenceTag = 0x30
	derIntegerTag  = 0x02
)

// DEROptions controls how strictly signatures are decoded.
type DEROptions struct {
	// Strict rejects anything that is not a minimal, canonical DER encoding
	// of two positive integers: the sequence length must cover the blob
	// exactly, integers must be minimally encoded and non-negative.
	Strict bool

	// Order, when set in strict mode, additionally requires 1 <= r, s < Order.
	Order *big.Int
}

// ParseDERSignature decodes a DER ECDSA signature without the trailing
// sighash byte.
//
// In the default lenient mode the sequence length byte is consumed but not
// checked, and trailing bytes after s are ignored. A single leading 0x00 is
// stripped from each integer before it is interpreted.
func ParseDERSignature(der []byte, opts DEROptions) (rsz.Signature, error) {
	sig, err := parseDER(der, opts)
	if err != nil {
		if errors.Is(err, rsz.ErrUnexpectedEndOfStream) {
			return rsz.Signature{}, fmt.Errorf("%w: %v", rsz.ErrMalformedDerSignature, err)
		}
		return rsz.Signature{}, err
	}
	return sig, nil
}

func parseDER(der []byte, opts DEROptions) (rsz.Signature, error) {
	r := NewReader(der)

	tag, err := r.ReadByte()
	if err != nil {
		return rsz.Signature{}, err
	}
	if tag != derSequenceTag {
		return rsz.Signature{}, fmt.Errorf("%w: expected sequence tag 0x30, got 0x%02x",
			rsz.ErrMalformedDerSignature, tag)
	}

	seqLen, err := r.ReadByte()
	if err != nil {
		return rsz.Signature{}, err
	}
	if opts.Strict && int(seqLen) != r.Len() {
		return rsz.Signature{}, fmt.Errorf("%w: sequence length %d, %d bytes follow",
			rsz.ErrMalformedDerSignature, seqLen, r.Len())
	}

	rBytes, err := readDERInteger(r, "r", opts.Strict)
	if err != nil {
		return rsz.Signature{}, err
	}
	sBytes, err := readDERInteger(r, "s", opts.Strict)
	if err != nil {
		return rsz.Signature{}, err
	}
	if opts.Strict && r.Len() != 0 {
		return rsz.Signature{}, fmt.Errorf("%w: %d trailing bytes after s",
			rsz.ErrMalformedDerSignature, r.Len())
	}

	rBytes = stripLeadingZero(rBytes)
	sBytes = stripLeadingZero(sBytes)
	sig := rsz.Signature{
		R:    new(big.Int).SetBytes(rBytes),
		S:    new(big.Int).SetBytes(sBytes),
		RLen: len(rBytes),
		SLen: len(sBytes),
	}

	if opts.Strict && opts.Order != nil {
		for _, v := range []struct {
			name string
			x    *big.Int
		}{{"r", sig.R}, {"s", sig.S}} {
			if v.x.Sign() == 0 || v.x.Cmp(opts.Order) >= 0 {
				return rsz.Signature{}, fmt.Errorf("%w: %s out of range", rsz.ErrMalformedDerSignature, v.name)
			}
		}
	}
	return sig, nil
}

func readDERInteger(r *Reader, name string, strict bool) ([]byte, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if tag != derIntegerTag {
		return nil, fmt.Errorf("%w: expected integer tag 0x02 for %s, got 0x%02x",
			rsz.ErrMalformedDerSignature, name, tag)
	}
	n, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	value, err := r.ReadBytes(int(n))
	if err != nil {
		return nil, err
	}

	if strict {
		switch {
		case len(value) == 0:
			return nil, fmt.Errorf("%w: empty %s", rsz.ErrMalformedDerSignature, name)
		case value[0]&0x80 != 0:
			return nil, fmt.Errorf("%w: negative %s", rsz.ErrMalformedDerSignature, name)
		case len(value) > 1 && value[0] == 0x00 && value[1]&0x80 == 0:
			return nil, fmt.Errorf("%w: non-minimal padding on %s", rsz.ErrMalformedDerSignature, name)
		}
	}
	return value, nil
}

func stripLeadingZero(b []byte) []byte {
	if len(b) > 0 && b[0] == 0x00 {
		return b[1:]
	}
	return b
}

// EncodeDERSignature returns the canonical DER encoding of (r, s).
// No low-S normalisation is applied.
func EncodeDERSignature(r, s *big.Int) []byte {
	rb := derIntegerBytes(r)
	sb := derIntegerBytes(s)

	out := make([]byte, 0, 6+len(rb)+len(sb))
	out = append(out, derSequenceTag, byte(4+len(rb)+len(sb)))
	out = append(out, derIntegerTag, byte(len(rb)))
	out = append(out, rb...)
	out = append(out, derIntegerTag, byte(len(sb)))
	out = append(out, sb...)
	return out
}

func derIntegerBytes(x *big.Int) []byte {
	b := x.Bytes()
	if len(b) == 0 {
		return []byte{0x00}
	}
	if b[0]&0x80 != 0 {
		b = append([]byte{0x00}, b...)
	}
	return b
}
