package crypto

import (
	"bytes"
	"fmt"

	"github.com/decred/dcrd/wire"

	"github.com/suffix-labs/btc-rsz/pkg/rsz"
)

// Reader is a forward-only cursor over a byte buffer.
//
// The only rewinding operation is PeekSegWitMarker, which restores the
// cursor before returning.
type Reader struct {
	buf []byte
	pos int
}

// NewReader returns a Reader positioned at the start of buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Pos returns the number of bytes consumed so far.
func (r *Reader) Pos() int { return r.pos }

// Len returns the number of unread bytes.
func (r *Reader) Len() int { return len(r.buf) - r.pos }

// ReadBytes consumes exactly n bytes and returns a copy of them.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || n > r.Len() {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d",
			rsz.ErrUnexpectedEndOfStream, n, r.pos, r.Len())
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+n])
	r.pos += n
	return out, nil
}

// ReadByte consumes a single byte.
func (r *Reader) ReadByte() (byte, error) {
	if r.Len() < 1 {
		return 0, fmt.Errorf("%w: need 1 byte at offset %d", rsz.ErrUnexpectedEndOfStream, r.pos)
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

// ReadVarInt consumes a CompactSize integer.
//
// Prefix bytes below 0xfd are the value itself; 0xfd, 0xfe and 0xff are
// followed by a 2, 4 or 8 byte little-endian value. Non-canonical encodings
// are accepted.
func (r *Reader) ReadVarInt() (uint64, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return 0, err
	}

	var width int
	switch prefix {
	case 0xfd:
		width = 2
	case 0xfe:
		width = 4
	case 0xff:
		width = 8
	default:
		return uint64(prefix), nil
	}

	raw, err := r.ReadBytes(width)
	if err != nil {
		return 0, err
	}
	var v uint64
	for i := width - 1; i >= 0; i-- {
		v = v<<8 | uint64(raw[i])
	}
	return v, nil
}

// ReadVarBytes reads a CompactSize length followed by that many bytes.
func (r *Reader) ReadVarBytes() ([]byte, error) {
	n, err := r.ReadVarInt()
	if err != nil {
		return nil, err
	}
	if n > uint64(r.Len()) {
		return nil, fmt.Errorf("%w: length prefix %d exceeds %d remaining bytes",
			rsz.ErrUnexpectedEndOfStream, n, r.Len())
	}
	return r.ReadBytes(int(n))
}

// Remaining returns a copy of all unread bytes without advancing.
func (r *Reader) Remaining() []byte {
	return bytes.Clone(r.buf[r.pos:])
}

// PeekSegWitMarker reports whether the next two bytes are the SegWit
// marker and flag (0x00 0x01). The cursor is left where it was.
func (r *Reader) PeekSegWitMarker() bool {
	if r.Len() < 2 {
		return false
	}
	return r.buf[r.pos] == 0x00 && r.buf[r.pos+1] == 0x01
}

// AppendVarInt appends the canonical CompactSize encoding of v to buf.
func AppendVarInt(buf *bytes.Buffer, v uint64) {
	// Writes to a bytes.Buffer cannot fail.
	_ = wire.WriteVarInt(buf, 0, v)
}

// VarIntSize returns the number of bytes AppendVarInt writes for v.
func VarIntSize(v uint64) int {
	return wire.VarIntSerializeSize(v)
}
