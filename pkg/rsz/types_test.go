package rsz

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScalar(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"0x10", 16},
		{"0X1f", 31},
		{"ff", 255},
		{"10", 16},
		{"255", 597},
		{"  42 ", 66},
		{"dec:255", 255},
		{" dec:10", 10},
	}
	for _, tt := range tests {
		got, err := ParseScalar(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, big.NewInt(tt.want), got, tt.in)
	}

	// 64 decimal-looking digits are still hex.
	long, err := ParseScalar("1111111111111111111111111111111111111111111111111111111111111111")
	require.NoError(t, err)
	assert.Equal(t, 253, long.BitLen())

	for _, bad := range []string{"", "0x", "xyz", "-5", "0x-5", "dec:", "dec:ff", "dec:-1"} {
		_, err := ParseScalar(bad)
		assert.ErrorIs(t, err, ErrInvalidScalar, bad)
	}
}

func TestParseScalarDecimalR(t *testing.T) {
	const (
		decimal = "113563387324078878147267949860139475116142082788494055785668341901521289846519"
		hexR    = "fb1299738dc025ca0e2fdc140879513458b2e6bdc03a692fef4299ddfd359ef7"
	)
	curve := Secp256k1()

	r, err := ParseScalarBelow(DecimalPrefix+decimal, curve)
	require.NoError(t, err)
	assert.Equal(t, hexR, FormatScalar(r))

	// Without the prefix the digits are hex, a 309-bit value above n.
	_, err = ParseScalarBelow(decimal, curve)
	assert.ErrorIs(t, err, ErrInvalidScalar)
	_, err = ParseDigest(decimal, curve)
	assert.ErrorIs(t, err, ErrInvalidScalar)
}

func TestParseScalarBelowAndDigest(t *testing.T) {
	curve := Secp256k1()

	x, err := ParseScalarBelow("0", curve)
	require.NoError(t, err)
	assert.Equal(t, 0, x.Sign())

	_, err = ParseScalarBelow(FormatScalar(curve.N), curve)
	assert.ErrorIs(t, err, ErrInvalidScalar)
	_, err = ParseScalarBelow("xyz", curve)
	assert.ErrorIs(t, err, ErrInvalidScalar)

	// z may exceed n but not 256 bits.
	maxDigest := strings.Repeat("f", 64)
	z, err := ParseDigest(maxDigest, curve)
	require.NoError(t, err)
	assert.Equal(t, 256, z.BitLen())
	_, err = ParseDigest("1"+maxDigest, curve)
	assert.ErrorIs(t, err, ErrInvalidScalar)

	toy := CurveParams{Name: "toy", N: big.NewInt(101)}
	_, err = ParseScalarBelow("0x65", toy)
	assert.ErrorIs(t, err, ErrInvalidScalar)
	z, err = ParseDigest("0x65", toy)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(101), z)
}

func TestFormatScalar(t *testing.T) {
	assert.Equal(t, "0000000000000000000000000000000000000000000000000000000000000001", FormatScalar(big.NewInt(1)))
	assert.Len(t, FormatScalar(Secp256k1().N), 64)
	assert.Equal(t, "", FormatScalar(nil))
}

func TestSecp256k1Order(t *testing.T) {
	curve := Secp256k1()
	assert.Equal(t, "fffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364141", FormatScalar(curve.N))

	// The returned order is a copy.
	curve.N.SetInt64(7)
	assert.Equal(t, 256, Secp256k1().N.BitLen())
}

func TestParseCurveOrder(t *testing.T) {
	c, err := ParseCurveOrder("")
	require.NoError(t, err)
	assert.Equal(t, "secp256k1", c.Name)

	c, err = ParseCurveOrder("FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFEBAAEDCE6AF48A03BBFD25E8CD0364141")
	require.NoError(t, err)
	assert.Equal(t, "secp256k1", c.Name)

	c, err = ParseCurveOrder("0x65")
	require.NoError(t, err)
	assert.Equal(t, "custom", c.Name)
	assert.Equal(t, big.NewInt(101), c.N)

	_, err = ParseCurveOrder("1")
	assert.ErrorIs(t, err, ErrInvalidScalar)
}

func TestSigningTupleReduction(t *testing.T) {
	curve := CurveParams{Name: "toy", N: big.NewInt(101)}
	r := big.NewInt(205)
	tuple := NewSigningTuple(r, big.NewInt(7), big.NewInt(303), curve)

	assert.Equal(t, big.NewInt(3), tuple.R)
	assert.Equal(t, big.NewInt(7), tuple.S)
	assert.Equal(t, big.NewInt(0), tuple.Z)
	assert.Equal(t, big.NewInt(205), r, "input must not be mutated")

	other := NewSigningTuple(big.NewInt(3), big.NewInt(9), big.NewInt(1), curve)
	assert.True(t, tuple.SharesNonce(other))
}

func TestRawTransactionTuplesSkipsMissingDigest(t *testing.T) {
	tx := &RawTransaction{Inputs: []TxInput{
		{Signature: Signature{R: big.NewInt(1), S: big.NewInt(2)}, Z: big.NewInt(3)},
		{Signature: Signature{R: big.NewInt(4), S: big.NewInt(5)}},
	}}
	tuples := tx.Tuples(Secp256k1())
	require.Len(t, tuples, 1)
	assert.Equal(t, big.NewInt(3), tuples[0].Z)
}

func TestStructuredErrorsUnwrap(t *testing.T) {
	err := fmt.Errorf("analyze: %w", &ParseError{InputIndex: 2, Stage: StageSignature, Cause: ErrMalformedDerSignature})
	assert.True(t, errors.Is(err, ErrMalformedDerSignature))

	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 2, pe.InputIndex)
	assert.Contains(t, err.Error(), "input 2")

	header := &ParseError{InputIndex: -1, Stage: StageVersion, Cause: ErrUnexpectedEndOfStream}
	assert.NotContains(t, header.Error(), "input")

	re := &RecoveryError{Formula: "reused_r", Cause: ErrDegenerateSignaturePair}
	assert.ErrorIs(t, re, ErrDegenerateSignaturePair)

	se := &SourceError{Op: "raw_transaction", Key: "ab", Attempts: 3, Cause: ErrUnexpectedEndOfStream}
	assert.ErrorIs(t, se, ErrUnexpectedEndOfStream)
	assert.Contains(t, se.Error(), "3 attempt(s)")
}
