package recovery

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suffix-labs/btc-rsz/pkg/modmath"
	"github.com/suffix-labs/btc-rsz/pkg/rsz"
)

var secp = rsz.Secp256k1()

func tuple(r, s, z string) rsz.SigningTuple {
	return rsz.NewSigningTuple(rsz.MustParseScalar(r), rsz.MustParseScalar(s), rsz.MustParseScalar(z), secp)
}

func randScalar(t *testing.T, n *big.Int) *big.Int {
	t.Helper()
	for {
		x, err := rand.Int(rand.Reader, n)
		require.NoError(t, err)
		if x.Sign() != 0 {
			return x
		}
	}
}

// sign computes s = k⁻¹·(z + r·d) mod n for an arbitrary r.
func sign(t *testing.T, r, z, d, k *big.Int, n *big.Int) rsz.SigningTuple {
	t.Helper()
	kInv, err := modmath.ModInv(k, n)
	require.NoError(t, err)
	s := modmath.MulMod(kInv, modmath.AddMod(z, modmath.MulMod(r, d, n), n), n)
	return rsz.SigningTuple{R: new(big.Int).Set(r), S: s, Z: new(big.Int).Set(z)}
}

func TestReusedRLiteralVector(t *testing.T) {
	t1 := tuple(
		"0xfb1299738dc025ca0e2fdc140879513458b2e6bdc03a692fef4299ddfd359ef7",
		"0x97af3747a2a4d04ab3dc0a1f101d258c4634cc49e4c29f5305e13780f7ec862d",
		"0x54737b1ad70cf21757206164ed417f7a11dbc510116d9d6dc86f7d713fa5f250",
	)
	t2 := tuple(
		"0xfb1299738dc025ca0e2fdc140879513458b2e6bdc03a692fef4299ddfd359ef7",
		"0x96e3e090fc4ba12ec875caae59dc4bbeb8a39ff7ba9b2313b0452f07da3a455c",
		"0x6ed90a1bda828e926cc9e4b1f6bc0bb04b535f1769bd61979fa562e4a7f95598",
	)

	d, err := ReusedR(t1, t2, secp)
	require.NoError(t, err)
	assert.Equal(t, "8b184d0143d89f76c342cbd9ffa96329ece0e854e6416fd1f58230b90f007ba0", rsz.FormatScalar(d))

	rec, err := ReusedRWithNonce(t1, t2, secp)
	require.NoError(t, err)
	assert.Equal(t, 0, d.Cmp(rec.D), "both reused-r formulas must agree")
	assert.Equal(t, "12e540729620ebee5f5f9bfc20250b7de3bef365f7151add0dfefb7a2fe40cbf", rsz.FormatScalar(rec.K))

	// The recovered nonce recovers the same key from either tuple.
	for _, tt := range []rsz.SigningTuple{t1, t2} {
		got, err := KnownNonce(tt, rec.K, secp)
		require.NoError(t, err)
		assert.Equal(t, 0, d.Cmp(got))
	}
}

func TestKnownNonceLiteralVectors(t *testing.T) {
	tests := []struct {
		name       string
		r, s, z, k string
		want       string
	}{
		{
			name: "leaked nonce",
			r:    "0x83fe1c06236449b69a7bee5be422c067d02c4ce3f4fa3756bd92c632f971de06",
			s:    "0x7405249d2aa9184b688f5307006fddc3bd4a7eb89294e3be3438636384d64ce7",
			z:    "0x070239c013e8f40c8c2a0e608ae15a6b1bb4b8fbcab3cff151a6e4e8e05e10b7",
			k:    "0x070239C013E8F40C8C2A0E608AE15A6B23D4A09295BE678B21A5F1DCEAE1F634",
			want: "23d4a09295be678b21a5f1dceae1f634a69c1b41775f680ebf8165266471401b",
		},
		{
			name: "short nonce",
			r:    "0xaa03ea5459a1f3e4cbd4cc294c35f539dd6d4ca9070249dbd905610e835f7fea",
			s:    "0x556f71f86a08a9bea27a4b11e44966011eca08a5e8ec370e76bdd8cbc4ceb0b9",
			z:    "0xd5a179e8ad7e4e042ad4d0b2465aa1a10b180713f02ac965cfc919009731d4a9",
			k:    "0x88b2277271d161d15566023f89adecf11530aec3fdaeb50d7a895581bb1f8ce",
			want: "2f26843ece3e2707cdb44c05ebf6f5815f32fcb1500f035a92f22546b69b6f2b",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tp := tuple(tt.r, tt.s, tt.z)
			d, err := KnownNonce(tp, rsz.MustParseScalar(tt.k), secp)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rsz.FormatScalar(d))

			k, err := NonceFromKey(tp, d, secp)
			require.NoError(t, err)
			assert.Equal(t, 0, k.Cmp(modmath.Mod(rsz.MustParseScalar(tt.k), secp.N)))
		})
	}
}

func TestNonceCheckLiteralVector(t *testing.T) {
	tp := tuple(
		"0xaa03ea5459a1f3e4cbd4cc294c35f539dd6d4ca9070249dbd905610e835f7fea",
		"0x556f71f86a08a9bea27a4b11e44966011eca08a5e8ec370e76bdd8cbc4ceb0b9",
		"0xd5a179e8ad7e4e042ad4d0b2465aa1a10b180713f02ac965cfc919009731d4a9",
	)
	k, err := NonceCheck(tp, secp)
	require.NoError(t, err)
	assert.Equal(t, "ac9c617b40b9b2289d4118a7e8f75e250bbe1062aedf30f549cb3669cd2775a1", rsz.FormatScalar(k))
}

func TestSigningRelationRoundTrip(t *testing.T) {
	n := secp.N
	for i := 0; i < 32; i++ {
		d, k := randScalar(t, n), randScalar(t, n)
		r, z := randScalar(t, n), randScalar(t, n)
		tp := sign(t, r, z, d, k, n)

		got, err := KnownNonce(tp, k, secp)
		require.NoError(t, err)
		assert.Equal(t, 0, d.Cmp(got), "known nonce")

		gotK, err := NonceFromKey(tp, d, secp)
		require.NoError(t, err)
		assert.Equal(t, 0, k.Cmp(gotK), "nonce from key")
	}
}

func TestReusedRRoundTrip(t *testing.T) {
	n := secp.N
	for i := 0; i < 32; i++ {
		d, k, r := randScalar(t, n), randScalar(t, n), randScalar(t, n)
		z1, z2 := randScalar(t, n), randScalar(t, n)
		if z1.Cmp(z2) == 0 {
			continue
		}
		t1 := sign(t, r, z1, d, k, n)
		t2 := sign(t, r, z2, d, k, n)

		got, err := ReusedR(t1, t2, secp)
		require.NoError(t, err)
		assert.Equal(t, 0, d.Cmp(got))

		rec, err := ReusedRWithNonce(t1, t2, secp)
		require.NoError(t, err)
		assert.Equal(t, 0, d.Cmp(rec.D))
		assert.Equal(t, 0, k.Cmp(rec.K))
		assert.False(t, rec.Verified)
	}
}

func TestReusedRToyCurve(t *testing.T) {
	curve := rsz.CurveParams{Name: "toy", N: big.NewInt(101)}
	d, k, r := big.NewInt(17), big.NewInt(29), big.NewInt(44)
	t1 := sign(t, r, big.NewInt(5), d, k, curve.N)
	t2 := sign(t, r, big.NewInt(61), d, k, curve.N)

	got, err := ReusedR(t1, t2, curve)
	require.NoError(t, err)
	assert.Equal(t, int64(17), got.Int64())
}

func TestReusedRDegenerate(t *testing.T) {
	// Same r and s with different z: nothing can be learned.
	t1 := tuple(
		"0xaa03ea5459a1f3e4cbd4cc294c35f539dd6d4ca9070249dbd905610e835f7fea",
		"0x556f71f86a08a9bea27a4b11e44966011eca08a5e8ec370e76bdd8cbc4ceb0b9",
		"0xd5a179e8ad7e4e042ad4d0b2465aa1a10b180713f02ac965cfc919009731d4a9",
	)
	t2 := tuple(
		"0xaa03ea5459a1f3e4cbd4cc294c35f539dd6d4ca9070249dbd905610e835f7fea",
		"0x556f71f86a08a9bea27a4b11e44966011eca08a5e8ec370e76bdd8cbc4ceb0b9",
		"0x866674068d62c4baa3fbe4565d3ae65289f30e42adfcc63169811487a3be7c8b",
	)

	_, err := ReusedR(t1, t2, secp)
	assert.ErrorIs(t, err, rsz.ErrDegenerateSignaturePair)

	_, err = ReusedRWithNonce(t1, t2, secp)
	assert.ErrorIs(t, err, rsz.ErrDegenerateSignaturePair)

	var re *rsz.RecoveryError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, FormulaReusedRNonce, re.Formula)

	// s2 ≡ s1 + n is the same residue.
	t3 := t2
	t3.S = new(big.Int).Add(t2.S, secp.N)
	_, err = ReusedR(t1, t3, secp)
	assert.ErrorIs(t, err, rsz.ErrDegenerateSignaturePair)
}

func TestReusedRNonceMismatch(t *testing.T) {
	t1 := rsz.SigningTuple{R: big.NewInt(3), S: big.NewInt(4), Z: big.NewInt(5)}
	t2 := rsz.SigningTuple{R: big.NewInt(6), S: big.NewInt(7), Z: big.NewInt(8)}
	_, err := ReusedR(t1, t2, secp)
	assert.ErrorIs(t, err, rsz.ErrNonceMismatch)
}

func TestZeroRHasNoInverse(t *testing.T) {
	zero := rsz.SigningTuple{R: big.NewInt(0), S: big.NewInt(4), Z: big.NewInt(5)}

	_, err := KnownNonce(zero, big.NewInt(9), secp)
	assert.ErrorIs(t, err, rsz.ErrNoInverseExists)

	_, err = NonceCheck(zero, secp)
	assert.ErrorIs(t, err, rsz.ErrNoInverseExists)

	other := rsz.SigningTuple{R: big.NewInt(0), S: big.NewInt(7), Z: big.NewInt(8)}
	_, err = ReusedR(zero, other, secp)
	assert.ErrorIs(t, err, rsz.ErrNoInverseExists)

	_, err = NonceFromKey(rsz.SigningTuple{R: big.NewInt(1), S: big.NewInt(0), Z: big.NewInt(1)}, big.NewInt(1), secp)
	assert.ErrorIs(t, err, rsz.ErrNoInverseExists)
}

func TestFormulasDoNotMutateInputs(t *testing.T) {
	t1 := rsz.SigningTuple{R: big.NewInt(44), S: big.NewInt(71), Z: big.NewInt(-5)}
	t2 := rsz.SigningTuple{R: big.NewInt(44), S: big.NewInt(13), Z: big.NewInt(60)}
	k := big.NewInt(29)

	_, _ = ReusedR(t1, t2, secp)
	_, _ = ReusedRWithNonce(t1, t2, secp)
	_, _ = KnownNonce(t1, k, secp)
	_, _ = NonceCheck(t1, secp)

	assert.Equal(t, big.NewInt(44), t1.R)
	assert.Equal(t, big.NewInt(71), t1.S)
	assert.Equal(t, big.NewInt(-5), t1.Z)
	assert.Equal(t, big.NewInt(13), t2.S)
	assert.Equal(t, big.NewInt(29), k)
}

func TestReusedRVerifiedResolvesLowS(t *testing.T) {
	v := loadFixture(t)
	pub, err := hex.DecodeString(v.PubKey)
	require.NoError(t, err)

	t1 := tuple(v.R, v.Inputs[0].S, v.Inputs[0].Z)
	t2 := tuple(v.R, v.Inputs[1].S, v.Inputs[1].Z)

	rec, err := ReusedRVerified(t1, t2, pub, secp)
	require.NoError(t, err)
	assert.True(t, rec.Verified)
	assert.Equal(t, v.D, rsz.FormatScalar(rec.D))
	assert.Equal(t, v.K, rsz.FormatScalar(rec.K))

	// Publish n − s2, as a low-S normalising signer could.
	flipped := t2
	flipped.S = new(big.Int).Sub(secp.N, t2.S)

	plain, err := ReusedRWithNonce(t1, flipped, secp)
	require.NoError(t, err)
	assert.NotEqual(t, v.D, rsz.FormatScalar(plain.D))

	rec, err = ReusedRVerified(t1, flipped, pub, secp)
	require.NoError(t, err)
	assert.True(t, rec.Verified)
	assert.Equal(t, v.D, rsz.FormatScalar(rec.D))
}

func TestReusedRVerifiedWrongKey(t *testing.T) {
	v := loadFixture(t)
	t1 := tuple(v.R, v.Inputs[0].S, v.Inputs[0].Z)
	t2 := tuple(v.R, v.Inputs[1].S, v.Inputs[1].Z)

	// Generator point, not the signer's key.
	other, err := hex.DecodeString("0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798")
	require.NoError(t, err)

	rec, err := ReusedRVerified(t1, t2, other, secp)
	require.NoError(t, err)
	assert.False(t, rec.Verified)
	assert.Equal(t, v.D, rsz.FormatScalar(rec.D), "the plain candidate is returned")
}

func TestVerifyKey(t *testing.T) {
	v := loadFixture(t)
	pub, err := hex.DecodeString(v.PubKey)
	require.NoError(t, err)

	assert.True(t, VerifyKey(rsz.MustParseScalar(v.D), pub))
	assert.False(t, VerifyKey(big.NewInt(1), pub))
	assert.False(t, VerifyKey(big.NewInt(0), pub))
}
