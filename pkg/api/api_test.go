package api

import (
	"bytes"
	"context"
	"encoding/hex"
	"math/big"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/suffix-labs/btc-rsz/internal/testvectors"
	"github.com/suffix-labs/btc-rsz/pkg/recovery"
	"github.com/suffix-labs/btc-rsz/pkg/rsz"
	"github.com/suffix-labs/btc-rsz/pkg/scan"
)

const fixtureTxID = "a62073f589a5f966528b335e1819c09a10f87c7a1f25609f9e2d448665b914d2"

func loadFixture(t *testing.T) *testvectors.ReusedNonceTx {
	t.Helper()
	v, err := testvectors.LoadReusedNonceTx()
	require.NoError(t, err)
	return v
}

// segwitHex is a version 1 transaction with the marker and flag bytes.
const segwitHex = "01000000000101"

func TestAnalyzeTransaction(t *testing.T) {
	v := loadFixture(t)

	report, err := AnalyzeTransaction(v.Tx, Options{StrictDER: true})
	require.NoError(t, err)

	assert.Equal(t, fixtureTxID, report.TxID)
	require.Len(t, report.Inputs, 2)
	assert.Equal(t, "e1ce8c919a2e55776b34f6086a7fbcd3d7f720ab6e92f47db1a7cea67d63ee10:0", report.Inputs[0].PrevOut)
	for i, in := range report.Inputs {
		assert.Equal(t, i, in.Index)
		assert.Equal(t, v.R, in.R)
		assert.Equal(t, v.Inputs[i].S, in.S)
		assert.Equal(t, v.Inputs[i].Z, in.Z)
		assert.Equal(t, v.PubKey, in.PublicKey)
		assert.True(t, in.Verified)
	}
}

func TestAnalyzeTransactionTrimsWhitespace(t *testing.T) {
	v := loadFixture(t)

	report, err := AnalyzeTransaction("  "+v.Tx+"\n", Options{})
	require.NoError(t, err)
	assert.Equal(t, fixtureTxID, report.TxID)
}

func TestAnalyzeTransactionErrors(t *testing.T) {
	_, err := AnalyzeTransaction("not hex", Options{})
	assert.Error(t, err)

	_, err = AnalyzeTransaction(segwitHex, Options{})
	assert.ErrorIs(t, err, rsz.ErrUnsupportedTransactionType)

	v := loadFixture(t)
	_, err = AnalyzeTransaction(v.Tx[:200], Options{})
	assert.ErrorIs(t, err, rsz.ErrUnexpectedEndOfStream)
	var parseErr *rsz.ParseError
	assert.ErrorAs(t, err, &parseErr)
}

func TestAnalyzeTransactionUnverifiedWhenTrailingChanges(t *testing.T) {
	v := loadFixture(t)
	// Changing the lock time alters every digest without breaking the parse.
	tampered := v.Tx[:len(v.Tx)-2] + "01"

	report, err := AnalyzeTransaction(tampered, Options{})
	require.NoError(t, err)
	for _, in := range report.Inputs {
		assert.False(t, in.Verified)
		assert.NotEqual(t, v.Inputs[in.Index].Z, in.Z)
	}
}

func TestRecoverReusedRLiteralVector(t *testing.T) {
	const (
		r  = "fb1299738dc025ca0e2fdc140879513458b2e6bdc03a692fef4299ddfd359ef7"
		s1 = "97af3747a2a4d04ab3dc0a1f101d258c4634cc49e4c29f5305e13780f7ec862d"
		z1 = "54737b1ad70cf21757206164ed417f7a11dbc510116d9d6dc86f7d713fa5f250"
		s2 = "96e3e090fc4ba12ec875caae59dc4bbeb8a39ff7ba9b2313b0452f07da3a455c"
		z2 = "6ed90a1bda828e926cc9e4b1f6bc0bb04b535f1769bd61979fa562e4a7f95598"
	)

	d, err := RecoverReusedR(r, s1, z1, s2, z2, rsz.CurveParams{})
	require.NoError(t, err)
	assert.Equal(t, "8b184d0143d89f76c342cbd9ffa96329ece0e854e6416fd1f58230b90f007ba0", d)

	d2, k, err := RecoverReusedRWithNonce("0x"+r, s1, z1, s2, z2, rsz.Secp256k1())
	require.NoError(t, err)
	assert.Equal(t, d, d2)
	assert.Equal(t, "12e540729620ebee5f5f9bfc20250b7de3bef365f7151add0dfefb7a2fe40cbf", k)

	fromK, err := RecoverKnownNonce(r, s2, z2, k, rsz.Secp256k1())
	require.NoError(t, err)
	assert.Equal(t, d, fromK)

	derived, err := DeriveNonce(r, s1, z1, d, rsz.Secp256k1())
	require.NoError(t, err)
	assert.Equal(t, k, derived)

	_, err = RecoverReusedR(r, s1, z1, s1, z2, rsz.Secp256k1())
	assert.ErrorIs(t, err, rsz.ErrDegenerateSignaturePair)

	_, err = RecoverReusedR(r, "xyz", z1, s2, z2, rsz.Secp256k1())
	assert.ErrorIs(t, err, rsz.ErrInvalidScalar)
}

func TestRecoverReusedRScalarText(t *testing.T) {
	const (
		rDec = "dec:113563387324078878147267949860139475116142082788494055785668341901521289846519"
		s1   = "97af3747a2a4d04ab3dc0a1f101d258c4634cc49e4c29f5305e13780f7ec862d"
		z1   = "54737b1ad70cf21757206164ed417f7a11dbc510116d9d6dc86f7d713fa5f250"
		s2   = "96e3e090fc4ba12ec875caae59dc4bbeb8a39ff7ba9b2313b0452f07da3a455c"
		z2   = "6ed90a1bda828e926cc9e4b1f6bc0bb04b535f1769bd61979fa562e4a7f95598"
	)

	d, err := RecoverReusedR(rDec, s1, z1, s2, z2, rsz.Secp256k1())
	require.NoError(t, err)
	assert.Equal(t, "8b184d0143d89f76c342cbd9ffa96329ece0e854e6416fd1f58230b90f007ba0", d)

	// The same digits without the prefix are hex and too wide for r.
	_, err = RecoverReusedR(strings.TrimPrefix(rDec, rsz.DecimalPrefix), s1, z1, s2, z2, rsz.Secp256k1())
	assert.ErrorIs(t, err, rsz.ErrInvalidScalar)

	n := rsz.FormatScalar(rsz.Secp256k1().N)
	_, err = RecoverReusedR(n, s1, z1, s2, z2, rsz.Secp256k1())
	assert.ErrorIs(t, err, rsz.ErrInvalidScalar)
	_, err = RecoverKnownNonce(s1, s2, z2, n, rsz.Secp256k1())
	assert.ErrorIs(t, err, rsz.ErrInvalidScalar)
	_, err = DeriveNonce(s1, s2, z2, n, rsz.Secp256k1())
	assert.ErrorIs(t, err, rsz.ErrInvalidScalar)
	_, err = ComputeNonce(s1, s2, "1"+z2, rsz.Secp256k1())
	assert.ErrorIs(t, err, rsz.ErrInvalidScalar)
}

func TestComputeNonceFixture(t *testing.T) {
	v := loadFixture(t)
	d, err := RecoverKnownNonce(v.R, v.Inputs[0].S, v.Inputs[0].Z, v.K, rsz.CurveParams{})
	require.NoError(t, err)
	assert.Equal(t, v.D, d)

	// The check value is a different quantity from the signing nonce.
	k, err := ComputeNonce(v.R, v.Inputs[0].S, v.Inputs[0].Z, rsz.CurveParams{})
	require.NoError(t, err)
	assert.Len(t, k, 64)
	assert.NotEqual(t, v.K, k)
}

func TestFindAndRecover(t *testing.T) {
	v := loadFixture(t)
	report, err := AnalyzeTransaction(v.Tx, Options{})
	require.NoError(t, err)

	m := recovery.NewMetrics()
	keys, err := FindAndRecover(context.Background(), Options{
		Workers: 2,
		Logger:  zaptest.NewLogger(t),
		Metrics: m,
	}, report)
	require.NoError(t, err)
	require.Len(t, keys, 1)

	key := keys[0]
	assert.Equal(t, v.D, key.D)
	assert.Equal(t, v.K, key.K)
	assert.Equal(t, v.WIF, key.WIF)
	assert.Equal(t, v.Address, key.Address)
	assert.True(t, key.Verified)
	assert.Equal(t, []InputRef{{TxID: fixtureTxID, Index: 0}, {TxID: fixtureTxID, Index: 1}}, key.Inputs)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobCount.WithLabelValues(recovery.OutcomeVerified)))
}

func TestFindAndRecoverAcrossReports(t *testing.T) {
	v := loadFixture(t)
	report, err := AnalyzeTransaction(v.Tx, Options{})
	require.NoError(t, err)

	// Split the two inputs into separate transactions, and repeat the
	// first one as if it had been seen twice.
	a := &Report{TxID: "aa", Inputs: []InputReport{report.Inputs[0]}}
	b := &Report{TxID: "bb", Inputs: []InputReport{report.Inputs[1]}}
	again := &Report{TxID: "aa", Inputs: []InputReport{report.Inputs[0]}}

	keys, err := FindAndRecover(context.Background(), Options{}, a, b, again, nil)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, v.D, keys[0].D)
	assert.Equal(t, []InputRef{{TxID: "aa", Index: 0}, {TxID: "bb", Index: 1}}, keys[0].Inputs)
}

func TestFindAndRecoverWithoutPublicKey(t *testing.T) {
	v := loadFixture(t)
	report, err := AnalyzeTransaction(v.Tx, Options{})
	require.NoError(t, err)
	for i := range report.Inputs {
		report.Inputs[i].PublicKey = ""
	}

	keys, err := FindAndRecover(context.Background(), Options{Testnet: true}, report)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, v.D, keys[0].D)
	assert.False(t, keys[0].Verified)
	assert.NotEqual(t, v.WIF, keys[0].WIF, "testnet encoding")
}

func TestFindAndRecoverSkipsDifferentKeys(t *testing.T) {
	v := loadFixture(t)
	report, err := AnalyzeTransaction(v.Tx, Options{})
	require.NoError(t, err)
	// Generator point, a valid key that did not sign.
	report.Inputs[1].PublicKey = "0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"

	keys, err := FindAndRecover(context.Background(), Options{}, report)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestFindAndRecoverRejectsBadHex(t *testing.T) {
	_, err := FindAndRecover(context.Background(), Options{}, &Report{
		TxID:   "aa",
		Inputs: []InputReport{{R: "zz", S: "01", Z: "02"}},
	})
	assert.ErrorIs(t, err, rsz.ErrInvalidScalar)
}

func TestAnalyzeBatch(t *testing.T) {
	v := loadFixture(t)
	results := AnalyzeBatch(context.Background(), []string{v.Tx, "zz", segwitHex, v.Tx}, Options{Workers: 3})
	require.Len(t, results, 4)

	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.ErrorIs(t, results[2].Err, rsz.ErrUnsupportedTransactionType)
	assert.NoError(t, results[3].Err)
	for i, res := range results {
		assert.Equal(t, i, res.Index)
	}
	assert.Len(t, Reports(results), 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, res := range AnalyzeBatch(ctx, []string{v.Tx, v.Tx}, Options{}) {
		assert.ErrorIs(t, res.Err, context.Canceled)
	}
}

func TestDumpRoundTripRecovers(t *testing.T) {
	v := loadFixture(t)
	report, err := AnalyzeTransaction(v.Tx, Options{})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, scan.WriteDump(&buf, DumpEntries(report)))
	entries, err := scan.ParseDump(&buf)
	require.NoError(t, err)

	reports := ReportsFromDump(entries)
	require.Len(t, reports, 1)
	keys, err := FindAndRecover(context.Background(), Options{}, reports...)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, v.D, keys[0].D)
	assert.True(t, keys[0].Verified)
}

func TestFormatSizedKeepsWireWidth(t *testing.T) {
	b, _ := hex.DecodeString("00ff")
	v := new(big.Int).SetBytes(b)
	assert.Equal(t, "00ff", formatSized(v, 2))
	assert.Equal(t, "ff", formatSized(v, 1))
	assert.Equal(t, "", formatSized(nil, 2))
}
