package billing

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func i64(v int64) *int64 { return &v }
func iptr(v int) *int    { return &v }

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func testConfig() DirectoryConfig {
	return DirectoryConfig{
		Default: ProfileConfig{
			R1:      i64(6),
			R2:      i64(6),
			PTGroup: iptr(1),
		},
		Carriers: []ProfileConfig{
			{Code3: "ryn", Code5: "10112", BTN: "17320000000", PTGroup: iptr(10)},
			{Code3: "qkc", Code5: "10015", BTN: "8641139707285", R1: i64(6), R2: i64(6), PTGroup: iptr(5), PerSecondCountry: "MX"},
			{Code3: "a22", Code5: "39781", PTGroup: iptr(9)},
		},
	}
}

func TestRoundSeconds(t *testing.T) {
	cases := []struct {
		connected, r1, r2, want int64
	}{
		{61, 60, 6, 66},
		{1, 60, 6, 60},
		{0, 60, 6, 0},
		{37, 1, 1, 37},
		{37, 24, 6, 42},
		{37, 25, 6, 37},
		{37, 29, 6, 41},
		{37, 6, 6, 42},
		{37, 30, 6, 42},
		{37, 0, 6, 42},
	}

	for _, tc := range cases {
		got := RoundSeconds(tc.connected, tc.r1, tc.r2)
		require.Equalf(t, tc.want, got, "round(%d) with r1=%d r2=%d", tc.connected, tc.r1, tc.r2)
	}
}

func TestRoundedBillingSecondsPerSecondOverride(t *testing.T) {
	dir, err := NewDirectory(testConfig(), testLogger())
	require.NoError(t, err)

	p, ok := dir.Resolve("qkc")
	require.True(t, ok)

	// domestic callee uses the configured 6/6 intervals
	require.Equal(t, int64(42), p.RoundedBillingSeconds(37, "+15032223333"))

	// Mexico callee bills exact per-second
	require.Equal(t, int64(37), p.RoundedBillingSeconds(37, "+52111222333"))
	require.Equal(t, int64(1), p.RoundedBillingSeconds(1, "+52111222333"))
}

func TestDirectoryDefaultMerge(t *testing.T) {
	dir, err := NewDirectory(testConfig(), testLogger())
	require.NoError(t, err)

	p, ok := dir.Resolve("ryn")
	require.True(t, ok)
	require.Equal(t, "10112", p.Code5)
	require.Equal(t, int64(6), p.R1, "rounding intervals inherit the default")
	require.Equal(t, int64(6), p.R2)
	require.Equal(t, 10, p.PTGroup)
	require.Equal(t, "17320000000", p.BTN)
}

func TestDirectoryUnknownAndEmptyCarrier(t *testing.T) {
	dir, err := NewDirectory(testConfig(), testLogger())
	require.NoError(t, err)

	_, ok := dir.Resolve("")
	require.False(t, ok)

	p, ok := dir.Resolve("zzz")
	require.True(t, ok, "unknown carriers fall back to the default profile")
	require.Equal(t, "???", p.Code3)
	require.Equal(t, "?????", p.Code5)
	require.Equal(t, 1, p.PTGroup)
}

func TestDirectoryRejectsZeroIntervals(t *testing.T) {
	cfg := testConfig()
	cfg.Carriers = append(cfg.Carriers, ProfileConfig{Code3: "bad", Code5: "00000", R1: i64(0), R2: i64(0)})

	_, err := NewDirectory(cfg, testLogger())
	require.ErrorIs(t, err, ErrInvalidRounding)

	cfg = DirectoryConfig{Default: ProfileConfig{R1: i64(0), R2: i64(0)}}
	_, err = NewDirectory(cfg, testLogger())
	require.ErrorIs(t, err, ErrInvalidRounding)
}

type fixedRates struct {
	rate  float64
	found bool
}

func (f fixedRates) PriceFor(context.Context, int, int64) (float64, bool) {
	return f.rate, f.found
}

func TestCallPrice(t *testing.T) {
	dir, err := NewDirectory(testConfig(), testLogger())
	require.NoError(t, err)

	p, _ := dir.Resolve("a22")

	price, ptgroup := p.CallPrice(context.Background(), fixedRates{rate: 0.00159, found: true}, 204012, 66, "cid1", testLogger())
	require.Equal(t, 9, ptgroup)
	require.InDelta(t, 0.00159*66/60.0, price, 1e-12)

	// missing rate prices at zero, never errors
	price, _ = p.CallPrice(context.Background(), fixedRates{}, 204012, 66, "cid1", testLogger())
	require.Zero(t, price)

	// zero billable seconds never hits the rate directory
	price, _ = p.CallPrice(context.Background(), fixedRates{rate: 1, found: true}, 204012, 0, "cid1", testLogger())
	require.Zero(t, price)
}
