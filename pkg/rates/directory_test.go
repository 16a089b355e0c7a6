package rates

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu    sync.Mutex
	rates map[string]float64
	calls int
	err   error
}

func (f *fakeSource) RoutePrice(_ context.Context, ptgroup int, ruleID int64) (float64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return 0, false, f.err
	}
	rate, ok := f.rates[rateKey(ptgroup, ruleID)]
	return rate, ok, nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestPriceForCachesPositive(t *testing.T) {
	src := &fakeSource{rates: map[string]float64{"pt.5.204012": 0.00159}}
	dir := NewDirectory(src, Config{}, testLogger())

	rate, found := dir.PriceFor(context.Background(), 5, 204012)
	require.True(t, found)
	require.Equal(t, 0.00159, rate)

	rate, found = dir.PriceFor(context.Background(), 5, 204012)
	require.True(t, found)
	require.Equal(t, 0.00159, rate)
	require.Equal(t, 1, src.calls, "second lookup must be served from cache")

	hits, misses := dir.Stats()
	require.Equal(t, uint64(1), hits)
	require.Equal(t, uint64(1), misses)
}

func TestPriceForCachesNegative(t *testing.T) {
	src := &fakeSource{rates: map[string]float64{}}
	dir := NewDirectory(src, Config{}, testLogger())

	_, found := dir.PriceFor(context.Background(), 9, 666)
	require.False(t, found)

	_, found = dir.PriceFor(context.Background(), 9, 666)
	require.False(t, found)
	require.Equal(t, 1, src.calls, "missing rate must be negative-cached")
}

func TestPriceForExpiry(t *testing.T) {
	src := &fakeSource{rates: map[string]float64{"pt.1.1": 0.01}}
	dir := NewDirectory(src, Config{PositiveTTL: time.Nanosecond, NegativeTTL: time.Nanosecond}, testLogger())

	dir.PriceFor(context.Background(), 1, 1)
	time.Sleep(time.Millisecond)
	dir.PriceFor(context.Background(), 1, 1)

	require.Equal(t, 2, src.calls, "expired entry must be refetched")
}

func TestPriceForSourceErrorIsAbsence(t *testing.T) {
	src := &fakeSource{err: errors.New("store down")}
	dir := NewDirectory(src, Config{}, testLogger())

	rate, found := dir.PriceFor(context.Background(), 1, 2)
	require.False(t, found)
	require.Zero(t, rate)

	// errors are not cached; the next lookup retries the source
	dir.PriceFor(context.Background(), 1, 2)
	require.Equal(t, 2, src.calls)
}

func TestPurge(t *testing.T) {
	src := &fakeSource{rates: map[string]float64{"pt.1.1": 0.01}}
	dir := NewDirectory(src, Config{}, testLogger())

	dir.PriceFor(context.Background(), 1, 1)
	dir.Purge()
	dir.PriceFor(context.Background(), 1, 1)

	require.Equal(t, 2, src.calls)
}
