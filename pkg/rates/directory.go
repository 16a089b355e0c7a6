// Package rates provides the per-minute route rate directory used for call
// pricing: a read-through cache with explicit TTL eviction over a backing
// rate source. Known-missing rates are cached too ("negative caching") so a
// misconfigured route does not hammer the rate store on every call.
package rates

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"mediation-server/pkg/metrics"
)

// DefaultTTL matches the historical rate-table cache expiry of ten days.
const DefaultTTL = 10 * 24 * time.Hour

// Source supplies route rates, typically from the price_tables store. The
// bool result distinguishes "no rate configured" from a lookup failure.
type Source interface {
	RoutePrice(ctx context.Context, ptgroup int, ruleID int64) (float64, bool, error)
}

type cacheEntry struct {
	rate    float64
	found   bool
	expires time.Time
}

// Directory is a concurrency-safe, TTL-cached view of a rate Source.
// Concurrent fills for the same key may race; they write the same value, so
// last write wins harmlessly.
type Directory struct {
	source      Source
	positiveTTL time.Duration
	negativeTTL time.Duration
	logger      *logrus.Logger

	mu      sync.RWMutex
	entries map[string]cacheEntry

	hits   uint64
	misses uint64
}

// Config controls cache expiry for found and not-found rates.
type Config struct {
	PositiveTTL time.Duration
	NegativeTTL time.Duration
}

// NewDirectory creates a rate directory over the given source. Zero TTLs fall
// back to DefaultTTL.
func NewDirectory(source Source, config Config, logger *logrus.Logger) *Directory {
	if config.PositiveTTL <= 0 {
		config.PositiveTTL = DefaultTTL
	}
	if config.NegativeTTL <= 0 {
		config.NegativeTTL = DefaultTTL
	}

	return &Directory{
		source:      source,
		positiveTTL: config.PositiveTTL,
		negativeTTL: config.NegativeTTL,
		logger:      logger,
		entries:     make(map[string]cacheEntry),
	}
}

func rateKey(ptgroup int, ruleID int64) string {
	return fmt.Sprintf("pt.%d.%d", ptgroup, ruleID)
}

// PriceFor returns the per-minute rate for a (price group, rule id) pair. The
// bool result is false when no rate is configured. Source failures are logged
// and reported as absence; pricing must never fail a mediation run.
func (d *Directory) PriceFor(ctx context.Context, ptgroup int, ruleID int64) (float64, bool) {
	key := rateKey(ptgroup, ruleID)
	now := time.Now()

	d.mu.RLock()
	entry, ok := d.entries[key]
	d.mu.RUnlock()

	if ok && now.Before(entry.expires) {
		d.mu.Lock()
		d.hits++
		d.mu.Unlock()
		metrics.RateCacheHit()
		return entry.rate, entry.found
	}
	metrics.RateCacheMiss()

	rate, found, err := d.source.RoutePrice(ctx, ptgroup, ruleID)
	if err != nil {
		d.logger.WithError(err).WithFields(logrus.Fields{
			"ptgroup": ptgroup,
			"ruleid":  ruleID,
		}).Error("Rate source lookup failed, treating as missing rate")
		return 0, false
	}

	ttl := d.positiveTTL
	if !found {
		ttl = d.negativeTTL
	}

	d.mu.Lock()
	d.misses++
	d.entries[key] = cacheEntry{rate: rate, found: found, expires: now.Add(ttl)}
	d.mu.Unlock()

	return rate, found
}

// Stats reports cache hit/miss counters since construction.
func (d *Directory) Stats() (hits, misses uint64) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.hits, d.misses
}

// Purge drops all cached entries, forcing fresh source lookups.
func (d *Directory) Purge() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = make(map[string]cacheEntry)
}
