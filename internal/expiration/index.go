// Package expiration keeps the eviction index for runtime caches: one
// record per cached URL holding the time it was last written, so that
// caches without native eviction can be trimmed by age and by count.
package expiration

import (
	"context"
	"time"
)

// Record is the last-write time of one cached URL.
type Record struct {
	URL       string
	Timestamp time.Time
}

// Index is the durable per-cache-name eviction index.
type Index interface {
	// SetTimestamp inserts or refreshes the record for url.
	SetTimestamp(ctx context.Context, cache, url string, ts time.Time) error

	// Expire removes and returns every record older than maxAge, then the
	// oldest remaining records beyond maxEntries. Zero disables a limit.
	Expire(ctx context.Context, cache string, maxEntries int, maxAge time.Duration, now time.Time) ([]string, error)

	// Delete drops the record for url, if any.
	Delete(ctx context.Context, cache, url string) error

	// Records lists the records of cache, oldest first. Records sharing a
	// timestamp are listed in write order.
	Records(ctx context.Context, cache string) ([]Record, error)
}

// plan splits ordered records (oldest first) into the URLs to drop.
// The age pass runs first; the count pass only sees what survived it.
func plan(records []Record, maxEntries int, maxAge time.Duration, now time.Time) []string {
	var victims []string

	remaining := records
	if maxAge > 0 {
		cutoff := now.Add(-maxAge)
		i := 0
		for ; i < len(remaining) && remaining[i].Timestamp.Before(cutoff); i++ {
			victims = append(victims, remaining[i].URL)
		}
		remaining = remaining[i:]
	}

	if maxEntries > 0 && len(remaining) > maxEntries {
		for _, r := range remaining[:len(remaining)-maxEntries] {
			victims = append(victims, r.URL)
		}
	}

	return victims
}
