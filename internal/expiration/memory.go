package expiration

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryRecord struct {
	ts  time.Time
	seq uint64
}

// MemoryIndex is a process-local Index. Ties on timestamp are broken by
// write order.
type MemoryIndex struct {
	mu     sync.Mutex
	seq    uint64
	caches map[string]map[string]memoryRecord
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{caches: make(map[string]map[string]memoryRecord)}
}

func (m *MemoryIndex) SetTimestamp(_ context.Context, cache, url string, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, ok := m.caches[cache]
	if !ok {
		records = make(map[string]memoryRecord)
		m.caches[cache] = records
	}
	m.seq++
	records[url] = memoryRecord{ts: ts, seq: m.seq}
	return nil
}

func (m *MemoryIndex) Expire(_ context.Context, cache string, maxEntries int, maxAge time.Duration, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	victims := plan(m.sorted(cache), maxEntries, maxAge, now)
	for _, url := range victims {
		delete(m.caches[cache], url)
	}
	return victims, nil
}

func (m *MemoryIndex) Delete(_ context.Context, cache, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.caches[cache], url)
	return nil
}

func (m *MemoryIndex) Records(_ context.Context, cache string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(cache), nil
}

// sorted must be called with m.mu held.
func (m *MemoryIndex) sorted(cache string) []Record {
	records := m.caches[cache]
	type row struct {
		url string
		memoryRecord
	}
	rows := make([]row, 0, len(records))
	for url, r := range records {
		rows = append(rows, row{url, r})
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].ts.Equal(rows[j].ts) {
			return rows[i].ts.Before(rows[j].ts)
		}
		return rows[i].seq < rows[j].seq
	})

	out := make([]Record, len(rows))
	for i, r := range rows {
		out[i] = Record{URL: r.url, Timestamp: r.ts}
	}
	return out
}
