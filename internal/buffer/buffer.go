package buffer

import (
	"sync"

	"stockfeed-service/internal/feed"
)

// TickBuffer accumulates parsed tick records pending the next flush. Append,
// DrainAll and Size share one mutex so a drain is atomic: it returns exactly
// the records appended before it began and leaves the buffer empty.
type TickBuffer struct {
	mu      sync.Mutex
	records []feed.TickRecord
}

// New creates an empty buffer.
func New() *TickBuffer {
	return &TickBuffer{}
}

// Append adds one record to the buffer.
func (b *TickBuffer) Append(record feed.TickRecord) {
	b.mu.Lock()
	b.records = append(b.records, record)
	b.mu.Unlock()
}

// DrainAll atomically removes and returns the full buffer contents in append
// order. Ownership of the returned slice transfers to the caller; no record
// can appear in two consecutive drains.
func (b *TickBuffer) DrainAll() []feed.TickRecord {
	b.mu.Lock()
	drained := b.records
	b.records = nil
	b.mu.Unlock()
	return drained
}

// Size returns the current number of buffered records. Observability only.
func (b *TickBuffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}
