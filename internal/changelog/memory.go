package changelog

import (
	"context"
	"sync"
)

// MemoryReader is an in-memory ChangelogReader: a fixed slice of records
// served in order, one per Next call, ErrExhausted once drained. Used by
// unit tests, and by cmd/entryprocd as an empty reader when no changelog
// source is configured; the --replay mode reads its file with FileReader.
type MemoryReader struct {
	mu       sync.Mutex
	records  []Record
	pos      int
	advanced []string
}

// NewMemoryReader returns a reader serving records in order.
func NewMemoryReader(records []Record) *MemoryReader {
	return &MemoryReader{records: records}
}

func (r *MemoryReader) Next(ctx context.Context) (Record, error) {
	select {
	case <-ctx.Done():
		return Record{}, ctx.Err()
	default:
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pos >= len(r.records) {
		return Record{}, ErrExhausted
	}
	rec := r.records[r.pos]
	r.pos++
	return rec, nil
}

func (r *MemoryReader) Advance(cursorID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advanced = append(r.advanced, cursorID)
	return nil
}

// Advanced returns the cursor ids passed to Advance, in call order. Test
// helper, not part of ChangelogReader.
func (r *MemoryReader) Advanced() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.advanced...)
}

// Remaining reports how many records have not yet been handed out.
func (r *MemoryReader) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records) - r.pos
}
