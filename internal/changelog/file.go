package changelog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cea-hpc/entryproc/internal/pipeline"
)

// fileRecord is the on-disk JSON-lines shape FileReader parses. The wire
// format is explicitly a non-goal (spec.md §1's Non-goals: "concrete
// changelog wire format"), so this is one convenient implementation choice
// rather than a specified contract.
type fileRecord struct {
	CursorID  string                `json:"cursor_id"`
	Type      pipeline.RecordType   `json:"type"`
	Seq       uint64                `json:"seq"`
	Oid       uint64                `json:"oid"`
	ParentSeq uint64                `json:"parent_seq,omitempty"`
	ParentOid uint64                `json:"parent_oid,omitempty"`
	Name      string                `json:"name,omitempty"`
	LastLink  bool                  `json:"last_link,omitempty"`
	Archived  bool                  `json:"archived,omitempty"`
	Dirty     bool                  `json:"dirty,omitempty"`
	HSMEvent  pipeline.HSMEventType `json:"hsm_event,omitempty"`
	HSMError  bool                  `json:"hsm_error,omitempty"`
}

// FileReader is a ChangelogReader over a newline-delimited JSON file,
// grounded on original_source's replay-driven test harness
// (entry_proc_impl.c feeds the pipeline from a captured record stream
// instead of a live changelog socket) — supplemented here into a real
// collaborator rather than only a test fixture.
//
// With Follow=false it behaves as a one-shot replay source: Next returns
// ErrExhausted once the file is fully read, the role cmd/entryprocd's
// --replay flag plays. With Follow=true it behaves like `tail -f`, polling
// for newly appended lines — the closest a plain file can come to acting as
// a live changelog source without a real Lustre changelog binding (the
// examples pack surfaces no Go binding for one).
type FileReader struct {
	mu      sync.Mutex
	f       *os.File
	scanner *bufio.Scanner
	follow  bool
	advance []string
}

// NewFileReader opens path and returns a FileReader. follow=true tails the
// file for new records instead of exhausting at EOF.
func NewFileReader(path string, follow bool) (*FileReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("changelog: open %s: %w", path, err)
	}
	return &FileReader{
		f:       f,
		scanner: bufio.NewScanner(f),
		follow:  follow,
	}, nil
}

// Next returns the next record, blocking (Follow mode) or returning
// ErrExhausted (one-shot mode) once the file has no more lines.
func (r *FileReader) Next(ctx context.Context) (Record, error) {
	for {
		r.mu.Lock()
		ok := r.scanner.Scan()
		line := r.scanner.Bytes()
		lineCopy := append([]byte(nil), line...)
		err := r.scanner.Err()
		r.mu.Unlock()

		if err != nil {
			return Record{}, fmt.Errorf("changelog: read %s: %w", r.f.Name(), err)
		}
		if ok {
			var fr fileRecord
			if err := json.Unmarshal(lineCopy, &fr); err != nil {
				return Record{}, fmt.Errorf("changelog: decode record: %w", err)
			}
			return Record{
				CursorID: fr.CursorID,
				Payload: pipeline.ChangelogRecord{
					Type:     fr.Type,
					EntryId:  pipeline.EntryId{Seq: fr.Seq, Oid: fr.Oid},
					ParentID: pipeline.EntryId{Seq: fr.ParentSeq, Oid: fr.ParentOid},
					Name:     fr.Name,
					LastLink: fr.LastLink,
					Archived: fr.Archived,
					Dirty:    fr.Dirty,
					HSMEvent: fr.HSMEvent,
					HSMError: fr.HSMError,
				},
			}, nil
		}

		if !r.follow {
			return Record{}, ErrExhausted
		}
		select {
		case <-ctx.Done():
			return Record{}, ctx.Err()
		case <-time.After(500 * time.Millisecond):
			r.resetScannerPastEOF()
		}
	}
}

// resetScannerPastEOF lets bufio.Scanner pick up lines appended after the
// previous Scan hit a (transient) EOF: the file's read offset already sits
// at end-of-what-existed, so a fresh Scanner over the same *os.File simply
// resumes from there once more bytes land.
func (r *FileReader) resetScannerPastEOF() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scanner = bufio.NewScanner(r.f)
}

// Advance is a no-op: a plain file has no separate cursor store, so
// progress is only ever "how far Next has read", which the OS file offset
// already tracks. Recorded for inspection in tests.
func (r *FileReader) Advance(cursorID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advance = append(r.advance, cursorID)
	return nil
}

// Advanced returns every cursor ID Advance has been called with, in order.
func (r *FileReader) Advanced() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.advance...)
}

// Close releases the underlying file handle.
func (r *FileReader) Close() error {
	return r.f.Close()
}
