// Package changelog implements the producer side of the pipeline: reading
// changelog records (and, less formally, scan results) and turning them
// into pipeline.Op values pushed through pipeline.Pipeline (spec.md §6.1,
// §6.3's ChangelogReader).
package changelog

import (
	"context"
	"errors"

	"github.com/cea-hpc/entryproc/internal/pipeline"
)

// ErrExhausted is returned by Next when a finite source (MemoryReader in
// replay mode) has no further records. A live changelog reader never
// returns it; it blocks instead.
var ErrExhausted = errors.New("changelog: no more records")

// Record pairs a pipeline.ChangelogRecord with the cursor token the source
// needs to durably advance past it.
type Record struct {
	CursorID string
	Payload  pipeline.ChangelogRecord
}

// ChangelogReader is the producer-side collaborator named by spec.md §6.3:
// "provides records and receives callbacks to advance its cursor." The core
// never calls this directly; a Producer bridges it to Pipeline.Push.
type ChangelogReader interface {
	// Next blocks until a record is available or ctx is cancelled. Returns
	// ErrExhausted when the source is a finite, replayed stream.
	Next(ctx context.Context) (Record, error)
	// Advance commits that every record up to and including cursorID has
	// been durably applied. Only ever invoked from CHGLOG_CLR, via the
	// op's callback (spec.md §4.6, §6.2).
	Advance(cursorID string) error
}
