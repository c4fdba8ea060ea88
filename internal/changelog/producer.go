package changelog

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cea-hpc/entryproc/internal/pipeline"
)

// Producer bridges a ChangelogReader (and, separately, tree-scan results)
// to pipeline.Pipeline.Push, the role spec.md §2 assigns to "a producer"
// without specifying its shape (§1's Non-goals explicitly exclude the
// changelog reader and scanner from the core).
type Producer struct {
	pipe   *pipeline.Pipeline
	reader ChangelogReader
	log    *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewProducer returns a Producer reading from reader and pushing into pipe.
func NewProducer(pipe *pipeline.Pipeline, reader ChangelogReader) *Producer {
	return &Producer{
		pipe:   pipe,
		reader: reader,
		log:    slog.With("component", "changelog_producer"),
		stopCh: make(chan struct{}),
	}
}

// Start begins the changelog polling loop in a goroutine. Stop joins it.
func (p *Producer) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.run(ctx)
}

// Stop signals the polling loop to exit and waits for it to return.
func (p *Producer) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

func (p *Producer) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		rec, err := p.reader.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrExhausted) {
				p.log.Info("changelog source exhausted")
				return
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			p.log.Error("changelog read failed", "error", err)
			continue
		}

		if err := p.pushRecord(rec); err != nil {
			p.log.Error("push changelog op failed", "error", err, "cursor", rec.CursorID)
		}
	}
}

// pushRecord builds an Op carrying rec. Most changelog records already carry
// a resolved id and skip GET_ID, admitting directly at GET_INFO_DB (spec.md
// §4.6). A record whose source couldn't resolve the FID up front (some
// CREATE/RENAME records on older changelog formats) carries a zero EntryId
// instead; it is ordered on (parent_id, name) and admitted at GET_ID, which
// resolves and migrates it into the id index (spec.md §4.2, second
// paragraph).
func (p *Producer) pushRecord(rec Record) error {
	op := pipeline.NewOp()
	op.SetExtra(pipeline.ChangelogExtra{Record: rec.Payload})

	reader := p.reader
	cursorID := rec.CursorID
	op.SetCallback(func() {
		if err := reader.Advance(cursorID); err != nil {
			slog.Error("changelog cursor advance failed", "error", err, "cursor", cursorID)
		}
	})

	if rec.Payload.EntryId.IsZero() {
		op.SetNameKey(rec.Payload.ParentID, rec.Payload.Name)
		return p.pipe.Push(op, pipeline.StageGetID)
	}

	op.SetId(rec.Payload.EntryId)
	return p.pipe.Push(op, pipeline.StageGetInfoDB)
}

// PushScan admits a tree-walker result. attrs carries the attr+path pair
// the scanner already resolved (spec.md §4.6: "For FS-scan ops: attr+path
// are already supplied by the scanner"), so it too starts at GET_INFO_DB.
func (p *Producer) PushScan(id pipeline.EntryId, attrs pipeline.AttrSet, scanStart time.Time) error {
	op := pipeline.NewOp()
	op.SetId(id)
	op.SetFSAttrs(attrs)
	op.SetExtra(pipeline.ScanExtra{ScanStartTime: scanStart})
	return p.pipe.Push(op, pipeline.StageGetInfoDB)
}

// PushSweep admits a producer-submitted GC_OLDENT sweep op at the end of a
// full (or prefix-scoped) scan (spec.md §4.6). cb, if non-nil, is invoked
// once the sweep is retired.
func (p *Producer) PushSweep(watermark time.Time, pathPrefix string, cb pipeline.Callback) error {
	op := pipeline.NewOp()
	op.SetExtra(pipeline.SweepExtra{Watermark: watermark, PathPrefix: pathPrefix})
	if cb != nil {
		op.SetCallback(cb)
	}
	return p.pipe.Push(op, pipeline.StageGCOldEnt)
}
