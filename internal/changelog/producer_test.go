package changelog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cea-hpc/entryproc/internal/pipeline"
)

// retireAll builds a minimal pipeline whose every stage immediately retires
// the op it receives, just enough scaffolding to exercise Producer.Push*
// without pulling in the full HSM handler table.
func retireAllPipeline(t *testing.T, n int) *pipeline.Pipeline {
	t.Helper()
	stages := make([]*pipeline.Stage, n)
	for i := range stages {
		stages[i] = &pipeline.Stage{
			Index: i,
			Name:  "stub",
			Mode:  pipeline.Unbounded(),
			Handler: func(ctl *pipeline.Ctl) error {
				if cb := ctl.Op().Callback(); cb != nil {
					cb()
				}
				return ctl.Retire()
			},
		}
	}
	p, err := pipeline.New(pipeline.Options{Stages: stages, NumWorkers: 2, MaxPending: 0})
	require.NoError(t, err)
	p.Start()
	t.Cleanup(func() { p.Terminate(true) })
	return p
}

func TestProducerPushRecordAdvancesCursorOnRetire(t *testing.T) {
	p := retireAllPipeline(t, int(pipeline.StageGCOldEnt)+1)
	reader := NewMemoryReader([]Record{
		{CursorID: "c1", Payload: pipeline.ChangelogRecord{Type: pipeline.RecordSetattr, EntryId: pipeline.EntryId{Seq: 1, Oid: 1}}},
	})
	prod := NewProducer(p, reader)

	require.NoError(t, prod.pushRecord(mustNext(t, reader)))

	require.Eventually(t, func() bool {
		return len(reader.Advanced()) == 1
	}, time.Second, time.Millisecond)
	require.Equal(t, []string{"c1"}, reader.Advanced())
}

func TestProducerRunDrainsUntilExhausted(t *testing.T) {
	p := retireAllPipeline(t, int(pipeline.StageGCOldEnt)+1)
	reader := NewMemoryReader([]Record{
		{CursorID: "a", Payload: pipeline.ChangelogRecord{Type: pipeline.RecordCreate, EntryId: pipeline.EntryId{Seq: 1}}},
		{CursorID: "b", Payload: pipeline.ChangelogRecord{Type: pipeline.RecordUnlink, EntryId: pipeline.EntryId{Seq: 2}}},
	})
	prod := NewProducer(p, reader)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	prod.Start(ctx)
	prod.wg.Wait()

	require.Equal(t, 0, reader.Remaining())
	require.ElementsMatch(t, []string{"a", "b"}, reader.Advanced())
}

func TestProducerPushScanAndSweep(t *testing.T) {
	p := retireAllPipeline(t, int(pipeline.StageGCOldEnt)+1)
	reader := NewMemoryReader(nil)
	prod := NewProducer(p, reader)

	err := prod.PushScan(pipeline.EntryId{Seq: 5, Oid: 5}, pipeline.AttrSet{Mask: pipeline.AttrFullPath, FullPath: "/mnt/x"}, time.Now())
	require.NoError(t, err)

	done := make(chan struct{})
	err = prod.PushSweep(time.Now(), "/mnt", func() { close(done) })
	require.NoError(t, err)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweep callback never fired")
	}
}

func mustNext(t *testing.T, r *MemoryReader) Record {
	t.Helper()
	rec, err := r.Next(context.Background())
	require.NoError(t, err)
	return rec
}
