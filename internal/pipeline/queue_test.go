package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStageQueuePushBackAndRemove(t *testing.T) {
	q := newStageQueue(&Stage{Index: 0, Name: "q"})
	a, b, c := NewOp(), NewOp(), NewOp()

	q.pushBack(a)
	q.pushBack(b)
	q.pushBack(c)
	require.Equal(t, a, q.head)
	require.Equal(t, c, q.tail)

	q.remove(b)
	require.Equal(t, a, q.head)
	require.Equal(t, c, q.head.stageNext)

	q.remove(a)
	require.Equal(t, c, q.head)
	require.Nil(t, q.head.stagePrev)

	q.remove(c)
	require.Nil(t, q.head)
	require.Nil(t, q.tail)
}

func TestStageQueueCountsAndStatsSnapshot(t *testing.T) {
	q := newStageQueue(&Stage{Index: 0, Name: "q"})
	q.waiting = 2
	q.running = 1
	q.done = 3
	q.processed = 7
	q.totalTime = 42 * time.Millisecond

	waiting, running, done := q.Counts()
	require.Equal(t, 2, waiting)
	require.Equal(t, 1, running)
	require.Equal(t, 3, done)

	processed, total := q.Stats()
	require.Equal(t, int64(7), processed)
	require.Equal(t, 42*time.Millisecond, total)
}

func TestStageQueueEndsUsesSuppliedDescriber(t *testing.T) {
	q := newStageQueue(&Stage{Index: 0, Name: "q"})
	a, b := NewOp(), NewOp()
	a.RunID = "first"
	b.RunID = "second"
	q.pushBack(a)
	q.pushBack(b)

	first, last := q.Ends(func(o *Op) string { return o.RunID })
	require.Equal(t, "first", first)
	require.Equal(t, "second", last)
}

func TestStageQueueEndsEmptyReturnsBlank(t *testing.T) {
	q := newStageQueue(&Stage{Index: 0, Name: "q"})
	first, last := q.Ends(func(o *Op) string { return o.RunID })
	require.Empty(t, first)
	require.Empty(t, last)
}
