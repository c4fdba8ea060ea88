package pipeline

import (
	"sync"
	"time"
)

// StageQueue is the per-stage doubly linked list of ops currently hooked
// at this stage, plus its counters (C3, spec.md §3). Locked independently
// of every other stage's queue; stages are always locked in ascending
// index order when more than one is touched in the same call (spec.md
// §4.3, §5).
type StageQueue struct {
	stage *Stage

	mu sync.Mutex

	head, tail *Op
	waiting    int
	running    int
	done       int // ops that finished this stage and await forward movement

	processed int64
	totalTime time.Duration
}

func newStageQueue(s *Stage) *StageQueue { return &StageQueue{stage: s} }

// pushBack links op at the tail of the list. Caller must hold q.mu.
func (q *StageQueue) pushBack(op *Op) {
	if q.tail == nil {
		q.head, q.tail = op, op
	} else {
		op.stagePrev = q.tail
		q.tail.stageNext = op
		q.tail = op
	}
}

// remove unlinks op from the list. Caller must hold q.mu.
func (q *StageQueue) remove(op *Op) {
	if op.stagePrev != nil {
		op.stagePrev.stageNext = op.stageNext
	} else if q.head == op {
		q.head = op.stageNext
	}
	if op.stageNext != nil {
		op.stageNext.stagePrev = op.stagePrev
	} else if q.tail == op {
		q.tail = op.stagePrev
	}
	op.stagePrev, op.stageNext = nil, nil
}

// Counts returns a snapshot of (waiting, running, done) under the lock.
func (q *StageQueue) Counts() (waiting, running, done int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.waiting, q.running, q.done
}

// Stats returns the cumulative processed count and total wall time spent in
// this stage's handler (C8, spec.md §4.8).
func (q *StageQueue) Stats() (processed int64, total time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processed, q.totalTime
}

// Ends returns short descriptors of the head and tail ops for dump()
// (spec.md §4.8's "first/last descriptor"). descr is supplied by the
// caller since only handler-layer code knows how to render an Op (path vs.
// changelog record id).
func (q *StageQueue) Ends(descr func(*Op) string) (first, last string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head != nil {
		first = descr(q.head)
	}
	if q.tail != nil {
		last = descr(q.tail)
	}
	return first, last
}
