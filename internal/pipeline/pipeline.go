package pipeline

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Options configures a Pipeline at construction time. Immutable for the
// pipeline's lifetime (spec.md §9: "Configuration is immutable for the
// pipeline's lifetime; reload builds a new pipeline").
type Options struct {
	// Stages must be supplied in ascending Index order, Index 0..len-1,
	// with no gaps; this is the "handler dispatch is table-driven" design
	// note from spec.md §9 — different pipeline flavors are different
	// tables built at construction time.
	Stages []*Stage

	// NumWorkers is the worker pool size (C5).
	NumWorkers int

	// MaxPending is the admission semaphore's initial value (C1). 0 means
	// unbounded.
	MaxPending int
}

// Pipeline is the bounded, staged entry-processor core (spec.md §2-§5).
type Pipeline struct {
	stages []*Stage
	queues []*StageQueue

	idIndex   *IdIndex
	nameIndex *NameIndex
	admission *admission

	schedMu sync.Mutex
	cond    *sync.Cond

	done     chan struct{}
	doneOnce sync.Once
	flush    bool
	term     int32 // atomic bool: terminating

	pool *WorkerPool

	// describe renders a queue head/tail op for Dump/DumpJSON (C8, spec.md
	// §4.8); defaultDescribe when unset.
	describe Describe
}

// New builds a Pipeline from opts. Stages are validated to be a dense,
// zero-based, ascending sequence (a construction-time configuration error,
// per spec.md §7's "Configuration errors: surfaced at init").
func New(opts Options) (*Pipeline, error) {
	if len(opts.Stages) == 0 {
		return nil, fmt.Errorf("pipeline: no stages configured")
	}
	for i, s := range opts.Stages {
		if s.Index != i {
			return nil, fmt.Errorf("pipeline: stage %q has index %d, want %d (stages must be dense and ascending)", s.Name, s.Index, i)
		}
		if s.Handler == nil {
			return nil, fmt.Errorf("pipeline: stage %q has no handler", s.Name)
		}
	}

	p := &Pipeline{
		stages:    opts.Stages,
		queues:    make([]*StageQueue, len(opts.Stages)),
		idIndex:   NewIdIndex(),
		nameIndex: NewNameIndex(),
		admission: newAdmission(opts.MaxPending),
		done:      make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.schedMu)
	for i, s := range opts.Stages {
		p.queues[i] = newStageQueue(s)
	}
	p.pool = newWorkerPool(p, opts.NumWorkers)
	return p, nil
}

func (p *Pipeline) terminating() bool { return atomic.LoadInt32(&p.term) != 0 }

// Start launches the worker pool (C5, C7).
func (p *Pipeline) Start() { p.pool.Start() }

// Push admits op into the pipeline at startStage, blocking on the
// admission semaphore if max_pending is saturated (spec.md §4.1, §6.1).
// Producers must have already filled in at least one of (id, fullpath)
// and any extra/callback before calling Push.
func (p *Pipeline) Push(op *Op, startStage int) error {
	if startStage < 0 || startStage >= len(p.stages) {
		return fmt.Errorf("pipeline: start stage %d out of range", startStage)
	}
	if err := p.admission.acquire(p.done); err != nil {
		return err
	}
	op.setStage(startStage)
	p.idIndex.Register(op, false)
	p.nameIndex.Register(op)
	p.placeForward(op, 0, startStage)
	p.wake()
	return nil
}

// placeForward implements the "insert at first non-empty earlier stage"
// admission/movement rule (spec.md §4.3): scan stages [from, target] in
// ascending order, locking one at a time, and link op into the first one
// found non-empty (or target itself if all are empty). See spec.md §9's
// open question on this rule's ordering proof, and DESIGN.md for the
// randomized test that stands in for a formal one.
func (p *Pipeline) placeForward(op *Op, from, target int) {
	insertStage := target
	for j := from; j <= target; j++ {
		q := p.queues[j]
		q.mu.Lock()
		nonEmpty := q.waiting+q.running+q.done > 0
		q.mu.Unlock()
		if nonEmpty {
			insertStage = j
			break
		}
	}
	q := p.queues[insertStage]
	q.mu.Lock()
	q.pushBack(op)
	if insertStage == target {
		q.waiting++
	} else {
		q.done++
	}
	q.mu.Unlock()
}

// drainForward detaches the maximal prefix of ops on stage i that have
// already advanced past it (stage > i) and aren't running, and re-inserts
// each at its own target using the same rule (spec.md §4.3 "Movement").
// Called after any mutation of stage i's list.
func (p *Pipeline) drainForward(i int) {
	q := p.queues[i]
	q.mu.Lock()
	var prefix []*Op
	op := q.head
	for op != nil && op.Stage() > i && !op.running() {
		next := op.stageNext
		q.remove(op)
		q.done--
		prefix = append(prefix, op)
		op = next
	}
	q.mu.Unlock()

	for _, o := range prefix {
		p.placeForward(o, i+1, o.Stage())
	}
	if len(prefix) > 0 {
		p.wake()
	}
}

// Ctl is passed to a stage Handler so it can advance or retire the op it
// was given, and reach the pipeline's collaborators (spec.md §6.2).
type Ctl struct {
	p     *Pipeline
	op    *Op
	stage *Stage
}

// Op returns the operation this Ctl governs.
func (c *Ctl) Op() *Op { return c.op }

// Stage returns the stage whose handler is currently executing.
func (c *Ctl) Stage() *Stage { return c.stage }

// Ack advances op to nextStage (spec.md §6.2's acknowledge(op, next, false)).
// nextStage must be strictly greater than the op's current stage.
func (c *Ctl) Ack(nextStage int) error { return c.p.acknowledge(c.op, nextStage, false) }

// Retire removes op from the pipeline: unregisters it from the id/name
// indexes, frees its extra payload, releases its admission permit, and
// detaches it from its stage list. Does NOT invoke op.Callback() — the
// CHGLOG_CLR handler does that after a durable DB_APPLY, and the GC_OLDENT
// handler after its sweep (invariant 5).
func (c *Ctl) Retire() error { return c.p.acknowledge(c.op, 0, true) }

// ResolveId is called by GET_ID once it has discovered the id of an op that
// was pushed with only a (parent_id, name) key (spec.md §4.2, second
// paragraph). It records the id and migrates the op out of NameIndex and
// into IdIndex, so ID_CONSTRAINT stages downstream gate on the id FIFO
// instead of the now-stale name FIFO.
func (c *Ctl) ResolveId(id EntryId) {
	c.op.SetId(id)
	c.p.nameIndex.Unregister(c.op)
	c.op.ClearNameKey()
	c.p.idIndex.Register(c.op, false)
}

// acknowledge implements spec.md §6.2. It is a hard error (AckError) to
// acknowledge an op that is not currently marked running at its declared
// stage — e.g. a double-acknowledge, or acknowledging stale state.
func (p *Pipeline) acknowledge(op *Op, nextStage int, remove bool) error {
	cur := op.Stage()
	if !remove && nextStage <= cur {
		return &AckError{OpRunID: op.RunID, FromStage: cur, TargetStage: nextStage, Reason: "target stage must be strictly forward"}
	}
	if cur < 0 || cur >= len(p.queues) {
		return &AckError{OpRunID: op.RunID, FromStage: cur, TargetStage: nextStage, Reason: "op stage out of range"}
	}

	q := p.queues[cur]
	q.mu.Lock()
	if !op.running() {
		q.mu.Unlock()
		return &AckError{OpRunID: op.RunID, FromStage: cur, TargetStage: nextStage, Reason: "op is not running"}
	}
	q.remove(op)
	q.running--
	q.processed++
	q.totalTime += p.now().Sub(op.StartTime())
	q.mu.Unlock()
	op.clearRunning()

	if remove {
		p.idIndex.Unregister(op)
		p.nameIndex.Unregister(op)
		if e := op.Extra(); e != nil {
			e.Free()
		}
		p.admission.release()
		p.drainForward(cur)
		p.wake()
		return nil
	}

	op.setStage(nextStage)
	p.placeForward(op, cur+1, nextStage)
	p.drainForward(cur)
	p.wake()
	return nil
}

// Terminate drains the pipeline and joins all workers (C7, spec.md §4.7).
// With flush=true it waits for every pushed op to be retired. With
// flush=false the scheduler returns as soon as nothing is runnable even if
// ops remain linked (used by tests) — those ops leak (spec.md §5,
// "Cancellation & timeouts").
func (p *Pipeline) Terminate(flush bool) {
	p.flush = flush
	p.doneOnce.Do(func() {
		atomic.StoreInt32(&p.term, 1)
		close(p.done)
	})
	p.wake()
	p.pool.Wait()
}

// Stages exposes the stage table for observability/dump code.
func (p *Pipeline) Stages() []*Stage { return p.stages }

// Queue returns the StageQueue for stage index i.
func (p *Pipeline) Queue(i int) *StageQueue { return p.queues[i] }

// AdmissionInUse returns how many admission permits are checked out, or -1
// if the pipeline is unbounded. For tests/observability (spec.md property
// 1: "live ops <= max_pending").
func (p *Pipeline) AdmissionInUse() int { return p.admission.inUse() }

// WorkerHealth returns a snapshot of every worker (C8).
func (p *Pipeline) WorkerHealth() []WorkerHealth { return p.pool.Health() }
