package pipeline

import "time"

// dispatch is one scheduling decision: an eligible op together with the
// stage whose handler should run next (C4, spec.md §4.4).
type dispatch struct {
	op    *Op
	stage *Stage
}

// scanOnce implements next_runnable's single pass over the stages, high
// index to low (spec.md §4.4). Returns a dispatch when something is
// eligible; otherwise reports whether the pipeline is non-empty (some
// stage has waiting ops, just none eligible right now).
func (p *Pipeline) scanOnce() (d dispatch, nonEmpty bool) {
	for i := len(p.stages) - 1; i >= 0; i-- {
		stage := p.stages[i]
		q := p.queues[i]

		q.mu.Lock()
		if q.waiting == 0 {
			q.mu.Unlock()
			continue
		}
		if limit, limited := stage.Mode.limit(); limited && q.running >= limit {
			nonEmpty = true
			q.mu.Unlock()
			continue
		}

		for op := q.head; op != nil; op = op.stageNext {
			if op.Stage() > i || op.running() {
				continue
			}
			if stage.IDConstraint {
				if _, idSet := op.Id(); idSet && !p.idIndex.IsHead(op) {
					continue
				}
				if _, _, nameSet := op.NameKey(); nameSet && !p.nameIndex.IsHead(op) {
					continue
				}
			}
			op.markRunning(p.now())
			q.waiting--
			q.running++
			q.mu.Unlock()
			return dispatch{op: op, stage: stage}, true
		}
		nonEmpty = true
		q.mu.Unlock()
	}
	return dispatch{}, nonEmpty
}

// now exists so tests can stub time if ever needed; production always uses
// the wall clock.
func (p *Pipeline) now() time.Time { return time.Now() }

// nextRunnable blocks until an op is eligible to run or the pipeline is
// done, implementing spec.md §4.4's condvar wait/wake discipline: "The
// caller blocks on a condition variable when non-empty and no op is
// available; it exits with nil only when empty && terminating."
//
// Terminate(flush=false) is a forced stop: workers return nil the moment
// nothing is immediately runnable, even with ops still linked. Outside of
// termination (p.flush's value is meaningless until Terminate is called)
// a worker always waits for more work rather than exiting.
func (p *Pipeline) nextRunnable() dispatch {
	p.schedMu.Lock()
	defer p.schedMu.Unlock()
	for {
		d, nonEmpty := p.scanOnce()
		if d.op != nil {
			return d
		}
		if p.terminating() {
			if !p.flush || !nonEmpty {
				return dispatch{}
			}
		}
		p.cond.Wait()
	}
}

// wake signals the scheduler condvar. Acquires schedMu around the signal
// (not around whatever state change preceded it) so a waiter that's
// between its scan and its Wait() call cannot miss the wakeup, which a
// Broadcast made without holding schedMu could not guarantee.
func (p *Pipeline) wake() {
	p.schedMu.Lock()
	p.cond.Broadcast()
	p.schedMu.Unlock()
}
