package pipeline

// ConcurrencyMode models the SEQUENTIAL / MAX_THREADS / PARALLEL flag group
// as a tagged variant rather than a bitfield, per spec.md §9's design note
// ("model stage parallelism as a tagged variant {Sequential, Bounded(n),
// Unbounded} rather than a bitfield"). FORCE_SEQ collapses into Sequential;
// it was a mode switch in the source, never an independent flag.
type ConcurrencyMode struct {
	kind      concurrencyKind
	maxThreads int // only meaningful when kind == kindBounded
}

type concurrencyKind int

const (
	kindUnbounded concurrencyKind = iota
	kindBounded
	kindSequential
)

// Sequential is a stage with at most one op running at a time, processed in
// FIFO arrival order (spec.md invariant 4).
func Sequential() ConcurrencyMode { return ConcurrencyMode{kind: kindSequential} }

// Bounded is a stage with at most n ops running concurrently (spec.md
// invariant 5). n must be >= 1.
func Bounded(n int) ConcurrencyMode { return ConcurrencyMode{kind: kindBounded, maxThreads: n} }

// Unbounded is a stage with no concurrency cap beyond the worker pool size.
func Unbounded() ConcurrencyMode { return ConcurrencyMode{kind: kindUnbounded} }

func (m ConcurrencyMode) limit() (n int, limited bool) {
	switch m.kind {
	case kindSequential:
		return 1, true
	case kindBounded:
		return m.maxThreads, true
	default:
		return 0, false
	}
}

func (m ConcurrencyMode) String() string {
	switch m.kind {
	case kindSequential:
		return "sequential"
	case kindBounded:
		return "bounded"
	default:
		return "unbounded"
	}
}

// Handler is a stage's business logic. It must call exactly one of
// Ctl.Ack/Ctl.Retire before returning (spec.md §6.2); the Ctl passed in
// captures which op and which pipeline to act on so handlers stay free
// functions instead of methods on Op.
type Handler func(ctl *Ctl) error

// Stage is a pipeline step: an index, a handler, and concurrency/ordering
// flags (spec.md §3's Stage, C6 of §2).
type Stage struct {
	Index int
	Name  string

	Handler Handler
	Mode    ConcurrencyMode

	// IDConstraint restricts eligibility at this stage to the head of the
	// op's id FIFO (spec.md §4.4 step 4, invariant 6).
	IDConstraint bool

	// Async, relevant only to REPORTING: when true the handler acks before
	// performing the (possibly slow) side effect, per spec.md §4.6.
	Async bool
}
