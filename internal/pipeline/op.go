package pipeline

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DBOpType is the catalog mutation an Op carries into DB_APPLY.
type DBOpType int

const (
	DBOpNone DBOpType = iota
	DBOpInsert
	DBOpUpdate
	DBOpRemove
	DBOpSoftRemove
)

func (t DBOpType) String() string {
	switch t {
	case DBOpInsert:
		return "insert"
	case DBOpUpdate:
		return "update"
	case DBOpRemove:
		return "remove"
	case DBOpSoftRemove:
		return "soft_remove"
	default:
		return "none"
	}
}

// ChangelogRecord is the source-specific payload for a changelog-sourced Op.
// Field set is an implementation choice (spec.md explicitly leaves the wire
// format out of scope), not a core contract.
type ChangelogRecord struct {
	Type        RecordType
	EntryId     EntryId
	ParentID    EntryId
	Name        string
	LastLink    bool
	Archived    bool
	Dirty       bool
	HSMEvent    HSMEventType
	HSMError    bool
}

// RecordType enumerates the changelog record kinds the Lustre/HSM handler
// table's decision tables (spec.md §4.6) dispatch on.
type RecordType int

const (
	RecordOther RecordType = iota
	RecordCreate
	RecordMkdir
	RecordRmdir
	RecordUnlink
	RecordHSM
	RecordCtime
	RecordSetattr
	RecordMtime
	RecordTrunc
	RecordRename
	RecordExt
)

// HSMEventType enumerates the HSM sub-events a RecordHSM record carries.
type HSMEventType int

const (
	HSMNone HSMEventType = iota
	HSMArchive
	HSMRestore
	HSMRelease
	HSMState
	HSMOther
)

// Extra is the tagged-union payload of an Op (spec.md §3's extra_info).
// Exactly one concrete implementation is attached per Op; which one is
// decided at construction and doesn't change afterward. Replaces the
// source's extra_info_free with ordinary GC — Free is a no-op hook kept
// only for collaborators that attach something that needs explicit release
// (e.g. a pooled buffer); the default implementations have nothing to do.
type Extra interface {
	isExtra()
	Free()
}

// ChangelogExtra tags an Op as sourced from the changelog reader.
type ChangelogExtra struct {
	Record ChangelogRecord
}

func (ChangelogExtra) isExtra() {}
func (ChangelogExtra) Free()    {}

// ScanExtra tags an Op as sourced from the tree walker.
type ScanExtra struct {
	ScanStartTime time.Time
}

func (ScanExtra) isExtra() {}
func (ScanExtra) Free()    {}

// SweepExtra tags a producer-submitted GC_OLDENT sweep op (spec.md §4.6).
type SweepExtra struct {
	Watermark  time.Time
	PathPrefix string // supplemental: restrict mass-remove to a scanned subtree
}

func (SweepExtra) isExtra() {}
func (SweepExtra) Free()    {}

// Callback is invoked when an op carrying one is retired after its mutation
// is durable (spec.md §3/§6.2). Typically advances a changelog cursor.
type Callback func()

// Op is a single pipeline operation: one changelog record, one scan result,
// or one synthetic sweep command. See spec.md §3 for the full field
// contract and invariants 1-8.
type Op struct {
	// RunID is a correlation id for logs/dumps; not part of the core
	// contract, purely an operability aid (mirrors how the teacher tags
	// every session/execution with a uuid for cross-referencing logs).
	RunID string

	mu sync.Mutex

	stage     int
	isRunning bool

	id       EntryId
	idSet    bool
	nameSet  bool
	parent   EntryId
	name     string

	dbAttrs    AttrSet
	fsAttrs    AttrSet
	dbAttrNeed AttrMask
	fsAttrNeed AttrMask

	dbExists bool
	dbOpType DBOpType

	extra    Extra
	callback Callback

	startTime time.Time

	// Stage-list intrusive hooks. Mutated only by whoever holds the mutex
	// of the StageQueue this op is currently linked into (spec.md §4.3,
	// §5 "Shared resources").
	stagePrev, stageNext *Op

	// Id-constraint bucket intrusive hooks. Mutated only by whoever holds
	// the id bucket's mutex (spec.md §4.2, §9).
	idPrev, idNext *Op

	// Name-constraint bucket intrusive hooks, distinct storage from
	// idPrev/idNext: an op can be registered in NameIndex before GET_ID
	// resolves its id and then migrated into IdIndex, so the two FIFOs must
	// never share link fields (mirrors the original id_hash_list/
	// name_hash_list split in entry_proc_op_t).
	namePrev, nameNext *Op
}

// NewOp returns a zeroed Op at stage 0 (spec.md §6.1's Op::new()).
func NewOp() *Op {
	return &Op{RunID: uuid.NewString()}
}

// SetId idempotently assigns id and marks it set. Calling it again with the
// same value is a no-op; calling it with a different value after push is a
// caller bug but is not itself checked here (GET_ID is the only handler
// that should ever do this, once, before the id-constraint stage).
func (o *Op) SetId(id EntryId) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.id = id
	o.idSet = true
}

// SetNameKey records the (parent_id, name) pair used by the secondary
// ordering index for name-level events on an id that isn't known yet.
func (o *Op) SetNameKey(parent EntryId, name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.parent = parent
	o.name = name
	o.nameSet = true
}

// ClearNameKey unsets the op's name-key registration. Called once GET_ID
// resolves the op's id and migrates it from NameIndex into IdIndex, so later
// ID_CONSTRAINT stages gate on the id FIFO and stop checking a name FIFO the
// op is no longer linked into.
func (o *Op) ClearNameKey() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nameSet = false
}

// Id returns the op's current EntryId and whether it has been set.
func (o *Op) Id() (EntryId, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.id, o.idSet
}

// NameKey returns the op's (parent, name) pair and whether it has been set.
func (o *Op) NameKey() (EntryId, string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.parent, o.name, o.nameSet
}

// Stage returns the stage index the op currently believes it is at.
func (o *Op) Stage() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stage
}

// SetExtra attaches the source-specific payload. Call once, before Push.
func (o *Op) SetExtra(e Extra) { o.extra = e }

// Extra returns the op's tagged payload, or nil if none was attached.
func (o *Op) Extra() Extra { return o.extra }

// SetCallback attaches the durability callback. Call once, before Push.
func (o *Op) SetCallback(cb Callback) { o.callback = cb }

// Callback returns the durability callback, or nil. Only the CHGLOG_CLR
// handler and the GC_OLDENT handler (after its sweep) invoke it (spec.md
// §4.6, invariant 5).
func (o *Op) Callback() Callback { return o.callback }

// DBAttrs returns the catalog-known attribute set.
func (o *Op) DBAttrs() AttrSet { return o.dbAttrs }

// FSAttrs returns the freshly-probed attribute set.
func (o *Op) FSAttrs() AttrSet { return o.fsAttrs }

// SetDBAttrs replaces the catalog-known attribute set. Only called by the
// worker currently executing this op's handler (the running flag
// guarantees exclusivity, spec.md §5).
func (o *Op) SetDBAttrs(a AttrSet) { o.dbAttrs = a }

// SetFSAttrs replaces the freshly-probed attribute set.
func (o *Op) SetFSAttrs(a AttrSet) { o.fsAttrs = a }

// Merged returns fs_attrs merged over db_attrs (fresh values win), the view
// handlers downstream of GET_INFO_FS (REPORTING, DB_APPLY, policy match)
// operate on.
func (o *Op) Merged() AttrSet { return MergeAttrs(o.dbAttrs, o.fsAttrs, true) }

// DBAttrNeed/FSAttrNeed/SetDBAttrNeed/SetFSAttrNeed manage the masks
// describing what must still be fetched (spec.md §3).
func (o *Op) DBAttrNeed() AttrMask        { return o.dbAttrNeed }
func (o *Op) FSAttrNeed() AttrMask        { return o.fsAttrNeed }
func (o *Op) SetDBAttrNeed(m AttrMask)    { o.dbAttrNeed = m }
func (o *Op) SetFSAttrNeed(m AttrMask)    { o.fsAttrNeed = m }

// DBExists/SetDBExists/DBOpType/SetDBOpType manage catalog-presence state.
func (o *Op) DBExists() bool            { return o.dbExists }
func (o *Op) SetDBExists(v bool)        { o.dbExists = v }
func (o *Op) GetDBOpType() DBOpType     { return o.dbOpType }
func (o *Op) SetDBOpType(t DBOpType)    { o.dbOpType = t }

// StartTime returns when the current dispatch began (zero if not running).
func (o *Op) StartTime() time.Time { return o.startTime }

// running reports whether a worker currently holds this op (spec.md
// invariant 4). Called only by scheduler/acknowledge code, which always
// holds the op's current stage mutex first (spec.md §4.3 "Lock order").
func (o *Op) running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.isRunning
}

func (o *Op) markRunning(at time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.isRunning = true
	o.startTime = at
}

func (o *Op) clearRunning() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.isRunning = false
}

func (o *Op) setStage(s int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stage = s
}
