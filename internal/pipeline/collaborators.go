package pipeline

import "time"

// StoreResultCode is the outcome of a Store call (spec.md §6.3: "All return
// a StoreResult carrying one of {success, not_exists, out_of_date, other}").
type StoreResultCode int

const (
	StoreSuccess StoreResultCode = iota
	StoreNotExists
	StoreOutOfDate
	StoreOther
)

// StoreResult wraps a Store call's outcome. Code is always set; Err carries
// detail for StoreOther.
type StoreResult struct {
	Code StoreResultCode
	Err  error
}

func (r StoreResult) ok() bool { return r.Code == StoreSuccess }

// Store is the catalog collaborator (spec.md §6.3). A reference
// implementation lives in internal/catalog.
type Store interface {
	// Get fetches the subset of need that the catalog knows for id. Exists
	// reports whether the entry has a row at all (distinct from "no
	// attributes known").
	Get(id EntryId, need AttrMask) (exists bool, attrs AttrSet, res StoreResult)
	Exists(id EntryId) (bool, StoreResult)
	CheckStripe(id EntryId, want StripeInfo) (matches bool, res StoreResult)

	Insert(id EntryId, attrs AttrSet) StoreResult
	Update(id EntryId, attrs AttrSet) StoreResult
	Remove(id EntryId) StoreResult
	SoftRemove(id EntryId, fullPath, backendPath string, purgeAt time.Time) StoreResult

	MassRemove(olderThan time.Time, pathPrefix string) (count int64, res StoreResult)
	MassSoftRemove(olderThan time.Time, pathPrefix string, purgeAt time.Time) (count int64, res StoreResult)

	GetVar(name string) (string, StoreResult)
	SetVar(name, value string) StoreResult

	// ForceCommit toggles (or performs, when on=true) an immediate flush of
	// buffered writes; used around GC_OLDENT (spec.md §4.6).
	ForceCommit(on bool) StoreResult
	GetCommitStatus() (committed bool, res StoreResult)

	// GenerateFields builds the subset of attrs named by mask into a
	// column-oriented representation a reference Store might use to build
	// its SQL set-clause; exposed here only so handler code can strip
	// read-only attributes uniformly (DB_APPLY, spec.md §4.6).
	GenerateFields(attrs AttrSet, mask AttrMask) AttrSet

	MergeAttrs(dst, src AttrSet, overwrite bool) AttrSet
}

// HSMStatusResult is the outcome of FsProbe.GetHSMStatus.
type HSMStatusResult struct {
	Status      EntryStatus
	LastArchive int64
	LastRestore int64
	IsNew       bool // true the first time this object's HSM state is seen
	Unsupported bool // -ENOTSUP: object type doesn't carry HSM state
}

// FsProbe is the filesystem-adapter collaborator (spec.md §6.3). A POSIX
// reference implementation lives in internal/fsprobe.
type FsProbe interface {
	PathToID(fullPath string) (EntryId, error)
	IDToPath(id EntryId) (string, error)
	// BuildIDPath returns a filesystem access path usable for handler I/O
	// without a full readdir-based path resolution, when the backing
	// filesystem supports it (e.g. Lustre's .lustre/fid/<FID>); ok is false
	// when the backend has no such shortcut and fullPath should be used.
	BuildIDPath(id EntryId) (path string, ok bool)

	Stat(path string) (AttrSet, error)
	GetStripe(path string) (StripeInfo, error)
	GetHSMStatus(path string) (HSMStatusResult, error)
}

// PolicyMatch is the outcome of PolicyEngine.EntryMatches.
type PolicyMatch int

const (
	PolicyMatchYes PolicyMatch = iota
	PolicyNoMatch
	PolicyMissingAttr
	PolicyErr
)

// PolicyKind distinguishes which class of policy a query concerns (archive,
// release, purge, ...); left open per spec.md, an implementation detail.
type PolicyKind string

// PolicyEngine is the rule-matching collaborator (spec.md §6.3). A small
// reference expression evaluator lives in internal/policy.
type PolicyEngine interface {
	EntryMatches(id EntryId, attrs AttrSet, expr string) (PolicyMatch, error)
	IsWhitelisted(id EntryId, attrs AttrSet, kind PolicyKind) (bool, error)
	GetPolicyCase(id EntryId, attrs AttrSet, kind PolicyKind) (policy string, fileset string, err error)
	CheckPolicies(id EntryId, attrs AttrSet, matchClasses bool) ([]string, error)
}

// AlertRule is one REPORTING rule (spec.md §4.6, §6.4's alert_list).
type AlertRule struct {
	Name string
	Expr string
}

// AlertSink delivers REPORTING matches to the outside world. At-least-once
// per matching rule per op (spec.md §4.6); a reference Slack adapter lives
// in internal/alert.
type AlertSink interface {
	Alert(rule AlertRule, id EntryId, attrs AttrSet) error
}
