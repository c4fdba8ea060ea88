package pipeline

import (
	"errors"
	"log/slog"
	"time"
)

// Stage indices for the Lustre/HSM flavor (spec.md §4.6). Other flavors
// build their own Stage slices with different indices; nothing in the core
// pipeline assumes this particular numbering.
const (
	StageGetID = iota
	StageGetInfoDB
	StageGetInfoFS
	StageReporting
	StageDBApply
	StageChglogClr
	StageGCOldEnt
)

// HandlerDeps bundles the collaborators the HSM handler table calls out to
// (spec.md §6.3).
type HandlerDeps struct {
	Store   Store
	FS      FsProbe
	Policy  PolicyEngine
	Alerts  AlertSink
}

// HandlerConfig is the subset of spec.md §6.4's recognized options that
// change handler decisions (as opposed to pool sizing, which Options
// already covers).
type HandlerConfig struct {
	MatchClasses     bool
	DetectFakeMtime  bool
	AlertRules       []AlertRule
	MDUpdatePeriod   time.Duration
	HSMRemoveEnabled bool
	DeferredDelay    time.Duration
}

// BuildHSMStages returns the 7-stage table the source ships for the
// Lustre/HSM flavor (spec.md §4.6): GET_ID, GET_INFO_DB, GET_INFO_FS,
// REPORTING, DB_APPLY, CHGLOG_CLR, GC_OLDENT, in that index order.
func BuildHSMStages(deps HandlerDeps, cfg HandlerConfig) []*Stage {
	return []*Stage{
		{Index: StageGetID, Name: "GET_ID", Mode: Unbounded(), Handler: getIDHandler(deps)},
		{Index: StageGetInfoDB, Name: "GET_INFO_DB", Mode: Unbounded(), IDConstraint: true, Handler: getInfoDBHandler(deps, cfg)},
		{Index: StageGetInfoFS, Name: "GET_INFO_FS", Mode: Unbounded(), Handler: getInfoFSHandler(deps, cfg)},
		{Index: StageReporting, Name: "REPORTING", Mode: Unbounded(), Async: true, Handler: reportingHandler(deps, cfg)},
		{Index: StageDBApply, Name: "DB_APPLY", Mode: dbApplyMode(deps), Handler: dbApplyHandler(deps, cfg)},
		{Index: StageChglogClr, Name: "CHGLOG_CLR", Mode: Sequential(), Handler: chglogClrHandler()},
		{Index: StageGCOldEnt, Name: "GC_OLDENT", Mode: Sequential(), Handler: gcOldEntHandler(deps, cfg)},
	}
}

// dbApplyMode returns Bounded(1) when the Store is known to serialize
// writers internally (a SQLite-like single-writer catalog), Unbounded
// otherwise. The reference PostgresStore does not implement this marker,
// so it gets full parallelism (spec.md §4.6: "on SQLite-like single-writer
// stores, MAX_THREADS=1").
func dbApplyMode(deps HandlerDeps) ConcurrencyMode {
	if sw, ok := deps.Store.(interface{ SingleWriter() bool }); ok && sw.SingleWriter() {
		return Bounded(1)
	}
	return Unbounded()
}

// --- GET_ID ---------------------------------------------------------------

func getIDHandler(deps HandlerDeps) Handler {
	return func(ctl *Ctl) error {
		op := ctl.Op()
		if _, idSet := op.Id(); idSet {
			// Changelog-sourced ops already carry an id (spec.md §4.6).
			return ctl.Ack(StageGetInfoDB)
		}

		if parent, name, nameSet := op.NameKey(); nameSet {
			// Some changelog sources don't resolve the FID for every
			// CREATE/RENAME record (spec.md §4.2, second paragraph): the op
			// was pushed ordered on (parent_id, name) instead, and is
			// migrated into the id index once resolved here.
			parentPath, err := deps.FS.IDToPath(parent)
			if err != nil {
				slog.Warn("id_to_path failed resolving name key", "parent", parent, "name", name, "error", err)
				return ctl.Retire()
			}
			id, err := deps.FS.PathToID(parentPath + "/" + name)
			if err != nil {
				slog.Warn("path_to_id failed resolving name key", "parent", parent, "name", name, "error", err)
				return ctl.Retire()
			}
			ctl.ResolveId(id)
			return ctl.Ack(StageGetInfoDB)
		}

		fs := op.FSAttrs()
		if !fs.Mask.Has(AttrFullPath) || fs.FullPath == "" {
			slog.Error("GET_ID: op has neither id, name key, nor fullpath", "op", op.RunID)
			return ctl.Retire()
		}
		id, err := deps.FS.PathToID(fs.FullPath)
		if err != nil {
			slog.Warn("path_to_id failed", "path", fs.FullPath, "error", err)
			return ctl.Retire()
		}
		ctl.ResolveId(id)
		return ctl.Ack(StageGetInfoDB)
	}
}

// --- GET_INFO_DB -----------------------------------------------------------

// dbDecision is the outcome of applying spec.md §4.6's per-record-type
// table to one changelog record (or the fixed FS-scan rule).
type dbDecision struct {
	needMask AttrMask
	patch    AttrSet // fields the record itself determines; merged with overwrite=true
	dbOpType DBOpType
	jumpTo   int // -1 means "continue to GET_INFO_FS"
}

func getInfoDBHandler(deps HandlerDeps, cfg HandlerConfig) Handler {
	// Besides what alert rules read, fetch what decideDBNeeds,
	// applyUpdatePolicy, GET_INFO_FS's path choice and DB_APPLY's soft
	// remove read from the catalog copy.
	baseNeed := alertAttrMask(cfg) | AttrMD | AttrFullPath | AttrName |
		AttrStatus | AttrStripe | AttrMDUpdate | AttrPathUpdate

	return func(ctl *Ctl) error {
		op := ctl.Op()
		id, _ := op.Id()
		op.SetDBAttrNeed(baseNeed)

		exists, attrs, res := deps.Store.Get(id, baseNeed)
		if res.Code == StoreOther {
			slog.Error("Store.get failed", "id", id, "error", res.Err)
		}
		op.SetDBExists(exists)
		op.SetDBAttrs(attrs)

		var d dbDecision
		if ce, ok := op.Extra().(ChangelogExtra); ok {
			d = decideDBNeeds(ce.Record, exists, attrs, cfg)
		} else {
			// FS-scan op: attr+path are already supplied by the scanner;
			// always probe status and stripe on files (spec.md §4.6).
			d = dbDecision{needMask: AttrStatus | AttrStripe, jumpTo: -1}
		}

		if d.patch.Mask != 0 {
			op.SetDBAttrs(MergeAttrs(op.DBAttrs(), d.patch, true))
		}
		// What must still be refreshed from the filesystem, net of the
		// update policy's staleness test (spec.md §6.5).
		op.SetFSAttrNeed(applyUpdatePolicy(d.needMask, attrs, cfg))
		if d.dbOpType != DBOpNone {
			op.SetDBOpType(d.dbOpType)
		} else if !exists {
			op.SetDBOpType(DBOpInsert)
		} else {
			op.SetDBOpType(DBOpUpdate)
		}

		if d.jumpTo >= 0 {
			return ctl.Ack(d.jumpTo)
		}
		return ctl.Ack(StageGetInfoFS)
	}
}

// decideDBNeeds reproduces the table from spec.md §4.6, grounded on the
// record-type dispatch in original_source's EntryProc_FillFromLogRec
// (lustre_hsm_pipeline.c) but following the spec's summarized semantics
// rather than the C implementation's field-by-field detail.
func decideDBNeeds(rec ChangelogRecord, exists bool, dbAttrs AttrSet, cfg HandlerConfig) dbDecision {
	d := dbDecision{jumpTo: -1}

	switch rec.Type {
	case RecordCreate:
		if exists {
			slog.Warn("changelog CREATE record on already existing entry", "id", rec.EntryId)
		}
		d.needMask = AttrMD | AttrFullPath | AttrStripe | AttrStatus

	case RecordMkdir, RecordRmdir:
		d.patch.Mask |= AttrType
		d.patch.Type = "dir"

	case RecordUnlink:
		switch {
		case rec.LastLink && rec.Archived && cfg.HSMRemoveEnabled:
			d.dbOpType = DBOpSoftRemove
			d.jumpTo = StageDBApply
		case rec.LastLink:
			if exists {
				d.dbOpType = DBOpRemove
				d.jumpTo = StageDBApply
			} else {
				d.jumpTo = StageChglogClr
			}
		default:
			d.needMask = AttrFullPath
		}

	case RecordHSM:
		switch rec.HSMEvent {
		case HSMArchive:
			if !rec.HSMError {
				d.patch.Mask |= AttrLastArchive | AttrStatus
				d.patch.LastArchive = time.Now().Unix()
				if rec.Dirty {
					d.patch.Status = StatusModified
				} else {
					d.patch.Status = StatusSynchro
				}
			} else if rec.Dirty {
				d.patch.Mask |= AttrStatus
				d.patch.Status = StatusModified
			} else {
				d.needMask = AttrStatus
			}

		case HSMRestore:
			if !rec.HSMError {
				d.patch.Mask |= AttrLastRestore | AttrStatus
				d.patch.LastRestore = time.Now().Unix()
				d.patch.Status = StatusSynchro
			} else if exists {
				d.dbOpType = DBOpRemove
				d.jumpTo = StageDBApply
			}

		case HSMRelease:
			if !rec.HSMError && exists {
				d.dbOpType = DBOpRemove
				d.jumpTo = StageDBApply
			} else {
				d.needMask = AttrStatus
			}

		case HSMState:
			if rec.Dirty {
				d.patch.Mask |= AttrStatus
				d.patch.Status = StatusModified
			} else {
				d.needMask = AttrStatus
			}

		default:
			d.needMask = AttrStatus
		}

	case RecordCtime, RecordSetattr:
		d.needMask = AttrMD

	case RecordMtime, RecordTrunc:
		if dbAttrs.Mask.Has(AttrStatus) && dbAttrs.Status == StatusModified {
			d.needMask = AttrMD
		} else {
			d.needMask = AttrMD | AttrStatus
		}

	case RecordRename, RecordExt:
		d.needMask = AttrFullPath

	default:
		d.needMask = AttrMD
	}

	if rec.Name != "" && dbAttrs.Mask.Has(AttrName) && dbAttrs.Name != rec.Name {
		d.needMask |= AttrFullPath
	}
	return d
}

// applyUpdatePolicy consults the update policy (spec.md §6.5): an AttrMD
// (resp. AttrFullPath) refresh that the record-type table asked for is
// dropped when the catalog's md_update (resp. path_update) timestamp is
// younger than md_update_period. The test applies to every row that asks
// for those bits; there is no "on event" exemption. Other need bits pass
// through unchanged, and a period <= 0 disables the test.
func applyUpdatePolicy(need AttrMask, dbAttrs AttrSet, cfg HandlerConfig) AttrMask {
	if cfg.MDUpdatePeriod <= 0 {
		return need
	}
	if need.Has(AttrMD) && dbAttrs.Mask.Has(AttrMDUpdate) {
		if time.Since(dbAttrs.MDUpdate) < cfg.MDUpdatePeriod {
			need &^= AttrMD
		}
	}
	if need.Has(AttrFullPath) && dbAttrs.Mask.Has(AttrPathUpdate) {
		if time.Since(dbAttrs.PathUpdate) < cfg.MDUpdatePeriod {
			need &^= AttrFullPath
		}
	}
	return need
}

func alertAttrMask(cfg HandlerConfig) AttrMask {
	// The reference config doesn't narrow this any further than "the full
	// metadata set", since alert rule expressions are evaluated freeform
	// against whatever's in AttrSet (internal/policy.ExprEngine).
	if len(cfg.AlertRules) == 0 {
		return 0
	}
	return AttrMD | AttrStatus
}

// --- GET_INFO_FS -----------------------------------------------------------

func getInfoFSHandler(deps HandlerDeps, cfg HandlerConfig) Handler {
	return func(ctl *Ctl) error {
		op := ctl.Op()
		id, _ := op.Id()
		need := op.FSAttrNeed()

		path, ok := deps.FS.BuildIDPath(id)
		if !ok {
			if db := op.DBAttrs(); db.Mask.Has(AttrFullPath) {
				path = db.FullPath
			} else if fs := op.FSAttrs(); fs.Mask.Has(AttrFullPath) {
				path = fs.FullPath
			}
		}

		fs := op.FSAttrs()

		if need.Has(AttrMD) {
			attrs, err := deps.FS.Stat(path)
			if err != nil {
				if vanished(err) {
					if cfg.HSMRemoveEnabled && op.DBExists() {
						op.SetDBOpType(DBOpSoftRemove)
						return ctl.Ack(StageDBApply)
					}
					return ctl.Retire()
				}
				slog.Warn("stat failed", "path", path, "error", err)
			} else {
				attrs.Mask |= AttrMDUpdate
				attrs.MDUpdate = time.Now()
				fs = MergeAttrs(fs, attrs, true)
				if cfg.DetectFakeMtime && fs.Mask.Has(AttrCreationTime) && fs.Mask.Has(AttrLastMod) &&
					fs.CreationTime.After(fs.LastMod) {
					slog.Debug("fake mtime", "path", path, "creation_time", fs.CreationTime, "last_mod", fs.LastMod)
				}
			}
		}

		if need.Has(AttrFullPath) {
			p, err := deps.FS.IDToPath(id)
			if err != nil {
				if vanished(err) {
					if cfg.HSMRemoveEnabled && op.DBExists() {
						op.SetDBOpType(DBOpSoftRemove)
						return ctl.Ack(StageDBApply)
					}
					return ctl.Retire()
				}
				slog.Warn("id_to_path failed", "id", id, "error", err)
			} else {
				fs.Mask |= AttrFullPath | AttrPathUpdate
				fs.FullPath = p
				fs.PathUpdate = time.Now()
			}
		}

		if need.Has(AttrStripe) && fs.Type == "file" {
			si, err := deps.FS.GetStripe(path)
			if err != nil {
				slog.Warn("get_stripe failed", "path", path, "error", err)
			} else {
				fs.Mask |= AttrStripeInfo
				fs.StripeInfo = si
			}
		}

		if need.Has(AttrStatus) {
			hs, err := deps.FS.GetHSMStatus(path)
			if err != nil && !errors.Is(err, ErrUnsupportedType) {
				slog.Warn("get_hsm_status failed", "path", path, "error", err)
			} else if errors.Is(err, ErrUnsupportedType) || hs.Unsupported {
				return ctl.Retire()
			} else {
				fs.Mask |= AttrStatus | AttrLastArchive | AttrLastRestore
				fs.Status = hs.Status
				if hs.IsNew {
					fs.LastArchive = 0
					fs.LastRestore = 0
				} else {
					fs.LastArchive = hs.LastArchive
					fs.LastRestore = hs.LastRestore
				}
			}
		}

		op.SetFSAttrs(fs)
		return ctl.Ack(StageReporting)
	}
}

func vanished(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// --- REPORTING ---------------------------------------------------------------

func reportingHandler(deps HandlerDeps, cfg HandlerConfig) Handler {
	return func(ctl *Ctl) error {
		op := ctl.Op()

		fire := func() {
			id, _ := op.Id()
			merged := op.Merged()
			for _, rule := range cfg.AlertRules {
				match, err := deps.Policy.EntryMatches(id, merged, rule.Expr)
				if err != nil {
					slog.Error("alert rule evaluation failed", "rule", rule.Name, "error", err)
					continue
				}
				if match != PolicyMatchYes {
					continue
				}
				if err := deps.Alerts.Alert(rule, id, merged); err != nil {
					slog.Error("alert delivery failed", "rule", rule.Name, "error", err)
				}
			}
		}

		if ctl.Stage().Async {
			// Ack before raising the alert (spec.md §4.6).
			if err := ctl.Ack(StageDBApply); err != nil {
				return err
			}
			fire()
			return nil
		}

		fire()
		return ctl.Ack(StageDBApply)
	}
}

// --- DB_APPLY ---------------------------------------------------------------

func dbApplyHandler(deps HandlerDeps, cfg HandlerConfig) Handler {
	return func(ctl *Ctl) error {
		op := ctl.Op()
		id, _ := op.Id()
		attrs := op.Merged()
		attrs = stripReadOnly(attrs)

		// If stripe wasn't freshly retrieved this round, don't write it back
		// (spec.md §4.6: "If stripe was not freshly retrieved, clear stripe
		// attrs from the update set").
		if !op.FSAttrs().Mask.Has(AttrStripeInfo) {
			attrs.Mask &^= AttrStripeInfo | AttrStripeItems
		}

		var res StoreResult
		switch op.GetDBOpType() {
		case DBOpInsert:
			res = deps.Store.Insert(id, attrs)
		case DBOpUpdate:
			attrs.Mask &^= AttrCreationTime // never writes creation_time on update
			res = deps.Store.Update(id, attrs)
		case DBOpRemove:
			res = deps.Store.Remove(id)
		case DBOpSoftRemove:
			fp := ""
			if attrs.Mask.Has(AttrFullPath) {
				fp = attrs.FullPath
			}
			res = deps.Store.SoftRemove(id, fp, "", time.Now().Add(cfg.DeferredDelay))
		default:
			res = StoreResult{Code: StoreSuccess}
		}

		if !res.ok() {
			slog.Error("DB_APPLY failed", "id", id, "op_type", op.GetDBOpType().String(), "code", res.Code, "error", res.Err)
			// Store errors retire without the callback, so the source
			// re-delivers the event (spec.md §4.6 "Failure semantics").
			return ctl.Retire()
		}

		if op.Callback() != nil {
			committed, cres := deps.Store.GetCommitStatus()
			if cres.ok() && committed {
				return ctl.Ack(StageChglogClr)
			}
		}
		return ctl.Retire()
	}
}

// stripReadOnly removes attributes the catalog owns and handlers must never
// write back (spec.md §4.6: "Strips read-only attributes from the set").
func stripReadOnly(a AttrSet) AttrSet {
	a.Mask &^= AttrMDUpdate | AttrPathUpdate | AttrArchClUpdate | AttrRelClUpdate
	return a
}

// --- CHGLOG_CLR --------------------------------------------------------------

func chglogClrHandler() Handler {
	return func(ctl *Ctl) error {
		op := ctl.Op()
		if cb := op.Callback(); cb != nil {
			cb()
		}
		return ctl.Retire()
	}
}

// --- GC_OLDENT -----------------------------------------------------------

func gcOldEntHandler(deps HandlerDeps, cfg HandlerConfig) Handler {
	return func(ctl *Ctl) error {
		op := ctl.Op()
		sweep, ok := op.Extra().(SweepExtra)
		if !ok {
			slog.Error("GC_OLDENT op carries no SweepExtra", "op", op.RunID)
			return ctl.Retire()
		}

		// ForceCommit/GetCommitStatus are shared store-wide state, not scoped
		// to this call: dbApplyHandler reads GetCommitStatus concurrently for
		// every changelog op in flight. Restore whatever was there before
		// this sweep rather than hardcoding false, or a GC sweep permanently
		// breaks the callback/cursor-advance path for every op afterward.
		prevCommitted, _ := deps.Store.GetCommitStatus()
		deps.Store.ForceCommit(true)
		defer deps.Store.ForceCommit(prevCommitted)

		var (
			count int64
			res   StoreResult
		)
		if cfg.HSMRemoveEnabled {
			count, res = deps.Store.MassSoftRemove(sweep.Watermark, sweep.PathPrefix, time.Now().Add(cfg.DeferredDelay))
		} else {
			count, res = deps.Store.MassRemove(sweep.Watermark, sweep.PathPrefix)
		}
		if !res.ok() {
			slog.Error("GC_OLDENT mass-remove failed", "error", res.Err)
		} else {
			slog.Info("GC_OLDENT swept stale entries", "count", count, "watermark", sweep.Watermark, "prefix", sweep.PathPrefix)
		}

		if cb := op.Callback(); cb != nil {
			cb()
		}
		return ctl.Retire()
	}
}
