package pipeline_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cea-hpc/entryproc/internal/alert"
	"github.com/cea-hpc/entryproc/internal/catalog"
	"github.com/cea-hpc/entryproc/internal/fsprobe"
	"github.com/cea-hpc/entryproc/internal/pipeline"
	"github.com/cea-hpc/entryproc/internal/policy"
)

func newHSMPipeline(t *testing.T, deps pipeline.HandlerDeps, cfg pipeline.HandlerConfig) *pipeline.Pipeline {
	t.Helper()
	stages := pipeline.BuildHSMStages(deps, cfg)
	p, err := pipeline.New(pipeline.Options{Stages: stages, NumWorkers: 4})
	require.NoError(t, err)
	p.Start()
	t.Cleanup(func() { p.Terminate(true) })
	return p
}

func waitRetired(t *testing.T, p *pipeline.Pipeline, before func() bool) {
	t.Helper()
	require.Eventually(t, before, 2*time.Second, time.Millisecond)
}

func TestHSMPipelineCreateRecordInsertsNewEntry(t *testing.T) {
	store := catalog.NewFakeStore()
	probe := fsprobe.NewFakeProbe()
	id := pipeline.EntryId{Seq: 1, Oid: 1}
	probe.Seed("/mnt/lustre/a.txt", id, pipeline.AttrSet{
		Mask: pipeline.AttrType | pipeline.AttrSize, Type: "file", Size: 42,
	})

	deps := pipeline.HandlerDeps{Store: store, FS: probe, Policy: policy.NewFakeEngine(), Alerts: alert.NewFakeSink()}
	p := newHSMPipeline(t, deps, pipeline.HandlerConfig{})

	op := pipeline.NewOp()
	op.SetId(id)
	// GET_ID is bypassed (the op already carries an id); GET_INFO_FS still
	// needs a path to stat, which ordinarily comes from BuildIDPath or an
	// earlier readdir — supply it the way a scan-resolved path would be.
	op.SetFSAttrs(pipeline.AttrSet{Mask: pipeline.AttrFullPath, FullPath: "/mnt/lustre/a.txt"})
	op.SetExtra(pipeline.ChangelogExtra{Record: pipeline.ChangelogRecord{Type: pipeline.RecordCreate, EntryId: id}})
	require.NoError(t, p.Push(op, pipeline.StageGetID))

	waitRetired(t, p, func() bool {
		processed, _ := p.Queue(pipeline.StageChglogClr).Stats()
		retiredAtApply, _ := p.Queue(pipeline.StageDBApply).Stats()
		return processed > 0 || retiredAtApply > 0
	})
	require.Len(t, store.Inserts, 1)
	require.Equal(t, id, store.Inserts[0])
}

func TestHSMPipelineUnlinkLastLinkRemovesExistingEntry(t *testing.T) {
	store := catalog.NewFakeStore()
	id := pipeline.EntryId{Seq: 2, Oid: 2}
	store.Seed(id, pipeline.AttrSet{Mask: pipeline.AttrType, Type: "file"})
	probe := fsprobe.NewFakeProbe()

	deps := pipeline.HandlerDeps{Store: store, FS: probe, Policy: policy.NewFakeEngine(), Alerts: alert.NewFakeSink()}
	p := newHSMPipeline(t, deps, pipeline.HandlerConfig{})

	op := pipeline.NewOp()
	op.SetId(id)
	op.SetExtra(pipeline.ChangelogExtra{Record: pipeline.ChangelogRecord{
		Type: pipeline.RecordUnlink, EntryId: id, LastLink: true,
	}})
	require.NoError(t, p.Push(op, pipeline.StageGetID))

	waitRetired(t, p, func() bool { return len(store.Removes) == 1 })
	require.Equal(t, id, store.Removes[0])
}

func TestHSMPipelineUnlinkLastLinkSoftRemovesWhenHSMRemoveEnabled(t *testing.T) {
	store := catalog.NewFakeStore()
	id := pipeline.EntryId{Seq: 3, Oid: 3}
	store.Seed(id, pipeline.AttrSet{Mask: pipeline.AttrType, Type: "file"})
	probe := fsprobe.NewFakeProbe()

	deps := pipeline.HandlerDeps{Store: store, FS: probe, Policy: policy.NewFakeEngine(), Alerts: alert.NewFakeSink()}
	p := newHSMPipeline(t, deps, pipeline.HandlerConfig{HSMRemoveEnabled: true})

	op := pipeline.NewOp()
	op.SetId(id)
	op.SetExtra(pipeline.ChangelogExtra{Record: pipeline.ChangelogRecord{
		Type: pipeline.RecordUnlink, EntryId: id, LastLink: true, Archived: true,
	}})
	require.NoError(t, p.Push(op, pipeline.StageGetID))

	waitRetired(t, p, func() bool { return len(store.SoftRemoves) == 1 })
	require.Empty(t, store.Removes)
}

func TestHSMPipelineUnlinkLastLinkOnUnknownEntrySkipsToChglogClr(t *testing.T) {
	store := catalog.NewFakeStore()
	id := pipeline.EntryId{Seq: 4, Oid: 4}
	probe := fsprobe.NewFakeProbe()

	deps := pipeline.HandlerDeps{Store: store, FS: probe, Policy: policy.NewFakeEngine(), Alerts: alert.NewFakeSink()}
	p := newHSMPipeline(t, deps, pipeline.HandlerConfig{})

	done := make(chan struct{})
	op := pipeline.NewOp()
	op.SetId(id)
	op.SetCallback(func() { close(done) })
	op.SetExtra(pipeline.ChangelogExtra{Record: pipeline.ChangelogRecord{
		Type: pipeline.RecordUnlink, EntryId: id, LastLink: true,
	}})
	require.NoError(t, p.Push(op, pipeline.StageGetID))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callback never invoked: op did not reach CHGLOG_CLR")
	}
	require.Empty(t, store.Removes)
	require.Empty(t, store.Inserts)
}

func TestHSMPipelineFSScanOpGetsIdFromPathAndInserts(t *testing.T) {
	store := catalog.NewFakeStore()
	probe := fsprobe.NewFakeProbe()
	id := pipeline.EntryId{Seq: 5, Oid: 5}
	probe.Seed("/mnt/lustre/scan.txt", id, pipeline.AttrSet{
		Mask: pipeline.AttrType | pipeline.AttrFullPath, Type: "file", FullPath: "/mnt/lustre/scan.txt",
	})

	deps := pipeline.HandlerDeps{Store: store, FS: probe, Policy: policy.NewFakeEngine(), Alerts: alert.NewFakeSink()}
	p := newHSMPipeline(t, deps, pipeline.HandlerConfig{})

	op := pipeline.NewOp()
	op.SetFSAttrs(pipeline.AttrSet{Mask: pipeline.AttrFullPath, FullPath: "/mnt/lustre/scan.txt"})
	op.SetExtra(pipeline.ScanExtra{ScanStartTime: time.Now()})
	require.NoError(t, p.Push(op, pipeline.StageGetID))

	waitRetired(t, p, func() bool { return len(store.Inserts) == 1 })
	require.Equal(t, id, store.Inserts[0])
}

func TestHSMPipelineGetIDResolvesNameKeyAndInserts(t *testing.T) {
	store := catalog.NewFakeStore()
	probe := fsprobe.NewFakeProbe()
	parent := pipeline.EntryId{Seq: 20, Oid: 20}
	id := pipeline.EntryId{Seq: 21, Oid: 21}
	probe.Seed("/mnt/lustre/dir", parent, pipeline.AttrSet{Mask: pipeline.AttrType, Type: "dir"})
	probe.Seed("/mnt/lustre/dir/renamed.txt", id, pipeline.AttrSet{Mask: pipeline.AttrType, Type: "file"})

	deps := pipeline.HandlerDeps{Store: store, FS: probe, Policy: policy.NewFakeEngine(), Alerts: alert.NewFakeSink()}
	p := newHSMPipeline(t, deps, pipeline.HandlerConfig{})

	// A changelog source that couldn't resolve the FID up front (spec.md
	// §4.2, second paragraph): the op carries (parent_id, name) instead of
	// an id and is ordered on the name index until GET_ID resolves it.
	op := pipeline.NewOp()
	op.SetNameKey(parent, "renamed.txt")
	op.SetExtra(pipeline.ChangelogExtra{Record: pipeline.ChangelogRecord{
		Type: pipeline.RecordRename, ParentID: parent, Name: "renamed.txt",
	}})
	require.NoError(t, p.Push(op, pipeline.StageGetID))

	waitRetired(t, p, func() bool { return len(store.Inserts) == 1 })
	require.Equal(t, id, store.Inserts[0])
	gotID, idSet := op.Id()
	require.True(t, idSet)
	require.Equal(t, id, gotID)
	_, _, nameSet := op.NameKey()
	require.False(t, nameSet, "op should no longer be registered by name once its id resolves")
}

func TestHSMPipelineGetIDRetiresOpMissingBothIdAndPath(t *testing.T) {
	store := catalog.NewFakeStore()
	probe := fsprobe.NewFakeProbe()
	deps := pipeline.HandlerDeps{Store: store, FS: probe, Policy: policy.NewFakeEngine(), Alerts: alert.NewFakeSink()}
	p := newHSMPipeline(t, deps, pipeline.HandlerConfig{})

	op := pipeline.NewOp()
	require.NoError(t, p.Push(op, pipeline.StageGetID))

	waitRetired(t, p, func() bool {
		processed, _ := p.Queue(pipeline.StageGetID).Stats()
		return processed == 1
	})
	require.Empty(t, store.Inserts)
}

func TestHSMPipelineReportingFiresAlertOnMatch(t *testing.T) {
	store := catalog.NewFakeStore()
	id := pipeline.EntryId{Seq: 6, Oid: 6}
	store.Seed(id, pipeline.AttrSet{Mask: pipeline.AttrType, Type: "file"})
	probe := fsprobe.NewFakeProbe()
	probe.Seed("/mnt/lustre/report.txt", id, pipeline.AttrSet{Mask: pipeline.AttrType, Type: "file"})

	engine := policy.NewFakeEngine()
	engine.Matches["size > 0"] = pipeline.PolicyMatchYes
	sink := alert.NewFakeSink()

	deps := pipeline.HandlerDeps{Store: store, FS: probe, Policy: engine, Alerts: sink}
	cfg := pipeline.HandlerConfig{AlertRules: []pipeline.AlertRule{{Name: "big", Expr: "size > 0"}}}
	p := newHSMPipeline(t, deps, cfg)

	op := pipeline.NewOp()
	op.SetId(id)
	op.SetFSAttrs(pipeline.AttrSet{Mask: pipeline.AttrFullPath, FullPath: "/mnt/lustre/report.txt"})
	op.SetExtra(pipeline.ChangelogExtra{Record: pipeline.ChangelogRecord{Type: pipeline.RecordSetattr, EntryId: id}})
	require.NoError(t, p.Push(op, pipeline.StageGetID))

	waitRetired(t, p, func() bool { return sink.Count() == 1 })
	require.Equal(t, "big", sink.Alerts[0].Rule.Name)
}

func TestHSMPipelineGCOldEntMassRemovesAndCallsBack(t *testing.T) {
	store := catalog.NewFakeStore()
	id := pipeline.EntryId{Seq: 7, Oid: 7}
	old := time.Now().Add(-24 * time.Hour)
	store.Seed(id, pipeline.AttrSet{Mask: pipeline.AttrFullPath | pipeline.AttrPathUpdate, FullPath: "/mnt/lustre/old", PathUpdate: old})
	store.SoftRemove(id, "/mnt/lustre/old", "", time.Now())

	deps := pipeline.HandlerDeps{Store: store, FS: fsprobe.NewFakeProbe(), Policy: policy.NewFakeEngine(), Alerts: alert.NewFakeSink()}
	p := newHSMPipeline(t, deps, pipeline.HandlerConfig{})

	done := make(chan struct{})
	op := pipeline.NewOp()
	op.SetCallback(func() { close(done) })
	op.SetExtra(pipeline.SweepExtra{Watermark: time.Now(), PathPrefix: "/mnt/lustre"})
	require.NoError(t, p.Push(op, pipeline.StageGCOldEnt))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("GC_OLDENT never invoked the sweep callback")
	}
	require.Equal(t, 1, store.MassRemoveCalls)
}

// TestHSMPipelineGCOldEntDoesNotClobberCommitStatusForLaterOps guards against
// a GC_OLDENT sweep leaving the store's commit flag false afterward: a
// changelog op's cursor-advance callback must still fire once its DB write
// lands, even after an earlier GC_OLDENT sweep ran on the same store.
func TestHSMPipelineGCOldEntDoesNotClobberCommitStatusForLaterOps(t *testing.T) {
	store := catalog.NewFakeStore()
	gcID := pipeline.EntryId{Seq: 9, Oid: 9}
	old := time.Now().Add(-24 * time.Hour)
	store.Seed(gcID, pipeline.AttrSet{Mask: pipeline.AttrFullPath | pipeline.AttrPathUpdate, FullPath: "/mnt/lustre/old", PathUpdate: old})
	store.SoftRemove(gcID, "/mnt/lustre/old", "", time.Now())

	probe := fsprobe.NewFakeProbe()
	deps := pipeline.HandlerDeps{Store: store, FS: probe, Policy: policy.NewFakeEngine(), Alerts: alert.NewFakeSink()}
	p := newHSMPipeline(t, deps, pipeline.HandlerConfig{})

	gcDone := make(chan struct{})
	gcOp := pipeline.NewOp()
	gcOp.SetCallback(func() { close(gcDone) })
	gcOp.SetExtra(pipeline.SweepExtra{Watermark: time.Now(), PathPrefix: "/mnt/lustre"})
	require.NoError(t, p.Push(gcOp, pipeline.StageGCOldEnt))

	select {
	case <-gcDone:
	case <-time.After(2 * time.Second):
		t.Fatal("GC_OLDENT never invoked the sweep callback")
	}

	createID := pipeline.EntryId{Seq: 10, Oid: 10}
	probe.Seed("/mnt/lustre/new.txt", createID, pipeline.AttrSet{Mask: pipeline.AttrType, Type: "file"})

	cursorAdvanced := make(chan struct{})
	op := pipeline.NewOp()
	op.SetId(createID)
	op.SetFSAttrs(pipeline.AttrSet{Mask: pipeline.AttrFullPath, FullPath: "/mnt/lustre/new.txt"})
	op.SetCallback(func() { close(cursorAdvanced) })
	op.SetExtra(pipeline.ChangelogExtra{Record: pipeline.ChangelogRecord{Type: pipeline.RecordCreate, EntryId: createID}})
	require.NoError(t, p.Push(op, pipeline.StageGetID))

	select {
	case <-cursorAdvanced:
	case <-time.After(2 * time.Second):
		t.Fatal("changelog cursor-advance callback never fired after an earlier GC_OLDENT sweep")
	}
	require.Len(t, store.Inserts, 1)
}

func TestHSMPipelineDBApplyFailureRetiresWithoutCallback(t *testing.T) {
	store := catalog.NewFakeStore()
	id := pipeline.EntryId{Seq: 8, Oid: 8}
	store.FailNextOp = pipeline.DBOpInsert
	probe := fsprobe.NewFakeProbe()
	probe.Seed("/mnt/lustre/fail.txt", id, pipeline.AttrSet{Mask: pipeline.AttrType, Type: "file"})

	deps := pipeline.HandlerDeps{Store: store, FS: probe, Policy: policy.NewFakeEngine(), Alerts: alert.NewFakeSink()}
	p := newHSMPipeline(t, deps, pipeline.HandlerConfig{})

	called := false
	op := pipeline.NewOp()
	op.SetId(id)
	op.SetFSAttrs(pipeline.AttrSet{Mask: pipeline.AttrFullPath, FullPath: "/mnt/lustre/fail.txt"})
	op.SetCallback(func() { called = true })
	op.SetExtra(pipeline.ChangelogExtra{Record: pipeline.ChangelogRecord{Type: pipeline.RecordCreate, EntryId: id}})
	require.NoError(t, p.Push(op, pipeline.StageGetID))

	waitRetired(t, p, func() bool {
		processed, _ := p.Queue(pipeline.StageDBApply).Stats()
		return processed == 1
	})
	require.Empty(t, store.Inserts)
	require.False(t, called, "callback must not fire when DB_APPLY failed")
}
