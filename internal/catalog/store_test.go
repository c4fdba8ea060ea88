package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cea-hpc/entryproc/internal/pipeline"
)

func TestPostgresStoreInsertGetUpdate(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	cfg := testConfig(t)
	store, err := New(t.Context(), cfg)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	id := pipeline.EntryId{Seq: 7, Oid: 42}
	attrs := pipeline.AttrSet{
		Mask:     pipeline.AttrFullPath | pipeline.AttrType | pipeline.AttrSize | pipeline.AttrStatus,
		FullPath: "/mnt/lustre/data/foo",
		Type:     "file",
		Size:     1024,
		Status:   pipeline.StatusNew,
	}

	res := store.Insert(id, attrs)
	require.Equal(t, pipeline.StoreSuccess, res.Code)

	exists, res := store.Exists(id)
	require.Equal(t, pipeline.StoreSuccess, res.Code)
	require.True(t, exists)

	found, got, res := store.Get(id, pipeline.AttrFullPath|pipeline.AttrSize)
	require.Equal(t, pipeline.StoreSuccess, res.Code)
	require.True(t, found)
	require.True(t, got.Mask.Has(pipeline.AttrFullPath))
	require.True(t, got.Mask.Has(pipeline.AttrSize))
	require.False(t, got.Mask.Has(pipeline.AttrStatus))
	require.Equal(t, "/mnt/lustre/data/foo", got.FullPath)
	require.Equal(t, int64(1024), got.Size)

	upd := store.Update(id, pipeline.AttrSet{Mask: pipeline.AttrSize, Size: 2048})
	require.Equal(t, pipeline.StoreSuccess, upd.Code)

	_, got, _ = store.Get(id, pipeline.AttrSize|pipeline.AttrStatus)
	require.Equal(t, int64(2048), got.Size)
	require.True(t, got.Mask.Has(pipeline.AttrStatus))
	require.Equal(t, pipeline.StatusNew, got.Status)
}

func TestPostgresStoreSoftRemoveAndMassPurge(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	cfg := testConfig(t)
	store, err := New(t.Context(), cfg)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	id := pipeline.EntryId{Seq: 9, Oid: 99}
	require.Equal(t, pipeline.StoreSuccess, store.Insert(id, pipeline.AttrSet{Mask: pipeline.AttrFullPath, FullPath: "/mnt/x"}).Code)

	purgeAt := time.Now().Add(-time.Hour)
	res := store.SoftRemove(id, "/mnt/x", "backend/x", purgeAt)
	require.Equal(t, pipeline.StoreSuccess, res.Code)

	count, res := store.MassRemove(time.Now(), "/mnt")
	require.Equal(t, pipeline.StoreSuccess, res.Code)
	require.Equal(t, int64(1), count)

	_, res = store.Exists(id)
	exists, _ := store.Exists(id)
	require.False(t, exists)
	require.Equal(t, pipeline.StoreSuccess, res.Code)
}

func TestPostgresStoreVars(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	cfg := testConfig(t)
	store, err := New(t.Context(), cfg)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	_, res := store.GetVar("last_scan")
	require.Equal(t, pipeline.StoreNotExists, res.Code)

	require.Equal(t, pipeline.StoreSuccess, store.SetVar("last_scan", "2026-07-30T00:00:00Z").Code)
	v, res := store.GetVar("last_scan")
	require.Equal(t, pipeline.StoreSuccess, res.Code)
	require.Equal(t, "2026-07-30T00:00:00Z", v)

	require.Equal(t, pipeline.StoreSuccess, store.ForceCommit(true).Code)
	committed, res := store.GetCommitStatus()
	require.Equal(t, pipeline.StoreSuccess, res.Code)
	require.True(t, committed)
}
