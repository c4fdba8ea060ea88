package fsprobe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cea-hpc/entryproc/internal/pipeline"
)

func TestOSProbeStatReportsTypeAndSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	probe := NewOSProbe(dir)
	a, err := probe.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, "file", a.Type)
	assert.EqualValues(t, 5, a.Size)
	assert.True(t, a.Mask.Has(pipeline.AttrOwner))
}

func TestOSProbeStatDirReportsDirType(t *testing.T) {
	dir := t.TempDir()
	probe := NewOSProbe(dir)
	a, err := probe.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, "dir", a.Type)
}

func TestOSProbeStatMissingPathReturnsErrNotFound(t *testing.T) {
	probe := NewOSProbe(t.TempDir())
	_, err := probe.Stat("/nonexistent/path/for/entryproc/tests")
	require.ErrorIs(t, err, pipeline.ErrNotFound)
}

func TestOSProbePathToIDMissingPathReturnsErrNotFound(t *testing.T) {
	probe := NewOSProbe(t.TempDir())
	_, err := probe.PathToID("/nonexistent/path/for/entryproc/tests")
	require.ErrorIs(t, err, pipeline.ErrNotFound)
}

func TestOSProbePathToIDUsesDevAndInode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	probe := NewOSProbe(dir)
	id, err := probe.PathToID(path)
	require.NoError(t, err)
	assert.NotZero(t, id.Oid)
}

func TestOSProbeBuildIDPathEmptyRootReportsUnsupported(t *testing.T) {
	probe := NewOSProbe("")
	_, ok := probe.BuildIDPath(pipeline.EntryId{Seq: 1, Oid: 1})
	assert.False(t, ok)
}

func TestOSProbeBuildIDPathJoinsLustreFidShortcut(t *testing.T) {
	probe := NewOSProbe("/mnt/lustre")
	path, ok := probe.BuildIDPath(pipeline.EntryId{Seq: 1, Oid: 2})
	require.True(t, ok)
	assert.Equal(t, "/mnt/lustre/.lustre/fid/[0x1:0x2:0x0]", path)
}

func TestOSProbeIDToPathIsUnsupported(t *testing.T) {
	probe := NewOSProbe("/mnt/lustre")
	_, err := probe.IDToPath(pipeline.EntryId{Seq: 1, Oid: 1})
	require.ErrorIs(t, err, pipeline.ErrUnsupportedType)
}

func TestOSProbeGetStripeReportsSingleStripeDefault(t *testing.T) {
	probe := NewOSProbe(t.TempDir())
	s, err := probe.GetStripe("/any/path")
	require.NoError(t, err)
	assert.Equal(t, 1, s.StripeCount)
}

func TestOSProbeGetHSMStatusMissingPathReturnsErrNotFound(t *testing.T) {
	probe := NewOSProbe(t.TempDir())
	_, err := probe.GetHSMStatus("/nonexistent/path/for/entryproc/tests")
	require.ErrorIs(t, err, pipeline.ErrNotFound)
}

func TestOSProbeGetHSMStatusReportsNewForPlainFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	probe := NewOSProbe(dir)
	status, err := probe.GetHSMStatus(path)
	require.NoError(t, err)
	assert.True(t, status.IsNew)
	assert.Equal(t, pipeline.StatusNew, status.Status)
}
