package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cea-hpc/entryproc/internal/pipeline"
)

func TestLoadRulesFilePopulatesCasesAndWhitelist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := `
kinds:
  archive:
    cases:
      - name: big_logs
        expr: "size > 1000000"
        fileset: logs
    whitelist:
      - "owner == \"root\""
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	e := NewExprEngine()
	require.NoError(t, LoadRulesFile(e, path))

	name, fileset, err := e.GetPolicyCase(pipeline.EntryId{}, pipeline.AttrSet{
		Mask: pipeline.AttrSize, Size: 2000000,
	}, "archive")
	require.NoError(t, err)
	require.Equal(t, "big_logs", name)
	require.Equal(t, "logs", fileset)

	ok, err := e.IsWhitelisted(pipeline.EntryId{}, pipeline.AttrSet{
		Mask: pipeline.AttrOwner, Owner: "root",
	}, "archive")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLoadRulesFileMissingFileErrors(t *testing.T) {
	e := NewExprEngine()
	err := LoadRulesFile(e, filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
