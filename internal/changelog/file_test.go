package changelog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cea-hpc/entryproc/internal/pipeline"
)

func writeRecordFile(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "changelog.jsonl")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFileReaderOneShotReplayExhausts(t *testing.T) {
	path := writeRecordFile(t,
		`{"cursor_id":"1","type":1,"seq":10,"oid":10}`,
		`{"cursor_id":"2","type":4,"seq":11,"oid":11}`,
	)
	r, err := NewFileReader(path, false)
	require.NoError(t, err)
	defer r.Close()

	rec1, err := r.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, "1", rec1.CursorID)
	require.Equal(t, pipeline.EntryId{Seq: 10, Oid: 10}, rec1.Payload.EntryId)

	rec2, err := r.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, "2", rec2.CursorID)

	_, err = r.Next(context.Background())
	require.True(t, errors.Is(err, ErrExhausted))
}

func TestFileReaderFollowPicksUpAppendedLines(t *testing.T) {
	path := writeRecordFile(t, `{"cursor_id":"1","type":1,"seq":1,"oid":1}`)
	r, err := NewFileReader(path, true)
	require.NoError(t, err)
	defer r.Close()

	rec, err := r.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, "1", rec.CursorID)

	resultCh := make(chan Record, 1)
	errCh := make(chan error, 1)
	go func() {
		rec, err := r.Next(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- rec
	}()

	time.Sleep(50 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"cursor_id":"2","type":4,"seq":2,"oid":2}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	select {
	case rec := <-resultCh:
		require.Equal(t, "2", rec.CursorID)
	case err := <-errCh:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("follow reader never saw appended record")
	}
}

func TestFileReaderAdvanceRecordsCursors(t *testing.T) {
	path := writeRecordFile(t, `{"cursor_id":"1","type":1,"seq":1,"oid":1}`)
	r, err := NewFileReader(path, false)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Advance("1"))
	require.Equal(t, []string{"1"}, r.Advanced())
}
