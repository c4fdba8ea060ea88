// Package gc drives full-tree scans and the GC_OLDENT sweep that follows
// them: spec.md §4.6 describes GC_OLDENT as "a special, producer-submitted
// sweep op used at the end of a full scan", but leaves the scanner itself
// out of the core (§1 Non-goals: "the changelog reader and scanner").
package gc

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/cea-hpc/entryproc/internal/changelog"
	"github.com/cea-hpc/entryproc/internal/pipeline"
)

// Scanner walks a directory tree, resolving each entry's id and attributes
// through an FsProbe and admitting it through a Producer's PushScan path
// (GET_INFO_DB entry point, spec.md §4.6).
type Scanner struct {
	probe    pipeline.FsProbe
	producer *changelog.Producer
	log      *slog.Logger
}

// NewScanner returns a Scanner resolving entries with probe and pushing
// them through producer.
func NewScanner(probe pipeline.FsProbe, producer *changelog.Producer) *Scanner {
	return &Scanner{probe: probe, producer: producer, log: slog.With("component", "gc_scanner")}
}

// Walk scans root and pushes one op per entry found, stamping every op with
// scanStart (spec.md §4.6's "md_update < scan_start_time" GC_OLDENT filter
// depends on every entry seen during this walk carrying the same stamp).
// Returns the scan's start time (the GC_OLDENT watermark to sweep with) and
// the number of entries pushed.
func (s *Scanner) Walk(ctx context.Context, root string) (time.Time, int, error) {
	scanStart := time.Now()
	count := 0

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			s.log.Warn("scan: walk error, skipping", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		id, err := s.probe.PathToID(path)
		if err != nil {
			s.log.Warn("scan: path->id failed, skipping", "path", path, "error", err)
			return nil
		}
		attrs, err := s.probe.Stat(path)
		if err != nil {
			s.log.Warn("scan: stat failed, skipping", "path", path, "error", err)
			return nil
		}
		attrs.Mask |= pipeline.AttrFullPath | pipeline.AttrName | pipeline.AttrDepth
		attrs.FullPath = path
		attrs.Name = d.Name()
		attrs.Depth = strings.Count(strings.TrimPrefix(path, root), string(filepath.Separator))

		if err := s.producer.PushScan(id, attrs, scanStart); err != nil {
			return fmt.Errorf("gc: push scan op for %s: %w", path, err)
		}
		count++
		return nil
	})
	if err != nil {
		return scanStart, count, err
	}
	return scanStart, count, nil
}
