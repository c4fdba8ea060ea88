package pipeline

import (
	"errors"
	"fmt"
)

// Sentinel errors (spec.md §7), named the way the teacher names its
// config/queue sentinels: one errors.New per distinct caller-visible
// condition, wrapped with context at the call site rather than modeled as
// bespoke types.
var (
	// ErrShuttingDown is returned by Push/acquire when the pipeline is
	// terminating and no longer admits new ops.
	ErrShuttingDown = errors.New("pipeline: shutting down")

	// ErrUnsupportedType is returned by FsProbe collaborators for object
	// types the probe can't report HSM status for (spec.md §7).
	ErrUnsupportedType = errors.New("pipeline: unsupported object type")

	// ErrNotFound is returned by FsProbe collaborators on ENOENT/ESTALE.
	ErrNotFound = errors.New("pipeline: filesystem object vanished")
)

// AckError is a hard, logged-critical error from Acknowledge: the op is
// not advanced (spec.md §7, "malformed/unexpected stage state").
type AckError struct {
	OpRunID    string
	FromStage  int
	TargetStage int
	Reason     string
}

func (e *AckError) Error() string {
	return fmt.Sprintf("pipeline: acknowledge op %s: cannot move stage %d -> %d: %s",
		e.OpRunID, e.FromStage, e.TargetStage, e.Reason)
}
