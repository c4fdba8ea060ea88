package pipeline

import (
	"fmt"
	"strings"
	"time"
)

// Describe renders a short "first/last" descriptor for an op in dump
// output (spec.md §4.8) — a path for scan ops, a changelog record id for
// changelog ops. Defaults to the op's RunID; handler packages should call
// SetDescribe with something more useful (see internal/changelog).
type Describe func(*Op) string

func defaultDescribe(o *Op) string { return o.RunID }

// SetDescribe overrides how dump() renders queue head/tail ops.
func (p *Pipeline) SetDescribe(d Describe) { p.describe = d }

// StageSnapshot is one stage's counters at dump time (C8, spec.md §4.8).
type StageSnapshot struct {
	Name       string        `json:"name"`
	Waiting    int           `json:"waiting"`
	Running    int           `json:"running"`
	Done       int           `json:"done"`
	Processed  int64         `json:"processed"`
	MsPerOp    float64       `json:"ms_per_op"`
	First      string        `json:"first,omitempty"`
	Last       string        `json:"last,omitempty"`
}

// DumpSnapshot is the whole-pipeline structured dump, consumed by the
// observatory's HTTP/WS surface.
type DumpSnapshot struct {
	Stages         []StageSnapshot `json:"stages"`
	AdmissionInUse int             `json:"admission_in_use"`
	Workers        []WorkerHealth  `json:"workers"`
}

func (p *Pipeline) describeOp(o *Op) string {
	if p.describe != nil {
		return p.describe(o)
	}
	return defaultDescribe(o)
}

// DumpJSON walks every stage under its lock and returns a structured
// snapshot (C8, spec.md §4.8).
func (p *Pipeline) DumpJSON() DumpSnapshot {
	snap := DumpSnapshot{
		AdmissionInUse: p.AdmissionInUse(),
		Workers:        p.WorkerHealth(),
	}
	for i, stage := range p.stages {
		q := p.queues[i]
		waiting, running, done := q.Counts()
		processed, total := q.Stats()
		first, last := q.Ends(p.describeOp)
		msPerOp := 0.0
		if processed > 0 {
			msPerOp = float64(total) / float64(processed) / float64(time.Millisecond)
		}
		snap.Stages = append(snap.Stages, StageSnapshot{
			Name:      stage.Name,
			Waiting:   waiting,
			Running:   running,
			Done:      done,
			Processed: processed,
			MsPerOp:   msPerOp,
			First:     first,
			Last:      last,
		})
	}
	return snap
}

// Dump renders the same information as DumpJSON as a human-readable
// multi-line report (spec.md §4.8's dump(): "prints for each: name,
// counters, ms/op, and a one-line first/last descriptor").
func (p *Pipeline) Dump() string {
	snap := p.DumpJSON()
	var b strings.Builder
	fmt.Fprintf(&b, "admission_in_use=%d\n", snap.AdmissionInUse)
	for _, s := range snap.Stages {
		fmt.Fprintf(&b, "%-14s waiting=%-4d running=%-4d done=%-4d processed=%-8d ms/op=%.2f",
			s.Name, s.Waiting, s.Running, s.Done, s.Processed, s.MsPerOp)
		if s.First != "" || s.Last != "" {
			fmt.Fprintf(&b, " first=%q last=%q", s.First, s.Last)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
