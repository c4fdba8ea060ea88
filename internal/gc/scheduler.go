package gc

import (
	"context"
	"log/slog"
	"time"

	"github.com/cea-hpc/entryproc/internal/changelog"
)

// Config controls the periodic full-scan/sweep cycle.
type Config struct {
	// Roots are the directory trees swept every Interval. Each root is
	// scanned and swept independently, with the root path itself used as
	// the GC_OLDENT prefix filter (spec.md §4.6's partial-scan case) unless
	// PathPrefix overrides it.
	Roots []string

	// PathPrefix overrides the GC_OLDENT filter passed for every root
	// (supplemental: a partial rescan under a subtree still wants the
	// mass-remove restricted to that subtree; carried to GC_OLDENT in
	// pipeline.SweepExtra.PathPrefix). Empty means use the root itself.
	PathPrefix string

	// Interval between scan cycles.
	Interval time.Duration

	// SweepTimeout bounds how long a cycle waits for its GC_OLDENT op to
	// retire before moving on; 0 means wait forever.
	SweepTimeout time.Duration
}

// Scheduler periodically drives a Scanner over Config.Roots and follows
// each walk with the GC_OLDENT sweep that reconciles the catalog against
// what the walk actually found (spec.md §4.6, §7's worked example). Shaped
// on the teacher's pkg/cleanup.Service: a cancel func plus a done channel
// guarding a ticker-driven run loop.
type Scheduler struct {
	cfg      Config
	scanner  *Scanner
	producer *changelog.Producer
	log      *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler returns a Scheduler that scans with scanner and sweeps
// through producer according to cfg.
func NewScheduler(cfg Config, scanner *Scanner, producer *changelog.Producer) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		scanner:  scanner,
		producer: producer,
		log:      slog.With("component", "gc_scheduler"),
	}
}

// Start launches the background scan/sweep loop. A no-op if already
// started.
func (s *Scheduler) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.log.Info("gc scheduler started", "roots", s.cfg.Roots, "interval", s.cfg.Interval)
}

// Stop signals the loop to exit and waits for the current cycle to finish.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.log.Info("gc scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Scheduler) runAll(ctx context.Context) {
	for _, root := range s.cfg.Roots {
		if ctx.Err() != nil {
			return
		}
		s.runOne(ctx, root)
	}
}

// runOne performs one scan-then-sweep cycle over root, blocking until the
// sweep's GC_OLDENT op retires (or SweepTimeout elapses).
func (s *Scheduler) runOne(ctx context.Context, root string) {
	scanStart, count, err := s.scanner.Walk(ctx, root)
	if err != nil {
		s.log.Error("gc: scan failed", "root", root, "error", err)
		return
	}
	s.log.Info("gc: scan complete", "root", root, "entries", count, "scan_start", scanStart)

	prefix := s.cfg.PathPrefix
	if prefix == "" {
		prefix = root
	}

	done := make(chan struct{})
	if err := s.producer.PushSweep(scanStart, prefix, func() { close(done) }); err != nil {
		s.log.Error("gc: push sweep failed", "root", root, "error", err)
		return
	}

	if s.cfg.SweepTimeout <= 0 {
		<-done
		return
	}
	select {
	case <-done:
	case <-time.After(s.cfg.SweepTimeout):
		s.log.Warn("gc: sweep did not retire within timeout", "root", root, "timeout", s.cfg.SweepTimeout)
	}
}
