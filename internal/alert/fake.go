package alert

import (
	"sync"

	"github.com/cea-hpc/entryproc/internal/pipeline"
)

// FakeSink is an in-memory AlertSink test double recording every call.
type FakeSink struct {
	mu     sync.Mutex
	Alerts []FakeAlert
}

// FakeAlert is one recorded Alert call.
type FakeAlert struct {
	Rule  pipeline.AlertRule
	Id    pipeline.EntryId
	Attrs pipeline.AttrSet
}

func NewFakeSink() *FakeSink { return &FakeSink{} }

func (f *FakeSink) Alert(rule pipeline.AlertRule, id pipeline.EntryId, attrs pipeline.AttrSet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Alerts = append(f.Alerts, FakeAlert{Rule: rule, Id: id, Attrs: attrs})
	return nil
}

// Count returns the number of recorded Alert calls.
func (f *FakeSink) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Alerts)
}
