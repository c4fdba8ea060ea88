package catalog

import (
	"sync"
	"time"

	"github.com/cea-hpc/entryproc/internal/pipeline"
)

// FakeStore is an in-memory pipeline.Store test double, grounded on the
// other collaborator packages' Fake* pattern (internal/fsprobe,
// internal/policy, internal/alert): no network, scripted/recordable calls,
// enough behavior to drive handlers_hsm.go's state machine under test.
type FakeStore struct {
	mu sync.Mutex

	entries     map[pipeline.EntryId]pipeline.AttrSet
	softRemoved map[pipeline.EntryId]bool
	vars        map[string]string
	committed   bool

	Inserts             []pipeline.EntryId
	Updates             []pipeline.EntryId
	Removes             []pipeline.EntryId
	SoftRemoves         []pipeline.EntryId
	MassRemoveCalls     int
	MassSoftRemoveCalls int

	// FailNextOp, when non-zero, makes the next call of that DBOpType return
	// StoreOther once, then resets.
	FailNextOp pipeline.DBOpType
}

func NewFakeStore() *FakeStore {
	return &FakeStore{
		entries:     make(map[pipeline.EntryId]pipeline.AttrSet),
		softRemoved: make(map[pipeline.EntryId]bool),
		vars:        make(map[string]string),
		committed:   true,
	}
}

// Seed pre-populates an entry as if already known to the catalog.
func (s *FakeStore) Seed(id pipeline.EntryId, attrs pipeline.AttrSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = attrs
}

func (s *FakeStore) Get(id pipeline.EntryId, need pipeline.AttrMask) (bool, pipeline.AttrSet, pipeline.StoreResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.entries[id]
	if !ok {
		return false, pipeline.AttrSet{}, pipeline.StoreResult{Code: pipeline.StoreNotExists}
	}
	a.Mask &= need
	return true, a, pipeline.StoreResult{Code: pipeline.StoreSuccess}
}

func (s *FakeStore) Exists(id pipeline.EntryId) (bool, pipeline.StoreResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok, pipeline.StoreResult{Code: pipeline.StoreSuccess}
}

func (s *FakeStore) CheckStripe(id pipeline.EntryId, want pipeline.StripeInfo) (bool, pipeline.StoreResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.entries[id]
	if !ok {
		return false, pipeline.StoreResult{Code: pipeline.StoreNotExists}
	}
	return a.StripeInfo == want, pipeline.StoreResult{Code: pipeline.StoreSuccess}
}

func (s *FakeStore) failOrSuccess(t pipeline.DBOpType) (pipeline.StoreResult, bool) {
	if s.FailNextOp == t {
		s.FailNextOp = pipeline.DBOpNone
		return pipeline.StoreResult{Code: pipeline.StoreOther}, true
	}
	return pipeline.StoreResult{}, false
}

func (s *FakeStore) Insert(id pipeline.EntryId, attrs pipeline.AttrSet) pipeline.StoreResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if res, failed := s.failOrSuccess(pipeline.DBOpInsert); failed {
		return res
	}
	s.entries[id] = attrs
	s.Inserts = append(s.Inserts, id)
	return pipeline.StoreResult{Code: pipeline.StoreSuccess}
}

func (s *FakeStore) Update(id pipeline.EntryId, attrs pipeline.AttrSet) pipeline.StoreResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if res, failed := s.failOrSuccess(pipeline.DBOpUpdate); failed {
		return res
	}
	existing, ok := s.entries[id]
	if !ok {
		return pipeline.StoreResult{Code: pipeline.StoreNotExists}
	}
	s.entries[id] = pipeline.MergeAttrs(existing, attrs, true)
	s.Updates = append(s.Updates, id)
	return pipeline.StoreResult{Code: pipeline.StoreSuccess}
}

func (s *FakeStore) Remove(id pipeline.EntryId) pipeline.StoreResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if res, failed := s.failOrSuccess(pipeline.DBOpRemove); failed {
		return res
	}
	if _, ok := s.entries[id]; !ok {
		return pipeline.StoreResult{Code: pipeline.StoreNotExists}
	}
	delete(s.entries, id)
	s.Removes = append(s.Removes, id)
	return pipeline.StoreResult{Code: pipeline.StoreSuccess}
}

func (s *FakeStore) SoftRemove(id pipeline.EntryId, fullPath, backendPath string, purgeAt time.Time) pipeline.StoreResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if res, failed := s.failOrSuccess(pipeline.DBOpSoftRemove); failed {
		return res
	}
	if _, ok := s.entries[id]; !ok {
		return pipeline.StoreResult{Code: pipeline.StoreNotExists}
	}
	s.softRemoved[id] = true
	s.SoftRemoves = append(s.SoftRemoves, id)
	return pipeline.StoreResult{Code: pipeline.StoreSuccess}
}

func (s *FakeStore) MassRemove(olderThan time.Time, pathPrefix string) (int64, pipeline.StoreResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MassRemoveCalls++
	var n int64
	for id, a := range s.entries {
		if s.softRemoved[id] && a.PathUpdate.Before(olderThan) {
			delete(s.entries, id)
			n++
		}
	}
	return n, pipeline.StoreResult{Code: pipeline.StoreSuccess}
}

func (s *FakeStore) MassSoftRemove(olderThan time.Time, pathPrefix string, purgeAt time.Time) (int64, pipeline.StoreResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MassSoftRemoveCalls++
	var n int64
	for id, a := range s.entries {
		if !s.softRemoved[id] && a.PathUpdate.Before(olderThan) {
			s.softRemoved[id] = true
			n++
		}
	}
	return n, pipeline.StoreResult{Code: pipeline.StoreSuccess}
}

func (s *FakeStore) GetVar(name string) (string, pipeline.StoreResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vars[name]
	if !ok {
		return "", pipeline.StoreResult{Code: pipeline.StoreNotExists}
	}
	return v, pipeline.StoreResult{Code: pipeline.StoreSuccess}
}

func (s *FakeStore) SetVar(name, value string) pipeline.StoreResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vars[name] = value
	return pipeline.StoreResult{Code: pipeline.StoreSuccess}
}

func (s *FakeStore) ForceCommit(on bool) pipeline.StoreResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed = on
	return pipeline.StoreResult{Code: pipeline.StoreSuccess}
}

func (s *FakeStore) GetCommitStatus() (bool, pipeline.StoreResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed, pipeline.StoreResult{Code: pipeline.StoreSuccess}
}

func (s *FakeStore) GenerateFields(attrs pipeline.AttrSet, mask pipeline.AttrMask) pipeline.AttrSet {
	out := attrs
	out.Mask = attrs.Mask & mask
	return out
}

func (s *FakeStore) MergeAttrs(dst, src pipeline.AttrSet, overwrite bool) pipeline.AttrSet {
	return pipeline.MergeAttrs(dst, src, overwrite)
}
