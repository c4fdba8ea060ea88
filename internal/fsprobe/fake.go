package fsprobe

import (
	"sync"

	"github.com/cea-hpc/entryproc/internal/pipeline"
)

// FakeProbe is an in-memory FsProbe test double, grounded on the teacher's
// fake-heavy collaborator test style (pkg/queue's executor stubs): a map of
// canned responses keyed by path/id, safe for concurrent use by a worker
// pool under test.
type FakeProbe struct {
	mu sync.Mutex

	byPath map[string]pipeline.EntryId
	byID   map[pipeline.EntryId]string
	attrs  map[string]pipeline.AttrSet
	stripe map[string]pipeline.StripeInfo
	hsm    map[string]pipeline.HSMStatusResult

	missing map[string]bool
}

// NewFakeProbe returns an empty FakeProbe.
func NewFakeProbe() *FakeProbe {
	return &FakeProbe{
		byPath:  make(map[string]pipeline.EntryId),
		byID:    make(map[pipeline.EntryId]string),
		attrs:   make(map[string]pipeline.AttrSet),
		stripe:  make(map[string]pipeline.StripeInfo),
		hsm:     make(map[string]pipeline.HSMStatusResult),
		missing: make(map[string]bool),
	}
}

// Seed registers a path/id pair and its canned attributes in one call.
func (f *FakeProbe) Seed(path string, id pipeline.EntryId, attrs pipeline.AttrSet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byPath[path] = id
	f.byID[id] = path
	f.attrs[path] = attrs
}

// MarkMissing makes path behave as vanished (ENOENT) for Stat/IDToPath.
func (f *FakeProbe) MarkMissing(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.missing[path] = true
}

// SeedStripe/SeedHSMStatus register canned stripe/HSM responses for path.
func (f *FakeProbe) SeedStripe(path string, si pipeline.StripeInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stripe[path] = si
}

func (f *FakeProbe) SeedHSMStatus(path string, hs pipeline.HSMStatusResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hsm[path] = hs
}

func (f *FakeProbe) PathToID(path string) (pipeline.EntryId, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing[path] {
		return pipeline.EntryId{}, pipeline.ErrNotFound
	}
	id, ok := f.byPath[path]
	if !ok {
		return pipeline.EntryId{}, pipeline.ErrNotFound
	}
	return id, nil
}

func (f *FakeProbe) IDToPath(id pipeline.EntryId) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path, ok := f.byID[id]
	if !ok {
		return "", pipeline.ErrNotFound
	}
	if f.missing[path] {
		return "", pipeline.ErrNotFound
	}
	return path, nil
}

func (f *FakeProbe) BuildIDPath(id pipeline.EntryId) (string, bool) {
	return "", false
}

func (f *FakeProbe) Stat(path string) (pipeline.AttrSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing[path] {
		return pipeline.AttrSet{}, pipeline.ErrNotFound
	}
	a, ok := f.attrs[path]
	if !ok {
		return pipeline.AttrSet{}, pipeline.ErrNotFound
	}
	return a, nil
}

func (f *FakeProbe) GetStripe(path string) (pipeline.StripeInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stripe[path], nil
}

func (f *FakeProbe) GetHSMStatus(path string) (pipeline.HSMStatusResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing[path] {
		return pipeline.HSMStatusResult{}, pipeline.ErrNotFound
	}
	return f.hsm[path], nil
}
