package policy

import "github.com/cea-hpc/entryproc/internal/pipeline"

// FakeEngine is a scripted PolicyEngine test double: callers set the
// response for a given expr/kind directly instead of writing real rule
// expressions.
type FakeEngine struct {
	Matches     map[string]pipeline.PolicyMatch
	Whitelisted map[pipeline.PolicyKind]bool
	Cases       map[pipeline.PolicyKind][2]string // [policy, fileset]
}

func NewFakeEngine() *FakeEngine {
	return &FakeEngine{
		Matches:     make(map[string]pipeline.PolicyMatch),
		Whitelisted: make(map[pipeline.PolicyKind]bool),
		Cases:       make(map[pipeline.PolicyKind][2]string),
	}
}

func (f *FakeEngine) EntryMatches(id pipeline.EntryId, attrs pipeline.AttrSet, expr string) (pipeline.PolicyMatch, error) {
	if m, ok := f.Matches[expr]; ok {
		return m, nil
	}
	return pipeline.PolicyNoMatch, nil
}

func (f *FakeEngine) IsWhitelisted(id pipeline.EntryId, attrs pipeline.AttrSet, kind pipeline.PolicyKind) (bool, error) {
	return f.Whitelisted[kind], nil
}

func (f *FakeEngine) GetPolicyCase(id pipeline.EntryId, attrs pipeline.AttrSet, kind pipeline.PolicyKind) (string, string, error) {
	c := f.Cases[kind]
	return c[0], c[1], nil
}

func (f *FakeEngine) CheckPolicies(id pipeline.EntryId, attrs pipeline.AttrSet, matchClasses bool) ([]string, error) {
	if !matchClasses {
		return nil, nil
	}
	var out []string
	for kind := range f.Cases {
		out = append(out, string(kind))
	}
	return out, nil
}
