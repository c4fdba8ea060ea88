package policy

import (
	"fmt"
	"sync"

	"github.com/cea-hpc/entryproc/internal/pipeline"
)

// ExprEngine is the reference PolicyEngine: boolean expressions over
// AttrSet fields, good enough to exercise entry_matches/is_whitelisted/
// get_policy_case/check_policies (spec.md §6.3) without a full fileclass
// DSL. Parsed ASTs are cached by expression text, the same "compile once"
// approach the teacher uses for its regexes (pkg/agent/controller/
// react_parser.go).
type ExprEngine struct {
	cases      map[pipeline.PolicyKind][]policyCase
	whitelist  map[pipeline.PolicyKind][]string // compiled expr strings

	mu    sync.Mutex
	cache map[string]node
}

// policyCase is one named rule for a given PolicyKind, in priority order.
type policyCase struct {
	Name    string
	Expr    string
	Fileset string
}

// NewExprEngine builds an engine with no configured cases; use AddCase/
// AddWhitelist to populate it (internal/config wires these from YAML).
func NewExprEngine() *ExprEngine {
	return &ExprEngine{
		cases:     make(map[pipeline.PolicyKind][]policyCase),
		whitelist: make(map[pipeline.PolicyKind][]string),
		cache:     make(map[string]node),
	}
}

func (e *ExprEngine) AddCase(kind pipeline.PolicyKind, name, expr, fileset string) {
	e.cases[kind] = append(e.cases[kind], policyCase{Name: name, Expr: expr, Fileset: fileset})
}

func (e *ExprEngine) AddWhitelist(kind pipeline.PolicyKind, expr string) {
	e.whitelist[kind] = append(e.whitelist[kind], expr)
}

func (e *ExprEngine) parse(expr string) (node, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n, ok := e.cache[expr]; ok {
		return n, nil
	}
	n, err := parseExpr(expr)
	if err != nil {
		return nil, err
	}
	e.cache[expr] = n
	return n, nil
}

func (e *ExprEngine) EntryMatches(id pipeline.EntryId, attrs pipeline.AttrSet, expr string) (pipeline.PolicyMatch, error) {
	n, err := e.parse(expr)
	if err != nil {
		return pipeline.PolicyErr, err
	}
	v, missing, err := eval(n, attrs)
	if err != nil {
		return pipeline.PolicyErr, err
	}
	if missing {
		return pipeline.PolicyMissingAttr, nil
	}
	if truthy(v) {
		return pipeline.PolicyMatchYes, nil
	}
	return pipeline.PolicyNoMatch, nil
}

func (e *ExprEngine) IsWhitelisted(id pipeline.EntryId, attrs pipeline.AttrSet, kind pipeline.PolicyKind) (bool, error) {
	for _, expr := range e.whitelist[kind] {
		m, err := e.EntryMatches(id, attrs, expr)
		if err != nil {
			return false, err
		}
		if m == pipeline.PolicyMatchYes {
			return true, nil
		}
	}
	return false, nil
}

func (e *ExprEngine) GetPolicyCase(id pipeline.EntryId, attrs pipeline.AttrSet, kind pipeline.PolicyKind) (string, string, error) {
	for _, c := range e.cases[kind] {
		m, err := e.EntryMatches(id, attrs, c.Expr)
		if err != nil {
			return "", "", err
		}
		if m == pipeline.PolicyMatchYes {
			return c.Name, c.Fileset, nil
		}
	}
	return "", "", nil
}

func (e *ExprEngine) CheckPolicies(id pipeline.EntryId, attrs pipeline.AttrSet, matchClasses bool) ([]string, error) {
	if !matchClasses {
		return nil, nil
	}
	var matched []string
	for kind, cases := range e.cases {
		for _, c := range cases {
			m, err := e.EntryMatches(id, attrs, c.Expr)
			if err != nil {
				return matched, err
			}
			if m == pipeline.PolicyMatchYes {
				matched = append(matched, fmt.Sprintf("%s:%s", kind, c.Name))
			}
		}
	}
	return matched, nil
}

// --- evaluation --------------------------------------------------------------

func eval(n node, attrs pipeline.AttrSet) (any, bool, error) {
	switch t := n.(type) {
	case litNode:
		return t.val, false, nil
	case fieldNode:
		v, present := field(attrs, t.name)
		return v, !present, nil
	case notNode:
		v, missing, err := eval(t.x, attrs)
		if err != nil || missing {
			return nil, missing, err
		}
		return !truthy(v), false, nil
	case binNode:
		return evalBin(t, attrs)
	default:
		return nil, false, fmt.Errorf("policy: unknown node %T", n)
	}
}

func evalBin(b binNode, attrs pipeline.AttrSet) (any, bool, error) {
	switch b.op {
	case "&&":
		lv, lm, err := eval(b.left, attrs)
		if err != nil || lm {
			return nil, lm, err
		}
		if !truthy(lv) {
			return false, false, nil
		}
		rv, rm, err := eval(b.right, attrs)
		if err != nil || rm {
			return nil, rm, err
		}
		return truthy(rv), false, nil
	case "||":
		lv, lm, err := eval(b.left, attrs)
		if err != nil || lm {
			return nil, lm, err
		}
		if truthy(lv) {
			return true, false, nil
		}
		rv, rm, err := eval(b.right, attrs)
		if err != nil || rm {
			return nil, rm, err
		}
		return truthy(rv), false, nil
	default:
		lv, lm, err := eval(b.left, attrs)
		if err != nil || lm {
			return nil, lm, err
		}
		rv, rm, err := eval(b.right, attrs)
		if err != nil || rm {
			return nil, rm, err
		}
		return compare(b.op, lv, rv)
	}
}

func compare(op string, l, r any) (any, bool, error) {
	if lf, ok := toFloat(l); ok {
		if rf, ok := toFloat(r); ok {
			switch op {
			case "==":
				return lf == rf, false, nil
			case "!=":
				return lf != rf, false, nil
			case "<":
				return lf < rf, false, nil
			case "<=":
				return lf <= rf, false, nil
			case ">":
				return lf > rf, false, nil
			case ">=":
				return lf >= rf, false, nil
			}
		}
	}
	ls, lok := l.(string)
	rs, rok := r.(string)
	if lok && rok {
		switch op {
		case "==":
			return ls == rs, false, nil
		case "!=":
			return ls != rs, false, nil
		}
	}
	return nil, false, fmt.Errorf("policy: cannot compare %v %s %v", l, op, r)
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int64:
		return float64(t), true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	default:
		return v != nil
	}
}

// field resolves an identifier against the merged AttrSet used by
// REPORTING/policy evaluation. present is false when the identifier names a
// known field whose mask bit isn't set (spec.md's missing_attr outcome).
func field(a pipeline.AttrSet, name string) (any, bool) {
	switch name {
	case "type":
		return a.Type, a.Mask.Has(pipeline.AttrType)
	case "owner":
		return a.Owner, a.Mask.Has(pipeline.AttrOwner)
	case "group":
		return a.Group, a.Mask.Has(pipeline.AttrGroup)
	case "size":
		return float64(a.Size), a.Mask.Has(pipeline.AttrSize)
	case "fullpath", "path":
		return a.FullPath, a.Mask.Has(pipeline.AttrFullPath)
	case "name":
		return a.Name, a.Mask.Has(pipeline.AttrName)
	case "status":
		return statusName(a.Status), a.Mask.Has(pipeline.AttrStatus)
	case "last_archive":
		return float64(a.LastArchive), a.Mask.Has(pipeline.AttrLastArchive)
	case "last_restore":
		return float64(a.LastRestore), a.Mask.Has(pipeline.AttrLastRestore)
	case "archive_class":
		return a.ArchiveClass, a.Mask.Has(pipeline.AttrArchiveClass)
	case "release_class":
		return a.ReleaseClass, a.Mask.Has(pipeline.AttrReleaseClass)
	default:
		return nil, false
	}
}

func statusName(s pipeline.EntryStatus) string {
	switch s {
	case pipeline.StatusNew:
		return "new"
	case pipeline.StatusModified:
		return "modified"
	case pipeline.StatusSynchro:
		return "synchro"
	case pipeline.StatusArchived:
		return "archived"
	case pipeline.StatusReleased:
		return "released"
	default:
		return "unknown"
	}
}
