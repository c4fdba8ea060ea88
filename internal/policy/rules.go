package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cea-hpc/entryproc/internal/pipeline"
)

// rulesFile is the on-disk shape of policy.rules_file (spec.md §6.4's
// match_classes/fileclass configuration), kept intentionally small: one
// ordered case list plus one whitelist expression list per policy kind.
// Grounded on internal/config/loader.go's load-then-unmarshal approach.
type rulesFile struct {
	Kinds map[string]struct {
		Cases []struct {
			Name    string `yaml:"name"`
			Expr    string `yaml:"expr"`
			Fileset string `yaml:"fileset"`
		} `yaml:"cases"`
		Whitelist []string `yaml:"whitelist"`
	} `yaml:"kinds"`
}

// LoadRulesFile reads path and populates e with its cases and whitelists.
// Called once at startup; ExprEngine has no hot-reload (spec.md §9:
// "configuration is immutable for the pipeline's lifetime").
func LoadRulesFile(e *ExprEngine, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("policy: read %s: %w", path, err)
	}
	var rf rulesFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return fmt.Errorf("policy: parse %s: %w", path, err)
	}
	for kindName, k := range rf.Kinds {
		kind := pipeline.PolicyKind(kindName)
		for _, c := range k.Cases {
			e.AddCase(kind, c.Name, c.Expr, c.Fileset)
		}
		for _, w := range k.Whitelist {
			e.AddWhitelist(kind, w)
		}
	}
	return nil
}
