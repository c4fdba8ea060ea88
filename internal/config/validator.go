package config

import "fmt"

// Validate performs fail-fast validation, mirroring the teacher's
// Validator.ValidateAll ordering (one method per concern, first error wins).
func Validate(cfg *Config) error {
	if err := validatePipeline(cfg.Pipeline); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if err := validatePolicy(cfg.Policy); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	if err := validateCatalog(cfg.Catalog); err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	if err := validateChangelog(cfg.Changelog); err != nil {
		return fmt.Errorf("changelog: %w", err)
	}
	return nil
}

func validatePipeline(p PipelineConfig) error {
	if p.NbThread < 1 {
		return fmt.Errorf("nb_thread must be at least 1, got %d", p.NbThread)
	}
	if p.MaxPendingOperations < 0 {
		return fmt.Errorf("max_pending_operations must be >= 0 (0 = unbounded), got %d", p.MaxPendingOperations)
	}
	return nil
}

func validatePolicy(p PolicyConfig) error {
	if p.MDUpdatePeriod < 0 {
		return fmt.Errorf("md_update_period must be non-negative, got %v", p.MDUpdatePeriod)
	}
	for _, a := range p.Alerts {
		if a.Name == "" || a.Expr == "" {
			return fmt.Errorf("alert_list entries require both name and expr, got %+v", a)
		}
	}
	return nil
}

func validateCatalog(c CatalogConfig) error {
	if c.DSN == "" {
		return fmt.Errorf("dsn is required")
	}
	return nil
}

func validateChangelog(c ChangelogConfig) error {
	switch c.Mode {
	case "live":
		return nil
	case "replay":
		if c.ReplayFile == "" {
			return fmt.Errorf("replay_file is required when mode=replay")
		}
		return nil
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", "live", "replay", c.Mode)
	}
}
