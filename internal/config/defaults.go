package config

import "time"

// DefaultConfig returns the compiled-in configuration every loaded config is
// merged onto, mirroring the teacher's builtin.go approach of shipping a
// usable configuration with no YAML file at all.
func DefaultConfig() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			NbThread:             8,
			MaxPendingOperations: 10000,
		},
		Policy: PolicyConfig{
			MatchClasses:    false,
			DetectFakeMtime: true,
			MDUpdatePeriod:  5 * time.Minute,
		},
		HSM: HSMConfig{
			RemoveEnabled: false,
			DeferredDelay: 24 * time.Hour,
		},
		Catalog: CatalogConfig{
			MigrationsPath: "migrations",
			ConnectTimeout: 10 * time.Second,
		},
		Changelog: ChangelogConfig{
			Mode: "live",
		},
		Scan: ScanConfig{
			Interval: time.Hour,
		},
		Alert: AlertSinkConfig{
			TokenEnv: "SLACK_BOT_TOKEN",
		},
		Observatory: ObservatoryConfig{
			ListenAddr:       ":8090",
			SnapshotInterval: 5 * time.Second,
		},
	}
}
