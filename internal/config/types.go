package config

import "time"

// PipelineConfig sizes the worker pool and admission semaphore (spec.md
// §6.4: nb_thread, max_pending_operations).
type PipelineConfig struct {
	NbThread              int `yaml:"nb_thread"`
	MaxPendingOperations  int `yaml:"max_pending_operations"`
}

// PolicyConfig drives GET_INFO_DB/GET_INFO_FS/REPORTING decisions (spec.md
// §6.4: match_classes, detect_fake_mtime, alert_list/alert_attr_mask,
// md_update_period).
type PolicyConfig struct {
	MatchClasses    bool          `yaml:"match_classes"`
	DetectFakeMtime bool          `yaml:"detect_fake_mtime"`
	MDUpdatePeriod  time.Duration `yaml:"md_update_period"`
	Alerts          []AlertConfig `yaml:"alert_list"`
	RulesFile       string        `yaml:"rules_file"`
}

// AlertConfig is one entry of alert_list (spec.md §6.4).
type AlertConfig struct {
	Name string `yaml:"name"`
	Expr string `yaml:"expr"`
}

// HSMConfig configures the soft-delete/deferred-purge behavior shared by
// UNLINK handling in GET_INFO_DB and GC_OLDENT.
type HSMConfig struct {
	RemoveEnabled bool          `yaml:"remove_enabled"`
	DeferredDelay time.Duration `yaml:"deferred_delay"`
}

// CatalogConfig is the Postgres connection + migration configuration for
// internal/catalog.
type CatalogConfig struct {
	DSN             string        `yaml:"dsn"`
	MigrationsPath  string        `yaml:"migrations_path"`
	SingleWriter    bool          `yaml:"single_writer"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

// ChangelogConfig configures the changelog source (internal/changelog).
type ChangelogConfig struct {
	Mode       string `yaml:"mode"` // "live" or "replay"
	ReplayFile string `yaml:"replay_file,omitempty"`
}

// ScanConfig configures the optional tree-walk producer (GC_OLDENT sweeps).
type ScanConfig struct {
	Enabled    bool          `yaml:"enabled"`
	RootPath   string        `yaml:"root_path"`
	Interval   time.Duration `yaml:"interval"`
	PathPrefix string        `yaml:"path_prefix,omitempty"`
}

// AlertSinkConfig configures internal/alert's SlackSink.
type AlertSinkConfig struct {
	Enabled  bool   `yaml:"enabled"`
	TokenEnv string `yaml:"token_env"`
	Channel  string `yaml:"channel"`
}

// ObservatoryConfig configures the HTTP/WS observability surface.
type ObservatoryConfig struct {
	ListenAddr       string        `yaml:"listen_addr"`
	AllowedWSOrigins []string      `yaml:"allowed_ws_origins"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

// Config is the umbrella configuration object returned by Load, mirroring
// the teacher's pkg/config.Config shape (one struct per concern, merged
// from YAML over compiled-in defaults).
type Config struct {
	configDir string

	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Policy      PolicyConfig      `yaml:"policy"`
	HSM         HSMConfig         `yaml:"hsm"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	Changelog   ChangelogConfig   `yaml:"changelog"`
	Scan        ScanConfig        `yaml:"scan"`
	Alert       AlertSinkConfig   `yaml:"alert"`
	Observatory ObservatoryConfig `yaml:"observatory"`
}

// ConfigDir returns the directory Load read the config file from.
func (c *Config) ConfigDir() string { return c.configDir }
