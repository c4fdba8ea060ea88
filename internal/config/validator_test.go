package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Catalog.DSN = "postgres://localhost/entryproc"
	return cfg
}

func TestValidatePipelineRejectsZeroThreads(t *testing.T) {
	cfg := validConfig()
	cfg.Pipeline.NbThread = 0
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nb_thread")
}

func TestValidatePipelineRejectsNegativeMaxPending(t *testing.T) {
	cfg := validConfig()
	cfg.Pipeline.MaxPendingOperations = -1
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_pending_operations")
}

func TestValidatePipelineAllowsZeroMaxPendingAsUnbounded(t *testing.T) {
	cfg := validConfig()
	cfg.Pipeline.MaxPendingOperations = 0
	assert.NoError(t, Validate(cfg))
}

func TestValidatePolicyRejectsNegativeMDUpdatePeriod(t *testing.T) {
	cfg := validConfig()
	cfg.Policy.MDUpdatePeriod = -time.Second
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "md_update_period")
}

func TestValidatePolicyRejectsIncompleteAlertEntry(t *testing.T) {
	cfg := validConfig()
	cfg.Policy.Alerts = []AlertConfig{{Name: "big_file"}}
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alert_list")
}

func TestValidateCatalogRequiresDSN(t *testing.T) {
	cfg := validConfig()
	cfg.Catalog.DSN = ""
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dsn")
}

func TestValidateChangelogRejectsUnknownMode(t *testing.T) {
	cfg := validConfig()
	cfg.Changelog.Mode = "batch"
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mode")
}

func TestValidateChangelogReplayRequiresReplayFile(t *testing.T) {
	cfg := validConfig()
	cfg.Changelog.Mode = "replay"
	cfg.Changelog.ReplayFile = ""
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replay_file")
}

func TestValidateChangelogReplayWithFileSucceeds(t *testing.T) {
	cfg := validConfig()
	cfg.Changelog.Mode = "replay"
	cfg.Changelog.ReplayFile = "/tmp/changelog.ndjson"
	assert.NoError(t, Validate(cfg))
}

func TestValidateStopsAtFirstFailingSection(t *testing.T) {
	cfg := validConfig()
	cfg.Pipeline.NbThread = 0
	cfg.Catalog.DSN = "" // would also fail, but pipeline is checked first
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline")
}
