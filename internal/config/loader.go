package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Load reads entryproc.yaml from configDir, merges it over DefaultConfig,
// and validates the result. Mirrors the teacher's Initialize() shape
// (pkg/config/loader.go): load → merge-over-defaults → validate.
func Load(configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("loading configuration")

	cfg := DefaultConfig()
	cfg.configDir = configDir

	path := filepath.Join(configDir, "entryproc.yaml")
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		data = ExpandEnv(data)
		var file Config
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
		}
		if err := mergo.Merge(cfg, &file, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("config: merging %s: %w", path, err)
		}
	case os.IsNotExist(err):
		log.Info("no entryproc.yaml found, using built-in defaults", "path", path)
	default:
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}
