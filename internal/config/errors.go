package config

import "errors"

// ErrInvalidYAML is returned by Load when entryproc.yaml fails to parse.
// A missing file is not an error condition (Load falls back to
// DefaultConfig), so unlike the teacher's pkg/config/errors.go this package
// has no ErrConfigNotFound sentinel.
var ErrInvalidYAML = errors.New("config: invalid yaml")
