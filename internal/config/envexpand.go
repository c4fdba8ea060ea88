package config

import "os"

// ExpandEnv expands ${VAR}/$VAR references in YAML content before parsing,
// the same shell-style expansion the teacher applies (pkg/config/envexpand.go)
// so secrets like the catalog DSN or the Slack token never live in the file.
func ExpandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}
