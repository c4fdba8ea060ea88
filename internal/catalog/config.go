package catalog

import (
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Config holds the PostgreSQL connection settings for the catalog store.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// ParseDSN splits a postgres:// connection URL (config.CatalogConfig.DSN's
// format) into a Config, leaving pool tuning at its zero value (New applies
// its own defaults). sslmode defaults to "disable" when the URL omits it,
// matching the convenience default most local/dev DSNs rely on.
func ParseDSN(dsn string) (Config, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return Config{}, fmt.Errorf("catalog: parse dsn: %w", err)
	}
	port, _ := strconv.Atoi(u.Port())
	pw, _ := u.User.Password()
	sslmode := u.Query().Get("sslmode")
	if sslmode == "" {
		sslmode = "disable"
	}
	database := u.Path
	if len(database) > 0 && database[0] == '/' {
		database = database[1:]
	}
	return Config{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: pw,
		Database: database,
		SSLMode:  sslmode,
	}, nil
}
