package catalog

import (
	"context"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	sharedCfg  Config
	sharedOnce sync.Once
	sharedErr  error
)

// testConfig starts (once per package run) a shared postgres testcontainer
// and returns a Config pointed at it, the way the teacher's test/util package
// shares one container across a package's tests rather than paying container
// startup cost per test.
func testConfig(t *testing.T) Config {
	t.Helper()
	sharedOnce.Do(func() {
		ctx := context.Background()
		c, err := postgres.Run(ctx,
			"postgres:17-alpine",
			postgres.WithDatabase("entryproc"),
			postgres.WithUsername("entryproc"),
			postgres.WithPassword("entryproc"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			sharedErr = err
			return
		}
		connStr, err := c.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			sharedErr = err
			return
		}
		u, err := url.Parse(connStr)
		if err != nil {
			sharedErr = err
			return
		}
		port, _ := strconv.Atoi(u.Port())
		pw, _ := u.User.Password()
		sharedCfg = Config{
			Host:     u.Hostname(),
			Port:     port,
			User:     u.User.Username(),
			Password: pw,
			Database: "entryproc",
			SSLMode:  "disable",
		}
	})
	require.NoError(t, sharedErr, "failed to start shared postgres testcontainer")
	return sharedCfg
}
