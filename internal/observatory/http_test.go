package observatory

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/cea-hpc/entryproc/internal/pipeline"
)

func testPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	stages := []*pipeline.Stage{
		{Index: 0, Name: "stub", Mode: pipeline.Unbounded(), Handler: func(ctl *pipeline.Ctl) error { return ctl.Retire() }},
	}
	p, err := pipeline.New(pipeline.Options{Stages: stages, NumWorkers: 1})
	require.NoError(t, err)
	p.Start()
	t.Cleanup(func() { p.Terminate(true) })
	return p
}

func TestHealthzAndDump(t *testing.T) {
	gin.SetMode(gin.TestMode)
	pipe := testPipeline(t)
	srv := NewServer(":0", pipe, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var health map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	require.Equal(t, "healthy", health["status"])

	req = httptest.NewRequest(http.MethodGet, "/dump", nil)
	w = httptest.NewRecorder()
	srv.engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var snap pipeline.DumpSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	require.Len(t, snap.Stages, 1)
	require.Equal(t, "stub", snap.Stages[0].Name)
}

func TestWsHandlerUnavailableWithoutHub(t *testing.T) {
	gin.SetMode(gin.TestMode)
	pipe := testPipeline(t)
	srv := NewServer(":0", pipe, nil)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	w := httptest.NewRecorder()
	srv.engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}
