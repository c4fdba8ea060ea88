package observatory

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/cea-hpc/entryproc/internal/pipeline"
)

// Server is the HTTP surface over the pipeline's observability data:
// GET /healthz and GET /dump (JSON), plus a websocket upgrade at /ws that
// streams the same snapshot periodically through Hub.
type Server struct {
	engine *gin.Engine
	pipe   *pipeline.Pipeline
	hub    *Hub
	http   *http.Server
}

// NewServer builds the gin engine and registers routes. Does not start
// listening; call ListenAndServe.
func NewServer(addr string, pipe *pipeline.Pipeline, hub *Hub) *Server {
	e := gin.New()
	e.Use(gin.Recovery())

	s := &Server{engine: e, pipe: pipe, hub: hub}
	e.GET("/healthz", s.healthHandler)
	e.GET("/dump", s.dumpHandler)
	e.GET("/ws", s.wsHandler)

	s.http = &http.Server{Addr: addr, Handler: e}
	return s
}

// ListenAndServe blocks serving HTTP until the server is closed.
func (s *Server) ListenAndServe() error {
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// healthHandler handles GET /healthz (mirrors the teacher's
// pkg/api.healthHandler shape: a minimal, unauthenticated-safe status plus
// a per-component breakdown). The pipeline has no notion of an unhealthy
// worker beyond whether it is still reporting in, so this simply confirms
// the worker pool is up and returns its current snapshot.
func (s *Server) healthHandler(c *gin.Context) {
	workers := s.pipe.WorkerHealth()
	status := "healthy"
	if len(workers) == 0 {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  status,
		"workers": workers,
	})
}

// dumpHandler handles GET /dump: the structured C8 snapshot (spec.md §4.8).
func (s *Server) dumpHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.pipe.DumpJSON())
}

// wsHandler upgrades the connection and hands it to the Hub, blocking until
// the client disconnects (mirrors the teacher's pkg/api.wsHandler).
func (s *Server) wsHandler(c *gin.Context) {
	if s.hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "dump stream not available"})
		return
	}
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	s.hub.HandleConnection(c.Request.Context(), conn)
}
