// Package observatory exposes C8 (spec.md §4.8) over the wire: an HTTP
// health/dump API and a websocket hub that periodically pushes
// pipeline.DumpJSON() snapshots to connected clients (adapted from the
// teacher's pkg/events.ConnectionManager, minus the Postgres LISTEN/NOTIFY
// catch-up machinery — there is no NOTIFY channel in this domain, so
// snapshots are just periodic ticks instead of event-driven pushes).
package observatory

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/cea-hpc/entryproc/internal/pipeline"
)

// Hub manages websocket connections and periodically broadcasts the
// pipeline's dump snapshot to every connected client.
type Hub struct {
	pipe *pipeline.Pipeline

	mu          sync.RWMutex
	connections map[string]*conn

	writeTimeout time.Duration
	interval     time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type conn struct {
	id     string
	ws     *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub returns a Hub broadcasting pipe's dump every interval.
func NewHub(pipe *pipeline.Pipeline, interval, writeTimeout time.Duration) *Hub {
	return &Hub{
		pipe:         pipe,
		connections:  make(map[string]*conn),
		writeTimeout: writeTimeout,
		interval:     interval,
		stopCh:       make(chan struct{}),
	}
}

// Start begins the periodic broadcast loop.
func (h *Hub) Start() {
	h.wg.Add(1)
	go h.run()
}

// Stop ends the broadcast loop and closes every connection.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
	h.wg.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.connections {
		c.cancel()
		_ = c.ws.Close(websocket.StatusNormalClosure, "server shutting down")
	}
}

func (h *Hub) run() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.broadcast()
		}
	}
}

func (h *Hub) broadcast() {
	data, err := json.Marshal(h.pipe.DumpJSON())
	if err != nil {
		slog.Error("observatory: marshal dump snapshot failed", "error", err)
		return
	}

	h.mu.RLock()
	conns := make([]*conn, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		writeCtx, cancel := context.WithTimeout(c.ctx, h.writeTimeout)
		err := c.ws.Write(writeCtx, websocket.MessageText, data)
		cancel()
		if err != nil {
			slog.Warn("observatory: send dump to client failed", "connection_id", c.id, "error", err)
		}
	}
}

// HandleConnection registers ws and blocks until it closes or ctx is done,
// the role the teacher's HandleConnection plays for a single client.
func (h *Hub) HandleConnection(parentCtx context.Context, ws *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &conn{id: uuid.NewString(), ws: ws, ctx: ctx, cancel: cancel}

	h.mu.Lock()
	h.connections[c.id] = c
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.connections, c.id)
		h.mu.Unlock()
		cancel()
		_ = ws.Close(websocket.StatusNormalClosure, "")
	}()

	// This hub is push-only: there's nothing for the client to say, so the
	// read loop exists solely to detect the connection closing.
	for {
		if _, _, err := ws.Read(ctx); err != nil {
			return
		}
	}
}

// ActiveConnections returns the number of connected clients.
func (h *Hub) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}
