package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/projectpulse/projectpulse/internal/adapter/metrics"
	"github.com/projectpulse/projectpulse/internal/domain"
	"github.com/projectpulse/projectpulse/internal/protocol"
)

const snapshotTimeout = 5 * time.Second

// Hub is the connection lifecycle manager. It accepts upgraded transport
// connections, runs their read loops, dispatches inbound frames against the
// registry, and evicts connections that miss a heartbeat cycle: every tick a
// connection that has not answered the previous ping is terminated, otherwise
// it is marked stale and probed again. One slow pong does not evict as long
// as it lands before the next probe.
type Hub struct {
	registry    *Registry
	broadcaster *Broadcaster
	clock       clockwork.Clock
	metrics     *metrics.RealtimeMetrics

	heartbeatInterval time.Duration
	maxConnections    int

	mu    sync.Mutex
	conns map[*Conn]struct{}

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewHub(registry *Registry, broadcaster *Broadcaster, clock clockwork.Clock, m *metrics.RealtimeMetrics, heartbeatInterval time.Duration, maxConnections int) *Hub {
	h := &Hub{
		registry:          registry,
		broadcaster:       broadcaster,
		clock:             clock,
		metrics:           m,
		heartbeatInterval: heartbeatInterval,
		maxConnections:    maxConnections,
		conns:             make(map[*Conn]struct{}),
		done:              make(chan struct{}),
	}
	h.wg.Add(1)
	go h.heartbeatLoop()
	return h
}

// Accept registers an upgraded WebSocket connection, sends the
// connection_established event, and blocks in the read loop until the client
// disconnects or is evicted. Every reconnect gets a brand-new connection
// record with fresh identity.
func (h *Hub) Accept(ws *websocket.Conn) error {
	c := newConn(ws, h.clock)

	h.mu.Lock()
	if h.maxConnections > 0 && len(h.conns) >= h.maxConnections {
		h.mu.Unlock()
		c.stopGraceful("connection limit reached")
		return fmt.Errorf("max connections (%d) reached", h.maxConnections)
	}
	h.conns[c] = struct{}{}
	total := len(h.conns)
	h.mu.Unlock()

	h.metrics.ActiveConnections.Set(float64(total))
	slog.Info("Connection accepted", "connection_id", c.ID().String(), "total_connections", total)

	h.send(c, protocol.Envelope{
		Type:      protocol.TypeConnectionEstablished,
		Timestamp: h.clock.Now().UTC(),
		Message:   "connected to consulting updates",
	})

	h.readLoop(c)
	h.remove(c, "read loop ended")
	return nil
}

// ClientCount returns the number of live connections.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Stats reports the observability snapshot for the stats endpoint.
func (h *Hub) Stats() domain.ConnectionStats {
	stats := h.registry.Stats()
	stats.TotalConnections = h.ClientCount()
	return stats
}

// Stop terminates every live connection with a close frame and stops the
// heartbeat loop.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })

	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.stopGraceful("server shutting down")
		h.remove(c, "shutdown")
	}
	h.wg.Wait()
	slog.Info("Hub stopped", "disconnected_clients", len(conns))
}

func (h *Hub) readLoop(c *Conn) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("Connection closed unexpectedly", "connection_id", c.ID().String(), "error", err)
			}
			return
		}
		if len(data) == 0 {
			continue
		}
		if !c.limiter.Allow() {
			h.sendError(c, "rate limit exceeded")
			continue
		}
		h.dispatch(c, data)
	}
}

// dispatch parses one inbound frame and applies it. Malformed frames produce
// an error envelope for the originating connection only; they never affect
// other connections.
func (h *Hub) dispatch(c *Conn, data []byte) {
	cmd, err := protocol.Parse(data)
	if err != nil {
		h.metrics.ProtocolErrors.Inc()
		h.sendError(c, err.Error())
		return
	}

	switch cmd := cmd.(type) {
	case protocol.SubscribeProject:
		h.registry.SubscribeProject(c, cmd.ProjectID, cmd.ClientID)
		h.send(c, protocol.Envelope{
			Type:      protocol.TypeSubscriptionConfirmed,
			Timestamp: h.clock.Now().UTC(),
			ProjectID: cmd.ProjectID,
		})
		h.pushSnapshot(c, cmd.ProjectID)
	case protocol.UnsubscribeProject:
		h.registry.UnsubscribeProject(c, cmd.ProjectID)
		h.send(c, protocol.Envelope{
			Type:      protocol.TypeUnsubscriptionConfirmed,
			Timestamp: h.clock.Now().UTC(),
			ProjectID: cmd.ProjectID,
		})
	case protocol.SubscribeClient:
		h.registry.SubscribeClient(c, cmd.ClientID)
		h.send(c, protocol.Envelope{
			Type:      protocol.TypeClientSubscriptionConfirmed,
			Timestamp: h.clock.Now().UTC(),
			ClientID:  cmd.ClientID,
		})
	case protocol.GetProjectStatus:
		h.pushSnapshot(c, cmd.ProjectID)
	default:
		// Parse returns a closed set of commands; a new variant means a
		// missing case here.
		h.sendError(c, fmt.Sprintf("unhandled command %T", cmd))
	}
}

func (h *Hub) pushSnapshot(c *Conn, projectID string) {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	if err := h.broadcaster.Snapshot(ctx, c, projectID); err != nil {
		if errors.Is(err, domain.ErrProjectNotFound) {
			h.sendError(c, fmt.Sprintf("project %s not found", projectID))
			return
		}
		slog.Error("Status snapshot failed", "project_id", projectID, "error", err)
		h.sendError(c, "failed to load project status")
	}
}

func (h *Hub) heartbeatLoop() {
	defer h.wg.Done()

	ticker := h.clock.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			h.sweep()
		case <-h.done:
			return
		}
	}
}

// sweep terminates every connection that failed to answer the previous probe
// and sends a fresh probe to the rest.
func (h *Hub) sweep() {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if !c.alive.Load() {
			slog.Info("Terminating unresponsive connection", "connection_id", c.ID().String())
			h.metrics.HeartbeatEvictions.Inc()
			c.stop()
			h.remove(c, "missed heartbeat")
			continue
		}
		c.alive.Store(false)
		c.ping()
	}
}

// remove tears the connection out of every index. Idempotent against the
// double invocation that happens when eviction races the read loop's own
// teardown.
func (h *Hub) remove(c *Conn, reason string) {
	h.mu.Lock()
	if _, ok := h.conns[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, c)
	total := len(h.conns)
	h.mu.Unlock()

	h.registry.RemoveConnection(c)
	c.stop()
	h.metrics.ActiveConnections.Set(float64(total))
	slog.Info("Connection removed", "connection_id", c.ID().String(), "reason", reason, "total_connections", total)
}

func (h *Hub) send(c *Conn, env protocol.Envelope) {
	h.broadcaster.send(c, env)
}

func (h *Hub) sendError(c *Conn, message string) {
	h.send(c, protocol.ErrorEnvelope(h.clock.Now().UTC(), message))
}
