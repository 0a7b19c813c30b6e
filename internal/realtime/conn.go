package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

const (
	writeDeadline     = 5 * time.Second
	readDeadline      = 90 * time.Second
	maxFrameSize      = 64 * 1024
	messageBufferSize = 16

	inboundRatePerSecond = 10
	inboundBurst         = 20
)

// Conn is the per-connection state record. It wraps the transport handle and
// owns a dedicated write goroutine; subscription state (projects, clientID)
// is mutated only by the Registry under its mutex.
type Conn struct {
	id    uuid.UUID
	ws    *websocket.Conn
	clock clockwork.Clock

	sendCh   chan []byte
	pingCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	alive   atomic.Bool
	limiter *rate.Limiter

	// guarded by the owning Registry's mutex
	projects map[string]struct{}
	clientID string
}

func newConn(ws *websocket.Conn, clock clockwork.Clock) *Conn {
	c := &Conn{
		id:       uuid.New(),
		ws:       ws,
		clock:    clock,
		sendCh:   make(chan []byte, messageBufferSize),
		pingCh:   make(chan struct{}, 1),
		doneCh:   make(chan struct{}),
		limiter:  rate.NewLimiter(inboundRatePerSecond, inboundBurst),
		projects: make(map[string]struct{}),
	}
	c.alive.Store(true)

	c.ws.SetReadLimit(maxFrameSize)
	c.updateReadDeadline()
	c.ws.SetPongHandler(func(string) error {
		c.alive.Store(true)
		c.updateReadDeadline()
		return nil
	})

	c.wg.Add(1)
	go c.writeLoop()
	return c
}

// ID returns the connection's identity, fresh for every reconnect.
func (c *Conn) ID() uuid.UUID { return c.id }

func (c *Conn) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case msg, ok := <-c.sendCh:
			if !ok {
				return
			}
			c.updateWriteDeadline()
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-c.pingCh:
			c.updateWriteDeadline()
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.doneCh:
			return
		}
	}
}

// Send enqueues a message for delivery. Returns false without blocking if the
// connection is closed or its buffer is full; callers treat that as a skipped
// send, the heartbeat will prune the connection on its own schedule.
func (c *Conn) Send(msg []byte) bool {
	select {
	case <-c.doneCh:
		return false
	default:
	}
	select {
	case c.sendCh <- msg:
		return true
	default:
		return false
	}
}

// Open reports whether the connection is still writable.
func (c *Conn) Open() bool {
	select {
	case <-c.doneCh:
		return false
	default:
		return true
	}
}

func (c *Conn) ping() {
	select {
	case c.pingCh <- struct{}{}:
	default:
	}
}

// stop closes the transport and waits for the write goroutine to exit.
// Idempotent against double invocation from read-loop teardown and heartbeat
// eviction.
func (c *Conn) stop() {
	c.stopOnce.Do(func() {
		close(c.doneCh)
		_ = c.ws.Close()
	})
	c.wg.Wait()
}

// stopGraceful writes a close frame with reason before closing.
func (c *Conn) stopGraceful(reason string) {
	c.stopOnce.Do(func() {
		close(c.doneCh)
		c.wg.Wait()

		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		c.updateWriteDeadline()
		_ = c.ws.WriteMessage(websocket.CloseMessage, closeMsg)
		_ = c.ws.Close()
	})
}

func (c *Conn) updateWriteDeadline() {
	_ = c.ws.SetWriteDeadline(c.clock.Now().Add(writeDeadline))
}

func (c *Conn) updateReadDeadline() {
	_ = c.ws.SetReadDeadline(c.clock.Now().Add(readDeadline))
}
