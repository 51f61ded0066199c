// Package wsfanout implements the UI fan-out broadcaster (spec §4.2, "UI
// Fan-out (optional)"): a websocket hub that pushes every persisted,
// non-nil detection Result to every connected dashboard client.
//
// Adapted from the teacher's chat WebSocket server (its origin-checking
// Upgrader, per-connection heartbeat, and connection-registry pattern);
// the conversation/LLM-streaming machinery it carried has no analogue in
// this domain and has been replaced with a broadcast registry.
package wsfanout

import (
	"context"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"sentinel/internal/metrics"
	"sentinel/internal/model"
)

// defaultAllowedOrigins contains safe defaults for local development.
var defaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
}

// newUpgrader creates a WebSocket upgrader with origin checking.
// allowedOrigins: a list of permitted origins.
//   - If nil or empty, defaultAllowedOrigins is used.
//   - Pass []string{"*"} to allow any origin (development only).
func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	if len(allowedOrigins) == 0 {
		allowedOrigins = defaultAllowedOrigins
	}

	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.ToLower(strings.TrimRight(o, "/"))] = true
	}
	allowAll := allowed["*"]

	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := strings.ToLower(strings.TrimRight(r.Header.Get("Origin"), "/"))
			if origin == "" {
				return true
			}
			return allowed[origin]
		},
	}
}

// message types pushed to dashboard clients.
const (
	messageTypeResult    = "result"
	messageTypeHeartbeat = "heartbeat"
)

// wsMessage is the envelope written to every connected client.
type wsMessage struct {
	Type      string        `json:"type"`
	Result    *model.Result `json:"result,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// conn wraps one client connection with its own write mutex, since
// gorilla/websocket connections are not safe for concurrent writers.
type conn struct {
	ws     *websocket.Conn
	mu     sync.Mutex
	cancel context.CancelFunc
}

func (c *conn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteJSON(v)
}

// Broadcaster is a hub.Broadcaster implementation that fans every
// published Result out to all currently connected dashboard clients.
type Broadcaster struct {
	upgrader       websocket.Upgrader
	requireTLS     bool
	mu             sync.Mutex
	conns          map[*conn]struct{}
}

// New builds a Broadcaster. allowedOrigins configures the upgrader's
// CheckOrigin; requireTLS rejects plaintext upgrade attempts.
func New(allowedOrigins []string, requireTLS bool) *Broadcaster {
	return &Broadcaster{
		upgrader:   newUpgrader(allowedOrigins),
		requireTLS: requireTLS,
		conns:      make(map[*conn]struct{}),
	}
}

// HandleWS upgrades an HTTP request to a websocket connection and registers
// it for broadcast until the client disconnects.
func (b *Broadcaster) HandleWS(w http.ResponseWriter, r *http.Request) {
	if b.requireTLS && r.TLS == nil {
		http.Error(w, "TLS required for WebSocket connections", http.StatusUpgradeRequired)
		return
	}

	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("wsfanout: upgrade error: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{ws: ws, cancel: cancel}

	b.mu.Lock()
	b.conns[c] = struct{}{}
	metrics.WebSocketConnections.Set(float64(len(b.conns)))
	b.mu.Unlock()

	go b.heartbeat(ctx, c)
	go b.readUntilClose(ctx, c)
}

// readUntilClose drains and discards client frames (clients only receive on
// this channel) until the connection closes, then deregisters it.
func (b *Broadcaster) readUntilClose(ctx context.Context, c *conn) {
	defer b.deregister(c)
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			c.cancel()
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (b *Broadcaster) heartbeat(ctx context.Context, c *conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.writeJSON(&wsMessage{Type: messageTypeHeartbeat, Timestamp: time.Now()}); err != nil {
				c.cancel()
				return
			}
		}
	}
}

func (b *Broadcaster) deregister(c *conn) {
	b.mu.Lock()
	delete(b.conns, c)
	metrics.WebSocketConnections.Set(float64(len(b.conns)))
	b.mu.Unlock()
	c.ws.Close()
}

// Publish implements hub.Broadcaster: it fans result out to every connected
// client, dropping (and deregistering) any connection whose write fails.
func (b *Broadcaster) Publish(result *model.Result) {
	if result == nil {
		return
	}
	msg := &wsMessage{Type: messageTypeResult, Result: result, Timestamp: time.Now()}

	b.mu.Lock()
	targets := make([]*conn, 0, len(b.conns))
	for c := range b.conns {
		targets = append(targets, c)
	}
	b.mu.Unlock()

	for _, c := range targets {
		if err := c.writeJSON(msg); err != nil {
			c.cancel()
			b.deregister(c)
		}
	}
}

// ConnectionCount returns the number of currently connected clients, for
// health/metrics reporting.
func (b *Broadcaster) ConnectionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}
