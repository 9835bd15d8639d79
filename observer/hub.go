package observer

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wippyai/entity-scripting/errors"
	"github.com/wippyai/entity-scripting/script"
)

// ProtocolVersion is sent with every message.
const ProtocolVersion = 1

const (
	writeWait   = 5 * time.Second
	readWait    = 60 * time.Second
	sendBacklog = 64
)

// Message is the envelope of everything the hub sends.
type Message struct {
	Ver    int            `json:"ver"`
	Type   string         `json:"type"`
	Frame  uint64         `json:"frame"`
	Report *script.Report `json:"report,omitempty"`
}

type client struct {
	id      uint64
	conn    *websocket.Conn
	send    chan []byte
	dropped atomic.Uint64
}

// Hub broadcasts runtime reports to websocket clients. It implements
// script.Observer. Slow clients lose messages instead of stalling the
// runtime.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[uint64]*client
	nextID  atomic.Uint64
	frame   atomic.Uint64
	sent    atomic.Uint64
}

var _ script.Observer = (*Hub)(nil)

// NewHub returns a hub with no clients.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return isLoopback(r.RemoteAddr) },
		},
		clients: make(map[uint64]*client),
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Sent returns the number of reports queued for delivery across clients.
func (h *Hub) Sent() uint64 {
	return h.sent.Load()
}

// Observe queues r for every connected client.
func (h *Hub) Observe(r script.Report) {
	h.frame.Store(r.Frame)
	data, err := json.Marshal(Message{Ver: ProtocolVersion, Type: "report", Frame: r.Frame, Report: &r})
	if err != nil {
		Logger().Warn("report encoding failed", zap.Uint64("frame", r.Frame), zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- data:
			h.sent.Add(1)
		default:
			if c.dropped.Add(1) == 1 {
				Logger().Warn("observer client lagging", zap.Uint64("client", c.id))
			}
		}
	}
}

// ServeHTTP upgrades the request and streams reports until the client leaves.
func (h *Hub) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		Logger().Debug("observer upgrade failed", zap.Error(err))
		return
	}
	c := &client{id: h.nextID.Add(1), conn: conn, send: make(chan []byte, sendBacklog)}

	hello, _ := json.Marshal(Message{Ver: ProtocolVersion, Type: "hello", Frame: h.frame.Load()})
	c.send <- hello

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	Logger().Info("observer connected", zap.Uint64("client", c.id), zap.String("remote", r.RemoteAddr))

	done := make(chan struct{})
	go h.writeLoop(c, done)

	// Clients only send control frames; the read loop detects disconnects.
	for {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	close(c.send)
	<-done
	_ = conn.Close()
	Logger().Info("observer disconnected", zap.Uint64("client", c.id), zap.Uint64("dropped", c.dropped.Load()))
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		_ = c.conn.Close()
	}
}

func (h *Hub) writeLoop(c *client, done chan<- struct{}) {
	defer close(done)
	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			Logger().Debug("observer write failed", zap.Uint64("client", c.id), zap.Error(err))
			_ = c.conn.Close()
			for range c.send {
			}
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
}

// Serve listens on addr and serves the hub at /ws until ctx is done.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "observer listen "+addr)
	}
	return h.serve(ctx, ln)
}

func (h *Hub) serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		h.Close()
	}()

	Logger().Info("observer listening", zap.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func isLoopback(remote string) bool {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
