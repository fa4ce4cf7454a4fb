// Package websocket implements the notification hub: the set of connected
// browsers and the fan-out of reload messages to them.
//
// The connection set is owned by a single goroutine (Run). Every other
// goroutine reaches it through command channels, so no lock guards the map.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/livediagram/internal/logging"
)

const defaultWriteTimeout = 10 * time.Second

// HubOptions configures a Hub.
type HubOptions struct {
	// WriteTimeout bounds a single send during Broadcast.
	WriteTimeout time.Duration
	// OriginPatterns lists the host patterns browsers may connect from.
	// The index page is served from another port, so same-origin checks
	// alone would reject it.
	OriginPatterns []string
	Logger         logging.Logger
}

// Hub tracks connected clients and broadcasts messages to them.
type Hub struct {
	register   chan Conn
	unregister chan Conn
	snapshot   chan chan []Conn
	done       chan struct{}

	// conns is only touched by the Run goroutine.
	conns map[Conn]struct{}

	writeTimeout   time.Duration
	originPatterns []string
	logger         logging.Logger
}

// NewHub creates a hub. Run must be started before connections register.
func NewHub(opts HubOptions) *Hub {
	h := &Hub{
		register:       make(chan Conn),
		unregister:     make(chan Conn),
		snapshot:       make(chan chan []Conn),
		done:           make(chan struct{}),
		conns:          make(map[Conn]struct{}),
		writeTimeout:   opts.WriteTimeout,
		originPatterns: append([]string(nil), opts.OriginPatterns...),
		logger:         opts.Logger,
	}
	if h.writeTimeout <= 0 {
		h.writeTimeout = defaultWriteTimeout
	}
	if h.logger == nil {
		h.logger = logging.Discard()
	}
	h.logger = h.logger.WithComponent("notify")

	return h
}

// Run owns the connection set until ctx is cancelled. On exit every
// remaining connection is closed without a final message.
func (h *Hub) Run(ctx context.Context) error {
	defer func() {
		close(h.done)
		for conn := range h.conns {
			_ = conn.Close()
		}
		h.conns = nil
	}()

	for {
		select {
		case conn := <-h.register:
			h.conns[conn] = struct{}{}
			h.logger.Debug(ctx, "client registered", "clients", len(h.conns))

		case conn := <-h.unregister:
			if _, ok := h.conns[conn]; ok {
				delete(h.conns, conn)
				h.logger.Debug(ctx, "client unregistered", "clients", len(h.conns))
			}

		case reply := <-h.snapshot:
			conns := make([]Conn, 0, len(h.conns))
			for conn := range h.conns {
				conns = append(conns, conn)
			}
			reply <- conns

		case <-ctx.Done():
			h.logger.Debug(ctx, "closing client connections", "clients", len(h.conns))
			return nil
		}
	}
}

// Register adds conn to the set. The connection is part of every snapshot
// taken after Register returns. After the hub stopped, conn is closed and
// ErrHubClosed is returned.
func (h *Hub) Register(conn Conn) error {
	select {
	case h.register <- conn:
		return nil
	case <-h.done:
		_ = conn.Close()
		return ErrHubClosed
	}
}

// Unregister removes conn from the set. Unknown connections are ignored.
// It does not close conn.
func (h *Hub) Unregister(conn Conn) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Count returns the number of registered connections.
func (h *Hub) Count() int {
	conns, err := h.snapshotConns()
	if err != nil {
		return 0
	}
	return len(conns)
}

func (h *Hub) snapshotConns() ([]Conn, error) {
	reply := make(chan []Conn, 1)
	select {
	case h.snapshot <- reply:
	case <-h.done:
		return nil, ErrHubClosed
	}

	select {
	case conns := <-reply:
		return conns, nil
	case <-h.done:
		return nil, ErrHubClosed
	}
}

// Broadcast sends msg to every connection registered at the time of the
// call, in parallel. A connection whose send fails or times out is removed
// and closed; the others still receive the message. It returns the number
// of successful deliveries.
func (h *Hub) Broadcast(ctx context.Context, msg Message) (int, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, err
	}

	conns, err := h.snapshotConns()
	if err != nil {
		return 0, err
	}
	if len(conns) == 0 {
		return 0, nil
	}

	failed := make([]error, len(conns))
	var wg sync.WaitGroup
	for i, conn := range conns {
		wg.Add(1)
		go func(i int, conn Conn) {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
			defer cancel()
			failed[i] = conn.Send(sendCtx, data)
		}(i, conn)
	}
	wg.Wait()

	delivered := 0
	for i, conn := range conns {
		if failed[i] == nil {
			delivered++
			continue
		}
		h.logger.Warn(ctx, failed[i], "dropping client after failed send")
		h.Unregister(conn)
		_ = conn.Close()
	}

	h.logger.Debug(ctx, "broadcast sent",
		"action", msg.Action,
		"file", msg.File,
		"delivered", delivered,
		"dropped", len(conns)-delivered,
	)

	return delivered, nil
}

// ServeHTTP upgrades the request to a WebSocket and keeps the client
// registered until it disconnects. Inbound messages are read and discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  h.originPatterns,
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		// Accept has already written the error response.
		h.logger.Warn(r.Context(), err, "websocket upgrade failed", "remote", r.RemoteAddr)
		return
	}

	conn := &wsConn{conn: c, remote: r.RemoteAddr}
	if err := h.Register(conn); err != nil {
		return
	}
	h.logger.Info(r.Context(), "client connected", "remote", conn.remote)

	defer func() {
		h.Unregister(conn)
		_ = conn.Close()
		h.logger.Info(context.Background(), "client disconnected", "remote", conn.remote)
	}()

	for {
		if _, _, err := c.Read(r.Context()); err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
				h.logger.Debug(r.Context(), "client read ended", "remote", conn.remote, "error", err.Error())
			}
			return
		}
	}
}
