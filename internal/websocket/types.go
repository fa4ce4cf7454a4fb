package websocket

import (
	"context"
	"errors"

	"github.com/coder/websocket"
)

// ActionReload tells the browser to reload the page.
const ActionReload = "reload"

// ErrHubClosed is returned once the hub's owner goroutine has exited.
var ErrHubClosed = errors.New("notification hub closed")

// Message is the JSON payload pushed to browsers.
type Message struct {
	Action string `json:"action"`
	File   string `json:"file,omitempty"`
}

// ReloadMessage builds the message sent after a file was re-rendered.
func ReloadMessage(file string) Message {
	return Message{Action: ActionReload, File: file}
}

// Conn is one push-channel endpoint. Implementations must allow Send and
// Close to be called from different goroutines.
type Conn interface {
	Send(ctx context.Context, data []byte) error
	Close() error
}

// wsConn adapts a coder/websocket connection to Conn.
type wsConn struct {
	conn   *websocket.Conn
	remote string
}

func (c *wsConn) Send(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// Close drops the connection without a close handshake.
func (c *wsConn) Close() error {
	return c.conn.CloseNow()
}
