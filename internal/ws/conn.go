package ws

import (
	"sync"

	"github.com/gorilla/websocket"
)

// conn wraps a gorilla connection as the registry's session.Conn: writes
// are serialized (gorilla forbids concurrent writers) and Close is
// idempotent so the registry, the monitor, and the read pump can all close
// without coordination.
type conn struct {
	mu        sync.Mutex
	ws        *websocket.Conn
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn) *conn {
	return &conn{ws: ws}
}

func (c *conn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		c.ws.Close()
	})
	return nil
}
