package signaling

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteWait = 1 * time.Second

// wsChannel adapts a *websocket.Conn to the room.Channel contract.
//
// writeMu serializes frames: the relay engine delivers broadcasts from other
// peers' session goroutines, so writes to one connection can race without it.
type wsChannel struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newWSChannel(conn *websocket.Conn) *wsChannel {
	return &wsChannel{conn: conn}
}

func (c *wsChannel) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame with the given application close code (normal
// closure when code <= 0) and tears down the connection. Idempotent.
func (c *wsChannel) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		if code <= 0 {
			code = websocket.CloseNormalClosure
		}
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
	return nil
}
