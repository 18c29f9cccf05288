package transport

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, p, err := c.conn.ReadMessage()
	return p, err
}

func (c *wsConn) WriteMessage(p []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, p)
}

func (c *wsConn) Close() error { return c.conn.Close() }

// WebSocketHandler serves command channel sessions over WebSockets. Each text
// or binary message is one inbound message.
func WebSocketHandler(h Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.SetReadLimit(MaxInboundMessage)
		if err := RunSession(r.Context(), &wsConn{conn: conn}, h); err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			log.Printf("command channel websocket session: %v", err)
		}
	})
}
