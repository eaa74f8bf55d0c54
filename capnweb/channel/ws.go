package channel

import (
	"sync"

	"github.com/gorilla/websocket"
)

// ws adapts a *websocket.Conn to Channel, the transport named in spec §1
// ("peers ... typically connected over a WebSocket or an HTTP batch
// endpoint") for the long-lived, bidirectional case.
type ws struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

// NewWebSocket wraps conn as a Channel carrying one text frame per message.
func NewWebSocket(conn *websocket.Conn) Channel {
	return &ws{conn: conn}
}

func (c *ws) Send(data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *ws) Recv() ([]byte, error) {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *ws) Close() error {
	return c.conn.Close()
}
