package ws

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 10
)

// WritePump drains the handle's outbound queue onto the socket and keeps the
// connection alive with pings. It returns when the handle is closed or a
// write fails.
func WritePump(conn *Conn, socket *websocket.Conn) error {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		socket.Close()
	}()

	for {
		select {
		case ev, ok := <-conn.Outbound():
			_ = socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = socket.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return nil
			}
			if err := socket.WriteJSON(ev); err != nil {
				return err
			}
		case <-ticker.C:
			_ = socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

// ReadPump passes every inbound frame to handle until the socket fails. A
// missing pong within pongWait counts as a drop.
func ReadPump(socket *websocket.Conn, handle func([]byte)) error {
	socket.SetReadLimit(maxMessageSize)
	_ = socket.SetReadDeadline(time.Now().Add(pongWait))
	socket.SetPongHandler(func(string) error {
		return socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := socket.ReadMessage()
		if err != nil {
			return err
		}
		handle(payload)
	}
}

// IsNormalClose reports whether err is an orderly client close.
func IsNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
