package signal

import (
	"io"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
)

// objectStream frames one JSON-RPC message per WebSocket text message.
type objectStream struct {
	ws *websocket.Conn
}

func newObjectStream(ws *websocket.Conn) objectStream {
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	return objectStream{ws: ws}
}

func (s objectStream) WriteObject(obj interface{}) error {
	if err := s.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.ws.WriteJSON(obj)
}

func (s objectStream) ReadObject(v interface{}) error {
	err := s.ws.ReadJSON(v)
	if err == nil {
		return s.ws.SetReadDeadline(time.Now().Add(pongWait))
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return io.EOF
	}
	return err
}

func (s objectStream) Close() error {
	return s.ws.Close()
}

// pinger keeps the connection alive until done is closed or a ping fails.
func (s objectStream) pinger(done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := s.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = s.ws.Close()
				return
			}
		}
	}
}
