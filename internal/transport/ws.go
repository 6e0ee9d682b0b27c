package transport

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// wsSubstrate carries packets as binary WebSocket messages. The stream is
// already message-framed, so no extra length prefix is needed.
type wsSubstrate struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
}

// DialWS opens a stream-framed substrate to a WebSocket URL
// (ws://host:port/path).
func DialWS(url string) (Substrate, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial websocket %s: %w", url, err)
	}
	return &wsSubstrate{conn: conn}, nil
}

// NewWSSubstrate wraps an upgraded server-side WebSocket connection.
func NewWSSubstrate(conn *websocket.Conn) Substrate {
	return &wsSubstrate{conn: conn}
}

func (w *wsSubstrate) WritePacket(data []byte) error {
	if w.isClosed() {
		return ErrClosed
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (w *wsSubstrate) ReadPacket() ([]byte, error) {
	for {
		msgType, data, err := w.conn.ReadMessage()
		if err != nil {
			if w.isClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, ErrClosed
			}
			return nil, err
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		return data, nil
	}
}

func (w *wsSubstrate) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()
	return w.conn.Close()
}

func (w *wsSubstrate) Kind() Kind { return KindStreamFramed }

func (w *wsSubstrate) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}
