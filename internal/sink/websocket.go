package sink

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 5 * time.Second

// WebSocketSink streams transcript deltas to a host surface over a websocket
// connection. Write failures are logged and swallowed so a flaky display
// surface cannot abort an in-flight turn.
type WebSocketSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// DialWebSocketSink connects to the host surface at url.
func DialWebSocketSink(url string, header http.Header) (*WebSocketSink, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		return nil, fmt.Errorf("dial transcript sink: %w", err)
	}
	return &WebSocketSink{conn: conn}, nil
}

// NewWebSocketSink wraps an already-established connection, for use on the
// server side of an upgrade.
func NewWebSocketSink(conn *websocket.Conn) *WebSocketSink {
	return &WebSocketSink{conn: conn}
}

func (s *WebSocketSink) SendDelta(delta Delta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := s.conn.WriteJSON(delta); err != nil {
		slog.Warn("transcript sink write failed", "error", err)
		return err
	}
	return nil
}

func (s *WebSocketSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsWriteTimeout))
	err := s.conn.Close()
	s.conn = nil
	return err
}
