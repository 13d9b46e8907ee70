// Package websockettest holds socket helpers shared by the gateway and bot tests.
package websockettest

import (
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// URL turns an httptest server address into a websocket URL for path.
func URL(serverURL, path string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + path
}

// Dial opens a client socket with the default dialer.
func Dial(url string, header http.Header) (*websocket.Conn, error) {
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// DialIgnoringPongs opens a socket that never answers pings so tests can simulate an
// unresponsive peer.
func DialIgnoringPongs(url string, header http.Header) (*websocket.Conn, error) {
	conn, err := Dial(url, header)
	if err != nil {
		return nil, err
	}
	conn.SetPingHandler(func(string) error { return nil })
	conn.SetPongHandler(func(string) error { return nil })
	return conn, nil
}

// WriteJSON sends v as one text frame.
func WriteJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	return conn.WriteJSON(v)
}

// ReadFrame reads one frame and decodes it into a generic object.
func ReadFrame(conn *websocket.Conn, timeout time.Duration) (map[string]any, error) {
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	frame := make(map[string]any)
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, err
	}
	return frame, nil
}

// ReadUntil skips frames until one of the wanted type arrives.
func ReadUntil(conn *websocket.Conn, frameType string, timeout time.Duration) (map[string]any, error) {
	deadline := time.Now().Add(timeout)
	for {
		frame, err := ReadFrame(conn, time.Until(deadline))
		if err != nil {
			return nil, err
		}
		if frame["type"] == frameType {
			return frame, nil
		}
	}
}
