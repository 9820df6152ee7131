package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wsEcho starts a loopback WebSocket server that hands each accepted
// connection to serve. Returns the ws:// URL.
func wsEcho(t *testing.T, serve func(*websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serve(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialTest(t *testing.T, url string) Transport {
	t.Helper()
	tr, err := WebsocketDialer()(context.Background(), url)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestTransportReadFrame(t *testing.T) {
	url := wsEcho(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"op":10,"d":{"heartbeat_interval":45000}}`))
	})

	tr := dialTest(t, url)
	f, err := tr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame error: %v", err)
	}
	if f.Op != OpHello {
		t.Errorf("Op = %v, want hello", f.Op)
	}

	var h helloData
	if err := json.Unmarshal(f.Data, &h); err != nil {
		t.Fatalf("hello data: %v", err)
	}
	if h.HeartbeatInterval != 45000 {
		t.Errorf("HeartbeatInterval = %d, want 45000", h.HeartbeatInterval)
	}
}

func TestTransportSkipsMalformedFrames(t *testing.T) {
	url := wsEcho(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`this is not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"op":11}`))
	})

	tr := dialTest(t, url)
	f, err := tr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame error: %v", err)
	}
	if f.Op != OpHeartbeatAck {
		t.Errorf("Op = %v, want heartbeat_ack (malformed frame should be skipped)", f.Op)
	}
}

func TestTransportWriteFrame(t *testing.T) {
	got := make(chan []byte, 1)
	url := wsEcho(t, func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err == nil {
			got <- data
		}
	})

	tr := dialTest(t, url)
	seq := int64(7)
	if err := tr.WriteFrame(newHeartbeat(&seq)); err != nil {
		t.Fatalf("WriteFrame error: %v", err)
	}

	select {
	case data := <-got:
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			t.Fatalf("server received invalid JSON: %v", err)
		}
		if f.Op != OpHeartbeat || string(f.Data) != "7" {
			t.Errorf("server received op=%v d=%s, want heartbeat 7", f.Op, f.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the frame")
	}
}

func TestTransportPeerClose(t *testing.T) {
	tests := []struct {
		name string
		code int
		want error
	}{
		{"NormalClosure", websocket.CloseNormalClosure, ErrPeerClosed},
		{"ServerRestart", 4000, ErrPeerClosed},
		{"AuthFailed", 4004, ErrSessionDead},
		{"InvalidSeq", 4007, ErrSessionDead},
		{"SessionTimedOut", 4009, ErrSessionDead},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := wsEcho(t, func(conn *websocket.Conn) {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(tt.code, ""),
					time.Now().Add(time.Second))
			})

			tr := dialTest(t, url)
			_, err := tr.ReadFrame()
			if !errors.Is(err, tt.want) {
				t.Errorf("ReadFrame error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestTransportCloseIdempotent(t *testing.T) {
	url := wsEcho(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	tr := dialTest(t, url)
	if err := tr.Close(); err != nil {
		t.Errorf("first Close error: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("second Close error: %v", err)
	}
}

func TestTransportCloseUnblocksRead(t *testing.T) {
	url := wsEcho(t, func(conn *websocket.Conn) {
		// Server sends nothing; the client read must block until Close.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	tr := dialTest(t, url)
	done := make(chan error, 1)
	go func() {
		_, err := tr.ReadFrame()
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	tr.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Error("ReadFrame after Close should return an error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not unblock ReadFrame")
	}
}

func TestDialFailureIsConnectError(t *testing.T) {
	_, err := WebsocketDialer()(context.Background(), "ws://127.0.0.1:1/")
	var ce *ConnectError
	if !errors.As(err, &ce) {
		t.Fatalf("dial error = %T %v, want *ConnectError", err, err)
	}
	if ce.Endpoint != "ws://127.0.0.1:1/" {
		t.Errorf("ConnectError.Endpoint = %q", ce.Endpoint)
	}
}
