package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	maxFrameSize     = 4 << 20
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second
)

// Transport owns one message-framed connection to the gateway.
// ReadFrame blocks until a frame arrives or the connection dies; Close
// is idempotent and unblocks a pending ReadFrame.
type Transport interface {
	ReadFrame() (*Frame, error)
	WriteFrame(*Frame) error
	Close() error
}

// Dialer opens a Transport to the given endpoint. The production dialer
// speaks WebSocket; tests inject fakes.
type Dialer func(ctx context.Context, endpoint string) (Transport, error)

// WebsocketDialer returns the production Dialer.
func WebsocketDialer() Dialer {
	return func(ctx context.Context, endpoint string) (Transport, error) {
		d := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
		conn, _, err := d.DialContext(ctx, endpoint, nil)
		if err != nil {
			return nil, &ConnectError{Endpoint: endpoint, Err: err}
		}
		conn.SetReadLimit(maxFrameSize)
		return &wsTransport{conn: conn}, nil
	}
}

type wsTransport struct {
	conn *websocket.Conn

	// wmu serializes writes; gorilla allows one concurrent writer.
	wmu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

func (t *wsTransport) ReadFrame() (*Frame, error) {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				if closeForbidsResume(ce.Code) {
					return nil, fmt.Errorf("close %d (%s): %w", ce.Code, ce.Text, ErrSessionDead)
				}
				return nil, fmt.Errorf("close %d (%s): %w", ce.Code, ce.Text, ErrPeerClosed)
			}
			return nil, err
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			// Malformed frames are dropped, not fatal.
			log.Printf("gateway: dropping malformed frame: %v", err)
			continue
		}
		return &f, nil
	}
}

func (t *wsTransport) WriteFrame(f *Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}

	t.wmu.Lock()
	defer t.wmu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		t.wmu.Lock()
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closing"),
			time.Now().Add(500*time.Millisecond))
		t.wmu.Unlock()
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

// closeForbidsResume reports whether a server close code invalidates the
// session: bad credentials, an invalid sequence, or a timed-out session
// all require a fresh identify.
func closeForbidsResume(code int) bool {
	switch code {
	case 4004, 4007, 4009:
		return true
	}
	return false
}
