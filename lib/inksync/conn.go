package inksync

import (
	"context"
	"net/url"

	"github.com/coder/websocket"
)

// Conn abstracts the relay transport so tests can substitute a fake.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens a transport connection to the relay.
type Dialer func(ctx context.Context, relayURL string) (Conn, error)

// DefaultDialer connects over websocket.
func DefaultDialer(ctx context.Context, relayURL string) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, relayURL, nil)
	if err != nil {
		return nil, err
	}
	return wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (w wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.conn.Read(ctx)
	return data, err
}

func (w wsConn) Write(ctx context.Context, data []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, data)
}

func (w wsConn) Close(code websocket.StatusCode, reason string) error {
	return w.conn.Close(code, reason)
}

// isServerClose reports whether the peer shut the connection down cleanly,
// which ends the session instead of triggering a reconnect.
func isServerClose(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}

// relayAddr appends the roomID routing key to the relay URL.
func relayAddr(relayURL, room string) (string, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("roomID", room)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
