package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	v1 "handoff/contracts/support/v1"

	"github.com/coder/websocket"
)

const wsSubprotocolV1 = "handoff.v1"

// wsLink is the native full-duplex wire.
type wsLink struct {
	conn *websocket.Conn
}

// dialWS establishes the websocket wire and consumes the connected frame.
func dialWS(ctx context.Context, cfg Config) (link, v1.Frame, error) {
	header := http.Header{}
	if h := bearerHeader(cfg.BearerToken); h != "" {
		header.Set("Authorization", h)
	}

	conn, resp, err := websocket.Dial(ctx, toHTTPBase(cfg.URL)+"/ws", &websocket.DialOptions{
		Subprotocols: []string{wsSubprotocolV1},
		HTTPHeader:   header,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, v1.Frame{}, err
	}

	l := &wsLink{conn: conn}

	connected, err := l.readFrame(ctx)
	if err != nil {
		_ = l.close()
		return nil, v1.Frame{}, err
	}
	if connected.Type != v1.TypeConnected {
		_ = l.close()
		return nil, v1.Frame{}, errors.New("transport: expected connected frame")
	}

	return l, connected, nil
}

func (l *wsLink) readFrame(ctx context.Context) (v1.Frame, error) {
	_, data, err := l.conn.Read(ctx)
	if err != nil {
		return v1.Frame{}, err
	}
	var f v1.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return v1.Frame{}, err
	}
	return f, nil
}

func (l *wsLink) writeFrame(ctx context.Context, f v1.Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return l.conn.Write(ctx, websocket.MessageText, b)
}

func (l *wsLink) close() error {
	return l.conn.Close(websocket.StatusNormalClosure, "bye")
}
