package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"nhooyr.io/websocket"
)

// Websocket adapts an nhooyr.io/websocket connection to Duplex, the same
// way the teacher's rpc/transport.Websocket adapts it to a JSON-RPC
// Transport: a thin wrapper that translates frame-level errors into the
// Duplex contract and leaves all multiplexing to the caller.
type Websocket struct {
	conn *websocket.Conn
}

// WebsocketOptions configures a client-side dial.
type WebsocketOptions struct {
	// URL of the websocket endpoint.
	URL string

	// HTTPClient is used for the connection. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client

	// HTTPHeader specifies the HTTP headers included in the handshake
	// request.
	HTTPHeader http.Header
}

// DialWebsocket establishes a client-side websocket connection.
func DialWebsocket(ctx context.Context, opts WebsocketOptions) (*Websocket, error) {
	if opts.URL == "" {
		return nil, errors.New("transport: URL cannot be empty")
	}
	conn, _, err := websocket.Dial(ctx, opts.URL, &websocket.DialOptions{
		HTTPClient: opts.HTTPClient,
		HTTPHeader: opts.HTTPHeader,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: dial: %w", err)
	}
	return &Websocket{conn: conn}, nil
}

// NewWebsocket wraps an already-established connection, such as one
// accepted server-side via websocket.Accept.
func NewWebsocket(conn *websocket.Conn) *Websocket {
	return &Websocket{conn: conn}
}

// ReadFrame implements Duplex.
func (w *Websocket) ReadFrame(ctx context.Context) (data string, binary bool, err error) {
	typ, b, err := w.conn.Read(ctx)
	if err != nil {
		var closeErr websocket.CloseError
		if errors.As(err, &closeErr) {
			return "", false, ErrClosed
		}
		return "", false, err
	}
	if typ == websocket.MessageBinary {
		return "", true, nil
	}
	return string(b), false, nil
}

// WriteText implements Duplex.
func (w *Websocket) WriteText(ctx context.Context, data string) error {
	if err := w.conn.Write(ctx, websocket.MessageText, []byte(data)); err != nil {
		var closeErr websocket.CloseError
		if errors.As(err, &closeErr) {
			return ErrClosed
		}
		return err
	}
	return nil
}

// Close implements Duplex.
func (w *Websocket) Close() error {
	return w.conn.Close(websocket.StatusNormalClosure, "")
}
