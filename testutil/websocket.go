// Package testutil spins up a real loopback websocket listener for
// tests, mirroring the teacher's rpc/testutil/websocket.go rather than
// mocking the socket.
package testutil

import (
	"context"
	"net"
	"net/http"
	"sync"

	"nhooyr.io/websocket"

	"github.com/minibot/rpc/transport"
)

// WebsocketHarness runs an httptest-style websocket server on a loopback
// port and exposes the client-side connection as a transport.Duplex.
type WebsocketHarness struct {
	*transport.Websocket

	wg         sync.WaitGroup
	serverConn chan *websocket.Conn
}

// NewWebsocketHarness starts the server and dials a client connection to
// it, both torn down when ctx is done.
func NewWebsocketHarness(ctx context.Context) *WebsocketHarness {
	h := &WebsocketHarness{serverConn: make(chan *websocket.Conn, 1)}

	server := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			panic(err)
		}
		h.serverConn <- conn
		<-ctx.Done()
		_ = conn.Close(websocket.StatusNormalClosure, "")
	})}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(err)
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		_ = server.Serve(ln)
	}()

	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()

	client, err := transport.DialWebsocket(ctx, transport.WebsocketOptions{URL: "ws://" + ln.Addr().String()})
	if err != nil {
		panic(err)
	}
	h.Websocket = client

	return h
}

// ServerDuplex blocks until the server side of the connection has
// accepted, then returns it wrapped as a transport.Duplex.
func (h *WebsocketHarness) ServerDuplex() transport.Duplex {
	return transport.NewWebsocket(<-h.serverConn)
}
