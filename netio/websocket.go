// Package netio provides the transport layer for client listeners
// (§6: plaintext, TLS, and IRCv3 WebSocket) and reverse-DNS helpers
// (dns.go) that nothing else in the module calls.
// The WebSocket listener is grounded on the teacher's
// client/websocketRouter/server.go upgrade path (websocket.Upgrader,
// an Origin check against the configured allow-list), adapted from a
// subprotocol message router into a plain byte-stream net.Conn so the
// rest of the server never has to know a connection arrived over
// WebSocket instead of raw TCP.
package netio

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// wsListener adapts an http.Server accepting WebSocket upgrades into a
// net.Listener, so server.Server's accept loop is transport-agnostic.
type wsListener struct {
	httpSrv  *http.Server
	accepted chan net.Conn
	closed   chan struct{}
	addr     net.Addr
}

// ListenWebSocket binds bind and serves the IRCv3 "text.ircv3.net"
// WebSocket subprotocol, upgrading every accepted HTTP connection and
// handing the wrapped net.Conn to the caller's Accept loop.
func ListenWebSocket(bind string, allowedOrigins []string) (net.Listener, error) {
	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return nil, err
	}
	wl := &wsListener{
		accepted: make(chan net.Conn, 16),
		closed:   make(chan struct{}),
		addr:     ln.Addr(),
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		Subprotocols:    []string{"text.ircv3.net", "binary.ircv3.net"},
		CheckOrigin:     func(r *http.Request) bool { return checkOrigin(r, allowedOrigins) },
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		wsc, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		select {
		case wl.accepted <- newWSConn(wsc):
		case <-wl.closed:
			_ = wsc.Close()
		}
	})
	wl.httpSrv = &http.Server{Handler: mux}
	go wl.httpSrv.Serve(ln)
	return wl, nil
}

func checkOrigin(r *http.Request, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, a := range allowed {
		if a == "*" || a == u.Host {
			return true
		}
	}
	return false
}

func (l *wsListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.accepted:
		return c, nil
	case <-l.closed:
		return nil, errors.New("netio: listener closed")
	}
}

func (l *wsListener) Close() error {
	close(l.closed)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return l.httpSrv.Shutdown(ctx)
}

func (l *wsListener) Addr() net.Addr { return l.addr }

// wsConn adapts *websocket.Conn (message-framed) into net.Conn
// (byte-stream): Read drains one inbound text/binary frame at a time
// into the caller's buffer, buffering any remainder for the next call,
// since an IRC line can split across what the client sent as separate
// WebSocket frames or pack several lines into one.
type wsConn struct {
	ws    *websocket.Conn
	rest  []byte
}

func newWSConn(ws *websocket.Conn) *wsConn { return &wsConn{ws: ws} }

func (c *wsConn) Read(p []byte) (int, error) {
	for len(c.rest) == 0 {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return 0, err
		}
		c.rest = data
	}
	n := copy(p, c.rest)
	c.rest = c.rest[n:]
	return n, nil
}

func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error                       { return c.ws.Close() }
func (c *wsConn) LocalAddr() net.Addr                { return c.ws.LocalAddr() }
func (c *wsConn) RemoteAddr() net.Addr               { return c.ws.RemoteAddr() }
func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}
func (c *wsConn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *wsConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }
