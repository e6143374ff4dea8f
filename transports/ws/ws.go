// Package ws provides the ws:// transport over websockets, one binary
// websocket message per frame. Importing it, usually blank, makes the
// transport available.
package ws

import (
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/glimte/spsock-go/errcode"
	"github.com/glimte/spsock-go/internal/core"
)

func init() {
	core.RegisterTransport(transport{})
}

type transport struct{}

func (transport) Scheme() string { return "ws" }

func (transport) Dial(addr string, cfg core.EndpointConfig) (core.Conn, error) {
	if _, _, err := core.SplitAddr(addr); err != nil {
		return nil, err
	}
	wc, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return nil, errcode.FromNetError("dial", err)
	}
	return newConn(wc, cfg), nil
}

func (transport) Listen(addr string, cfg core.EndpointConfig) (core.Acceptor, error) {
	_, rest, err := core.SplitAddr(addr)
	if err != nil {
		return nil, err
	}
	host, path := rest, "/"
	if i := strings.Index(rest, "/"); i >= 0 {
		host, path = rest[:i], rest[i:]
	}
	ln, err := net.Listen("tcp", host)
	if err != nil {
		return nil, errcode.FromNetError("listen", err)
	}
	a := &acceptor{
		ln:      ln,
		path:    path,
		cfg:     cfg,
		pending: make(chan core.Conn, 16),
		closed:  make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, a.upgrade)
	a.srv = &http.Server{Handler: mux}
	go a.srv.Serve(ln)
	return a, nil
}

type acceptor struct {
	ln      net.Listener
	srv     *http.Server
	path    string
	cfg     core.EndpointConfig
	pending chan core.Conn

	closed    chan struct{}
	closeOnce sync.Once
}

var upgrader = websocket.Upgrader{
	// Scalability-protocol peers are not browsers; origin checks do not
	// apply.
	CheckOrigin: func(*http.Request) bool { return true },
}

func (a *acceptor) upgrade(w http.ResponseWriter, r *http.Request) {
	wc, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	select {
	case a.pending <- newConn(wc, a.cfg):
	case <-a.closed:
		wc.Close()
	}
}

func (a *acceptor) Accept() (core.Conn, error) {
	select {
	case c := <-a.pending:
		return c, nil
	case <-a.closed:
		return nil, errcode.New(errcode.Closed, "accept")
	}
}

func (a *acceptor) Close() error {
	a.closeOnce.Do(func() {
		close(a.closed)
		a.srv.Close()
	})
	return nil
}

func (a *acceptor) Addr() string { return "ws://" + a.ln.Addr().String() + a.path }

// conn adapts a websocket connection to the framed transport contract.
type conn struct {
	c   *websocket.Conn
	wmu sync.Mutex
}

func newConn(wc *websocket.Conn, cfg core.EndpointConfig) *conn {
	if cfg.MaxRecvSize > 0 {
		wc.SetReadLimit(cfg.MaxRecvSize)
	}
	return &conn{c: wc}
}

func (c *conn) SendFrame(frame []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.c.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return errcode.FromNetError("write", err)
	}
	return nil
}

func (c *conn) RecvFrame() ([]byte, error) {
	for {
		mt, data, err := c.c.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, errcode.New(errcode.ConnectionReset, "read")
			}
			if err == websocket.ErrReadLimit {
				return nil, errcode.Newf(errcode.ProtocolError, "read", "frame exceeds receive limit")
			}
			return nil, errcode.FromNetError("read", err)
		}
		if mt == websocket.BinaryMessage {
			return data, nil
		}
		// Text and control frames are not part of the protocol.
	}
}

func (c *conn) Close() error { return c.c.Close() }

func (c *conn) LocalAddr() string { return c.c.LocalAddr().String() }

func (c *conn) RemoteAddr() string { return c.c.RemoteAddr().String() }
