// Package tcp provides the tcp:// transport. Importing it, usually blank,
// makes the transport available to every socket in the process.
package tcp

import (
	"net"

	"github.com/glimte/spsock-go/errcode"
	"github.com/glimte/spsock-go/internal/core"
)

func init() {
	core.RegisterTransport(transport{})
}

type transport struct{}

func (transport) Scheme() string { return "tcp" }

func (transport) Dial(addr string, cfg core.EndpointConfig) (core.Conn, error) {
	_, host, err := core.SplitAddr(addr)
	if err != nil {
		return nil, err
	}
	c, err := net.Dial("tcp", host)
	if err != nil {
		return nil, errcode.FromNetError("dial", err)
	}
	setNoDelay(c)
	return core.NewStreamConn(c, cfg), nil
}

func (transport) Listen(addr string, cfg core.EndpointConfig) (core.Acceptor, error) {
	_, host, err := core.SplitAddr(addr)
	if err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", host)
	if err != nil {
		return nil, errcode.FromNetError("listen", err)
	}
	return &acceptor{ln: ln, cfg: cfg}, nil
}

func setNoDelay(c net.Conn) {
	if tc, ok := c.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}
}

type acceptor struct {
	ln  net.Listener
	cfg core.EndpointConfig
}

func (a *acceptor) Accept() (core.Conn, error) {
	c, err := a.ln.Accept()
	if err != nil {
		return nil, errcode.FromNetError("accept", err)
	}
	setNoDelay(c)
	return core.NewStreamConn(c, a.cfg), nil
}

func (a *acceptor) Close() error { return a.ln.Close() }

func (a *acceptor) Addr() string { return "tcp://" + a.ln.Addr().String() }
