// Package ipc provides the ipc:// transport over unix domain sockets.
// Importing it, usually blank, makes the transport available.
package ipc

import (
	"net"

	"github.com/glimte/spsock-go/errcode"
	"github.com/glimte/spsock-go/internal/core"
)

func init() {
	core.RegisterTransport(transport{})
}

type transport struct{}

func (transport) Scheme() string { return "ipc" }

func (transport) Dial(addr string, cfg core.EndpointConfig) (core.Conn, error) {
	_, path, err := core.SplitAddr(addr)
	if err != nil {
		return nil, err
	}
	c, err := net.Dial("unix", path)
	if err != nil {
		return nil, errcode.FromNetError("dial", err)
	}
	return core.NewStreamConn(c, cfg), nil
}

func (transport) Listen(addr string, cfg core.EndpointConfig) (core.Acceptor, error) {
	_, path, err := core.SplitAddr(addr)
	if err != nil {
		return nil, err
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, errcode.FromNetError("listen", err)
	}
	return &acceptor{ln: ln, cfg: cfg, url: addr}, nil
}

type acceptor struct {
	ln  net.Listener
	cfg core.EndpointConfig
	url string
}

func (a *acceptor) Accept() (core.Conn, error) {
	c, err := a.ln.Accept()
	if err != nil {
		return nil, errcode.FromNetError("accept", err)
	}
	return core.NewStreamConn(c, a.cfg), nil
}

// Close also removes the socket file, so the address can be reused.
func (a *acceptor) Close() error { return a.ln.Close() }

func (a *acceptor) Addr() string { return a.url }
