// Package tlstcp provides the tls+tcp:// transport: TCP wrapped in TLS.
// Endpoints must carry a *tls.Config; importing the package, usually blank,
// makes the transport available.
package tlstcp

import (
	"crypto/tls"
	"net"

	"github.com/glimte/spsock-go/errcode"
	"github.com/glimte/spsock-go/internal/core"
)

func init() {
	core.RegisterTransport(transport{})
}

type transport struct{}

func (transport) Scheme() string { return "tls+tcp" }

func (transport) Dial(addr string, cfg core.EndpointConfig) (core.Conn, error) {
	_, host, err := core.SplitAddr(addr)
	if err != nil {
		return nil, err
	}
	if cfg.TLSConfig == nil {
		return nil, errcode.Newf(errcode.InvalidArgument, "dial", "tls+tcp requires a TLS config")
	}
	c, err := tls.Dial("tcp", host, cfg.TLSConfig)
	if err != nil {
		return nil, errcode.FromNetError("dial", err)
	}
	return core.NewStreamConn(c, cfg), nil
}

func (transport) Listen(addr string, cfg core.EndpointConfig) (core.Acceptor, error) {
	_, host, err := core.SplitAddr(addr)
	if err != nil {
		return nil, err
	}
	if cfg.TLSConfig == nil {
		return nil, errcode.Newf(errcode.InvalidArgument, "listen", "tls+tcp requires a TLS config")
	}
	ln, err := tls.Listen("tcp", host, cfg.TLSConfig)
	if err != nil {
		return nil, errcode.FromNetError("listen", err)
	}
	return &acceptor{ln: ln, cfg: cfg}, nil
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
	return core.NewStreamConn(c, a.cfg), nil
}

func (a *acceptor) Close() error { return a.ln.Close() }

func (a *acceptor) Addr() string { return "tls+tcp://" + a.ln.Addr().String() }
