package core

import (
	"sync"

	"github.com/glimte/spsock-go/errcode"
)

// The inproc transport connects sockets inside one process through paired
// in-memory queues. It is always available; networked transports register
// themselves by being linked in.

func init() {
	RegisterTransport(&inprocTransport{})
}

var inprocReg = struct {
	mu    sync.Mutex
	names map[string]*inprocAcceptor
}{names: make(map[string]*inprocAcceptor)}

type inprocTransport struct{}

func (*inprocTransport) Scheme() string { return "inproc" }

func (*inprocTransport) Listen(addr string, _ EndpointConfig) (Acceptor, error) {
	inprocReg.mu.Lock()
	defer inprocReg.mu.Unlock()
	if _, exists := inprocReg.names[addr]; exists {
		return nil, errcode.Newf(errcode.AddressInUse, "listen", "%s", addr)
	}
	a := &inprocAcceptor{
		addr:    addr,
		pending: make(chan Conn, 16),
		closed:  make(chan struct{}),
	}
	inprocReg.names[addr] = a
	return a, nil
}

func (*inprocTransport) Dial(addr string, _ EndpointConfig) (Conn, error) {
	inprocReg.mu.Lock()
	a := inprocReg.names[addr]
	inprocReg.mu.Unlock()
	if a == nil {
		return nil, errcode.Newf(errcode.ConnectionRefused, "dial", "no listener at %s", addr)
	}
	client, server := inprocPair(addr)
	select {
	case a.pending <- server:
		return client, nil
	case <-a.closed:
		return nil, errcode.Newf(errcode.ConnectionRefused, "dial", "no listener at %s", addr)
	}
}

type inprocAcceptor struct {
	addr      string
	pending   chan Conn
	closed    chan struct{}
	closeOnce sync.Once
}

func (a *inprocAcceptor) Accept() (Conn, error) {
	select {
	case c := <-a.pending:
		return c, nil
	case <-a.closed:
		return nil, errcode.New(errcode.Closed, "accept")
	}
}

func (a *inprocAcceptor) Close() error {
	a.closeOnce.Do(func() {
		inprocReg.mu.Lock()
		if inprocReg.names[a.addr] == a {
			delete(inprocReg.names, a.addr)
		}
		inprocReg.mu.Unlock()
		close(a.closed)
	})
	return nil
}

func (a *inprocAcceptor) Addr() string { return a.addr }

// inprocConn is one direction pair of an in-memory connection.
type inprocConn struct {
	addr      string
	out       chan<- []byte
	in        <-chan []byte
	localDone chan struct{}
	peerDone  chan struct{}
	closeOnce sync.Once
}

func inprocPair(addr string) (Conn, Conn) {
	ab := make(chan []byte, 16)
	ba := make(chan []byte, 16)
	aDone := make(chan struct{})
	bDone := make(chan struct{})
	a := &inprocConn{addr: addr, out: ab, in: ba, localDone: aDone, peerDone: bDone}
	b := &inprocConn{addr: addr, out: ba, in: ab, localDone: bDone, peerDone: aDone}
	return a, b
}

func (c *inprocConn) SendFrame(frame []byte) error {
	// Copy: the sender may share the backing array across pipes.
	buf := append([]byte(nil), frame...)
	select {
	case c.out <- buf:
		return nil
	case <-c.localDone:
		return errcode.New(errcode.Closed, "write")
	case <-c.peerDone:
		return errcode.New(errcode.ConnectionReset, "write")
	}
}

func (c *inprocConn) RecvFrame() ([]byte, error) {
	select {
	case f := <-c.in:
		return f, nil
	default:
	}
	select {
	case f := <-c.in:
		return f, nil
	case <-c.localDone:
		return nil, errcode.New(errcode.Closed, "read")
	case <-c.peerDone:
		// Drain what the peer wrote before closing.
		select {
		case f := <-c.in:
			return f, nil
		default:
			return nil, errcode.New(errcode.ConnectionReset, "read")
		}
	}
}

func (c *inprocConn) Close() error {
	c.closeOnce.Do(func() { close(c.localDone) })
	return nil
}

func (c *inprocConn) LocalAddr() string { return c.addr }

func (c *inprocConn) RemoteAddr() string { return c.addr }
