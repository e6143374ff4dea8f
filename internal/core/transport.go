package core

import (
	"crypto/tls"
	"encoding/binary"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/glimte/spsock-go/errcode"
)

// Conn is one framed duplex connection between two sockets. Implementations
// must allow one concurrent reader and one concurrent writer.
type Conn interface {
	// SendFrame writes one complete frame.
	SendFrame(frame []byte) error
	// RecvFrame reads one complete frame into a fresh buffer.
	RecvFrame() ([]byte, error)
	Close() error
	LocalAddr() string
	RemoteAddr() string
}

// Acceptor accepts inbound connections for one bound address.
type Acceptor interface {
	Accept() (Conn, error)
	Close() error
	// Addr returns the resolved bound address, including the scheme.
	Addr() string
}

// EndpointConfig carries per-endpoint configuration down to the transport.
type EndpointConfig struct {
	// TLSConfig configures transports that carry TLS. Ignored by others.
	TLSConfig *tls.Config
	// MaxRecvSize bounds inbound frame length; zero means the engine cap.
	MaxRecvSize int64
}

// Transport binds a URL scheme to a way of making and accepting connections.
type Transport interface {
	Scheme() string
	Dial(addr string, cfg EndpointConfig) (Conn, error)
	Listen(addr string, cfg EndpointConfig) (Acceptor, error)
}

var (
	transportMu sync.RWMutex
	transports  = map[string]Transport{}
)

// RegisterTransport makes a transport available to every socket in the
// process. Typically called from a transport package's init; registering the
// same scheme twice keeps the last registration.
func RegisterTransport(t Transport) {
	transportMu.Lock()
	defer transportMu.Unlock()
	transports[t.Scheme()] = t
}

func transportFor(scheme string) (Transport, bool) {
	transportMu.RLock()
	defer transportMu.RUnlock()
	t, ok := transports[scheme]
	return t, ok
}

// SplitAddr splits a "scheme://rest" address. The rest may be empty for
// inproc-style names but the scheme may not.
func SplitAddr(addr string) (scheme, rest string, err error) {
	scheme, rest, ok := strings.Cut(addr, "://")
	if !ok || scheme == "" {
		return "", "", errcode.Newf(errcode.InvalidArgument, "addr", "malformed address %q", addr)
	}
	return scheme, rest, nil
}

// maxFrame caps frame length when no recv-size-max option is set. Large
// enough for any sane payload, small enough to reject garbage prefixes from
// a peer speaking another protocol.
const maxFrame = 1 << 28

// streamConn frames a byte stream with a big-endian uint32 length prefix.
type streamConn struct {
	c       net.Conn
	maxRecv int64
	wmu     sync.Mutex
}

// NewStreamConn wraps a stream connection in length-prefix framing. Used by
// the tcp, ipc and tls transports.
func NewStreamConn(c net.Conn, cfg EndpointConfig) Conn {
	return &streamConn{c: c, maxRecv: cfg.MaxRecvSize}
}

func (s *streamConn) SendFrame(frame []byte) error {
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(frame)))

	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := s.c.Write(prefix[:]); err != nil {
		return errcode.FromNetError("write", err)
	}
	if len(frame) > 0 {
		if _, err := s.c.Write(frame); err != nil {
			return errcode.FromNetError("write", err)
		}
	}
	return nil
}

func (s *streamConn) RecvFrame() ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(s.c, prefix[:]); err != nil {
		return nil, errcode.FromNetError("read", err)
	}
	n := int64(binary.BigEndian.Uint32(prefix[:]))
	limit := s.maxRecv
	if limit <= 0 {
		limit = maxFrame
	}
	if n > limit {
		return nil, errcode.Newf(errcode.ProtocolError, "read", "frame of %d bytes exceeds limit %d", n, limit)
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(s.c, frame); err != nil {
		return nil, errcode.FromNetError("read", err)
	}
	return frame, nil
}

func (s *streamConn) Close() error { return s.c.Close() }

func (s *streamConn) LocalAddr() string { return s.c.LocalAddr().String() }

func (s *streamConn) RemoteAddr() string { return s.c.RemoteAddr().String() }
