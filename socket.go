package spsock

import (
	"crypto/tls"
	"fmt"
	"log/slog"

	"github.com/glimte/spsock-go/errcode"
	"github.com/glimte/spsock-go/internal/core"
)

// Protocol identifies one scalability-protocol variant.
type Protocol int

const (
	Req0 Protocol = iota
	Rep0
	Pub0
	Sub0
	Push0
	Pull0
	Bus0
	Surveyor0
	Respondent0
	Pair0
	Pair1
)

var protocolNames = map[Protocol]string{
	Req0:        "req0",
	Rep0:        "rep0",
	Pub0:        "pub0",
	Sub0:        "sub0",
	Push0:       "push0",
	Pull0:       "pull0",
	Bus0:        "bus0",
	Surveyor0:   "surveyor0",
	Respondent0: "respondent0",
	Pair0:       "pair0",
	Pair1:       "pair1",
}

func (p Protocol) String() string {
	if n, ok := protocolNames[p]; ok {
		return n
	}
	return fmt.Sprintf("protocol(%d)", int(p))
}

func (p Protocol) number() (uint16, bool) {
	switch p {
	case Req0:
		return core.ProtoReq, true
	case Rep0:
		return core.ProtoRep, true
	case Pub0:
		return core.ProtoPub, true
	case Sub0:
		return core.ProtoSub, true
	case Push0:
		return core.ProtoPush, true
	case Pull0:
		return core.ProtoPull, true
	case Bus0:
		return core.ProtoBus, true
	case Surveyor0:
		return core.ProtoSurveyor, true
	case Respondent0:
		return core.ProtoRespondent, true
	case Pair0:
		return core.ProtoPair, true
	case Pair1:
		return core.ProtoPair1, true
	}
	return 0, false
}

// Socket owns one engine socket for a single protocol variant. It is safe
// for concurrent use; send and receive paths carry no socket-wide lock in
// this layer.
type Socket struct {
	proto Protocol
	s     *core.Socket
}

// SocketOption configures a socket at construction.
type SocketOption func(*socketConfig)

type socketConfig struct {
	logger *slog.Logger
}

// WithLogger directs the socket's diagnostic events to the given logger
// instead of slog.Default.
func WithLogger(l *slog.Logger) SocketOption {
	return func(c *socketConfig) { c.logger = l }
}

// NewSocket opens a socket for the given protocol variant.
func NewSocket(proto Protocol, opts ...SocketOption) (*Socket, error) {
	var cfg socketConfig
	for _, o := range opts {
		o(&cfg)
	}
	num, ok := proto.number()
	if !ok {
		return nil, errcode.Newf(errcode.NotSupported, "open", "unknown protocol %d", int(proto))
	}
	cs, err := core.Open(num, cfg.logger)
	if err != nil {
		return nil, err
	}
	return &Socket{proto: proto, s: cs}, nil
}

// NewReq0 opens a request socket.
func NewReq0(opts ...SocketOption) (*Socket, error) { return NewSocket(Req0, opts...) }

// NewRep0 opens a reply socket.
func NewRep0(opts ...SocketOption) (*Socket, error) { return NewSocket(Rep0, opts...) }

// NewPub0 opens a publisher socket.
func NewPub0(opts ...SocketOption) (*Socket, error) { return NewSocket(Pub0, opts...) }

// NewSub0 opens a subscriber socket. It receives nothing until a topic is
// subscribed; see Subscribe.
func NewSub0(opts ...SocketOption) (*Socket, error) { return NewSocket(Sub0, opts...) }

// NewPush0 opens a push socket.
func NewPush0(opts ...SocketOption) (*Socket, error) { return NewSocket(Push0, opts...) }

// NewPull0 opens a pull socket.
func NewPull0(opts ...SocketOption) (*Socket, error) { return NewSocket(Pull0, opts...) }

// NewBus0 opens a bus socket.
func NewBus0(opts ...SocketOption) (*Socket, error) { return NewSocket(Bus0, opts...) }

// NewSurveyor0 opens a surveyor socket.
func NewSurveyor0(opts ...SocketOption) (*Socket, error) { return NewSocket(Surveyor0, opts...) }

// NewRespondent0 opens a respondent socket.
func NewRespondent0(opts ...SocketOption) (*Socket, error) { return NewSocket(Respondent0, opts...) }

// NewPair0 opens a one-to-one pair socket.
func NewPair0(opts ...SocketOption) (*Socket, error) { return NewSocket(Pair0, opts...) }

// NewPair1 opens a pair socket with hop counting.
func NewPair1(opts ...SocketOption) (*Socket, error) { return NewSocket(Pair1, opts...) }

// Protocol reports the socket's protocol variant.
func (s *Socket) Protocol() Protocol { return s.proto }

// Close shuts the socket down. Endpoints, contexts and pending operations
// derived from it observe Closed; a second Close reports Closed as well.
func (s *Socket) Close() error { return s.s.Close() }

// SendMsg sends a message. On success the message is consumed and must not
// be used again; on failure it stays intact and owned by the caller. Blocks
// up to the send-timeout option.
func (s *Socket) SendMsg(m *Message) error {
	raw, err := m.ref("send")
	if err != nil {
		return err
	}
	if err := s.s.SendMsg(raw); err != nil {
		return err
	}
	m.detach()
	return nil
}

// RecvMsg receives a message, blocking until one arrives, the recv-timeout
// option elapses, or the socket closes. The caller owns the result.
func (s *Socket) RecvMsg() (*Message, error) {
	raw, err := s.s.RecvMsg()
	if err != nil {
		return nil, err
	}
	return wrapMsg(raw), nil
}

// TryRecvMsg receives without blocking. TryAgain reports an empty queue.
func (s *Socket) TryRecvMsg() (*Message, error) {
	raw, err := s.s.TryRecvMsg()
	if err != nil {
		return nil, err
	}
	return wrapMsg(raw), nil
}

// Send sends b as the body of a fresh message.
func (s *Socket) Send(b []byte) error {
	return s.s.SendMsg(&core.Msg{Body: append([]byte(nil), b...)})
}

// Recv receives a message and returns its body.
func (s *Socket) Recv() ([]byte, error) {
	raw, err := s.s.RecvMsg()
	if err != nil {
		return nil, err
	}
	return raw.Body, nil
}

// ListenOptions carries per-endpoint settings for Listen.
type ListenOptions struct {
	// TLSConfig applies to TLS-capable transports.
	TLSConfig *tls.Config
	// MaxRecvSize overrides the socket's recv-size-max for this endpoint.
	// Zero inherits the socket option.
	MaxRecvSize int64
}

// DialOptions carries per-endpoint settings for Dial.
type DialOptions struct {
	TLSConfig   *tls.Config
	MaxRecvSize int64
	// NonBlocking returns immediately and establishes the connection in the
	// background with the socket's reconnect backoff.
	NonBlocking bool
}

// Listen binds the socket to addr and accepts connections until the listener
// or the socket closes.
func (s *Socket) Listen(addr string) (*Listener, error) {
	return s.ListenWith(addr, ListenOptions{})
}

// ListenWith is Listen with per-endpoint options.
func (s *Socket) ListenWith(addr string, opts ListenOptions) (*Listener, error) {
	cl, err := s.s.Listen(addr, core.EndpointConfig{
		TLSConfig:   opts.TLSConfig,
		MaxRecvSize: opts.MaxRecvSize,
	})
	if err != nil {
		return nil, err
	}
	return &Listener{l: cl, url: addr}, nil
}

// Dial connects the socket to addr, blocking until the first connection is
// established or fails. Lost connections are redialed in the background.
func (s *Socket) Dial(addr string) (*Dialer, error) {
	return s.DialWith(addr, DialOptions{})
}

// DialWith is Dial with per-endpoint options.
func (s *Socket) DialWith(addr string, opts DialOptions) (*Dialer, error) {
	cd, err := s.s.Dial(addr, core.EndpointConfig{
		TLSConfig:   opts.TLSConfig,
		MaxRecvSize: opts.MaxRecvSize,
	}, !opts.NonBlocking)
	if err != nil {
		return nil, err
	}
	return &Dialer{d: cd, url: addr}, nil
}

// OpenContext opens an independent logical channel over the socket, for
// protocols with per-exchange state (req0, rep0, surveyor0, respondent0).
func (s *Socket) OpenContext() (*Context, error) {
	cc, err := s.s.OpenContext()
	if err != nil {
		return nil, err
	}
	return &Context{s: s.s, c: cc}, nil
}
