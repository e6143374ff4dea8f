package core

import (
	"encoding/binary"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glimte/spsock-go/errcode"
)

// nextObjectID hands out process-wide identifiers for sockets, pipes and
// endpoints. Purely diagnostic; never exposed as an API handle.
var nextObjectID atomic.Uint32

// Socket is one engine socket for a single protocol variant. It owns its
// pipes, endpoints and protocol state machine, and releases all of them
// exactly once on Close.
type Socket struct {
	id    uint32
	proto protocol
	opts  *optionSet
	log   *slog.Logger

	mu        sync.Mutex
	pipes     map[uint32]*Pipe
	listeners map[uint32]*Listener
	dialers   map[uint32]*Dialer
	closed    bool
	done      chan struct{}
}

// Open creates a socket for the given protocol number. The logger receives
// the engine's diagnostic events; nil falls back to slog.Default.
func Open(protoNum uint16, logger *slog.Logger) (*Socket, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Socket{
		id:        nextObjectID.Add(1),
		opts:      newOptionSet(),
		pipes:     make(map[uint32]*Pipe),
		listeners: make(map[uint32]*Listener),
		dialers:   make(map[uint32]*Dialer),
		done:      make(chan struct{}),
	}
	ctor, ok := protocols[protoNum]
	if !ok {
		return nil, errcode.Newf(errcode.NotSupported, "open", "unknown protocol %d", protoNum)
	}
	s.proto = ctor(s)
	s.opts.set(OptSocketName, strconv.Itoa(int(s.id)))
	s.log = logger.With("socket", s.id, "proto", s.proto.name())
	s.log.Debug("socket opened")
	return s, nil
}

// protocols maps protocol numbers to constructors. Populated by the protocol
// files' init functions.
var protocols = map[uint16]func(*Socket) protocol{}

func registerProtocol(num uint16, ctor func(*Socket) protocol) {
	protocols[num] = ctor
}

// ID returns the socket's diagnostic identifier.
func (s *Socket) ID() uint32 { return s.id }

// Close shuts the socket down: endpoints stop, pipes disconnect, contexts and
// blocked callers observe Closed. The second and later calls report Closed.
func (s *Socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed("close")
	}
	s.closed = true
	close(s.done)
	listeners := make([]*Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	dialers := make([]*Dialer, 0, len(s.dialers))
	for _, d := range s.dialers {
		dialers = append(dialers, d)
	}
	pipes := make([]*Pipe, 0, len(s.pipes))
	for _, p := range s.pipes {
		pipes = append(pipes, p)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l.Close()
	}
	for _, d := range dialers {
		d.Close()
	}
	s.proto.close()
	for _, p := range pipes {
		p.close()
	}
	s.log.Debug("socket closed")
	return nil
}

// SendMsg sends a message, blocking up to the send-timeout option.
func (s *Socket) SendMsg(m *Msg) error {
	return s.SendMsgWait(m, OpWait{})
}

// SendMsgWait sends with explicit wait controls. A nil Timeout falls back to
// the socket's send-timeout option.
func (s *Socket) SendMsgWait(m *Msg, ow OpWait) error {
	w := ow.internal()
	var stop func()
	if w.timeout == nil {
		w.timeout, stop = s.opts.deadline(OptSendTimeout)
		defer stop()
	}
	return s.proto.sendMsg(m, w)
}

// RecvMsg receives a message, blocking up to the recv-timeout option.
func (s *Socket) RecvMsg() (*Msg, error) {
	return s.RecvMsgWait(OpWait{})
}

// RecvMsgWait receives with explicit wait controls.
func (s *Socket) RecvMsgWait(ow OpWait) (*Msg, error) {
	w := ow.internal()
	var stop func()
	if w.timeout == nil {
		w.timeout, stop = s.opts.deadline(OptRecvTimeout)
		defer stop()
	}
	return s.proto.recvMsg(w)
}

// TryRecvMsg receives without blocking; TryAgain when nothing is queued.
func (s *Socket) TryRecvMsg() (*Msg, error) {
	expired := make(chan time.Time)
	close(expired)
	m, err := s.proto.recvMsg(opWait{timeout: expired})
	if err != nil && errcode.IsTimeout(err) {
		return nil, errcode.New(errcode.TryAgain, "recv")
	}
	return m, err
}

// OpenContext opens an independent channel over this socket, for protocols
// that support contexts.
func (s *Socket) OpenContext() (Ctx, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, errClosed("ctx-open")
	}
	return s.proto.openContext()
}

// CtxSendMsg sends over a context, applying the socket's send-timeout when
// the caller supplies no deadline of its own.
func (s *Socket) CtxSendMsg(c Ctx, m *Msg, ow OpWait) error {
	if ow.Timeout == nil {
		t, stop := s.opts.deadline(OptSendTimeout)
		defer stop()
		ow.Timeout = t
	}
	return c.SendMsg(m, ow)
}

// CtxRecvMsg receives over a context, applying the socket's recv-timeout when
// the caller supplies no deadline of its own.
func (s *Socket) CtxRecvMsg(c Ctx, ow OpWait) (*Msg, error) {
	if ow.Timeout == nil {
		t, stop := s.opts.deadline(OptRecvTimeout)
		defer stop()
		ow.Timeout = t
	}
	return c.RecvMsg(ow)
}

// SetOpt stores an option value, giving the protocol first refusal for
// action options such as subscription changes. Validation of names and types
// happens above the engine.
func (s *Socket) SetOpt(name string, v any) error {
	if consumed, err := s.proto.setOpt(name, v); consumed {
		if err != nil {
			s.log.Warn("option rejected", "option", name, "error", err)
		}
		return err
	}
	s.opts.set(name, v)
	return nil
}

// GetOpt reads an option value or its default.
func (s *Socket) GetOpt(name string) (any, error) {
	if v, ok := s.opts.get(name); ok {
		return v, nil
	}
	return nil, errcode.Newf(errcode.NotSupported, "getopt", "option %q is not readable", name)
}

// inbound runs the handshake for a freshly accepted or dialed connection and
// attaches the resulting pipe. d is non-nil for dialed connections.
func (s *Socket) attachConn(conn Conn, d *Dialer) error {
	local := handshakeFrame(s.proto.number())
	if err := conn.SendFrame(local); err != nil {
		conn.Close()
		return err
	}
	peer, err := conn.RecvFrame()
	if err != nil {
		conn.Close()
		return err
	}
	peerProto, err := parseHandshake(peer)
	if err != nil {
		s.log.Warn("handshake rejected", "remote", conn.RemoteAddr(), "error", err)
		conn.Close()
		return err
	}
	if peerProto != s.proto.peerNumber() {
		err := errcode.Newf(errcode.ProtocolError, "handshake",
			"peer protocol %d, want %d", peerProto, s.proto.peerNumber())
		s.log.Warn("handshake rejected", "remote", conn.RemoteAddr(), "error", err)
		conn.Close()
		return err
	}

	p := newPipe(s, conn, d)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return errClosed("attach")
	}
	if !s.proto.attach(p) {
		s.mu.Unlock()
		s.log.Debug("pipe rejected by protocol", "remote", conn.RemoteAddr())
		conn.Close()
		return errcode.New(errcode.ProtocolError, "attach")
	}
	s.pipes[p.id] = p
	s.mu.Unlock()

	go p.readLoop()
	s.log.Debug("pipe attached", "pipe", p.id, "pipeUID", p.uid, "remote", conn.RemoteAddr())
	return nil
}

func (s *Socket) removePipe(p *Pipe) {
	s.mu.Lock()
	_, present := s.pipes[p.id]
	delete(s.pipes, p.id)
	closed := s.closed
	s.mu.Unlock()
	if !present {
		return
	}
	s.proto.detach(p)
	s.log.Debug("pipe detached", "pipe", p.id, "pipeUID", p.uid)
	if p.dialer != nil && !closed {
		p.dialer.pipeLost()
	}
}

// pipesSnapshot returns the currently attached pipes for broadcast sends.
func (s *Socket) pipesSnapshot() []*Pipe {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Pipe, 0, len(s.pipes))
	for _, p := range s.pipes {
		out = append(out, p)
	}
	return out
}

// sendToQueue enqueues with backpressure, preferring immediate success so
// non-blocking paths behave deterministically.
func (s *Socket) sendToQueue(q chan<- *Msg, m *Msg, w opWait, op string) error {
	select {
	case q <- m:
		return nil
	default:
	}
	select {
	case q <- m:
		return nil
	case <-s.done:
		return errClosed(op)
	case <-w.cancel:
		return errcode.New(errcode.Canceled, op)
	case <-w.timeout:
		return errcode.New(errcode.Timeout, op)
	}
}

// recvFromQueue dequeues with the same preference; extra is an optional
// per-context closure channel.
func (s *Socket) recvFromQueue(q <-chan *Msg, extra <-chan struct{}, w opWait, op string) (*Msg, error) {
	select {
	case m := <-q:
		return m, nil
	default:
	}
	select {
	case m := <-q:
		return m, nil
	case <-s.done:
		return nil, errClosed(op)
	case <-extra:
		return nil, errClosed(op)
	case <-w.cancel:
		return nil, errcode.New(errcode.Canceled, op)
	case <-w.timeout:
		return nil, errcode.New(errcode.Timeout, op)
	}
}

func be32(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}
