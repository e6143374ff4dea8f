package core

import (
	"encoding/binary"
	"sync"

	"github.com/google/uuid"

	"github.com/glimte/spsock-go/errcode"
)

// handshake layout: 0x00 'S' 'P' 0x00, protocol number (u16be), reserved.
const handshakeLen = 8

func handshakeFrame(proto uint16) []byte {
	f := make([]byte, handshakeLen)
	f[1] = 'S'
	f[2] = 'P'
	binary.BigEndian.PutUint16(f[4:6], proto)
	return f
}

func parseHandshake(f []byte) (uint16, error) {
	if len(f) != handshakeLen || f[0] != 0 || f[1] != 'S' || f[2] != 'P' || f[3] != 0 {
		return 0, errcode.New(errcode.ProtocolError, "handshake")
	}
	return binary.BigEndian.Uint16(f[4:6]), nil
}

// Pipe is one attached connection. The protocol decides at attach time
// whether its writer drains a protocol-wide shared queue (load balancing),
// the per-pipe queue (broadcast), or both.
type Pipe struct {
	id     uint32
	uid    string
	s      *Socket
	conn   Conn
	dialer *Dialer // set when this pipe came from a dialer

	sendQ     chan *Msg
	closed    chan struct{}
	closeOnce sync.Once
}

func newPipe(s *Socket, conn Conn, d *Dialer) *Pipe {
	return &Pipe{
		id:     nextObjectID.Add(1),
		uid:    uuid.New().String(),
		s:      s,
		conn:   conn,
		dialer: d,
		sendQ:  make(chan *Msg, s.opts.integer(OptSendBuffer)),
		closed: make(chan struct{}),
	}
}

// startWriter launches the write loop. shared may be nil for protocols that
// only broadcast through the per-pipe queue.
func (p *Pipe) startWriter(shared <-chan *Msg) {
	go p.writeLoop(shared)
}

func (p *Pipe) writeLoop(shared <-chan *Msg) {
	for {
		select {
		case <-p.closed:
			return
		case <-p.s.done:
			return
		case m := <-shared:
			if !p.write(m) {
				return
			}
		case m := <-p.sendQ:
			if !p.write(m) {
				return
			}
		}
	}
}

func (p *Pipe) write(m *Msg) bool {
	if err := p.conn.SendFrame(m.encode()); err != nil {
		p.s.log.Debug("pipe write failed", "pipe", p.id, "error", err)
		p.close()
		return false
	}
	return true
}

func (p *Pipe) readLoop() {
	defer p.close()
	for {
		frame, err := p.conn.RecvFrame()
		if err != nil {
			select {
			case <-p.closed:
			case <-p.s.done:
			default:
				p.s.log.Debug("pipe read failed", "pipe", p.id, "error", err)
			}
			return
		}
		p.s.proto.deliver(p, frame)
	}
}

// close tears the pipe down exactly once and detaches it from the socket.
func (p *Pipe) close() {
	p.closeOnce.Do(func() {
		close(p.closed)
		p.conn.Close()
		p.s.removePipe(p)
	})
}

// enqueue offers a message to the per-pipe queue without blocking. Broadcast
// protocols drop to slow or dead pipes.
func (p *Pipe) enqueue(m *Msg) bool {
	select {
	case p.sendQ <- m:
		return true
	default:
		return false
	}
}
